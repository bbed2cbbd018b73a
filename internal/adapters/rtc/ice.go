// Package rtc holds the WebRTC pieces the coordinator needs without
// terminating media: ICE server settings for clients and checks on the
// session descriptions and candidates it relays.
package rtc

import (
	"fmt"
	"strings"

	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type ICEConfig struct {
	STUN           []string
	TURNServers    string
	TURNUsername   string
	TURNCredential string
}

// ICEServers builds the list handed to browsers. TURN entries are added
// only when credentials are configured; malformed URLs are skipped.
func ICEServers(cfg ICEConfig) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	for _, u := range cfg.STUN {
		if !validURL(u) {
			continue
		}
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	if cfg.TURNServers == "" || cfg.TURNUsername == "" || cfg.TURNCredential == "" {
		return servers
	}
	var turn []string
	for _, host := range strings.Split(cfg.TURNServers, ",") {
		host = strings.TrimSpace(host)
		if host == "" {
			continue
		}
		if !strings.HasPrefix(host, "turn:") && !strings.HasPrefix(host, "turns:") {
			host = "turn:" + host
		}
		if validURL(host) {
			turn = append(turn, host)
		}
	}
	if len(turn) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:       turn,
			Username:   cfg.TURNUsername,
			Credential: cfg.TURNCredential,
		})
	}
	return servers
}

// Configuration wraps ICEServers for a pion peer connection.
func Configuration(cfg ICEConfig) webrtc.Configuration {
	return webrtc.Configuration{ICEServers: ICEServers(cfg)}
}

func validURL(raw string) bool {
	if _, err := stun.ParseURI(raw); err != nil {
		log.Warn().Err(err).Str("module", "rtc").Str("url", raw).Msg("skipping ice server")
		return false
	}
	return true
}

// ValidateICEConfig reports the first malformed server url.
func ValidateICEConfig(cfg ICEConfig) error {
	for _, u := range cfg.STUN {
		if _, err := stun.ParseURI(u); err != nil {
			return fmt.Errorf("ice server %q: %w", u, err)
		}
	}
	return nil
}
