package rtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"
)

var (
	ErrEmptySDP     = errors.New("empty sdp")
	ErrSDPType      = errors.New("sdp type does not match message")
	ErrNoMedia      = errors.New("sdp has no media sections")
	ErrBadCandidate = errors.New("malformed ice candidate")
)

// Validator checks relayed offers, answers and candidates before they are
// forwarded. It keeps no state.
type Validator struct{}

func NewValidator() Validator { return Validator{} }

// ValidateDescription parses raw as a session description whose type fits
// the message kind: an offer for webrtc-offer, an answer or provisional
// answer for webrtc-answer.
func (Validator) ValidateDescription(kind string, raw json.RawMessage) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return fmt.Errorf("decode session description: %w", err)
	}
	if strings.TrimSpace(desc.SDP) == "" {
		return ErrEmptySDP
	}
	switch kind {
	case "webrtc-offer":
		if desc.Type != webrtc.SDPTypeOffer {
			return ErrSDPType
		}
	case "webrtc-answer":
		if desc.Type != webrtc.SDPTypeAnswer && desc.Type != webrtc.SDPTypePranswer {
			return ErrSDPType
		}
	}
	parsed, err := desc.Unmarshal()
	if err != nil {
		return fmt.Errorf("parse sdp: %w", err)
	}
	if len(parsed.MediaDescriptions) == 0 {
		return ErrNoMedia
	}
	return nil
}

// ValidateCandidate accepts a candidate init. An empty candidate string
// marks end of candidates and is allowed.
func (Validator) ValidateCandidate(raw json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &init); err != nil {
		return fmt.Errorf("decode ice candidate: %w", err)
	}
	if init.Candidate == "" {
		return nil
	}
	if _, err := ice.UnmarshalCandidate(strings.TrimPrefix(init.Candidate, "candidate:")); err != nil {
		return fmt.Errorf("%w: %v", ErrBadCandidate, err)
	}
	return nil
}
