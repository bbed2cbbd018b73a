// Package http is the REST surface the parent application calls to book
// sessions, run streams and read billing state.
package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dkeye/Liveroom/internal/adapters/rtc"
	"github.com/dkeye/Liveroom/internal/app/orch"
	"github.com/dkeye/Liveroom/internal/billing"
	"github.com/dkeye/Liveroom/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	probeTimeout    = 3 * time.Second
)

// Probe checks one dependency for the health endpoint.
type Probe func(ctx context.Context) error

type API struct {
	orch    *orch.Orchestrator
	ice     rtc.ICEConfig
	probes  map[string]Probe
	started time.Time
}

func NewAPI(o *orch.Orchestrator, ice rtc.ICEConfig, probes map[string]Probe) *API {
	return &API{orch: o, ice: ice, probes: probes, started: time.Now()}
}

// Register mounts every route on r, normally the /api group.
func (a *API) Register(r gin.IRouter) {
	health := r.Group("/health")
	health.GET("", a.health)
	health.GET("/ping", a.ping)
	health.GET("/webrtc", a.webrtcHealth)
	health.GET("/billing", a.billingHealth)

	r.GET("/ice-servers", a.iceServers)
	r.GET("/stats", a.stats)

	sessions := r.Group("/sessions")
	sessions.POST("/create", a.createSession)
	sessions.POST("/:sessionId/start", a.startBilling)
	sessions.POST("/:sessionId/end", a.endSession)
	sessions.GET("/:sessionId/status", a.sessionStatus)

	streams := r.Group("/streams")
	streams.POST("/create", a.createStream)
	streams.GET("/active", a.activeStreams)
	streams.POST("/:streamId/gift", a.sendGift)
	streams.POST("/:streamId/end", a.endStream)
	streams.GET("/:streamId/status", a.streamStatus)
	streams.GET("/:streamId/gifts", a.streamGifts)

	r.GET("/billing/session/:sessionId", a.billingInfo)
	r.POST("/webhooks/external", a.externalWebhook)
}

func (a *API) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	out, err := a.orch.CreateSession(c.Request.Context(), orch.CreateSessionInput{
		ExternalID:        req.ExternalID,
		ClientID:          req.ClientID,
		ReaderID:          req.ReaderID,
		Type:              req.SessionType,
		BillingMode:       req.BillingType,
		Rate:              req.Rate,
		DurationMinutes:   req.Duration,
		ClientCustomerRef: req.ClientStripeCustomerID,
		ReaderPayoutRef:   req.ReaderStripeAccountID,
		Metadata:          req.Metadata,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"session": toSessionDTO(out.Session),
		"roomId":  out.Session.RoomID,
		"billing": out.Billing,
	})
}

func (a *API) startBilling(c *gin.Context) {
	var req startBillingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := a.orch.StartBilling(c.Request.Context(), c.Param("sessionId"), req.ClientStripeCustomerID, req.ReaderStripeAccountID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "billing": res})
}

func (a *API) endSession(c *gin.Context) {
	var req endSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	out, err := a.orch.EndSession(c.Request.Context(), c.Param("sessionId"), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": toSessionDTO(out.Session),
		"billing": out.Billing,
	})
}

func (a *API) sessionStatus(c *gin.Context) {
	view, err := a.orch.SessionStatus(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		writeError(c, err)
		return
	}
	resp := gin.H{
		"success": true,
		"session": toSessionDTO(view.Session),
		"room":    toRoomDTO(view.Room),
	}
	if view.Billing != nil {
		resp["billing"] = toBillingDTO(*view.Billing)
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) billingInfo(c *gin.Context) {
	bs, ok := a.orch.BillingInfo(domain.SessionID(c.Param("sessionId")))
	if !ok {
		fail(c, http.StatusNotFound, "No active billing for session")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "billing": toBillingDTO(bs)})
}

func (a *API) createStream(c *gin.Context) {
	var req createStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	st, err := a.orch.CreateStream(c.Request.Context(), orch.CreateStreamInput{
		ReaderID:    req.ReaderID,
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Private:     req.IsPrivate,
		Metadata:    req.Metadata,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"stream":  toStreamDTO(st, 0),
		"roomId":  st.RoomID,
	})
}

func (a *API) sendGift(c *gin.Context) {
	var req giftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	g, err := a.orch.SendGift(c.Request.Context(), orch.GiftInput{
		StreamRef:         c.Param("streamId"),
		SenderID:          req.SenderID,
		SenderName:        req.SenderName,
		GiftType:          req.GiftType,
		Amount:            req.Amount,
		Message:           req.Message,
		SenderCustomerRef: req.SenderStripeCustomerID,
		ReceiverPayoutRef: req.ReaderStripeAccountID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "gift": toGiftDTO(g)})
}

func (a *API) endStream(c *gin.Context) {
	var req endStreamRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	out, err := a.orch.EndStream(c.Request.Context(), c.Param("streamId"), req.ReaderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stream":  toStreamDTO(out.Stream, 0),
		"summary": gin.H{
			"giftCount":  out.Summary.Count,
			"totalGifts": out.Summary.Amount,
			"lastGiftAt": optTime(out.Summary.LastGift),
			"duration":   int64(out.Stream.EndedAt.Sub(out.Stream.StartedAt).Seconds()),
		},
	})
}

func (a *API) streamStatus(c *gin.Context) {
	view, err := a.orch.StreamStatus(c.Request.Context(), c.Param("streamId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stream":  toStreamDTO(view.Stream, view.ViewerCount),
		"room":    toRoomDTO(view.Room),
	})
}

func (a *API) activeStreams(c *gin.Context) {
	limit, offset := paging(c)
	views, err := a.orch.ActiveStreams(c.Request.Context(), c.Query("category"), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"streams": toStreamDTOs(views),
		"count":   len(views),
	})
}

func (a *API) streamGifts(c *gin.Context) {
	limit, offset := paging(c)
	gifts, err := a.orch.StreamGifts(c.Request.Context(), c.Param("streamId"), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]giftDTO, 0, len(gifts))
	for _, g := range gifts {
		out = append(out, toGiftDTO(g))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "gifts": out, "count": len(out)})
}

// externalWebhook acknowledges callbacks from the parent application.
func (a *API) externalWebhook(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	log.Info().Str("module", "transport.http").Any("type", body["type"]).Msg("external webhook received")
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (a *API) iceServers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"iceServers": rtc.ICEServers(a.ice)})
}

func (a *API) stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": a.orch.Stats(c.Request.Context())})
}

func (a *API) ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
}

// health runs every probe; any failure reports degraded with 503.
func (a *API) health(c *gin.Context) {
	components := make(map[string]string, len(a.probes))
	healthy := true
	for name, probe := range a.probes {
		ctx, cancel := context.WithTimeout(c.Request.Context(), probeTimeout)
		err := probe(ctx)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("module", "transport.http").Str("component", name).Msg("health probe failed")
			components[name] = "unhealthy: " + err.Error()
			healthy = false
			continue
		}
		components[name] = "healthy"
	}
	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":     status,
		"timestamp":  time.Now().UTC(),
		"uptime":     int64(time.Since(a.started).Seconds()),
		"components": components,
	})
}

func (a *API) webrtcHealth(c *gin.Context) {
	st := a.orch.Stats(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"connections": st.Connections,
		"rooms":       st.RoomCount,
		"iceServers":  len(rtc.ICEServers(a.ice)),
	})
}

func (a *API) billingHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"billing": a.orch.Billing.Stats(c.Request.Context()),
	})
}

func paging(c *gin.Context) (limit, offset int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil || limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset, err = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}

func fail(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{"success": false, "error": msg})
}

// writeError maps orchestrator and billing errors onto status codes.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, orch.ErrInvalidInput), errors.Is(err, billing.ErrInvalidRequest):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, orch.ErrStreamInactive):
		fail(c, http.StatusBadRequest, "Stream is not active")
	case errors.Is(err, domain.ErrSessionNotFound):
		fail(c, http.StatusNotFound, "Session not found")
	case errors.Is(err, domain.ErrStreamNotFound):
		fail(c, http.StatusNotFound, "Stream not found")
	case errors.Is(err, billing.ErrSessionExists):
		fail(c, http.StatusConflict, err.Error())
	case errors.Is(err, billing.ErrPaymentDeclined):
		fail(c, http.StatusPaymentRequired, "Payment declined")
	case errors.Is(err, billing.ErrGateway):
		log.Error().Err(err).Str("module", "transport.http").Str("path", c.FullPath()).Msg("payment gateway error")
		fail(c, http.StatusBadGateway, "Payment processing failed")
	default:
		log.Error().Err(err).Str("module", "transport.http").Str("path", c.FullPath()).Msg("request failed")
		fail(c, http.StatusInternalServerError, "Internal server error")
	}
}
