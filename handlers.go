package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"medivoice/models"
	"medivoice/services"
)

// server bundles the dependencies the HTTP handlers need. twilio is set
// only when the Twilio trunk variant of the telephony adapter is selected.
type server struct {
	controller *services.Controller
	registry   *services.ProviderRegistry
	twilio     *services.TwilioAdapter
}

func (s *server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type incomingCallRequest struct {
	ChannelID     string `json:"channel_id" binding:"required"`
	CallerID      string `json:"caller_id"`
	Language      string `json:"language"`
	VoiceProvider string `json:"voice_provider"`
}

// incomingCall registers a ringing channel and returns the new session.
func (s *server) incomingCall(c *gin.Context) {
	var req incomingCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel_id is required"})
		return
	}
	sess, greeting, err := s.controller.HandleIncoming(req.ChannelID, req.CallerID, req.Language, req.VoiceProvider)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrDuplicateSession):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrUnknownProvider), errors.Is(err, services.ErrUnsupportedLanguage):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrChannelNotFound):
			c.JSON(http.StatusGone, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot handle call atm"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": sess.SessionID,
		"stage":      sess.Stage(),
		"greeting":   greeting,
	})
}

// processAudio runs one conversation turn and streams back the synthesized
// reply as WAV.
func (s *server) processAudio(c *gin.Context) {
	sessionID := c.PostForm("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}
	file, _, err := c.Request.FormFile("audio")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "audio file is required"})
		return
	}
	defer file.Close()
	audio, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read audio"})
		return
	}

	var sessionData map[string]string
	if raw := c.PostForm("session_data"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &sessionData); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session_data must be a JSON object of strings"})
			return
		}
	}
	if err := s.controller.ApplyTurnMetadata(sessionID, c.PostForm("voice_provider"), sessionData); err != nil {
		switch {
		case errors.Is(err, services.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrProviderMismatch):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot apply turn metadata"})
		}
		return
	}

	wav, err := s.controller.ProcessTurn(sessionID, audio, c.PostForm("language"))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrCallNotActive):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrClientSideProvider):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrUnsupportedLanguage):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrProviderUnauthorized):
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrProviderUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "turn processing failed"})
		}
		return
	}
	c.Data(http.StatusOK, "audio/wav", wav)
}

type outboundCallRequest struct {
	PhoneNumber string `json:"phone_number" binding:"required"`
	Message     string `json:"message" binding:"required"`
}

// outboundCall originates a call and speaks the message.
func (s *server) outboundCall(c *gin.Context) {
	var req outboundCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phone_number and message are required"})
		return
	}
	sess, err := s.controller.HandleOutbound(req.PhoneNumber, req.Message)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrChannelNotFound):
			c.JSON(http.StatusGone, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrDuplicateSession):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": "cannot place call atm"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": sess.SessionID,
		"channel_id": sess.ChannelID,
	})
}

// activeCalls lists all active session summaries.
func (s *server) activeCalls(c *gin.Context) {
	c.JSON(http.StatusOK, s.controller.ListActive())
}

type endCallRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// endCall forces a session to close.
func (s *server) endCall(c *gin.Context) {
	var req endCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}
	if err := s.controller.EndCall(req.SessionID); err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot end call"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed", "session_id": req.SessionID})
}

// twilioVoiceWebhook answers an incoming Twilio call: it creates the
// session and replies with a TwiML document speaking the greeting.
func (s *server) twilioVoiceWebhook(c *gin.Context) {
	callSID := c.PostForm("CallSid")
	if callSID == "" {
		c.String(http.StatusBadRequest, "CallSid is required")
		return
	}
	_, greeting, err := s.controller.HandleIncoming(callSID, c.PostForm("From"), "", "")
	if err != nil {
		greeting = "We cannot take your call right now. Please try again later. Goodbye."
	}
	doc, err := s.twilio.AnswerTwiML(greeting)
	if err != nil {
		c.String(http.StatusInternalServerError, "cannot build answer document")
		return
	}
	c.Data(http.StatusOK, "application/xml", []byte(doc))
}

// twilioStatusWebhook forwards Twilio status callbacks into the call event
// stream, so hangups and answers reach the controller.
func (s *server) twilioStatusWebhook(c *gin.Context) {
	callSID := c.PostForm("CallSid")
	if callSID == "" {
		c.String(http.StatusBadRequest, "CallSid is required")
		return
	}
	s.twilio.HandleStatusWebhook(callSID, c.PostForm("CallStatus"), c.PostForm("From"))
	c.Status(http.StatusNoContent)
}

// getProviderConfig returns the default voice provider settings.
func (s *server) getProviderConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"defaults":  s.registry.Defaults(),
		"available": s.registry.Names(),
	})
}

// setProviderConfig updates the default voice provider settings. Existing
// sessions keep the provider they were created with.
func (s *server) setProviderConfig(c *gin.Context) {
	var settings models.ProviderSettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid settings"})
		return
	}
	if err := s.registry.SetDefaults(settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"defaults": s.registry.Defaults()})
}

type providerTestRequest struct {
	Provider string `json:"provider" binding:"required"`
	Language string `json:"language"`
}

// testProvider runs a synchronous synthesize-then-transcribe round trip
// against one provider variant and reports the latency.
func (s *server) testProvider(c *gin.Context) {
	var req providerTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provider is required"})
		return
	}
	provider, err := s.registry.Get(req.Provider)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	language := req.Language
	if language == "" {
		language = s.registry.Defaults().Language
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	start := time.Now()
	wav, err := provider.Synthesize(ctx, "This is a connectivity test.", language, services.VoiceOptions{})
	if err == nil {
		_, err = provider.Transcribe(ctx, wav, language)
	}
	latency := time.Since(start).Milliseconds()

	if err != nil {
		c.JSON(http.StatusOK, gin.H{
			"ok":         false,
			"provider":   req.Provider,
			"latency_ms": latency,
			"error":      err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":         true,
		"provider":   req.Provider,
		"latency_ms": latency,
	})
}
