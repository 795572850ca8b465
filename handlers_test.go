package main

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"medivoice/models"
	"medivoice/services"
)

type echoProvider struct{}

func (echoProvider) Name() string                         { return "echo" }
func (echoProvider) SupportsLanguage(language string) bool { return true }

func (echoProvider) Transcribe(ctx context.Context, audio []byte, languageHint string) (services.Transcription, error) {
	return services.Transcription{Text: string(audio), Confidence: 0.9}, nil
}

func (echoProvider) Synthesize(ctx context.Context, text, language string, opts services.VoiceOptions) ([]byte, error) {
	return []byte("WAV:" + text), nil
}

type nullAdapter struct{}

func (nullAdapter) OnCallEvent(h services.CallEventHandler)      {}
func (nullAdapter) Answer(channelID string) error                 { return nil }
func (nullAdapter) Hangup(channelID string) error                 { return nil }
func (nullAdapter) PlayAudio(channelID string, wav []byte) error  { return nil }
func (nullAdapter) Dial(phoneNumber string) (string, error)       { return "out-" + phoneNumber, nil }
func (nullAdapter) Close() error                                  { return nil }

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := services.NewProviderRegistry(models.ProviderSettings{
		Provider: "echo", Language: "en", SpeakingRate: 1.0,
	})
	registry.Register(echoProvider{})

	store := services.NewStore(time.Minute, time.Minute)
	controller := services.NewController(store, registry, nullAdapter{},
		services.NewDialogueEngine(), services.NewBookingClient("http://unused.invalid"),
		services.DefaultControllerConfig())

	srv := &server{controller: controller, registry: registry}

	app := gin.New()
	app.GET("/healthz", srv.healthz)
	app.POST("/asterisk/incoming", srv.incomingCall)
	app.POST("/asterisk/process", srv.processAudio)
	app.POST("/asterisk/outbound", srv.outboundCall)
	app.GET("/asterisk/active-calls", srv.activeCalls)
	app.POST("/asterisk/end-call", srv.endCall)
	app.GET("/voice-provider/config", srv.getProviderConfig)
	app.POST("/voice-provider/config", srv.setProviderConfig)
	app.POST("/voice-provider/test", srv.testProvider)
	return app
}

func postJSON(t *testing.T, app *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func startCall(t *testing.T, app *gin.Engine, channelID, callerID string) string {
	t.Helper()
	w := postJSON(t, app, "/asterisk/incoming", map[string]string{
		"channel_id": channelID,
		"caller_id":  callerID,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("incoming returned %d: %s", w.Code, w.Body.String())
	}
	resp := decodeJSON(t, w)
	id, _ := resp["session_id"].(string)
	if id == "" {
		t.Fatalf("no session_id in response: %v", resp)
	}
	return id
}

func postAudio(t *testing.T, app *gin.Engine, sessionID, utterance string) *httptest.ResponseRecorder {
	return postTurnForm(t, app, map[string]string{"session_id": sessionID}, utterance)
}

func postTurnForm(t *testing.T, app *gin.Engine, fields map[string]string, utterance string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	fw, err := mw.CreateFormFile("audio", "turn.wav")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fw.Write([]byte(utterance))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/asterisk/process", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	app := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("healthz returned %d", w.Code)
	}
}

func TestIncomingCallEndpoint(t *testing.T) {
	app := newTestRouter(t)
	startCall(t, app, "c1", "9999")

	// Same channel again conflicts.
	w := postJSON(t, app, "/asterisk/incoming", map[string]string{"channel_id": "c1", "caller_id": "9999"})
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate channel returned %d", w.Code)
	}

	// Missing channel id is a bad request.
	w = postJSON(t, app, "/asterisk/incoming", map[string]string{"caller_id": "9999"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing channel_id returned %d", w.Code)
	}
}

func TestProcessAudioEndpoint(t *testing.T) {
	app := newTestRouter(t)
	sessionID := startCall(t, app, "c1", "9999")

	w := postAudio(t, app, sessionID, "I need a cardiologist")
	if w.Code != http.StatusOK {
		t.Fatalf("process returned %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "audio/wav" {
		t.Fatalf("content type = %q", ct)
	}
	if !strings.HasPrefix(w.Body.String(), "WAV:") {
		t.Fatalf("no synthesized audio in body: %q", w.Body.String())
	}

	w = postAudio(t, app, "no-such-session", "hello")
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown session returned %d", w.Code)
	}
}

func TestProcessAudioTurnMetadata(t *testing.T) {
	app := newTestRouter(t)
	sessionID := startCall(t, app, "c1", "9999")

	// Metadata naming the session's own provider is accepted, and
	// session_data fields ride along.
	w := postTurnForm(t, app, map[string]string{
		"session_id":     sessionID,
		"voice_provider": "echo",
		"session_data":   `{"patient_name":"Asha Rao"}`,
	}, "hello")
	if w.Code != http.StatusOK {
		t.Fatalf("turn with metadata returned %d: %s", w.Code, w.Body.String())
	}

	// The provider is fixed at creation; a different name is rejected.
	w = postTurnForm(t, app, map[string]string{
		"session_id":     sessionID,
		"voice_provider": "google",
	}, "hello")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("conflicting voice_provider returned %d", w.Code)
	}

	// Malformed session_data is rejected before any processing.
	w = postTurnForm(t, app, map[string]string{
		"session_id":   sessionID,
		"session_data": "not json",
	}, "hello")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("malformed session_data returned %d", w.Code)
	}
}

func TestActiveCallsEndpoint(t *testing.T) {
	app := newTestRouter(t)
	sessionID := startCall(t, app, "c1", "9999")

	req := httptest.NewRequest(http.MethodGet, "/asterisk/active-calls", nil)
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("active-calls returned %d", w.Code)
	}
	var summaries []models.SessionSummary
	if err := json.Unmarshal(w.Body.Bytes(), &summaries); err != nil {
		t.Fatalf("decode summaries: %v", err)
	}
	if len(summaries) != 1 || summaries[0].SessionID != sessionID {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}
	if summaries[0].CallerID != "9999" {
		t.Fatalf("caller id = %q", summaries[0].CallerID)
	}
}

func TestEndCallEndpoint(t *testing.T) {
	app := newTestRouter(t)
	sessionID := startCall(t, app, "c1", "9999")

	w := postJSON(t, app, "/asterisk/end-call", map[string]string{"session_id": sessionID})
	if w.Code != http.StatusOK {
		t.Fatalf("end-call returned %d", w.Code)
	}

	// Session is gone; ending again is a 404 with no side effects.
	w = postJSON(t, app, "/asterisk/end-call", map[string]string{"session_id": sessionID})
	if w.Code != http.StatusNotFound {
		t.Fatalf("end-call on closed session returned %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/asterisk/active-calls", nil)
	lw := httptest.NewRecorder()
	app.ServeHTTP(lw, req)
	var summaries []models.SessionSummary
	json.Unmarshal(lw.Body.Bytes(), &summaries)
	if len(summaries) != 0 {
		t.Fatalf("ended call still listed: %+v", summaries)
	}
}

func TestOutboundCallEndpoint(t *testing.T) {
	app := newTestRouter(t)

	w := postJSON(t, app, "/asterisk/outbound", map[string]string{
		"phone_number": "5551234",
		"message":      "Your appointment is confirmed.",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("outbound returned %d: %s", w.Code, w.Body.String())
	}
	resp := decodeJSON(t, w)
	if resp["channel_id"] != "out-5551234" {
		t.Fatalf("channel_id = %v", resp["channel_id"])
	}

	w = postJSON(t, app, "/asterisk/outbound", map[string]string{"phone_number": "5551234"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing message returned %d", w.Code)
	}
}

func postForm(t *testing.T, app *gin.Engine, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)
	return w
}

func TestTwilioWebhooks(t *testing.T) {
	gin.SetMode(gin.TestMode)

	registry := services.NewProviderRegistry(models.ProviderSettings{
		Provider: "echo", Language: "en", SpeakingRate: 1.0,
	})
	registry.Register(echoProvider{})
	tw := services.NewTwilioAdapter(services.TwilioConfig{
		AccountSID:    "AC-test",
		RecordingsDir: t.TempDir(),
	})
	store := services.NewStore(time.Minute, time.Minute)
	controller := services.NewController(store, registry, tw,
		services.NewDialogueEngine(), services.NewBookingClient("http://unused.invalid"),
		services.DefaultControllerConfig())
	srv := &server{controller: controller, registry: registry, twilio: tw}

	app := gin.New()
	app.GET("/asterisk/active-calls", srv.activeCalls)
	app.POST("/twilio/voice", srv.twilioVoiceWebhook)
	app.POST("/twilio/status", srv.twilioStatusWebhook)

	// Inbound call webhook answers with a spoken greeting and creates the
	// session.
	w := postForm(t, app, "/twilio/voice", url.Values{"CallSid": {"CA1"}, "From": {"9999"}})
	if w.Code != http.StatusOK {
		t.Fatalf("voice webhook returned %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "<Say>") {
		t.Fatalf("no Say verb in answer document: %q", w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/asterisk/active-calls", nil)
	lw := httptest.NewRecorder()
	app.ServeHTTP(lw, req)
	var summaries []models.SessionSummary
	if err := json.Unmarshal(lw.Body.Bytes(), &summaries); err != nil {
		t.Fatalf("decode summaries: %v", err)
	}
	if len(summaries) != 1 || summaries[0].ChannelID != "CA1" {
		t.Fatalf("webhook did not create session: %+v", summaries)
	}

	// The completed status callback reaches the controller as a hangup.
	w = postForm(t, app, "/twilio/status", url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}})
	if w.Code != http.StatusNoContent {
		t.Fatalf("status webhook returned %d", w.Code)
	}
	lw = httptest.NewRecorder()
	app.ServeHTTP(lw, httptest.NewRequest(http.MethodGet, "/asterisk/active-calls", nil))
	summaries = nil
	json.Unmarshal(lw.Body.Bytes(), &summaries)
	if len(summaries) != 0 {
		t.Fatalf("hung-up call still listed: %+v", summaries)
	}

	// Both webhooks require a CallSid.
	if w := postForm(t, app, "/twilio/voice", url.Values{}); w.Code != http.StatusBadRequest {
		t.Fatalf("voice webhook without CallSid returned %d", w.Code)
	}
	if w := postForm(t, app, "/twilio/status", url.Values{}); w.Code != http.StatusBadRequest {
		t.Fatalf("status webhook without CallSid returned %d", w.Code)
	}
}

func TestProviderConfigEndpoints(t *testing.T) {
	app := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/voice-provider/config", nil)
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)
	resp := decodeJSON(t, w)
	defaults, _ := resp["defaults"].(map[string]any)
	if defaults["provider"] != "echo" {
		t.Fatalf("default provider = %v", defaults["provider"])
	}

	// Unknown provider rejected.
	pw := postJSON(t, app, "/voice-provider/config", map[string]any{"provider": "nope"})
	if pw.Code != http.StatusBadRequest {
		t.Fatalf("unknown provider returned %d", pw.Code)
	}

	pw = postJSON(t, app, "/voice-provider/config", map[string]any{"provider": "echo", "language": "hi"})
	if pw.Code != http.StatusOK {
		t.Fatalf("config update returned %d: %s", pw.Code, pw.Body.String())
	}
	updated := decodeJSON(t, pw)
	ud, _ := updated["defaults"].(map[string]any)
	if ud["language"] != "hi" {
		t.Fatalf("language not updated: %v", ud)
	}
}

func TestProviderTestEndpoint(t *testing.T) {
	app := newTestRouter(t)

	w := postJSON(t, app, "/voice-provider/test", map[string]string{"provider": "echo"})
	if w.Code != http.StatusOK {
		t.Fatalf("provider test returned %d", w.Code)
	}
	resp := decodeJSON(t, w)
	if resp["ok"] != true {
		t.Fatalf("round trip failed: %v", resp)
	}
	if _, hasLatency := resp["latency_ms"]; !hasLatency {
		t.Fatalf("no latency reported: %v", resp)
	}

	w = postJSON(t, app, "/voice-provider/test", map[string]string{"provider": "nope"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown provider returned %d", w.Code)
	}
}
