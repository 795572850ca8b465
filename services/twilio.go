package services

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/twilio/twilio-go/twiml"
)

// TwilioConfig holds the settings for the Twilio trunk variant of the
// telephony adapter.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	// AudioBaseURL is the public URL under which RecordingsDir is served,
	// used in <Play> verbs.
	AudioBaseURL  string
	RecordingsDir string
}

// TwilioAdapter drives calls over a Twilio trunk. Incoming calls arrive as
// webhooks answered with TwiML documents; outbound control goes through the
// Twilio REST API.
type TwilioAdapter struct {
	cfg    TwilioConfig
	client *http.Client

	mu      sync.RWMutex
	handler CallEventHandler
}

var _ TelephonyAdapter = (*TwilioAdapter)(nil)

// NewTwilioAdapter creates the Twilio trunk adapter.
func NewTwilioAdapter(cfg TwilioConfig) *TwilioAdapter {
	return &TwilioAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TwilioAdapter) OnCallEvent(h CallEventHandler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

// HandleStatusWebhook translates a Twilio status callback into a call
// event. Wire this to the status-callback webhook route when the Twilio
// trunk is enabled.
func (t *TwilioAdapter) HandleStatusWebhook(callSID, status, from string) {
	t.mu.RLock()
	handler := t.handler
	t.mu.RUnlock()
	if handler == nil {
		return
	}
	ev := CallEvent{ChannelID: callSID, CallerID: from}
	switch status {
	case "ringing", "queued", "initiated":
		ev.Type = EventRinging
	case "in-progress", "answered":
		ev.Type = EventAnswered
	case "completed", "busy", "failed", "no-answer", "canceled":
		ev.Type = EventHangup
	default:
		return
	}
	handler(ev)
}

// AnswerTwiML builds the TwiML document that greets an incoming call.
func (t *TwilioAdapter) AnswerTwiML(message string) (string, error) {
	say := &twiml.VoiceSay{Message: message}
	return twiml.Voice([]twiml.Element{say})
}

// Answer is a no-op: Twilio answers the call when the webhook responds with
// TwiML.
func (t *TwilioAdapter) Answer(channelID string) error { return nil }

// Hangup completes the call via the REST API.
func (t *TwilioAdapter) Hangup(channelID string) error {
	form := url.Values{"Status": {"completed"}}
	_, err := t.post("/Calls/"+channelID+".json", form)
	return err
}

// PlayAudio publishes the WAV under the served recordings directory and
// redirects the live call to a <Play> document.
func (t *TwilioAdapter) PlayAudio(channelID string, wav []byte) error {
	name := "medivoice-" + uuid.New().String() + ".wav"
	path := filepath.Join(t.cfg.RecordingsDir, name)
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		return fmt.Errorf("writing playback audio: %w", err)
	}
	play := &twiml.VoicePlay{Url: strings.TrimSuffix(t.cfg.AudioBaseURL, "/") + "/" + name}
	doc, err := twiml.Voice([]twiml.Element{play})
	if err != nil {
		return err
	}
	form := url.Values{"Twiml": {doc}}
	_, err = t.post("/Calls/"+channelID+".json", form)
	return err
}

// Dial originates an outbound call and returns its SID.
func (t *TwilioAdapter) Dial(phoneNumber string) (string, error) {
	form := url.Values{
		"To":   {phoneNumber},
		"From": {t.cfg.FromNumber},
	}
	body, err := t.post("/Calls.json", form)
	if err != nil {
		return "", err
	}
	sid := extractJSONField(body, "sid")
	if sid == "" {
		return "", fmt.Errorf("originate response missing call sid")
	}
	return sid, nil
}

func (t *TwilioAdapter) Close() error { return nil }

func (t *TwilioAdapter) post(path string, form url.Values) ([]byte, error) {
	endpoint := "https://api.twilio.com/2010-04-01/Accounts/" + t.cfg.AccountSID + path
	req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(t.cfg.AccountSID, t.cfg.AuthToken)
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")

	res, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twilio request failed: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode == http.StatusNotFound {
		return nil, ErrChannelNotFound
	}
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("twilio %s: status %d", path, res.StatusCode)
	}
	return body, nil
}

// extractJSONField pulls a top-level string field out of a JSON body
// without committing to the full response shape.
func extractJSONField(body []byte, field string) string {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return ""
	}
	if v, ok := m[field].(string); ok {
		return v
	}
	return ""
}
