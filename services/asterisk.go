package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ARIConfig holds the Asterisk REST Interface connection settings.
type ARIConfig struct {
	// BaseURL is the http(s) root of the ARI, e.g. http://localhost:8088.
	BaseURL  string
	Username string
	Password string
	// App is the Stasis application name channels are routed to.
	App string
	// Endpoint is the dial technology prefix, e.g. "PJSIP".
	Endpoint string
	// RecordingsDir is a directory shared with Asterisk where playback
	// audio is written.
	RecordingsDir string
}

// ARIAdapter drives an Asterisk PBX over its REST interface and event
// websocket.
type ARIAdapter struct {
	cfg    ARIConfig
	client *http.Client

	mu      sync.RWMutex
	handler CallEventHandler
	conn    *websocket.Conn
	closed  bool
}

var _ TelephonyAdapter = (*ARIAdapter)(nil)

// NewARIAdapter creates an adapter for the given ARI settings.
func NewARIAdapter(cfg ARIConfig) *ARIAdapter {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "PJSIP"
	}
	return &ARIAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// OnCallEvent registers the controller's event handler.
func (a *ARIAdapter) OnCallEvent(h CallEventHandler) {
	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()
}

// ariEvent is the subset of ARI event fields the adapter consumes.
type ariEvent struct {
	Type    string `json:"type"`
	Channel struct {
		ID     string `json:"id"`
		State  string `json:"state"`
		Caller struct {
			Number string `json:"number"`
		} `json:"caller"`
	} `json:"channel"`
}

// Run connects to the ARI event websocket and dispatches events until ctx
// is done, reconnecting after transient failures.
func (a *ARIAdapter) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := a.readEvents(ctx); err != nil {
			log.Printf("ARI event stream error: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(3 * time.Second):
		}
	}
}

func (a *ARIAdapter) readEvents(ctx context.Context) error {
	wsURL, err := a.eventsURL()
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dialing ARI events: %w", err)
	}
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
	defer conn.Close()

	log.Printf("connected to ARI event stream for app %s", a.cfg.App)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			a.mu.RLock()
			closed := a.closed
			a.mu.RUnlock()
			if closed || ctx.Err() != nil {
				return nil
			}
			return err
		}
		var ev ariEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			log.Printf("unparseable ARI event: %v", err)
			continue
		}
		a.dispatch(ev)
	}
}

func (a *ARIAdapter) dispatch(ev ariEvent) {
	a.mu.RLock()
	handler := a.handler
	a.mu.RUnlock()
	if handler == nil {
		return
	}
	ce := CallEvent{ChannelID: ev.Channel.ID, CallerID: ev.Channel.Caller.Number}
	switch ev.Type {
	case "StasisStart":
		ce.Type = EventRinging
	case "ChannelStateChange":
		if ev.Channel.State != "Up" {
			return
		}
		ce.Type = EventAnswered
	case "StasisEnd", "ChannelDestroyed", "ChannelHangupRequest":
		ce.Type = EventHangup
	default:
		return
	}
	handler(ce)
}

func (a *ARIAdapter) eventsURL() (string, error) {
	u, err := url.Parse(a.cfg.BaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ari/events"
	q := u.Query()
	q.Set("app", a.cfg.App)
	q.Set("api_key", a.cfg.Username+":"+a.cfg.Password)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Answer picks up a ringing channel.
func (a *ARIAdapter) Answer(channelID string) error {
	return a.command(http.MethodPost, "/ari/channels/"+url.PathEscape(channelID)+"/answer", nil)
}

// Hangup tears down a channel.
func (a *ARIAdapter) Hangup(channelID string) error {
	return a.command(http.MethodDelete, "/ari/channels/"+url.PathEscape(channelID), nil)
}

// PlayAudio writes the WAV to the shared recordings directory and asks
// Asterisk to play it on the channel.
func (a *ARIAdapter) PlayAudio(channelID string, wav []byte) error {
	name := "medivoice-" + uuid.New().String()
	path := filepath.Join(a.cfg.RecordingsDir, name+".wav")
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		return fmt.Errorf("writing playback audio: %w", err)
	}
	media := "sound:" + strings.TrimSuffix(path, ".wav")
	q := url.Values{"media": {media}}
	return a.command(http.MethodPost,
		"/ari/channels/"+url.PathEscape(channelID)+"/play?"+q.Encode(), nil)
}

// Dial originates an outbound call into the Stasis app.
func (a *ARIAdapter) Dial(phoneNumber string) (string, error) {
	q := url.Values{
		"endpoint": {a.cfg.Endpoint + "/" + phoneNumber},
		"app":      {a.cfg.App},
	}
	body, err := a.request(http.MethodPost, "/ari/channels?"+q.Encode())
	if err != nil {
		return "", err
	}
	var ch struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &ch); err != nil {
		return "", fmt.Errorf("parsing originate response: %w", err)
	}
	return ch.ID, nil
}

// Close terminates the event connection.
func (a *ARIAdapter) Close() error {
	a.mu.Lock()
	a.closed = true
	conn := a.conn
	a.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (a *ARIAdapter) command(method, path string, _ []byte) error {
	_, err := a.request(method, path)
	return err
}

func (a *ARIAdapter) request(method, path string) ([]byte, error) {
	req, err := http.NewRequest(method, a.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(a.cfg.Username, a.cfg.Password)

	res, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ARI request failed: %w", err)
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
		return nil, fmt.Errorf("ARI %s %s: status %d", method, path, res.StatusCode)
	}
	return body, nil
}
