package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// GoogleProvider is the cloud STT/TTS variant backed by Google speech
// services.
type GoogleProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

var _ VoiceProvider = (*GoogleProvider)(nil)

// NewGoogleProvider creates the Google speech backend. baseURL may be
// overridden for testing or regional endpoints.
func NewGoogleProvider(apiKey, baseURL string) *GoogleProvider {
	if baseURL == "" {
		baseURL = "https://speech.googleapis.com"
	}
	return &GoogleProvider{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *GoogleProvider) Name() string { return "google" }

// SupportsLanguage reports true for any BCP-47-looking code; Google serves a
// broad language set and rejects unknown codes itself.
func (p *GoogleProvider) SupportsLanguage(language string) bool {
	return language != ""
}

type googleRecognizeRequest struct {
	AudioContent string `json:"audio_content"`
	LanguageCode string `json:"language_code"`
}

type googleRecognizeResponse struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// Transcribe submits audio for recognition.
func (p *GoogleProvider) Transcribe(ctx context.Context, audio []byte, languageHint string) (Transcription, error) {
	reqBody := googleRecognizeRequest{
		AudioContent: base64.StdEncoding.EncodeToString(audio),
		LanguageCode: languageHint,
	}
	var resp googleRecognizeResponse
	if err := p.postJSON(ctx, "/v1/speech:recognize", reqBody, &resp); err != nil {
		return Transcription{}, err
	}
	return Transcription{Text: resp.Transcript, Confidence: resp.Confidence}, nil
}

type googleSynthesizeRequest struct {
	Text         string  `json:"text"`
	LanguageCode string  `json:"language_code"`
	Voice        string  `json:"voice,omitempty"`
	SpeakingRate float64 `json:"speaking_rate,omitempty"`
}

type googleSynthesizeResponse struct {
	AudioContent string `json:"audio_content"`
}

// Synthesize renders text as WAV audio.
func (p *GoogleProvider) Synthesize(ctx context.Context, text, language string, opts VoiceOptions) ([]byte, error) {
	reqBody := googleSynthesizeRequest{
		Text:         text,
		LanguageCode: language,
		Voice:        opts.Voice,
		SpeakingRate: opts.SpeakingRate,
	}
	var resp googleSynthesizeResponse
	if err := p.postJSON(ctx, "/v1/text:synthesize", reqBody, &resp); err != nil {
		return nil, err
	}
	audio, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("decoding synthesized audio: %w", err)
	}
	return audio, nil
}

func (p *GoogleProvider) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewBuffer(payload))
	if err != nil {
		return err
	}
	req.Header.Add("Authorization", "Bearer "+p.apiKey)
	req.Header.Add("Content-Type", "application/json")

	res, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return ErrProviderUnauthorized
	case res.StatusCode == http.StatusBadRequest:
		return ErrUnsupportedLanguage
	case res.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrProviderUnavailable, res.StatusCode)
	case res.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: status %d", ErrProviderUnavailable, res.StatusCode)
	}
	return json.Unmarshal(body, out)
}
