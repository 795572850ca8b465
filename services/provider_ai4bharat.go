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

// ai4bharatLanguages is the set of regional language codes the AI4Bharat
// services cover.
var ai4bharatLanguages = map[string]bool{
	"as": true, "bn": true, "en": true, "gu": true, "hi": true,
	"kn": true, "ml": true, "mr": true, "or": true, "pa": true,
	"ta": true, "te": true,
}

// AI4BharatProvider is the regional-language STT/TTS variant.
type AI4BharatProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

var _ VoiceProvider = (*AI4BharatProvider)(nil)

// NewAI4BharatProvider creates the AI4Bharat speech backend.
func NewAI4BharatProvider(apiKey, baseURL string) *AI4BharatProvider {
	if baseURL == "" {
		baseURL = "https://api.dhruva.ai4bharat.org"
	}
	return &AI4BharatProvider{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 20 * time.Second},
	}
}

func (p *AI4BharatProvider) Name() string { return "ai4bharat" }

func (p *AI4BharatProvider) SupportsLanguage(language string) bool {
	return ai4bharatLanguages[language]
}

type ai4bharatASRRequest struct {
	AudioContent string `json:"audio_content"`
	Language     string `json:"language"`
}

type ai4bharatASRResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Transcribe submits audio to the AI4Bharat ASR service.
func (p *AI4BharatProvider) Transcribe(ctx context.Context, audio []byte, languageHint string) (Transcription, error) {
	if !p.SupportsLanguage(languageHint) {
		return Transcription{}, ErrUnsupportedLanguage
	}
	reqBody := ai4bharatASRRequest{
		AudioContent: base64.StdEncoding.EncodeToString(audio),
		Language:     languageHint,
	}
	var resp ai4bharatASRResponse
	if err := p.postJSON(ctx, "/services/inference/asr", reqBody, &resp); err != nil {
		return Transcription{}, err
	}
	return Transcription{Text: resp.Text, Confidence: resp.Confidence}, nil
}

type ai4bharatTTSRequest struct {
	Text         string  `json:"text"`
	Language     string  `json:"language"`
	Voice        string  `json:"voice,omitempty"`
	SpeakingRate float64 `json:"speaking_rate,omitempty"`
}

type ai4bharatTTSResponse struct {
	AudioContent string `json:"audio_content"`
}

// Synthesize renders text as WAV audio in the requested regional language.
func (p *AI4BharatProvider) Synthesize(ctx context.Context, text, language string, opts VoiceOptions) ([]byte, error) {
	if !p.SupportsLanguage(language) {
		return nil, ErrUnsupportedLanguage
	}
	reqBody := ai4bharatTTSRequest{
		Text:         text,
		Language:     language,
		Voice:        opts.Voice,
		SpeakingRate: opts.SpeakingRate,
	}
	var resp ai4bharatTTSResponse
	if err := p.postJSON(ctx, "/services/inference/tts", reqBody, &resp); err != nil {
		return nil, err
	}
	audio, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("decoding synthesized audio: %w", err)
	}
	return audio, nil
}

func (p *AI4BharatProvider) postJSON(ctx context.Context, path string, in, out any) error {
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
	case res.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: status %d", ErrProviderUnavailable, res.StatusCode)
	}
	return json.Unmarshal(body, out)
}
