package services

import "context"

// BrowserProvider is the variant for sessions whose speech handling happens
// on the caller's device. Server-side speech requests are rejected so the
// client knows to process audio locally.
type BrowserProvider struct{}

var _ VoiceProvider = (*BrowserProvider)(nil)

func NewBrowserProvider() *BrowserProvider { return &BrowserProvider{} }

func (p *BrowserProvider) Name() string { return "browser" }

func (p *BrowserProvider) SupportsLanguage(language string) bool { return true }

func (p *BrowserProvider) Transcribe(ctx context.Context, audio []byte, languageHint string) (Transcription, error) {
	return Transcription{}, ErrClientSideProvider
}

func (p *BrowserProvider) Synthesize(ctx context.Context, text, language string, opts VoiceOptions) ([]byte, error) {
	return nil, ErrClientSideProvider
}
