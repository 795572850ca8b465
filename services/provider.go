package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"medivoice/models"
)

// VoiceOptions tunes speech synthesis for one request.
type VoiceOptions struct {
	Voice        string
	SpeakingRate float64
}

// Transcription is the result of a speech-to-text request.
type Transcription struct {
	Text       string
	Confidence float64
}

// VoiceProvider is the capability set a speech backend must offer. Variants
// are selected per session at creation and stay fixed for the call.
type VoiceProvider interface {
	Name() string
	Transcribe(ctx context.Context, audio []byte, languageHint string) (Transcription, error)
	Synthesize(ctx context.Context, text, language string, opts VoiceOptions) ([]byte, error)
	SupportsLanguage(language string) bool
}

const (
	maxProviderRetries = 2
	retryBaseDelay     = 250 * time.Millisecond
)

// withRetry runs fn, retrying transient provider failures with exponential
// backoff. Authorization and language errors are never retried.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, ErrProviderUnavailable) {
			return err
		}
		if attempt >= maxProviderRetries {
			return err
		}
		delay := retryBaseDelay << attempt
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// TranscribeWithRetry transcribes audio, retrying transient failures.
func TranscribeWithRetry(ctx context.Context, p VoiceProvider, audio []byte, languageHint string) (Transcription, error) {
	var tr Transcription
	err := withRetry(ctx, func() error {
		var inner error
		tr, inner = p.Transcribe(ctx, audio, languageHint)
		return inner
	})
	return tr, err
}

// SynthesizeWithRetry synthesizes speech, retrying transient failures.
func SynthesizeWithRetry(ctx context.Context, p VoiceProvider, text, language string, opts VoiceOptions) ([]byte, error) {
	var audio []byte
	err := withRetry(ctx, func() error {
		var inner error
		audio, inner = p.Synthesize(ctx, text, language, opts)
		return inner
	})
	return audio, err
}

// ProviderRegistry holds the configured provider variants and the mutable
// default settings applied to newly created sessions.
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]VoiceProvider
	defaults  models.ProviderSettings
}

// NewProviderRegistry creates a registry with the given default settings.
func NewProviderRegistry(defaults models.ProviderSettings) *ProviderRegistry {
	return &ProviderRegistry{
		providers: make(map[string]VoiceProvider),
		defaults:  defaults,
	}
}

// Register adds a provider variant under its name.
func (r *ProviderRegistry) Register(p VoiceProvider) {
	r.mu.Lock()
	r.providers[p.Name()] = p
	r.mu.Unlock()
}

// Get returns the provider registered under name.
func (r *ProviderRegistry) Get(name string) (VoiceProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return p, nil
}

// Names lists the registered provider variants.
func (r *ProviderRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// Defaults returns the current default settings.
func (r *ProviderRegistry) Defaults() models.ProviderSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaults
}

// SetDefaults replaces the default settings. The provider must be
// registered; existing sessions keep the provider fixed at their creation.
func (r *ProviderRegistry) SetDefaults(s models.ProviderSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[s.Provider]; !ok {
		return ErrUnknownProvider
	}
	if s.Language == "" {
		s.Language = r.defaults.Language
	}
	if s.SpeakingRate == 0 {
		s.SpeakingRate = r.defaults.SpeakingRate
	}
	r.defaults = s
	return nil
}
