package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"medivoice/models"
)

// Archiver persists finished call records. Satisfied by FirestoreClient;
// nil disables archival.
type Archiver interface {
	SaveCallRecord(record models.CallRecord) (string, error)
}

// ControllerConfig tunes the conversation loop.
type ControllerConfig struct {
	// ConfidenceThreshold is the minimum transcription confidence below
	// which a turn re-prompts instead of advancing.
	ConfidenceThreshold float64
	// MaxReprompts is the number of consecutive failed turns tolerated
	// before the call is aborted.
	MaxReprompts int
}

// DefaultControllerConfig returns the default loop settings.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{ConfidenceThreshold: 0.4, MaxReprompts: 3}
}

// Controller orchestrates call sessions: it owns state transitions, runs
// the transcribe-extract-synthesize turn loop, and submits confirmed drafts
// to the booking backend.
type Controller struct {
	store     *Store
	providers *ProviderRegistry
	telephony TelephonyAdapter
	dialogue  *DialogueEngine
	booking   *BookingClient
	archive   Archiver
	cfg       ControllerConfig
}

// NewController wires the coordinator together and registers itself for
// call events and idle expirations.
func NewController(store *Store, providers *ProviderRegistry, telephony TelephonyAdapter, dialogue *DialogueEngine, booking *BookingClient, cfg ControllerConfig) *Controller {
	c := &Controller{
		store:     store,
		providers: providers,
		telephony: telephony,
		dialogue:  dialogue,
		booking:   booking,
		cfg:       cfg,
	}
	telephony.OnCallEvent(c.handleCallEvent)
	store.OnExpire(c.handleExpiry)
	return c
}

// SetArchiver enables archival of finished calls.
func (c *Controller) SetArchiver(a Archiver) { c.archive = a }

// HandleIncoming creates a session for a ringing channel, answers it and
// returns the session together with the greeting prompt.
func (c *Controller) HandleIncoming(channelID, callerID, language, providerName string) (*Session, string, error) {
	defaults := c.providers.Defaults()
	if language == "" {
		language = defaults.Language
	}
	if providerName == "" {
		providerName = defaults.Provider
	}
	provider, err := c.providers.Get(providerName)
	if err != nil {
		return nil, "", err
	}
	if !provider.SupportsLanguage(language) {
		return nil, "", ErrUnsupportedLanguage
	}

	sess, err := c.store.Create(channelID, callerID, language, providerName)
	if err != nil {
		return nil, "", err
	}

	if err := c.telephony.Answer(channelID); err != nil {
		if errors.Is(err, ErrChannelNotFound) {
			// Caller disconnected before we picked up.
			log.Printf("session %s: channel %s gone before answer", sess.SessionID, channelID)
			sess.Cancel()
			c.store.Remove(sess.SessionID)
			return nil, "", ErrChannelNotFound
		}
		// Dialplan-driven setups answer before hitting us; keep going.
		log.Printf("session %s: answer command failed: %v", sess.SessionID, err)
	}

	sess.SetState(models.StateActive)
	greeting := c.dialogue.Greeting()
	sess.AppendTranscript("agent", greeting)
	log.Printf("session %s: call from %s on channel %s answered", sess.SessionID, callerID, channelID)
	return sess, greeting, nil
}

// ProcessTurn runs one conversation turn: transcribe the caller audio,
// advance the dialogue, and return synthesized reply audio. Turns for the
// same session are serialized; a hangup mid-turn discards the in-flight
// result.
func (c *Controller) ProcessTurn(sessionID string, audio []byte, languageOverride string) ([]byte, error) {
	sess, err := c.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	sess.LockTurn()
	defer sess.UnlockTurn()

	if sess.State() != models.StateActive {
		return nil, ErrCallNotActive
	}
	provider, err := c.providers.Get(sess.Provider)
	if err != nil {
		return nil, err
	}

	language := sess.GetLanguage()
	if languageOverride != "" && languageOverride != language {
		// Mid-call renegotiation only when the provider can serve it.
		if !provider.SupportsLanguage(languageOverride) {
			return nil, ErrUnsupportedLanguage
		}
		language = languageOverride
		sess.SetLanguage(languageOverride)
	}

	ctx := sess.Context()
	tr, err := TranscribeWithRetry(ctx, provider, audio, language)
	if ctx.Err() != nil {
		// Caller hung up while we were transcribing; drop the result.
		return nil, ErrCallNotActive
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrClientSideProvider), errors.Is(err, ErrUnsupportedLanguage):
			return nil, err
		default:
			// Retry budget exhausted or credentials rejected: end the
			// call gracefully rather than looping the caller.
			log.Printf("session %s: transcription failed: %v", sess.SessionID, err)
			c.finish(sess, models.OutcomeAborted, "", true)
			return nil, err
		}
	}

	if tr.Confidence < c.cfg.ConfidenceThreshold {
		attempts := sess.BumpReprompts()
		if attempts >= c.cfg.MaxReprompts {
			log.Printf("session %s: %d consecutive failed turns, aborting", sess.SessionID, attempts)
			wav := c.speak(sess, provider, language, c.dialogue.FallbackMessage())
			c.finish(sess, models.OutcomeAborted, "", true)
			if wav == nil {
				return nil, ErrProviderUnavailable
			}
			return wav, nil
		}
		reply := c.dialogue.Reprompt(sess.Stage())
		sess.AppendTranscript("agent", reply)
		sess.Touch()
		return c.synthesize(sess, provider, language, reply)
	}

	sess.ResetReprompts()
	sess.AppendTranscript("caller", tr.Text)
	sess.Touch()

	result := c.dialogue.Interpret(ctx, sess, tr.Text)
	if result.Advanced && !result.Affirmed {
		sess.AppendTranscript("system", "stage: "+string(sess.Stage()))
	}

	if result.Affirmed {
		return c.completeBooking(sess, provider, language)
	}

	if result.Reply != "" {
		if !result.Advanced {
			attempts := sess.BumpReprompts()
			if attempts >= c.cfg.MaxReprompts {
				log.Printf("session %s: %d consecutive failed turns, aborting", sess.SessionID, attempts)
				wav := c.speak(sess, provider, language, c.dialogue.FallbackMessage())
				c.finish(sess, models.OutcomeAborted, "", true)
				if wav == nil {
					return nil, ErrProviderUnavailable
				}
				return wav, nil
			}
		}
		sess.AppendTranscript("agent", result.Reply)
	}
	return c.synthesize(sess, provider, language, result.Reply)
}

// ApplyTurnMetadata validates per-turn form metadata before the audio is
// processed. A voice_provider naming anything other than the session's own
// provider is rejected; session_data fields are merged into the booking
// draft without overwriting values the caller already confirmed.
func (c *Controller) ApplyTurnMetadata(sessionID, providerName string, data map[string]string) error {
	sess, err := c.store.Get(sessionID)
	if err != nil {
		return err
	}
	if providerName != "" && providerName != sess.Provider {
		return ErrProviderMismatch
	}
	for field, value := range data {
		if err := sess.SetDraftField(field, value); err != nil {
			log.Printf("session %s: session_data field %q ignored: %v", sess.SessionID, field, err)
		}
	}
	return nil
}

// completeBooking submits the confirmed draft and closes the call with a
// confirmation or apology message.
func (c *Controller) completeBooking(sess *Session, provider VoiceProvider, language string) ([]byte, error) {
	sess.SetState(models.StateCompleting)
	sess.AppendTranscript("system", "stage: completing")

	confirmationID, err := c.booking.Submit(sess.Context(), sess.Draft())
	var reply string
	outcome := models.OutcomeBooked
	if err != nil {
		log.Printf("session %s: booking submission failed: %v", sess.SessionID, err)
		outcome = models.OutcomeFailed
		reply = "I am sorry, I could not complete your booking. Please try again later or book online. Goodbye."
	} else {
		sess.AdvanceStage(models.StageCompleted)
		reply = fmt.Sprintf("Your appointment is booked. Your confirmation number is %s. Thank you, goodbye.", confirmationID)
	}
	sess.AppendTranscript("agent", reply)

	wav := c.speak(sess, provider, language, reply)
	c.finish(sess, outcome, confirmationID, true)
	if wav == nil {
		return nil, ErrProviderUnavailable
	}
	return wav, nil
}

// HandleOutbound originates a call, speaks the message, and leaves the
// session active so the callee can continue into the booking dialogue.
func (c *Controller) HandleOutbound(phoneNumber, message string) (*Session, error) {
	channelID, err := c.telephony.Dial(phoneNumber)
	if err != nil {
		return nil, err
	}
	defaults := c.providers.Defaults()
	sess, err := c.store.Create(channelID, phoneNumber, defaults.Language, defaults.Provider)
	if err != nil {
		// A stale session still owns the channel; the dial succeeded so
		// hang the new leg up again.
		if hangupErr := c.telephony.Hangup(channelID); hangupErr != nil && !errors.Is(hangupErr, ErrChannelNotFound) {
			log.Printf("hangup of orphaned channel %s failed: %v", channelID, hangupErr)
		}
		return nil, err
	}
	sess.SetState(models.StateActive)
	sess.AppendTranscript("agent", message)

	provider, err := c.providers.Get(sess.Provider)
	if err == nil {
		if wav := c.speak(sess, provider, sess.Language, message); wav != nil {
			if err := c.telephony.PlayAudio(channelID, wav); err != nil {
				if errors.Is(err, ErrChannelNotFound) {
					c.finish(sess, models.OutcomeHangup, "", false)
					return nil, ErrChannelNotFound
				}
				log.Printf("session %s: playback failed: %v", sess.SessionID, err)
			}
		}
	}
	log.Printf("session %s: outbound call to %s on channel %s", sess.SessionID, phoneNumber, channelID)
	return sess, nil
}

// EndCall forces a session to Aborted and Closed.
func (c *Controller) EndCall(sessionID string) error {
	sess, err := c.store.Get(sessionID)
	if err != nil {
		return err
	}
	log.Printf("session %s: end-call requested", sess.SessionID)
	c.finish(sess, models.OutcomeAborted, "", true)
	return nil
}

// ListActive returns summaries of all active sessions.
func (c *Controller) ListActive() []models.SessionSummary {
	return c.store.ListActive()
}

// handleCallEvent consumes asynchronous call-state events from the PBX.
func (c *Controller) handleCallEvent(ev CallEvent) {
	switch ev.Type {
	case EventRinging:
		if _, err := c.store.GetByChannel(ev.ChannelID); err == nil {
			return // outbound leg we originated ourselves
		}
		sess, greeting, err := c.HandleIncoming(ev.ChannelID, ev.CallerID, "", "")
		if err != nil {
			log.Printf("incoming call on channel %s rejected: %v", ev.ChannelID, err)
			return
		}
		provider, err := c.providers.Get(sess.Provider)
		if err != nil {
			return
		}
		if wav := c.speak(sess, provider, sess.Language, greeting); wav != nil {
			if err := c.telephony.PlayAudio(ev.ChannelID, wav); err != nil && !errors.Is(err, ErrChannelNotFound) {
				log.Printf("session %s: greeting playback failed: %v", sess.SessionID, err)
			}
		}
	case EventAnswered:
		if sess, err := c.store.GetByChannel(ev.ChannelID); err == nil {
			sess.Touch()
		}
	case EventHangup:
		sess, err := c.store.GetByChannel(ev.ChannelID)
		if err != nil {
			return
		}
		log.Printf("session %s: caller hangup on channel %s", sess.SessionID, ev.ChannelID)
		c.finish(sess, models.OutcomeHangup, "", false)
	}
}

// handleExpiry finalizes sessions evicted by the idle sweep. The store has
// already removed them.
func (c *Controller) handleExpiry(sess *Session) {
	sess.Cancel()
	sess.SetState(models.StateAborted)
	if err := c.telephony.Hangup(sess.ChannelID); err != nil && !errors.Is(err, ErrChannelNotFound) {
		log.Printf("session %s: hangup after timeout failed: %v", sess.SessionID, err)
	}
	sess.SetState(models.StateClosed)
	c.archiveRecord(sess.Record(models.OutcomeTimedOut, ""))
}

// finish takes a session through Aborted/Closed, optionally hanging up the
// channel, archives the record and removes the session from the store.
func (c *Controller) finish(sess *Session, outcome models.CallOutcome, confirmationID string, hangup bool) {
	sess.Cancel()
	if outcome != models.OutcomeBooked && outcome != models.OutcomeFailed {
		sess.SetState(models.StateAborted)
	}
	if hangup {
		if err := c.telephony.Hangup(sess.ChannelID); err != nil {
			if errors.Is(err, ErrChannelNotFound) {
				log.Printf("session %s: channel %s already disconnected", sess.SessionID, sess.ChannelID)
			} else {
				log.Printf("session %s: hangup failed: %v", sess.SessionID, err)
			}
		}
	}
	sess.SetState(models.StateClosed)
	c.archiveRecord(sess.Record(outcome, confirmationID))
	c.store.Remove(sess.SessionID)
}

func (c *Controller) archiveRecord(record models.CallRecord) {
	if c.archive == nil {
		return
	}
	if _, err := c.archive.SaveCallRecord(record); err != nil {
		log.Printf("archiving call %s failed: %v", record.SessionID, err)
	}
}

// speak synthesizes best-effort closing audio; nil when synthesis fails.
func (c *Controller) speak(sess *Session, provider VoiceProvider, language, text string) []byte {
	wav, err := SynthesizeWithRetry(context.Background(), provider, text, language, c.voiceOptions())
	if err != nil {
		log.Printf("session %s: synthesis failed: %v", sess.SessionID, err)
		return nil
	}
	return wav
}

func (c *Controller) synthesize(sess *Session, provider VoiceProvider, language, text string) ([]byte, error) {
	wav, err := SynthesizeWithRetry(sess.Context(), provider, text, language, c.voiceOptions())
	if err != nil {
		log.Printf("session %s: synthesis failed: %v", sess.SessionID, err)
		return nil, err
	}
	return wav, nil
}

func (c *Controller) voiceOptions() VoiceOptions {
	return VoiceOptions{SpeakingRate: c.providers.Defaults().SpeakingRate}
}
