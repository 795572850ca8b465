package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"medivoice/models"
)

// Session is one active call. Mutable fields are guarded by mu; turnMu
// serializes dialogue turns so stage transitions are never applied out of
// order for the same channel.
type Session struct {
	SessionID string
	ChannelID string
	CallerID  string
	Language  string
	Provider  string
	StartTime time.Time

	mu            sync.Mutex
	turnMu        sync.Mutex
	state         models.CallState
	stage         models.Stage
	lastActivity  time.Time
	transcript    []models.Transcript
	draft         models.BookingDraft
	repromptCount int

	// ctx is cancelled on hangup or eviction so in-flight provider calls
	// are abandoned rather than raced.
	ctx    context.Context
	cancel context.CancelFunc
}

// Context returns the session context, cancelled when the call ends.
func (s *Session) Context() context.Context { return s.ctx }

// Cancel abandons any in-flight work for this session.
func (s *Session) Cancel() { s.cancel() }

// LockTurn serializes turn processing for the session.
func (s *Session) LockTurn()   { s.turnMu.Lock() }
func (s *Session) UnlockTurn() { s.turnMu.Unlock() }

// GetLanguage returns the session language.
func (s *Session) GetLanguage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Language
}

// SetLanguage renegotiates the session language mid-call.
func (s *Session) SetLanguage(language string) {
	s.mu.Lock()
	s.Language = language
	s.mu.Unlock()
}

// Touch records activity so the idle sweep leaves the session alone.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *Session) State() models.CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState moves the session to a new lifecycle state.
func (s *Session) SetState(st models.CallState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Stage returns the current dialogue stage.
func (s *Session) Stage() models.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// AdvanceStage moves the dialogue forward. Backward moves are ignored
// except for an explicit restart, which resets the draft as well.
func (s *Session) AdvanceStage(next models.Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next.Rank() >= s.stage.Rank() {
		s.stage = next
	}
}

// Restart rewinds the dialogue at the caller's request.
func (s *Session) Restart() {
	s.mu.Lock()
	s.draft.Reset()
	s.stage = models.StageCollectingSymptoms
	s.repromptCount = 0
	s.mu.Unlock()
}

// Draft returns a copy of the booking draft.
func (s *Session) Draft() models.BookingDraft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// SetDraftField assigns a draft field, refusing to overwrite a value the
// caller already confirmed.
func (s *Session) SetDraftField(field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft.Set(field, value)
}

// Reprompts tracks consecutive failed extraction attempts. Any successful
// turn resets the count.
func (s *Session) Reprompts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repromptCount
}

func (s *Session) BumpReprompts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repromptCount++
	return s.repromptCount
}

func (s *Session) ResetReprompts() {
	s.mu.Lock()
	s.repromptCount = 0
	s.mu.Unlock()
}

// AppendTranscript appends one turn, skipping a duplicate of the previous
// entry (PBX media events can redeliver).
func (s *Session) AppendTranscript(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.transcript); n > 0 {
		last := s.transcript[n-1]
		if last.Role == role && last.Content == content {
			return
		}
	}
	s.transcript = append(s.transcript, models.Transcript{
		Role:    role,
		Content: content,
		Time:    time.Now(),
	})
	s.lastActivity = time.Now()
}

// TranscriptCopy returns the transcript history.
func (s *Session) TranscriptCopy() []models.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Transcript, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Summary returns the operational view of the session.
func (s *Session) Summary() models.SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.SessionSummary{
		SessionID: s.SessionID,
		ChannelID: s.ChannelID,
		CallerID:  s.CallerID,
		Stage:     s.stage,
		State:     s.state,
		Language:  s.Language,
		CreatedAt: s.StartTime,
	}
}

func (s *Session) idleSince(threshold time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity.Before(threshold)
}

// Record builds the archival record for a finished call.
func (s *Session) Record(outcome models.CallOutcome, confirmationID string) models.CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	end := time.Now()
	transcript := make([]models.Transcript, len(s.transcript))
	copy(transcript, s.transcript)
	return models.CallRecord{
		SessionID:      s.SessionID,
		ChannelID:      s.ChannelID,
		CallerID:       s.CallerID,
		Language:       s.Language,
		Provider:       s.Provider,
		Transcript:     transcript,
		Draft:          s.draft,
		Outcome:        outcome,
		ConfirmationID: confirmationID,
		StartTime:      s.StartTime,
		EndTime:        end,
		DurationSecs:   int(end.Sub(s.StartTime).Seconds()),
	}
}

// Store is the registry of active call sessions. Mutations are guarded by
// one coarse lock because they arrive from both the call-event path and the
// idle sweep.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session // keyed by session id
	channels map[string]string   // channel id -> session id

	idleTimeout   time.Duration
	sweepInterval time.Duration
	onExpire      func(*Session)
}

// NewStore creates a session store with the given idle eviction settings.
func NewStore(idleTimeout, sweepInterval time.Duration) *Store {
	return &Store{
		sessions:      make(map[string]*Session),
		channels:      make(map[string]string),
		idleTimeout:   idleTimeout,
		sweepInterval: sweepInterval,
	}
}

// OnExpire registers the handler invoked for each evicted session. Must be
// set before Run.
func (st *Store) OnExpire(fn func(*Session)) {
	st.onExpire = fn
}

// Create registers a session for a channel. Exactly one session may exist
// per active channel.
func (st *Store) Create(channelID, callerID, language, provider string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, taken := st.channels[channelID]; taken {
		return nil, ErrDuplicateSession
	}
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	sess := &Session{
		SessionID:    uuid.New().String(),
		ChannelID:    channelID,
		CallerID:     callerID,
		Language:     language,
		Provider:     provider,
		StartTime:    now,
		state:        models.StateRinging,
		stage:        models.StageGreeting,
		lastActivity: now,
		ctx:          ctx,
		cancel:       cancel,
	}
	st.sessions[sess.SessionID] = sess
	st.channels[channelID] = sess.SessionID
	return sess, nil
}

// Get returns the session for an id.
func (st *Store) Get(sessionID string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	sess, ok := st.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// GetByChannel returns the session owning a telephony channel.
func (st *Store) GetByChannel(channelID string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	id, ok := st.channels[channelID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return st.sessions[id], nil
}

// Remove deletes a session. Idempotent.
func (st *Store) Remove(sessionID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	sess, ok := st.sessions[sessionID]
	if !ok {
		return
	}
	delete(st.sessions, sessionID)
	if st.channels[sess.ChannelID] == sessionID {
		delete(st.channels, sess.ChannelID)
	}
}

// ListActive returns summaries of all active sessions.
func (st *Store) ListActive() []models.SessionSummary {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]models.SessionSummary, 0, len(st.sessions))
	for _, sess := range st.sessions {
		out = append(out, sess.Summary())
	}
	return out
}

// Len returns the number of active sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Run sweeps for idle sessions until ctx is done.
func (st *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(st.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st.Sweep()
		}
	}
}

// Sweep evicts sessions idle past the threshold. Sessions in the middle of
// a turn hold their turn lock and are skipped until the next pass.
func (st *Store) Sweep() {
	threshold := time.Now().Add(-st.idleTimeout)

	st.mu.Lock()
	var expired []*Session
	for id, sess := range st.sessions {
		if !sess.idleSince(threshold) {
			continue
		}
		if !sess.turnMu.TryLock() {
			continue // turn in progress, not idle
		}
		sess.turnMu.Unlock()
		delete(st.sessions, id)
		if st.channels[sess.ChannelID] == id {
			delete(st.channels, sess.ChannelID)
		}
		expired = append(expired, sess)
	}
	st.mu.Unlock()

	for _, sess := range expired {
		log.Printf("session %s (channel %s) evicted after idle timeout", sess.SessionID, sess.ChannelID)
		if st.onExpire != nil {
			st.onExpire(sess)
		}
	}
}
