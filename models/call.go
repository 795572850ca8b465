package models

import "time"

// CallOutcome records how a call ended.
type CallOutcome string

const (
	OutcomeBooked    CallOutcome = "booked"
	OutcomeFailed    CallOutcome = "booking_failed"
	OutcomeAborted   CallOutcome = "aborted"
	OutcomeHangup    CallOutcome = "caller_hangup"
	OutcomeTimedOut  CallOutcome = "timed_out"
)

// CallRecord is the archived record of a finished call.
type CallRecord struct {
	SessionID      string       `json:"session_id" firestore:"session_id"`
	ChannelID      string       `json:"channel_id" firestore:"channel_id"`
	CallerID       string       `json:"caller_id" firestore:"caller_id"`
	Language       string       `json:"language" firestore:"language"`
	Provider       string       `json:"provider" firestore:"provider"`
	Transcript     []Transcript `json:"transcript" firestore:"transcript"`
	Draft          BookingDraft `json:"draft" firestore:"draft"`
	Outcome        CallOutcome  `json:"outcome" firestore:"outcome"`
	ConfirmationID string       `json:"confirmation_id,omitempty" firestore:"confirmation_id,omitempty"`
	StartTime      time.Time    `json:"start_time" firestore:"start_time"`
	EndTime        time.Time    `json:"end_time" firestore:"end_time"`
	DurationSecs   int          `json:"duration_secs" firestore:"duration_secs"`
}

// ProviderSettings is the mutable default configuration of the voice
// provider gateway.
type ProviderSettings struct {
	Provider     string  `json:"provider"`
	Language     string  `json:"language"`
	SpeakingRate float64 `json:"speaking_rate"`
}
