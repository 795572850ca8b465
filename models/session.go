package models

import (
	"fmt"
	"time"
)

// CallState represents the lifecycle state of a call session.
type CallState string

const (
	StateRinging    CallState = "ringing"
	StateActive     CallState = "active"
	StateCompleting CallState = "completing"
	StateAborted    CallState = "aborted"
	StateClosed     CallState = "closed"
)

// Stage is a step in the voice booking dialogue. Stages only move forward
// during a call, except for an explicit restart by the caller.
type Stage string

const (
	StageGreeting               Stage = "greeting"
	StageCollectingSymptoms     Stage = "collecting-symptoms"
	StageSelectingSpecialization Stage = "selecting-specialization"
	StageSelectingDoctor        Stage = "selecting-doctor"
	StageSelectingSlot          Stage = "selecting-slot"
	StageCollectingDetails      Stage = "collecting-details"
	StageConfirming             Stage = "confirming"
	StageCompleted              Stage = "completed"
)

var stageRank = map[Stage]int{
	StageGreeting:                0,
	StageCollectingSymptoms:      1,
	StageSelectingSpecialization: 2,
	StageSelectingDoctor:         3,
	StageSelectingSlot:           4,
	StageCollectingDetails:       5,
	StageConfirming:              6,
	StageCompleted:               7,
}

// Rank returns the position of the stage in the dialogue order.
func (s Stage) Rank() int {
	return stageRank[s]
}

// Before reports whether s comes earlier in the dialogue than other.
func (s Stage) Before(other Stage) bool {
	return stageRank[s] < stageRank[other]
}

// Transcript represents a single message in the conversation.
type Transcript struct {
	Role    string    `json:"role" firestore:"role"`
	Content string    `json:"content" firestore:"content"`
	Time    time.Time `json:"time,omitempty" firestore:"time,omitempty"`
}

// BookingDraft is the appointment record assembled incrementally from voice
// turns. Fields mirror the booking backend's appointment payload.
type BookingDraft struct {
	Symptoms       string `json:"symptoms,omitempty" firestore:"symptoms,omitempty"`
	Specialization string `json:"specialization,omitempty" firestore:"specialization,omitempty"`
	Doctor         string `json:"doctor,omitempty" firestore:"doctor,omitempty"`
	Date           string `json:"date,omitempty" firestore:"date,omitempty"`
	Time           string `json:"time,omitempty" firestore:"time,omitempty"`
	PatientName    string `json:"patient_name,omitempty" firestore:"patient_name,omitempty"`
	PatientPhone   string `json:"patient_phone,omitempty" firestore:"patient_phone,omitempty"`
}

// Set assigns a draft field by name. Fields confirmed in an earlier turn are
// never silently overwritten; changing one requires Reset first.
func (d *BookingDraft) Set(field, value string) error {
	slot := d.fieldSlot(field)
	if slot == nil {
		return fmt.Errorf("unknown draft field %q", field)
	}
	if *slot != "" && *slot != value {
		return fmt.Errorf("draft field %q already confirmed as %q", field, *slot)
	}
	*slot = value
	return nil
}

// Reset clears every draft field. Used when the caller asks to start over.
func (d *BookingDraft) Reset() {
	*d = BookingDraft{}
}

func (d *BookingDraft) fieldSlot(field string) *string {
	switch field {
	case "symptoms":
		return &d.Symptoms
	case "specialization":
		return &d.Specialization
	case "doctor":
		return &d.Doctor
	case "date":
		return &d.Date
	case "time":
		return &d.Time
	case "patient_name":
		return &d.PatientName
	case "patient_phone":
		return &d.PatientPhone
	}
	return nil
}

// NextStage returns the earliest dialogue stage whose information is still
// missing from the draft. Callers who volunteer information early skip the
// stages that collected it.
func (d *BookingDraft) NextStage() Stage {
	switch {
	case d.Specialization == "":
		if d.Symptoms == "" {
			return StageCollectingSymptoms
		}
		return StageSelectingSpecialization
	case d.Doctor == "":
		return StageSelectingDoctor
	case d.Date == "" || d.Time == "":
		return StageSelectingSlot
	case d.PatientName == "" || d.PatientPhone == "":
		return StageCollectingDetails
	default:
		return StageConfirming
	}
}

// SessionSummary is the operational view of one active call, served by the
// active-calls endpoint.
type SessionSummary struct {
	SessionID string    `json:"session_id"`
	ChannelID string    `json:"channel_id"`
	CallerID  string    `json:"caller_id"`
	Stage     Stage     `json:"stage"`
	State     CallState `json:"state"`
	Language  string    `json:"language"`
	CreatedAt time.Time `json:"created_at"`
}
