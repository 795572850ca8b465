package services

// CallEventType identifies an asynchronous call-state event from the PBX
// control channel.
type CallEventType string

const (
	EventRinging  CallEventType = "ringing"
	EventAnswered CallEventType = "answered"
	EventHangup   CallEventType = "hangup"
)

// CallEvent is one call-state notification forwarded to the controller.
type CallEvent struct {
	Type      CallEventType
	ChannelID string
	CallerID  string
}

// CallEventHandler consumes call events.
type CallEventHandler func(CallEvent)

// TelephonyAdapter abstracts the PBX control channel. Command methods fail
// with ErrChannelNotFound when the channel is gone, which callers treat as
// a caller-initiated hangup rather than a fault.
type TelephonyAdapter interface {
	// OnCallEvent registers the handler for asynchronous call events.
	OnCallEvent(h CallEventHandler)

	// Answer picks up a ringing channel.
	Answer(channelID string) error

	// Hangup tears down a channel.
	Hangup(channelID string) error

	// PlayAudio plays WAV audio to the channel.
	PlayAudio(channelID string, wav []byte) error

	// Dial originates an outbound call and returns the new channel id.
	Dial(phoneNumber string) (string, error)

	// Close releases the control-channel connection.
	Close() error
}
