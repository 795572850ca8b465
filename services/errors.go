package services

import "errors"

// Error taxonomy for the call coordinator. Handlers map these onto HTTP
// status codes; the controller maps them onto spoken fallback prompts.
var (
	// ErrDuplicateSession is returned when a channel already owns an
	// active session.
	ErrDuplicateSession = errors.New("channel already has an active session")

	// ErrSessionNotFound is returned for unknown or expired session ids.
	ErrSessionNotFound = errors.New("session not found")

	// ErrChannelNotFound means the telephony channel no longer exists,
	// usually because the caller already disconnected. Recoverable.
	ErrChannelNotFound = errors.New("telephony channel not found")

	// ErrProviderUnauthorized means the voice provider rejected our
	// credentials. Not retryable.
	ErrProviderUnauthorized = errors.New("voice provider rejected credentials")

	// ErrProviderUnavailable is a transient provider or network failure.
	// Retried with bounded backoff.
	ErrProviderUnavailable = errors.New("voice provider unavailable")

	// ErrUnsupportedLanguage means the session language is not served by
	// the selected provider.
	ErrUnsupportedLanguage = errors.New("language not supported by provider")

	// ErrUnknownProvider is returned for provider names the registry has
	// no backend for.
	ErrUnknownProvider = errors.New("unknown voice provider")

	// ErrProviderMismatch is returned when a turn names a different
	// provider than the one the session was created with. The provider is
	// fixed for the lifetime of a session.
	ErrProviderMismatch = errors.New("voice provider is fixed at session creation")

	// ErrClientSideProvider is returned by the browser provider variant:
	// speech handling happens on the caller's device, not on the server.
	ErrClientSideProvider = errors.New("speech is handled client-side for this provider")

	// ErrBookingSubmissionFailed means the appointment backend rejected or
	// could not accept the booking draft.
	ErrBookingSubmissionFailed = errors.New("booking submission failed")

	// ErrCallNotActive is returned when a turn arrives for a session that
	// is completing or already closed.
	ErrCallNotActive = errors.New("call is not active")
)
