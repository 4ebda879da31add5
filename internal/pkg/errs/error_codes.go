/*
Package errs provides custom error types and application-level error code constants.

The codes identify failures both in HTTP responses and in "error" events pushed
to WebSocket clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrInvalidJSONFormat indicates that a request body or client frame is not valid JSON.
	ErrInvalidJSONFormat = 1003

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007

	// ErrUnsupportedEvent indicates that a client frame named an event the server does not handle.
	ErrUnsupportedEvent = 1008
)

// 2xxx: Note Collaboration Errors
const (
	// ErrNoteIDMissing indicates that an event did not name the note it targets.
	ErrNoteIDMissing = 2101

	// ErrInvalidCursorPosition indicates that a cursor offset was negative.
	ErrInvalidCursorPosition = 2201
)

// 3xxx: Identity and Session Errors
const (
	// ErrUnauthorized indicates that no valid identity token accompanied the request.
	ErrUnauthorized = 3001

	// ErrSessionSlow indicates the connection was closed because it could not keep up with broadcasts.
	ErrSessionSlow = 3004
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrBusUnavailable indicates the message bus could not be reached.
	ErrBusUnavailable = 5001
)
