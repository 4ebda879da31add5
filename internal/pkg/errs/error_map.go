package errs

import "net/http"

// errorMap holds the user-facing message and HTTP status for every error code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:     {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrInvalidJSONFormat: {Code: ErrInvalidJSONFormat, Message: "Unsupported request format.", Status: http.StatusBadRequest},
	ErrRateLimitExceeded: {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},
	ErrUnsupportedEvent:  {Code: ErrUnsupportedEvent, Message: "Unsupported event: %s.", Status: http.StatusBadRequest},

	// 2xxx: Note Collaboration Errors
	ErrNoteIDMissing:         {Code: ErrNoteIDMissing, Message: "Note id is required.", Status: http.StatusBadRequest},
	ErrInvalidCursorPosition: {Code: ErrInvalidCursorPosition, Message: "Cursor position must not be negative.", Status: http.StatusBadRequest},

	// 3xxx: Identity and Session Errors
	ErrUnauthorized: {Code: ErrUnauthorized, Message: "Please sign in to continue.", Status: http.StatusUnauthorized},
	ErrSessionSlow:  {Code: ErrSessionSlow, Message: "Connection closed because it fell behind."},

	// 5xxx: Internal System Errors
	ErrUnknown:        {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrBusUnavailable: {Code: ErrBusUnavailable, Message: "Realtime sync is temporarily unavailable.", Status: http.StatusServiceUnavailable},
}
