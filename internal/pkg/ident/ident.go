/*
Package ident defines ID, the identifier type used for users and notes on every
wire the server speaks.

Older clients send ids as JSON numbers (`"noteId": 42`), newer ones as strings.
ID accepts both, keeps the textual form, and writes integer-looking ids back as
JSON numbers so those clients receive the shape they sent.
*/
package ident

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// maxSafeDigits keeps re-emitted numbers inside the range a JavaScript client
// can represent exactly (2^53 has 16 digits).
const maxSafeDigits = 15

// ID is a user or note identifier in canonical textual form.
type ID string

// String returns the textual form.
func (id ID) String() string {
	return string(id)
}

// IsZero reports whether the id is empty.
func (id ID) IsZero() bool {
	return id == ""
}

// MarshalJSON writes integer-looking ids as JSON numbers and everything else as strings.
func (id ID) MarshalJSON() ([]byte, error) {
	if isPlainInteger(string(id)) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// UnmarshalJSON accepts a JSON string, a JSON number or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*id = ""
		return nil

	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("ident: invalid string id: %w", err)
		}
		*id = ID(s)
		return nil

	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("ident: id must be a string or a number, got %s", data)
		}
		*id = ID(n.String())
		return nil
	}
}

// isPlainInteger reports whether s is a canonical decimal integer: optional minus
// sign, no leading zeros, short enough to survive a float64 round trip.
func isPlainInteger(s string) bool {
	digits := s
	if len(digits) > 0 && digits[0] == '-' {
		digits = digits[1:]
	}

	if len(digits) == 0 || len(digits) > maxSafeDigits {
		return false
	}

	if len(digits) > 1 && digits[0] == '0' {
		return false
	}

	if s == "-0" {
		return false
	}

	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}
