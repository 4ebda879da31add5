/*
Package randx generates the identifiers the server hands out itself: connection
ids for every accepted WebSocket and the instance id that tags bus messages
published by this process.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"os"

	"github.com/google/uuid"
)

const (
	// Base62Chars defines the character set used for Base62 encoding (0-9, A-Z, a-z).
	Base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Base62Len is the total number of characters in the Base62 character set (62).
	Base62Len = int64(len(Base62Chars))

	// instanceSuffixLength is the number of random Base62 characters appended to an instance id.
	instanceSuffixLength = 6
)

// ConnectionID returns a new UUID v4 string identifying one client connection.
func ConnectionID() string {
	return uuid.New().String()
}

// InstanceID returns "<hostname>-<6 base62 chars>", readable in logs and unique
// enough to tell processes apart on a shared bus.
func InstanceID() (string, error) {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "notesync"
	}

	suffix := make([]byte, instanceSuffixLength)
	for i := range instanceSuffixLength {
		num, err := rand.Int(rand.Reader, big.NewInt(Base62Len))
		if err != nil {
			return "", fmt.Errorf("failed to generate random number for instance id: %w", err)
		}
		suffix[i] = Base62Chars[num.Int64()]
	}

	return host + "-" + string(suffix), nil
}
