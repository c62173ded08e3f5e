// Package idgen generates the identifiers handed out by the agent.
package idgen

import (
	"crypto/rand"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Generator produces unique string identifiers
type Generator func() string

// NanoID returns a Generator of base-36 ids of the given length, drawn from crypto/rand
func NanoID(length int) Generator {
	// Largest multiple of len(alphabet) below 256; bytes above it are redrawn
	const limit = 256 - 256%len(alphabet)
	return func() string {
		out := make([]byte, 0, length)
		buf := make([]byte, length)
		for len(out) < length {
			if _, err := rand.Read(buf); err != nil {
				panic("idgen: crypto/rand failed: " + err.Error())
			}
			for _, b := range buf {
				if int(b) >= limit {
					continue
				}
				out = append(out, alphabet[int(b)%len(alphabet)])
				if len(out) == length {
					break
				}
			}
		}
		return string(out)
	}
}

// UUIDv7 returns a Generator of RFC 9562 version 7 UUIDs
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends prefix to every id of gen
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// ContextID returns a Generator of discovery context ids of the form
// ctx_<unix seconds>_<6 chars [a-z0-9]>. A nil clock means time.Now.
func ContextID(now func() time.Time) Generator {
	if now == nil {
		now = time.Now
	}
	suffix := NanoID(6)
	return func() string {
		return "ctx_" + strconv.FormatInt(now().Unix(), 10) + "_" + suffix()
	}
}
