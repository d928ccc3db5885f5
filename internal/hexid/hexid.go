// Package hexid generates short random hex identifiers for session
// directories and log files.
package hexid

import (
	"crypto/rand"
	"encoding/hex"
)

// New returns a 12-character lowercase hex string (6 random bytes).
func New() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("hexid: crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b[:])
}
