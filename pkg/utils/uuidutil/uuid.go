package uuidutil

import (
	"encoding/base64"
	"encoding/hex"
	"github.com/google/uuid"
	"strings"
)

var escaper = strings.NewReplacer("9", "99", "-", "90", "_", "91")

// UUID returns a random UUID as 32 hex digits.
func UUID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// ShortUUID returns a random UUID in 22 to 44 alphanumeric characters, safe
// for MQTT client ids and topic levels.
// Refer to https://stackoverflow.com/questions/37934162/output-uuid-in-go-as-a-short-string
func ShortUUID() string {
	id := uuid.New()
	return escaper.Replace(base64.RawURLEncoding.EncodeToString(id[:]))
}

// SessionID returns a canonical UUID string naming one streaming session.
func SessionID() string {
	return uuid.NewString()
}
