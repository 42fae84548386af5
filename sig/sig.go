// Package sig implements signed message-view capability tokens.
//
// A token is bound to one user id and signed with a secret key. A holder of a
// valid token may open a message addressed to that user without
// authenticating, e.g. through a link in a notification email. Tokens are
// tamper-evident, have no expiry and may be used multiple times.
package sig

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
)

var (
	ErrInvalid = errors.New("sig: malformed token")
	ErrVerify  = errors.New("sig: verification failed")
)

// Key is the secret for signing and verifying capability tokens. It satisfies
// the store.Verifier contract.
type Key []byte

// Generate returns a token granting view access for messages addressed to
// userID.
func (k Key) Generate(userID int64) string {
	buf := make([]byte, 9)
	buf[0] = 0 // Version, for future format changes.
	binary.BigEndian.PutUint64(buf[1:], uint64(userID))
	mac := hmac.New(sha256.New, k)
	mac.Write(buf)
	h := mac.Sum(nil)[:12]
	buf = append(buf, h...)
	return base64.RawURLEncoding.EncodeToString(buf)
}

// Verify reports whether token is a valid capability for userID.
func (k Key) Verify(token string, userID int64) bool {
	id, err := k.parse(token)
	return err == nil && id == userID
}

func (k Key) parse(token string) (int64, error) {
	buf, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, ErrInvalid
	}
	if len(buf) != 9+12 {
		return 0, ErrInvalid
	}
	if version := buf[0]; version != 0 {
		return 0, ErrInvalid
	}
	mac := hmac.New(sha256.New, k)
	mac.Write(buf[:9])
	h := mac.Sum(nil)[:12]
	if !hmac.Equal(buf[9:], h) {
		return 0, ErrVerify
	}
	return int64(binary.BigEndian.Uint64(buf[1:9])), nil
}
