package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Signer authenticates messages exchanged with the gateway using the shared
// merchant secret. The signed message is the route, a newline and the payload.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) (*Signer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrInvalidConfig
	}
	return &Signer{secret: []byte(secret)}, nil
}

func (s *Signer) Sign(route string, payload []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(route))
	_, _ = mac.Write([]byte("\n"))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Signer) Verify(route string, payload []byte, signature string) bool {
	signature = strings.ToLower(strings.TrimSpace(signature))
	if signature == "" {
		return false
	}
	expected := s.Sign(route, payload)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// Canonical encodes v as the byte form that gets signed. Struct fields keep
// declaration order and map keys are sorted, so equal values sign equally.
func Canonical(v any) ([]byte, error) {
	return json.Marshal(v)
}
