package crypto

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// EncodeBase64 encodes bytes with standard padded base64, the encoding used
// for keys, payloads and nonces on the wire.
func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeBase64 accepts standard or URL-safe base64, padded or not.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if out, err := enc.DecodeString(s); err == nil {
			return out, nil
		}
	}
	return nil, fmt.Errorf("invalid base64 value")
}

// DecodeKey decodes a base64 32-byte key.
func DecodeKey(s string) ([32]byte, error) {
	var key [32]byte
	raw, err := DecodeBase64(s)
	if err != nil {
		return key, err
	}
	if len(raw) != KeySize {
		return key, fmt.Errorf("invalid key length: %d (expected %d)", len(raw), KeySize)
	}
	copy(key[:], raw)
	Wipe(raw)
	return key, nil
}

// EncodeKey encodes a 32-byte key as base64.
func EncodeKey(key [32]byte) string {
	return EncodeBase64(key[:])
}
