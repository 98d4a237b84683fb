package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// KeySize is the length of X25519 public and private keys.
const KeySize = 32

// GenerateKeyPair generates a new X25519 identity key pair.
func GenerateKeyPair() (pub, priv *[32]byte, err error) {
	pub, priv, err = box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate identity keypair: %w", err)
	}
	return pub, priv, nil
}

// PublicFromPrivate derives the X25519 public key of priv.
func PublicFromPrivate(priv *[32]byte) ([32]byte, error) {
	var pub [32]byte
	out, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return pub, fmt.Errorf("failed to derive public key: %w", err)
	}
	copy(pub[:], out)
	return pub, nil
}

// SharedKey computes the NaCl box precomputed key between a private key and a
// peer public key: HSalsa20 over the X25519 shared point. Both sides of a pair
// obtain the same value.
func SharedKey(peerPub, priv *[32]byte) [32]byte {
	var shared [32]byte
	box.Precompute(&shared, peerPub, priv)
	return shared
}

// KeysEqual compares two keys in constant time.
func KeysEqual(a, b [32]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// Wipe overwrites b with zeros.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
