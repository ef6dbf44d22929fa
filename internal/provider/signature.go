package provider

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const SignatureHeader = "X-Provider-Signature"

var ErrBadSignature = errors.New("invalid provider signature")

// Signer computes the keyed BLAKE2b-256 MAC the provider attaches to callbacks.
type Signer struct {
	key []byte
}

func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("callback secret is not configured")
	}
	key := []byte(secret)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum256(key)
		key = sum[:]
	}
	return &Signer{key: key}, nil
}

func (s *Signer) Sign(body []byte) string {
	h, err := blake2b.New256(s.key)
	if err != nil {
		// key length is checked in NewSigner
		panic(err)
	}
	_, _ = h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Signer) Verify(body []byte, signature string) error {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return ErrBadSignature
	}
	want, _ := hex.DecodeString(s.Sign(body))
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrBadSignature
	}
	return nil
}
