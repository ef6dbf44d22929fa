package loyalty

import (
	"crypto/rand"
	"errors"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
)

const (
	codeVersion = 0x4c
	codeEntropy = 8
)

var ErrMalformedCode = errors.New("malformed reward code")

// CodeGenerator issues reward coupon codes of the form PREFIX + base58check(random).
// The checksum lets the API reject mistyped codes before touching the store.
type CodeGenerator struct {
	Prefix string
}

func (g CodeGenerator) Generate() (string, error) {
	if g.Prefix == "" {
		return "", errors.New("reward code prefix is not configured")
	}
	buf := make([]byte, codeEntropy)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return g.Prefix + base58.CheckEncode(buf, codeVersion), nil
}

// Owns reports whether code sits in the reward code namespace.
func (g CodeGenerator) Owns(code string) bool {
	return g.Prefix != "" && strings.HasPrefix(code, g.Prefix)
}

// Check verifies the prefix and checksum of a generated code.
func (g CodeGenerator) Check(code string) error {
	body, ok := strings.CutPrefix(code, g.Prefix)
	if !ok || body == "" {
		return ErrMalformedCode
	}
	payload, version, err := base58.CheckDecode(body)
	if err != nil || version != codeVersion || len(payload) != codeEntropy {
		return ErrMalformedCode
	}
	return nil
}
