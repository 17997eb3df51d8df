package secrets

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"

	dErrors "attesto/pkg/domain-errors"
)

// GenerateHex creates a cryptographically secure random token encoded as hex.
// Used for opaque access tokens, authorization codes, and c_nonce values.
func GenerateHex(byteLen int) (string, error) {
	buf := make([]byte, byteLen)
	if _, err := rand.Read(buf); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "could not generate secret")
	}
	return hex.EncodeToString(buf), nil
}

// GeneratePIN creates a numeric user PIN of the given length.
func GeneratePIN(digits int) (string, error) {
	pin := ""
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeInternal, "could not generate pin")
		}
		pin += fmt.Sprintf("%d", n.Int64())
	}
	return pin, nil
}

// HashPIN creates a bcrypt hash of the provided user PIN for storage.
// The plaintext PIN is shown to the user exactly once at session creation.
func HashPIN(pin string) (string, error) {
	if pin == "" {
		return "", dErrors.New(dErrors.CodeValidation, "pin cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "could not hash pin")
	}
	return string(hashed), nil
}

// VerifyPIN checks if a plaintext PIN matches a bcrypt hash.
func VerifyPIN(pin, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return dErrors.New(dErrors.CodeInvalidGrant, "invalid user pin")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not verify pin")
	}
	return nil
}
