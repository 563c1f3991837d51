/**
 * @description
 * Debit card PIN hashing and verification.
 *
 * @notes
 * - New hashes are bcrypt, which salts per hash.
 * - Cards migrated from the previous platform carry an unsalted SHA-256 digest encoded
 *   as standard base64. Those still verify, and a successful verification reports that
 *   the hash should be upgraded.
 */

package app

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/transfa/ledger-service/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

var pinHashCost = bcrypt.DefaultCost

// HashPIN returns a bcrypt hash of pin.
func HashPIN(pin string) (string, error) {
	if strings.TrimSpace(pin) == "" {
		return "", fmt.Errorf("%w: pin must not be empty", domain.ErrInvalidArgument)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), pinHashCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash pin: %w", err)
	}
	return string(hash), nil
}

// VerifyPIN checks pin against a stored hash. needsUpgrade is true when the stored hash is
// in the legacy format and matched.
func VerifyPIN(storedHash, pin string) (ok bool, needsUpgrade bool) {
	if storedHash == "" {
		return false, false
	}
	if isBcryptHash(storedHash) {
		err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(pin))
		return err == nil, false
	}

	digest := sha256.Sum256([]byte(pin))
	legacy := base64.StdEncoding.EncodeToString(digest[:])
	if subtle.ConstantTimeCompare([]byte(legacy), []byte(storedHash)) == 1 {
		return true, true
	}
	return false, false
}

func isBcryptHash(hash string) bool {
	return strings.HasPrefix(hash, "$2")
}
