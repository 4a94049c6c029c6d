// Package cryptutil implements component B (Crypto): AES-256-GCM envelope
// encryption for persisted tokens, HMAC-based email-code hashing, and
// constant-time comparison helpers.
//
// The teacher's field-level encryption (storage/sql/encryption.go,
// storage/sql/field_encryption.go) uses Fernet, which does not produce the
// iv‖ciphertext‖tag wire format spec.md §4.B mandates byte-for-byte; since
// the format itself is spec-mandated rather than a free implementation
// choice, this package goes directly to crypto/aes+crypto/cipher instead
// of wiring Fernet here.
package cryptutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
)

// KeySize is the required length, in bytes, of keys passed to Encrypt/Decrypt.
const KeySize = 32

// Encrypt seals plain with an AES-256-GCM key, returning
// base64url(nonce‖ciphertext‖tag) with no padding, per spec.md §4.B.
func Encrypt(plain []byte, key [KeySize]byte) (string, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", fmt.Errorf("cryptutil: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cryptutil: new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("cryptutil: read nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, plain, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. It fails closed: any
// truncation or tampering with the ciphertext/tag returns an error rather
// than partial plaintext.
func Decrypt(encoded string, key [KeySize]byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("cryptutil: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptutil: new gcm: %w", err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("cryptutil: decode: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize+gcm.Overhead() {
		return nil, fmt.Errorf("cryptutil: ciphertext too short")
	}
	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptutil: open: %w", err)
	}
	return plain, nil
}

// ParseKeyHex decodes a 64-hex-char key such as RP_TOKEN_ENCRYPTION_KEY
// (spec.md §6) into the fixed-size array Encrypt/Decrypt expect.
func ParseKeyHex(hexKey string) ([KeySize]byte, error) {
	var out [KeySize]byte
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return out, fmt.Errorf("cryptutil: invalid hex key: %w", err)
	}
	if len(raw) != KeySize {
		return out, fmt.Errorf("cryptutil: key must decode to %d bytes, got %d", KeySize, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// HashEmailCode computes the HMAC-SHA256 of the OTP binding tuple
// (code, lowercased email, session id, issued_at) keyed by secret, per
// spec.md §4.B. It returns lowercase hex.
func HashEmailCode(code, email string, sessionID string, issuedAtUnixMilli int64, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(code))
	mac.Write([]byte{0})
	mac.Write([]byte(strings.ToLower(email)))
	mac.Write([]byte{0})
	mac.Write([]byte(sessionID))
	mac.Write([]byte{0})
	mac.Write([]byte(strconv.FormatInt(issuedAtUnixMilli, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyEmailCode recomputes the HMAC and compares in constant time.
func VerifyEmailCode(code, email, sessionID string, issuedAtUnixMilli int64, secret []byte, want string) bool {
	got := HashEmailCode(code, email, sessionID, issuedAtUnixMilli, secret)
	return ConstantTimeEqual(got, want)
}

// HashEmail returns the SHA-256 hex digest of the lowercased email, used
// as the tombstone blind index (component R).
func HashEmail(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(email)))
	return hex.EncodeToString(sum[:])
}

// ConstantTimeEqual compares two strings without leaking timing
// information about where they first differ.
func ConstantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		// still run a dummy comparison so callers can't distinguish
		// length mismatches from content mismatches via timing.
		subtle.ConstantTimeCompare([]byte(a), []byte(a))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// GenerateOTP returns a CSPRNG 6-digit one-time code, zero-padded.
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("cryptutil: otp rand: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
