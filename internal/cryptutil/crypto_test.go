package cryptutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey() [KeySize]byte {
	var k [KeySize]byte
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey()
	plain := []byte("refresh-token-payload")

	enc, err := Encrypt(plain, key)
	require.NoError(t, err)

	got, err := Decrypt(enc, key)
	require.NoError(t, err)
	require.Equal(t, plain, got)
}

func TestDecryptTamperedCiphertextFailsClosed(t *testing.T) {
	key := testKey()
	enc, err := Encrypt([]byte("hello"), key)
	require.NoError(t, err)

	tampered := []byte(enc)
	// Flip a character deep enough to land in the ciphertext/tag, not just
	// the nonce prefix.
	idx := len(tampered) - 1
	if tampered[idx] == 'A' {
		tampered[idx] = 'B'
	} else {
		tampered[idx] = 'A'
	}

	_, err = Decrypt(string(tampered), key)
	require.Error(t, err)
}

func TestDecryptTooShortFails(t *testing.T) {
	key := testKey()
	_, err := Decrypt("AA", key)
	require.Error(t, err)
}

func TestHashEmailCodeVerify(t *testing.T) {
	secret := []byte("super-secret")
	hash := HashEmailCode("123456", "User@Example.com", "sess-1", 1000, secret)
	require.True(t, VerifyEmailCode("123456", "user@example.com", "sess-1", 1000, secret, hash))
	require.False(t, VerifyEmailCode("654321", "user@example.com", "sess-1", 1000, secret, hash))
}

func TestHashEmailIsDeterministicAndCaseInsensitive(t *testing.T) {
	require.Equal(t, HashEmail("FOO@bar.com"), HashEmail("foo@bar.com"))
}

func TestGenerateOTPIsSixDigits(t *testing.T) {
	for i := 0; i < 20; i++ {
		code, err := GenerateOTP()
		require.NoError(t, err)
		require.Len(t, code, 6)
		require.True(t, strings.TrimLeft(code, "0123456789") == "")
	}
}

func TestParseKeyHex(t *testing.T) {
	_, err := ParseKeyHex(strings.Repeat("ab", 32))
	require.NoError(t, err)

	_, err = ParseKeyHex("not-hex")
	require.Error(t, err)

	_, err = ParseKeyHex("ab")
	require.Error(t, err)
}
