package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"
)

var errFakeVerifyFailed = errors.New("fake signer: verification failed")

// fakeSigner signs by prefixing the payload; VerifySignature accepts
// anything bearing that prefix, standing in for keyring.KeyRing.
type fakeSigner struct{ fail bool }

func (f *fakeSigner) Sign(_ context.Context, _ jose.SignatureAlgorithm, payload []byte) (string, error) {
	return "signed:" + string(payload), nil
}

func (f *fakeSigner) VerifySignature(_ context.Context, compactJWS string) ([]byte, error) {
	if f.fail || len(compactJWS) < 7 || compactJWS[:7] != "signed:" {
		return nil, errFakeVerifyFailed
	}
	return []byte(compactJWS[7:]), nil
}

func TestFingerprintBindsProviderAndIdentity(t *testing.T) {
	a := Fingerprint(UpstreamIdentity{ProviderID: "google", ProviderSubject: "sub-1", Email: "a@example.com"})
	b := Fingerprint(UpstreamIdentity{ProviderID: "microsoft", ProviderSubject: "sub-1", Email: "a@example.com"})
	require.NotEqual(t, a, b)
}

func TestRememberMeBeginThenResume(t *testing.T) {
	store := newTestStore(t)
	rm := NewRememberMe(store, &fakeSigner{}, jose.RS256, time.Hour)
	ctx := context.Background()

	tok, err := rm.Begin(ctx, UpstreamIdentity{ProviderID: "google", ProviderSubject: "sub-1", Email: "a@example.com"}, "user-1")
	require.NoError(t, err)
	require.NotEmpty(t, tok.Value)

	sess, err := rm.Resume(ctx, tok.Value)
	require.NoError(t, err)
	require.Equal(t, "user-1", sess.UserID)
	require.Equal(t, "google", sess.ExternalProviderID)
}

func TestRememberMeResumeRejectsBadSignature(t *testing.T) {
	store := newTestStore(t)
	rm := NewRememberMe(store, &fakeSigner{fail: true}, jose.RS256, time.Hour)
	ctx := context.Background()

	tok, err := rm.Begin(ctx, UpstreamIdentity{ProviderID: "google", ProviderSubject: "sub-1"}, "user-1")
	require.NoError(t, err)

	_, err = rm.Resume(ctx, tok.Value)
	require.Error(t, err)
}

func TestRememberMeResumeUnknownValueFails(t *testing.T) {
	store := newTestStore(t)
	rm := NewRememberMe(store, &fakeSigner{}, jose.RS256, time.Hour)

	_, err := rm.Resume(context.Background(), "signed:never-created")
	require.Error(t, err)
}
