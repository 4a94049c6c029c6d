package ciba

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/authrim/authrim/storage"
)

type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemKV() *memKV { return &memKV{data: make(map[string][]byte)} }

func (m *memKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return v, nil
}

func (m *memKV) Put(_ context.Context, key string, val []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = val
	return nil
}

func (m *memKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memKV) List(_ context.Context, prefix string, _ string) ([]string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, "", nil
}

func (m *memKV) GetAndDelete(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	delete(m.data, key)
	return v, nil
}

func (m *memKV) PutIfAbsent(_ context.Context, key string, val []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return storage.ErrAlreadyExists
	}
	m.data[key] = val
	return nil
}

func TestRequestAuthRequiresHint(t *testing.T) {
	s := New(newMemKV())
	_, err := s.RequestAuth(context.Background(), NewAuthReqParams{ClientID: "c1"})
	require.Error(t, err)
}

func TestApproveThenToken(t *testing.T) {
	s := New(newMemKV())
	ctx := context.Background()

	r, err := s.RequestAuth(ctx, NewAuthReqParams{ClientID: "c1", LoginHint: "user@example.com"})
	require.NoError(t, err)

	require.NoError(t, s.Decide(ctx, r.AuthReqID, true, "user-1"))

	result, err := s.Token(ctx, r.AuthReqID, "c1")
	require.NoError(t, err)
	require.Equal(t, StateApproved, result.State)

	_, err = s.Token(ctx, r.AuthReqID, "c1")
	require.Error(t, err)
}

func TestDenyThenToken(t *testing.T) {
	s := New(newMemKV())
	ctx := context.Background()

	r, err := s.RequestAuth(ctx, NewAuthReqParams{ClientID: "c1", LoginHint: "user@example.com"})
	require.NoError(t, err)
	require.NoError(t, s.Decide(ctx, r.AuthReqID, false, ""))

	_, err = s.Token(ctx, r.AuthReqID, "c1")
	require.Error(t, err)
}

func TestRequestAuthRequiresNotificationEndpointForPing(t *testing.T) {
	s := New(newMemKV())
	_, err := s.RequestAuth(context.Background(), NewAuthReqParams{
		ClientID: "c1", LoginHint: "user@example.com", DeliveryMode: DeliveryPing,
	})
	require.Error(t, err)
}

func TestPingDeliverySucceedsAndClientStillPolls(t *testing.T) {
	var notified []string
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		mu.Lock()
		notified = append(notified, req.Header.Get("Authorization"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := New(newMemKV())
	ctx := context.Background()

	r, err := s.RequestAuth(ctx, NewAuthReqParams{
		ClientID: "c1", LoginHint: "user@example.com",
		DeliveryMode: DeliveryPing, NotificationEndpoint: server.URL,
		ClientNotificationToken: "notif-token",
	})
	require.NoError(t, err)
	require.NoError(t, s.Decide(ctx, r.AuthReqID, true, "user-1"))

	due, err := s.DueForDelivery(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, s.AttemptDelivery(ctx, r.AuthReqID, NewHTTPNotifier(nil), nil))
	mu.Lock()
	require.Equal(t, []string{"Bearer notif-token"}, notified)
	mu.Unlock()

	result, err := s.Token(ctx, r.AuthReqID, "c1")
	require.NoError(t, err)
	require.Equal(t, StateApproved, result.State)
}

func TestPushDeliverySucceedsAndMarksConsumed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := New(newMemKV())
	ctx := context.Background()

	r, err := s.RequestAuth(ctx, NewAuthReqParams{
		ClientID: "c1", LoginHint: "user@example.com",
		DeliveryMode: DeliveryPush, NotificationEndpoint: server.URL,
	})
	require.NoError(t, err)
	require.NoError(t, s.Decide(ctx, r.AuthReqID, true, "user-1"))

	err = s.AttemptDelivery(ctx, r.AuthReqID, NewHTTPNotifier(nil), map[string]interface{}{"access_token": "at-1"})
	require.NoError(t, err)

	_, err = s.Token(ctx, r.AuthReqID, "c1")
	require.Error(t, err)
}

type failingNotifier struct{}

func (failingNotifier) Notify(context.Context, string, Notification) error {
	return fmt.Errorf("delivery failed")
}

func TestDeliveryFailureBacksOffThenDeadLetters(t *testing.T) {
	s := New(newMemKV())
	ctx := context.Background()

	r, err := s.RequestAuth(ctx, NewAuthReqParams{
		ClientID: "c1", LoginHint: "user@example.com",
		DeliveryMode: DeliveryPing, NotificationEndpoint: "http://example.invalid/notify",
	})
	require.NoError(t, err)
	require.NoError(t, s.Decide(ctx, r.AuthReqID, true, "user-1"))

	for i := 0; i < MaxDeliveryAttempts; i++ {
		require.NoError(t, s.AttemptDelivery(ctx, r.AuthReqID, failingNotifier{}, nil))
	}

	due, err := s.DueForDelivery(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Empty(t, due, "dead-lettered requests must not be due for further delivery")
}
