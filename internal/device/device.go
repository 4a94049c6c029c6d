// Package device implements component L, DeviceFlow: the RFC 8628 device
// authorization grant state machine. Grounded on the teacher's
// storage.NewUserCode / storage.DeviceRequest shape and
// server/deviceflowhandlers.go's polling enforcement, rebuilt against
// storage.KV with google/uuid for device_code generation (the teacher
// hand-rolls a base32 id; this spec's device_code is explicitly a UUID
// per spec.md §3).
package device

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/authrim/authrim/internal/oidcerr"
	"github.com/authrim/authrim/storage"
)

const userCodeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// State is the device code's lifecycle state.
type State string

const (
	StatePending  State = "pending"
	StateApproved State = "approved"
	StateDenied   State = "denied"
	StateConsumed State = "consumed"
	StateExpired  State = "expired"
)

// SlowDownIncrement is added to Interval on repeated too-fast polling.
const SlowDownIncrement = 5 * time.Second

const DefaultExpiresIn = 600 * time.Second
const DefaultInterval = 5 * time.Second

// Code is the durable device-authorization record.
type Code struct {
	DeviceCode   string
	UserCode     string
	ClientID     string
	Scope        string
	State        State
	ExpiresAt    time.Time
	Interval     time.Duration
	LastPolledAt time.Time
	PollCount    int
	UserID       string
}

// Store is DeviceFlow.
type Store struct {
	kv storage.KV
}

func New(kv storage.KV) *Store {
	return &Store{kv: kv}
}

func deviceKey(deviceCode string) string { return fmt.Sprintf("device/code/%s", deviceCode) }
func userKey(userCode string) string     { return fmt.Sprintf("device/user/%s", userCode) }

func newUserCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, err)
	}
	out := make([]byte, 8)
	for i, b := range buf {
		out[i] = userCodeAlphabet[int(b)%len(userCodeAlphabet)]
	}
	return fmt.Sprintf("%s-%s", out[:4], out[4:]), nil
}

// Authorize mints a new device/user code pair per spec.md §4.L.
func (s *Store) Authorize(ctx context.Context, clientID, scope string) (Code, error) {
	userCode, err := newUserCode()
	if err != nil {
		return Code{}, err
	}
	c := Code{
		DeviceCode: uuid.NewString(),
		UserCode:   userCode,
		ClientID:   clientID,
		Scope:      scope,
		State:      StatePending,
		ExpiresAt:  time.Now().Add(DefaultExpiresIn),
		Interval:   DefaultInterval,
	}
	ttl := time.Until(c.ExpiresAt)
	if err := s.kv.Put(ctx, deviceKey(c.DeviceCode), encode(c), ttl); err != nil {
		return Code{}, oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, err)
	}
	if err := s.kv.Put(ctx, userKey(c.UserCode), []byte(c.DeviceCode), ttl); err != nil {
		return Code{}, oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, err)
	}
	return c, nil
}

func (s *Store) loadByDeviceCode(ctx context.Context, deviceCode string) (Code, error) {
	raw, err := s.kv.Get(ctx, deviceKey(deviceCode))
	if err != nil {
		return Code{}, oidcerr.New(oidcerr.KindNotFound, oidcerr.InvalidGrant, "unknown device_code")
	}
	return decode(raw)
}

func (s *Store) save(ctx context.Context, c Code) error {
	ttl := time.Until(c.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.kv.Put(ctx, deviceKey(c.DeviceCode), encode(c), ttl); err != nil {
		return oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, err)
	}
	return nil
}

// Verify transitions pending -> approved|denied by user_code, per
// spec.md §4.L.
func (s *Store) Verify(ctx context.Context, userCode string, approve bool, userID string) error {
	deviceCodeRaw, err := s.kv.Get(ctx, userKey(userCode))
	if err != nil {
		return oidcerr.New(oidcerr.KindNotFound, oidcerr.InvalidRequest, "unknown or expired user_code")
	}
	c, err := s.loadByDeviceCode(ctx, string(deviceCodeRaw))
	if err != nil {
		return err
	}
	if c.State != StatePending {
		return oidcerr.New(oidcerr.KindConflict, oidcerr.Conflict, "device code already decided")
	}
	if time.Now().After(c.ExpiresAt) {
		c.State = StateExpired
		_ = s.save(ctx, c)
		return oidcerr.New(oidcerr.KindValidation, oidcerr.ExpiredToken, "device code expired")
	}
	if approve {
		c.State = StateApproved
		c.UserID = userID
	} else {
		c.State = StateDenied
	}
	return s.save(ctx, c)
}

// PollResult is the outcome of Token.
type PollResult struct {
	State    State
	Interval time.Duration
	Code     Code
}

// Token implements spec.md §4.L's polling state machine, including
// per-client too-fast-polling enforcement (slow_down with interval
// backoff).
func (s *Store) Token(ctx context.Context, deviceCode, clientID string) (PollResult, error) {
	c, err := s.loadByDeviceCode(ctx, deviceCode)
	if err != nil {
		return PollResult{}, err
	}
	if c.ClientID != clientID {
		return PollResult{}, oidcerr.New(oidcerr.KindValidation, oidcerr.InvalidGrant, "client_id mismatch")
	}

	now := time.Now()
	if now.After(c.ExpiresAt) && c.State != StateConsumed {
		c.State = StateExpired
		_ = s.save(ctx, c)
		return PollResult{State: StateExpired, Interval: c.Interval}, oidcerr.Protocol(oidcerr.ExpiredToken, "device code expired")
	}

	if !c.LastPolledAt.IsZero() && now.Sub(c.LastPolledAt) < c.Interval {
		c.PollCount++
		c.Interval += SlowDownIncrement
		c.LastPolledAt = now
		_ = s.save(ctx, c)
		return PollResult{State: StatePending, Interval: c.Interval}, oidcerr.Protocol(oidcerr.SlowDown, "polling too frequently")
	}
	c.LastPolledAt = now

	switch c.State {
	case StatePending:
		_ = s.save(ctx, c)
		return PollResult{State: StatePending, Interval: c.Interval}, oidcerr.Protocol(oidcerr.AuthorizationPending, "user has not yet approved")
	case StateDenied:
		return PollResult{State: StateDenied}, oidcerr.Protocol(oidcerr.AccessDenied, "user denied the request")
	case StateExpired:
		return PollResult{State: StateExpired}, oidcerr.Protocol(oidcerr.ExpiredToken, "device code expired")
	case StateConsumed:
		return PollResult{State: StateConsumed}, oidcerr.Protocol(oidcerr.InvalidGrant, "device code already used")
	case StateApproved:
		c.State = StateConsumed
		if err := s.save(ctx, c); err != nil {
			return PollResult{}, err
		}
		return PollResult{State: StateApproved, Code: c}, nil
	default:
		return PollResult{}, oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, fmt.Errorf("unknown device code state %q", c.State))
	}
}
