// Package ciba implements component M, CIBAEngine: the backchannel
// authentication request lifecycle (CIBA, OpenID Connect Client-Initiated
// Backchannel Authentication). The teacher has no CIBA support; the
// pending/approved/denied/expired/consumed state machine is generalized
// from internal/device's polling flow, the closest teacher-adjacent
// pattern. Ping/push notification delivery (spec.md §4.M: "POSTs
// notification to the client's backchannel_notification_endpoint...
// Retries with exponential backoff... dead-letters after N attempts") has
// no device-flow analogue, so its outbound-HTTP-call shape is instead
// grounded on internal/keyring.JWKSFetcher's *http.Client use, and its
// retry/dead-letter loop on internal/audit.Tombstones.RunLoop's
// ctx-cancellable ticker.
package ciba

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/authrim/authrim/internal/oidcerr"
	"github.com/authrim/authrim/storage"
)

type State string

const (
	StatePending  State = "pending"
	StateApproved State = "approved"
	StateDenied   State = "denied"
	StateExpired  State = "expired"
	StateConsumed State = "consumed"
)

const DefaultInterval = 5 * time.Second

// DeliveryMode is one of spec.md §4.M's three CIBA notification
// strategies.
type DeliveryMode string

const (
	DeliveryPoll DeliveryMode = "poll"
	DeliveryPing DeliveryMode = "ping"
	DeliveryPush DeliveryMode = "push"
)

// MaxDeliveryAttempts bounds ping/push retries before a request is
// dead-lettered, per spec.md §4.M ("dead-letters after N attempts").
const MaxDeliveryAttempts = 5

const (
	baseDeliveryBackoff = 2 * time.Second
	maxDeliveryBackoff  = 2 * time.Minute
)

// Request is the durable CIBA authentication request record.
type Request struct {
	AuthReqID      string
	ClientID       string
	Scope          string
	LoginHint      string
	LoginHintToken string
	IDTokenHint    string
	BindingMessage string
	State          State
	CreatedAt      time.Time
	ExpiresAt      time.Time
	Interval       time.Duration
	LastPolledAt   time.Time
	UserID         string

	// DeliveryMode, NotificationEndpoint and ClientNotificationToken
	// configure ping/push delivery, per spec.md §4.M. DeliveryMode is
	// "poll" (the default) when the client requested none.
	DeliveryMode            DeliveryMode
	NotificationEndpoint    string
	ClientNotificationToken string

	// Attempts, NextAttemptAt and DeadLettered track the ping/push retry
	// loop; unused in poll mode.
	Attempts      int
	NextAttemptAt time.Time
	DeadLettered  bool
}

type Store struct {
	kv storage.KV
}

func New(kv storage.KV) *Store {
	return &Store{kv: kv}
}

func key(authReqID string) string { return fmt.Sprintf("ciba/%s", authReqID) }

// NewAuthReqParams are the inputs to requesting a new backchannel
// authentication.
type NewAuthReqParams struct {
	ClientID       string
	Scope          string
	LoginHint      string
	LoginHintToken string
	IDTokenHint    string
	BindingMessage string
	ExpiresIn      time.Duration

	// DeliveryMode selects poll (default), ping or push notification.
	// NotificationEndpoint is required for ping/push and corresponds to
	// the client's registered backchannel_notification_endpoint.
	// ClientNotificationToken is echoed back by the server on delivery,
	// per spec.md §4.M.
	DeliveryMode            DeliveryMode
	NotificationEndpoint    string
	ClientNotificationToken string
}

// RequestAuth mints a new pending CIBA request.
func (s *Store) RequestAuth(ctx context.Context, p NewAuthReqParams) (Request, error) {
	if p.LoginHint == "" && p.LoginHintToken == "" && p.IDTokenHint == "" {
		return Request{}, oidcerr.Validation("login_hint", "one of login_hint, login_hint_token, id_token_hint is required")
	}
	expiresIn := p.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 600 * time.Second
	}
	mode := p.DeliveryMode
	if mode == "" {
		mode = DeliveryPoll
	}
	if (mode == DeliveryPing || mode == DeliveryPush) && p.NotificationEndpoint == "" {
		return Request{}, oidcerr.Validation("client_notification_token", "notification endpoint required for ping/push delivery")
	}
	now := time.Now()
	r := Request{
		AuthReqID:               uuid.NewString(),
		ClientID:                p.ClientID,
		Scope:                   p.Scope,
		LoginHint:               p.LoginHint,
		LoginHintToken:          p.LoginHintToken,
		IDTokenHint:             p.IDTokenHint,
		BindingMessage:          p.BindingMessage,
		State:                   StatePending,
		CreatedAt:               now,
		ExpiresAt:               now.Add(expiresIn),
		Interval:                DefaultInterval,
		DeliveryMode:            mode,
		NotificationEndpoint:    p.NotificationEndpoint,
		ClientNotificationToken: p.ClientNotificationToken,
	}
	if err := s.save(ctx, r); err != nil {
		return Request{}, err
	}
	return r, nil
}

func (s *Store) save(ctx context.Context, r Request) error {
	ttl := time.Until(r.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.kv.Put(ctx, key(r.AuthReqID), encode(r), ttl); err != nil {
		return oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, err)
	}
	return nil
}

func (s *Store) load(ctx context.Context, authReqID string) (Request, error) {
	raw, err := s.kv.Get(ctx, key(authReqID))
	if err != nil {
		return Request{}, oidcerr.New(oidcerr.KindNotFound, oidcerr.InvalidGrant, "unknown auth_req_id")
	}
	return decode(raw)
}

// Decide transitions pending -> approved|denied, analogous to
// DeviceFlow.Verify.
func (s *Store) Decide(ctx context.Context, authReqID string, approve bool, userID string) error {
	r, err := s.load(ctx, authReqID)
	if err != nil {
		return err
	}
	if r.State != StatePending {
		return oidcerr.New(oidcerr.KindConflict, oidcerr.Conflict, "CIBA request already decided")
	}
	if time.Now().After(r.ExpiresAt) {
		r.State = StateExpired
		_ = s.save(ctx, r)
		return oidcerr.New(oidcerr.KindValidation, oidcerr.ExpiredToken, "CIBA request expired")
	}
	if approve {
		r.State = StateApproved
		r.UserID = userID
		if r.DeliveryMode != DeliveryPoll {
			r.NextAttemptAt = time.Now()
		}
	} else {
		r.State = StateDenied
	}
	return s.save(ctx, r)
}

type PollResult struct {
	State    State
	Interval time.Duration
	Request  Request
}

// Token implements the polling half of spec.md §4.M, mirroring
// DeviceFlow.Token's state machine.
func (s *Store) Token(ctx context.Context, authReqID, clientID string) (PollResult, error) {
	r, err := s.load(ctx, authReqID)
	if err != nil {
		return PollResult{}, err
	}
	if r.ClientID != clientID {
		return PollResult{}, oidcerr.New(oidcerr.KindValidation, oidcerr.InvalidGrant, "client_id mismatch")
	}

	now := time.Now()
	if now.After(r.ExpiresAt) && r.State != StateConsumed {
		r.State = StateExpired
		_ = s.save(ctx, r)
		return PollResult{State: StateExpired}, oidcerr.Protocol(oidcerr.ExpiredToken, "CIBA request expired")
	}

	if !r.LastPolledAt.IsZero() && now.Sub(r.LastPolledAt) < r.Interval {
		r.Interval += 5 * time.Second
		r.LastPolledAt = now
		_ = s.save(ctx, r)
		return PollResult{State: StatePending, Interval: r.Interval}, oidcerr.Protocol(oidcerr.SlowDown, "polling too frequently")
	}
	r.LastPolledAt = now

	switch r.State {
	case StatePending:
		_ = s.save(ctx, r)
		return PollResult{State: StatePending, Interval: r.Interval}, oidcerr.Protocol(oidcerr.AuthorizationPending, "user has not yet responded")
	case StateDenied:
		return PollResult{State: StateDenied}, oidcerr.Protocol(oidcerr.AccessDenied, "user denied the request")
	case StateExpired:
		return PollResult{State: StateExpired}, oidcerr.Protocol(oidcerr.ExpiredToken, "CIBA request expired")
	case StateConsumed:
		return PollResult{State: StateConsumed}, oidcerr.Protocol(oidcerr.InvalidGrant, "CIBA request already used")
	case StateApproved:
		r.State = StateConsumed
		if err := s.save(ctx, r); err != nil {
			return PollResult{}, err
		}
		return PollResult{State: StateApproved, Request: r}, nil
	default:
		return PollResult{}, oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, fmt.Errorf("unknown CIBA state %q", r.State))
	}
}

// Notification is the body delivered to a client's
// backchannel_notification_endpoint. Payload is nil for ping (the client
// must still poll the token endpoint) and carries the minted token
// response fields for push.
type Notification struct {
	AuthReqID               string
	ClientNotificationToken string
	Payload                 map[string]interface{}
}

// Notifier delivers a Notification to a client-registered endpoint.
type Notifier interface {
	Notify(ctx context.Context, endpoint string, n Notification) error
}

// HTTPNotifier is the reference Notifier, grounded on
// internal/keyring.JWKSFetcher's *http.Client use for outbound calls from
// an internal/ package.
type HTTPNotifier struct {
	httpClient *http.Client
}

func NewHTTPNotifier(httpClient *http.Client) *HTTPNotifier {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPNotifier{httpClient: httpClient}
}

func (h *HTTPNotifier) Notify(ctx context.Context, endpoint string, n Notification) error {
	body := map[string]interface{}{"auth_req_id": n.AuthReqID}
	for k, v := range n.Payload {
		body[k] = v
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("ciba: encode notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("ciba: build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.ClientNotificationToken != "" {
		req.Header.Set("Authorization", "Bearer "+n.ClientNotificationToken)
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ciba: deliver notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("ciba: notification endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// backoff computes the exponential delay before retry attempt n (1-based),
// capped at maxDeliveryBackoff.
func backoff(attempt int) time.Duration {
	d := baseDeliveryBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxDeliveryBackoff {
			return maxDeliveryBackoff
		}
	}
	return d
}

// DueForDelivery scans pending ping/push notifications that are ready for
// a delivery attempt: approved, not already dead-lettered, and past their
// NextAttemptAt.
func (s *Store) DueForDelivery(ctx context.Context, now time.Time) ([]Request, error) {
	var due []Request
	cursor := ""
	for {
		keys, next, err := s.kv.List(ctx, "ciba/", cursor)
		if err != nil {
			return nil, oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, err)
		}
		for _, k := range keys {
			authReqID := k[len("ciba/"):]
			r, err := s.load(ctx, authReqID)
			if err != nil {
				continue
			}
			if r.DeliveryMode == DeliveryPoll || r.State != StateApproved || r.DeadLettered {
				continue
			}
			if r.NextAttemptAt.After(now) {
				continue
			}
			due = append(due, r)
		}
		if next == "" {
			break
		}
		cursor = next
	}
	return due, nil
}

// AttemptDelivery delivers one notification for authReqID. pushPayload
// supplies the minted token response fields for push mode; it is ignored
// for ping. CIBAEngine deliberately has no dependency on TokenService, so
// the caller (the composition layer that owns both stores) is responsible
// for minting tokens and passing them in.
func (s *Store) AttemptDelivery(ctx context.Context, authReqID string, notifier Notifier, pushPayload map[string]interface{}) error {
	r, err := s.load(ctx, authReqID)
	if err != nil {
		return err
	}
	if r.DeliveryMode == DeliveryPoll || r.State != StateApproved || r.DeadLettered {
		return nil
	}

	n := Notification{AuthReqID: r.AuthReqID, ClientNotificationToken: r.ClientNotificationToken}
	if r.DeliveryMode == DeliveryPush {
		n.Payload = pushPayload
	}

	if err := notifier.Notify(ctx, r.NotificationEndpoint, n); err != nil {
		r.Attempts++
		if r.Attempts >= MaxDeliveryAttempts {
			r.DeadLettered = true
		} else {
			r.NextAttemptAt = time.Now().Add(backoff(r.Attempts))
		}
		return s.save(ctx, r)
	}

	if r.DeliveryMode == DeliveryPush {
		// tokens already delivered in the notification body; the client
		// has nothing left to poll for.
		r.State = StateConsumed
	}
	return s.save(ctx, r)
}

// RunDeliveryLoop periodically attempts delivery for all due ping/push
// requests, grounded on internal/audit.Tombstones.RunLoop's
// time.After-driven, context-cancellable ticker.
func (s *Store) RunDeliveryLoop(ctx context.Context, notifier Notifier, interval time.Duration, pushPayload func(Request) (map[string]interface{}, error), onErr func(error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			due, err := s.DueForDelivery(ctx, time.Now())
			if err != nil {
				if onErr != nil {
					onErr(err)
				}
				continue
			}
			for _, r := range due {
				var payload map[string]interface{}
				if r.DeliveryMode == DeliveryPush && pushPayload != nil {
					p, err := pushPayload(r)
					if err != nil {
						if onErr != nil {
							onErr(err)
						}
						continue
					}
					payload = p
				}
				if err := s.AttemptDelivery(ctx, r.AuthReqID, notifier, payload); err != nil && onErr != nil {
					onErr(err)
				}
			}
		}
	}
}
