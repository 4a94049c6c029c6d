package ciba

import (
	"encoding/json"
	"time"
)

type wireRequest struct {
	AuthReqID      string `json:"auth_req_id"`
	ClientID       string `json:"client_id"`
	Scope          string `json:"scope"`
	LoginHint      string `json:"login_hint,omitempty"`
	LoginHintToken string `json:"login_hint_token,omitempty"`
	IDTokenHint    string `json:"id_token_hint,omitempty"`
	BindingMessage string `json:"binding_message,omitempty"`
	State          State  `json:"state"`
	CreatedAt      int64  `json:"created_at"`
	ExpiresAt      int64  `json:"expires_at"`
	IntervalMS     int64  `json:"interval_ms"`
	LastPolledAt   int64  `json:"last_polled_at"`
	UserID         string `json:"user_id,omitempty"`

	DeliveryMode            DeliveryMode `json:"delivery_mode,omitempty"`
	NotificationEndpoint    string       `json:"notification_endpoint,omitempty"`
	ClientNotificationToken string       `json:"client_notification_token,omitempty"`
	Attempts                int          `json:"attempts,omitempty"`
	NextAttemptAt           int64        `json:"next_attempt_at,omitempty"`
	DeadLettered            bool         `json:"dead_lettered,omitempty"`
}

func encode(r Request) []byte {
	w := wireRequest{
		AuthReqID: r.AuthReqID, ClientID: r.ClientID, Scope: r.Scope,
		LoginHint: r.LoginHint, LoginHintToken: r.LoginHintToken, IDTokenHint: r.IDTokenHint,
		BindingMessage: r.BindingMessage, State: r.State,
		CreatedAt: r.CreatedAt.UnixMilli(), ExpiresAt: r.ExpiresAt.UnixMilli(),
		IntervalMS: r.Interval.Milliseconds(), LastPolledAt: r.LastPolledAt.UnixMilli(), UserID: r.UserID,
		DeliveryMode: r.DeliveryMode, NotificationEndpoint: r.NotificationEndpoint,
		ClientNotificationToken: r.ClientNotificationToken, Attempts: r.Attempts, DeadLettered: r.DeadLettered,
	}
	if !r.NextAttemptAt.IsZero() {
		w.NextAttemptAt = r.NextAttemptAt.UnixMilli()
	}
	b, _ := json.Marshal(w)
	return b
}

func decode(raw []byte) (Request, error) {
	var w wireRequest
	if err := json.Unmarshal(raw, &w); err != nil {
		return Request{}, err
	}
	r := Request{
		AuthReqID: w.AuthReqID, ClientID: w.ClientID, Scope: w.Scope,
		LoginHint: w.LoginHint, LoginHintToken: w.LoginHintToken, IDTokenHint: w.IDTokenHint,
		BindingMessage: w.BindingMessage, State: w.State,
		CreatedAt: time.UnixMilli(w.CreatedAt).UTC(), ExpiresAt: time.UnixMilli(w.ExpiresAt).UTC(),
		Interval: time.Duration(w.IntervalMS) * time.Millisecond, UserID: w.UserID,
		DeliveryMode: w.DeliveryMode, NotificationEndpoint: w.NotificationEndpoint,
		ClientNotificationToken: w.ClientNotificationToken, Attempts: w.Attempts, DeadLettered: w.DeadLettered,
	}
	if w.LastPolledAt != 0 {
		r.LastPolledAt = time.UnixMilli(w.LastPolledAt).UTC()
	}
	if w.NextAttemptAt != 0 {
		r.NextAttemptAt = time.UnixMilli(w.NextAttemptAt).UTC()
	}
	return r, nil
}
