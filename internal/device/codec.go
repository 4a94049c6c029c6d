package device

import (
	"encoding/json"
	"time"
)

type wireCode struct {
	DeviceCode   string `json:"device_code"`
	UserCode     string `json:"user_code"`
	ClientID     string `json:"client_id"`
	Scope        string `json:"scope"`
	State        State  `json:"state"`
	ExpiresAt    int64  `json:"expires_at"`
	IntervalMS   int64  `json:"interval_ms"`
	LastPolledAt int64  `json:"last_polled_at"`
	PollCount    int    `json:"poll_count"`
	UserID       string `json:"user_id,omitempty"`
}

func encode(c Code) []byte {
	w := wireCode{
		DeviceCode: c.DeviceCode, UserCode: c.UserCode, ClientID: c.ClientID, Scope: c.Scope,
		State: c.State, ExpiresAt: c.ExpiresAt.UnixMilli(), IntervalMS: c.Interval.Milliseconds(),
		LastPolledAt: c.LastPolledAt.UnixMilli(), PollCount: c.PollCount, UserID: c.UserID,
	}
	b, _ := json.Marshal(w)
	return b
}

func decode(raw []byte) (Code, error) {
	var w wireCode
	if err := json.Unmarshal(raw, &w); err != nil {
		return Code{}, err
	}
	c := Code{
		DeviceCode: w.DeviceCode, UserCode: w.UserCode, ClientID: w.ClientID, Scope: w.Scope,
		State: w.State, ExpiresAt: time.UnixMilli(w.ExpiresAt).UTC(),
		Interval: time.Duration(w.IntervalMS) * time.Millisecond, PollCount: w.PollCount, UserID: w.UserID,
	}
	if w.LastPolledAt != 0 {
		c.LastPolledAt = time.UnixMilli(w.LastPolledAt).UTC()
	}
	return c, nil
}
