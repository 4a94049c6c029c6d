package challenge

import (
	"encoding/json"
	"time"
)

func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

type wireChallenge struct {
	Type      Type      `json:"type"`
	ID        string    `json:"id"`
	Payload   []byte    `json:"payload"`
	IssuedAt  int64     `json:"issued_at"`
	ExpiresAt int64     `json:"expires_at"`
}

func encode(c Challenge) []byte {
	w := wireChallenge{
		Type:      c.Type,
		ID:        c.ID,
		Payload:   c.Payload,
		IssuedAt:  c.IssuedAt.UnixMilli(),
		ExpiresAt: c.ExpiresAt.UnixMilli(),
	}
	b, _ := json.Marshal(w)
	return b
}

func decode(raw []byte) (Challenge, error) {
	var w wireChallenge
	if err := json.Unmarshal(raw, &w); err != nil {
		return Challenge{}, err
	}
	return challengeFromWire(w), nil
}

func challengeFromWire(w wireChallenge) Challenge {
	return Challenge{
		Type:      w.Type,
		ID:        w.ID,
		Payload:   w.Payload,
		IssuedAt:  msToTime(w.IssuedAt),
		ExpiresAt: msToTime(w.ExpiresAt),
	}
}
