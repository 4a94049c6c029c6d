package session

import (
	"encoding/json"
	"time"
)

type wireSession struct {
	ID                  string   `json:"id"`
	UserID              string   `json:"user_id"`
	AuthTime            int64    `json:"auth_time"`
	Methods             []string `json:"methods"`
	ACR                 string   `json:"acr,omitempty"`
	AMR                 []string `json:"amr,omitempty"`
	CreatedAt           int64    `json:"created_at"`
	ExpiresAt           int64    `json:"expires_at"`
	ExternalProviderID   string   `json:"external_provider_id,omitempty"`
	ExternalProviderSub  string   `json:"external_provider_sub,omitempty"`
	LastSeenAt           int64    `json:"last_seen_at"`
}

func encode(s Session) []byte {
	w := wireSession{
		ID:                  s.ID,
		UserID:              s.UserID,
		AuthTime:            s.AuthTime.UnixMilli(),
		Methods:             s.Methods,
		ACR:                 s.ACR,
		AMR:                 s.AMR,
		CreatedAt:           s.CreatedAt.UnixMilli(),
		ExpiresAt:           s.ExpiresAt.UnixMilli(),
		ExternalProviderID:   s.ExternalProviderID,
		ExternalProviderSub:  s.ExternalProviderSub,
		LastSeenAt:           s.LastSeenAt.UnixMilli(),
	}
	b, _ := json.Marshal(w)
	return b
}

func decode(raw []byte) (Session, error) {
	var w wireSession
	if err := json.Unmarshal(raw, &w); err != nil {
		return Session{}, err
	}
	return Session{
		ID:                  w.ID,
		UserID:              w.UserID,
		AuthTime:            time.UnixMilli(w.AuthTime).UTC(),
		Methods:             w.Methods,
		ACR:                 w.ACR,
		AMR:                 w.AMR,
		CreatedAt:           time.UnixMilli(w.CreatedAt).UTC(),
		ExpiresAt:           time.UnixMilli(w.ExpiresAt).UTC(),
		ExternalProviderID:   w.ExternalProviderID,
		ExternalProviderSub:  w.ExternalProviderSub,
		LastSeenAt:           time.UnixMilli(w.LastSeenAt).UTC(),
	}, nil
}
