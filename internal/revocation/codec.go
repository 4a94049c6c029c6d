package revocation

import (
	"encoding/json"
	"time"
)

type wireRecord struct {
	Jti       string `json:"jti"`
	RevokedAt int64  `json:"revoked_at"`
	Reason    string `json:"reason"`
	ExpiresAt int64  `json:"expires_at"`
}

func encode(r Record) []byte {
	w := wireRecord{Jti: r.Jti, RevokedAt: r.RevokedAt.UnixMilli(), Reason: r.Reason, ExpiresAt: r.ExpiresAt.UnixMilli()}
	b, _ := json.Marshal(w)
	return b
}

func decode(raw []byte) (Record, error) {
	var w wireRecord
	if err := json.Unmarshal(raw, &w); err != nil {
		return Record{}, err
	}
	return Record{
		Jti:       w.Jti,
		RevokedAt: time.UnixMilli(w.RevokedAt).UTC(),
		Reason:    w.Reason,
		ExpiresAt: time.UnixMilli(w.ExpiresAt).UTC(),
	}, nil
}
