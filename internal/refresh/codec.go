package refresh

import (
	"encoding/json"
	"time"
)

type wireFamily struct {
	FamilyID      string `json:"family_id"`
	UserID        string `json:"user_id"`
	ClientID      string `json:"client_id"`
	Scope         string `json:"scope"`
	Generation    int    `json:"generation"`
	ShardIndex    int    `json:"shard_index"`
	LatestSeq     int    `json:"latest_seq"`
	LatestJti     string `json:"latest_jti"`
	PrevSeq       int    `json:"prev_seq"`
	PrevJti       string `json:"prev_jti,omitempty"`
	LastRotatedAt int64  `json:"last_rotated_at"`
	ExpiresAt     int64  `json:"expires_at"`
	Revoked       bool   `json:"revoked"`
	RevokedReason string `json:"revoked_reason,omitempty"`
}

func encode(f Family) []byte {
	w := wireFamily{
		FamilyID:      f.FamilyID,
		UserID:        f.UserID,
		ClientID:      f.ClientID,
		Scope:         f.Scope,
		Generation:    f.Generation,
		ShardIndex:    f.ShardIndex,
		LatestSeq:     f.LatestSeq,
		LatestJti:     f.LatestJti,
		PrevSeq:       f.PrevSeq,
		PrevJti:       f.PrevJti,
		LastRotatedAt: f.LastRotatedAt.UnixMilli(),
		ExpiresAt:     f.ExpiresAt.UnixMilli(),
		Revoked:       f.Revoked,
		RevokedReason: f.RevokedReason,
	}
	b, _ := json.Marshal(w)
	return b
}

func decode(raw []byte) (Family, error) {
	var w wireFamily
	if err := json.Unmarshal(raw, &w); err != nil {
		return Family{}, err
	}
	return Family{
		FamilyID:      w.FamilyID,
		UserID:        w.UserID,
		ClientID:      w.ClientID,
		Scope:         w.Scope,
		Generation:    w.Generation,
		ShardIndex:    w.ShardIndex,
		LatestSeq:     w.LatestSeq,
		LatestJti:     w.LatestJti,
		PrevSeq:       w.PrevSeq,
		PrevJti:       w.PrevJti,
		LastRotatedAt: time.UnixMilli(w.LastRotatedAt).UTC(),
		ExpiresAt:     time.UnixMilli(w.ExpiresAt).UTC(),
		Revoked:       w.Revoked,
		RevokedReason: w.RevokedReason,
	}, nil
}
