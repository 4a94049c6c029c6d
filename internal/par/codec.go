package par

import (
	"encoding/json"
	"time"
)

type wireRecord struct {
	RequestURI string            `json:"request_uri"`
	ClientID   string            `json:"client_id"`
	Params     map[string]string `json:"params"`
	IssuedAt   int64             `json:"issued_at"`
	ExpiresAt  int64             `json:"expires_at"`
}

func encode(r Record) []byte {
	w := wireRecord{RequestURI: r.RequestURI, ClientID: r.ClientID, Params: r.Params, IssuedAt: r.IssuedAt.UnixMilli(), ExpiresAt: r.ExpiresAt.UnixMilli()}
	b, _ := json.Marshal(w)
	return b
}

func decode(raw []byte) (Record, error) {
	var w wireRecord
	if err := json.Unmarshal(raw, &w); err != nil {
		return Record{}, err
	}
	return Record{
		RequestURI: w.RequestURI,
		ClientID:   w.ClientID,
		Params:     w.Params,
		IssuedAt:   time.UnixMilli(w.IssuedAt).UTC(),
		ExpiresAt:  time.UnixMilli(w.ExpiresAt).UTC(),
	}, nil
}
