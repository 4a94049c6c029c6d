package code

import (
	"encoding/json"
	"time"
)

type wirePKCE struct {
	Challenge string `json:"challenge"`
	Method    string `json:"method"`
}

type wireCode struct {
	Code        string    `json:"code"`
	ClientID    string    `json:"client_id"`
	RedirectURI string    `json:"redirect_uri"`
	Scope       string    `json:"scope"`
	Subject     string    `json:"subject"`
	Nonce       string    `json:"nonce,omitempty"`
	PKCE        *wirePKCE `json:"pkce,omitempty"`
	AuthTime    int64     `json:"auth_time"`
	AMR         []string  `json:"amr,omitempty"`
	MaxAge      int       `json:"max_age,omitempty"`
	IssuedAt    int64     `json:"issued_at"`
	ExpiresAt   int64     `json:"expires_at"`
}

func encode(c AuthorizationCode) []byte {
	w := wireCode{
		Code:        c.Code,
		ClientID:    c.ClientID,
		RedirectURI: c.RedirectURI,
		Scope:       c.Scope,
		Subject:     c.Subject,
		Nonce:       c.Nonce,
		AuthTime:    c.AuthTime.UnixMilli(),
		AMR:         c.AMR,
		MaxAge:      c.MaxAge,
		IssuedAt:    c.IssuedAt.UnixMilli(),
		ExpiresAt:   c.ExpiresAt.UnixMilli(),
	}
	if c.PKCE != nil {
		w.PKCE = &wirePKCE{Challenge: c.PKCE.Challenge, Method: c.PKCE.Method}
	}
	b, _ := json.Marshal(w)
	return b
}

func decode(raw []byte) (AuthorizationCode, error) {
	var w wireCode
	if err := json.Unmarshal(raw, &w); err != nil {
		return AuthorizationCode{}, err
	}
	c := AuthorizationCode{
		Code:        w.Code,
		ClientID:    w.ClientID,
		RedirectURI: w.RedirectURI,
		Scope:       w.Scope,
		Subject:     w.Subject,
		Nonce:       w.Nonce,
		AuthTime:    time.UnixMilli(w.AuthTime).UTC(),
		AMR:         w.AMR,
		MaxAge:      w.MaxAge,
		IssuedAt:    time.UnixMilli(w.IssuedAt).UTC(),
		ExpiresAt:   time.UnixMilli(w.ExpiresAt).UTC(),
	}
	if w.PKCE != nil {
		c.PKCE = &PKCE{Challenge: w.PKCE.Challenge, Method: w.PKCE.Method}
	}
	return c, nil
}
