package federation

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/authrim/authrim/internal/oidcerr"
)

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
