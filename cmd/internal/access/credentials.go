package access

import (
	"net/http"
	"strings"
)

// HeaderShareToken carries a guest share token.
const HeaderShareToken = "X-Share-Token"

// queryShareToken is accepted on event streams, where browsers cannot set
// headers.
const queryShareToken = "share_token"

// Credentials are the raw values a request presented.
type Credentials struct {
	Bearer     string
	ShareToken string
}

// Empty reports whether no credential was presented.
func (c Credentials) Empty() bool { return c.Bearer == "" && c.ShareToken == "" }

// FromRequest extracts credentials from headers. When allowQuery is set the
// share token may also come from the query string.
func FromRequest(r *http.Request, allowQuery bool) Credentials {
	c := Credentials{
		Bearer:     bearerToken(r),
		ShareToken: strings.TrimSpace(r.Header.Get(HeaderShareToken)),
	}
	if c.ShareToken == "" && allowQuery {
		c.ShareToken = strings.TrimSpace(r.URL.Query().Get(queryShareToken))
	}
	return c
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	scheme, tok, ok := strings.Cut(raw, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}
