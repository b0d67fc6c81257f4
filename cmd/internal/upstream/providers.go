package upstream

import (
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	maxQueryRunes = 200
	maxZoom       = 22
)

var taxonIDRe = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,64}$`)

// Species returns the provider's record for taxonID.
func (g *Gateway) Species(ctx context.Context, taxonID string) (Response, error) {
	taxonID = strings.TrimSpace(taxonID)
	if !taxonIDRe.MatchString(taxonID) {
		return Response{}, ErrInvalid
	}
	p := g.providers[ProviderSpecies]
	return g.fetch(ctx, request{
		provider: p,
		cacheKey: "species:" + taxonID,
		url:      p.cfg.BaseURL + "/species/" + url.PathEscape(taxonID),
		accept:   "application/json",
	})
}

// Geocode resolves a free-text place query. Queries are case-folded and
// whitespace-collapsed before they are sent and cached.
func (g *Gateway) Geocode(ctx context.Context, query string) (Response, error) {
	q := normalizeQuery(query)
	if q == "" || utf8.RuneCountInString(q) > maxQueryRunes {
		return Response{}, ErrInvalid
	}
	p := g.providers[ProviderGeocode]
	return g.fetch(ctx, request{
		provider: p,
		cacheKey: "geocode:" + q,
		url:      p.cfg.BaseURL + "/search?" + url.Values{"q": {q}}.Encode(),
		accept:   "application/json",
	})
}

// Tile fetches one slippy-map tile.
func (g *Gateway) Tile(ctx context.Context, z, x, y int) (Response, error) {
	if !validTile(z, x, y) {
		return Response{}, ErrInvalid
	}
	p := g.providers[ProviderTiles]
	coords := strconv.Itoa(z) + "/" + strconv.Itoa(x) + "/" + strconv.Itoa(y)
	return g.fetch(ctx, request{
		provider: p,
		cacheKey: "tile:" + coords,
		url:      p.cfg.BaseURL + "/" + coords + ".png",
		accept:   "image/png",
	})
}

func normalizeQuery(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func validTile(z, x, y int) bool {
	if z < 0 || z > maxZoom {
		return false
	}
	n := 1 << z
	return x >= 0 && x < n && y >= 0 && y < n
}
