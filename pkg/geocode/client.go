// Package geocode resolves free-text store locations to coordinates using the
// French national address API (api-adresse.data.gouv.fr), with Google as an
// optional fallback.
package geocode

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/foodgeo/internal/resilience"
)

const (
	// DefaultAdresseURL is the public API Adresse endpoint.
	DefaultAdresseURL = "https://api-adresse.data.gouv.fr"

	defaultMinScore = 0.5
)

var (
	// ErrNoMatch means every provider answered but none found the location.
	// Retrying will not help.
	ErrNoMatch = eris.New("geocode: no match")

	// ErrRejected means a provider refused the request (4xx other than 429).
	ErrRejected = eris.New("geocode: request rejected")
)

// Result is a resolved location.
type Result struct {
	Latitude  float64
	Longitude float64
	Label     string
	City      string
	Score     float64
	Source    string // "adresse" or "google"
	Quality   string // "housenumber", "street", "municipality", "rooftop", "approximate", ...
}

// Client resolves one free-text location.
type Client interface {
	Resolve(ctx context.Context, query string) (*Result, error)
}

type provider interface {
	name() string
	lookup(ctx context.Context, query string) (*Result, error)
}

// Option configures the client returned by NewClient.
type Option func(*geocoder)

// WithHTTPClient sets the HTTP client used by every provider.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *geocoder) { g.httpClient = hc }
}

// WithAdresseURL overrides the API Adresse base URL.
func WithAdresseURL(u string) Option {
	return func(g *geocoder) {
		if u != "" {
			g.adresseURL = u
		}
	}
}

// WithMinScore sets the API Adresse relevance score below which a hit is
// treated as no match.
func WithMinScore(s float64) Option {
	return func(g *geocoder) {
		if s > 0 {
			g.minScore = s
		}
	}
}

// WithGoogleAPIKey enables the Google Geocoding API as a fallback.
func WithGoogleAPIKey(key string) Option {
	return func(g *geocoder) { g.googleKey = key }
}

type geocoder struct {
	httpClient *http.Client
	adresseURL string
	minScore   float64
	googleKey  string
	providers  []provider
}

// NewClient builds a Client that asks API Adresse first and Google second
// when a key is configured.
func NewClient(opts ...Option) Client {
	g := &geocoder{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		adresseURL: DefaultAdresseURL,
		minScore:   defaultMinScore,
	}
	for _, opt := range opts {
		opt(g)
	}

	g.providers = []provider{&adresse{hc: g.httpClient, baseURL: g.adresseURL, minScore: g.minScore}}
	if g.googleKey != "" {
		g.providers = append(g.providers, &google{hc: g.httpClient, key: g.googleKey, endpoint: googleGeocodeURL})
	}
	return g
}

// Resolve tries each provider in order and returns the first match. When
// nothing matched it returns ErrNoMatch, unless some provider failed
// transiently, in which case that error is returned so the caller may retry.
func (g *geocoder) Resolve(ctx context.Context, query string) (*Result, error) {
	if query == "" {
		return nil, eris.Wrap(ErrRejected, "geocode: empty query")
	}

	var transient, permanent error
	for _, p := range g.providers {
		res, err := p.lookup(ctx, query)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		switch {
		case errors.Is(err, ErrNoMatch):
		case resilience.IsTransient(err):
			if transient == nil {
				transient = err
			}
		default:
			if permanent == nil {
				permanent = err
			}
		}
	}

	switch {
	case transient != nil:
		return nil, transient
	case permanent != nil:
		return nil, permanent
	default:
		return nil, eris.Wrapf(ErrNoMatch, "geocode: %q", query)
	}
}

// statusError maps a non-200 response to a transient or rejected error.
func statusError(provider string, code int) error {
	if resilience.IsTransientHTTPStatus(code) {
		return resilience.NewTransientError(eris.Errorf("geocode: %s returned status %d", provider, code), code)
	}
	return eris.Wrapf(ErrRejected, "geocode: %s returned status %d", provider, code)
}
