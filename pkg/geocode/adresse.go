package geocode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

// adresseResponse is the GeoJSON FeatureCollection returned by /search/.
type adresseResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates []float64 `json:"coordinates"` // [lon, lat]
		} `json:"geometry"`
		Properties struct {
			Label string  `json:"label"`
			Score float64 `json:"score"`
			Type  string  `json:"type"`
			City  string  `json:"city"`
		} `json:"properties"`
	} `json:"features"`
}

type adresse struct {
	hc       *http.Client
	baseURL  string
	minScore float64
}

func (a *adresse) name() string { return "adresse" }

func (a *adresse) lookup(ctx context.Context, query string) (*Result, error) {
	params := url.Values{"q": {query}, "limit": {"1"}}
	reqURL := strings.TrimRight(a.baseURL, "/") + "/search/?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: adresse build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.hc.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: adresse request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(a.name(), resp.StatusCode)
	}

	var body adresseResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, eris.Wrap(err, "geocode: adresse parse response")
	}
	if len(body.Features) == 0 {
		return nil, ErrNoMatch
	}

	f := body.Features[0]
	if len(f.Geometry.Coordinates) < 2 || f.Properties.Score < a.minScore {
		return nil, ErrNoMatch
	}
	return &Result{
		Latitude:  f.Geometry.Coordinates[1],
		Longitude: f.Geometry.Coordinates[0],
		Label:     f.Properties.Label,
		City:      f.Properties.City,
		Score:     f.Properties.Score,
		Source:    a.name(),
		Quality:   f.Properties.Type,
	}, nil
}
