package fetcher

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/foodgeo/internal/model"
)

const (
	// DefaultBaseURL is the public OpenFoodFacts site.
	DefaultBaseURL = "https://world.openfoodfacts.org"

	defaultPageSize = 100
	maxPageSize     = 1000
)

// productFields are requested from the search endpoint. The nutriments
// object is flattened into its *_100g members by Fetch.
var productFields = []string{
	"code", "product_name", "brands", "categories", "countries",
	"nutriscore_grade", "stores", "nova_group", "nutriments", "last_modified_t",
}

// OpenFoodFacts is a Source backed by the OpenFoodFacts search API.
type OpenFoodFacts struct {
	http     *HTTPFetcher
	baseURL  string
	pageSize int
}

// NewOpenFoodFacts returns a Source that pages through the category search.
func NewOpenFoodFacts(f *HTTPFetcher, baseURL string, pageSize int) *OpenFoodFacts {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &OpenFoodFacts{
		http:     f,
		baseURL:  strings.TrimRight(baseURL, "/"),
		pageSize: min(pageSize, maxPageSize),
	}
}

// Fetch pages through the category until maxItems records were collected or
// a short page marks the end of the results.
func (o *OpenFoodFacts) Fetch(ctx context.Context, category string, maxItems int) ([]model.RawRecord, error) {
	if category == "" {
		return nil, eris.New("fetcher: empty category")
	}

	var out []model.RawRecord
	for page := 1; ; page++ {
		batch, err := o.fetchPage(ctx, category, page)
		if err != nil {
			return nil, err
		}
		zap.L().Debug("fetcher: page fetched",
			zap.String("category", category),
			zap.Int("page", page),
			zap.Int("products", len(batch)),
		)

		for _, rec := range batch {
			if maxItems > 0 && len(out) >= maxItems {
				return out, nil
			}
			out = append(out, rec)
		}
		if len(batch) < o.pageSize || (maxItems > 0 && len(out) >= maxItems) {
			return out, nil
		}
	}
}

func (o *OpenFoodFacts) pageURL(category string, page int) string {
	params := url.Values{
		"action":         {"process"},
		"tagtype_0":      {"categories"},
		"tag_contains_0": {"contains"},
		"tag_0":          {category},
		"page":           {strconv.Itoa(page)},
		"page_size":      {strconv.Itoa(o.pageSize)},
		"fields":         {strings.Join(productFields, ",")},
		"json":           {"1"},
	}
	return o.baseURL + "/cgi/search.pl?" + params.Encode()
}

func (o *OpenFoodFacts) fetchPage(ctx context.Context, category string, page int) ([]model.RawRecord, error) {
	body, err := o.http.Download(ctx, o.pageURL(category, page))
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: openfoodfacts %s page %d", category, page)
	}
	defer body.Close() //nolint:errcheck

	items, errs := DecodeArrayField[map[string]any](ctx, body, "products")
	var batch []model.RawRecord
	for item := range items {
		batch = append(batch, flatten(item))
	}
	if err := <-errs; err != nil {
		return nil, eris.Wrapf(err, "fetcher: openfoodfacts %s page %d", category, page)
	}
	return batch, nil
}

// flatten lifts nutriments.<name>_100g to top-level keys, keeping any
// top-level value already present.
func flatten(item map[string]any) model.RawRecord {
	rec := model.RawRecord(item)
	nutriments, ok := item["nutriments"].(map[string]any)
	if !ok {
		delete(rec, "nutriments")
		return rec
	}
	for k, v := range nutriments {
		if !strings.HasSuffix(k, "_100g") {
			continue
		}
		if _, exists := rec[k]; !exists {
			rec[k] = v
		}
	}
	delete(rec, "nutriments")
	return rec
}
