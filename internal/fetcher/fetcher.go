// Package fetcher acquires raw catalog records over HTTP.
package fetcher

import (
	"context"

	"github.com/sells-group/foodgeo/internal/model"
)

// Source yields raw records for one category. maxItems <= 0 means no limit.
type Source interface {
	Fetch(ctx context.Context, category string, maxItems int) ([]model.RawRecord, error)
}
