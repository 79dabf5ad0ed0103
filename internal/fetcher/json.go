package fetcher

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// DecodeArrayField streams the elements of the array stored under field in a
// top-level JSON object, such as {"count": 2, "products": [{...}, {...}]}.
// Other members are skipped. Numbers decode as json.Number. Both channels are
// closed when processing completes; a missing field yields no elements.
func DecodeArrayField[T any](ctx context.Context, r io.Reader, field string) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		decoder := json.NewDecoder(r)
		decoder.UseNumber()

		tok, err := decoder.Token()
		if err != nil {
			if err == io.EOF {
				return
			}
			errCh <- eris.Wrap(err, "json: read opening token")
			return
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '{' {
			errCh <- eris.Errorf("json: expected '{', got %v", tok)
			return
		}

		for decoder.More() {
			keyTok, err := decoder.Token()
			if err != nil {
				errCh <- eris.Wrap(err, "json: read key")
				return
			}
			if key, _ := keyTok.(string); key != field {
				var skip json.RawMessage
				if err := decoder.Decode(&skip); err != nil {
					errCh <- eris.Wrapf(err, "json: skip %v", keyTok)
					return
				}
				continue
			}

			tok, err := decoder.Token()
			if err != nil {
				errCh <- eris.Wrapf(err, "json: read %s", field)
				return
			}
			if tok == nil {
				continue
			}
			if delim, ok := tok.(json.Delim); !ok || delim != '[' {
				errCh <- eris.Errorf("json: expected '[' for %s, got %v", field, tok)
				return
			}

			for decoder.More() {
				if ctx.Err() != nil {
					errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
					return
				}

				var item T
				if err := decoder.Decode(&item); err != nil {
					errCh <- eris.Wrap(err, "json: decode element")
					return
				}

				select {
				case outCh <- item:
				case <-ctx.Done():
					errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
					return
				}
			}
			if _, err := decoder.Token(); err != nil {
				errCh <- eris.Wrap(err, "json: read closing token")
				return
			}
		}
	}()

	return outCh, errCh
}
