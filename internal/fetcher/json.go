package fetcher

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// DecodeJSONArray reads a top-level JSON array of T, decoding one element
// at a time. The partner and disbursement lists from the results portal
// arrive in this shape. An empty body decodes to nil.
func DecodeJSONArray[T any](r io.Reader) ([]T, error) {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: read opening token")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, eris.Errorf("fetcher: expected JSON array, got %v", tok)
	}

	var items []T
	for dec.More() {
		var item T
		if err := dec.Decode(&item); err != nil {
			return nil, eris.Wrap(err, "fetcher: decode array element")
		}
		items = append(items, item)
	}
	if _, err := dec.Token(); err != nil && err != io.EOF {
		return nil, eris.Wrap(err, "fetcher: read closing token")
	}
	return items, nil
}

// DecodeJSONObject decodes a single JSON payload, as returned by the CKAN
// action API.
func DecodeJSONObject[T any](r io.Reader) (*T, error) {
	var obj T
	if err := json.NewDecoder(r).Decode(&obj); err != nil {
		return nil, eris.Wrap(err, "fetcher: decode payload")
	}
	return &obj, nil
}
