package client

import (
	"encoding/json"
	"net/url"
	"sort"

	"github.com/cockroachdb/errors"
)

// keyParams are always JSON encoded, even when given as strings.
var keyParams = map[string]bool{
	"key":       true,
	"startkey":  true,
	"start_key": true,
	"endkey":    true,
	"end_key":   true,
}

// Params encodes query parameters the way the server expects them:
// strings are sent verbatim and every other value, as well as any view
// key, is sent as JSON.
func Params(params map[string]any) (url.Values, error) {
	values := make(url.Values, len(params))

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := params[k]
		if s, ok := v.(string); ok && !keyParams[k] {
			values.Set(k, s)
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, errors.Wrapf(err, "encoding parameter %q", k)
		}
		values.Set(k, string(b))
	}
	return values, nil
}
