package client

import (
	"io"
	"net/http"
	"net/url"
	"strings"
)

type ContentType string

const (
	JSONContentType ContentType = "application/json"
)

// ResourceRequest describes one request against the cluster. Path holds
// already escaped segments, see [Quote].
type ResourceRequest struct {
	Verb        string
	Path        []string
	Values      url.Values
	Header      http.Header
	ContentType ContentType
	Body        io.Reader

	// Gzip asks the server for a gzip encoded response and decodes it.
	Gzip bool
	// ReturnErrors hands back non-2xx responses instead of turning them
	// into a *StatusError.
	ReturnErrors bool
}

func (r ResourceRequest) URL() string {
	u := "/" + strings.Join(r.Path, "/")

	if queryString := r.Values.Encode(); queryString != "" {
		u += "?" + queryString
	}

	return u
}

func (r ResourceRequest) verb() string {
	if r.Verb == "" {
		return http.MethodGet
	}
	return r.Verb
}

// Quote escapes s for use as a single path segment, so that document ids
// such as "_design/foo" or "a b" survive.
func Quote(s string) string {
	return url.PathEscape(s)
}
