package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net/http"
	"net/url"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"github.com/klauspost/compress/gzip"
	"k8s.io/klog/v2"
	"sigs.k8s.io/json"

	"github.com/cloudant/quimby/pkg/auth"
	"github.com/cloudant/quimby/pkg/config"
)

const maxIdleConnsPerHost = 256

// Interface is the minimal client the resource wrappers need.
type Interface interface {
	// Do sends a request to the server.
	Do(ctx context.Context, r ResourceRequest) (*http.Response, error)
	// ServerURL returns the server URL.
	ServerURL() string
}

type Client struct {
	HttpClient *http.Client
	serverURL  string

	credentials auth.CredentialsProvider
	log         logr.Logger
}

type Option func(c *Client)

func WithCredentials(cp auth.CredentialsProvider) Option {
	return func(c *Client) {
		c.credentials = cp
	}
}

func WithLogger(log logr.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.HttpClient = hc
	}
}

// WithCACert trusts the given PEM encoded certificates for https
// servers. The http.Client and transport in use are copied first, so a
// client passed to WithHTTPClient is left untouched.
func WithCACert(ca []byte) Option {
	return func(c *Client) {
		certPool := x509.NewCertPool()
		certPool.AppendCertsFromPEM(ca)
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
			RootCAs:    certPool,
		}

		hc := *c.HttpClient
		if t, ok := hc.Transport.(*http.Transport); ok {
			t = t.Clone()
			t.TLSClientConfig = tlsConfig
			hc.Transport = t
		} else {
			hc.Transport = newTransport(tlsConfig)
		}
		c.HttpClient = &hc
	}
}

func newTransport(tlsConfig *tls.Config) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = maxIdleConnsPerHost
	transport.TLSClientConfig = tlsConfig
	return transport
}

// New creates a Client for the server at serverURL, which must not carry
// a path, query or fragment.
func New(serverURL string, opt ...Option) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid server url %q", serverURL)
	}
	if u.Scheme == "" || u.Host == "" || (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" {
		return nil, errors.Newf("invalid server url %q", serverURL)
	}

	c := &Client{
		serverURL:   u.Scheme + "://" + u.Host,
		credentials: auth.Anonymous{},
		log:         klog.Background().WithName("client"),
		// No client timeout: feeds are long lived and bounded by the
		// request context and the server side timeout instead.
		HttpClient: &http.Client{
			Transport: newTransport(&tls.Config{MinVersion: tls.VersionTLS12}),
		},
	}
	for _, o := range opt {
		o(c)
	}
	return c, nil
}

// NewFromConfig creates a Client for the whole cluster when node is
// empty, or for a single node on the given interface, authenticated as
// role.
func NewFromConfig(cfg *config.Config, node string, iface config.Interface, role config.Role, opt ...Option) (*Client, error) {
	serverURL := cfg.ClusterURL()
	if node != "" {
		var err error
		if serverURL, err = cfg.NodeURL(node, iface); err != nil {
			return nil, err
		}
	}

	user, err := cfg.User(role)
	if err != nil {
		return nil, err
	}
	var cp auth.CredentialsProvider = auth.Anonymous{}
	if user != nil {
		cp = auth.NewStatic(user.Name, user.Password)
	}

	return New(serverURL, append([]Option{WithCredentials(cp)}, opt...)...)
}

func (c *Client) ServerURL() string {
	return c.serverURL
}

// DoRaw sends req with the client's credentials.
func (c *Client) DoRaw(req *http.Request) (*http.Response, error) {
	if user, password, ok := c.credentials.Credentials(); ok {
		req.SetBasicAuth(user, password)
	}
	return c.HttpClient.Do(req)
}

func (c *Client) Do(ctx context.Context, r ResourceRequest) (*http.Response, error) {
	reqURL := c.serverURL + r.URL()
	req, err := http.NewRequestWithContext(ctx, r.verb(), reqURL, r.Body)
	if err != nil {
		return nil, err
	}

	for name, values := range r.Header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	contentType := r.ContentType
	if contentType == "" {
		contentType = JSONContentType
	}
	req.Header.Set("Content-Type", string(contentType))
	req.Header.Set("Accept", string(JSONContentType))
	if r.Gzip {
		// Setting this ourselves stops net/http from decoding the body
		// transparently, so the encoding stays observable.
		req.Header.Set("Accept-Encoding", "gzip")
	}

	c.log.V(3).Info("request", "method", req.Method, "url", reqURL)
	resp, err := c.DoRaw(req)
	if err != nil {
		return nil, err
	}
	c.log.V(3).Info("response", "method", req.Method, "url", reqURL, "status", resp.StatusCode)

	if r.Gzip && resp.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			resp.Body.Close()
			return nil, errors.Wrap(err, "reading gzip response")
		}
		resp.Body = &gzipBody{Reader: zr, body: resp.Body}
	}

	if !r.ReturnErrors && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		defer resp.Body.Close()
		errmsg, _ := io.ReadAll(resp.Body)
		return resp, &StatusError{StatusCode: resp.StatusCode, URL: reqURL, Body: errmsg}
	}

	return resp, nil
}

// DoJSON sends the request and decodes the JSON response into out.
func (c *Client) DoJSON(ctx context.Context, r ResourceRequest, out any) error {
	return DoJSON(ctx, c, r, out)
}

// DoJSON sends the request through kc and decodes the JSON response
// into out, which may be nil to discard it.
func DoJSON(ctx context.Context, kc Interface, r ResourceRequest, out any) error {
	resp, err := kc.Do(ctx, r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, err = io.Copy(io.Discard, resp.Body)
		return err
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "reading response of %s %s", r.verb(), r.URL())
	}
	if err := json.UnmarshalCaseSensitivePreserveInts(b, out); err != nil {
		return errors.Wrapf(err, "decoding response of %s %s", r.verb(), r.URL())
	}
	return nil
}

type gzipBody struct {
	*gzip.Reader
	body io.ReadCloser
}

func (g *gzipBody) Close() error {
	g.Reader.Close()
	return g.body.Close()
}
