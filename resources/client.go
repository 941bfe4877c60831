package resources

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/henvic/httpretty"
	"github.com/pkg/errors"
	"github.com/rs/dnscache"
)

// DefaultEndpoint is the hub artifacts are resolved against when no
// override is configured.
const DefaultEndpoint = "https://huggingface.co"

// ErrNotFound is returned when the remote side reports the artifact does
// not exist.
var ErrNotFound = errors.New("artifact not found")

// ClientOption configures a hub Client.
type ClientOption struct {
	endpoint  string
	authToken string
	userAgent string
	timeout   time.Duration
	debug     bool
}

// ClientOptions returns the defaults: the public hub endpoint unless
// HF_ENDPOINT overrides it, token from HF_TOKEN, no overall timeout so
// large artifact downloads are bounded by per-phase transport timeouts
// instead.
func ClientOptions() *ClientOption {
	endpoint := os.Getenv("HF_ENDPOINT")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &ClientOption{
		endpoint:  endpoint,
		authToken: os.Getenv("HF_TOKEN"),
		userAgent: "retok",
	}
}

// WithEndpoint sets the hub base URL.
func (o *ClientOption) WithEndpoint(endpoint string) *ClientOption {
	if o == nil || endpoint == "" {
		return o
	}
	o.endpoint = strings.TrimRight(endpoint, "/")
	return o
}

// WithAuthToken sets the bearer token sent with hub requests.
func (o *ClientOption) WithAuthToken(token string) *ClientOption {
	if o == nil || token == "" {
		return o
	}
	o.authToken = token
	return o
}

// WithUserAgent sets the user agent.
func (o *ClientOption) WithUserAgent(ua string) *ClientOption {
	if o == nil || ua == "" {
		return o
	}
	o.userAgent = ua
	return o
}

// WithTimeout bounds whole requests. Use 0 to disable.
func (o *ClientOption) WithTimeout(timeout time.Duration) *ClientOption {
	if o == nil || timeout < 0 {
		return o
	}
	o.timeout = timeout
	return o
}

// WithDebug traces requests and responses to stderr.
func (o *ClientOption) WithDebug() *ClientOption {
	if o == nil {
		return o
	}
	o.debug = true
	return o
}

// If is a conditional option, applying the given function only when the
// condition holds.
func (o *ClientOption) If(condition bool, then func(*ClientOption) *ClientOption) *ClientOption {
	if condition {
		return then(o)
	}
	return o
}

// Client fetches artifacts from a hub endpoint.
type Client struct {
	http     *http.Client
	endpoint string
	auth     string
	ua       string
}

// NewClient builds a Client. DNS lookups are cached across the many
// same-host requests a resolution makes.
func NewClient(opts ...*ClientOption) *Client {
	var o *ClientOption
	if len(opts) > 0 && opts[0] != nil {
		o = opts[0]
	} else {
		o = ClientOptions()
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	resolver := &dnscache.Resolver{}
	var rt http.RoundTripper = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		DialContext:           cachedDialContext(resolver, dialer),
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if o.debug {
		pretty := &httpretty.Logger{
			Time:            true,
			TLS:             true,
			RequestHeader:   true,
			RequestBody:     true,
			MaxRequestBody:  1024,
			ResponseHeader:  true,
			ResponseBody:    false,
			MaxResponseBody: 1024,
			Formatters:      []httpretty.Formatter{&httpretty.JSONFormatter{}},
		}
		rt = pretty.RoundTripper(rt)
	}

	return &Client{
		http: &http.Client{
			Transport: rt,
			Timeout:   o.timeout,
		},
		endpoint: o.endpoint,
		auth:     o.authToken,
		ua:       o.userAgent,
	}
}

func cachedDialContext(resolver *dnscache.Resolver, dialer *net.Dialer) func(context.Context, string, string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (conn net.Conn, err error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		ips, err := resolver.LookupHost(ctx, host)
		if err != nil {
			return nil, err
		}
		for _, ip := range ips {
			conn, err = dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
			if err == nil {
				break
			}
		}
		return conn, err
	}
}

// ResolveURL forms the download URL for a model's artifact.
func (c *Client) ResolveURL(modelId string, rsrc string) string {
	return c.endpoint + "/" + modelId + "/resolve/main/" + rsrc
}

func (c *Client) newRequest(ctx context.Context, method string, uri string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, uri, nil)
	if err != nil {
		return nil, err
	}
	if c.ua != "" {
		req.Header.Set("User-Agent", c.ua)
	}
	if c.auth != "" {
		req.Header.Set("Authorization", "Bearer "+c.auth)
	}
	return req, nil
}

// FetchHTTP
// Fetches the resource at the given URI, returning the response body.
func (c *Client) FetchHTTP(ctx context.Context, uri string) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodGet, uri)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, errors.Wrapf(ErrNotFound, "%s", uri)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.Errorf("fetching %s: %s", uri, resp.Status)
	}
	return resp.Body, nil
}

// SizeHTTP
// Determines the size of the resource at the given URI via a HEAD request.
func (c *Client) SizeHTTP(ctx context.Context, uri string) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodHead, uri)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return 0, errors.Wrapf(ErrNotFound, "%s", uri)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("sizing %s: %s", uri, resp.Status)
	}
	if resp.ContentLength < 0 {
		return 0, nil
	}
	return resp.ContentLength, nil
}
