package sender

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/klauspost/compress/gzip"
)

// DefaultTimeout bounds a whole exchange, including reading the body.
const DefaultTimeout = 30 * time.Second

// MaxResponseSize bounds how much of a response body is read.
const MaxResponseSize int64 = 256 << 20

// Client is the HTTP Sender.
type Client struct {
	Client *http.Client
	// Compress gzips request bodies and sets Content-Encoding.
	Compress bool
	Clock    clock.Clock
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides DefaultTimeout. Zero disables the timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.Client.Timeout = d }
}

// WithCompression enables gzip request bodies.
func WithCompression(on bool) Option {
	return func(c *Client) { c.Compress = on }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.Client = hc }
}

// WithClock replaces the clock used to time requests.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.Clock = clk }
}

// New returns an HTTP Sender.
func New(opts ...Option) *Client {
	c := &Client{
		Client: &http.Client{
			Timeout: DefaultTimeout,
		},
		Clock: clock.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send performs one exchange. The error is non-nil only when the request
// could not be built (bad scheme, bad method); every network level problem
// is reported as a TransportFailed outcome.
func (c *Client) Send(ctx context.Context, r Request) (Outcome, error) {
	u, err := checkURL(r.URL)
	if err != nil {
		return Outcome{}, err
	}

	method := r.method()
	header := make(http.Header, len(r.Header)+2)
	for k, v := range r.Header {
		header.Set(k, v)
	}

	var body []byte
	encoded := EncodeParams(r.params())
	switch {
	case method == http.MethodGet:
		appendQuery(u, encoded)
	case r.Encoding == EncodingForm:
		body = []byte(encoded)
		header.Set("Content-Type", contentTypeForm)
	case r.Encoding == EncodingJSON:
		appendQuery(u, encoded)
		body = []byte(r.Body)
		header.Set("Content-Type", contentTypeJSON)
	default:
		appendQuery(u, encoded)
		if r.Body != "" {
			body = []byte(r.Body)
		}
	}

	if c.Compress && len(body) > 0 {
		if body, err = gzipBytes(body); err != nil {
			return Outcome{}, fmt.Errorf("compressing request body: %w", err)
		}
		header.Set("Content-Encoding", "gzip")
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return Outcome{}, fmt.Errorf("building request: %w", err)
	}
	req.Header = header

	start := c.Clock.Now()
	resp, err := c.Client.Do(req)
	if err != nil {
		return failed(err, c.Clock.Since(start)), nil
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	elapsed := c.Clock.Since(start)
	if err != nil {
		return failed(fmt.Errorf("reading response body: %w", err), elapsed), nil
	}

	out := Outcome{
		Kind:    Delivered,
		Status:  resp.StatusCode,
		Header:  resp.Header,
		Body:    string(data),
		Elapsed: elapsed,
	}
	if resp.StatusCode >= http.StatusBadRequest {
		out.Kind = Rejected
		out.ErrorCount = 1
	}
	return out, nil
}

func gzipBytes(in []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(in); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
