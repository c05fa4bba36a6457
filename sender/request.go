package sender

import (
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// ErrInvalidURL is returned for any URL whose scheme is not http or https.
var ErrInvalidURL = errors.New("incorrect and possibly insecure protocol in url")

// Encoding selects how a request body is produced.
type Encoding int

const (
	// EncodingNone sends Body untouched with no Content-Type.
	EncodingNone Encoding = iota
	// EncodingJSON sends Body as JSON.
	EncodingJSON
	// EncodingForm sends Params as an urlencoded form (POST) or query (GET).
	EncodingForm
)

func (e Encoding) String() string {
	switch e {
	case EncodingJSON:
		return "json"
	case EncodingForm:
		return "form"
	default:
		return "none"
	}
}

const (
	contentTypeJSON = "application/json; charset=UTF-8"
	contentTypeForm = "application/x-www-form-urlencoded"
)

// Request describes a single HTTP exchange.
type Request struct {
	URL      string
	Method   string
	Header   map[string]string
	Params   map[string]string
	Body     string
	Encoding Encoding
}

// checkURL rejects anything that is not plain http(s).
func checkURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Join(ErrInvalidURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, ErrInvalidURL
	}
	return u, nil
}

// method normalises the request method, defaulting to GET.
func (r Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

// params returns the query/form parameters. For GET requests a non-empty
// Body is read as a query string and merged in, since GET carries no body.
func (r Request) params() map[string]string {
	out := make(map[string]string, len(r.Params))
	for k, v := range r.Params {
		out[k] = v
	}
	if r.method() == http.MethodGet && r.Body != "" {
		if extra, err := url.ParseQuery(r.Body); err == nil {
			for k, vs := range extra {
				if len(vs) > 0 {
					out[k] = vs[len(vs)-1]
				}
			}
		}
	}
	return out
}

// EncodeParams percent-encodes params with sorted keys. Spaces become %20
// and '/' is left as is, which is what most token endpoints expect.
func EncodeParams(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(escape(k))
		b.WriteByte('=')
		b.WriteString(escape(params[k]))
	}
	return b.String()
}

func escape(s string) string {
	s = url.QueryEscape(s)
	s = strings.ReplaceAll(s, "+", "%20")
	return strings.ReplaceAll(s, "%2F", "/")
}

// appendQuery adds an encoded query to u, keeping any query already there.
func appendQuery(u *url.URL, encoded string) {
	if encoded == "" {
		return
	}
	if u.RawQuery == "" {
		u.RawQuery = encoded
		return
	}
	u.RawQuery += "&" + encoded
}
