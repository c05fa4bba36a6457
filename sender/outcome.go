package sender

import (
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Kind classifies the result of one exchange.
type Kind int

const (
	// Delivered is a response with status < 400.
	Delivered Kind = iota
	// Rejected is a response with status >= 400.
	Rejected
	// TransportFailed means no response was received.
	TransportFailed
)

func (k Kind) String() string {
	switch k {
	case Delivered:
		return "delivered"
	case Rejected:
		return "rejected"
	case TransportFailed:
		return "transport_failed"
	default:
		return "unknown"
	}
}

// Outcome is the classified result of a Send.
type Outcome struct {
	Kind   Kind
	Status int
	Header http.Header
	Body   string
	// Err is set for TransportFailed outcomes.
	Err error
	// ErrorCount is 1 for Rejected and TransportFailed, 0 otherwise.
	// It is informational only.
	ErrorCount int
	Elapsed    time.Duration
}

// OK reports whether the request was delivered.
func (o Outcome) OK() bool {
	return o.Kind == Delivered
}

// JSON decodes Body on demand. A body that is not valid JSON yields an
// empty object.
func (o Outcome) JSON() any {
	var v any
	if err := json.UnmarshalFromString(o.Body, &v); err != nil || v == nil {
		return map[string]any{}
	}
	return v
}

// Object is JSON narrowed to an object; anything else is an empty map.
func (o Outcome) Object() map[string]any {
	if m, ok := o.JSON().(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// Reason is a short human readable description of a failed outcome.
func (o Outcome) Reason() string {
	switch o.Kind {
	case TransportFailed:
		if o.Err != nil {
			return o.Err.Error()
		}
		return "transport failure"
	case Rejected:
		return http.StatusText(o.Status)
	default:
		return ""
	}
}

func failed(err error, elapsed time.Duration) Outcome {
	return Outcome{
		Kind:       TransportFailed,
		Err:        err,
		ErrorCount: 1,
		Elapsed:    elapsed,
	}
}

// Failed builds a TransportFailed outcome for requests that never got a
// response, e.g. because the caller's context ended first.
func Failed(err error) Outcome {
	return failed(err, 0)
}
