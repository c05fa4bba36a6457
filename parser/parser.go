package parser

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/sergioferragut/from-kafka-to-polaris/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TimeColumn is the primary timestamp column of a Polaris table.
const TimeColumn = "__time"

// TimeLayout is how TimeColumn is written when it has to be added.
const TimeLayout = "2006-01-02 15:04:05"

// ErrNotObject is returned for lines that are not a JSON object.
var ErrNotObject = errors.New("event is not a JSON object")

var newlines = strings.NewReplacer("\r", "", "\n", "")

// Parse turns a raw record into a push payload: a single line JSON object
// with a TimeColumn. Objects that already carry TimeColumn are returned
// unchanged apart from whitespace and line breaks; others get the record
// timestamp added.
func Parse(raw types.RawEvent) (string, error) {
	// raw newlines can only be whitespace between JSON tokens
	line := newlines.Replace(strings.TrimSpace(raw.Line))
	if !strings.HasPrefix(line, "{") {
		return "", ErrNotObject
	}

	var fields map[string]jsoniter.RawMessage
	if err := json.UnmarshalFromString(line, &fields); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotObject, err)
	}
	if _, ok := fields[TimeColumn]; ok {
		return line, nil
	}

	ts := raw.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	stamp, err := json.Marshal(ts.UTC().Format(TimeLayout))
	if err != nil {
		return "", err
	}
	fields[TimeColumn] = stamp

	out, err := json.MarshalToString(fields)
	if err != nil {
		return "", err
	}
	return out, nil
}
