package buffer

import (
	"bufio"
	"os"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxLine bounds a single record; a batch body can be close to the push
// size limit.
const maxLine = 64 << 20

// Record is a batch that could not be delivered.
type Record struct {
	BatchID string    `json:"batch_id"`
	Digest  string    `json:"digest"`
	Count   int       `json:"count"`
	Outcome string    `json:"outcome"`
	Status  int       `json:"status,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	Time    time.Time `json:"time"`
	Body    string    `json:"body"`
}

// DiskBuffer is a JSON lines dead letter file.
type DiskBuffer struct {
	path string
	mu   sync.Mutex
}

func New(path string) *DiskBuffer {
	return &DiskBuffer{path: path}
}

// Path returns the file location.
func (d *DiskBuffer) Path() string {
	return d.path
}

// Append one record as a JSON line.
func (d *DiskBuffer) Append(r Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.OpenFile(d.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(r)
}

// ReadAll returns every record; a missing file means none.
func (d *DiskBuffer) ReadAll() ([]Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.Open(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	for scanner.Scan() {
		var r Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			return records, err
		}
		records = append(records, r)
	}

	return records, scanner.Err()
}

// Clear removes the file after a successful replay.
func (d *DiskBuffer) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.Remove(d.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
