package hasher

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Digest returns the hex blake3 sum of a batch body. It is logged with
// every push so a delivered batch can be matched to a dead-lettered one.
func Digest(body string) string {
	sum := blake3.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// Chain hashes prev followed by body, linking consecutive batches of a
// pipeline run.
func Chain(prev, body string) string {
	h := blake3.New()
	h.Write([]byte(prev))
	h.Write([]byte(body))
	return hex.EncodeToString(h.Sum(nil))
}
