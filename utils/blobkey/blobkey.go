package blobkey

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu   sync.Mutex
	entropyOnce sync.Once
	entropy     *ulid.MonotonicEntropy
)

func newEntropy() *ulid.MonotonicEntropy {
	entropyOnce.Do(func() {
		source := rand.NewSource(time.Now().UnixNano())
		entropy = ulid.Monotonic(rand.New(source), 0)
	})
	return entropy
}

// New returns a fresh lower-case ULID. Keys sort by creation time.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), newEntropy())
	return strings.ToLower(id.String())
}

// Join builds an object key from prefix segments and a fresh ULID.
func Join(prefix ...string) string {
	parts := append(append([]string{}, prefix...), New())
	return strings.Join(parts, "/")
}

// IsValid reports whether the last segment of key is a ULID.
func IsValid(key string) bool {
	idx := strings.LastIndex(key, "/")
	_, err := ulid.ParseStrict(strings.ToUpper(key[idx+1:]))
	return err == nil
}
