// Package recordid generates collision-resistant, time-ordered string
// identifiers for chartd entities. IDs synthesized here mark records
// that were created locally while the backend was unreachable; the
// backend assigns its own ids when it is the one doing the creating.
package recordid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Entity kind prefixes.
const (
	KindPatient   = "pat"
	KindSession   = "ses"
	KindEncounter = "enc"
	KindSyncEntry = "syn"
)

// timeNow is swapped out by tests.
var timeNow = time.Now

// New returns an id of the form <kind>_<unix-nanos>_<8 hex chars>.
// The nanosecond component keeps ids of one kind in creation order
// when sorted lexically; the random suffix guards against collisions
// within a single nanosecond. If the random source fails, the suffix
// is dropped and the timestamp alone is used.
func New(kind string) string {
	nanos := timeNow().UnixNano()
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%s_%d", kind, nanos)
	}
	return fmt.Sprintf("%s_%d_%s", kind, nanos, hex.EncodeToString(b))
}

// Kind returns the entity prefix of id, or "" when id carries none.
func Kind(id string) string {
	i := strings.IndexByte(id, '_')
	if i <= 0 {
		return ""
	}
	return id[:i]
}

// Time recovers the creation timestamp embedded in a locally
// generated id. The second return is false for foreign ids.
func Time(id string) (time.Time, bool) {
	parts := strings.Split(id, "_")
	if len(parts) < 2 {
		return time.Time{}, false
	}
	nanos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || nanos <= 0 {
		return time.Time{}, false
	}
	return time.Unix(0, nanos), true
}
