package recordid

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPattern(t *testing.T) {
	id := New(KindPatient)
	assert.Regexp(t, `^pat_\d+_[0-9a-f]{8}$`, id)
}

func TestNewUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := New(KindSession)
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestNewTimeOrdered(t *testing.T) {
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	step := 0
	orig := timeNow
	timeNow = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Millisecond)
	}
	defer func() { timeNow = orig }()

	ids := make([]string, 20)
	for i := range ids {
		ids[i] = New(KindEncounter)
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	assert.Equal(t, ids, sorted, "ids should sort in creation order")
}

func TestKind(t *testing.T) {
	assert.Equal(t, "pat", Kind(New(KindPatient)))
	assert.Equal(t, "enc", Kind("enc_1234_abcd"))
	assert.Equal(t, "", Kind("no-separator"))
	assert.Equal(t, "", Kind("_leading"))
}

func TestTime(t *testing.T) {
	at := time.Date(2025, 6, 15, 14, 30, 0, 123456789, time.UTC)
	orig := timeNow
	timeNow = func() time.Time { return at }
	defer func() { timeNow = orig }()

	got, ok := Time(New(KindPatient))
	require.True(t, ok)
	assert.True(t, got.Equal(at))

	_, ok = Time("remote-assigned-uuid")
	assert.False(t, ok)
}
