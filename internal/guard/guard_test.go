package guard

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGuardMarkIfNew(t *testing.T) {
	t.Parallel()

	g, err := New(8)
	require.NoError(t, err)

	fresh, err := g.MarkIfNew("order-1")
	require.NoError(t, err)
	require.True(t, fresh)

	dup, err := g.MarkIfNew("order-1")
	require.NoError(t, err)
	require.False(t, dup)

	require.True(t, g.Contains("order-1"))
	require.False(t, g.Contains("order-2"))
}

func TestGuardRejectsBlankKey(t *testing.T) {
	t.Parallel()

	g, err := New(8)
	require.NoError(t, err)

	_, err = g.MarkIfNew("   ")
	require.Error(t, err)
}

func TestGuardRejectsNonPositiveCapacity(t *testing.T) {
	t.Parallel()

	_, err := New(0)
	require.Error(t, err)
	_, err = New(-1)
	require.Error(t, err)
}

func TestGuardBoundHolds(t *testing.T) {
	t.Parallel()

	const capacity = 16
	g, err := New(capacity)
	require.NoError(t, err)

	for i := 0; i < capacity*4; i++ {
		_, err := g.MarkIfNew(fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
		require.LessOrEqual(t, g.Len(), capacity, "size bound holds after every operation")
	}
}

func TestGuardAccessOrderEviction(t *testing.T) {
	t.Parallel()

	g, err := New(2)
	require.NoError(t, err)

	_, _ = g.MarkIfNew("a")
	_, _ = g.MarkIfNew("b")
	// Touch "a" so "b" becomes least recently used.
	fresh, err := g.MarkIfNew("a")
	require.NoError(t, err)
	require.False(t, fresh)

	_, _ = g.MarkIfNew("c")
	require.True(t, g.Contains("a"))
	require.False(t, g.Contains("b"))
}

func TestParkingLotBoundAndDrop(t *testing.T) {
	t.Parallel()

	lot := NewParkingLot(2, nil)
	lot.Park("doc-1", "TRANSIENT_FAILURE", "exhausted retries")
	lot.Park("doc-2", "PERMANENT_FAILURE", "bad payload")
	lot.Park("doc-3", "PERMANENT_FAILURE", "overflow")

	require.Len(t, lot.Entries(), 2)
	require.Equal(t, 1, lot.Dropped())

	found := lot.Find("doc-1")
	require.Len(t, found, 1)
	require.Equal(t, "TRANSIENT_FAILURE", found[0].ErrorKind)
	require.False(t, found[0].ParkedAt.IsZero())
}

func TestParkingLotShutdown(t *testing.T) {
	t.Parallel()

	lot := NewParkingLot(4, nil)
	lot.Shutdown()
	lot.Park("doc-1", "PERMANENT_FAILURE", "ignored after shutdown")
	require.Empty(t, lot.Entries())
}
