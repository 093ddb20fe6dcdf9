package registry

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/tilewall/internal/protocol"
)

type recordingHandle struct {
	mu   sync.Mutex
	msgs []*protocol.Message
	full bool
}

func (h *recordingHandle) Send(msg *protocol.Message) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.full {
		return false
	}
	h.msgs = append(h.msgs, msg)
	return true
}

func TestRegisterAssignsSequentialMarkers(t *testing.T) {
	r := New()

	a, err := r.Register("a", nil)
	require.NoError(t, err)
	b, err := r.Register("b", nil)
	require.NoError(t, err)

	assert.Equal(t, 0, a)
	assert.Equal(t, 1, b)
	assert.Equal(t, 2, r.Count())
}

func TestRegisterDuplicate(t *testing.T) {
	r := New()
	_, err := r.Register("a", nil)
	require.NoError(t, err)

	_, err = r.Register("a", nil)
	assert.ErrorIs(t, err, ErrDuplicateClient)
	assert.Equal(t, 1, r.Count())
}

func TestMarkerIDsAreNotReused(t *testing.T) {
	r := New()
	first, err := r.Register("a", nil)
	require.NoError(t, err)
	r.Unregister("a")

	again, err := r.Register("a", nil)
	require.NoError(t, err)
	assert.Greater(t, again, first)
}

func TestUnregisterIsIdempotent(t *testing.T) {
	r := New()
	_, err := r.Register("a", nil)
	require.NoError(t, err)

	r.Unregister("a")
	r.Unregister("a")
	r.Unregister("never-seen")

	_, err = r.Lookup("a")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.MarkerID("a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, r.Count())
}

func TestMaxMarkers(t *testing.T) {
	r := New(WithMaxMarkers(2))
	_, err := r.Register("a", nil)
	require.NoError(t, err)
	_, err = r.Register("b", nil)
	require.NoError(t, err)

	_, err = r.Register("c", nil)
	assert.ErrorIs(t, err, ErrMarkerSpaceExhausted)

	r.Unregister("a")
	_, err = r.Register("c", nil)
	assert.ErrorIs(t, err, ErrMarkerSpaceExhausted)
}

func TestConcurrentRegisterYieldsDistinctIncreasingIDs(t *testing.T) {
	r := New()
	const n = 200

	var wg sync.WaitGroup
	ids := make([]int, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = r.Register(fmt.Sprintf("client-%d", i), nil)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	sort.Ints(ids)
	for i, id := range ids {
		assert.Equal(t, i, id)
	}

	snap := r.Snapshot()
	require.Len(t, snap, n)
	for i := 1; i < len(snap); i++ {
		assert.Less(t, snap[i-1].MarkerID, snap[i].MarkerID)
	}
}

func TestSend(t *testing.T) {
	r := New()
	h := &recordingHandle{}
	_, err := r.Register("a", h)
	require.NoError(t, err)

	assert.True(t, r.Send("a", protocol.NewMessage(protocol.TypePong, nil)))
	assert.False(t, r.Send("missing", protocol.NewMessage(protocol.TypePong, nil)))

	h.full = true
	assert.False(t, r.Send("a", protocol.NewMessage(protocol.TypePong, nil)))
	assert.Len(t, h.msgs, 1)
}
