package vision

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(x, y, size float64) Quad {
	return Quad{{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}}
}

func TestReplayPlaysFramesThenRepeatsLast(t *testing.T) {
	dev := NewReplay([]ReplayFrame{
		{Markers: map[int]Quad{0: square(0, 0, 10)}},
		{Err: "blur"},
		{Markers: map[int]Quad{0: square(0, 0, 10), 1: square(20, 0, 10)}},
	})

	ctx := context.Background()
	capt, err := dev.Open(ctx)
	require.NoError(t, err)

	d, err := capt.Capture(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, d.IDs())

	_, err = capt.Capture(ctx)
	assert.ErrorIs(t, err, ErrFrameUnreadable)

	for i := 0; i < 3; i++ {
		d, err = capt.Capture(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1}, d.IDs())
	}

	require.NoError(t, capt.Close())
	_, err = capt.Capture(ctx)
	assert.ErrorIs(t, err, ErrDeviceClosed)
}

func TestReplayIsExclusiveAndRestarts(t *testing.T) {
	dev := NewReplay([]ReplayFrame{
		{Markers: map[int]Quad{4: square(0, 0, 1)}},
		{Markers: map[int]Quad{5: square(0, 0, 1)}},
	})
	ctx := context.Background()

	first, err := dev.Open(ctx)
	require.NoError(t, err)
	_, err = dev.Open(ctx)
	assert.Error(t, err)

	_, _ = first.Capture(ctx)
	require.NoError(t, first.Close())

	second, err := dev.Open(ctx)
	require.NoError(t, err)
	d, err := second.Capture(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{4}, d.IDs())
}

func TestReplayHonoursContext(t *testing.T) {
	dev := NewReplay([]ReplayFrame{{Markers: map[int]Quad{}}})
	capt, err := dev.Open(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = capt.Capture(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frames.json")
	script := `{"frames":[
		{"markers":{"0":[[0,0],[10,0],[10,10],[0,10]]}},
		{"error":"motion blur"},
		{"markers":{"0":[[0,0],[10,0],[10,10],[0,10]],"1":[[20,0],[30,0],[30,10],[20,10]]}}
	]}`
	require.NoError(t, os.WriteFile(path, []byte(script), 0644))

	dev, err := LoadReplay(path)
	require.NoError(t, err)
	require.Len(t, dev.frames, 3)
	assert.Equal(t, square(20, 0, 10), dev.frames[2].Markers[1])
	assert.Equal(t, "motion blur", dev.frames[1].Err)
}

func TestLoadReplayErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadReplay(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`{"frames":[]}`), 0644))
	_, err = LoadReplay(empty)
	assert.Error(t, err)

	badID := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(badID, []byte(`{"frames":[{"markers":{"x":[[0,0],[1,0],[1,1],[0,1]]}}]}`), 0644))
	_, err = LoadReplay(badID)
	assert.Error(t, err)
}

func TestOpenCVDeviceWithoutBackend(t *testing.T) {
	dev, err := NewOpenCVDevice(0)
	require.NoError(t, err)
	require.NotNil(t, dev)

	capturer, err := dev.Open(context.Background())
	if err != nil {
		assert.ErrorIs(t, err, ErrBackendUnavailable)
		assert.Nil(t, capturer)
		return
	}
	require.NoError(t, capturer.Close())
}
