package marker

import (
	"bytes"
	"image/png"
	"math/bits"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinDictionaryShape(t *testing.T) {
	d := Builtin()
	assert.Equal(t, 250, d.Len())
	assert.Equal(t, 6, d.Bits())
	assert.Same(t, d, Builtin())
}

func TestBuiltinCodesKeepDistanceUnderRotation(t *testing.T) {
	d := Builtin()
	for i := 0; i < d.Len(); i++ {
		a, err := d.Code(i)
		require.NoError(t, err)
		for j := i + 1; j < d.Len(); j++ {
			b, _ := d.Code(j)
			r := b
			for q := 0; q < 4; q++ {
				require.GreaterOrEqual(t, bits.OnesCount64(a^r), builtinMinDistance, "codes %d and %d (rotation %d)", i, j, q)
				r = rotate(r, d.Bits())
			}
		}
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	a, err := Generate(5, 20, 5, 42)
	require.NoError(t, err)
	b, err := Generate(5, 20, 5, 42)
	require.NoError(t, err)
	assert.Equal(t, a.codes, b.codes)

	c, err := Generate(5, 20, 5, 43)
	require.NoError(t, err)
	assert.NotEqual(t, a.codes, c.codes)
}

func TestGenerateRejectsBadArguments(t *testing.T) {
	_, err := Generate(2, 10, 1, 0)
	assert.Error(t, err)
	_, err = Generate(9, 10, 1, 0)
	assert.Error(t, err)
	_, err = Generate(6, 0, 1, 0)
	assert.Error(t, err)
}

func TestRotateFourTimesIsIdentity(t *testing.T) {
	code := uint64(0b101100_010011_111000_000111_100001_011110)
	r := code
	for i := 0; i < 4; i++ {
		r = rotate(r, 6)
	}
	assert.Equal(t, code, r)
	assert.NotEqual(t, code, rotate(code, 6))
}

func TestIdentifyRecoversRotatedSymbol(t *testing.T) {
	d := Builtin()
	code, err := d.Code(17)
	require.NoError(t, err)

	turned := rotate(rotate(code, 6), 6)
	id, rotation, ok := d.Identify(turned)
	require.True(t, ok)
	assert.Equal(t, 17, id)
	assert.Equal(t, 2, rotation)

	// One flipped cell is still within the correction radius.
	id, _, ok = d.Identify(code ^ 1)
	require.True(t, ok)
	assert.Equal(t, 17, id)
}

func TestEncodeCellGrid(t *testing.T) {
	d := Builtin()
	bm, err := d.Encode(3, 8)
	require.NoError(t, err)
	require.Equal(t, 8, bm.Size())

	for i := 0; i < 8; i++ {
		assert.True(t, bm.At(i, 0), "top border")
		assert.True(t, bm.At(i, 7), "bottom border")
		assert.True(t, bm.At(0, i), "left border")
		assert.True(t, bm.At(7, i), "right border")
	}

	code, _ := d.Code(3)
	for r := 0; r < 6; r++ {
		for c := 0; c < 6; c++ {
			white := code&(1<<uint(r*6+c)) != 0
			assert.Equal(t, !white, bm.At(c+1, r+1), "cell %d,%d", r, c)
		}
	}
}

func TestEncodeIsDeterministicAndScaled(t *testing.T) {
	d := Builtin()
	a, err := d.Encode(42, 80)
	require.NoError(t, err)
	b, err := d.Encode(42, 80)
	require.NoError(t, err)
	assert.True(t, a.Equal(b))

	cells, err := d.Encode(42, 8)
	require.NoError(t, err)
	for y := 0; y < 80; y++ {
		for x := 0; x < 80; x++ {
			require.Equal(t, cells.At(x/10, y/10), a.At(x, y))
		}
	}

	other, err := d.Encode(43, 80)
	require.NoError(t, err)
	assert.False(t, a.Equal(other))
}

func TestEncodeErrors(t *testing.T) {
	d := Builtin()

	_, err := d.Encode(-1, 8)
	assert.ErrorIs(t, err, ErrInvalidMarkerID)
	_, err = d.Encode(250, 8)
	assert.ErrorIs(t, err, ErrInvalidMarkerID)
	_, err = d.Encode(0, 0)
	assert.ErrorIs(t, err, ErrInvalidSize)

	bm, err := d.Encode(0, 1)
	require.NoError(t, err)
	assert.True(t, bm.At(0, 0))
}

func TestRowsAndPNG(t *testing.T) {
	bm, err := Builtin().Encode(7, 8)
	require.NoError(t, err)

	rows := bm.Rows()
	require.Len(t, rows, 8)
	assert.Equal(t, "11111111", rows[0])
	for _, row := range rows {
		assert.Len(t, row, 8)
		assert.Equal(t, byte('1'), row[0])
	}

	var buf bytes.Buffer
	require.NoError(t, WritePNG(&buf, bm))
	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
	r, _, _, _ := img.At(0, 0).RGBA()
	assert.Zero(t, r)
}
