package marker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// entry returns one 6x6 bytesList row with rotation 0 set to payload and
// noise in the other three rotations.
func entry(payload [5]byte) []byte {
	out := make([]byte, 20)
	for k, b := range payload {
		out[k*4] = b
		out[k*4+1], out[k*4+2], out[k*4+3] = 0xff, 0x55, 0xaa
	}
	return out
}

func TestParseByteListCellOrder(t *testing.T) {
	d, err := ParseByteList(6, [][]byte{
		// cell 0 is the top bit of byte 0; cell 34 sits in the low nibble of byte 4
		entry([5]byte{0x80, 0, 0, 0, 0x02}),
		// cell 1, cell 8 and cell 32
		entry([5]byte{0x40, 0x80, 0, 0, 0x08}),
	})
	require.NoError(t, err)
	require.Equal(t, 2, d.Len())
	assert.Equal(t, 6, d.Bits())

	code, err := d.Code(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1)|1<<34, code)

	code, err = d.Code(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1)<<1|1<<8|1<<32, code)

	bm, err := d.Encode(0, 8)
	require.NoError(t, err)
	assert.False(t, bm.At(1, 1), "cell 0,0 is white")
	assert.True(t, bm.At(2, 1), "cell 0,1 is black")
	assert.False(t, bm.At(5, 6), "cell 5,4 is white")
	assert.True(t, bm.At(6, 6), "cell 5,5 is black")
}

func TestParseByteListErrors(t *testing.T) {
	_, err := ParseByteList(6, nil)
	assert.Error(t, err)

	_, err = ParseByteList(2, [][]byte{{0, 0, 0, 0}})
	assert.Error(t, err)

	_, err = ParseByteList(6, [][]byte{make([]byte, 19)})
	assert.Error(t, err)

	dup := entry([5]byte{0x80, 0, 0, 0, 0x02})
	_, err = ParseByteList(6, [][]byte{dup, dup})
	assert.Error(t, err)
}

func TestLoadDictionaryFormats(t *testing.T) {
	dir := t.TempDir()

	// numpy's bytesList.tolist() nests each byte as [r0, r1, r2, r3]
	nested := filepath.Join(dir, "nested.json")
	require.NoError(t, os.WriteFile(nested, []byte(`[
		[[128,1,2,3],[0,0,0,0],[0,0,0,0],[0,0,0,0],[2,0,0,0]],
		[[64,0,0,0],[128,0,0,0],[0,0,0,0],[0,0,0,0],[8,0,0,0]]
	]`), 0644))
	d, err := LoadDictionary(nested, 6)
	require.NoError(t, err)
	code, err := d.Code(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1)|1<<34, code)

	flat := filepath.Join(dir, "flat.yaml")
	require.NoError(t, os.WriteFile(flat, []byte(
		"- [128, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0]\n"+
			"- [64, 0, 0, 0, 128, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 8, 0, 0, 0]\n"), 0644))
	e, err := LoadDictionary(flat, 6)
	require.NoError(t, err)
	assert.Equal(t, d.codes, e.codes)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[[300]]`), 0644))
	_, err = LoadDictionary(bad, 6)
	assert.Error(t, err)

	_, err = LoadDictionary(filepath.Join(dir, "missing.json"), 6)
	assert.Error(t, err)
}
