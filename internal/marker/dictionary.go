package marker

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/codefionn/tilewall/internal/consts"
)

const (
	builtinSeed        uint64 = 0x7469_6c65_7761_6c6c
	builtinMinDistance        = 8
	maxGenerateTries          = 1 << 20
)

// Dictionary is a fixed family of n x n fiducial codes. Bit r*n+c of a code
// is the payload cell at row r, column c; a set bit is a white cell.
type Dictionary struct {
	bits        int
	minDistance int
	codes       []uint64
}

var (
	builtinOnce sync.Once
	builtin     *Dictionary
)

// Builtin returns the 6x6, 250-symbol dictionary used by the server.
func Builtin() *Dictionary {
	builtinOnce.Do(func() {
		d, err := Generate(consts.MarkerBits, consts.MarkerDictionarySize, builtinMinDistance, builtinSeed)
		if err != nil {
			panic(fmt.Sprintf("marker: builtin dictionary: %v", err))
		}
		builtin = d
	})
	return builtin
}

// Generate builds a dictionary of count codes of n x n bits. Candidates are
// drawn from xxhash(seed+i) and accepted greedily when their Hamming distance
// to every accepted code, in all four rotations, is at least minDistance.
// Candidates that are too close to their own rotations, or that are nearly
// all black or all white, are rejected as well.
func Generate(n, count, minDistance int, seed uint64) (*Dictionary, error) {
	if n < 3 || n*n > 64 {
		return nil, fmt.Errorf("unsupported marker size %dx%d", n, n)
	}
	if count < 1 {
		return nil, fmt.Errorf("dictionary must hold at least one symbol")
	}

	d := &Dictionary{bits: n, minDistance: minDistance, codes: make([]uint64, 0, count)}
	mask := uint64(1)<<uint(n*n) - 1
	lo, hi := n*n/4, 3*n*n/4

	var buf [8]byte
	for i := uint64(0); i < maxGenerateTries && len(d.codes) < count; i++ {
		binary.LittleEndian.PutUint64(buf[:], seed+i)
		candidate := xxhash.Sum64(buf[:]) & mask

		if ones := bits.OnesCount64(candidate); ones < lo || ones > hi {
			continue
		}
		if d.selfDistance(candidate) < minDistance {
			continue
		}
		if _, _, dist := d.nearest(candidate); dist < minDistance {
			continue
		}
		d.codes = append(d.codes, candidate)
	}

	if len(d.codes) < count {
		return nil, fmt.Errorf("found %d of %d codes with distance %d", len(d.codes), count, minDistance)
	}
	return d, nil
}

// Len returns the number of symbols
func (d *Dictionary) Len() int {
	return len(d.codes)
}

// Bits returns the payload edge length in cells
func (d *Dictionary) Bits() int {
	return d.bits
}

// Code returns the raw payload of a marker
func (d *Dictionary) Code(id int) (uint64, error) {
	if id < 0 || id >= len(d.codes) {
		return 0, fmt.Errorf("%w: %d", ErrInvalidMarkerID, id)
	}
	return d.codes[id], nil
}

// Identify finds the symbol closest to code under any rotation. It returns
// the symbol ID, the number of clockwise quarter turns applied to the symbol
// to match, and the Hamming distance. ok is false when the distance is too
// large to be a reliable match.
func (d *Dictionary) Identify(code uint64) (id, rotation int, ok bool) {
	id, rotation, dist := d.nearest(code)
	return id, rotation, id >= 0 && dist <= (d.minDistance-1)/2
}

// Encode renders a marker: one black border cell around the payload, scaled
// by nearest-neighbour sampling to size x size pixels.
func (d *Dictionary) Encode(id, size int) (Bitmap, error) {
	if err := checkArgs(id, size, len(d.codes)); err != nil {
		return Bitmap{}, err
	}

	code := d.codes[id]
	cells := d.bits + 2
	bm := newBitmap(size)
	for y := 0; y < size; y++ {
		row := y * cells / size
		for x := 0; x < size; x++ {
			col := x * cells / size
			black := true
			if row > 0 && row < cells-1 && col > 0 && col < cells-1 {
				bit := (row-1)*d.bits + (col - 1)
				black = code&(1<<uint(bit)) == 0
			}
			bm.set(x, y, black)
		}
	}
	return bm, nil
}

func (d *Dictionary) nearest(code uint64) (id, rotation, dist int) {
	id, dist = -1, d.bits*d.bits+1
	for i, c := range d.codes {
		r := c
		for q := 0; q < 4; q++ {
			if h := bits.OnesCount64(r ^ code); h < dist {
				id, rotation, dist = i, q, h
			}
			r = rotate(r, d.bits)
		}
	}
	return id, rotation, dist
}

func (d *Dictionary) selfDistance(code uint64) int {
	best := d.bits * d.bits
	r := code
	for q := 1; q < 4; q++ {
		r = rotate(r, d.bits)
		if h := bits.OnesCount64(r ^ code); h < best {
			best = h
		}
	}
	return best
}

// rotate turns an n x n code a quarter turn clockwise.
func rotate(code uint64, n int) uint64 {
	var out uint64
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			src := (n-1-c)*n + r
			if code&(1<<uint(src)) != 0 {
				out |= 1 << uint(r*n+c)
			}
		}
	}
	return out
}
