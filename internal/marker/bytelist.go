package marker

import (
	"fmt"
	"math/bits"
	"os"

	"gopkg.in/yaml.v3"
)

// ParseByteList builds an n x n dictionary from OpenCV's bytesList layout.
// Each entry holds ceil(n*n/8) bytes for each of the four rotations,
// interleaved byte by byte, so rotation 0 is every fourth byte. Cells are
// packed row-major from the most significant bit, and the trailing partial
// byte keeps its cells in the low bits. A set bit is a white cell.
func ParseByteList(n int, entries [][]byte) (*Dictionary, error) {
	if n < 3 || n*n > 64 {
		return nil, fmt.Errorf("unsupported marker size %dx%d", n, n)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("dictionary must hold at least one symbol")
	}

	total := n * n
	nbytes := (total + 7) / 8
	d := &Dictionary{bits: n, codes: make([]uint64, 0, len(entries))}

	for i, entry := range entries {
		if len(entry) != 4*nbytes {
			return nil, fmt.Errorf("marker %d: got %d bytes, want %d", i, len(entry), 4*nbytes)
		}
		var code uint64
		for cell := 0; cell < total; cell++ {
			k := cell / 8
			shift := cell % 8
			if rem := total - 8*k; rem < 8 {
				shift += 8 - rem
			}
			if entry[k*4]&(0x80>>uint(shift)) != 0 {
				code |= 1 << uint(cell)
			}
		}
		d.codes = append(d.codes, code)
	}

	d.minDistance = d.spread()
	if d.minDistance < 1 {
		return nil, fmt.Errorf("dictionary holds duplicate or rotation-symmetric codes")
	}
	return d, nil
}

// LoadDictionary reads a dictionary exported from OpenCV, for example with
// json.dump(cv2.aruco.getPredefinedDictionary(cv2.aruco.DICT_6X6_250).bytesList.tolist(), f).
// The file is JSON or YAML: one list per marker, either flat or nested as
// [byte][rotation].
func LoadDictionary(path string, n int) (*Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dictionary: %w", err)
	}

	var raw []interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse dictionary %s: %w", path, err)
	}

	entries := make([][]byte, len(raw))
	for i, v := range raw {
		if err := flattenBytes(v, &entries[i]); err != nil {
			return nil, fmt.Errorf("dictionary %s, marker %d: %w", path, i, err)
		}
	}

	d, err := ParseByteList(n, entries)
	if err != nil {
		return nil, fmt.Errorf("dictionary %s: %w", path, err)
	}
	return d, nil
}

func flattenBytes(v interface{}, out *[]byte) error {
	switch t := v.(type) {
	case []interface{}:
		for _, e := range t {
			if err := flattenBytes(e, out); err != nil {
				return err
			}
		}
		return nil
	case int:
		if t < 0 || t > 255 {
			return fmt.Errorf("byte out of range: %d", t)
		}
		*out = append(*out, byte(t))
		return nil
	default:
		return fmt.Errorf("unexpected value %v", v)
	}
}

// spread is the smallest Hamming distance between any two codes under any
// rotation, and between each code and its own rotations.
func (d *Dictionary) spread() int {
	best := d.bits * d.bits
	for i, a := range d.codes {
		if s := d.selfDistance(a); s < best {
			best = s
		}
		for _, b := range d.codes[i+1:] {
			r := b
			for q := 0; q < 4; q++ {
				if h := bits.OnesCount64(a ^ r); h < best {
					best = h
				}
				r = rotate(r, d.bits)
			}
		}
	}
	return best
}
