package marker

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
)

// Bitmap is a square grid of cells; true means black ink.
type Bitmap struct {
	size  int
	cells []bool
}

func newBitmap(size int) Bitmap {
	return Bitmap{size: size, cells: make([]bool, size*size)}
}

// Size returns the edge length in pixels
func (b Bitmap) Size() int {
	return b.size
}

// At reports whether the pixel at column x, row y is black
func (b Bitmap) At(x, y int) bool {
	if x < 0 || y < 0 || x >= b.size || y >= b.size {
		return false
	}
	return b.cells[y*b.size+x]
}

func (b Bitmap) set(x, y int, black bool) {
	b.cells[y*b.size+x] = black
}

// Equal reports whether two bitmaps have the same size and pixels
func (b Bitmap) Equal(o Bitmap) bool {
	if b.size != o.size {
		return false
	}
	for i := range b.cells {
		if b.cells[i] != o.cells[i] {
			return false
		}
	}
	return true
}

// Rows renders the bitmap as one string per row, "1" for black and "0" for
// white. This is the wire form sent to tiles.
func (b Bitmap) Rows() []string {
	rows := make([]string, b.size)
	var sb strings.Builder
	for y := 0; y < b.size; y++ {
		sb.Reset()
		for x := 0; x < b.size; x++ {
			if b.At(x, y) {
				sb.WriteByte('1')
			} else {
				sb.WriteByte('0')
			}
		}
		rows[y] = sb.String()
	}
	return rows
}

// Image converts the bitmap to an 8-bit grayscale image
func (b Bitmap) Image() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, b.size, b.size))
	for y := 0; y < b.size; y++ {
		for x := 0; x < b.size; x++ {
			if b.At(x, y) {
				img.SetGray(x, y, color.Gray{Y: 0})
			} else {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

// WritePNG encodes the bitmap as a PNG image
func WritePNG(w io.Writer, b Bitmap) error {
	return png.Encode(w, b.Image())
}
