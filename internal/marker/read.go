package marker

import (
	"fmt"
	"image"
	"image/color"
)

// ReadImage samples a rendered marker that fills img: a one-cell black
// border around the payload, as Encode draws it. It returns the symbol ID
// and the quarter turns between the symbol and the image.
func (d *Dictionary) ReadImage(img image.Image) (id, rotation int, err error) {
	b := img.Bounds()
	cells := d.bits + 2
	if b.Dx() < cells || b.Dy() < cells {
		return -1, 0, fmt.Errorf("image %dx%d is smaller than %d cells", b.Dx(), b.Dy(), cells)
	}

	black := func(row, col int) bool {
		x := b.Min.X + (2*col+1)*b.Dx()/(2*cells)
		y := b.Min.Y + (2*row+1)*b.Dy()/(2*cells)
		return color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y < 128
	}

	for i := 0; i < cells; i++ {
		if !black(0, i) || !black(cells-1, i) || !black(i, 0) || !black(i, cells-1) {
			return -1, 0, fmt.Errorf("marker border is not black")
		}
	}

	var code uint64
	for r := 0; r < d.bits; r++ {
		for c := 0; c < d.bits; c++ {
			if !black(r+1, c+1) {
				code |= 1 << uint(r*d.bits+c)
			}
		}
	}

	id, rotation, ok := d.Identify(code)
	if !ok {
		return -1, 0, fmt.Errorf("pattern matches no marker")
	}
	return id, rotation, nil
}
