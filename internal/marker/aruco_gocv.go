//go:build gocv

package marker

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/codefionn/tilewall/internal/consts"
)

// ArucoCodec renders markers with OpenCV's reference ArUco generator.
type ArucoCodec struct {
	dict gocv.ArucoDictionaryCode
}

// NewArucoCodec returns a codec for the DICT_6X6_250 family.
func NewArucoCodec() *ArucoCodec {
	return &ArucoCodec{dict: gocv.ArucoDict6x6_250}
}

// Len returns the number of symbols in the family
func (a *ArucoCodec) Len() int {
	return consts.MarkerDictionarySize
}

// Encode renders marker id with a one-cell border at size x size pixels.
func (a *ArucoCodec) Encode(id, size int) (Bitmap, error) {
	if err := checkArgs(id, size, a.Len()); err != nil {
		return Bitmap{}, err
	}

	img := gocv.NewMat()
	defer img.Close()

	if err := gocv.ArucoGenerateImageMarker(a.dict, id, size, &img, 1); err != nil {
		return Bitmap{}, fmt.Errorf("generate aruco marker %d: %w", id, err)
	}
	if img.Rows() != size || img.Cols() != size {
		return Bitmap{}, fmt.Errorf("generate aruco marker %d: got %dx%d image", id, img.Cols(), img.Rows())
	}

	bm := newBitmap(size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			bm.set(x, y, img.GetUCharAt(y, x) < 128)
		}
	}
	return bm, nil
}
