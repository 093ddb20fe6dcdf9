package marker

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidMarkerID is returned for IDs outside the dictionary
	ErrInvalidMarkerID = errors.New("invalid marker id")
	// ErrInvalidSize is returned for a rendered size below one pixel
	ErrInvalidSize = errors.New("invalid marker size")
)

// Codec renders marker IDs as fiducial bitmaps
type Codec interface {
	// Encode renders marker id as a size x size bitmap.
	Encode(id, size int) (Bitmap, error)
	// Len returns the number of symbols; valid IDs are [0, Len()).
	Len() int
}

func checkArgs(id, size, count int) error {
	if id < 0 || id >= count {
		return fmt.Errorf("%w: %d (dictionary holds %d symbols)", ErrInvalidMarkerID, id, count)
	}
	if size < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	return nil
}
