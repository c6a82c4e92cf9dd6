package posting

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// ErrInvalidList is returned when a serialized posting list cannot be decoded.
var ErrInvalidList = errors.New("invalid posting list")

// Encode serializes rows in canonical form. Equal sets always produce equal
// bytes, whatever sequence of inserts and unions built them.
func Encode(rows *roaring64.Bitmap) ([]byte, error) {
	canonical := roaring64.New()
	canonical.AddMany(rows.ToArray())
	canonical.RunOptimize()
	return canonical.ToBytes()
}

// Decode deserializes a list produced by Encode. The result owns its memory,
// so data may be reused or evicted afterwards.
func Decode(data []byte) (*roaring64.Bitmap, error) {
	bm := roaring64.New()
	n, err := bm.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidList, err)
	}
	if n != int64(len(data)) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidList, int64(len(data))-n)
	}
	return bm, nil
}
