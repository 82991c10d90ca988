package segment

import (
	"fmt"
	"strconv"

	"github.com/RoaringBitmap/roaring/v2"

	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
)

// DeletesFileName is the tombstone file of segment name written by the
// commit with the given deletion generation.
func DeletesFileName(name string, delGen int64) string {
	return name + "_" + strconv.FormatInt(delGen, 36) + ".del"
}

// EncodeDeletes serialises a tombstone set in the portable roaring format.
func EncodeDeletes(deleted *roaring.Bitmap) ([]byte, error) {
	deleted.RunOptimize()
	data, err := deleted.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("encoding tombstones: %w", err)
	}
	return data, nil
}

func DecodeDeletes(name string, data []byte) (*roaring.Bitmap, error) {
	bm := roaring.New()
	if err := bm.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("%w: tombstones %s: %v", apperrors.ErrCorruptIndex, name, err)
	}
	return bm, nil
}
