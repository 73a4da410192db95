package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// DerivativeContentType is the content type of uploaded derivatives.
const DerivativeContentType = "image/jp2"

// Part is one numbered chunk of a multipart upload.
type Part struct {
	Number int32
	Offset int64
	Size   int64
}

// PlanParts splits size bytes into ceil(size/partSize) parts numbered from 1.
func PlanParts(size, partSize int64) ([]Part, error) {
	if size <= 0 {
		return nil, fmt.Errorf("cannot upload empty object")
	}
	if partSize <= 0 {
		return nil, fmt.Errorf("invalid part size %d", partSize)
	}
	count := (size + partSize - 1) / partSize
	parts := make([]Part, 0, count)
	for i := int64(0); i < count; i++ {
		offset := i * partSize
		n := partSize
		if offset+n > size {
			n = size - offset
		}
		parts = append(parts, Part{Number: int32(i + 1), Offset: offset, Size: n})
	}
	return parts, nil
}

// DerivativeKey returns the object key of the derivative at position.
// Position 0 is stored as "<id>.jp2", later positions as "<id>/<position>.jp2".
func DerivativeKey(folder, itemID string, position int) string {
	var b strings.Builder
	b.WriteString(folder)
	b.WriteString(itemID)
	if position > 0 {
		b.WriteString("/")
		b.WriteString(strconv.Itoa(position))
	}
	b.WriteString(".jp2")
	return b.String()
}
