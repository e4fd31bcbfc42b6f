package journal

import (
	"context"
	"fmt"
)

// Search performs a binary search over the records in the half-open range
// [begin, end) to find the first record for which pred returns true.
//
// pred must return false for some (possibly empty) prefix of the range and
// true for the remainder. If pred is false for every record, ok is false and
// off is end.
func Search(
	ctx context.Context,
	j Journal,
	begin, end Offset,
	pred func(ctx context.Context, rec []byte) (bool, error),
) (off Offset, rec []byte, ok bool, err error) {
	lo, hi := begin, end

	for lo < hi {
		mid := lo + (hi-lo)/2

		r, exists, err := j.Get(ctx, mid)
		if err != nil {
			return 0, nil, false, err
		}
		if !exists {
			return 0, nil, false, fmt.Errorf("journal is corrupt: missing record at offset %d", mid)
		}

		match, err := pred(ctx, r)
		if err != nil {
			return 0, nil, false, err
		}

		if match {
			// rec always ends up as the record at the final value of hi.
			hi = mid
			rec = r
		} else {
			lo = mid + 1
		}
	}

	if lo == end {
		return end, nil, false, nil
	}

	return lo, rec, true, nil
}
