package processor

import (
	"sort"

	"github.com/SirClappington/tagq/internal/domain"
)

// BoundaryAlphabet supplies the characters appended to a range prefix to split it.
const BoundaryAlphabet = "02468acegikmoqsuwyACEGIKMOQSUWY_-~:"

// boundaryChars is BoundaryAlphabet in byte order, the order the account store compares
// ids in. Sub-ranges are only contiguous when their boundaries follow that order.
var boundaryChars = func() []byte {
	b := []byte(BoundaryAlphabet)
	sort.Slice(b, func(i, j int) bool { return b[i] < b[j] })
	return b
}()

// IsLeafRange reports whether a range can no longer be subdivided and must be walked
// linearly through LastAccountId.
func IsLeafRange(s domain.FetchForReindexStep) bool {
	return s.RangeEnd != "" && len(s.RangeEnd) > len(s.RangeStart)
}

// Subdivide splits (RangeStart, RangeEnd] into len(BoundaryAlphabet)+1 contiguous
// sub-ranges at RangeStart+c for each boundary character c, then drops or seeds them
// against last, the highest id already emitted for the range:
//   - sub-ranges whose upper bound is <= last are dropped
//   - the sub-range containing last resumes after it
//   - sub-ranges above last are returned untouched
//
// An empty last means nothing in the range has been emitted yet.
func Subdivide(s domain.FetchForReindexStep, last string) []domain.FetchForReindexStep {
	bounds := make([]string, 0, len(boundaryChars)+2)
	bounds = append(bounds, s.RangeStart)
	for _, c := range boundaryChars {
		bounds = append(bounds, s.RangeStart+string(c))
	}
	bounds = append(bounds, s.RangeEnd)

	out := make([]domain.FetchForReindexStep, 0, len(bounds)-1)
	for i := 0; i+1 < len(bounds); i++ {
		lo, hi := bounds[i], bounds[i+1]
		if last != "" && hi != "" && last >= hi {
			continue
		}
		sub := domain.FetchForReindexStep{TenantId: s.TenantId, RangeStart: lo, RangeEnd: hi}
		if last != "" && last > lo {
			sub.LastAccountId = last
		}
		out = append(out, sub)
	}
	return out
}
