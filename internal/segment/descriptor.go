package segment

import "sort"

// Descriptor identifies one media segment of a video: a contiguous time
// slice [Start, End). Descriptors for a video form an ordered sequence
// indexed 0..N-1 with End[i] == Start[i+1] and the last End equal to the
// video duration within epsilon.
type Descriptor struct {
	Index    int     `json:"index"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Duration float64 `json:"duration"`
}

// DescriptorForTime returns the index of the segment covering time t.
// t below the first segment clamps to 0; t at or beyond the last segment's
// end clamps to the last index. An empty slice yields 0.
func DescriptorForTime(descs []Descriptor, t float64) int {
	if len(descs) == 0 {
		return 0
	}
	if t < descs[0].Start {
		return 0
	}
	last := len(descs) - 1
	if t >= descs[last].End {
		return last
	}
	// First segment whose end is past t; starts are sorted ascending.
	i := sort.Search(len(descs), func(i int) bool {
		return descs[i].End > t
	})
	if i > last {
		return last
	}
	return i
}
