package logger

import (
	"strconv"
	"strings"
	"sync/atomic"
)

// sampler lets num out of every den events through. A zero ratio lets
// everything through.
type sampler struct {
	ratio atomic.Uint64 // num<<32 | den
	seen  atomic.Uint64
}

func newSampler(num, den int) *sampler {
	s := &sampler{}
	s.Set(num, den)
	return s
}

// Set replaces the ratio and restarts the cycle. num is clamped to den.
func (s *sampler) Set(num, den int) {
	var ratio uint64
	if num > 0 && den > 0 {
		num = min(num, den)
		ratio = uint64(num)<<32 | uint64(uint32(den))
	}
	s.ratio.Store(ratio)
	s.seen.Store(0)
}

// Allow reports whether the next event is sampled in.
func (s *sampler) Allow() bool {
	ratio := s.ratio.Load()
	if ratio == 0 {
		return true
	}
	num, den := ratio>>32, ratio&0xffffffff
	return (s.seen.Add(1)-1)%den < num
}

// parseRatioSpec reads "n/m" or "m" (meaning 1/m). Invalid input yields 0/0.
func parseRatioSpec(spec string) (int, int) {
	spec = strings.TrimSpace(spec)
	if a, b, ok := strings.Cut(spec, "/"); ok {
		num, errNum := strconv.Atoi(strings.TrimSpace(a))
		den, errDen := strconv.Atoi(strings.TrimSpace(b))
		if errNum != nil || errDen != nil {
			return 0, 0
		}
		return num, den
	}
	den, err := strconv.Atoi(spec)
	if err != nil || den <= 0 {
		return 0, 0
	}
	return 1, den
}
