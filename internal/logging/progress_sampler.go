package logging

// ProgressSampler throttles per-item progress logs for long stages such as
// transcription and translation. It emits on the first item, every time the
// completed share crosses a new bucket, and on the last item.
type ProgressSampler struct {
	bucketPercent int
	lastBucket    int
}

// NewProgressSampler returns a sampler using bucketPercent wide buckets
// (10% when bucketPercent is outside 1..100).
func NewProgressSampler(bucketPercent int) *ProgressSampler {
	if bucketPercent <= 0 || bucketPercent > 100 {
		bucketPercent = 10
	}
	return &ProgressSampler{bucketPercent: bucketPercent, lastBucket: -1}
}

// ShouldLog reports whether done-of-total progress deserves a log line.
func (s *ProgressSampler) ShouldLog(done, total int) bool {
	if s == nil || total <= 0 {
		return true
	}
	if done >= total {
		done = total
	}
	if done < 0 {
		done = 0
	}
	bucket := done * 100 / total / s.bucketPercent
	if done == total {
		bucket = 100/s.bucketPercent + 1
	}
	if bucket <= s.lastBucket {
		return false
	}
	s.lastBucket = bucket
	return true
}

// Percent renders done-of-total as a whole percentage.
func Percent(done, total int) int {
	if total <= 0 {
		return 100
	}
	return done * 100 / total
}
