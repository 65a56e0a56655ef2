package vad

// Smooth turns per-frame speech flags into intervals. Silences shorter than
// MinSilenceMS are bridged, runs shorter than MinSpeechMS are dropped, and
// the survivors are padded by PaddingMS on both sides and clipped to
// [0, durationMS].
func Smooth(flags []bool, opts Options, durationMS int64) []Interval {
	frameMS := int64(opts.FrameMS)
	if frameMS <= 0 || len(flags) == 0 {
		return nil
	}

	var runs []Interval
	for i := 0; i < len(flags); {
		if !flags[i] {
			i++
			continue
		}
		j := i
		for j < len(flags) && flags[j] {
			j++
		}
		runs = append(runs, Interval{StartMS: int64(i) * frameMS, EndMS: int64(j) * frameMS})
		i = j
	}

	bridged := make([]Interval, 0, len(runs))
	for _, run := range runs {
		if n := len(bridged); n > 0 && run.StartMS-bridged[n-1].EndMS < int64(opts.MinSilenceMS) {
			bridged[n-1].EndMS = run.EndMS
			continue
		}
		bridged = append(bridged, run)
	}

	pad := int64(opts.PaddingMS)
	out := make([]Interval, 0, len(bridged))
	for _, run := range bridged {
		if run.EndMS-run.StartMS < int64(opts.MinSpeechMS) {
			continue
		}
		run.StartMS = max(run.StartMS-pad, 0)
		run.EndMS += pad
		if durationMS > 0 {
			run.EndMS = min(run.EndMS, durationMS)
		}
		if run.EndMS <= run.StartMS {
			continue
		}
		if n := len(out); n > 0 && run.StartMS <= out[n-1].EndMS {
			out[n-1].EndMS = max(out[n-1].EndMS, run.EndMS)
			continue
		}
		out = append(out, run)
	}
	return out
}
