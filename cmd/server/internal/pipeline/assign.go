package pipeline

import (
	"math"
	"sort"

	"github.com/voxscribe/voxscribe/cmd/server/internal/inference"
)

// assignSpeakers attributes each transcript segment to the diarization turn
// it overlaps most. Segments overlapping no turn keep an empty speaker label.
func assignSpeakers(segments []inference.Segment, turns []inference.Turn) []inference.Segment {
	out := make([]inference.Segment, len(segments))
	for i, seg := range segments {
		best := ""
		bestOverlap := 0.0
		for _, turn := range turns {
			o := overlap(seg.Start, seg.End, turn.Start, turn.End)
			if o > bestOverlap {
				bestOverlap = o
				best = turn.Speaker
			}
		}
		seg.Speaker = best
		out[i] = seg
	}
	return out
}

func overlap(aStart, aEnd, bStart, bEnd float64) float64 {
	return math.Max(0, math.Min(aEnd, bEnd)-math.Max(aStart, bStart))
}

// speakerLabels returns the distinct speaker labels of the assigned segments
// in stable sorted order.
func speakerLabels(segments []inference.Segment) []string {
	seen := make(map[string]bool)
	for _, seg := range segments {
		if seg.Speaker != "" {
			seen[seg.Speaker] = true
		}
	}
	labels := make([]string, 0, len(seen))
	for label := range seen {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}
