// Package timeline buckets mood entries into fixed-width slots for charting.
package timeline

import (
	"sort"
	"time"

	"github.com/zhouzirui/soulbuddy/companion/internal/analysis/emotion"
	"github.com/zhouzirui/soulbuddy/companion/internal/model/mood"
)

const (
	FiveMinutes    = 5 * time.Minute
	FifteenMinutes = 15 * time.Minute
)

// Point is the wire shape of one /mood/timeline/today entry. The period
// pointers keep field presence, which decides the slot width.
type Point struct {
	Period5   *string        `json:"period_5_min,omitempty"`
	Period15  *string        `json:"period_15_min,omitempty"`
	Emotion   string         `json:"emotion"`
	Intensity float64        `json:"intensity"`
	TS        string         `json:"ts"`
	Lifestyle map[string]any `json:"lifestyle,omitempty"`
}

// InferSlotWidth picks 5-minute slots when the payload carries period_5_min
// and falls back to 15 minutes otherwise.
func InferSlotWidth(points []Point) time.Duration {
	for _, p := range points {
		if p.Period5 != nil {
			return FiveMinutes
		}
		if p.Period15 != nil {
			return FifteenMinutes
		}
	}
	return FifteenMinutes
}

// Entries converts wire points into entries, skipping points without a
// parseable timestamp.
func Entries(points []Point) []mood.Entry {
	entries := make([]mood.Entry, 0, len(points))
	for _, p := range points {
		ts, ok := pointTime(p)
		if !ok {
			continue
		}
		entries = append(entries, mood.Entry{
			Emotion:   emotion.Canonical(p.Emotion),
			Timestamp: ts,
			Intensity: p.Intensity,
		})
	}
	return entries
}

func pointTime(p Point) (time.Time, bool) {
	candidates := []string{p.TS}
	if p.Period5 != nil {
		candidates = append(candidates, *p.Period5)
	}
	if p.Period15 != nil {
		candidates = append(candidates, *p.Period15)
	}
	for _, raw := range candidates {
		if raw == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if ts, err := time.Parse(layout, raw); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

type slotAcc struct {
	start   time.Time
	counts  map[emotion.Label]int
	sums    map[emotion.Label]float64
	latest  map[emotion.Label]time.Time
	entries int
}

// BuildTimeline groups entries by truncating each timestamp to slotWidth.
// Each slot reports its most frequent label (ties go to the most recent
// entry) and the mean intensity of that label. Unknown labels are kept.
func BuildTimeline(entries []mood.Entry, slotWidth time.Duration) []mood.TimelineSlot {
	if slotWidth <= 0 {
		slotWidth = FifteenMinutes
	}

	slots := make(map[int64]*slotAcc)
	for _, e := range entries {
		start := e.Timestamp.Truncate(slotWidth)
		key := start.UnixNano()
		acc, ok := slots[key]
		if !ok {
			acc = &slotAcc{
				start:  start,
				counts: make(map[emotion.Label]int),
				sums:   make(map[emotion.Label]float64),
				latest: make(map[emotion.Label]time.Time),
			}
			slots[key] = acc
		}
		acc.counts[e.Emotion]++
		acc.sums[e.Emotion] += e.Intensity
		acc.entries++
		if e.Timestamp.After(acc.latest[e.Emotion]) {
			acc.latest[e.Emotion] = e.Timestamp
		}
	}

	out := make([]mood.TimelineSlot, 0, len(slots))
	for _, acc := range slots {
		var best emotion.Label
		bestCount := 0
		for label, count := range acc.counts {
			if count > bestCount || (count == bestCount && acc.latest[label].After(acc.latest[best])) {
				best = label
				bestCount = count
			}
		}
		out = append(out, mood.TimelineSlot{
			SlotStart: acc.start,
			Label:     best,
			Intensity: acc.sums[best] / float64(bestCount),
			Count:     acc.entries,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].SlotStart.Before(out[j].SlotStart)
	})
	return out
}
