// Package hue assigns color-wheel positions to concurrent sessions.
package hue

import (
	"math"
	"sort"
)

// DefaultHue is handed to the first session and used as a fallback when a
// sender's session record has vanished mid-relay.
const DefaultHue = 210.0

// Assign picks a hue for a new session given the hues currently in use.
// It splits the largest gap on the circular range [0,360) so concurrent
// senders stay as far apart on the color wheel as possible. With no active
// hues it returns DefaultHue. On exact gap ties the first gap in sorted
// order wins, keeping the result deterministic.
func Assign(active []float64) float64 {
	if len(active) == 0 {
		return DefaultHue
	}

	hues := make([]float64, len(active))
	for i, h := range active {
		hues[i] = normalize(h)
	}
	sort.Float64s(hues)

	bestGap := -1.0
	bestMid := hues[0]
	for i := range hues {
		cur := hues[i]
		next := hues[(i+1)%len(hues)]
		gap := next - cur
		if gap <= 0 {
			gap += 360
		}
		if gap > bestGap {
			bestGap = gap
			bestMid = normalize(cur + gap/2)
		}
	}
	return bestMid
}

func normalize(h float64) float64 {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	return h
}
