package fit

import (
	"strings"

	"github.com/cwbudde/keyanneal/internal/layout"
)

// Metrics aggregates the strokes of a text replayed on a layout
type Metrics struct {
	TotalStrokes       int `json:"totalStrokes"`
	FingerAlternations int `json:"fingerAlternations"`
	SameFingerStrokes  int `json:"sameFingerStrokes"`
	LeftHandStrokes    int `json:"leftHandStrokes"`
	RightHandStrokes   int `json:"rightHandStrokes"`
	DistanceTraveled   int `json:"distanceTraveled"`
}

// HandImbalance returns |left - right|
func (m Metrics) HandImbalance() int {
	d := m.LeftHandStrokes - m.RightHandStrokes
	if d < 0 {
		return -d
	}
	return d
}

// Evaluate replays text on l and counts strokes.
//
// The text is uppercased first. Characters that are not keys of l are
// skipped. Keys without a finger in fingers use the column split.
func Evaluate(l *layout.Layout, text string, fingers layout.FingerAssignment) Metrics {
	var m Metrics
	var (
		havePrev   bool
		prevFinger layout.FingerID
		prevPos    layout.Position
	)

	for _, r := range strings.ToUpper(text) {
		pos, ok := l.Position(r)
		if !ok {
			continue
		}
		finger := fingers.Resolve(r, pos)
		m.record(finger, pos, havePrev, prevFinger, prevPos)

		havePrev = true
		prevFinger = finger
		prevPos = pos
	}

	return m
}

// record accounts for one stroke
func (m *Metrics) record(finger layout.FingerID, pos layout.Position, havePrev bool, prevFinger layout.FingerID, prevPos layout.Position) {
	m.TotalStrokes++

	if havePrev {
		if finger != prevFinger {
			m.FingerAlternations++
		} else {
			m.SameFingerStrokes++
		}
		m.DistanceTraveled += pos.Distance(prevPos)
	}

	switch finger.Hand() {
	case layout.LeftHand:
		m.LeftHandStrokes++
	case layout.RightHand:
		m.RightHandStrokes++
	}
}
