package layout

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Finger names one of the ten fingers
type Finger string

const (
	LeftPinky   Finger = "Left Pinky"
	LeftRing    Finger = "Left Ring"
	LeftMiddle  Finger = "Left Middle"
	LeftIndex   Finger = "Left Index"
	LeftThumb   Finger = "Left Thumb"
	RightThumb  Finger = "Right Thumb"
	RightIndex  Finger = "Right Index"
	RightMiddle Finger = "Right Middle"
	RightRing   Finger = "Right Ring"
	RightPinky  Finger = "Right Pinky"
)

// Fingers lists all fingers from left pinky to right pinky
var Fingers = []Finger{
	LeftPinky, LeftRing, LeftMiddle, LeftIndex, LeftThumb,
	RightThumb, RightIndex, RightMiddle, RightRing, RightPinky,
}

// Valid reports whether f is one of the ten named fingers
func (f Finger) Valid() bool {
	for _, known := range Fingers {
		if f == known {
			return true
		}
	}
	return false
}

// Hand identifies which hand presses a key
type Hand int

const (
	NoHand Hand = iota
	LeftHand
	RightHand
)

func (h Hand) String() string {
	switch h {
	case LeftHand:
		return "left"
	case RightHand:
		return "right"
	default:
		return "none"
	}
}

// Hand returns the hand a named finger belongs to
func (f Finger) Hand() Hand {
	switch {
	case strings.HasPrefix(string(f), "Left"):
		return LeftHand
	case strings.HasPrefix(string(f), "Right"):
		return RightHand
	default:
		return NoHand
	}
}

// SplitColumn is the first column typed by the right hand when a key has no
// explicit finger.
const SplitColumn = 5

// FingerID is a compact finger identity used by the evaluator.
// Values 0..9 index Fingers; FallbackLeft and FallbackRight stand for the
// column split when no finger is assigned.
type FingerID uint8

const (
	FallbackLeft  FingerID = 10
	FallbackRight FingerID = 11
)

// Hand returns the hand of a finger identity
func (id FingerID) Hand() Hand {
	switch {
	case id == FallbackLeft:
		return LeftHand
	case id == FallbackRight:
		return RightHand
	case int(id) < len(Fingers):
		return Fingers[id].Hand()
	default:
		return NoHand
	}
}

func (id FingerID) String() string {
	switch {
	case id == FallbackLeft:
		return "left"
	case id == FallbackRight:
		return "right"
	case int(id) < len(Fingers):
		return string(Fingers[id])
	default:
		return fmt.Sprintf("FingerID(%d)", id)
	}
}

// FingerAssignment maps characters to the finger that types them
type FingerAssignment map[string]Finger

// Validate checks keys are single characters and fingers are known
func (fa FingerAssignment) Validate() error {
	for key, f := range fa {
		if utf8.RuneCountInString(key) != 1 {
			return &Error{Key: key, Reason: "finger assignment key must be a single character"}
		}
		if !f.Valid() {
			return &Error{Key: key, Reason: fmt.Sprintf("unknown finger %q", f)}
		}
	}
	return nil
}

// Resolve returns the finger identity for key r sitting at p, falling back to
// the column split when r has no assignment.
func (fa FingerAssignment) Resolve(r rune, p Position) FingerID {
	if f, ok := fa[string(r)]; ok {
		for i, known := range Fingers {
			if f == known {
				return FingerID(i)
			}
		}
	}
	if p.Col < SplitColumn {
		return FallbackLeft
	}
	return FallbackRight
}

// Resolved returns the finger identity of every slot of l
func (fa FingerAssignment) Resolved(l *Layout) []FingerID {
	out := make([]FingerID, l.Len())
	for i := range out {
		out[i] = fa.Resolve(l.KeyAt(i), l.PositionAt(i))
	}
	return out
}
