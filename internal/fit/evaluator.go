package fit

import (
	"strings"

	"github.com/cwbudde/keyanneal/internal/layout"
)

// Evaluator replays a fixed text against many layouts that share one key set.
//
// The text is compiled once into a sequence of key slots, so evaluating a
// layout only walks integers. Results are identical to Evaluate.
// An Evaluator is read-only after construction and safe for concurrent use.
type Evaluator struct {
	keys     int
	strokes  []int32 // slot of each recognized character, in text order
	explicit []int16 // finger per slot, -1 when the column split applies
}

// NewEvaluator compiles text for the key set of l
func NewEvaluator(l *layout.Layout, text string, fingers layout.FingerAssignment) *Evaluator {
	e := &Evaluator{
		keys:     l.Len(),
		explicit: make([]int16, l.Len()),
	}

	for i := range e.explicit {
		e.explicit[i] = -1
		f, ok := fingers[string(l.KeyAt(i))]
		if !ok {
			continue
		}
		for id, known := range layout.Fingers {
			if f == known {
				e.explicit[i] = int16(id)
				break
			}
		}
	}

	upper := strings.ToUpper(text)
	e.strokes = make([]int32, 0, len(upper))
	for _, r := range upper {
		if i, ok := l.Index(r); ok {
			e.strokes = append(e.strokes, int32(i))
		}
	}

	return e
}

// Strokes returns the number of recognized characters in the text
func (e *Evaluator) Strokes() int {
	return len(e.strokes)
}

// Evaluate computes the metrics of l, which must have the key set the
// evaluator was compiled for.
func (e *Evaluator) Evaluate(l *layout.Layout) Metrics {
	if l.Len() != e.keys {
		panic("fit: layout key set does not match evaluator")
	}

	fingers := make([]layout.FingerID, e.keys)
	for i := range fingers {
		if e.explicit[i] >= 0 {
			fingers[i] = layout.FingerID(e.explicit[i])
		} else if l.PositionAt(i).Col < layout.SplitColumn {
			fingers[i] = layout.FallbackLeft
		} else {
			fingers[i] = layout.FallbackRight
		}
	}

	var m Metrics
	var (
		havePrev   bool
		prevFinger layout.FingerID
		prevPos    layout.Position
	)
	for _, slot := range e.strokes {
		pos := l.PositionAt(int(slot))
		finger := fingers[slot]
		m.record(finger, pos, havePrev, prevFinger, prevPos)

		havePrev = true
		prevFinger = finger
		prevPos = pos
	}
	return m
}
