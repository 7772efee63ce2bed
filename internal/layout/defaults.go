package layout

// QWERTY returns the default starting layout: the 26 letters in their usual
// rows, columns 1 through 10.
func QWERTY() *Layout {
	rows := []string{"QWERTYUIOP", "ASDFGHJKL", "ZXCVBNM"}
	m := make(map[string]Position, 26)
	for row, keys := range rows {
		for i, r := range keys {
			m[string(r)] = Position{Row: row, Col: i + 1}
		}
	}
	return MustNew(m)
}

// DefaultFingers returns the conventional touch-typing finger table
func DefaultFingers() FingerAssignment {
	return FingerAssignment{
		"Q": LeftPinky, "A": LeftPinky, "Z": LeftPinky,
		"W": LeftRing, "S": LeftRing, "X": LeftRing,
		"E": LeftMiddle, "D": LeftMiddle, "C": LeftMiddle,
		"R": LeftIndex, "F": LeftIndex, "V": LeftIndex,
		"T": LeftIndex, "G": LeftIndex, "B": LeftIndex,
		"Y": RightIndex, "H": RightIndex, "N": RightIndex,
		"U": RightIndex, "J": RightIndex, "M": RightIndex,
		"I": RightMiddle, "K": RightMiddle, ",": RightMiddle,
		"O": RightRing, "L": RightRing, ".": RightRing,
		"P": RightPinky, ";": RightPinky, "/": RightPinky,
		" ": RightThumb,
	}
}

// For returns the subset of fa whose keys are present in l
func (fa FingerAssignment) For(l *Layout) FingerAssignment {
	out := make(FingerAssignment)
	for key, f := range fa {
		for _, r := range key {
			if _, ok := l.Index(r); ok {
				out[key] = f
			}
		}
	}
	return out
}
