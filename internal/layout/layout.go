package layout

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// Position is a (row, col) coordinate on the key grid
type Position struct {
	Row int
	Col int
}

// Distance returns the Manhattan distance between two positions
func (p Position) Distance(q Position) int {
	return abs(p.Row-q.Row) + abs(p.Col-q.Col)
}

// Less orders positions row-major
func (p Position) Less(q Position) bool {
	if p.Row != q.Row {
		return p.Row < q.Row
	}
	return p.Col < q.Col
}

// MarshalJSON encodes a position as [row, col]
func (p Position) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{p.Row, p.Col})
}

// UnmarshalJSON decodes a position from [row, col]
func (p *Position) UnmarshalJSON(data []byte) error {
	var pair [2]int
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("position must be [row, col]: %w", err)
	}
	p.Row, p.Col = pair[0], pair[1]
	return nil
}

// Layout maps characters to grid positions.
//
// A Layout is an immutable value once built: Swap and Clone return new
// instances, so layouts can be shared freely between goroutines. The key set
// and key index are shared between a layout and everything derived from it;
// only the position slice is copied.
type Layout struct {
	keys  []rune       // key order, fixed at construction
	index map[rune]int // key -> slot in keys/pos
	pos   []Position   // pos[i] is the position of keys[i]
}

// New builds a layout from a character -> position map.
// Keys must be single characters and positions must be unique.
func New(m map[string]Position) (*Layout, error) {
	if len(m) == 0 {
		return nil, &Error{Reason: "layout has no keys"}
	}

	keys := make([]rune, 0, len(m))
	byKey := make(map[rune]Position, len(m))
	for s, p := range m {
		r, size := utf8.DecodeRuneInString(s)
		if (r == utf8.RuneError && size <= 1) || size != len(s) {
			return nil, &Error{Key: s, Reason: "key must be a single character"}
		}
		keys = append(keys, r)
		byKey[r] = p
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	l := &Layout{
		keys:  keys,
		index: make(map[rune]int, len(keys)),
		pos:   make([]Position, len(keys)),
	}
	seen := make(map[Position]rune, len(keys))
	for i, r := range keys {
		p := byKey[r]
		if other, dup := seen[p]; dup {
			return nil, &Error{
				Key:    string(r),
				Reason: fmt.Sprintf("position [%d,%d] already taken by %q", p.Row, p.Col, string(other)),
			}
		}
		seen[p] = r
		l.index[r] = i
		l.pos[i] = p
	}
	return l, nil
}

// MustNew is like New but panics on a malformed layout.
func MustNew(m map[string]Position) *Layout {
	l, err := New(m)
	if err != nil {
		panic(err)
	}
	return l
}

// Len returns the number of keys
func (l *Layout) Len() int {
	return len(l.keys)
}

// Keys returns the key set in a stable order
func (l *Layout) Keys() []rune {
	return append([]rune(nil), l.keys...)
}

// KeyAt returns the key stored in slot i
func (l *Layout) KeyAt(i int) rune {
	return l.keys[i]
}

// PositionAt returns the position of the key in slot i
func (l *Layout) PositionAt(i int) Position {
	return l.pos[i]
}

// Index returns the slot of key r
func (l *Layout) Index(r rune) (int, bool) {
	i, ok := l.index[r]
	return i, ok
}

// Position returns the position of key r
func (l *Layout) Position(r rune) (Position, bool) {
	i, ok := l.index[r]
	if !ok {
		return Position{}, false
	}
	return l.pos[i], true
}

// Clone returns a copy sharing the key set
func (l *Layout) Clone() *Layout {
	return l.WithPositions(l.pos)
}

// WithPositions returns a layout with the same key set and the given
// positions (pos[i] for slot i). The slice is copied.
func (l *Layout) WithPositions(pos []Position) *Layout {
	if len(pos) != len(l.keys) {
		panic(fmt.Sprintf("layout: %d positions for %d keys", len(pos), len(l.keys)))
	}
	return &Layout{
		keys:  l.keys,
		index: l.index,
		pos:   append([]Position(nil), pos...),
	}
}

// Swap returns a new layout with the positions of slots i and j exchanged
func (l *Layout) Swap(i, j int) *Layout {
	out := l.Clone()
	out.pos[i], out.pos[j] = out.pos[j], out.pos[i]
	return out
}

// Positions returns the occupied positions in row-major order
func (l *Layout) Positions() []Position {
	out := append([]Position(nil), l.pos...)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Map returns the layout as a character -> position map
func (l *Layout) Map() map[string]Position {
	m := make(map[string]Position, len(l.keys))
	for i, r := range l.keys {
		m[string(r)] = l.pos[i]
	}
	return m
}

// Equal reports whether both layouts place every key identically
func (l *Layout) Equal(other *Layout) bool {
	if other == nil || len(l.keys) != len(other.keys) {
		return false
	}
	for i, r := range l.keys {
		p, ok := other.Position(r)
		if !ok || p != l.pos[i] {
			return false
		}
	}
	return true
}

// String reads the keys off in row/column order, skipping the space key
func (l *Layout) String() string {
	order := make([]int, len(l.keys))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return l.pos[order[a]].Less(l.pos[order[b]]) })

	var sb strings.Builder
	for _, i := range order {
		if l.keys[i] == ' ' {
			continue
		}
		sb.WriteString(strings.ToUpper(string(l.keys[i])))
	}
	return sb.String()
}

// Grid renders the layout as one string per row, with a space for every
// empty cell. The space key is drawn as '_'.
func (l *Layout) Grid() []string {
	if len(l.pos) == 0 {
		return nil
	}
	minRow, maxRow := l.pos[0].Row, l.pos[0].Row
	minCol, maxCol := l.pos[0].Col, l.pos[0].Col
	for _, p := range l.pos[1:] {
		minRow, maxRow = min(minRow, p.Row), max(maxRow, p.Row)
		minCol, maxCol = min(minCol, p.Col), max(maxCol, p.Col)
	}

	cells := make([][]rune, maxRow-minRow+1)
	for r := range cells {
		cells[r] = []rune(strings.Repeat(" ", maxCol-minCol+1))
	}
	for i, p := range l.pos {
		k := l.keys[i]
		if k == ' ' {
			k = '_'
		}
		cells[p.Row-minRow][p.Col-minCol] = k
	}

	rows := make([]string, len(cells))
	for r, c := range cells {
		rows[r] = strings.TrimRight(string(c), " ")
	}
	return rows
}

// MarshalJSON encodes the layout as {"Q":[0,1],...}
func (l *Layout) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Map())
}

// UnmarshalJSON decodes and validates a layout
func (l *Layout) UnmarshalJSON(data []byte) error {
	var m map[string]Position
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	parsed, err := New(m)
	if err != nil {
		return err
	}
	*l = *parsed
	return nil
}

// Move describes a key whose position differs between two layouts
type Move struct {
	Key  string   `json:"key"`
	From Position `json:"from"`
	To   Position `json:"to"`
}

// Diff lists the keys of a that sit somewhere else in b.
// Keys missing from b are ignored.
func Diff(a, b *Layout) []Move {
	var moves []Move
	for i, r := range a.keys {
		to, ok := b.Position(r)
		if !ok || to == a.pos[i] {
			continue
		}
		moves = append(moves, Move{Key: string(r), From: a.pos[i], To: to})
	}
	return moves
}

// Error reports a malformed layout or finger assignment
type Error struct {
	Key    string
	Reason string
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("invalid layout: key %q: %s", e.Key, e.Reason)
	}
	return "invalid layout: " + e.Reason
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
