package layout

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNew_RejectsDuplicatePositions(t *testing.T) {
	_, err := New(map[string]Position{
		"A": {0, 0},
		"B": {0, 0},
	})
	if err == nil {
		t.Fatal("Expected error for duplicate positions")
	}

	var layoutErr *Error
	if !errors.As(err, &layoutErr) {
		t.Errorf("Expected *Error, got %T", err)
	}
}

func TestNew_RejectsEmptyAndMultiCharKeys(t *testing.T) {
	if _, err := New(map[string]Position{}); err == nil {
		t.Error("Expected error for empty layout")
	}

	if _, err := New(map[string]Position{"AB": {0, 0}}); err == nil {
		t.Error("Expected error for multi-character key")
	}

	if _, err := New(map[string]Position{"": {0, 0}}); err == nil {
		t.Error("Expected error for empty key")
	}
}

func TestNew_ReplacementCharacterKey(t *testing.T) {
	l, err := New(map[string]Position{"A": {0, 0}, "\uFFFD": {0, 1}})
	if err != nil {
		t.Fatalf("U+FFFD is a valid key: %v", err)
	}
	if p, ok := l.Position('\uFFFD'); !ok || p != (Position{0, 1}) {
		t.Errorf("U+FFFD position = %v (found %v), expected [0,1]", p, ok)
	}

	if _, err := New(map[string]Position{"\xff": {0, 0}}); err == nil {
		t.Error("Expected error for invalid UTF-8 key")
	}
}

func TestNew_AcceptsSpaceKey(t *testing.T) {
	l, err := New(map[string]Position{"A": {0, 0}, " ": {3, 5}})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	p, ok := l.Position(' ')
	if !ok || p != (Position{3, 5}) {
		t.Errorf("Space key position = %v (found %v), expected [3,5]", p, ok)
	}
}

func TestSwap_DoesNotMutateInput(t *testing.T) {
	l := MustNew(map[string]Position{"A": {0, 0}, "B": {0, 1}})
	ia, _ := l.Index('A')
	ib, _ := l.Index('B')

	swapped := l.Swap(ia, ib)

	if p, _ := l.Position('A'); p != (Position{0, 0}) {
		t.Errorf("Input layout mutated: A at %v", p)
	}
	if p, _ := swapped.Position('A'); p != (Position{0, 1}) {
		t.Errorf("Swapped layout: A at %v, expected [0,1]", p)
	}
	if p, _ := swapped.Position('B'); p != (Position{0, 0}) {
		t.Errorf("Swapped layout: B at %v, expected [0,0]", p)
	}
}

func TestString_RowColumnOrderWithoutSpace(t *testing.T) {
	l := MustNew(map[string]Position{
		"C": {1, 0},
		"A": {0, 1},
		"B": {0, 0},
		" ": {0, 2},
		"D": {1, 1},
	})

	if got := l.String(); got != "BACD" {
		t.Errorf("String() = %q, expected %q", got, "BACD")
	}
}

func TestQWERTYString(t *testing.T) {
	want := "QWERTYUIOPASDFGHJKLZXCVBNM"
	if got := QWERTY().String(); got != want {
		t.Errorf("QWERTY().String() = %q, expected %q", got, want)
	}
}

func TestJSONRoundTripKeepsPositions(t *testing.T) {
	l := QWERTY()

	data, err := json.Marshal(l)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded Layout
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if !decoded.Equal(l) {
		t.Error("Decoded layout differs from original")
	}
}

func TestUnmarshalJSON_RejectsDuplicates(t *testing.T) {
	var l Layout
	err := json.Unmarshal([]byte(`{"A":[0,0],"B":[0,0]}`), &l)
	if err == nil {
		t.Error("Expected error for duplicate positions")
	}
}

func TestDiff(t *testing.T) {
	a := MustNew(map[string]Position{"A": {0, 0}, "B": {0, 1}, "C": {0, 2}})
	ia, _ := a.Index('A')
	ic, _ := a.Index('C')
	b := a.Swap(ia, ic)

	moves := Diff(a, b)
	if len(moves) != 2 {
		t.Fatalf("Expected 2 moves, got %d", len(moves))
	}
	for _, m := range moves {
		if m.Key == "B" {
			t.Error("B did not move and should not be listed")
		}
	}
}

func TestPositionsIsPermutationInvariant(t *testing.T) {
	l := QWERTY()
	i, _ := l.Index('Q')
	j, _ := l.Index('M')
	swapped := l.Swap(i, j)

	before := l.Positions()
	after := swapped.Positions()
	if len(before) != len(after) {
		t.Fatalf("Position count changed: %d -> %d", len(before), len(after))
	}
	for k := range before {
		if before[k] != after[k] {
			t.Errorf("Position set changed at %d: %v -> %v", k, before[k], after[k])
		}
	}
}

func TestGrid(t *testing.T) {
	rows := QWERTY().Grid()
	want := []string{"QWERTYUIOP", "ASDFGHJKL", "ZXCVBNM"}
	if len(rows) != len(want) {
		t.Fatalf("Got %d rows, expected %d: %q", len(rows), len(want), rows)
	}
	for i := range want {
		if rows[i] != want[i] {
			t.Errorf("Row %d = %q, expected %q", i, rows[i], want[i])
		}
	}

	gapped := MustNew(map[string]Position{"A": {0, 0}, "B": {0, 2}, " ": {1, 1}})
	got := gapped.Grid()
	if len(got) != 2 || got[0] != "A B" || got[1] != " _" {
		t.Errorf("Unexpected grid %q", got)
	}
}
