package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cwbudde/keyanneal/internal/layout"
)

// Keyboard is a keyboard definition file:
//
//	name: colemak
//	keys:
//	  Q: [0, 1]
//	  W: [0, 2]
//	fingers:
//	  Q: Left Pinky
type Keyboard struct {
	Name    string            `yaml:"name"`
	Keys    map[string][]int  `yaml:"keys"`
	Fingers map[string]string `yaml:"fingers"`
}

// ParseKeyboardYAML parses a keyboard definition and validates it.
func ParseKeyboardYAML(data []byte) (*Keyboard, error) {
	var kb Keyboard
	if err := yaml.Unmarshal(data, &kb); err != nil {
		return nil, fmt.Errorf("failed to parse keyboard yaml: %w", err)
	}
	if err := kb.validate(); err != nil {
		return nil, fmt.Errorf("invalid keyboard: %w", err)
	}
	return &kb, nil
}

// LoadKeyboard reads a keyboard definition file.
func LoadKeyboard(path string) (*Keyboard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keyboard: %w", err)
	}
	return ParseKeyboardYAML(data)
}

func (kb *Keyboard) validate() error {
	if len(kb.Keys) == 0 {
		return fmt.Errorf("no keys defined")
	}
	for key, pos := range kb.Keys {
		if len(pos) != 2 {
			return fmt.Errorf("key %q: position must be [row, col], got %v", key, pos)
		}
	}
	if _, err := kb.Layout(); err != nil {
		return err
	}
	return kb.FingerAssignment().Validate()
}

// Positions returns the key map in the form accepted by layout.New.
func (kb *Keyboard) Positions() map[string]layout.Position {
	out := make(map[string]layout.Position, len(kb.Keys))
	for key, pos := range kb.Keys {
		if len(pos) == 2 {
			out[key] = layout.Position{Row: pos[0], Col: pos[1]}
		}
	}
	return out
}

// Layout builds the starting layout.
func (kb *Keyboard) Layout() (*layout.Layout, error) {
	return layout.New(kb.Positions())
}

// FingerAssignment returns the finger table. Keys without an entry fall
// back to the column split.
func (kb *Keyboard) FingerAssignment() layout.FingerAssignment {
	out := make(layout.FingerAssignment, len(kb.Fingers))
	for key, f := range kb.Fingers {
		out[key] = layout.Finger(f)
	}
	return out
}

// MarshalKeyboard encodes a layout and finger table as a keyboard file.
func MarshalKeyboard(name string, l *layout.Layout, fingers layout.FingerAssignment) ([]byte, error) {
	kb := Keyboard{
		Name:    name,
		Keys:    make(map[string][]int, l.Len()),
		Fingers: make(map[string]string),
	}
	for i := 0; i < l.Len(); i++ {
		p := l.PositionAt(i)
		kb.Keys[string(l.KeyAt(i))] = []int{p.Row, p.Col}
	}
	for key, f := range fingers.For(l) {
		kb.Fingers[key] = string(f)
	}
	return yaml.Marshal(kb)
}
