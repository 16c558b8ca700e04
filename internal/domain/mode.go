package domain

import "fmt"

// Mode is the game ruleset variant. The constant values are the symbolic
// names kept in storage; clients only ever see the wire strings below.
type Mode string

const (
	ModeWalls       Mode = "walls"
	ModePassThrough Mode = "pass_through"
)

// Modes lists every valid mode in display order.
var Modes = []Mode{ModeWalls, ModePassThrough}

var modeToWire = map[Mode]string{
	ModeWalls:       "walls",
	ModePassThrough: "pass-through",
}

var wireToMode = map[string]Mode{
	"walls":        ModeWalls,
	"pass-through": ModePassThrough,
}

// ParseMode converts a wire value ("walls", "pass-through") to a Mode.
func ParseMode(s string) (Mode, error) {
	m, ok := wireToMode[s]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
	return m, nil
}

// ModeFromStorage converts a stored symbolic name back to a Mode.
func ModeFromStorage(s string) (Mode, error) {
	m := Mode(s)
	if !m.Valid() {
		return "", fmt.Errorf("%w: stored value %q", ErrInvalidMode, s)
	}
	return m, nil
}

// Valid reports whether m is one of the defined modes.
func (m Mode) Valid() bool {
	_, ok := modeToWire[m]
	return ok
}

// String returns the wire representation.
func (m Mode) String() string {
	if w, ok := modeToWire[m]; ok {
		return w
	}
	return string(m)
}

// MarshalText implements encoding.TextMarshaler using the wire table.
func (m Mode) MarshalText() ([]byte, error) {
	w, ok := modeToWire[m]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, string(m))
	}
	return []byte(w), nil
}

// UnmarshalText implements encoding.TextUnmarshaler using the wire table.
func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseOptionalMode parses a query parameter; an empty string means "all modes".
func ParseOptionalMode(s string) (*Mode, error) {
	if s == "" {
		return nil, nil
	}
	m, err := ParseMode(s)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
