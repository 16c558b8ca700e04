package domain

import "fmt"

// Direction is the heading of a snake.
type Direction string

const (
	DirectionUp    Direction = "UP"
	DirectionDown  Direction = "DOWN"
	DirectionLeft  Direction = "LEFT"
	DirectionRight Direction = "RIGHT"
)

// Valid reports whether d is one of the four headings.
func (d Direction) Valid() bool {
	switch d {
	case DirectionUp, DirectionDown, DirectionLeft, DirectionRight:
		return true
	}
	return false
}

// UnmarshalText rejects anything but the four headings.
func (d *Direction) UnmarshalText(b []byte) error {
	v := Direction(b)
	if !v.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidDirection, string(b))
	}
	*d = v
	return nil
}

// Position is a grid cell.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// LivePlayerState is the board of a player in an active game, as last
// reported by the player's heartbeat.
type LivePlayerState struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	Score     int        `json:"score"`
	Mode      Mode       `json:"mode"`
	Snake     []Position `json:"snake"`
	Food      Position   `json:"food"`
	Direction Direction  `json:"direction"`
	IsPlaying bool       `json:"isPlaying"`
}

// Clone returns a deep copy so callers never share the snake slice with the registry.
func (s LivePlayerState) Clone() LivePlayerState {
	out := s
	if s.Snake != nil {
		out.Snake = make([]Position, len(s.Snake))
		copy(out.Snake, s.Snake)
	}
	return out
}

// Validate checks a state before it enters the registry.
func (s LivePlayerState) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: live player id is required", ErrValidation)
	}
	if s.Score < 0 {
		return ErrInvalidScore
	}
	if !s.Mode.Valid() {
		return ErrInvalidMode
	}
	if !s.Direction.Valid() {
		return ErrInvalidDirection
	}
	return nil
}

// LivePlayerKey returns the registry key of a user's session in a mode,
// allowing one concurrent session per mode.
func LivePlayerKey(userID string, mode Mode) string {
	return userID + "-" + mode.String()
}

// Heartbeat is the body of a live player ping.
type Heartbeat struct {
	Score     int        `json:"score"`
	Mode      Mode       `json:"mode"`
	Snake     []Position `json:"snake"`
	Food      Position   `json:"food"`
	Direction Direction  `json:"direction"`
	IsPlaying bool       `json:"isPlaying"`
}
