package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLivePlayerStateCloneIsIndependent(t *testing.T) {
	orig := LivePlayerState{
		ID:    "u1-walls",
		Snake: []Position{{X: 1, Y: 1}, {X: 1, Y: 2}},
	}
	cp := orig.Clone()
	cp.Snake[0].X = 99

	assert.Equal(t, 1, orig.Snake[0].X)
}

func TestLivePlayerStateValidate(t *testing.T) {
	valid := LivePlayerState{ID: "p1", Mode: ModeWalls, Direction: DirectionUp}
	assert.NoError(t, valid.Validate())

	noID := valid
	noID.ID = ""
	assert.ErrorIs(t, noID.Validate(), ErrValidation)

	negative := valid
	negative.Score = -5
	assert.ErrorIs(t, negative.Validate(), ErrInvalidScore)

	badDir := valid
	badDir.Direction = "NORTH"
	assert.ErrorIs(t, badDir.Validate(), ErrInvalidDirection)
}

func TestLivePlayerKeyUsesWireMode(t *testing.T) {
	assert.Equal(t, "abc-walls", LivePlayerKey("abc", ModeWalls))
	assert.Equal(t, "abc-pass-through", LivePlayerKey("abc", ModePassThrough))
}

func TestHeartbeatDecoding(t *testing.T) {
	body := `{"score":40,"mode":"walls","snake":[{"x":3,"y":4}],"food":{"x":7,"y":8},"direction":"LEFT","isPlaying":true}`
	var hb Heartbeat
	require.NoError(t, json.Unmarshal([]byte(body), &hb))
	assert.Equal(t, DirectionLeft, hb.Direction)
	assert.Equal(t, []Position{{X: 3, Y: 4}}, hb.Snake)
	assert.True(t, hb.IsPlaying)

	err := json.Unmarshal([]byte(`{"direction":"DIAGONAL"}`), &hb)
	assert.ErrorIs(t, err, ErrInvalidDirection)
}
