package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	m, err := ParseMode("walls")
	require.NoError(t, err)
	assert.Equal(t, ModeWalls, m)

	m, err = ParseMode("pass-through")
	require.NoError(t, err)
	assert.Equal(t, ModePassThrough, m)

	_, err = ParseMode("pass_through")
	assert.ErrorIs(t, err, ErrInvalidMode)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestModeWireEncoding(t *testing.T) {
	b, err := json.Marshal(struct {
		Mode Mode `json:"mode"`
	}{ModePassThrough})
	require.NoError(t, err)
	assert.JSONEq(t, `{"mode":"pass-through"}`, string(b))

	var sub ScoreSubmission
	require.NoError(t, json.Unmarshal([]byte(`{"score":10,"mode":"pass-through"}`), &sub))
	assert.Equal(t, ModePassThrough, sub.Mode)

	err = json.Unmarshal([]byte(`{"score":10,"mode":"teleport"}`), &sub)
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestModeFromStorage(t *testing.T) {
	m, err := ModeFromStorage("pass_through")
	require.NoError(t, err)
	assert.Equal(t, ModePassThrough, m)

	_, err = ModeFromStorage("pass-through")
	assert.Error(t, err)
}

func TestParseOptionalMode(t *testing.T) {
	m, err := ParseOptionalMode("")
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = ParseOptionalMode("walls")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, ModeWalls, *m)
}

func TestScoreSubmissionValidate(t *testing.T) {
	assert.NoError(t, ScoreSubmission{Score: 0, Mode: ModeWalls}.Validate())
	assert.ErrorIs(t, ScoreSubmission{Score: -1, Mode: ModeWalls}.Validate(), ErrInvalidScore)
	assert.ErrorIs(t, ScoreSubmission{Score: 1}.Validate(), ErrInvalidMode)
}
