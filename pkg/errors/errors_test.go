package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_JSON(t *testing.T) {
	sent := &Error{
		Type: Missing,
		Help: "helpful text\nwith linebreaks!",
		Err:  errors.New("no transcript for abcd123"),
	}
	b, err := json.Marshal(sent)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"missing","help":"helpful text\nwith linebreaks!","error":"no transcript for abcd123"}`, string(b))

	var got Error
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, sent.Type, got.Type)
	assert.Equal(t, sent.Help, got.Help)
	assert.EqualError(t, got.Err, "no transcript for abcd123")
}

func TestError_JSONWithoutCause(t *testing.T) {
	var got Error
	require.NoError(t, json.Unmarshal([]byte(`{"type":"user","help":"no"}`), &got))
	assert.Nil(t, got.Err)
}

func TestIs(t *testing.T) {
	missing := &Error{Type: Missing, Err: errors.New("no transcript")}
	assert.True(t, IsMissing(missing))
	assert.True(t, IsMissing(fmt.Errorf("looking up: %w", missing)))
	assert.False(t, IsUser(missing))
	assert.False(t, IsMissing(&Error{Type: User, Err: errors.New("bad")}))
	assert.False(t, IsMissing(errors.New("plain")))
}

func TestUnexplained(t *testing.T) {
	e := Unexplained(errors.New("disk full"))
	assert.Equal(t, Server, e.Type)
	assert.Contains(t, e.Help, "disk full")
	assert.EqualError(t, e, "disk full")
}
