package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNewRunState_Identity(t *testing.T) {
	a := NewRunState("hello", "u1", "p1")
	b := NewRunState("hello", "u1", "p1")

	assert.NotEmpty(t, a.RunID)
	assert.NotEqual(t, a.RunID, b.RunID)
	assert.Equal(t, "hello", a.Message)
	assert.Equal(t, "u1_p1", a.ConversationKey())
}

func TestRunState_StageDataLastWriteWins(t *testing.T) {
	rs := NewRunState("m", "u", "p")

	_, ok := rs.Load("k")
	assert.False(t, ok)
	assert.False(t, rs.Has("k"))

	rs.Store("k", 1)
	rs.Store("k", 2)

	v, ok := rs.Load("k")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.True(t, rs.Has("k"))
}

func TestRunState_SetResponseOnlyFromDeliver(t *testing.T) {
	rs := NewRunState("m", "u", "p")
	rs.SetCurrentStage(StageThink)

	err := rs.SetResponse("nope")
	var permErr *StagePermissionError
	require.ErrorAs(t, err, &permErr)
	assert.Equal(t, StageThink, permErr.Stage)
	assert.False(t, rs.HasResponse())

	rs.SetCurrentStage(StageDeliver)
	require.NoError(t, rs.SetResponse("done"))

	resp, ok := rs.Response()
	require.True(t, ok)
	assert.Equal(t, "done", resp)
}

func TestRunState_SetResponseAllowedFromErrorStage(t *testing.T) {
	rs := NewRunState("m", "u", "p")
	rs.SetCurrentStage(StageError)

	require.NoError(t, rs.SetResponse("recovered"))
	resp, _ := rs.Response()
	assert.Equal(t, "recovered", resp)
}

func TestRunState_SetResponseOnce(t *testing.T) {
	rs := NewRunState("m", "u", "p")
	rs.SetCurrentStage(StageDeliver)

	require.NoError(t, rs.SetResponse("first"))
	err := rs.SetResponse("second")

	var permErr *StagePermissionError
	require.ErrorAs(t, err, &permErr)

	resp, _ := rs.Response()
	assert.Equal(t, "first", resp)
}

// TestRunState_ResponseRefusedOutsideDeliver drives SetResponse from random
// main stages and checks the response stays unset for every stage short of
// DELIVER.
func TestRunState_ResponseRefusedOutsideDeliver(t *testing.T) {
	forbidden := []Stage{StageParse, StageThink, StageDo, StageReview}

	rapid.Check(t, func(t *rapid.T) {
		rs := NewRunState("m", "u", "p")
		stages := rapid.SliceOfN(rapid.SampledFrom(forbidden), 1, 20).Draw(t, "stages")

		for _, stage := range stages {
			rs.SetCurrentStage(stage)
			if err := rs.SetResponse("x"); err == nil {
				t.Fatalf("response accepted from stage %s", stage)
			}
			if rs.HasResponse() {
				t.Fatalf("response set after refusal from stage %s", stage)
			}
		}
	})
}

func TestRunState_IterationMonotonic(t *testing.T) {
	rs := NewRunState("m", "u", "p")
	assert.Equal(t, 0, rs.Iteration())
	rs.AdvanceIteration()
	rs.AdvanceIteration()
	assert.Equal(t, 2, rs.Iteration())
}

func TestRunState_FailureRecord(t *testing.T) {
	rs := NewRunState("m", "u", "p")
	assert.Nil(t, rs.Failure())

	rs.SetFailure(StageDo, "worker", errors.New("boom"))

	f := rs.Failure()
	require.NotNil(t, f)
	assert.Equal(t, StageDo, f.Stage)
	assert.Equal(t, "worker", f.PluginName)
	assert.Equal(t, "boom", f.ErrorMessage)
	assert.False(t, f.Timestamp.IsZero())

	// Returned record is a copy.
	f.PluginName = "mutated"
	assert.Equal(t, "worker", rs.Failure().PluginName)
}

func TestRunState_ConversationCopies(t *testing.T) {
	rs := NewRunState("m", "u", "p")
	rs.AppendConversation("user", "hi")
	rs.AppendConversation("assistant", "hello")

	history := rs.Conversation()
	require.Len(t, history, 2)
	history[0].Content = "mutated"
	assert.Equal(t, "hi", rs.Conversation()[0].Content)

	seed := []ConversationEntry{{Role: "user", Content: "older"}}
	rs.SetConversation(seed)
	seed[0].Content = "mutated"
	assert.Equal(t, "older", rs.Conversation()[0].Content)
}
