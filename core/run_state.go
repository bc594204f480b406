package core

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// NewID generates a unique identifier for runs.
func NewID() string { return uuid.NewString() }

// ConversationEntry is one ordered element of a run's conversation history.
type ConversationEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// FailureInfo records the plugin failure that routed a run to the ERROR stage.
type FailureInfo struct {
	Stage        Stage     `json:"stage"`
	PluginName   string    `json:"plugin_name"`
	ErrorMessage string    `json:"error_message"`
	Timestamp    time.Time `json:"timestamp"`
}

// RunState is the ephemeral shared state of a single pipeline execution. One
// instance is created per inbound message and discarded after the response
// (or the error path) completes; nothing in it outlives the run except
// through the MemoryStore collaborator.
//
// Contract:
//   - The response transitions unset -> set exactly once, and only while the
//     current stage is DELIVER (or ERROR, for recovery plugins).
//   - stageData persists across loop iterations within the run and is
//     invisible to any other run.
//   - The iteration counter is monotonically non-decreasing.
//
// All methods are safe for concurrent use; queued tool goroutines may touch
// the state at stage boundaries.
type RunState struct {
	// RunID uniquely identifies this execution.
	RunID string
	// UserID and PipelineID are immutable isolation identifiers. Conversation
	// persistence is namespaced under "{UserID}_{PipelineID}".
	UserID, PipelineID string
	// Message is the inbound user message that started the run.
	Message string

	mu           sync.RWMutex
	conversation []ConversationEntry
	stageData    map[string]any
	response     any
	responseSet  bool
	currentStage Stage
	iteration    int
	failure      *FailureInfo
}

// NewRunState constructs the run state for one inbound message.
func NewRunState(message, userID, pipelineID string) *RunState {
	return &RunState{
		RunID:      NewID(),
		UserID:     userID,
		PipelineID: pipelineID,
		Message:    message,
		stageData:  map[string]any{},
	}
}

// ConversationKey returns the Memory namespacing key for the run.
func (rs *RunState) ConversationKey() string {
	return ConversationKey(rs.UserID, rs.PipelineID)
}

// ConversationKey builds the Memory namespacing key "{userID}_{pipelineID}".
func ConversationKey(userID, pipelineID string) string {
	return userID + "_" + pipelineID
}

// Store sets a stageData key. Semantics are last-write-wins, visible to every
// subsequently executed plugin in the same or a later stage / iteration.
func (rs *RunState) Store(key string, value any) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.stageData[key] = value
}

// Load returns the stageData value and existence flag for a key.
func (rs *RunState) Load(key string) (any, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	v, ok := rs.stageData[key]
	return v, ok
}

// Has reports whether a stageData key has been stored during this run.
func (rs *RunState) Has(key string) bool {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	_, ok := rs.stageData[key]
	return ok
}

// SetResponse records the terminal response. It enforces the engine's single
// authorization rule: only DELIVER (or ERROR recovery) plugins may respond,
// and only once per run. Violations return a StagePermissionError and leave
// the response unset.
func (rs *RunState) SetResponse(value any) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.currentStage != StageDeliver && rs.currentStage != StageError {
		return &StagePermissionError{Stage: rs.currentStage, Reason: "setResponse is only allowed from the DELIVER stage"}
	}
	if rs.responseSet {
		return &StagePermissionError{Stage: rs.currentStage, Reason: "response already set"}
	}
	rs.response = value
	rs.responseSet = true
	return nil
}

// Response returns the terminal response and whether it has been set.
func (rs *RunState) Response() (any, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.response, rs.responseSet
}

// HasResponse reports whether a terminal response has been produced.
func (rs *RunState) HasResponse() bool {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.responseSet
}

// CurrentStage returns the stage the run is presently executing.
func (rs *RunState) CurrentStage() Stage {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.currentStage
}

// SetCurrentStage moves the run to the given stage. Called only by the
// orchestrator between stage executions.
func (rs *RunState) SetCurrentStage(s Stage) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.currentStage = s
}

// Iteration returns the zero-based count of completed full stage passes.
func (rs *RunState) Iteration() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.iteration
}

// AdvanceIteration increments the iteration counter after a full stage pass.
func (rs *RunState) AdvanceIteration() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.iteration++
}

// SetFailure records the plugin failure that aborts the current stage.
// Exactly one FailureInfo is live at a time; a later failure (e.g. inside the
// ERROR stage) overwrites it.
func (rs *RunState) SetFailure(stage Stage, plugin string, err error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.failure = &FailureInfo{Stage: stage, PluginName: plugin, ErrorMessage: err.Error(), Timestamp: time.Now()}
}

// Failure returns the live failure record, or nil when the run is healthy.
func (rs *RunState) Failure() *FailureInfo {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	if rs.failure == nil {
		return nil
	}
	f := *rs.failure
	return &f
}

// AppendConversation appends an entry stamped with the current time.
func (rs *RunState) AppendConversation(role, content string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.conversation = append(rs.conversation, ConversationEntry{Role: role, Content: content, Timestamp: time.Now()})
}

// SetConversation replaces the history, used when loading from Memory at the
// run boundary.
func (rs *RunState) SetConversation(entries []ConversationEntry) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.conversation = append([]ConversationEntry(nil), entries...)
}

// Conversation returns a defensive copy of the ordered history.
func (rs *RunState) Conversation() []ConversationEntry {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make([]ConversationEntry, len(rs.conversation))
	copy(out, rs.conversation)
	return out
}
