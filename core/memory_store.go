package core

// MemoryStore is the external persistence collaborator for conversation
// history. The orchestrator loads before the first PARSE and saves after
// termination; the engine owns no persistence format of its own.
type MemoryStore interface {
	// LoadConversation returns the stored history for a namespacing key, or
	// an empty slice when the key is unknown.
	LoadConversation(key string) ([]ConversationEntry, error)

	// SaveConversation replaces the stored history for a namespacing key.
	SaveConversation(key string, entries []ConversationEntry) error
}
