// Package memory provides the default in-memory implementation of the Memory
// collaborator (core.MemoryStore) that persists conversation history across
// runs. Suitable for tests and ephemeral demo servers; swap in a durable
// implementation for production.
package memory
