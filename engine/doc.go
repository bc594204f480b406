// Package engine implements the pipeline orchestrator: the bounded state
// machine that drives one execution per inbound message through the fixed
// stage sequence, invokes plugins via fresh PluginContexts bound to the
// shared run state, flushes queued tool calls at stage boundaries, detects
// termination, enforces the iteration ceiling and dispatches the ERROR stage
// on failure. The caller always receives a structured response: the
// DELIVER-produced value, an ERROR-stage recovery value, or the static
// fallback.
package engine
