// Package engine is the composition root that assembles promptkit from a YAML
// configuration: provider adapters, agents wrapped in middleware, the router,
// the QA planner and the sqlite store. Frontends (the CLI, the MCP server)
// talk to Engine and Session and observe activity through an EventBus.
package engine
