// Package chats provides the conversation data model shared by agents and
// model adapters.
//
// It is organized into sub-packages:
//   - [github.com/germanamz/promptkit/pkg/chats/role] conversation roles (system, user, assistant)
//   - [github.com/germanamz/promptkit/pkg/chats/content] content parts (text, inline images)
//   - [github.com/germanamz/promptkit/pkg/chats/message] messages composed of a role, sender, and content parts
//   - [github.com/germanamz/promptkit/pkg/chats/chat] mutable conversation container
//
// Nothing here knows about a model runtime; adapters translate these types
// to their own wire formats.
package chats
