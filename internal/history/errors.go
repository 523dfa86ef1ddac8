package history

import "errors"

// ErrChatNotFound indicates the chat does not exist or belongs to a
// different agent.
var ErrChatNotFound = errors.New("chat not found")
