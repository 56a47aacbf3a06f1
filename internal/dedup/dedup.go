/*
File: internal/dedup/dedup.go
Description: Delivery-token deduper. Rejects duplicate message submissions
from retrying or reconnecting clients.
*/
// Package dedup records client-generated delivery tokens so a retried send
// cannot create a duplicate persisted message.
package dedup

import (
	"sync"

	"github.com/tinywideclouds/go-chat-service/pkg/chat"
)

// Deduper tracks accepted delivery tokens per sender. Tokens live only as
// long as the sender has at least one connection; Clear is wired to the
// registry's last-disconnect callback.
type Deduper struct {
	mu     sync.Mutex
	tokens map[chat.UserID]map[string]struct{}
}

// New creates an empty deduper.
func New() *Deduper {
	return &Deduper{tokens: make(map[chat.UserID]map[string]struct{})}
}

// IsUniqueToken returns true and records the token on first sight, false on
// any subsequent presentation of the same (sender, token) pair. This is a
// check-and-set, not a pure check: callers must not call it speculatively.
func (d *Deduper) IsUniqueToken(senderID chat.UserID, token string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	seen := d.tokens[senderID]
	if seen == nil {
		seen = make(map[string]struct{})
		d.tokens[senderID] = seen
	}
	if _, dup := seen[token]; dup {
		return false
	}
	seen[token] = struct{}{}
	return true
}

// Clear drops all recorded tokens for the sender. Invoked when the sender's
// last connection is removed.
func (d *Deduper) Clear(senderID chat.UserID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.tokens, senderID)
}
