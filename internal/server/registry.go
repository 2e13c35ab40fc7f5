// Package server tracks which user owns which live connections via the
// Registry type, the single source of truth for presence queries.
package server

import (
	"log"
	"sync"
)

// Registry maps user identities to their sets of live connections. A user
// with an empty set is removed entirely, so presence is simply "an entry
// exists". All methods are safe for concurrent use; mutations happen only
// from the hub loop, reads may come from any goroutine.
type Registry struct {
	mu    sync.RWMutex
	users map[string]map[*Client]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{users: make(map[string]map[*Client]struct{})}
}

// Register associates the connection with the user, creating the connection
// set if absent. A connection keeps its first identity for its lifetime:
// attempts to re-register under a different user are ignored and logged.
// It returns false when the registration was ignored.
func (r *Registry) Register(user string, c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.user != "" && c.user != user {
		log.Printf("Connection %s already registered to %q; ignoring register as %q", c.id, c.user, user)
		return false
	}

	c.user = user
	set, ok := r.users[user]
	if !ok {
		set = make(map[*Client]struct{})
		r.users[user] = set
	}
	set[c] = struct{}{}
	return true
}

// Unregister removes the connection from its user's set, deleting the user
// entry when the set becomes empty. It returns the user the connection was
// registered to ("" if unregistered) and whether this removal took the user's
// last connection.
func (r *Registry) Unregister(c *Client) (user string, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user = c.user
	if user == "" {
		return "", false
	}

	set, ok := r.users[user]
	if !ok {
		return user, false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.users, user)
		return user, true
	}
	return user, false
}

// IsOnline reports whether the user currently has at least one live
// connection.
func (r *Registry) IsOnline(user string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[user]) > 0
}

// ConnectionsFor returns a snapshot of the user's live connections. The
// returned slice is owned by the caller and is empty for an absent user.
func (r *Registry) ConnectionsFor(user string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.users[user]
	conns := make([]*Client, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	return conns
}

// Statuses derives the online/offline status of each named participant.
func (r *Registry) Statuses(participants []string) map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make(map[string]string, len(participants))
	for _, user := range participants {
		if len(r.users[user]) > 0 {
			statuses[user] = StatusOnline
		} else {
			statuses[user] = StatusOffline
		}
	}
	return statuses
}
