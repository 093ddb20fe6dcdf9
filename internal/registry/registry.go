// Package registry tracks connected wall clients and hands out marker IDs.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/codefionn/tilewall/internal/protocol"
)

var (
	// ErrDuplicateClient is returned when a client ID is already registered
	ErrDuplicateClient = errors.New("client already registered")
	// ErrNotFound is returned for unknown client IDs
	ErrNotFound = errors.New("client not found")
	// ErrMarkerSpaceExhausted is returned once every marker ID was handed out
	ErrMarkerSpaceExhausted = errors.New("marker space exhausted")
)

// Handle is the outbound side of a client connection. Send must not block.
type Handle interface {
	Send(msg *protocol.Message) bool
}

// Entry is one registered client
type Entry struct {
	ClientID    string
	MarkerID    int
	Handle      Handle
	ConnectedAt time.Time
}

// Registry maps client IDs to marker IDs. Marker IDs come from a counter
// that starts at 0 and is never rewound, so a reconnecting client gets a
// fresh ID.
type Registry struct {
	mu         sync.RWMutex
	clients    map[string]*Entry
	nextMarker int
	maxMarkers int
}

// Option configures a Registry
type Option func(*Registry)

// WithMaxMarkers bounds the marker space, normally to the dictionary size.
// Zero means unbounded.
func WithMaxMarkers(n int) Option {
	return func(r *Registry) {
		r.maxMarkers = n
	}
}

// New creates an empty registry
func New(opts ...Option) *Registry {
	r := &Registry{clients: make(map[string]*Entry)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a client and returns its marker ID
func (r *Registry) Register(clientID string, handle Handle) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[clientID]; exists {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateClient, clientID)
	}
	if r.maxMarkers > 0 && r.nextMarker >= r.maxMarkers {
		return 0, fmt.Errorf("%w: %d markers issued", ErrMarkerSpaceExhausted, r.nextMarker)
	}

	markerID := r.nextMarker
	r.nextMarker++
	r.clients[clientID] = &Entry{
		ClientID:    clientID,
		MarkerID:    markerID,
		Handle:      handle,
		ConnectedAt: time.Now(),
	}
	return markerID, nil
}

// Unregister removes a client. Unknown IDs are ignored.
func (r *Registry) Unregister(clientID string) {
	r.mu.Lock()
	delete(r.clients, clientID)
	r.mu.Unlock()
}

// Lookup returns a copy of the client's entry
func (r *Registry) Lookup(clientID string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.clients[clientID]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, clientID)
	}
	return *entry, nil
}

// MarkerID returns the client's marker ID
func (r *Registry) MarkerID(clientID string) (int, error) {
	entry, err := r.Lookup(clientID)
	if err != nil {
		return 0, err
	}
	return entry.MarkerID, nil
}

// Count returns the number of registered clients
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Snapshot returns all entries ordered by marker ID
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.clients))
	for _, e := range r.clients {
		entries = append(entries, *e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].MarkerID < entries[j].MarkerID
	})
	return entries
}

// Send delivers msg to one client. It reports false when the client is
// unknown or its buffer is full.
func (r *Registry) Send(clientID string, msg *protocol.Message) bool {
	r.mu.RLock()
	entry, ok := r.clients[clientID]
	r.mu.RUnlock()

	if !ok || entry.Handle == nil {
		return false
	}
	return entry.Handle.Send(msg)
}
