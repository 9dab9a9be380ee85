package presence

import (
	"fmt"
	"sort"
	"time"

	"github.com/anatoly-dev/go-presence-gateway/pkg/models"
)

// Conn is the live socket side of a session as seen by the broadcaster.
type Conn interface {
	// Send queues msg without blocking and reports whether it was accepted.
	Send(msg []byte) bool
	IsOpen() bool
}

// Registry owns session records and their connection handles. The two maps are
// always written together. Registry does no locking of its own; Hub serializes
// access to it.
type Registry struct {
	sessions    map[string]*models.Session
	connections map[string]Conn
}

func NewRegistry() *Registry {
	return &Registry{
		sessions:    make(map[string]*models.Session),
		connections: make(map[string]Conn),
	}
}

// Create panics if id is already registered: ids are random UUIDs, so a
// collision is a programming error.
func (r *Registry) Create(id, username, color string, conn Conn, now time.Time) *models.Session {
	if _, exists := r.sessions[id]; exists {
		panic(fmt.Sprintf("presence: session %s already registered", id))
	}

	session := models.NewSession(id, username, color, now)
	r.sessions[id] = session
	r.connections[id] = conn

	return session
}

func (r *Registry) Get(id string) (*models.Session, bool) {
	session, ok := r.sessions[id]
	return session, ok
}

func (r *Registry) Connection(id string) (Conn, bool) {
	conn, ok := r.connections[id]
	return conn, ok
}

// UpdatePosition moves the cursor and counts as activity. It does not emit
// anything; the caller decides what to broadcast.
func (r *Registry) UpdatePosition(id string, x, y float64, now time.Time) bool {
	session, ok := r.sessions[id]
	if !ok {
		return false
	}

	session.CursorPosition = &models.Position{X: x, Y: y}
	session.LastActivity = now
	session.IsIdle = false

	return true
}

// TouchActivity records activity and reports whether the session just went
// from idle to active.
func (r *Registry) TouchActivity(id string, now time.Time) bool {
	session, ok := r.sessions[id]
	if !ok {
		return false
	}

	session.LastActivity = now
	if !session.IsIdle {
		return false
	}

	session.IsIdle = false
	return true
}

func (r *Registry) MarkIdleIfStale(id string, now time.Time, threshold time.Duration) bool {
	session, ok := r.sessions[id]
	if !ok || session.IsIdle {
		return false
	}

	if now.Sub(session.LastActivity) <= threshold {
		return false
	}

	session.IsIdle = true
	return true
}

// Remove deletes the session and its connection handle, returning the record
// so the caller can announce the departure. A second call returns false.
func (r *Registry) Remove(id string) (*models.Session, bool) {
	session, ok := r.sessions[id]
	if !ok {
		return nil, false
	}

	delete(r.sessions, id)
	delete(r.connections, id)

	return session, true
}

// Snapshot lists every session ordered by join time, then id.
func (r *Registry) Snapshot() []models.UserState {
	sessions := r.ordered()

	states := make([]models.UserState, 0, len(sessions))
	for _, s := range sessions {
		states = append(states, s.State())
	}

	return states
}

// IDs returns the registered ids in snapshot order.
func (r *Registry) IDs() []string {
	sessions := r.ordered()

	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ID)
	}

	return ids
}

func (r *Registry) ordered() []*models.Session {
	sessions := make([]*models.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}

	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].JoinedAt.Equal(sessions[j].JoinedAt) {
			return sessions[i].JoinedAt.Before(sessions[j].JoinedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})

	return sessions
}

type recipient struct {
	id   string
	conn Conn
}

// recipients copies the connection handles so a broadcast iterates a stable set.
func (r *Registry) recipients() []recipient {
	list := make([]recipient, 0, len(r.connections))
	for id, conn := range r.connections {
		list = append(list, recipient{id: id, conn: conn})
	}
	return list
}

func (r *Registry) Len() int {
	return len(r.sessions)
}

func (r *Registry) IdleCount() int {
	count := 0
	for _, s := range r.sessions {
		if s.IsIdle {
			count++
		}
	}
	return count
}
