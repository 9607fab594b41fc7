// Package presenter keeps the ordered list of conversation turns that the
// chat UI renders, and binds controller events onto it.
package presenter

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Kind says where a turn's text came from.
type Kind string

const (
	KindText   Kind = "text"
	KindVoice  Kind = "voice"
	KindSearch Kind = "search"
)

// Turn is one rendered unit of conversation. Loading turns are
// placeholders that will be replaced in place under the same ID.
type Turn struct {
	ID        string
	Role      Role
	Kind      Kind
	Text      string
	Loading   bool
	CreatedAt time.Time
}

// Transcript is an ordered, ID-addressed turn list. IDs come from a
// per-transcript counter and are never reused, even after Remove or Clear.
type Transcript struct {
	mu    sync.RWMutex
	next  int
	turns []*Turn
	log   zerolog.Logger
}

func NewTranscript(log zerolog.Logger) *Transcript {
	return &Transcript{log: log.With().Str("component", "presenter").Logger()}
}

// Create appends a turn and returns its ID.
func (t *Transcript) Create(role Role, kind Kind, text string, loading bool) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := fmt.Sprintf("msg-%d", t.next)
	t.next++
	t.turns = append(t.turns, &Turn{
		ID:        id,
		Role:      role,
		Kind:      kind,
		Text:      text,
		Loading:   loading,
		CreatedAt: time.Now(),
	})
	t.log.Debug().Str("id", id).Str("role", string(role)).Bool("loading", loading).Msg("turn created")
	return id
}

// Update replaces a turn's text. A stale ID is logged and ignored.
func (t *Transcript) Update(id, text string, loading bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	turn := t.find(id)
	if turn == nil {
		t.log.Warn().Str("id", id).Msg("update for unknown turn")
		return false
	}
	turn.Text = text
	turn.Loading = loading
	return true
}

func (t *Transcript) Remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, turn := range t.turns {
		if turn.ID == id {
			t.turns = append(t.turns[:i], t.turns[i+1:]...)
			return true
		}
	}
	t.log.Warn().Str("id", id).Msg("remove for unknown turn")
	return false
}

func (t *Transcript) Get(id string) (Turn, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if turn := t.find(id); turn != nil {
		return *turn, true
	}
	return Turn{}, false
}

// Turns returns a copy of the turns in display order.
func (t *Transcript) Turns() []Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Turn, len(t.turns))
	for i, turn := range t.turns {
		out[i] = *turn
	}
	return out
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.turns)
}

// Clear drops every turn. The ID counter keeps counting.
func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.turns = nil
}

func (t *Transcript) find(id string) *Turn {
	for _, turn := range t.turns {
		if turn.ID == id {
			return turn
		}
	}
	return nil
}
