package ui

import (
	"sync"

	"github.com/rs/zerolog"

	"voxchat/internal/db"
	"voxchat/internal/presenter"
)

// archiver appends finalized turns to the session currently open in the
// store. A nil store turns every call into a no-op.
type archiver struct {
	store *db.Store
	log   zerolog.Logger

	mu        sync.Mutex
	sessionID string
}

func newArchiver(store *db.Store, log zerolog.Logger) *archiver {
	return &archiver{store: store, log: log}
}

func (a *archiver) start(id, model, voice string, useRAG bool) {
	if a.store == nil {
		return
	}
	if err := a.store.CreateSession(id, model, voice, useRAG); err != nil {
		a.log.Error().Err(err).Str("session", id).Msg("archive session")
		return
	}
	a.mu.Lock()
	a.sessionID = id
	a.mu.Unlock()
}

func (a *archiver) current() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// record is the Binder's archive hook.
func (a *archiver) record(turn presenter.Turn) {
	id := a.current()
	if a.store == nil || id == "" {
		return
	}
	if _, err := a.store.AddTurn(id, string(turn.Role), turn.Text, string(turn.Kind)); err != nil {
		a.log.Error().Err(err).Str("session", id).Str("turn", turn.ID).Msg("archive turn")
	}
}

// finish marks the open session with status and detaches from it.
func (a *archiver) finish(status string) {
	a.mu.Lock()
	id := a.sessionID
	a.sessionID = ""
	a.mu.Unlock()
	if a.store == nil || id == "" {
		return
	}
	if err := a.store.UpdateSessionStatus(id, status); err != nil {
		a.log.Error().Err(err).Str("session", id).Msg("close archived session")
	}
}
