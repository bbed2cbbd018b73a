package billing

import (
	"sync"

	"github.com/dkeye/Liveroom/internal/domain"
)

// entry guards one session. Every tick, end and refund holds mu.
type entry struct {
	mu    sync.Mutex
	s     domain.BillingSession
	ended bool
}

// Ledger holds every session that is billing right now. It is the source
// of truth while the process runs.
type Ledger struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*entry
}

func NewLedger() *Ledger {
	return &Ledger{sessions: make(map[domain.SessionID]*entry)}
}

// reserve adds a locked entry for s. The caller unlocks it once setup is done.
func (l *Ledger) reserve(s domain.BillingSession) (*entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.sessions[s.ID]; ok {
		return nil, false
	}
	en := &entry{s: s}
	en.mu.Lock()
	l.sessions[s.ID] = en
	return en, true
}

func (l *Ledger) get(id domain.SessionID) (*entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	en, ok := l.sessions[id]
	return en, ok
}

func (l *Ledger) remove(id domain.SessionID, en *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.sessions[id]; ok && cur == en {
		delete(l.sessions, id)
	}
}

// Get returns a copy of the session state.
func (l *Ledger) Get(id domain.SessionID) (domain.BillingSession, bool) {
	en, ok := l.get(id)
	if !ok {
		return domain.BillingSession{}, false
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	if en.ended {
		return domain.BillingSession{}, false
	}
	return en.s, true
}

// List copies every live session. Entries are locked one at a time.
func (l *Ledger) List() []domain.BillingSession {
	l.mu.RLock()
	entries := make([]*entry, 0, len(l.sessions))
	for _, en := range l.sessions {
		entries = append(entries, en)
	}
	l.mu.RUnlock()

	out := make([]domain.BillingSession, 0, len(entries))
	for _, en := range entries {
		en.mu.Lock()
		if !en.ended {
			out = append(out, en.s)
		}
		en.mu.Unlock()
	}
	return out
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.sessions)
}
