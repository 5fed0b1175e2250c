package connectivity

import (
	"sync"

	"github.com/habedi/inspecta/db"
)

// PathKeeper remembers where the user was while online so navigation can
// return there after an offline spell.
type PathKeeper struct {
	storage *db.SessionStorage

	mu     sync.Mutex
	online bool
}

// NewPathKeeper keeps its bookkeeping in storage.
func NewPathKeeper(storage *db.SessionStorage) *PathKeeper {
	return &PathKeeper{storage: storage, online: true}
}

// Visit records path as the last online location. Visits while offline are
// not recorded.
func (k *PathKeeper) Visit(path string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.online {
		k.storage.Set(db.LastOnlinePathKey, path)
	}
}

// Transition updates the bookkeeping for s. Going offline saves the last
// online path under offlinePath; coming back returns that path (removing it)
// with ok set.
func (k *PathKeeper) Transition(s State) (restore string, ok bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	was := k.online
	k.online = s.Online
	switch {
	case was && !s.Online:
		if last, found := k.storage.Get(db.LastOnlinePathKey); found {
			k.storage.Set(db.OfflinePathKey, last)
		}
	case !was && s.Online:
		restore, ok = k.storage.Get(db.OfflinePathKey)
		k.storage.Delete(db.OfflinePathKey)
	}
	return restore, ok
}

// Attach feeds m's transitions into k and calls restore when there is a path
// to go back to.
func (k *PathKeeper) Attach(m *Monitor, restore func(path string)) (detach func()) {
	return m.Subscribe(func(s State) {
		if path, ok := k.Transition(s); ok && restore != nil {
			restore(path)
		}
	})
}
