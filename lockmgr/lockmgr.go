// Strict two-phase lock manager over row objects (spec §4.3).
//
// The lock table maps an object id to its current holders and a FIFO
// waiter queue. Validate grants or denies a shared/exclusive request;
// commit/abort release every lock a transaction holds in one shot, which
// is what makes this strict 2PL — no lock is ever released before the
// transaction ends (spec §4.3, §5).
//
// This generalizes folio's fileLock (folio/lock.go): there, one mutex
// guards the lifetime of one *os.File handle against concurrent flock
// and Close calls. Here, one mutex guards the lifetime of the whole lock
// table against concurrent validate/commit/abort calls — same shape
// ("hold the guard for the entire critical operation"), different scale.
package lockmgr

import (
	"sync"

	"github.com/jpl-au/minirel/errs"
	"github.com/rs/zerolog"
)

// Mode is a lock's access mode.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

// Action is what a caller is trying to do to an object; it determines
// the mode validate requires.
type Action int

const (
	Read Action = iota
	Write
)

func (a Action) mode() Mode {
	if a == Write {
		return Exclusive
	}
	return Shared
}

// State is a transaction's lifecycle state (spec §3).
type State int

const (
	Active State = iota
	Committed
	Aborted
)

type waiter struct {
	txn   int
	mode  Mode
	ready chan struct{}
}

type objectLock struct {
	holders map[int]Mode // txn id -> mode held
	waiters []*waiter    // FIFO queue
}

// Manager is the strict-2PL lock manager.
type Manager struct {
	mu      sync.Mutex
	objects map[string]*objectLock
	txns    map[int]*txnInfo
	log     zerolog.Logger
}

type txnInfo struct {
	state State
	locks map[string]Mode
}

// New creates an empty lock manager.
func New(log zerolog.Logger) *Manager {
	return &Manager{
		objects: make(map[string]*objectLock),
		txns:    make(map[int]*txnInfo),
		log:     log,
	}
}

// Begin registers a new transaction as ACTIVE. Callers pass the id
// allocated by the transaction core (spec §4.8) so lock-manager state and
// transaction-core state share one numbering.
func (m *Manager) Begin(txn int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txns[txn] = &txnInfo{state: Active, locks: make(map[string]Mode)}
}

// IsActive reports whether txn is in the ACTIVE state.
func (m *Manager) IsActive(txn int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.txns[txn]
	return ok && info.state == Active
}

// Validate requests a lock for action on object under txn. It blocks if
// the request must wait (older transaction, wait-die) and returns a
// Deadlock error if the request must be denied outright (younger
// transaction, wait-die); a txn that is not active gets an
// InternalInvariant error.
func (m *Manager) Validate(action Action, object string, txn int) error {
	mode := action.mode()

	for {
		m.mu.Lock()
		info, ok := m.txns[txn]
		if !ok || info.state != Active {
			m.mu.Unlock()
			return errs.New(errs.InternalInvariant, "validate called on a non-active transaction")
		}

		// Already holding a sufficient lock.
		if held, ok := info.locks[object]; ok && (held == Exclusive || mode == Shared) {
			m.mu.Unlock()
			return nil
		}

		ol, ok := m.objects[object]
		if !ok {
			ol = &objectLock{holders: make(map[int]Mode)}
			m.objects[object] = ol
		}

		conflict, conflictingTxns := conflicts(ol, txn, mode)
		if !conflict {
			// Upgrade (shared held, exclusive requested) or fresh grant.
			ol.holders[txn] = mode
			info.locks[object] = mode
			m.mu.Unlock()
			return nil
		}

		// Wait-die: the requester waits only if it is older (smaller id,
		// since ids are assigned in increasing creation order) than
		// every transaction it conflicts with. Otherwise it dies.
		if !olderThanAll(txn, conflictingTxns) {
			m.mu.Unlock()
			m.log.Debug().Int("txn", txn).Str("object", object).Msg("wait-die: younger transaction aborts on conflict")
			return errs.New(errs.Deadlock, "younger transaction aborts under wait-die policy")
		}

		w := &waiter{txn: txn, mode: mode, ready: make(chan struct{})}
		ol.waiters = append(ol.waiters, w)
		m.mu.Unlock()
		m.log.Debug().Int("txn", txn).Str("object", object).Msg("wait-die: older transaction waits")

		<-w.ready
		// Granted asynchronously by release(); loop back to confirm the
		// lock set was updated before reporting success.
		m.mu.Lock()
		if _, held := info.locks[object]; held {
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()
	}
}

// conflicts reports whether mode conflicts with ol's current holders
// (excluding txn itself), and returns the ids of the conflicting holders
// for the wait-die comparison.
func conflicts(ol *objectLock, txn int, mode Mode) (bool, []int) {
	var others []int
	for h, hm := range ol.holders {
		if h == txn {
			continue
		}
		others = append(others, h)
		_ = hm
	}
	if len(others) == 0 {
		return false, nil
	}
	if mode == Shared {
		// Shared conflicts only with an exclusive holder.
		for h, hm := range ol.holders {
			if h != txn && hm == Exclusive {
				return true, others
			}
		}
		return false, nil
	}
	// Exclusive conflicts with any other holder at all.
	return true, others
}

// olderThanAll reports whether txn's id is smaller than every id in
// others — "older" under the convention that transaction ids are
// allocated in increasing order of creation (spec §5: wait-die, older
// transactions wait).
func olderThanAll(txn int, others []int) bool {
	for _, o := range others {
		if txn >= o {
			return false
		}
	}
	return true
}

// Commit releases every lock txn holds and marks it COMMITTED. Strict
// 2PL: this is the one release moment, and it happens all at once.
func (m *Manager) Commit(txn int) {
	m.release(txn, Committed)
}

// Abort releases every lock txn holds and marks it ABORTED.
func (m *Manager) Abort(txn int) {
	m.release(txn, Aborted)
}

func (m *Manager) release(txn int, final State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.txns[txn]
	if !ok {
		return
	}
	for object := range info.locks {
		ol, ok := m.objects[object]
		if !ok {
			continue
		}
		delete(ol.holders, txn)
		m.promote(object, ol)
	}
	info.locks = make(map[string]Mode)
	info.state = final
}

// promote grants as many FIFO-queued waiters on object as can now be
// satisfied, preserving per-object FIFO order (spec §4.3: "grant order
// is FIFO per object to avoid starvation").
func (m *Manager) promote(object string, ol *objectLock) {
	for len(ol.waiters) > 0 {
		w := ol.waiters[0]
		info := m.txns[w.txn]
		conflict, _ := conflicts(ol, w.txn, w.mode)
		if conflict {
			break // FIFO: do not skip ahead of a blocked head-of-line waiter
		}
		ol.holders[w.txn] = w.mode
		info.locks[object] = w.mode
		ol.waiters = ol.waiters[1:]
		close(w.ready)
	}
	if len(ol.holders) == 0 && len(ol.waiters) == 0 {
		delete(m.objects, object)
	}
}
