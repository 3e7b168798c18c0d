package cryptosqlite

import "sync"

// lockTable tracks SQLite-style locks for files opened through one BaseVFS.
// Locks are advisory and only coordinate handles within this process.
type lockTable struct {
	mu    sync.Mutex
	files map[string]*lockState
}

type lockState struct {
	shared    int
	reserved  *baseFile
	pending   *baseFile
	exclusive *baseFile
	refs      int
}

func newLockTable() *lockTable {
	return &lockTable{files: make(map[string]*lockState)}
}

func (t *lockTable) acquire(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.files[path]
	if st == nil {
		st = &lockState{}
		t.files[path] = st
	}
	st.refs++
}

func (t *lockTable) release(f *baseFile) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.files[f.path]
	if st == nil {
		return
	}
	t.downgrade(st, f, LockNone)
	st.refs--
	if st.refs <= 0 {
		delete(t.files, f.path)
	}
}

// lock raises f's lock to level following SQLite's transition rules
func (t *lockTable) lock(f *baseFile, level LockLevel) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.files[f.path]
	if st == nil || level <= f.level {
		return nil
	}

	switch level {
	case LockShared:
		if st.pending != nil || st.exclusive != nil {
			return ErrBusy
		}
		st.shared++
		f.level = LockShared

	case LockReserved:
		if f.level != LockShared {
			return NewValidationError("lock", level.String(), "reserved lock requires a shared lock")
		}
		if st.reserved != nil {
			return ErrBusy
		}
		st.reserved = f
		f.level = LockReserved

	case LockPending, LockExclusive:
		if f.level < LockShared {
			return NewValidationError("lock", level.String(), "exclusive lock requires a shared lock")
		}
		if st.reserved != nil && st.reserved != f {
			return ErrBusy
		}
		if st.pending != nil && st.pending != f {
			return ErrBusy
		}
		st.reserved = f
		st.pending = f
		f.level = LockPending
		if level == LockPending {
			return nil
		}
		if st.shared > 1 {
			return ErrBusy
		}
		st.exclusive = f
		f.level = LockExclusive
	}
	return nil
}

// unlock lowers f's lock to level (LockShared or LockNone)
func (t *lockTable) unlock(f *baseFile, level LockLevel) error {
	if level > LockShared {
		return NewValidationError("unlock", level.String(), "can only unlock to shared or none")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.files[f.path]
	if st == nil {
		return nil
	}
	t.downgrade(st, f, level)
	return nil
}

func (t *lockTable) downgrade(st *lockState, f *baseFile, level LockLevel) {
	if f.level <= level {
		return
	}
	if st.exclusive == f {
		st.exclusive = nil
	}
	if st.pending == f {
		st.pending = nil
	}
	if st.reserved == f {
		st.reserved = nil
	}
	if level == LockNone && f.level >= LockShared {
		st.shared--
	}
	f.level = level
}

// reservedHeld reports whether any handle holds reserved or stronger
func (t *lockTable) reservedHeld(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.files[path]
	return st != nil && (st.reserved != nil || st.pending != nil || st.exclusive != nil)
}
