package cryptosqlite

import (
	"slices"
	"sync"
)

// Host is a table of named VFS implementations with one default entry, the
// registry a host engine consults when a connection names no VFS.
type Host struct {
	mu    sync.RWMutex
	order []VFS
	def   VFS
}

var defaultHost = NewHost()

// DefaultHost returns the process-wide host table
func DefaultHost() *Host {
	return defaultHost
}

// NewHost returns an empty host table
func NewHost() *Host {
	return &Host{}
}

// Register adds v to the table, replacing nothing: a different VFS already
// registered under the same name is a ProtocolError. Registering v again is
// allowed and only updates the default.
func (h *Host) Register(v VFS, makeDefault bool) error {
	if v == nil {
		return NewValidationError("vfs", nil, "vfs cannot be nil")
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing := h.findLocked(v.Name()); existing != nil && existing != v {
		return NewProtocolError("register", v.Name(), "a different vfs is registered under this name")
	} else if existing == nil {
		h.order = append(h.order, v)
	}
	if makeDefault || h.def == nil {
		h.def = v
	}
	return nil
}

// Unregister removes v. When v was the default, the earliest remaining
// registration becomes the default.
func (h *Host) Unregister(v VFS) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	i := slices.Index(h.order, v)
	if i < 0 {
		return NewProtocolError("unregister", v.Name(), "vfs is not registered")
	}
	h.order = slices.Delete(h.order, i, i+1)
	if h.def == v {
		h.def = nil
		if len(h.order) > 0 {
			h.def = h.order[0]
		}
	}
	return nil
}

// Find returns the VFS registered as name, the default for "", or nil
func (h *Host) Find(name string) VFS {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if name == "" {
		return h.def
	}
	return h.findLocked(name)
}

func (h *Host) findLocked(name string) VFS {
	for _, v := range h.order {
		if v.Name() == name {
			return v
		}
	}
	return nil
}

// Default returns the default VFS, nil when the table is empty
func (h *Host) Default() VFS {
	return h.Find("")
}

// SetDefault makes a registered v the default. A nil v clears the default.
func (h *Host) SetDefault(v VFS) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if v != nil && !slices.Contains(h.order, v) {
		return NewProtocolError("set_default", v.Name(), "vfs is not registered")
	}
	h.def = v
	return nil
}

// Names lists registered VFS names in registration order
func (h *Host) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, len(h.order))
	for i, v := range h.order {
		names[i] = v.Name()
	}
	return names
}
