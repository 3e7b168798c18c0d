package cryptosqlite

import "github.com/awnumar/memguard"

// secureBuffer is a scoped, locked allocation for transient key material.
// Release wipes and frees it; call it with defer right after allocation so
// every exit path clears the memory.
type secureBuffer struct {
	lb *memguard.LockedBuffer
}

func newSecureBuffer(size int) *secureBuffer {
	if size <= 0 {
		return &secureBuffer{}
	}
	return &secureBuffer{lb: memguard.NewBuffer(size)}
}

// secureCopy moves src into a secure buffer and wipes src
func secureCopy(src []byte) *secureBuffer {
	if len(src) == 0 {
		return &secureBuffer{}
	}
	return &secureBuffer{lb: memguard.NewBufferFromBytes(src)}
}

// Bytes returns the protected memory, nil for an empty buffer
func (b *secureBuffer) Bytes() []byte {
	if b.lb == nil || !b.lb.IsAlive() {
		return nil
	}
	return b.lb.Bytes()
}

// Len returns the buffer size
func (b *secureBuffer) Len() int {
	return len(b.Bytes())
}

// Release wipes and frees the buffer. Safe to call more than once.
func (b *secureBuffer) Release() {
	if b.lb != nil && b.lb.IsAlive() {
		b.lb.Destroy()
	}
	b.lb = nil
}
