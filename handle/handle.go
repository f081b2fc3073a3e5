// Package handle provides Handle, the exclusive owner of a single operating
// system resource such as a pipe end, a process handle or a thread handle.
//
// A Handle closes the resource it owns exactly once: when Reset (or Close) is
// called, or, failing that, when the Handle is garbage collected. Ownership
// can be transferred with Move, or given up without closing with Release.
package handle

import (
	"os"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
)

// Handle owns one OS resource of type T. The zero value of T denotes the
// invalid handle, which owns nothing and is never closed.
//
// A Handle must not be copied after first use; pass *Handle around instead,
// and use Move to hand ownership to someone else.
type Handle[T comparable] struct {
	_ noCopy

	mu     sync.Mutex
	v      T
	closer func(T) error
}

// New takes ownership of v, which will be released by calling closer. If v is
// the zero value of T, the returned Handle is invalid.
func New[T comparable](v T, closer func(T) error) *Handle[T] {
	h := &Handle[T]{v: v, closer: closer}
	var zero T
	if v != zero {
		runtime.SetFinalizer(h, (*Handle[T]).finalize)
	}
	return h
}

// Invalid returns a Handle which owns nothing.
func Invalid[T comparable]() *Handle[T] {
	return &Handle[T]{}
}

// FromFile takes ownership of f.
func FromFile(f *os.File) *Handle[*os.File] {
	return New(f, (*os.File).Close)
}

// Get returns the owned value without transferring ownership. The value must
// not be used once the Handle has been reset. Get returns the zero value of T
// if the Handle is invalid.
func (h *Handle[T]) Get() T {
	if h == nil {
		var zero T
		return zero
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.v
}

// Valid reports whether the Handle currently owns a resource.
func (h *Handle[T]) Valid() bool {
	var zero T
	return h.Get() != zero
}

// Release gives up ownership without closing the resource, which becomes the
// caller's responsibility. The Handle is invalid afterwards.
func (h *Handle[T]) Release() T {
	if h == nil {
		var zero T
		return zero
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	v := h.take()
	return v
}

// Move transfers ownership to a new Handle, leaving h invalid. The resource is
// not closed.
func (h *Handle[T]) Move() *Handle[T] {
	if h == nil {
		return Invalid[T]()
	}
	h.mu.Lock()
	closer := h.closer
	v := h.take()
	h.mu.Unlock()
	return New(v, closer)
}

// Reset closes the owned resource, if any, and leaves the Handle invalid.
// Resetting an invalid Handle is a no-op.
func (h *Handle[T]) Reset() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	closer := h.closer
	v := h.take()
	h.mu.Unlock()

	var zero T
	if v == zero || closer == nil {
		return nil
	}
	if err := closer(v); err != nil {
		return &OSError{Op: "close", Err: err}
	}
	return nil
}

// Close is Reset, so that a Handle satisfies io.Closer.
func (h *Handle[T]) Close() error {
	return h.Reset()
}

// take must be called with h.mu held.
func (h *Handle[T]) take() T {
	var zero T
	v := h.v
	h.v = zero
	if v != zero {
		runtime.SetFinalizer(h, nil)
	}
	return v
}

func (h *Handle[T]) finalize() {
	if err := h.Reset(); err != nil {
		logrus.WithError(err).Warn("Could not release unreachable OS handle")
	}
}

// noCopy may be embedded into structs which must not be copied after first
// use. See https://golang.org/issues/8005#issuecomment-190753527
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
