package verify

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/Brownie44l1/siamese-verify/internal/model"
)

// State describes where a Handle is in the engine lifecycle.
type State string

const (
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateFailed  State = "failed"
	StateClosed  State = "closed"
)

// Handle holds the engine once it has been loaded, or the error that kept it
// from loading. The zero value is a loading handle.
type Handle struct {
	mu     sync.RWMutex
	engine model.Engine
	err    error
	closed bool
}

// NewHandle returns a handle already holding engine.
func NewHandle(engine model.Engine) *Handle {
	h := &Handle{}
	h.Set(engine)
	return h
}

// Set publishes engine. A nil engine, typed or untyped, puts the handle back
// into the loading state. After Close the engine is closed instead of kept.
func (h *Handle) Set(engine model.Engine) {
	if isNilEngine(engine) {
		engine = nil
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		if engine != nil {
			_ = engine.Close()
		}
		return
	}
	h.engine = engine
	h.err = nil
	h.mu.Unlock()
}

// Fail records that the engine will not load. The stored error always
// matches model.ErrModelLoad.
func (h *Handle) Fail(err error) {
	if err == nil {
		err = model.ErrModelLoad
	} else if !errors.Is(err, model.ErrModelLoad) {
		err = fmt.Errorf("%w: %w", model.ErrModelLoad, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.engine = nil
	h.err = err
}

// Engine returns the loaded engine and whether one is loaded.
func (h *Handle) Engine() (model.Engine, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.engine, h.engine != nil
}

// Err returns the load failure recorded by Fail, if any.
func (h *Handle) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.err
}

// Loaded reports whether an engine has been published.
func (h *Handle) Loaded() bool {
	_, ok := h.Engine()
	return ok
}

func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	switch {
	case h.closed:
		return StateClosed
	case h.engine != nil:
		return StateReady
	case h.err != nil:
		return StateFailed
	default:
		return StateLoading
	}
}

// Close unloads and closes the engine, if any. An engine published after
// Close is closed immediately by Set.
func (h *Handle) Close() error {
	h.mu.Lock()
	engine := h.engine
	h.engine = nil
	h.closed = true
	h.mu.Unlock()

	if engine == nil {
		return nil
	}
	return engine.Close()
}

func isNilEngine(engine model.Engine) bool {
	if engine == nil {
		return true
	}
	v := reflect.ValueOf(engine)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}
