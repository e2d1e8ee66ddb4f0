// Package hotkey implements the global PTT key registration capability.
//
// No OS-level global-hotkey library is available to this build (none of the
// retrieval pack's dependencies cover it), so the only concrete source is a
// focus-scoped one driven by key events the host window forwards in; a
// global source exists as an interface point for a future platform-specific
// implementation and reports ErrUnsupportedPlatform so the engine falls back
// to focus-only mode with a surfaced HotkeyError, exactly as the base spec's
// §4.9 fallback rule requires.
package hotkey

import (
	"errors"
	"sync"
)

// ErrUnsupportedPlatform is returned by Register when no global hotkey
// backend is available.
var ErrUnsupportedPlatform = errors.New("hotkey: no global hotkey backend available on this platform")

// ErrAlreadyBound is returned when the OS reports the combination is already
// claimed by another application.
var ErrAlreadyBound = errors.New("hotkey: combination already bound")

// Source delivers press/release edges for a registered key combination.
type Source interface {
	// Register binds combo (token syntax e.g. "AltLeft", "ControlLeft+V").
	// onPress/onRelease are invoked from the source's own goroutine.
	Register(combo string, onPress, onRelease func()) error
	// Unregister releases any currently bound combination.
	Unregister()
	// Global reports whether this source delivers events while the host
	// window lacks focus.
	Global() bool
}

// FocusKeySource delivers PTT edges only while the host window has focus; it
// is driven by key down/up events the presentation layer forwards in (see
// the base spec's PressEdge/ReleaseEdge model), grounded on the always-on
// focus-scoped key handling the host window already provides.
type FocusKeySource struct {
	mu        sync.Mutex
	combo     string
	onPress   func()
	onRelease func()
	held      bool
}

// NewFocusKeySource returns a ready-to-use focus-scoped source.
func NewFocusKeySource() *FocusKeySource { return &FocusKeySource{} }

func (f *FocusKeySource) Register(combo string, onPress, onRelease func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.combo = combo
	f.onPress = onPress
	f.onRelease = onRelease
	f.held = false
	return nil
}

func (f *FocusKeySource) Unregister() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.combo = ""
	f.onPress = nil
	f.onRelease = nil
	f.held = false
}

func (f *FocusKeySource) Global() bool { return false }

// KeyDown is called by the host window on a forwarded keydown event matching
// the bound combination (matching is the host's responsibility — it knows
// its own key event format).
func (f *FocusKeySource) KeyDown() {
	f.mu.Lock()
	already := f.held
	f.held = true
	cb := f.onPress
	f.mu.Unlock()
	if !already && cb != nil {
		cb()
	}
}

// KeyUp is called by the host window on the matching keyup event.
func (f *FocusKeySource) KeyUp() {
	f.mu.Lock()
	was := f.held
	f.held = false
	cb := f.onRelease
	f.mu.Unlock()
	if was && cb != nil {
		cb()
	}
}

// GlobalKeySource is the OS-integration extension point for a true
// system-wide hotkey. No backend is wired in this build; Register always
// reports ErrUnsupportedPlatform so callers fall back to FocusKeySource.
type GlobalKeySource struct{}

// NewGlobalKeySource returns a GlobalKeySource stub.
func NewGlobalKeySource() *GlobalKeySource { return &GlobalKeySource{} }

func (g *GlobalKeySource) Register(combo string, onPress, onRelease func()) error {
	return ErrUnsupportedPlatform
}

func (g *GlobalKeySource) Unregister() {}

func (g *GlobalKeySource) Global() bool { return true }

// Service owns hotkey registration, preferring a global source and falling
// back to focus-only on registration failure.
type Service struct {
	global Source
	focus  *FocusKeySource

	mu     sync.Mutex
	active Source
	combo  string
}

// NewService wires a Service with the given global backend (typically
// NewGlobalKeySource()) and a focus fallback.
func NewService(global Source) *Service {
	return &Service{
		global: global,
		focus:  NewFocusKeySource(),
	}
}

// Focus returns the focus-scoped source so the host window can forward key
// events into it.
func (s *Service) Focus() *FocusKeySource { return s.focus }

// Bind registers combo on the global backend, falling back to focus-only and
// returning the fallback error (non-nil) when the global backend is
// unavailable or the combination is already bound elsewhere.
func (s *Service) Bind(combo string, onPress, onRelease func()) (usedGlobal bool, fallbackErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		s.active.Unregister()
	}

	if err := s.global.Register(combo, onPress, onRelease); err == nil {
		s.active = s.global
		s.combo = combo
		return true, nil
	} else {
		fallbackErr = err
	}

	if err := s.focus.Register(combo, onPress, onRelease); err != nil {
		return false, err
	}
	s.active = s.focus
	s.combo = combo
	return false, fallbackErr
}

// Combo returns the currently bound combination token.
func (s *Service) Combo() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.combo
}
