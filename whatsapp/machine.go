package whatsapp

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

// State is one stage of the WhatsApp session lifecycle.
type State string

const (
	StateDisconnected   State = "DISCONNECTED"
	StateQrPending      State = "QR_PENDING"
	StateAuthenticating State = "AUTHENTICATING"
	StateReady          State = "READY"
	StateReconnecting   State = "RECONNECTING"
	StateLoggedOut      State = "LOGGED_OUT"
)

var validTransitions = map[State][]State{
	StateDisconnected:   {StateQrPending, StateAuthenticating, StateReady, StateReconnecting},
	StateQrPending:      {StateQrPending, StateAuthenticating, StateDisconnected, StateLoggedOut},
	StateAuthenticating: {StateReady, StateDisconnected, StateLoggedOut},
	StateReady:          {StateReconnecting, StateDisconnected, StateLoggedOut},
	StateReconnecting:   {StateAuthenticating, StateReady, StateReconnecting, StateDisconnected, StateLoggedOut},
	StateLoggedOut:      {StateQrPending, StateDisconnected},
}

const (
	DefaultMaxQRAttempts        = 5
	DefaultMaxReconnectAttempts = 10
	DefaultReconnectBaseDelay   = 5 * time.Second
	DefaultReconnectMaxDelay    = 300 * time.Second
)

// Machine tracks the session lifecycle plus the two retry budgets hanging
// off it: QR scan attempts and reconnect attempts. It holds no sockets; the
// Client drives it from whatsmeow events.
type Machine struct {
	mu sync.Mutex

	current State

	maxQRAttempts int
	qrAttempts    int
	qrRequested   bool
	pendingQR     string

	maxReconnects     int
	reconnectAttempts int
	reconnectBase     time.Duration
	reconnectMax      time.Duration

	halted bool
}

type MachineConfig struct {
	MaxQRAttempts        int
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
}

func NewMachine(cfg MachineConfig) *Machine {
	if cfg.MaxQRAttempts <= 0 {
		cfg.MaxQRAttempts = DefaultMaxQRAttempts
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	return &Machine{
		current:       StateDisconnected,
		maxQRAttempts: cfg.MaxQRAttempts,
		maxReconnects: cfg.MaxReconnectAttempts,
		reconnectBase: cfg.ReconnectBaseDelay,
		reconnectMax:  cfg.ReconnectMaxDelay,
	}
}

func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Transition moves the lifecycle to a new state, clearing the retry budgets
// the new state makes irrelevant.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(to)
}

func (m *Machine) transitionLocked(to State) error {
	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	m.current = to

	switch to {
	case StateReady:
		m.qrAttempts = 0
		m.reconnectAttempts = 0
		m.pendingQR = ""
		m.halted = false
	case StateLoggedOut:
		m.qrAttempts = 0
		m.reconnectAttempts = 0
		m.pendingQR = ""
		m.qrRequested = false
		m.halted = false
	}
	return nil
}

// Halted reports whether a retry budget ran out. A halted session stays
// down until the operator asks for a new pairing.
func (m *Machine) Halted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halted
}

// QRReceived records a fresh QR code from the server. The code is buffered;
// it only reaches the operator when pairing was explicitly requested. The
// returned forward flag says whether to surface it now. When the scan
// budget runs out, ok is false and the session halts.
func (m *Machine) QRReceived(code string) (forward bool, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.qrAttempts++
	if m.qrAttempts > m.maxQRAttempts {
		m.halted = true
		m.pendingQR = ""
		_ = m.transitionLocked(StateDisconnected)
		return false, false
	}

	if m.current != StateQrPending {
		if err := m.transitionLocked(StateQrPending); err != nil {
			return false, false
		}
	}

	m.pendingQR = code
	return m.qrRequested, true
}

// RequestPairing marks that the operator wants to link a device. Any
// buffered QR code is released to the caller; later codes are forwarded as
// they arrive. Resets the scan budget and clears a halt.
func (m *Machine) RequestPairing() (bufferedQR string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.qrRequested = true
	m.qrAttempts = 0
	m.reconnectAttempts = 0
	m.halted = false

	code := m.pendingQR
	m.pendingQR = ""
	return code
}

// PairingRequested reports whether the operator asked to see QR codes.
func (m *Machine) PairingRequested() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.qrRequested
}

// PairingComplete clears the QR bookkeeping once a scan succeeded.
func (m *Machine) PairingComplete() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.qrRequested = false
	m.qrAttempts = 0
	m.pendingQR = ""
}

// NextReconnectDelay consumes one reconnect attempt and returns how long to
// wait before dialing again. Delays double from the base and cap at the
// maximum. When the attempt budget is spent, ok is false and the session
// halts.
func (m *Machine) NextReconnectDelay() (delay time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reconnectAttempts++
	if m.reconnectAttempts > m.maxReconnects {
		m.halted = true
		_ = m.transitionLocked(StateDisconnected)
		return 0, false
	}

	delay = m.reconnectBase << (m.reconnectAttempts - 1)
	if delay > m.reconnectMax || delay <= 0 {
		delay = m.reconnectMax
	}
	return delay, true
}

// ReconnectAttempts returns how many reconnects were consumed since the
// last successful connection.
func (m *Machine) ReconnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnectAttempts
}
