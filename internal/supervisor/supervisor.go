// Package supervisor implements the Session Supervisor (C5): the single
// piece of mutable session state (presence mode, enabled flag, the live
// connection set) and the chat-command surface exposed through the fake
// contact. It implements chatintercept.Owner.
package supervisor

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/conductorone/deceive/internal/chatintercept"
	"github.com/conductorone/deceive/internal/presence"
)

const (
	defaultIntroDelay = 10 * time.Second
	defaultIntroGap   = 200 * time.Millisecond
	defaultIdleDelay  = 60 * time.Second
)

// StatusSink receives a human-readable line whenever the effective status
// changes, for a tray icon or CLI banner to display. It may be nil.
type StatusSink func(label string)

// Supervisor owns every piece of state shared across ProxiedConnections and
// is the sole entry point the CLI has into the running session.
type Supervisor struct {
	log *zap.Logger

	mu           sync.Mutex
	mode         presence.Mode
	enabled      bool
	connectToMuc bool
	introSent    bool
	connections  map[*chatintercept.ProxiedConnection]struct{}
	idleTimer    *time.Timer

	introDelay time.Duration
	introGap   time.Duration
	idleDelay  time.Duration

	onStatus StatusSink
	onIdle   func()

	stopOnce sync.Once
	done     chan struct{}
}

// New builds a Supervisor with the given initial mode and MUC-connect
// behavior. onIdle is invoked once, on its own goroutine, after the
// connection set has been empty for the idle-shutdown delay; the CLI
// entrypoint wires this to its own graceful-exit path.
func New(mode presence.Mode, connectToMuc bool, log *zap.Logger, onStatus StatusSink, onIdle func()) *Supervisor {
	return &Supervisor{
		log:          log,
		mode:         mode,
		enabled:      true,
		connectToMuc: connectToMuc,
		connections:  make(map[*chatintercept.ProxiedConnection]struct{}),
		introDelay:   defaultIntroDelay,
		introGap:     defaultIntroGap,
		idleDelay:    defaultIdleDelay,
		onStatus:     onStatus,
		onIdle:       onIdle,
		done:         make(chan struct{}),
	}
}

// SetIntroTiming overrides the intro-sequence delay/gap; tests use this to
// avoid waiting on real wall-clock time.
func (s *Supervisor) SetIntroTiming(delay, gap time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.introDelay = delay
	s.introGap = gap
}

// SetIdleDelay overrides the idle-shutdown delay.
func (s *Supervisor) SetIdleDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idleDelay = d
}

// --- chatintercept.Owner ---

func (s *Supervisor) EffectiveMode() presence.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effectiveModeLocked()
}

func (s *Supervisor) effectiveModeLocked() presence.Mode {
	if !s.enabled {
		return presence.Online
	}
	return s.mode
}

func (s *Supervisor) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *Supervisor) ConnectToMuc() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectToMuc
}

// Register adds a live connection, cancels any pending idle shutdown, and
// arms the one-shot intro sequence the first time any connection ever
// registers.
func (s *Supervisor) Register(c *chatintercept.ProxiedConnection) {
	s.mu.Lock()
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	s.connections[c] = struct{}{}
	firstEver := !s.introSent
	s.introSent = true
	label := s.effectiveModeLocked().Label()
	delay, gap := s.introDelay, s.introGap
	s.mu.Unlock()

	s.log.Info("chat connection registered", zap.Int("live", s.connectionCount()))

	if firstEver {
		go s.runIntroSequence(c, label, delay, gap)
	}
}

// Unregister removes a connection and arms the idle-shutdown timer once the
// set becomes empty.
func (s *Supervisor) Unregister(c *chatintercept.ProxiedConnection) {
	s.mu.Lock()
	delete(s.connections, c)
	empty := len(s.connections) == 0
	var timer *time.Timer
	if empty && s.onIdle != nil {
		delay := s.idleDelay
		timer = time.AfterFunc(delay, s.fireIdle)
		s.idleTimer = timer
	}
	s.mu.Unlock()

	s.log.Info("chat connection unregistered", zap.Bool("idle_timer_armed", timer != nil))
}

func (s *Supervisor) fireIdle() {
	select {
	case <-s.done:
		return
	default:
	}
	s.log.Info("idle timeout reached, shutting down")
	if s.onIdle != nil {
		s.onIdle()
	}
}

func (s *Supervisor) connectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connections)
}

func (s *Supervisor) snapshot() []*chatintercept.ProxiedConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*chatintercept.ProxiedConnection, 0, len(s.connections))
	for c := range s.connections {
		out = append(out, c)
	}
	return out
}

// HandleChatToFake parses a chat message addressed to the fake contact and
// acts on the first matching command, checked in a fixed priority order.
func (s *Supervisor) HandleChatToFake(body string) {
	lower := strings.ToLower(body)
	switch {
	case strings.Contains(lower, "offline"):
		s.SetMode(presence.Offline)
	case strings.Contains(lower, "mobile"):
		s.SetMode(presence.Mobile)
	case strings.Contains(lower, "online"):
		s.SetMode(presence.Online)
	case strings.Contains(lower, "enable"):
		if s.Enabled() {
			s.broadcastFromFake(alreadyEnabledMsg)
		} else {
			s.ToggleEnabled()
		}
	case strings.Contains(lower, "disable"):
		if !s.Enabled() {
			s.broadcastFromFake(alreadyDisabledMsg)
		} else {
			s.ToggleEnabled()
		}
	case strings.Contains(lower, "status"):
		s.broadcastFromFake("You are appearing " + s.EffectiveMode().Label() + ".")
	case strings.Contains(lower, "help"):
		s.broadcastFromFake(helpMsg)
	}
}

// SetMode changes the active presence mode, implicitly re-enabling if the
// session was disabled, and replays the new status onto every live
// connection.
func (s *Supervisor) SetMode(m presence.Mode) {
	s.mu.Lock()
	s.mode = m
	s.enabled = true
	connectToMuc := s.connectToMuc
	s.mu.Unlock()

	s.notifyStatus()
	for _, c := range s.snapshot() {
		c.UpdateStatus(m, connectToMuc)
	}
	s.broadcastFromFake("You are now appearing " + m.Label() + ".")
}

// ToggleEnabled flips the enabled flag without changing the stored mode.
func (s *Supervisor) ToggleEnabled() {
	s.mu.Lock()
	s.enabled = !s.enabled
	enabled := s.enabled
	mode := s.effectiveModeLocked()
	connectToMuc := s.connectToMuc
	s.mu.Unlock()

	s.notifyStatus()
	for _, c := range s.snapshot() {
		c.UpdateStatus(mode, connectToMuc)
	}
	if enabled {
		s.broadcastFromFake(enabledMsg)
	} else {
		s.broadcastFromFake(disabledMsg)
	}
}

func (s *Supervisor) notifyStatus() {
	if s.onStatus == nil {
		return
	}
	s.onStatus(s.EffectiveMode().Label())
}

func (s *Supervisor) broadcastFromFake(body string) {
	for _, c := range s.snapshot() {
		c.SendFromFake(body)
	}
}

func (s *Supervisor) runIntroSequence(c *chatintercept.ProxiedConnection, label string, delay, gap time.Duration) {
	select {
	case <-time.After(delay):
	case <-s.done:
		return
	}
	messages := []string{
		fmt.Sprintf(introWelcomeFmt, label),
		introInviteWorkaround,
		introTrayHint,
		introHaveFun,
	}
	for i, m := range messages {
		c.SendFromFake(m)
		if i < len(messages)-1 {
			time.Sleep(gap)
		}
	}
}

// Stop cancels timers, closes every live connection, and is safe to call
// more than once.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		if s.idleTimer != nil {
			s.idleTimer.Stop()
			s.idleTimer = nil
		}
		s.mu.Unlock()

		for _, c := range s.snapshot() {
			c.Close()
		}
	})
}
