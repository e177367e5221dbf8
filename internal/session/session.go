// Package session implements the session state machine: the orchestrator
// owning role, connection phase and the stream handle. It reacts to
// capture, signaling and call events and to user intents, and emits
// read-only snapshots for the presentation layer.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/screenlink/screenlink/internal/domain"
)

// Deps are the component ports a session orchestrates.
type Deps struct {
	Identity domain.IdentityProvider
	Network  domain.SignalNetwork
	Capture  domain.CaptureSource
	Calls    domain.CallFactory
	Logger   zerolog.Logger
}

// Session is one role-scoped engagement from mode selection to teardown.
// Exactly one Session exists per presentation context; a new engagement
// reuses the same Session value after Disconnect.
//
// All state is guarded by mu. Every asynchronous completion carries the
// epoch it was started under and is dropped if the session has since been
// torn down, so a late event can never act on a resource context that is
// no longer valid.
type Session struct {
	deps   Deps
	notify func(domain.Snapshot)
	log    zerolog.Logger

	mu    sync.Mutex
	epoch uint64

	role     domain.Role
	localID  string
	remoteID string
	phase    domain.Phase
	lastErr  string

	ctx    context.Context
	cancel context.CancelFunc

	link          domain.SignalLink
	channelRemote string // peer on the open channel, "" when none
	call          domain.MediaCall
	stream        domain.MediaStream
	captureActive bool
	acquiring     bool
	bound         domain.RemoteStream
}

// New creates an idle Session. notify, if non-nil, receives a snapshot
// after every observable state change; it is called without internal
// locks held and may invoke intents.
func New(deps Deps, notify func(domain.Snapshot)) *Session {
	return &Session{
		deps:   deps,
		notify: notify,
		log:    deps.Logger.With().Str("module", "session").Logger(),
		phase:  domain.PhaseDisconnected,
	}
}

// Snapshot returns the current presentation view.
func (s *Session) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() domain.Snapshot {
	return domain.Snapshot{
		Role:           s.role,
		LocalIdentity:  s.localID,
		RemoteIdentity: s.remoteID,
		Phase:          s.phase,
		CaptureActive:  s.captureActive,
		StreamBound:    s.bound != nil,
		LastError:      s.lastErr,
	}
}

func (s *Session) emit(snap domain.Snapshot) {
	if s.notify != nil {
		s.notify(snap)
	}
}

// SelectMode leaves the idle state and opens a signaling link under a
// fresh identity. Selecting a mode while a previous engagement is active
// tears the previous one down first, so at most one link is ever open.
func (s *Session) SelectMode(role domain.Role) error {
	if role != domain.RoleSharer && role != domain.RoleViewer {
		return fmt.Errorf("%w: select mode %v", domain.ErrInvalidIntent, role)
	}

	s.mu.Lock()
	if s.role != domain.RoleNone {
		s.teardownLocked(true)
	}

	s.role = role
	s.phase = domain.PhaseDisconnected
	s.ctx, s.cancel = context.WithCancel(context.Background())
	epoch := s.epoch

	selfID := s.deps.Identity.NewIdentity()
	link, err := s.deps.Network.Open(selfID, &linkEvents{s: s, epoch: epoch})
	if err != nil {
		s.teardownLocked(false)
		s.lastErr = err.Error()
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.emit(snap)
		return err
	}

	s.link = link
	s.log.Info().Str("role", role.String()).Msg("mode selected, link opening")
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap)
	return nil
}

// SetRemoteIdentity records the identifier of the sharer to connect to.
func (s *Session) SetRemoteIdentity(id string) error {
	s.mu.Lock()
	if s.role != domain.RoleViewer {
		s.mu.Unlock()
		return fmt.Errorf("%w: remote identity requires viewer role", domain.ErrInvalidIntent)
	}
	s.remoteID = id
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap)
	return nil
}

// Connect opens a channel to the configured remote identity. An empty
// identity is rejected locally; no signaling attempt is made.
func (s *Session) Connect() error {
	s.mu.Lock()
	switch {
	case s.role != domain.RoleViewer:
		s.mu.Unlock()
		return fmt.Errorf("%w: connect requires viewer role", domain.ErrInvalidIntent)
	case s.localID == "":
		s.mu.Unlock()
		return fmt.Errorf("%w: connect before identity assigned", domain.ErrInvalidIntent)
	case s.phase != domain.PhaseDisconnected:
		s.mu.Unlock()
		return fmt.Errorf("%w: connect while %s", domain.ErrInvalidIntent, s.phase)
	case s.remoteID == "":
		s.mu.Unlock()
		return fmt.Errorf("%w: empty remote identity", domain.ErrInvalidIntent)
	}

	s.phase = domain.PhaseConnecting
	err := s.link.Connect(s.remoteID)
	if err != nil {
		s.phase = domain.PhaseDisconnected
		s.lastErr = err.Error()
	} else {
		s.lastErr = ""
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap)
	return err
}

// StartSharing acquires the display capture and places the media call.
// Valid only for a connected sharer with no active capture. The
// permission prompt runs off the event path; completion re-validates
// state before taking effect.
func (s *Session) StartSharing() error {
	s.mu.Lock()
	switch {
	case s.role != domain.RoleSharer:
		s.mu.Unlock()
		return fmt.Errorf("%w: start sharing requires sharer role", domain.ErrInvalidIntent)
	case s.phase != domain.PhaseConnected:
		s.mu.Unlock()
		return fmt.Errorf("%w: start sharing while %s", domain.ErrInvalidIntent, s.phase)
	case s.captureActive || s.acquiring:
		s.mu.Unlock()
		return fmt.Errorf("%w: capture already active", domain.ErrInvalidIntent)
	}

	s.acquiring = true
	epoch := s.epoch
	ctx := s.ctx
	s.mu.Unlock()

	go func() {
		stream, err := s.deps.Capture.Acquire(ctx)
		s.apply(epoch, func() {
			s.acquiring = false
			if err != nil {
				s.lastErr = err.Error()
				s.log.Warn().Err(err).Msg("capture acquire failed")
				return
			}
			if s.phase != domain.PhaseConnected {
				// Channel went away while the prompt was up.
				stream.Stop()
				return
			}
			s.attachStreamLocked(stream, epoch)
		})
	}()
	return nil
}

// attachStreamLocked binds an acquired stream and places the call. A
// failed placement rolls the capture back so no state is left half
// applied.
func (s *Session) attachStreamLocked(stream domain.MediaStream, epoch uint64) {
	s.stream = stream
	s.captureActive = true
	s.lastErr = ""
	stream.OnEnded(func() {
		s.apply(epoch, s.stopSharingLocked)
	})

	s.placeCallLocked()
}

func (s *Session) placeCallLocked() {
	if s.call != nil {
		s.call.Close()
		s.call = nil
	}
	if s.channelRemote == "" {
		// Channel open still in flight; the call is placed from
		// OnChannelOpened once the remote is known.
		return
	}

	call, err := s.deps.Calls.Place(s.link, s.channelRemote, s.stream)
	if err != nil {
		s.lastErr = err.Error()
		s.stream.Stop()
		s.stream = nil
		s.captureActive = false
		s.log.Warn().Err(err).Msg("place call failed")
		return
	}
	s.call = call
	s.log.Info().Str("remote", s.channelRemote).Msg("sharing started")
}

// StopSharing releases the capture and closes the media call, returning
// to plain Connected.
func (s *Session) StopSharing() error {
	s.mu.Lock()
	if s.role != domain.RoleSharer || !s.captureActive {
		s.mu.Unlock()
		return fmt.Errorf("%w: stop sharing with no active capture", domain.ErrInvalidIntent)
	}
	s.stopSharingLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap)
	return nil
}

// stopSharingLocked is the shared teardown path for the explicit stop
// intent and the capture's end-of-stream observer.
func (s *Session) stopSharingLocked() {
	if !s.captureActive {
		return
	}
	if s.call != nil {
		s.call.Close()
		s.call = nil
	}
	if s.stream != nil {
		s.stream.Stop()
		s.stream = nil
	}
	s.captureActive = false
	if s.link != nil && s.channelRemote != "" {
		if err := s.link.SendHangup(s.channelRemote); err != nil {
			s.log.Debug().Err(err).Msg("send hangup")
		}
	}
	s.log.Info().Msg("sharing stopped")
}

// Disconnect destroys the session: all sub-resources are released and
// state resets to defaults. Calling it from idle is a no-op.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.role == domain.RoleNone {
		s.mu.Unlock()
		return nil
	}
	s.teardownLocked(true)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap)
	return nil
}

// Close releases all session resources. It is the unmount path of the
// hosting context and is equivalent to Disconnect.
func (s *Session) Close() error {
	return s.Disconnect()
}

// CopyIdentity returns the local identity for the presentation layer to
// place on the clipboard. The session owns no clipboard access.
func (s *Session) CopyIdentity() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.localID == "" {
		return "", fmt.Errorf("%w: no identity assigned yet", domain.ErrInvalidIntent)
	}
	return s.localID, nil
}

// teardownLocked releases capture, call and link, bumps the epoch so
// in-flight completions become no-ops, and resets state to defaults.
// When clearError is false the last error survives for presentation.
func (s *Session) teardownLocked(clearError bool) {
	s.epoch++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
		s.ctx = nil
	}
	if s.call != nil {
		s.call.Close()
		s.call = nil
	}
	if s.stream != nil {
		s.stream.Stop()
		s.stream = nil
	}
	if s.link != nil {
		s.link.Close()
		s.link = nil
	}
	s.role = domain.RoleNone
	s.localID = ""
	s.remoteID = ""
	s.phase = domain.PhaseDisconnected
	s.captureActive = false
	s.acquiring = false
	s.channelRemote = ""
	s.bound = nil
	if clearError {
		s.lastErr = ""
	}
	s.log.Info().Msg("session torn down")
}

// apply runs fn under the lock if the session is still in the epoch the
// triggering operation was started under, then emits a snapshot.
func (s *Session) apply(epoch uint64, fn func()) {
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	fn()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap)
}

// linkEvents adapts signaling link events into state transitions for the
// session instance and epoch that opened the link.
type linkEvents struct {
	s     *Session
	epoch uint64
}

func (e *linkEvents) OnLinkOpened(confirmedIdentity string) {
	e.s.apply(e.epoch, func() {
		s := e.s
		if s.localID != "" {
			return // identity is immutable once assigned
		}
		s.localID = confirmedIdentity
		s.lastErr = ""
		s.log.Info().Str("identity", confirmedIdentity).Msg("identity assigned")
	})
}

func (e *linkEvents) OnLinkError(err error) {
	e.s.apply(e.epoch, func() {
		s := e.s
		s.log.Warn().Err(err).Msg("fatal link error")
		s.teardownLocked(false)
		s.lastErr = err.Error()
	})
}

func (e *linkEvents) OnChannelOpened(remoteIdentity string) {
	e.s.apply(e.epoch, func() {
		s := e.s
		s.channelRemote = remoteIdentity
		s.phase = domain.PhaseConnected
		s.lastErr = ""
		s.log.Info().Str("remote", remoteIdentity).Msg("channel open")

		if s.role == domain.RoleSharer && s.captureActive && s.call == nil {
			// Capture finished before the channel did; place now.
			s.placeCallLocked()
		}
	})
}

func (e *linkEvents) OnChannelClosed() {
	e.s.apply(e.epoch, func() {
		s := e.s
		s.log.Info().Msg("channel closed")
		if s.call != nil {
			s.call.Close()
			s.call = nil
		}
		if s.stream != nil {
			s.stream.Stop()
			s.stream = nil
		}
		s.captureActive = false
		s.channelRemote = ""
		s.bound = nil
		s.phase = domain.PhaseDisconnected
	})
}

func (e *linkEvents) OnChannelError(err error) {
	// An error without a paired close leaves the channel up; only the
	// error surfaces.
	e.s.apply(e.epoch, func() {
		e.s.lastErr = err.Error()
		e.s.log.Warn().Err(err).Msg("channel error")
	})
}

func (e *linkEvents) OnOffer(from, sdp string) {
	e.s.apply(e.epoch, func() {
		s := e.s
		if s.role != domain.RoleViewer || from != s.channelRemote {
			s.log.Warn().Str("from", from).Msg("unexpected offer")
			return
		}

		// Each inbound offer gets a fresh receiving call; a replaced call
		// is closed before its successor exists.
		if s.call != nil {
			s.call.Close()
			s.call = nil
		}
		call, err := s.deps.Calls.Receive(s.link, from, &callEvents{s: s, epoch: e.epoch})
		if err != nil {
			s.lastErr = err.Error()
			s.log.Warn().Err(err).Msg("receive setup failed")
			return
		}
		s.call = call

		if err := call.HandleOffer(sdp); err != nil {
			s.lastErr = err.Error()
			s.log.Warn().Err(err).Msg("handle offer")
			call.Close()
			s.call = nil
		}
	})
}

func (e *linkEvents) OnAnswer(from, sdp string) {
	e.s.apply(e.epoch, func() {
		s := e.s
		if s.call == nil || from != s.channelRemote {
			s.log.Warn().Str("from", from).Msg("answer with no matching call")
			return
		}
		if err := s.call.HandleAnswer(sdp); err != nil {
			s.lastErr = err.Error()
			s.log.Warn().Err(err).Msg("handle answer")
		}
	})
}

func (e *linkEvents) OnRemoteCandidate(from string, candidate domain.ICECandidatePayload) {
	e.s.apply(e.epoch, func() {
		s := e.s
		if s.call == nil || from != s.channelRemote {
			return
		}
		if err := s.call.AddRemoteCandidate(candidate); err != nil {
			s.log.Warn().Err(err).Msg("add remote candidate")
		}
	})
}

func (e *linkEvents) OnHangup(from string) {
	e.s.apply(e.epoch, func() {
		s := e.s
		if from != s.channelRemote {
			return
		}
		// The sharer ended the stream; the channel stays connected.
		if s.call != nil {
			s.call.Close()
			s.call = nil
		}
		s.bound = nil
		s.log.Info().Str("from", from).Msg("remote ended the stream")
	})
}

// callEvents adapts media call events for a viewer session.
type callEvents struct {
	s     *Session
	epoch uint64
}

func (e *callEvents) OnStreamReceived(stream domain.RemoteStream) {
	e.s.apply(e.epoch, func() {
		// Replaces any previous binding in one step; at no point are two
		// streams bound.
		e.s.bound = stream
		e.s.log.Info().Str("id", stream.ID()).Str("codec", stream.Codec()).Msg("stream bound")
	})
}

func (e *callEvents) OnCallError(err error) {
	e.s.apply(e.epoch, func() {
		e.s.lastErr = err.Error()
		e.s.log.Warn().Err(err).Msg("call error")
	})
}
