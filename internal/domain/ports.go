package domain

import "context"

// IdentityProvider produces a locally-unique session identifier.
type IdentityProvider interface {
	NewIdentity() string
}

// CaptureSource acquires the local display-capture stream. Acquire blocks
// on the platform permission prompt, so the session invokes it off the
// event path and re-validates state when it completes.
type CaptureSource interface {
	Acquire(ctx context.Context) (MediaStream, error)
}

// MediaStream is a live capture handle.
type MediaStream interface {
	// OnEnded registers the end-of-stream observer, fired when capture is
	// stopped externally (e.g. the platform-native "stop sharing" control).
	OnEnded(fn func())
	// Stop stops all tracks. Idempotent.
	Stop()
}

// SignalNetwork establishes presence in the signaling namespace.
type SignalNetwork interface {
	// Open registers selfID with the signaling relay. It returns as soon as
	// the transport is dialed; confirmation arrives via events.OnLinkOpened.
	Open(selfID string, events LinkEvents) (SignalLink, error)
}

// SignalLink is a single identifier-addressed channel to a remote peer.
// At most one link is open per session.
type SignalLink interface {
	// Connect opens a channel to targetIdentity (viewer role).
	Connect(targetIdentity string) error
	// SendOffer, SendAnswer and SendCandidate carry media control traffic
	// over the channel to the remote peer.
	SendOffer(to, sdp string) error
	SendAnswer(to, sdp string) error
	SendCandidate(to string, candidate ICECandidatePayload) error
	// SendHangup tells the remote peer the media call ended while the
	// channel itself stays open.
	SendHangup(to string) error
	// Close tears down the channel and presence registration. Idempotent.
	Close()
}

// LinkEvents receives signaling link events. The session implements it and
// is the single subscriber per link instance. The transport can emit an
// error without a matching close and vice versa; both must be handled.
type LinkEvents interface {
	OnLinkOpened(confirmedIdentity string)
	OnLinkError(err error)
	OnChannelOpened(remoteIdentity string)
	OnChannelClosed()
	OnChannelError(err error)
	OnOffer(from, sdp string)
	OnAnswer(from, sdp string)
	OnRemoteCandidate(from string, candidate ICECandidatePayload)
	OnHangup(from string)
}

// CallFactory creates media calls layered on an open signaling link.
type CallFactory interface {
	// Place offers stream to the remote peer (sharer role).
	Place(link SignalLink, remoteIdentity string, stream MediaStream) (MediaCall, error)
	// Receive prepares to answer an inbound call without offering a local
	// stream (viewer role, one-directional sharer to viewer).
	Receive(link SignalLink, remoteIdentity string, events CallEvents) (MediaCall, error)
}

// MediaCall carries the captured stream one direction, sharer to viewer.
type MediaCall interface {
	HandleOffer(sdp string) error
	HandleAnswer(sdp string) error
	AddRemoteCandidate(candidate ICECandidatePayload) error
	// Close ends the call. Idempotent.
	Close()
}

// CallEvents receives media call events (viewer role).
type CallEvents interface {
	// OnStreamReceived fires when the delivered stream arrives. A second
	// delivery replaces the previous binding atomically.
	OnStreamReceived(stream RemoteStream)
	OnCallError(err error)
}

// RemoteStream is the inbound stream handle bound to the presentation
// surface. Exactly one is bound per call.
type RemoteStream interface {
	ID() string
	Codec() string
}
