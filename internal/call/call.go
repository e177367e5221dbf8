// Package call implements the media call layered on an open signaling
// link: one-directional delivery of the captured stream from sharer to
// viewer over a Pion peer connection.
package call

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/rs/zerolog"

	"github.com/screenlink/screenlink/internal/domain"
)

// trackSource is the concrete capability Place needs from a capture
// stream: access to the underlying sendable tracks.
type trackSource interface {
	Tracks() []mediadevices.Track
}

// Factory builds media calls. It implements domain.CallFactory.
type Factory struct {
	iceServers []webrtc.ICEServer
	selector   *mediadevices.CodecSelector
	videoOut   io.Writer
	log        zerolog.Logger
}

// NewFactory creates a Factory. selector must be the codec selector the
// capture source encodes with; it may be nil for a viewer-only process.
// videoOut, if non-nil, receives the viewer's inbound VP8 stream as IVF.
func NewFactory(iceServers []webrtc.ICEServer, selector *mediadevices.CodecSelector, videoOut io.Writer, log zerolog.Logger) *Factory {
	return &Factory{
		iceServers: iceServers,
		selector:   selector,
		videoOut:   videoOut,
		log:        log.With().Str("module", "call").Logger(),
	}
}

func (f *Factory) newPeerConnection() (*webrtc.PeerConnection, error) {
	m := &webrtc.MediaEngine{}
	if f.selector != nil {
		f.selector.Populate(m)
	} else if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
	)

	return api.NewPeerConnection(webrtc.Configuration{
		ICEServers: f.iceServers,
	})
}

// Place offers stream to the remote peer. The offer and all subsequent
// control traffic ride the signaling link.
func (f *Factory) Place(link domain.SignalLink, remoteIdentity string, stream domain.MediaStream) (domain.MediaCall, error) {
	src, ok := stream.(trackSource)
	if !ok {
		return nil, &domain.CallError{Op: "place", Err: errors.New("stream exposes no tracks")}
	}

	pc, err := f.newPeerConnection()
	if err != nil {
		return nil, &domain.CallError{Op: "place", Err: err}
	}

	c := newCall(pc, link, remoteIdentity, f.log)

	for _, track := range src.Tracks() {
		if _, err := pc.AddTrack(track); err != nil {
			c.Close()
			return nil, &domain.CallError{Op: "place", Err: fmt.Errorf("add track: %w", err)}
		}
	}

	c.forwardLocalCandidates()

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		c.Close()
		return nil, &domain.CallError{Op: "place", Err: err}
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		c.Close()
		return nil, &domain.CallError{Op: "place", Err: err}
	}
	if err := link.SendOffer(remoteIdentity, offer.SDP); err != nil {
		c.Close()
		return nil, &domain.CallError{Op: "place", Err: err}
	}

	f.log.Info().Str("remote", remoteIdentity).Msg("call placed")
	return c, nil
}

// Receive prepares to answer an inbound call without offering a local
// stream. The delivered track surfaces through events.OnStreamReceived.
func (f *Factory) Receive(link domain.SignalLink, remoteIdentity string, events domain.CallEvents) (domain.MediaCall, error) {
	pc, err := f.newPeerConnection()
	if err != nil {
		return nil, &domain.CallError{Op: "receive", Err: err}
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		pc.Close()
		return nil, &domain.CallError{Op: "receive", Err: fmt.Errorf("add transceiver: %w", err)}
	}

	c := newCall(pc, link, remoteIdentity, f.log)
	c.events = events
	c.videoOut = f.videoOut

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		codec := track.Codec()
		f.log.Info().
			Str("kind", track.Kind().String()).
			Str("codec", codec.MimeType).
			Msg("inbound track")

		events.OnStreamReceived(&remoteStream{
			id:    track.ID(),
			codec: codec.MimeType,
		})

		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go c.drainVideo(track)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		f.log.Info().Str("state", state.String()).Msg("peer connection state")
		if state == webrtc.PeerConnectionStateFailed {
			events.OnCallError(&domain.CallError{Op: "receive", Err: errors.New("peer connection failed")})
		}
	})

	c.forwardLocalCandidates()

	f.log.Info().Str("remote", remoteIdentity).Msg("awaiting inbound call")
	return c, nil
}

// Call is one active media call. It implements domain.MediaCall.
type Call struct {
	pc     *webrtc.PeerConnection
	link   domain.SignalLink
	remote string
	log    zerolog.Logger

	events   domain.CallEvents
	videoOut io.Writer

	remoteDescSet chan struct{}
	descOnce      sync.Once

	closeOnce sync.Once
	closed    chan struct{}
}

func newCall(pc *webrtc.PeerConnection, link domain.SignalLink, remote string, log zerolog.Logger) *Call {
	return &Call{
		pc:            pc,
		link:          link,
		remote:        remote,
		log:           log,
		remoteDescSet: make(chan struct{}),
		closed:        make(chan struct{}),
	}
}

func (c *Call) forwardLocalCandidates() {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return // gathering complete
		}
		j := cand.ToJSON()
		payload := domain.ICECandidatePayload{Candidate: j.Candidate}
		if j.SDPMid != nil {
			payload.SDPMid = *j.SDPMid
		}
		if j.SDPMLineIndex != nil {
			payload.SDPMLineIndex = int(*j.SDPMLineIndex)
		}
		if err := c.link.SendCandidate(c.remote, payload); err != nil {
			c.log.Debug().Err(err).Msg("send candidate")
		}
	})
}

// HandleOffer sets the remote offer, creates an answer and sends it back
// over the link. Valid only on a receiving call.
func (c *Call) HandleOffer(sdp string) error {
	if c.events == nil {
		return &domain.CallError{Op: "offer", Err: errors.New("unexpected offer on outbound call")}
	}

	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	}); err != nil {
		return &domain.CallError{Op: "offer", Err: err}
	}
	c.descOnce.Do(func() { close(c.remoteDescSet) })

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return &domain.CallError{Op: "answer", Err: err}
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return &domain.CallError{Op: "answer", Err: err}
	}
	if err := c.link.SendAnswer(c.remote, answer.SDP); err != nil {
		return &domain.CallError{Op: "answer", Err: err}
	}

	c.log.Info().Str("remote", c.remote).Msg("answered inbound call")
	return nil
}

// HandleAnswer sets the remote answer. Valid only on an outbound call.
func (c *Call) HandleAnswer(sdp string) error {
	if c.events != nil {
		return &domain.CallError{Op: "answer", Err: errors.New("unexpected answer on receiving call")}
	}

	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	}); err != nil {
		return &domain.CallError{Op: "answer", Err: err}
	}
	c.descOnce.Do(func() { close(c.remoteDescSet) })

	c.log.Info().Str("remote", c.remote).Msg("remote answer set")
	return nil
}

// AddRemoteCandidate queues a remote ICE candidate. Candidates arriving
// before the remote description are held until it is set.
func (c *Call) AddRemoteCandidate(candidate domain.ICECandidatePayload) error {
	go func() {
		select {
		case <-c.closed:
			return
		case <-c.remoteDescSet:
		}

		mid := candidate.SDPMid
		mlineIndex := uint16(candidate.SDPMLineIndex)
		init := webrtc.ICECandidateInit{
			Candidate:     candidate.Candidate,
			SDPMid:        &mid,
			SDPMLineIndex: &mlineIndex,
		}
		if err := c.pc.AddICECandidate(init); err != nil {
			c.log.Debug().Err(err).Msg("add ice candidate")
		}
	}()
	return nil
}

func (c *Call) drainVideo(track *webrtc.TrackRemote) {
	var sink *ivfwriter.IVFWriter
	if c.videoOut != nil {
		w, err := ivfwriter.NewWith(c.videoOut)
		if err != nil {
			c.log.Warn().Err(err).Msg("ivf sink unavailable")
		} else {
			sink = w
			defer sink.Close()
		}
	}

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.log.Debug().Err(err).Msg("video track read")
			}
			return
		}
		if sink != nil {
			if err := sink.WriteRTP(pkt); err != nil {
				c.log.Debug().Err(err).Msg("ivf write")
				sink = nil
			}
		}
	}
}

// Close ends the call. Safe to call more than once.
func (c *Call) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if err := c.pc.Close(); err != nil {
			c.log.Debug().Err(err).Msg("peer connection close")
		}
		c.log.Info().Str("remote", c.remote).Msg("call closed")
	})
}

type remoteStream struct {
	id    string
	codec string
}

func (r *remoteStream) ID() string    { return r.id }
func (r *remoteStream) Codec() string { return r.codec }
