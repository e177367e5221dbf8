// Package capture acquires and releases the local display-capture stream
// via pion/mediadevices and its screen driver.
package capture

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/screen" // registers the screen capture driver
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/rs/zerolog"

	"github.com/screenlink/screenlink/internal/domain"
)

// DefaultBitrate is the VP8 target bitrate for screen content.
const DefaultBitrate = 1_500_000

// Source implements domain.CaptureSource on top of mediadevices.
type Source struct {
	selector *mediadevices.CodecSelector
	log      zerolog.Logger
}

// NewSource builds a Source with a VP8 encoder at the given bitrate.
// The returned Source's codec selector must also be registered with the
// WebRTC media engine that will carry its tracks (see call.NewFactory).
func NewSource(bitrate int, log zerolog.Logger) (*Source, error) {
	params, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	params.BitRate = bitrate

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&params),
	)

	return &Source{
		selector: selector,
		log:      log.With().Str("module", "capture").Logger(),
	}, nil
}

// CodecSelector exposes the selector so the media engine can be populated
// with the same codecs the captured tracks are encoded with.
func (s *Source) CodecSelector() *mediadevices.CodecSelector {
	return s.selector
}

// Acquire requests the display-capture stream. It blocks until the
// platform grants or declines access, so callers run it off the event
// path and re-validate session state on completion.
func (s *Source) Acquire(ctx context.Context) (domain.MediaStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ms, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Codec: s.selector,
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.FrameRate = prop.FloatRanged{Ideal: 30}
		},
	})
	if err != nil {
		return nil, mapAcquireError(err)
	}

	stream := newStream(ms, s.log)

	// The permission prompt may have outlived the session that asked.
	if err := ctx.Err(); err != nil {
		stream.Stop()
		return nil, err
	}

	s.log.Info().Int("tracks", len(ms.GetTracks())).Msg("display capture acquired")
	return stream, nil
}

func mapAcquireError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"), strings.Contains(msg, "denied"):
		return fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
	case strings.Contains(msg, "failed to find"), strings.Contains(msg, "no driver"):
		return fmt.Errorf("%w: %v", domain.ErrNoSourceAvailable, err)
	default:
		return fmt.Errorf("acquire display media: %w", err)
	}
}

// Stream wraps a mediadevices stream as a domain.MediaStream.
type Stream struct {
	ms  mediadevices.MediaStream
	log zerolog.Logger

	mu      sync.Mutex
	onEnded func()
	stopped bool
	endedFn sync.Once
}

func newStream(ms mediadevices.MediaStream, log zerolog.Logger) *Stream {
	s := &Stream{ms: ms, log: log}

	for _, track := range ms.GetVideoTracks() {
		track.OnEnded(func(err error) {
			if err != nil {
				s.log.Debug().Err(err).Msg("capture track ended")
			}
			s.fireEnded()
		})
	}

	return s
}

// Tracks returns the underlying mediadevices tracks for the media call.
func (s *Stream) Tracks() []mediadevices.Track {
	return s.ms.GetTracks()
}

// OnEnded registers the end-of-stream observer. External stops (the
// platform's own "stop sharing" control) route through the same observer.
func (s *Stream) OnEnded(fn func()) {
	s.mu.Lock()
	s.onEnded = fn
	s.mu.Unlock()
}

func (s *Stream) fireEnded() {
	s.endedFn.Do(func() {
		s.mu.Lock()
		fn := s.onEnded
		s.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
}

// Stop stops all tracks. Safe to call on an already-stopped stream.
func (s *Stream) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	for _, track := range s.ms.GetTracks() {
		if err := track.Close(); err != nil {
			s.log.Debug().Err(err).Msg("track close")
		}
	}
	s.log.Info().Msg("display capture released")
}
