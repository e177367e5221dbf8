package session

import (
	"context"
	"sync"

	"github.com/screenlink/screenlink/internal/domain"
)

// The fakes below implement the domain ports; tests drive component
// events by calling the recorded event sinks directly.

type fakeIdentity struct {
	next string
}

func (f *fakeIdentity) NewIdentity() string {
	if f.next != "" {
		return f.next
	}
	return "local-id"
}

type fakeStream struct {
	mu      sync.Mutex
	onEnded func()
	stops   int
}

func (f *fakeStream) OnEnded(fn func()) {
	f.mu.Lock()
	f.onEnded = fn
	f.mu.Unlock()
}

func (f *fakeStream) Stop() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

func (f *fakeStream) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

// endNow simulates the platform ending the capture externally.
func (f *fakeStream) endNow() {
	f.mu.Lock()
	fn := f.onEnded
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type fakeCapture struct {
	mu      sync.Mutex
	err     error
	streams []*fakeStream
	gate    chan struct{} // when non-nil, Acquire blocks until closed
}

func (f *fakeCapture) Acquire(ctx context.Context) (domain.MediaStream, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := &fakeStream{}
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeCapture) lastStream() *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.streams) == 0 {
		return nil
	}
	return f.streams[len(f.streams)-1]
}

type fakeLink struct {
	mu         sync.Mutex
	connects   []string
	hangups    []string
	closes     int
	connectErr error
}

func (f *fakeLink) Connect(target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connects = append(f.connects, target)
	return nil
}

func (f *fakeLink) SendOffer(to, sdp string) error  { return nil }
func (f *fakeLink) SendAnswer(to, sdp string) error { return nil }
func (f *fakeLink) SendCandidate(to string, c domain.ICECandidatePayload) error {
	return nil
}

func (f *fakeLink) SendHangup(to string) error {
	f.mu.Lock()
	f.hangups = append(f.hangups, to)
	f.mu.Unlock()
	return nil
}

func (f *fakeLink) Close() {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
}

func (f *fakeLink) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *fakeLink) connectTargets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.connects...)
}

func (f *fakeLink) hangupTargets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.hangups...)
}

type fakeNetwork struct {
	mu      sync.Mutex
	openErr error
	links   []*fakeLink
	events  []domain.LinkEvents
}

func (f *fakeNetwork) Open(selfID string, events domain.LinkEvents) (domain.SignalLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	l := &fakeLink{}
	f.links = append(f.links, l)
	f.events = append(f.events, events)
	return l, nil
}

func (f *fakeNetwork) lastLink() *fakeLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.links) == 0 {
		return nil
	}
	return f.links[len(f.links)-1]
}

func (f *fakeNetwork) lastEvents() domain.LinkEvents {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		return nil
	}
	return f.events[len(f.events)-1]
}

func (f *fakeNetwork) linkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.links)
}

type fakeCall struct {
	mu         sync.Mutex
	remote     string
	offers     []string
	answers    []string
	candidates int
	closes     int
}

func (f *fakeCall) HandleOffer(sdp string) error {
	f.mu.Lock()
	f.offers = append(f.offers, sdp)
	f.mu.Unlock()
	return nil
}

func (f *fakeCall) HandleAnswer(sdp string) error {
	f.mu.Lock()
	f.answers = append(f.answers, sdp)
	f.mu.Unlock()
	return nil
}

func (f *fakeCall) AddRemoteCandidate(c domain.ICECandidatePayload) error {
	f.mu.Lock()
	f.candidates++
	f.mu.Unlock()
	return nil
}

func (f *fakeCall) Close() {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
}

func (f *fakeCall) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type fakeCalls struct {
	mu         sync.Mutex
	placeErr   error
	receiveErr error
	placed     []*fakeCall
	received   []*fakeCall
	callEvents []domain.CallEvents
}

func (f *fakeCalls) Place(link domain.SignalLink, remote string, stream domain.MediaStream) (domain.MediaCall, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	c := &fakeCall{remote: remote}
	f.placed = append(f.placed, c)
	return c, nil
}

func (f *fakeCalls) Receive(link domain.SignalLink, remote string, events domain.CallEvents) (domain.MediaCall, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receiveErr != nil {
		return nil, f.receiveErr
	}
	c := &fakeCall{remote: remote}
	f.received = append(f.received, c)
	f.callEvents = append(f.callEvents, events)
	return c, nil
}

func (f *fakeCalls) lastPlaced() *fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.placed) == 0 {
		return nil
	}
	return f.placed[len(f.placed)-1]
}

func (f *fakeCalls) lastReceived() *fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.received) == 0 {
		return nil
	}
	return f.received[len(f.received)-1]
}

func (f *fakeCalls) lastCallEvents() domain.CallEvents {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.callEvents) == 0 {
		return nil
	}
	return f.callEvents[len(f.callEvents)-1]
}

type fakeRemoteStream struct {
	id string
}

func (f *fakeRemoteStream) ID() string    { return f.id }
func (f *fakeRemoteStream) Codec() string { return "video/VP8" }
