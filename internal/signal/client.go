// Package signal implements the signaling link: a single
// identifier-addressed WebSocket channel to a remote peer, relayed by an
// external signaling server whose wire protocol is treated as a given.
package signal

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/screenlink/screenlink/internal/domain"
)

const (
	defaultPingInterval = 30 * time.Second
	writeControlWait    = 5 * time.Second
)

// Network dials signaling links against a fixed relay URL.
// It implements domain.SignalNetwork.
type Network struct {
	relayURL     string
	pingInterval time.Duration
	log          zerolog.Logger
}

// NewNetwork creates a Network for the given relay URL.
func NewNetwork(relayURL string, log zerolog.Logger) *Network {
	return &Network{
		relayURL:     relayURL,
		pingInterval: defaultPingInterval,
		log:          log.With().Str("module", "signal").Logger(),
	}
}

// Open dials the relay and registers selfID. Registration confirmation
// arrives asynchronously via events.OnLinkOpened.
func (n *Network) Open(selfID string, events domain.LinkEvents) (domain.SignalLink, error) {
	u, err := url.Parse(n.relayURL)
	if err != nil {
		return nil, &domain.SignalingError{Reason: fmt.Sprintf("parse relay url: %v", err)}
	}

	n.log.Info().Str("url", u.String()).Msg("connecting to relay")

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, &domain.SignalingError{Reason: fmt.Sprintf("dial relay: %v", err)}
	}

	c := &Client{
		conn:         conn,
		selfID:       selfID,
		events:       events,
		pingInterval: n.pingInterval,
		log:          n.log,
		closed:       make(chan struct{}),
	}

	if err := c.sendJSON(Message{Type: typeRegister, From: selfID}); err != nil {
		conn.Close()
		return nil, &domain.SignalingError{Reason: fmt.Sprintf("register: %v", err)}
	}

	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

// Client is one open signaling link. It implements domain.SignalLink.
type Client struct {
	conn         *websocket.Conn
	selfID       string
	events       domain.LinkEvents
	pingInterval time.Duration
	log          zerolog.Logger

	writeMu sync.Mutex

	mu     sync.Mutex
	remote string // identity of the peer on the open channel, if any

	closeOnce sync.Once
	closed    chan struct{}
}

// Connect opens a channel to targetIdentity. Completion is reported via
// OnChannelOpened when the remote accepts.
func (c *Client) Connect(targetIdentity string) error {
	if targetIdentity == "" {
		return &domain.SignalingError{Reason: "empty target identity"}
	}
	return c.sendJSON(Message{Type: typeConnect, From: c.selfID, To: targetIdentity})
}

// SendOffer carries an SDP offer to the remote peer.
func (c *Client) SendOffer(to, sdp string) error {
	return c.sendJSON(Message{Type: typeOffer, From: c.selfID, To: to, SDP: sdp})
}

// SendAnswer carries an SDP answer to the remote peer.
func (c *Client) SendAnswer(to, sdp string) error {
	return c.sendJSON(Message{Type: typeAnswer, From: c.selfID, To: to, SDP: sdp})
}

// SendCandidate carries a local ICE candidate to the remote peer.
func (c *Client) SendCandidate(to string, candidate domain.ICECandidatePayload) error {
	return c.sendJSON(Message{Type: typeICE, From: c.selfID, To: to, Candidate: &candidate})
}

// SendHangup tells the remote peer the media call ended; the channel
// stays open.
func (c *Client) SendHangup(to string) error {
	return c.sendJSON(Message{Type: typeHangup, From: c.selfID, To: to})
}

// Close tears down the channel and presence registration. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)

		c.mu.Lock()
		remote := c.remote
		c.remote = ""
		c.mu.Unlock()

		if remote != "" {
			// Best effort; the socket is going away either way.
			_ = c.sendJSON(Message{Type: typeBye, From: c.selfID, To: remote})
		}
		c.conn.Close()
		c.log.Info().Msg("link closed")
	})
}

func (c *Client) sendJSON(msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}
	return nil
}

func (c *Client) readLoop() {
	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.closed:
			default:
				c.log.Warn().Err(err).Msg("read error")
				c.events.OnLinkError(&domain.SignalingError{Reason: err.Error()})
			}
			return
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg Message) {
	switch msg.Type {
	case typeRegistered:
		c.log.Info().Str("identity", msg.To).Msg("registered")
		c.events.OnLinkOpened(msg.To)

	case typeConnect:
		c.mu.Lock()
		busy := c.remote != ""
		if !busy {
			c.remote = msg.From
		}
		c.mu.Unlock()

		if busy {
			// One channel at a time; a second inbound request is refused.
			_ = c.sendJSON(Message{Type: typeError, From: c.selfID, To: msg.From, Error: "busy"})
			c.log.Warn().Str("from", msg.From).Msg("refused inbound channel, one already open")
			return
		}
		if err := c.sendJSON(Message{Type: typeAccept, From: c.selfID, To: msg.From}); err != nil {
			c.log.Warn().Err(err).Msg("accept failed")
			return
		}
		c.log.Info().Str("remote", msg.From).Msg("inbound channel opened")
		c.events.OnChannelOpened(msg.From)

	case typeAccept:
		c.mu.Lock()
		c.remote = msg.From
		c.mu.Unlock()
		c.log.Info().Str("remote", msg.From).Msg("channel opened")
		c.events.OnChannelOpened(msg.From)

	case typeBye:
		c.mu.Lock()
		c.remote = ""
		c.mu.Unlock()
		c.log.Info().Str("from", msg.From).Msg("channel closed by remote")
		c.events.OnChannelClosed()

	case typeHangup:
		c.events.OnHangup(msg.From)

	case typeOffer:
		c.events.OnOffer(msg.From, msg.SDP)

	case typeAnswer:
		c.events.OnAnswer(msg.From, msg.SDP)

	case typeICE:
		if msg.Candidate == nil {
			c.log.Warn().Str("from", msg.From).Msg("ice message without candidate")
			return
		}
		c.events.OnRemoteCandidate(msg.From, *msg.Candidate)

	case typeError:
		// An error on an open channel does not by itself close it; the
		// transport emits bye or a read failure separately when it does.
		c.log.Warn().Str("from", msg.From).Str("reason", msg.Error).Msg("channel error")
		c.events.OnChannelError(&domain.SignalingError{Reason: msg.Error})

	default:
		c.log.Warn().Str("type", msg.Type).Msg("unhandled message type")
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(
				websocket.PingMessage,
				[]byte{},
				time.Now().Add(writeControlWait),
			)
			c.writeMu.Unlock()
			if err != nil {
				select {
				case <-c.closed:
				default:
					c.log.Warn().Err(err).Msg("ping error")
				}
				return
			}
		}
	}
}
