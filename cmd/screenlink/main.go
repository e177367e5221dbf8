package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pion/mediadevices"
	"github.com/rs/zerolog"

	"github.com/screenlink/screenlink/internal/call"
	"github.com/screenlink/screenlink/internal/capture"
	"github.com/screenlink/screenlink/internal/config"
	"github.com/screenlink/screenlink/internal/domain"
	"github.com/screenlink/screenlink/internal/identity"
	"github.com/screenlink/screenlink/internal/session"
	"github.com/screenlink/screenlink/internal/signal"
)

const helpText = `screenlink - peer-to-peer screen sharing

Usage:
  screenlink -share             share this display
  screenlink -view <identity>   view a shared display

The sharer's identity is printed once the signaling link opens; exchange
it out-of-band (copy/paste) with the viewer.

Environment Variables:
  SCREENLINK_SIGNAL_URL  signaling relay URL
  SCREENLINK_STUN        comma-separated STUN URLs
  SCREENLINK_TURN        TURN server URL (optional)
  SCREENLINK_TURN_USER   TURN username
  SCREENLINK_TURN_PASS   TURN password
  SCREENLINK_OUT         viewer: write received stream to this IVF file
  SCREENLINK_LOG_LEVEL   debug|info|warn|error

Interactive commands:
  start            start sharing (sharer, once connected)
  stop             stop sharing
  connect <id>     connect to a sharer (viewer)
  copy             print the local identity again
  status           print the current session state
  quit             disconnect and exit
`

func main() {
	var (
		shareMode  bool
		viewTarget string
		showHelp   bool
	)
	flag.BoolVar(&shareMode, "share", false, "share this display")
	flag.StringVar(&viewTarget, "view", "", "view the display shared under this identity")
	flag.BoolVar(&showHelp, "h", false, "show help")
	flag.Parse()

	if showHelp || (!shareMode && viewTarget == "") {
		fmt.Print(helpText)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	var (
		src      *capture.Source
		selector *mediadevices.CodecSelector
		videoOut io.WriteCloser
	)
	if shareMode {
		src, err = capture.NewSource(capture.DefaultBitrate, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("capture source")
		}
		selector = src.CodecSelector()
	} else if cfg.OutPath != "" {
		videoOut, err = os.Create(cfg.OutPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("open output file")
		}
		defer videoOut.Close()
	}

	deps := session.Deps{
		Identity: identity.NewGenerator(),
		Network:  signal.NewNetwork(cfg.RelayURL, logger),
		Calls:    call.NewFactory(cfg.ICEServers(), selector, videoOut, logger),
		Logger:   logger,
	}
	if src != nil {
		deps.Capture = src
	}

	sess := session.New(deps, func(snap domain.Snapshot) {
		ev := logger.Info().
			Str("role", snap.Role.String()).
			Str("phase", snap.Phase.String()).
			Bool("sharing", snap.CaptureActive).
			Bool("stream", snap.StreamBound)
		if snap.LastError != "" {
			ev = ev.Str("error", snap.LastError)
		}
		if snap.LocalIdentity != "" {
			ev = ev.Str("identity", snap.LocalIdentity)
		}
		ev.Msg("session")
	})
	defer sess.Close()

	if shareMode {
		if err := sess.SelectMode(domain.RoleSharer); err != nil {
			logger.Fatal().Err(err).Msg("select sharer mode")
		}
	} else {
		if err := sess.SelectMode(domain.RoleViewer); err != nil {
			logger.Fatal().Err(err).Msg("select viewer mode")
		}
		if err := sess.SetRemoteIdentity(viewTarget); err != nil {
			logger.Fatal().Err(err).Msg("set remote identity")
		}
		go connectWhenReady(sess, logger)
	}

	go runIntentLoop(sess, logger, cancel)

	<-ctx.Done()
}

// connectWhenReady waits for the local identity to be assigned, then
// issues the connect intent.
func connectWhenReady(sess *session.Session, logger zerolog.Logger) {
	for {
		if _, err := sess.CopyIdentity(); err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err := sess.Connect(); err != nil {
		logger.Error().Err(err).Msg("connect")
	}
}

// runIntentLoop forwards stdin commands into the session as intents.
// This is the whole presentation collaborator: it renders snapshots and
// forwards intents, nothing more.
func runIntentLoop(sess *session.Session, logger zerolog.Logger, quit context.CancelFunc) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		var err error
		switch fields[0] {
		case "start":
			err = sess.StartSharing()
		case "stop":
			err = sess.StopSharing()
		case "connect":
			if len(fields) < 2 {
				logger.Error().Msg("usage: connect <identity>")
				continue
			}
			if err = sess.SetRemoteIdentity(fields[1]); err == nil {
				err = sess.Connect()
			}
		case "copy":
			var id string
			if id, err = sess.CopyIdentity(); err == nil {
				fmt.Println(id)
			}
		case "status":
			snap := sess.Snapshot()
			fmt.Printf("role=%s phase=%s sharing=%v stream=%v identity=%s\n",
				snap.Role, snap.Phase, snap.CaptureActive, snap.StreamBound, snap.LocalIdentity)
		case "quit", "exit":
			quit()
			return
		default:
			logger.Error().Str("command", fields[0]).Msg("unknown command")
			continue
		}
		if err != nil {
			logger.Error().Err(err).Str("command", fields[0]).Msg("intent rejected")
		}
	}
}
