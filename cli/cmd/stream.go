package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tagstream/bridge"
	"github.com/pithecene-io/tagstream/broadcast"
	"github.com/pithecene-io/tagstream/capture"
	"github.com/pithecene-io/tagstream/cli/config"
	"github.com/pithecene-io/tagstream/detect"
	"github.com/pithecene-io/tagstream/iox"
	"github.com/pithecene-io/tagstream/ringbuf"
	"github.com/pithecene-io/tagstream/source"
	"github.com/pithecene-io/tagstream/transform"
	"github.com/pithecene-io/tagstream/transport"
	"github.com/pithecene-io/tagstream/types"
)

// relaySourceType re-publishes another node's stream as a source.
const relaySourceType = "relay"

// StreamCommand returns the capture node command.
func StreamCommand() *cli.Command {
	flags := []cli.Flag{
		// Source flags
		&cli.StringFlag{
			Name:  "src-type",
			Usage: "Frame source: v4l2, picamera, rtsp, pattern, imagefile, relay",
			Value: "v4l2",
		},
		&cli.StringFlag{
			Name:  "src-index",
			Usage: "Device index, stream URL, image path, or relay address",
			Value: "0",
		},
		&cli.IntFlag{Name: "width", Usage: "Requested capture width"},
		&cli.IntFlag{Name: "height", Usage: "Requested capture height"},
		&cli.IntFlag{Name: "fps", Usage: "Requested capture rate"},
		// Destination flags
		&cli.StringFlag{
			Name:  "dst",
			Usage: "Publish address (tcp://host:port or redis://host:port); overrides --dst-ip/--dst-port",
		},
		&cli.StringFlag{
			Name:  "dst-ip",
			Usage: "Address the publisher binds",
			Value: "127.0.0.1",
		},
		&cli.IntFlag{
			Name:  "dst-port",
			Usage: "Port the publisher binds",
			Value: 5555,
		},
		&cli.StringFlag{Name: "transport", Usage: "Transport: tcp or redis (default: from address)"},
		&cli.StringFlag{Name: "channel", Usage: "Redis channel for frames"},
		&cli.StringFlag{
			Name:  "wire-encoding",
			Usage: "Frame encoding on the wire: raw or jpeg",
			Value: string(transport.EncodingRaw),
		},
		&cli.IntFlag{Name: "jpeg-quality", Usage: "JPEG quality for --wire-encoding jpeg"},
		// Pipeline flags
		&cli.StringFlag{
			Name:  "transform",
			Usage: `Transform list as JSON, e.g. [{"transformation":"Resize","width":320}]`,
		},
		&cli.StringFlag{
			Name:  "tagging",
			Usage: "Comma-separated detectors, e.g. plate,face,qrcode",
		},
		&cli.StringFlag{Name: "models-dir", Usage: "Directory holding detector model files"},
		&cli.DurationFlag{Name: "detector-timeout", Usage: "Per-detector time limit per frame"},
		// Loop flags
		&cli.DurationFlag{
			Name:  "interval",
			Usage: "Minimum time between frames",
			Value: 500 * time.Millisecond,
		},
		&cli.DurationFlag{
			Name:  "warmup",
			Usage: "Pause after the source starts",
			Value: capture.DefaultWarmup,
		},
		&cli.DurationFlag{Name: "retry-delay", Usage: "Delay before the first source reconnect"},
		&cli.IntFlag{Name: "max-retries", Usage: "Source reconnect attempts per outage (0 retries forever)"},
		&cli.StringFlag{
			Name:  "stats-addr",
			Usage: "Serve /stats and /healthz on this address (e.g. :4001); with --debug also an annotated preview",
		},
	}
	flags = append(flags, nodeFlags()...)
	flags = append(flags, journalFlags()...)
	flags = append(flags, notifyFlags()...)

	return &cli.Command{
		Name:   "stream",
		Usage:  "Capture, tag and publish frames",
		Flags:  flags,
		Action: streamAction,
	}
}

// streamChoice holds the resolved stream settings.
type streamChoice struct {
	sourceType  string
	sourceIndex string
	width       int
	height      int
	fps         int

	destination string
	transport   string
	channel     string
	encoding    string
	quality     int

	transform       string
	tagging         []string
	modelsDir       string
	detectorTimeout time.Duration

	interval   time.Duration
	warmup     time.Duration
	retryDelay time.Duration
	maxRetries int
}

func resolveStream(c *cli.Context, cfg *config.Config) streamChoice {
	sc := configVal(cfg, func(cfg *config.Config) config.StreamConfig { return cfg.Stream })
	choice := streamChoice{
		sourceType:      resolveString(c, "src-type", sc.SourceType),
		sourceIndex:     resolveString(c, "src-index", sc.SourceIndex),
		width:           resolveInt(c, "width", sc.Width),
		height:          resolveInt(c, "height", sc.Height),
		fps:             resolveInt(c, "fps", sc.FPS),
		destination:     resolveDestination(c, sc.Destination),
		transport:       resolveString(c, "transport", sc.Transport),
		channel:         resolveString(c, "channel", sc.Channel),
		encoding:        resolveString(c, "wire-encoding", sc.WireEncoding),
		quality:         resolveInt(c, "jpeg-quality", sc.JPEGQuality),
		transform:       resolveString(c, "transform", sc.Transform),
		modelsDir:       resolveString(c, "models-dir", sc.ModelsDir),
		detectorTimeout: resolveDuration(c, "detector-timeout", sc.DetectorTimeout.Duration),
		interval:        resolveDuration(c, "interval", sc.Interval.Duration),
		warmup:          resolveDuration(c, "warmup", sc.Warmup.Duration),
		retryDelay:      resolveDuration(c, "retry-delay", sc.RetryDelay.Duration),
		maxRetries:      c.Int("max-retries"),
	}
	if c.IsSet("tagging") || len(sc.Tagging) == 0 {
		choice.tagging = splitList(c.String("tagging"))
	} else {
		choice.tagging = sc.Tagging
	}
	if !c.IsSet("max-retries") && sc.MaxRetries != nil {
		choice.maxRetries = *sc.MaxRetries
	}
	return choice
}

// resolveDestination picks the publish address: --dst, then explicit
// --dst-ip/--dst-port, then the config file, then the flag defaults.
func resolveDestination(c *cli.Context, cfgDest string) string {
	if dst := c.String("dst"); dst != "" {
		return dst
	}
	if c.IsSet("dst-ip") || c.IsSet("dst-port") || cfgDest == "" {
		return hostPort(c.String("dst-ip"), c.Int("dst-port"))
	}
	return cfgDest
}

func hostPort(host string, port int) string {
	return "tcp://" + host + ":" + strconv.Itoa(port)
}

// splitList splits a comma-separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func streamAction(c *cli.Context) error {
	n, err := newNode(c, "stream")
	if err != nil {
		return err
	}
	defer func() { _ = n.logger.Sync() }()

	choice := resolveStream(c, n.cfg)
	kind, err := kindFor(choice.transport, choice.destination)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	n.startMetrics(kind)

	pipeline, err := transform.Parse([]byte(choice.transform))
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid --transform: %v", err), exitUsage)
	}
	codec, err := transport.NewCodec(transport.Encoding(choice.encoding), choice.quality)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	entries, err := detect.Default.Build(choice.tagging, detect.Options{ModelsDir: choice.modelsDir})
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid --tagging: %v", err), exitUsage)
	}
	tagger := detect.NewTagger(entries, choice.detectorTimeout)

	ctx, cancel := signalContext()
	defer cancel()

	// Closed in reverse, so sinks drain before the publisher goes away.
	closers := []io.Closer{tagger}
	defer func() {
		if err := iox.CloseAll(closers...); err != nil {
			n.logger.Warn("shutdown incomplete", map[string]any{"error": err.Error()})
		}
	}()

	src, err := buildSource(choice, n)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	pub, err := newPublisher(kind, choice.destination, choice.channel, codec, n.logger.With("transport"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("publisher failed: %v", err), exitTransport)
	}
	closers = append(closers, pub)

	journalWriter, err := n.buildJournal(ctx, c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("journal failed: %v", err), exitUsage)
	}
	if journalWriter != nil {
		closers = append(closers, journalWriter)
	}
	dispatcher, err := n.buildNotifier(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("notifier failed: %v", err), exitUsage)
	}
	if dispatcher != nil {
		closers = append(closers, dispatcher)
	}

	sinks := collectSinks(journalWriter, dispatcher)
	statsAddr := c.String("stats-addr")
	var stats statsListener
	if statsAddr != "" {
		var preview capture.Sink
		stats, preview, err = buildStatsServer(n, c.Bool("debug"))
		if err != nil {
			return cli.Exit(err.Error(), exitUsage)
		}
		if preview != nil {
			sinks = append(sinks, preview)
		}
	}

	loop, err := capture.New(capture.Config{
		Source:     src,
		Transforms: pipeline,
		Tagger:     tagger,
		Publisher:  pub,
		Hostname:   n.meta.Hostname,
		Warmup:     choice.warmup,
		Interval:   choice.interval,
		Reconnect: capture.ReconnectPolicy{
			RetryDelay: choice.retryDelay,
			MaxRetries: choice.maxRetries,
		},
		Sinks:   sinks,
		Logger:  n.logger.With("capture"),
		Metrics: n.metrics,
	})
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	if stats != nil {
		go func() {
			if err := stats.ListenAndServe(ctx, statsAddr); err != nil {
				n.logger.Error("stats server failed", map[string]any{"error": err.Error()})
			}
		}()
	}

	n.logger.Info("stream starting", map[string]any{
		"source":      choice.sourceType,
		"index":       choice.sourceIndex,
		"destination": choice.destination,
		"transport":   string(kind),
		"transforms":  pipeline.String(),
		"detectors":   tagger.Names(),
	})

	err = loop.Run(ctx)
	return streamExit(err)
}

// streamExit maps the loop result to an exit status.
func streamExit(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, types.ErrSourceUnavailable), errors.Is(err, capture.ErrRetryBudgetExhausted):
		return cli.Exit(err.Error(), exitSource)
	default:
		return cli.Exit(err.Error(), exitTransport)
	}
}

// buildSource resolves the source kind. The relay kind subscribes to
// another node; every other kind comes from the source registry.
func buildSource(choice streamChoice, n *node) (source.FrameSource, error) {
	if choice.sourceType != relaySourceType {
		return source.New(choice.sourceType, source.Options{
			Index:  choice.sourceIndex,
			Width:  choice.width,
			Height: choice.height,
			FPS:    choice.fps,
		})
	}
	kind, err := kindFor("", choice.sourceIndex)
	if err != nil {
		return nil, err
	}
	dial := newDialer(kind, choice.sourceIndex, choice.channel, n.logger.With("relay"))
	return bridge.NewSource(dial, 0, bridge.Options{
		Logger:  n.logger.With("relay"),
		Metrics: n.metrics,
	}), nil
}

type statsListener interface {
	ListenAndServe(ctx context.Context, addr string) error
	Handler() http.Handler
}

// previewSize is the ring depth behind the --debug preview.
const previewSize = 4

// buildStatsServer returns the --stats-addr server. With debug it is a full
// broadcast server drawing tag polygons, fed by the returned sink with every
// published envelope; otherwise it serves only /stats and /healthz.
func buildStatsServer(n *node, debug bool) (statsListener, capture.Sink, error) {
	if !debug {
		return broadcast.NewStatsServer(n.metrics, n.logger.With("stats")), nil, nil
	}
	ring := ringbuf.New[*types.Envelope](previewSize)
	srv, err := broadcast.New(broadcast.Config{
		Ring:     ring,
		Annotate: true,
		Logger:   n.logger.With("preview"),
		Metrics:  n.metrics,
	})
	if err != nil {
		return nil, nil, err
	}
	return srv, ringSink{ring: ring}, nil
}

// ringSink pushes observed envelopes into a ring.
type ringSink struct {
	ring *ringbuf.Ring[*types.Envelope]
}

func (s ringSink) Observe(_ context.Context, env *types.Envelope) error {
	s.ring.Push(env)
	return nil
}
