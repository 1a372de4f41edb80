package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/tagstream/bridge"
	"github.com/pithecene-io/tagstream/broadcast"
	"github.com/pithecene-io/tagstream/capture"
	"github.com/pithecene-io/tagstream/cli/config"
	"github.com/pithecene-io/tagstream/feed"
	"github.com/pithecene-io/tagstream/iox"
	"github.com/pithecene-io/tagstream/ringbuf"
	"github.com/pithecene-io/tagstream/types"
)

// Processors selectable with --processor.
const (
	processorWeb  = "web"
	processorNone = "none"
)

// Defaults for serve.
const (
	defaultServePort = 4000
	defaultRingSize  = 32
)

// ServeCommand returns the consumer node command.
func ServeCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:  "src",
			Usage: "Producer address (tcp://host:port or redis://host:port); overrides --src-ip/--src-port",
		},
		&cli.StringFlag{
			Name:  "src-ip",
			Usage: "Producer host",
			Value: "127.0.0.1",
		},
		&cli.IntFlag{
			Name:  "src-port",
			Usage: "Producer port",
			Value: 5555,
		},
		&cli.StringFlag{Name: "transport", Usage: "Transport: tcp or redis (default: from address)"},
		&cli.StringFlag{Name: "channel", Usage: "Redis channel for frames"},
		&cli.StringFlag{
			Name:  "processor",
			Usage: "Frame processor: web (MJPEG broadcast) or none",
			Value: processorWeb,
		},
		&cli.IntFlag{
			Name:  "port",
			Usage: "Broadcast server port",
			Value: defaultServePort,
		},
		&cli.IntFlag{
			Name:  "ring-size",
			Usage: "Frames held for broadcast",
			Value: defaultRingSize,
		},
		&cli.DurationFlag{
			Name:  "receive-timeout",
			Usage: "Producer silence before the subscription is rebuilt",
			Value: bridge.DefaultReceiveTimeout,
		},
		&cli.DurationFlag{
			Name:  "reconnect-delay",
			Usage: "Pause before rebuilding the subscription",
			Value: feed.DefaultReconnectDelay,
		},
		&cli.BoolFlag{Name: "annotate", Usage: "Draw tag polygons onto served frames (implied by --debug)"},
		&cli.IntFlag{Name: "jpeg-quality", Usage: "JPEG quality for served frames"},
	}
	flags = append(flags, nodeFlags()...)
	flags = append(flags, journalFlags()...)
	flags = append(flags, notifyFlags()...)

	return &cli.Command{
		Name:   "serve",
		Usage:  "Subscribe to a stream and broadcast it over HTTP",
		Flags:  flags,
		Action: serveAction,
	}
}

// serveChoice holds the resolved serve settings.
type serveChoice struct {
	source         string
	transport      string
	channel        string
	processor      string
	port           int
	ringSize       int
	receiveTimeout time.Duration
	reconnectDelay time.Duration
	annotate       bool
	quality        int
}

func resolveServe(c *cli.Context, cfg *config.Config) serveChoice {
	sc := configVal(cfg, func(cfg *config.Config) config.ServeConfig { return cfg.Serve })
	src := c.String("src")
	if src == "" {
		if c.IsSet("src-ip") || c.IsSet("src-port") || sc.Source == "" {
			src = hostPort(c.String("src-ip"), c.Int("src-port"))
		} else {
			src = sc.Source
		}
	}
	return serveChoice{
		source:         src,
		transport:      resolveString(c, "transport", sc.Transport),
		channel:        resolveString(c, "channel", sc.Channel),
		processor:      c.String("processor"),
		port:           resolveInt(c, "port", sc.Port),
		ringSize:       resolveInt(c, "ring-size", sc.RingSize),
		receiveTimeout: resolveDuration(c, "receive-timeout", sc.ReceiveTimeout.Duration),
		reconnectDelay: resolveDuration(c, "reconnect-delay", sc.ReconnectDelay.Duration),
		annotate:       resolveBool(c, "annotate", sc.Annotate) || c.Bool("debug"),
		quality:        resolveInt(c, "jpeg-quality", sc.JPEGQuality),
	}
}

func serveAction(c *cli.Context) error {
	n, err := newNode(c, "serve")
	if err != nil {
		return err
	}
	defer func() { _ = n.logger.Sync() }()

	choice := resolveServe(c, n.cfg)
	switch choice.processor {
	case processorWeb, processorNone:
	default:
		return cli.Exit(fmt.Sprintf("unknown --processor %q (must be web or none)", choice.processor), exitUsage)
	}
	if choice.ringSize < 1 {
		return cli.Exit(fmt.Sprintf("--ring-size must be at least 1, got %d", choice.ringSize), exitUsage)
	}
	kind, err := kindFor(choice.transport, choice.source)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	n.startMetrics(kind)

	ctx, cancel := signalContext()
	defer cancel()

	var closers []io.Closer
	defer func() {
		if err := iox.CloseAll(closers...); err != nil {
			n.logger.Warn("shutdown incomplete", map[string]any{"error": err.Error()})
		}
	}()

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

	ring := ringbuf.New[*types.Envelope](choice.ringSize)
	feeder, err := feed.New(feed.Config{
		Dial:           newDialer(kind, choice.source, choice.channel, n.logger.With("transport")),
		Ring:           ring,
		ReceiveTimeout: choice.receiveTimeout,
		ReconnectDelay: choice.reconnectDelay,
		Sink:           observeAll(n, collectSinks(journalWriter, dispatcher)),
		Logger:         n.logger.With("feed"),
		Metrics:        n.metrics,
	})
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	n.logger.Info("serve starting", map[string]any{
		"source":    choice.source,
		"transport": string(kind),
		"processor": choice.processor,
		"port":      choice.port,
		"ring_size": choice.ringSize,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return feeder.Run(gctx) })

	if choice.processor == processorWeb {
		srv, err := broadcast.New(broadcast.Config{
			Ring:     ring,
			Quality:  choice.quality,
			Annotate: choice.annotate,
			Logger:   n.logger.With("broadcast"),
			Metrics:  n.metrics,
		})
		if err != nil {
			cancel()
			_ = g.Wait()
			return cli.Exit(err.Error(), exitUsage)
		}
		addr := ":" + strconv.Itoa(choice.port)
		g.Go(func() error { return srv.ListenAndServe(gctx, addr) })
	}

	if err := g.Wait(); err != nil {
		return cli.Exit(fmt.Sprintf("serve failed: %v", err), exitTransport)
	}
	return nil
}

// observeAll returns a feeder sink that counts detections and hands every
// envelope to sinks. Sink errors are logged and never stop the feed.
func observeAll(n *node, sinks []capture.Sink) func(context.Context, *types.Envelope) {
	return func(ctx context.Context, env *types.Envelope) {
		n.metrics.AddTagsDetected(env.Metadata.Tags.Counts())
		for _, s := range sinks {
			if err := s.Observe(ctx, env); err != nil {
				n.logger.Warn("sink failed", map[string]any{
					"stage":    "sink",
					"datetime": env.Metadata.Datetime,
					"error":    err.Error(),
				})
			}
		}
	}
}
