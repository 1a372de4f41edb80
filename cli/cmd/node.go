package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tagstream/bridge"
	"github.com/pithecene-io/tagstream/capture"
	"github.com/pithecene-io/tagstream/cli/config"
	"github.com/pithecene-io/tagstream/journal"
	"github.com/pithecene-io/tagstream/log"
	"github.com/pithecene-io/tagstream/metrics"
	"github.com/pithecene-io/tagstream/notify"
	redisnotify "github.com/pithecene-io/tagstream/notify/redis"
	"github.com/pithecene-io/tagstream/notify/webhook"
	"github.com/pithecene-io/tagstream/transport"
	redistransport "github.com/pithecene-io/tagstream/transport/redis"
	"github.com/pithecene-io/tagstream/transport/tcp"
)

// Exit codes for stream and serve.
const (
	exitSuccess   = 0
	exitUsage     = 1
	exitSource    = 2
	exitTransport = 3
)

// node is the identity and ambient stack of a long-running command.
type node struct {
	meta    log.NodeMeta
	logger  *log.Logger
	metrics *metrics.Collector
	cfg     *config.Config
}

// newNode loads the config file and builds the logger for a stream or
// serve process. Metrics start once the transport is known.
func newNode(c *cli.Context, role string) (*node, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitUsage)
	}

	levelName := resolveString(c, "log-level", configVal(cfg, func(cfg *config.Config) string { return cfg.LogLevel }))
	if c.Bool("debug") {
		levelName = "debug"
	}
	lvl, err := log.ParseLevel(levelName)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitUsage)
	}

	hostname := c.String("hostname")
	if hostname == "" {
		if hostname, err = os.Hostname(); err != nil {
			hostname = "unknown"
		}
	}

	meta := log.NodeMeta{Node: role, Hostname: hostname, SessionID: uuid.NewString()}
	return &node{
		meta:   meta,
		logger: log.NewLoggerWithLevel(meta, os.Stderr, lvl),
		cfg:    cfg,
	}, nil
}

func (n *node) startMetrics(kind transport.Kind) {
	n.metrics = metrics.NewCollector(n.meta.Node, n.meta.Hostname, string(kind), n.meta.SessionID)
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// kindFor picks the transport for addr: an explicit kind wins, otherwise a
// redis:// or rediss:// address selects redis and anything else tcp.
func kindFor(explicit, addr string) (transport.Kind, error) {
	if explicit != "" {
		return transport.ParseKind(explicit)
	}
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		return transport.KindRedis, nil
	}
	return transport.KindTCP, nil
}

// newPublisher binds or connects the outgoing transport.
func newPublisher(kind transport.Kind, addr, channel string, codec *transport.Codec, logger *log.Logger) (transport.Publisher, error) {
	switch kind {
	case transport.KindRedis:
		return redistransport.NewPublisher(redistransport.Config{URL: addr, Channel: channel, Codec: codec})
	default:
		return tcp.Listen(addr, tcp.PublisherOptions{Codec: codec, Logger: logger})
	}
}

// newDialer returns a dialer that opens a fresh subscription per bridge.
func newDialer(kind transport.Kind, addr, channel string, logger *log.Logger) bridge.Dialer {
	return func(ctx context.Context) (transport.Subscriber, error) {
		switch kind {
		case transport.KindRedis:
			return redistransport.NewSubscriber(ctx, redistransport.Config{URL: addr, Channel: channel})
		default:
			return tcp.Dial(addr, tcp.SubscriberOptions{Logger: logger})
		}
	}
}

// journalChoice holds the resolved journal settings.
type journalChoice struct {
	backend       string
	path          string
	dataset       string
	region        string
	endpoint      string
	pathStyle     bool
	flushCount    int
	flushInterval time.Duration
}

func resolveJournal(c *cli.Context, cfg *config.Config) journalChoice {
	jc := configVal(cfg, func(cfg *config.Config) config.JournalConfig { return cfg.Journal })
	return journalChoice{
		backend:       resolveString(c, "journal-backend", jc.Backend),
		path:          resolveString(c, "journal-path", jc.Path),
		dataset:       resolveString(c, "journal-dataset", jc.Dataset),
		region:        resolveString(c, "journal-s3-region", jc.Region),
		endpoint:      resolveString(c, "journal-s3-endpoint", jc.Endpoint),
		pathStyle:     resolveBool(c, "journal-s3-path-style", jc.S3PathStyle),
		flushCount:    resolveInt(c, "journal-flush-count", jc.FlushCount),
		flushInterval: resolveDuration(c, "journal-flush-interval", jc.FlushEvery.Duration),
	}
}

// openStore opens the journal store. It returns nil when the journal is
// disabled.
func openStore(ctx context.Context, choice journalChoice) (*journal.LodeStore, error) {
	switch choice.backend {
	case "":
		if choice.path != "" {
			return nil, errors.New("--journal-backend is required when --journal-path is set")
		}
		return nil, nil
	case "fs":
		if choice.path == "" {
			return nil, errors.New("--journal-path is required for the fs backend")
		}
		return journal.NewFSStore(choice.dataset, choice.path)
	case "s3":
		if choice.path == "" {
			return nil, errors.New("--journal-path is required for the s3 backend")
		}
		bucket, prefix := journal.ParseS3Path(choice.path)
		return journal.NewS3Store(ctx, choice.dataset, journal.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       choice.region,
			Endpoint:     choice.endpoint,
			UsePathStyle: choice.pathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown --journal-backend %q (must be fs or s3)", choice.backend)
	}
}

// buildJournal returns a journal writer, or nil when disabled.
func (n *node) buildJournal(ctx context.Context, c *cli.Context) (*journal.Writer, error) {
	choice := resolveJournal(c, n.cfg)
	store, err := openStore(ctx, choice)
	if err != nil || store == nil {
		return nil, err
	}
	n.logger.Info("detection journal enabled", map[string]any{
		"backend": choice.backend,
		"path":    choice.path,
		"dataset": choice.dataset,
	})
	return journal.NewWriter(store, journal.WriterConfig{
		FlushCount:    choice.flushCount,
		FlushInterval: choice.flushInterval,
		Logger:        n.logger.With("journal"),
		Metrics:       n.metrics,
	})
}

// buildNotifier returns a notification dispatcher, or nil when disabled.
func (n *node) buildNotifier(c *cli.Context) (*notify.Dispatcher, error) {
	nc := configVal(n.cfg, func(cfg *config.Config) config.NotifyConfig { return cfg.Notify })
	kind := resolveString(c, "notify-type", nc.Type)
	url := resolveString(c, "notify-url", nc.URL)
	timeout := resolveDuration(c, "notify-timeout", nc.Timeout.Duration)
	retries := c.Int("notify-retries")
	if !c.IsSet("notify-retries") && nc.Retries != nil {
		retries = *nc.Retries
	}

	var notifier notify.Notifier
	switch kind {
	case "":
		return nil, nil
	case "webhook":
		headers, err := parseHeaders(c.StringSlice("notify-header"), nc.Headers)
		if err != nil {
			return nil, err
		}
		w, err := webhook.New(webhook.Config{URL: url, Headers: headers, Timeout: timeout, Retries: retries})
		if err != nil {
			return nil, err
		}
		notifier = w
	case "redis":
		r, err := redisnotify.New(redisnotify.Config{
			URL:     url,
			Channel: resolveString(c, "notify-channel", nc.Channel),
			Timeout: timeout,
			Retries: retries,
		})
		if err != nil {
			return nil, err
		}
		notifier = r
	default:
		return nil, fmt.Errorf("unknown --notify-type %q (must be webhook or redis)", kind)
	}

	n.logger.Info("detection notifications enabled", map[string]any{"type": kind})
	return notify.NewDispatcher(notifier, notify.DispatcherConfig{
		MinInterval: resolveDuration(c, "notify-min-interval", nc.MinInterval.Duration),
		Logger:      n.logger.With("notify"),
		Metrics:     n.metrics,
	})
}

// parseHeaders merges Key=Value flags over config headers.
func parseHeaders(flags []string, base map[string]string) (map[string]string, error) {
	headers := make(map[string]string, len(base)+len(flags))
	for k, v := range base {
		headers[k] = v
	}
	for _, h := range flags {
		k, v, ok := strings.Cut(h, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --notify-header %q (want Key=Value)", h)
		}
		headers[strings.TrimSpace(k)] = v
	}
	return headers, nil
}

// collectSinks returns the enabled envelope observers.
func collectSinks(j *journal.Writer, d *notify.Dispatcher) []capture.Sink {
	var sinks []capture.Sink
	if j != nil {
		sinks = append(sinks, j)
	}
	if d != nil {
		sinks = append(sinks, d)
	}
	return sinks
}
