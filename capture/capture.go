// Package capture runs the capture node's main loop: read a frame, transform
// it, tag it, and publish it with its metadata.
//
// The loop moves through Starting → Running → (Reconnecting) → Stopped.
// Per-frame failures (transform, publish, sinks) are logged and the frame is
// dropped; only source loss or cancellation ends the loop.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/tagstream/detect"
	"github.com/pithecene-io/tagstream/log"
	"github.com/pithecene-io/tagstream/metrics"
	"github.com/pithecene-io/tagstream/source"
	"github.com/pithecene-io/tagstream/transform"
	"github.com/pithecene-io/tagstream/transport"
	"github.com/pithecene-io/tagstream/types"
)

var (
	// ErrPublish classifies every publish failure.
	ErrPublish = errors.New("publish failed")
	// ErrRetryBudgetExhausted is returned when the source could not be
	// re-acquired within the configured number of attempts.
	ErrRetryBudgetExhausted = errors.New("source retry budget exhausted")
)

// PublishError reports a frame that could not be published.
// It matches ErrPublish with errors.Is.
type PublishError struct {
	Datetime string
	Err      error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish frame %s: %v", e.Datetime, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrPublish.
func (e *PublishError) Is(target error) bool {
	return target == ErrPublish
}

// State is the loop lifecycle state.
type State int32

// Loop states.
const (
	StateStarting State = iota
	StateRunning
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Sink observes every published envelope. Sink errors are logged and never
// affect publishing.
type Sink interface {
	Observe(ctx context.Context, env *types.Envelope) error
}

// Defaults for Config.
const (
	DefaultWarmup = 2 * time.Second
)

// Config configures a Loop.
type Config struct {
	Source     source.FrameSource
	Transforms transform.Pipeline
	// Tagger runs the configured detectors. Nil publishes empty tag sets.
	Tagger    *detect.Tagger
	Publisher transport.Publisher
	Hostname  string

	// Warmup is the pause after the source starts (default 2s; negative
	// disables).
	Warmup time.Duration
	// Interval is the minimum period between frame reads. Zero reads as
	// fast as the source delivers.
	Interval time.Duration
	// Reconnect controls source re-acquisition.
	Reconnect ReconnectPolicy

	Sinks   []Sink
	Logger  *log.Logger
	Metrics *metrics.Collector

	// Now overrides the clock used for envelope timestamps.
	Now func() time.Time
	// OnState, if set, is called on every state transition.
	OnState func(State)
}

// Loop is the capture-transform-tag-publish loop.
type Loop struct {
	cfg    Config
	logger *log.Logger
	state  atomic.Int32
	seq    atomic.Uint64
}

// New validates cfg and returns a Loop that has not started.
func New(cfg Config) (*Loop, error) {
	if cfg.Source == nil {
		return nil, errors.New("capture loop requires a source")
	}
	if cfg.Publisher == nil {
		return nil, errors.New("capture loop requires a publisher")
	}
	if cfg.Warmup == 0 {
		cfg.Warmup = DefaultWarmup
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.Reconnect = cfg.Reconnect.withDefaults()
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}
	l := &Loop{cfg: cfg, logger: logger}
	l.state.Store(-1)
	return l, nil
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) setState(s State) {
	if State(l.state.Swap(int32(s))) == s {
		return
	}
	l.logger.Info("capture state", map[string]any{"state": s.String()})
	l.cfg.Metrics.SetCaptureState(s.String())
	if l.cfg.OnState != nil {
		l.cfg.OnState(s)
	}
}

// Run drives the loop until ctx is canceled (nil), the source is lost and
// cannot reconnect (error wrapping types.ErrSourceUnavailable), or the retry
// budget runs out (ErrRetryBudgetExhausted). The source is always stopped
// before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	l.setState(StateStarting)
	defer func() {
		if stopErr := l.cfg.Source.Stop(); stopErr != nil {
			l.logger.Warn("source stop failed", map[string]any{"error": stopErr.Error()})
		}
		l.setState(StateStopped)
	}()

	if err := l.cfg.Source.Start(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if err := l.recover(ctx, err); err != nil {
			return err
		}
	}
	if l.cfg.Warmup > 0 && !sleep(ctx, l.cfg.Warmup) {
		return nil
	}
	l.setState(StateRunning)

	for {
		if ctx.Err() != nil {
			return nil
		}
		started := time.Now()

		frame, err := l.cfg.Source.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if err := l.recover(ctx, err); err != nil {
				return err
			}
			continue
		}
		l.cfg.Metrics.IncFramesCaptured()

		_, _ = l.Process(ctx, frame)

		if l.cfg.Interval > 0 {
			if wait := l.cfg.Interval - time.Since(started); wait > 0 && !sleep(ctx, wait) {
				return nil
			}
		}
	}
}

// recover handles a source failure: reconnect when the source supports it,
// otherwise stop.
func (l *Loop) recover(ctx context.Context, cause error) error {
	cause = source.Unavailable(cause)
	rc, ok := l.cfg.Source.(source.Reconnector)
	if !ok {
		l.logger.Error("source lost", map[string]any{"stage": "capture", "error": cause.Error()})
		return cause
	}
	l.logger.Warn("source read failed, reconnecting", map[string]any{"stage": "capture", "error": cause.Error()})

	l.setState(StateReconnecting)
	err := l.reconnect(ctx, rc)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		l.logger.Error("source reconnect abandoned", map[string]any{"stage": "capture", "error": err.Error()})
		return err
	}
	l.cfg.Metrics.IncSourceReconnects()
	l.setState(StateRunning)
	return nil
}

// Process transforms, tags and publishes one frame. Failures are logged,
// counted and returned; the caller drops the frame and continues.
func (l *Loop) Process(ctx context.Context, frame *types.Frame) (*types.Envelope, error) {
	datetime := types.FormatDatetime(l.cfg.Now())

	out, err := l.cfg.Transforms.Apply(frame)
	if err != nil {
		l.cfg.Metrics.IncTransformErrors()
		l.cfg.Metrics.IncFramesDropped()
		l.logger.Error("transform failed", map[string]any{
			"stage":    "transform",
			"datetime": datetime,
			"error":    err.Error(),
		})
		return nil, err
	}

	tags := types.TagSet{}
	var latency map[string]float64
	if l.cfg.Tagger != nil {
		res := l.cfg.Tagger.Tag(ctx, out)
		if res.Err != nil {
			// Shutdown interrupted tagging; the frame is incomplete.
			l.cfg.Metrics.IncFramesDropped()
			return nil, res.Err
		}
		for _, f := range res.Failures {
			l.cfg.Metrics.IncDetectorFailure(f.Name)
			l.logger.Warn("detector failed", map[string]any{
				"stage":    "tag",
				"datetime": datetime,
				"detector": f.Name,
				"error":    f.Err.Error(),
			})
		}
		latency = make(map[string]float64, len(res.Latency))
		for name, d := range res.Latency {
			l.cfg.Metrics.ObserveDetectorLatency(name, d)
			latency[name] = detect.Millis(d)
		}
		tags = res.Tags
		l.cfg.Metrics.AddTagsDetected(tags.Counts())
	}

	env := &types.Envelope{
		Metadata: types.Metadata{
			Hostname: l.cfg.Hostname,
			Datetime: datetime,
			Tags:     tags,
			FrameID:  uuid.NewString(),
			Seq:      l.seq.Add(1),
		},
		Frame: out,
	}

	if err := l.cfg.Publisher.Send(ctx, &env.Metadata, env.Frame); err != nil {
		perr := &PublishError{Datetime: datetime, Err: err}
		l.cfg.Metrics.IncPublishErrors()
		l.cfg.Metrics.IncFramesDropped()
		l.logger.Error("publish failed", map[string]any{
			"stage":    "publish",
			"datetime": datetime,
			"error":    err.Error(),
		})
		return nil, perr
	}
	l.cfg.Metrics.IncFramesPublished()
	l.logger.Debug("frame published", map[string]any{
		"datetime": datetime,
		"seq":      env.Metadata.Seq,
		"tags":     tags.Counts(),
		"tag_ms":   latency,
	})

	for _, s := range l.cfg.Sinks {
		if err := s.Observe(ctx, env); err != nil {
			l.logger.Warn("sink failed", map[string]any{
				"stage":    "sink",
				"datetime": datetime,
				"error":    err.Error(),
			})
		}
	}
	return env, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
