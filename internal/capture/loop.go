// ABOUTME: Self-clocking screen capture loop with adaptive quality and frame rate.
// ABOUTME: Shrinks quality on oversized frames, recovers slowly, and sheds FPS when capture lags.

package capture

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Default tuning, matching deployed agent behaviour.
const (
	DefaultFPS      = 5
	DefaultQuality  = 40
	DefaultMaxFrame = 150000
	DefaultMinFPS   = 2
	DefaultMaxFPS   = 10
	DefaultMinQual  = 15
	DefaultMaxQual  = 60
)

const (
	qualityStepDown = 5
	qualityStepUp   = 2

	// lagFraction is how much of the frame interval capture may consume
	// before the loop sheds a frame per second.
	lagFraction = 0.8
)

// FrameSource produces one encoded frame at the requested quality.
type FrameSource interface {
	Capture(quality int) ([]byte, error)
}

// Sink receives encoded frames, typically pushing them over the wire.
type Sink interface {
	Push(frame []byte) error
}

// Limits bound the loop's self-tuning. Zero values fall back to defaults.
type Limits struct {
	MinFPS        int
	MaxFPS        int
	MinQuality    int
	MaxQuality    int
	MaxFrameBytes int
}

func (l Limits) withDefaults() Limits {
	if l.MinFPS <= 0 {
		l.MinFPS = DefaultMinFPS
	}
	if l.MaxFPS <= 0 {
		l.MaxFPS = DefaultMaxFPS
	}
	if l.MinQuality <= 0 {
		l.MinQuality = DefaultMinQual
	}
	if l.MaxQuality <= 0 {
		l.MaxQuality = DefaultMaxQual
	}
	if l.MaxFrameBytes <= 0 {
		l.MaxFrameBytes = DefaultMaxFrame
	}
	return l
}

// Loop drives a FrameSource at a target frame rate, pushing each frame to a
// Sink. It is self-clocking: the next capture is scheduled only after the
// current frame is sent, using the just-adjusted rate, so a slow capture or
// sink naturally backs the loop off instead of piling up work.
//
// Tuning is asymmetric. A frame over the byte ceiling drops quality by one
// step immediately; frames under half the ceiling earn it back two points at
// a time. When capturing alone eats most of the frame interval, the target
// rate drops by one.
type Loop struct {
	src    FrameSource
	sink   Sink
	limits Limits
	logger *slog.Logger

	mu      sync.Mutex
	fps     int
	quality int

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewLoop creates a Loop starting at the given rate and quality, both
// clamped into limits.
func NewLoop(src FrameSource, sink Sink, limits Limits, fps, quality int, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	limits = limits.withDefaults()
	if fps <= 0 {
		fps = DefaultFPS
	}
	if quality <= 0 {
		quality = DefaultQuality
	}
	return &Loop{
		src:     src,
		sink:    sink,
		limits:  limits,
		fps:     clamp(fps, limits.MinFPS, limits.MaxFPS),
		quality: clamp(quality, limits.MinQuality, limits.MaxQuality),
		logger:  logger.With("component", "capture"),
		stopCh:  make(chan struct{}),
	}
}

// FPS returns the current target frame rate.
func (l *Loop) FPS() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fps
}

// Quality returns the current encode quality.
func (l *Loop) Quality() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.quality
}

// Stop ends the loop. Safe to call more than once and from any goroutine;
// the loop observes it at the top of its next iteration or mid-wait.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Run executes the capture loop until Stop is called or ctx ends.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		interval := l.interval()
		start := time.Now()
		frame, err := l.src.Capture(l.Quality())
		latency := time.Since(start)

		if err != nil {
			l.logger.Warn("capture failed", "error", err)
		} else {
			if err := l.sink.Push(frame); err != nil {
				l.logger.Debug("frame push failed", "error", err)
			}
			l.adjustQuality(len(frame))
		}
		l.adjustFPS(latency, interval)

		timer := time.NewTimer(l.interval())
		select {
		case <-l.stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// interval derives the inter-frame delay from the current rate.
func (l *Loop) interval() time.Duration {
	return time.Second / time.Duration(l.FPS())
}

// adjustQuality tunes encode quality from the size of the last frame.
func (l *Loop) adjustQuality(size int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case size > l.limits.MaxFrameBytes:
		if l.quality > l.limits.MinQuality {
			l.quality = clamp(l.quality-qualityStepDown, l.limits.MinQuality, l.limits.MaxQuality)
			l.logger.Debug("frame oversized, lowering quality",
				"bytes", size,
				"quality", l.quality,
			)
		}
	case size < l.limits.MaxFrameBytes/2:
		if l.quality < l.limits.MaxQuality {
			l.quality = clamp(l.quality+qualityStepUp, l.limits.MinQuality, l.limits.MaxQuality)
		}
	}
}

// adjustFPS sheds one frame per second when capturing dominated the interval.
func (l *Loop) adjustFPS(latency, interval time.Duration) {
	if float64(latency) <= lagFraction*float64(interval) {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fps > l.limits.MinFPS {
		l.fps--
		l.logger.Debug("capture lagging, lowering rate",
			"latency_ms", latency.Milliseconds(),
			"fps", l.fps,
		)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
