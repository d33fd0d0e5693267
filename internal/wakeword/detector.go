package wakeword

import (
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrConfig = errors.New("invalid detector config")
	ErrBusy   = errors.New("detector already listening")
)

const defaultQueueSize = 32

// Config is immutable for the lifetime of a Detector.
type Config struct {
	WakeWord            string        // informational, does not alter scoring
	SampleRate          int           // Hz
	FrameSize           int           // samples per frame
	EnergyThreshold     float64       // silence gate
	DetectionMultiplier float64       // stricter detection gate on top of the threshold
	Cooldown            time.Duration // minimum spacing between fired detections
	QueueSize           int           // frame queue bound, 0 = default
}

func (c *Config) validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrConfig, c.SampleRate)
	}
	if c.FrameSize <= 0 {
		return fmt.Errorf("%w: frame size %d", ErrConfig, c.FrameSize)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("%w: negative cooldown %s", ErrConfig, c.Cooldown)
	}
	if c.EnergyThreshold < 0 {
		return fmt.Errorf("%w: negative energy threshold", ErrConfig)
	}
	if c.DetectionMultiplier < 1 {
		return fmt.Errorf("%w: detection multiplier %.2f below 1", ErrConfig, c.DetectionMultiplier)
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("%w: negative queue size", ErrConfig)
	}
	return nil
}

const (
	stateIdle = int32(iota)
	stateListening
	stateStopping
	stateStopped
)

// Detector runs the streaming wake-word loop: a capture goroutine copies
// frames from the source into a bounded queue, the drain loop scores each
// frame in arrival order, and a dispatcher goroutine invokes the callback
// so a slow handler never stalls frame processing. Only the drain loop
// writes detection state; Stop is the single cross-goroutine signal.
type Detector struct {
	cfg    Config
	src    Source
	scorer Scorer

	mu       sync.Mutex
	callback func()
	stopCh   chan struct{}
	stopOnce *sync.Once

	state   atomic.Int32
	dropped atomic.Uint64
}

func New(cfg Config, src Source) (*Detector, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("%w: nil source", ErrConfig)
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = defaultQueueSize
	}
	return &Detector{
		cfg: cfg,
		src: src,
		scorer: EnergyScorer{
			Threshold:  cfg.EnergyThreshold,
			Multiplier: cfg.DetectionMultiplier,
		},
	}, nil
}

// SetScorer replaces the default energy heuristic. Call before Listen.
func (d *Detector) SetScorer(s Scorer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s != nil {
		d.scorer = s
	}
}

// SetCallback registers the detection handler. May also be called while
// listening; the new handler takes effect on the next detection.
func (d *Detector) SetCallback(fn func()) {
	d.mu.Lock()
	d.callback = fn
	d.mu.Unlock()
}

// Detect is the pure scoring entry point for a single frame.
func (d *Detector) Detect(frame []float32) bool {
	d.mu.Lock()
	s := d.scorer
	d.mu.Unlock()
	return s.Detect(frame)
}

// Listening reports whether a Listen call is currently draining frames.
func (d *Detector) Listening() bool {
	return d.state.Load() == stateListening
}

// Dropped returns how many frames backpressure has discarded so far.
func (d *Detector) Dropped() uint64 {
	return d.dropped.Load()
}

// Listen opens the audio source and blocks, scoring frames until Stop is
// called or the stream fails. A clean stop returns nil; an unrecoverable
// stream error is returned to the caller. The stream handle is released
// on every exit path. Listen may be called again after it returns.
func (d *Detector) Listen() error {
	// The state CAS and the stop-channel swap share Stop's lock: once the
	// listening state is observable, Stop resolves to this run's channel.
	d.mu.Lock()
	if !d.state.CompareAndSwap(stateIdle, stateListening) &&
		!d.state.CompareAndSwap(stateStopped, stateListening) {
		d.mu.Unlock()
		return ErrBusy
	}
	d.stopCh = make(chan struct{})
	d.stopOnce = new(sync.Once)
	stop := d.stopCh
	d.mu.Unlock()

	stream, err := d.src.Open(d.cfg.SampleRate, d.cfg.FrameSize)
	if err != nil {
		d.state.Store(stateStopped)
		return fmt.Errorf("open stream: %w", err)
	}

	log.Info("listening for wake word",
		"word", d.cfg.WakeWord,
		"rate", d.cfg.SampleRate,
		"frame", d.cfg.FrameSize)

	frames := make(chan []float32, d.cfg.QueueSize)
	events := make(chan struct{}, 4)
	captureErr := make(chan error, 1)

	var capWG, dispWG sync.WaitGroup

	dispWG.Add(1)
	go func() {
		defer dispWG.Done()
		for range events {
			d.fire()
		}
	}()

	capWG.Add(1)
	go func() {
		defer capWG.Done()
		defer close(frames)
		for {
			frame, err := stream.Read()
			if err != nil {
				if errors.Is(err, ErrTransient) {
					log.Warn("capture fault, frame skipped", "err", err)
					continue
				}
				select {
				case captureErr <- err:
				default:
				}
				return
			}
			buf := make([]float32, len(frame))
			copy(buf, frame)
			d.enqueue(frames, buf)
		}
	}()

	loopErr := d.drain(stop, frames, events, captureErr)

	d.state.Store(stateStopping)
	if cerr := stream.Close(); cerr != nil {
		log.Warn("closing stream", "err", cerr)
	}
	capWG.Wait()
	close(events)
	dispWG.Wait()
	d.state.Store(stateStopped)

	if n := d.dropped.Load(); n > 0 {
		log.Debug("frames dropped under backpressure", "count", n)
	}
	return loopErr
}

// enqueue never blocks: the capture path only copies and hands off. On a
// full queue the oldest frame is discarded so the newest audio survives.
func (d *Detector) enqueue(frames chan []float32, buf []float32) {
	select {
	case frames <- buf:
		return
	default:
	}
	select {
	case <-frames:
		d.dropped.Add(1)
	default:
	}
	select {
	case frames <- buf:
	default:
		d.dropped.Add(1)
	}
}

func (d *Detector) drain(stop <-chan struct{}, frames <-chan []float32, events chan<- struct{}, captureErr <-chan error) error {
	var lastDetection time.Time

	for {
		select {
		case <-stop:
			return nil
		case frame, ok := <-frames:
			if !ok {
				select {
				case err := <-captureErr:
					return fmt.Errorf("stream: %w", err)
				default:
					return nil
				}
			}
			if !d.Detect(frame) {
				continue
			}
			now := time.Now()
			if !lastDetection.IsZero() && now.Sub(lastDetection) <= d.cfg.Cooldown {
				continue
			}
			lastDetection = now
			log.Info("wake word detected", "word", d.cfg.WakeWord)
			select {
			case events <- struct{}{}:
			default:
				log.Warn("detection dropped, dispatcher busy")
			}
		}
	}
}

func (d *Detector) fire() {
	d.mu.Lock()
	cb := d.callback
	d.mu.Unlock()
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("wake callback panicked", "panic", r)
		}
	}()
	cb()
}

// Stop signals the drain loop to exit. Safe to call from any goroutine,
// any number of times, including before Listen.
func (d *Detector) Stop() {
	d.mu.Lock()
	once, stop := d.stopOnce, d.stopCh
	d.mu.Unlock()
	if once == nil {
		return
	}
	once.Do(func() { close(stop) })
}
