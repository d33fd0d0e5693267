package wakeword

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// All amplitudes below are exact binary fractions so frame energies hit
// the gate boundaries without float rounding:
//   0.05    -> energy 0.0025
//   0.125   -> energy 0.015625
//   0.25    -> energy 0.0625
func constFrame(v float32, n int) []float32 {
	f := make([]float32, n)
	for i := range f {
		f[i] = v
	}
	return f
}

type step struct {
	frame []float32
	err   error
	delay time.Duration
}

type fakeStream struct {
	steps  []step
	idx    int
	done   chan struct{}
	closes atomic.Int32
}

func (s *fakeStream) Read() ([]float32, error) {
	if s.idx >= len(s.steps) {
		<-s.done
		return nil, errors.New("stream closed")
	}
	st := s.steps[s.idx]
	s.idx++
	if st.delay > 0 {
		time.Sleep(st.delay)
	}
	if st.err != nil {
		return nil, st.err
	}
	return st.frame, nil
}

func (s *fakeStream) Close() error {
	s.closes.Add(1)
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return nil
}

type fakeSource struct {
	stream   *fakeStream
	openErr  error
	gotRate  int
	gotFrame int
}

func (s *fakeSource) Open(sampleRate, frameSize int) (Stream, error) {
	s.gotRate = sampleRate
	s.gotFrame = frameSize
	if s.openErr != nil {
		return nil, s.openErr
	}
	return s.stream, nil
}

func testConfig() Config {
	return Config{
		WakeWord:            "capri",
		SampleRate:          16000,
		FrameSize:           8,
		EnergyThreshold:     0.01,
		DetectionMultiplier: 3.0,
		Cooldown:            150 * time.Millisecond,
	}
}

func newTestDetector(t *testing.T, cfg Config, steps []step) (*Detector, *fakeStream) {
	t.Helper()
	stream := &fakeStream{steps: steps, done: make(chan struct{})}
	d, err := New(cfg, &fakeSource{stream: stream})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d, stream
}

// runListen starts Listen on its own goroutine and returns a channel with
// its result, matching how the orchestrator runs the detector.
func runListen(d *Detector) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- d.Listen() }()
	return errc
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}

// gatedScorer blocks its first Detect until the gate opens, stalling the
// drain loop while the capture side keeps producing.
type gatedScorer struct {
	gate chan struct{}
	mu   sync.Mutex
	seen []float32
}

func (s *gatedScorer) Detect(frame []float32) bool {
	<-s.gate
	s.mu.Lock()
	s.seen = append(s.seen, frame[0])
	s.mu.Unlock()
	return false
}

func (s *gatedScorer) scored() []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float32(nil), s.seen...)
}

func (s *gatedScorer) last() float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.seen) == 0 {
		return 0
	}
	return s.seen[len(s.seen)-1]
}

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero sample rate", func(c *Config) { c.SampleRate = 0 }},
		{"negative sample rate", func(c *Config) { c.SampleRate = -1 }},
		{"zero frame size", func(c *Config) { c.FrameSize = 0 }},
		{"negative cooldown", func(c *Config) { c.Cooldown = -time.Second }},
		{"negative threshold", func(c *Config) { c.EnergyThreshold = -0.1 }},
		{"multiplier below one", func(c *Config) { c.DetectionMultiplier = 0.5 }},
		{"negative queue size", func(c *Config) { c.QueueSize = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			if _, err := New(cfg, &fakeSource{}); !errors.Is(err, ErrConfig) {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
		})
	}

	if _, err := New(testConfig(), nil); !errors.Is(err, ErrConfig) {
		t.Fatalf("nil source: expected ErrConfig, got %v", err)
	}
}

func TestEnergy(t *testing.T) {
	if e := Energy(nil); e != 0 {
		t.Fatalf("empty frame energy = %v, want 0", e)
	}
	if e := Energy(constFrame(0.25, 16)); e != 0.0625 {
		t.Fatalf("energy = %v, want 0.0625", e)
	}
}

func TestEnergyScorerGates(t *testing.T) {
	s := EnergyScorer{Threshold: 0.01, Multiplier: 3.0}

	if s.Detect(constFrame(0.05, 8)) {
		t.Fatalf("energy 0.0025 below threshold must not detect")
	}
	if s.Detect(constFrame(0.125, 8)) {
		t.Fatalf("energy 0.015625 between gates must not detect")
	}
	if !s.Detect(constFrame(0.25, 8)) {
		t.Fatalf("energy 0.0625 above both gates must detect")
	}

	// Exact boundaries: the lower gate is inclusive (rejects), the upper
	// gate is exclusive (rejects).
	at := EnergyScorer{Threshold: 0.0625, Multiplier: 2.0}
	if at.Detect(constFrame(0.25, 8)) {
		t.Fatalf("energy exactly at threshold must not detect")
	}
	upper := EnergyScorer{Threshold: 0.015625, Multiplier: 4.0}
	if upper.Detect(constFrame(0.25, 8)) {
		t.Fatalf("energy exactly at threshold*multiplier must not detect")
	}
}

func TestCallbackOncePerCooldown(t *testing.T) {
	quiet := constFrame(0.05, 8)
	loud := constFrame(0.25, 8)

	// Three qualifying frames inside one cooldown window, then one after.
	steps := []step{
		{frame: loud},
		{frame: loud, delay: 20 * time.Millisecond},
		{frame: loud, delay: 20 * time.Millisecond},
		{frame: quiet, delay: 20 * time.Millisecond},
		{frame: loud, delay: 200 * time.Millisecond},
	}
	d, _ := newTestDetector(t, testConfig(), steps)

	var fired atomic.Int32
	d.SetCallback(func() { fired.Add(1) })

	errc := runListen(d)
	time.Sleep(400 * time.Millisecond)
	d.Stop()
	if err := <-errc; err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if got := fired.Load(); got != 2 {
		t.Fatalf("callback fired %d times, want 2 (once per cooldown window)", got)
	}
}

func TestConcreteCooldownScenario(t *testing.T) {
	// Spec scenario scaled to milliseconds: frame A fires, frame B half a
	// window later is suppressed, frame C past the window fires again.
	cfg := testConfig()
	cfg.Cooldown = 200 * time.Millisecond

	steps := []step{
		{frame: constFrame(0.25, 8)},                              // A
		{frame: constFrame(0.25, 8), delay: 50 * time.Millisecond}, // B, within cooldown
		{frame: constFrame(0.25, 8), delay: 200 * time.Millisecond}, // C, past cooldown
	}
	d, _ := newTestDetector(t, cfg, steps)

	var fired atomic.Int32
	d.SetCallback(func() { fired.Add(1) })

	errc := runListen(d)
	time.Sleep(350 * time.Millisecond)
	d.Stop()
	if err := <-errc; err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if got := fired.Load(); got != 2 {
		t.Fatalf("callback fired %d times, want 2 (A and C)", got)
	}
}

func TestStopReleasesStream(t *testing.T) {
	// Endless quiet stream: the script runs dry and Read blocks until the
	// detector closes the handle.
	var steps []step
	for i := 0; i < 50; i++ {
		steps = append(steps, step{frame: constFrame(0.05, 8), delay: 2 * time.Millisecond})
	}
	d, stream := newTestDetector(t, testConfig(), steps)

	errc := runListen(d)
	time.Sleep(30 * time.Millisecond)
	if !d.Listening() {
		t.Fatalf("detector not listening")
	}
	d.Stop()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Listen after Stop: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Listen did not return after Stop")
	}
	if d.Listening() {
		t.Fatalf("detector still listening after Stop")
	}
	if n := stream.closes.Load(); n != 1 {
		t.Fatalf("stream closed %d times, want exactly 1", n)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	d, _ := newTestDetector(t, testConfig(), nil)

	// Before Listen: no-op.
	d.Stop()

	errc := runListen(d)
	time.Sleep(10 * time.Millisecond)
	d.Stop()
	d.Stop()
	if err := <-errc; err != nil {
		t.Fatalf("Listen: %v", err)
	}
}

func TestPanickingCallbackKeepsLoopAlive(t *testing.T) {
	steps := []step{
		{frame: constFrame(0.25, 8)},
		{frame: constFrame(0.25, 8), delay: 200 * time.Millisecond},
	}
	d, _ := newTestDetector(t, testConfig(), steps)

	var fired atomic.Int32
	d.SetCallback(func() {
		fired.Add(1)
		panic("handler blew up")
	})

	errc := runListen(d)
	time.Sleep(300 * time.Millisecond)
	d.Stop()
	if err := <-errc; err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if got := fired.Load(); got != 2 {
		t.Fatalf("callback fired %d times, want 2 despite panics", got)
	}
}

func TestTransientErrorSkipsFrame(t *testing.T) {
	steps := []step{
		{err: fmt.Errorf("%w: input overflow", ErrTransient)},
		{frame: constFrame(0.25, 8)},
	}
	d, _ := newTestDetector(t, testConfig(), steps)

	var fired atomic.Int32
	d.SetCallback(func() { fired.Add(1) })

	errc := runListen(d)
	time.Sleep(50 * time.Millisecond)
	d.Stop()
	if err := <-errc; err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if got := fired.Load(); got != 1 {
		t.Fatalf("callback fired %d times, want 1 after transient fault", got)
	}
}

func TestFatalStreamErrorSurfaced(t *testing.T) {
	deviceGone := errors.New("device disappeared")
	steps := []step{
		{frame: constFrame(0.05, 8)},
		{err: deviceGone},
	}
	d, stream := newTestDetector(t, testConfig(), steps)

	err := d.Listen()
	if !errors.Is(err, deviceGone) {
		t.Fatalf("Listen = %v, want wrapped device error", err)
	}
	if d.Listening() {
		t.Fatalf("detector still listening after fatal stream error")
	}
	if n := stream.closes.Load(); n != 1 {
		t.Fatalf("stream closed %d times, want exactly 1", n)
	}
}

func TestListenTwiceConcurrentlyRejected(t *testing.T) {
	var steps []step
	for i := 0; i < 20; i++ {
		steps = append(steps, step{frame: constFrame(0.05, 8), delay: 5 * time.Millisecond})
	}
	d, _ := newTestDetector(t, testConfig(), steps)

	errc := runListen(d)
	time.Sleep(20 * time.Millisecond)
	if err := d.Listen(); !errors.Is(err, ErrBusy) {
		t.Fatalf("second Listen = %v, want ErrBusy", err)
	}
	d.Stop()
	if err := <-errc; err != nil {
		t.Fatalf("Listen: %v", err)
	}
}

func TestListenRestartsAfterStop(t *testing.T) {
	run := func() {
		stream := &fakeStream{
			steps: []step{{frame: constFrame(0.25, 8)}},
			done:  make(chan struct{}),
		}
		d, err := New(testConfig(), &fakeSource{stream: stream})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		var fired atomic.Int32
		d.SetCallback(func() { fired.Add(1) })
		errc := runListen(d)
		time.Sleep(30 * time.Millisecond)
		d.Stop()
		if err := <-errc; err != nil {
			t.Fatalf("Listen: %v", err)
		}
		if fired.Load() != 1 {
			t.Fatalf("callback fired %d times, want 1", fired.Load())
		}
	}
	run()
	run()
}

func TestSourceOpenGetsConfiguredFormat(t *testing.T) {
	stream := &fakeStream{done: make(chan struct{})}
	src := &fakeSource{stream: stream}
	cfg := testConfig()
	d, err := New(cfg, src)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	errc := runListen(d)
	time.Sleep(10 * time.Millisecond)
	d.Stop()
	<-errc

	if src.gotRate != cfg.SampleRate || src.gotFrame != cfg.FrameSize {
		t.Fatalf("source opened with %d/%d, want %d/%d",
			src.gotRate, src.gotFrame, cfg.SampleRate, cfg.FrameSize)
	}
}

func TestFullQueueDropsOldestFrame(t *testing.T) {
	// Each frame carries its index as the amplitude so the drop policy is
	// visible: with scoring stalled on the first frame and a queue of two,
	// a burst of 30 must shed at least 27 and keep the newest audio.
	const total = 30
	var steps []step
	for i := 1; i <= total; i++ {
		steps = append(steps, step{frame: constFrame(float32(i), 8)})
	}

	cfg := testConfig()
	cfg.QueueSize = 2
	d, _ := newTestDetector(t, cfg, steps)

	scorer := &gatedScorer{gate: make(chan struct{})}
	d.SetScorer(scorer)

	errc := runListen(d)

	// The drain loop holds at most one frame while the queue keeps two
	// more; everything else from the burst has to be discarded.
	waitFor(t, func() bool { return d.Dropped() >= total-3 })
	close(scorer.gate)
	waitFor(t, func() bool { return scorer.last() == total })

	d.Stop()
	if err := <-errc; err != nil {
		t.Fatalf("Listen: %v", err)
	}

	dropped := d.Dropped()
	if dropped == 0 {
		t.Fatalf("no frames dropped on a full queue")
	}
	if scored := len(scorer.scored()); uint64(scored)+dropped != total {
		t.Fatalf("scored %d + dropped %d, want every one of %d frames accounted for", scored, dropped, total)
	}
	if last := scorer.last(); last != total {
		t.Fatalf("last scored frame = %v, want the newest (%d) to survive", last, total)
	}
}

func TestStopRightAfterListenStarts(t *testing.T) {
	// A Stop issued as soon as the detector reports listening must end
	// that run, even when it races the startup handoff.
	for i := 0; i < 25; i++ {
		stream := &fakeStream{done: make(chan struct{})}
		d, err := New(testConfig(), &fakeSource{stream: stream})
		if err != nil {
			t.Fatalf("New: %v", err)
		}

		errc := runListen(d)
		waitFor(t, func() bool { return d.Listening() })
		d.Stop()

		select {
		case err := <-errc:
			if err != nil {
				t.Fatalf("Listen: %v", err)
			}
		case <-time.After(time.Second):
			t.Fatalf("Stop lost during startup, Listen never returned")
		}
	}
}

func TestSlowCallbackDoesNotStallDraining(t *testing.T) {
	// A callback slower than the whole script must not block the drain
	// loop: the quiet tail frames still get consumed and Stop is prompt.
	var release sync.WaitGroup
	release.Add(1)

	steps := []step{{frame: constFrame(0.25, 8)}}
	for i := 0; i < 20; i++ {
		steps = append(steps, step{frame: constFrame(0.05, 8), delay: time.Millisecond})
	}
	d, _ := newTestDetector(t, testConfig(), steps)

	d.SetCallback(func() { release.Wait() })

	errc := runListen(d)
	time.Sleep(80 * time.Millisecond)
	d.Stop()
	release.Done()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Listen: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("drain loop stalled behind slow callback")
	}
}
