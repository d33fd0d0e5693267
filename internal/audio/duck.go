package audio

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

var volumeRe = regexp.MustCompile(`(\d+)\s*%`)

type playbackStream struct {
	ID      int
	Volume  int
	AppName string
}

type fadeStep struct {
	id   int
	from int
	to   int
}

// Ducker lowers every other PulseAudio playback stream while the
// assistant is listening and restores them afterwards. Streams whose
// application.name matches one of selfNames are left alone so the
// assistant never ducks its own speech.
type Ducker struct {
	mu        sync.Mutex
	active    bool
	selfNames []string
	restore   map[int]int // stream id -> volume before ducking
	floor     int         // lowest volume ducking may reach, percent
}

func NewDucker(selfNames []string, floor int) *Ducker {
	if floor < 0 {
		floor = 0
	}
	if floor > 100 {
		floor = 100
	}
	return &Ducker{
		selfNames: append([]string(nil), selfNames...),
		restore:   make(map[int]int),
		floor:     floor,
	}
}

// Duck fades foreign streams down to current*factor (bounded by the
// floor). A second Duck before Restore is a no-op.
func (d *Ducker) Duck(ctx context.Context, factor float64, fade time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active {
		return nil
	}

	streams, err := listPlaybackStreams(ctx)
	if err != nil {
		return fmt.Errorf("list streams: %w", err)
	}

	d.restore = make(map[int]int)
	var steps []fadeStep
	for _, s := range streams {
		if d.isSelf(s) {
			continue
		}
		to := int(math.Round(float64(s.Volume) * factor))
		if to < d.floor {
			to = d.floor
		}
		d.restore[s.ID] = s.Volume
		steps = append(steps, fadeStep{id: s.ID, from: s.Volume, to: to})
	}

	if err := fadeStreams(ctx, steps, fade); err != nil {
		return err
	}
	d.active = true
	return nil
}

// Restore fades previously ducked streams back to their original volumes.
// Streams that appeared after Duck are left untouched.
func (d *Ducker) Restore(ctx context.Context, fade time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active {
		return nil
	}

	streams, err := listPlaybackStreams(ctx)
	if err != nil {
		return fmt.Errorf("list streams: %w", err)
	}

	var steps []fadeStep
	for _, s := range streams {
		orig, ok := d.restore[s.ID]
		if !ok {
			continue
		}
		steps = append(steps, fadeStep{id: s.ID, from: s.Volume, to: orig})
	}

	if err := fadeStreams(ctx, steps, fade); err != nil {
		return err
	}
	d.restore = make(map[int]int)
	d.active = false
	return nil
}

func (d *Ducker) isSelf(s playbackStream) bool {
	for _, name := range d.selfNames {
		if s.AppName == name {
			return true
		}
	}
	return false
}

func fadeStreams(ctx context.Context, steps []fadeStep, fade time.Duration) error {
	if len(steps) == 0 {
		return nil
	}

	const tick = 10 * time.Millisecond
	n := int(fade / tick)
	if n < 1 {
		n = 1
	}

	for i := 0; i <= n; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frac := float64(i) / float64(n)
		for _, s := range steps {
			v := int(math.Round(float64(s.from) + float64(s.to-s.from)*frac))
			if err := setStreamVolume(ctx, s.id, v); err != nil {
				return fmt.Errorf("set volume id=%d: %w", s.id, err)
			}
		}
		if i < n {
			time.Sleep(fade / time.Duration(n))
		}
	}
	return nil
}

func listPlaybackStreams(ctx context.Context) ([]playbackStream, error) {
	out, err := exec.CommandContext(ctx, "pactl", "list", "sink-inputs").Output()
	if err != nil {
		return nil, fmt.Errorf("pactl list sink-inputs: %w", err)
	}

	blocks := strings.Split(string(out), "Sink Input #")
	var res []playbackStream
	for _, block := range blocks[1:] {
		nl := strings.IndexByte(block, '\n')
		if nl <= 0 {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(block[:nl]))
		if err != nil {
			continue
		}

		s := playbackStream{ID: id}
		for _, line := range strings.Split(block[nl+1:], "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "Volume:") && s.Volume == 0 {
				if m := volumeRe.FindStringSubmatch(line); len(m) >= 2 {
					s.Volume, _ = strconv.Atoi(m[1])
				}
			}
			if strings.HasPrefix(line, "application.name =") && s.AppName == "" {
				if parts := strings.SplitN(line, "\"", 3); len(parts) >= 2 {
					s.AppName = parts[1]
				}
			}
		}
		if s.Volume == 0 && s.AppName == "" {
			continue
		}
		res = append(res, s)
	}
	return res, nil
}

func setStreamVolume(ctx context.Context, id, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return exec.CommandContext(ctx, "pactl",
		"set-sink-input-volume", strconv.Itoa(id), fmt.Sprintf("%d%%", percent)).Run()
}
