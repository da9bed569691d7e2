// Package transport is the play/pause/stop/seek/loop state machine. Position
// is derived on demand from anchors (hardware time, beat, beat rate); loop
// wraps and tempo changes push new anchors instead of rewriting the past.
//
// While playing, a single pump event on the scheduler hands every follower
// the beat segments of the next window. Segments never overlap, so a beat is
// handed out exactly once even across a loop seam.
package transport

import (
	"math"

	"github.com/cbegin/dawcore/internal/scheduler"
	"github.com/cbegin/dawcore/internal/timing"
	"github.com/pion/logging"
	"github.com/pkg/errors"
)

var (
	ErrInvalidLoop          = errors.New("transport: loop start must be before loop end")
	ErrInvalidTimeSignature = errors.New("transport: invalid time signature")
)

const (
	DefaultWindow           = 0.2
	DefaultPositionInterval = 0.05
)

type Mode int

const (
	Stopped Mode = iota
	Playing
	Paused
)

func (m Mode) String() string {
	switch m {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "stopped"
	}
}

// State is the serializable transport snapshot.
type State struct {
	Playing       bool                 `json:"isPlaying"`
	Paused        bool                 `json:"isPaused"`
	Recording     bool                 `json:"isRecording"`
	Looping       bool                 `json:"isLooping"`
	Position      float64              `json:"currentTime"`
	Tempo         float64              `json:"tempo"`
	TimeSignature timing.TimeSignature `json:"timeSignature"`
	LoopStart     float64              `json:"loopStart"`
	LoopEnd       float64              `json:"loopEnd"`
	PlaybackSpeed float64              `json:"playbackSpeed"`
}

// PositionUpdate is the throttled position broadcast.
type PositionUpdate struct {
	Bar      int     `json:"bar"`
	Beat     int     `json:"beat"`
	Position float64 `json:"position"`
	Time     float64 `json:"time"`
}

// Listener receives transport notifications. Nil fields are skipped.
type Listener struct {
	State    func(State)
	Position func(PositionUpdate)
	Wrap     func(seam float64)
}

// Follower consumes the beat windows handed out while playing.
type Follower interface {
	// Window receives consecutive, non-overlapping segments.
	Window(segs []Segment)
	// Halt is called when playback stops, pauses or jumps. Anything the
	// follower started after now should be stopped.
	Halt(now float64)
}

type Config struct {
	Window           float64
	PositionInterval float64
	// StartDelay pushes the first beat of Play or Seek past now, so the
	// downbeat is handed out before the clock reaches it.
	StartDelay float64
}

type anchor struct {
	time  float64
	beat  float64
	rate  float64 // beats per second, speed included
	entry bool
}

func (a anchor) beatAt(t float64) float64 { return a.beat + (t-a.time)*a.rate }

type followerEntry struct {
	id int
	f  Follower
}

type Transport struct {
	sched *scheduler.Scheduler
	log   logging.LeveledLogger

	mode      Mode
	recording bool
	tempo     float64
	speed     float64
	sig       timing.TimeSignature
	looping   bool
	loopStart float64
	loopEnd   float64

	anchors  []anchor // sorted by time, at least one
	horizon  float64
	pumpEv   *scheduler.Event
	wrapEv   *scheduler.Event
	lastWrap float64

	window      float64
	posInterval float64
	startDelay  float64
	lastPos     float64

	followers []followerEntry
	nextID    int
	listeners []Listener
}

func New(sched *scheduler.Scheduler, cfg Config, log logging.LeveledLogger) *Transport {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.PositionInterval <= 0 {
		cfg.PositionInterval = DefaultPositionInterval
	}
	if log == nil {
		log = logging.NewDefaultLoggerFactory().NewLogger("transport")
	}
	t := &Transport{
		sched:       sched,
		log:         log,
		tempo:       timing.DefaultTempo,
		speed:       1,
		sig:         timing.CommonTime,
		loopEnd:     16,
		window:      cfg.Window,
		posInterval: cfg.PositionInterval,
		startDelay:  math.Max(cfg.StartDelay, 0),
		lastPos:     math.Inf(-1),
	}
	t.anchors = []anchor{{rate: t.rate()}}
	return t
}

func (t *Transport) rate() float64 { return t.tempo / 60 * t.speed }

func (t *Transport) Mode() Mode                          { return t.mode }
func (t *Transport) Playing() bool                       { return t.mode == Playing }
func (t *Transport) Tempo() float64                      { return t.tempo }
func (t *Transport) TimeSignature() timing.TimeSignature { return t.sig }
func (t *Transport) Looping() bool                       { return t.looping }
func (t *Transport) LoopRange() (start, end float64)     { return t.loopStart, t.loopEnd }

// Listen registers l. The returned func removes it.
func (t *Transport) Listen(l Listener) (cancel func()) {
	t.listeners = append(t.listeners, l)
	idx := len(t.listeners) - 1
	return func() {
		if idx < len(t.listeners) {
			t.listeners[idx] = Listener{}
		}
	}
}

// Follow attaches f to the window pump.
func (t *Transport) Follow(f Follower) (cancel func()) {
	id := t.nextID
	t.nextID++
	t.followers = append(t.followers, followerEntry{id: id, f: f})
	return func() {
		for i, e := range t.followers {
			if e.id == id {
				t.followers = append(t.followers[:i], t.followers[i+1:]...)
				return
			}
		}
	}
}

// Position is the beat position at hardware time now. While looping it
// always lies in [loopStart, loopEnd) once the loop has been entered.
func (t *Transport) Position(now float64) float64 {
	if t.mode != Playing {
		return t.anchors[len(t.anchors)-1].beat
	}
	a := t.resolve(now)
	if now < a.time {
		return a.beat
	}
	b, _ := t.fold(a.beatAt(now))
	return b
}

// fold maps a beat at or past the loop end back to the loop start.
func (t *Transport) fold(beat float64) (float64, bool) {
	if t.looping && beat >= t.loopEnd {
		return t.loopStart, true
	}
	return beat, false
}

// resolve returns the anchor in effect at time tm, following loop seams that
// have not been pushed as anchors yet.
func (t *Transport) resolve(tm float64) anchor {
	a := t.anchors[0]
	for _, x := range t.anchors[1:] {
		if x.time > tm {
			break
		}
		a = x
	}
	for {
		s, ok := t.seamOf(a)
		if !ok || s > tm {
			return a
		}
		a = t.wrapAnchor(s, a.rate)
	}
}

func (t *Transport) nextAnchorAfter(tm float64) (anchor, bool) {
	for _, x := range t.anchors {
		if x.time > tm {
			return x, true
		}
	}
	return anchor{}, false
}

func (t *Transport) seamOf(a anchor) (float64, bool) {
	if !t.looping || a.rate <= 0 || a.beat >= t.loopEnd {
		return 0, false
	}
	return a.time + (t.loopEnd-a.beat)/a.rate, true
}

func (t *Transport) wrapAnchor(seam, rate float64) anchor {
	return anchor{time: seam, beat: t.loopStart, rate: rate, entry: true}
}

// Segments maps the hardware window [t0, t1) to beat segments, split at loop
// seams and anchor changes.
func (t *Transport) Segments(t0, t1 float64) []Segment {
	if t.mode != Playing || t1 <= t0 {
		return nil
	}
	var segs []Segment
	cur := t.resolve(t0)
	for t0 < t1 {
		end := t1
		var next anchor
		hasNext := false
		if n, ok := t.nextAnchorAfter(t0); ok && n.time < end {
			end, next, hasNext = n.time, n, true
		}
		wrapped := false
		if s, ok := t.seamOf(cur); ok && s > t0 && s <= end {
			end, next, hasNext, wrapped = s, t.wrapAnchor(s, cur.rate), true, true
		}
		b0 := cur.beatAt(t0)
		if t0 == cur.time {
			b0 = cur.beat
		}
		b1 := cur.beatAt(end)
		if wrapped {
			b1 = t.loopEnd
		}
		segs = append(segs, Segment{
			T0:    t0,
			T1:    end,
			B0:    b0,
			B1:    b1,
			Rate:  cur.rate,
			Entry: cur.entry && t0 == cur.time,
			Wrap:  wrapped,
		})
		if !hasNext {
			break
		}
		cur, t0 = next, end
	}
	return segs
}

func (t *Transport) Play(now float64) {
	if t.mode == Playing {
		return
	}
	pos := t.anchors[len(t.anchors)-1].beat
	t.mode = Playing
	t.start(now, pos)
	t.log.Infof("play at %.3fs from beat %.3f", now, pos)
	t.notifyState(now)
}

func (t *Transport) start(now, pos float64) {
	at := now + t.startDelay
	pos, _ = t.fold(pos)
	t.anchors = []anchor{{time: at, beat: pos, rate: t.rate(), entry: true}}
	t.horizon = at
	t.lastWrap = at
	t.rescheduleWrap()
	t.sched.Cancel(t.pumpEv)
	t.pump(now)
}

func (t *Transport) Pause(now float64) {
	if t.mode != Playing {
		return
	}
	pos := t.Position(now)
	t.halt(now, pos)
	t.mode = Paused
	t.log.Infof("pause at beat %.3f", pos)
	t.notifyState(now)
}

// Stop halts playback and rewinds to beat 0.
func (t *Transport) Stop(now float64) {
	t.halt(now, 0)
	t.mode = Stopped
	t.log.Info("stop")
	t.notifyState(now)
}

func (t *Transport) halt(now, pos float64) {
	t.sched.Cancel(t.pumpEv)
	t.sched.Cancel(t.wrapEv)
	t.pumpEv, t.wrapEv = nil, nil
	if t.mode == Playing {
		for _, e := range t.followers {
			e.f.Halt(now)
		}
	}
	t.anchors = []anchor{{time: now, beat: pos, rate: t.rate()}}
	t.horizon = now
}

// Seek moves to beats without changing the play state.
func (t *Transport) Seek(beats, now float64) {
	if beats < 0 || math.IsNaN(beats) {
		beats = 0
	}
	if t.mode == Playing {
		for _, e := range t.followers {
			e.f.Halt(now)
		}
		t.start(now, beats)
	} else {
		beats, _ = t.fold(beats)
		t.anchors = []anchor{{time: now, beat: beats, rate: t.rate()}}
	}
	t.notifyState(now)
}

// SetLoop configures the loop region. Enabling a loop requires start < end.
func (t *Transport) SetLoop(enabled bool, start, end, now float64) error {
	if enabled && (start < 0 || !(start < end)) {
		return errors.Wrapf(ErrInvalidLoop, "start=%v end=%v", start, end)
	}
	if !enabled && start >= end {
		start, end = t.loopStart, t.loopEnd
	}
	t.reanchor(func() {
		t.looping = enabled
		t.loopStart = start
		t.loopEnd = end
	})
	t.notifyState(now)
	return nil
}

// SetTempo clamps bpm to the supported range. While playing, the change takes
// effect at the pump horizon so beats already handed out keep their times.
func (t *Transport) SetTempo(bpm, now float64) {
	bpm = timing.ClampTempo(bpm)
	if bpm == t.tempo {
		return
	}
	t.reanchor(func() { t.tempo = bpm })
	t.notifyState(now)
}

func (t *Transport) SetPlaybackSpeed(speed, now float64) {
	if speed <= 0 || math.IsNaN(speed) {
		speed = 1
	}
	if speed == t.speed {
		return
	}
	t.reanchor(func() { t.speed = speed })
	t.notifyState(now)
}

func (t *Transport) SetTimeSignature(num, den int) error {
	ts := timing.TimeSignature{Numerator: num, Denominator: den}
	if !ts.Valid() {
		return errors.Wrapf(ErrInvalidTimeSignature, "%d/%d", num, den)
	}
	t.sig = ts
	t.notifyState(t.sched.Now())
	return nil
}

func (t *Transport) SetRecording(on bool) {
	t.recording = on
	t.notifyState(t.sched.Now())
}

// reanchor applies change at the horizon: the beat there is computed under
// the old settings and becomes the start of a new anchor.
func (t *Transport) reanchor(change func()) {
	if t.mode != Playing {
		change()
		last := &t.anchors[len(t.anchors)-1]
		last.rate = t.rate()
		last.beat, _ = t.fold(last.beat)
		return
	}
	h := t.horizon
	a := t.resolve(h)
	b := a.beatAt(h)
	if h == a.time {
		b = a.beat
	}
	change()
	keep := t.anchors[:0]
	for _, x := range t.anchors {
		if x.time < h {
			keep = append(keep, x)
		}
	}
	next := anchor{time: h, beat: b, rate: t.rate(), entry: h == a.time && a.entry}
	if _, wrapped := t.fold(b); wrapped {
		// Already past the new loop end: enter the loop at the horizon.
		next = t.wrapAnchor(h, next.rate)
		t.lastWrap = h
	}
	t.anchors = append(keep, next)
	t.rescheduleWrap()
}

func (t *Transport) rescheduleWrap() {
	t.sched.Cancel(t.wrapEv)
	t.wrapEv = nil
	if t.mode != Playing || !t.looping {
		return
	}
	a := t.resolve(t.lastWrap)
	for {
		s, ok := t.seamOf(a)
		if !ok {
			return
		}
		if n, has := t.nextAnchorAfter(a.time); has && n.time < s {
			a = n
			continue
		}
		t.wrapEv = t.sched.ScheduleEssential(s, func(float64) { t.onWrap(s) })
		return
	}
}

func (t *Transport) onWrap(seam float64) {
	t.wrapEv = nil
	t.lastWrap = seam
	last := t.anchors[len(t.anchors)-1]
	if last.time < seam {
		t.anchors = append(t.anchors, t.wrapAnchor(seam, last.rate))
	}
	t.log.Debugf("loop wrap at %.4fs", seam)
	for _, l := range t.listeners {
		if l.Wrap != nil {
			l.Wrap(seam)
		}
	}
	t.rescheduleWrap()
}

// pump hands followers the next window and re-schedules itself.
func (t *Transport) pump(firedAt float64) {
	t.pumpEv = nil
	if t.mode != Playing {
		return
	}
	start := t.horizon
	if firedAt-start > t.sched.Lookahead() {
		// Tick gap: skip the missed span instead of flooding late events.
		t.log.Debugf("pump skipped %.3fs", firedAt-start)
		start = firedAt
	}
	end := math.Max(start, firedAt+t.sched.Lookahead()) + t.window
	segs := t.Segments(start, end)
	t.horizon = end
	for _, e := range append([]followerEntry(nil), t.followers...) {
		e.f.Window(segs)
	}
	if t.mode == Playing {
		t.pumpEv = t.sched.ScheduleEssential(end-t.window/2, t.pump)
	}
}

// Tick prunes old anchors and emits throttled position updates.
func (t *Transport) Tick(now float64) {
	if t.mode != Playing {
		return
	}
	i := 0
	for i+1 < len(t.anchors) && t.anchors[i+1].time <= now {
		i++
	}
	t.anchors = t.anchors[i:]
	if now-t.lastPos >= t.posInterval {
		t.emitPosition(now)
	}
}

func (t *Transport) emitPosition(now float64) {
	t.lastPos = now
	pos := t.Position(now)
	bar, beat := timing.BarBeat(pos, t.sig)
	u := PositionUpdate{Bar: bar, Beat: beat, Position: pos, Time: now}
	for _, l := range t.listeners {
		if l.Position != nil {
			l.Position(u)
		}
	}
}

func (t *Transport) notifyState(now float64) {
	s := t.snapshot(now)
	for _, l := range t.listeners {
		if l.State != nil {
			l.State(s)
		}
	}
	t.emitPosition(now)
}

// Snapshot returns the state at hardware time now.
func (t *Transport) Snapshot(now float64) State { return t.snapshot(now) }

func (t *Transport) snapshot(now float64) State {
	return State{
		Playing:       t.mode == Playing,
		Paused:        t.mode == Paused,
		Recording:     t.recording,
		Looping:       t.looping,
		Position:      t.Position(now),
		Tempo:         t.tempo,
		TimeSignature: t.sig,
		LoopStart:     t.loopStart,
		LoopEnd:       t.loopEnd,
		PlaybackSpeed: t.speed,
	}
}

// Restore applies a persisted snapshot. Playback never resumes on restore:
// a snapshot taken while playing comes back paused at its position.
func (t *Transport) Restore(s State, now float64) error {
	if !s.TimeSignature.Valid() {
		return errors.Wrapf(ErrInvalidTimeSignature, "%d/%d", s.TimeSignature.Numerator, s.TimeSignature.Denominator)
	}
	if s.Looping && !(s.LoopStart < s.LoopEnd) {
		return errors.Wrapf(ErrInvalidLoop, "start=%v end=%v", s.LoopStart, s.LoopEnd)
	}
	if t.mode == Playing {
		t.halt(now, 0)
	}
	t.mode = Stopped
	if s.Paused || s.Playing {
		t.mode = Paused
	}
	t.tempo = timing.ClampTempo(s.Tempo)
	t.speed = s.PlaybackSpeed
	if t.speed <= 0 {
		t.speed = 1
	}
	t.sig = s.TimeSignature
	t.looping = s.Looping
	if s.LoopStart < s.LoopEnd {
		t.loopStart, t.loopEnd = s.LoopStart, s.LoopEnd
	}
	t.recording = s.Recording
	pos, _ := t.fold(math.Max(0, s.Position))
	t.anchors = []anchor{{time: now, beat: pos, rate: t.rate()}}
	t.notifyState(now)
	return nil
}
