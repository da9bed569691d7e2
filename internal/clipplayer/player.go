// Package clipplayer plays timeline clips in step with the transport.
// Audio clips run through BufferSource -> clip gain -> track gain -> out;
// note clips drive the track's instrument.
package clipplayer

import (
	"math"

	"github.com/cbegin/dawcore/internal/graph"
	"github.com/cbegin/dawcore/internal/instrument"
	"github.com/cbegin/dawcore/internal/scheduler"
	"github.com/cbegin/dawcore/internal/timeline"
	"github.com/cbegin/dawcore/internal/transport"
	"github.com/pion/logging"
)

const teardownMargin = 0.05

// Buffers resolves a clip's buffer id.
type Buffers interface {
	Get(id string) (*graph.Buffer, error)
}

// Instruments resolves a track's instrument id.
type Instruments func(id string) (instrument.Instrument, bool)

type playing struct {
	clipID  string
	trackID string
	src     *graph.BufferSource
	amp     *graph.Gain
	stop    float64
}

type heldNote struct {
	trackID string
	inst    instrument.Instrument
	pitch   int
	off     float64
	ev      *scheduler.Event
}

type Player struct {
	ctx         *graph.Context
	sched       *scheduler.Scheduler
	store       *timeline.Store
	out         graph.Node
	buffers     Buffers
	instruments Instruments
	log         logging.LeveledLogger

	tracks  map[string]*graph.Gain
	playing []*playing
	held    []*heldNote
	pending []*scheduler.Event
	seams   []float64
	unsub   func()
}

func New(ctx *graph.Context, sched *scheduler.Scheduler, store *timeline.Store, out graph.Node,
	buffers Buffers, instruments Instruments, log logging.LeveledLogger) *Player {
	p := &Player{
		ctx:         ctx,
		sched:       sched,
		store:       store,
		out:         out,
		buffers:     buffers,
		instruments: instruments,
		log:         log,
		tracks:      make(map[string]*graph.Gain),
	}
	for _, t := range store.Tracks() {
		p.syncTrack(t.ID)
	}
	p.unsub = store.Subscribe(p.onChange)
	return p
}

func (p *Player) onChange(c timeline.Change) {
	switch c.Kind {
	case timeline.TrackCreated, timeline.TrackUpdated:
		p.syncTrack(c.TrackID)
	case timeline.TrackDeleted:
		p.dropTrack(c.TrackID)
	case timeline.ClipRemoved:
		p.stopClip(c.ClipID, p.ctx.CurrentTime())
	case timeline.Restored:
		for id := range p.tracks {
			if _, ok := p.store.Track(id); !ok {
				p.dropTrack(id)
			}
		}
		for _, t := range p.store.Tracks() {
			p.syncTrack(t.ID)
		}
	}
}

// TrackOutput returns the gain node for a track, creating it if needed.
// Instruments assigned to a track connect here.
func (p *Player) TrackOutput(trackID string) *graph.Gain {
	if g, ok := p.tracks[trackID]; ok {
		return g
	}
	return p.syncTrack(trackID)
}

func (p *Player) syncTrack(id string) *graph.Gain {
	t, ok := p.store.Track(id)
	if !ok {
		return nil
	}
	g, ok := p.tracks[id]
	if !ok {
		g = p.ctx.NewGain(0)
		g.Connect(p.out)
		p.tracks[id] = g
	}
	gain := t.Gain
	if t.Muted {
		gain = 0
	}
	now := p.ctx.CurrentTime()
	g.Gain().CancelScheduledValues(now)
	g.Gain().SetValueAtTime(gain, now)
	return g
}

func (p *Player) dropTrack(id string) {
	now := p.ctx.CurrentTime()
	for _, pl := range append([]*playing(nil), p.playing...) {
		if pl.trackID == id {
			p.stopPlaying(pl, now)
		}
	}
	for _, h := range append([]*heldNote(nil), p.held...) {
		if h.trackID == id {
			p.releaseHeld(h, now)
		}
	}
	if g, ok := p.tracks[id]; ok {
		g.Disconnect()
		delete(p.tracks, id)
	}
}

// Window schedules clip starts and note events for the transport window.
func (p *Player) Window(segs []transport.Segment) {
	p.prune()
	for _, seg := range segs {
		if seg.Rate <= 0 {
			continue
		}
		if seg.Wrap {
			p.seams = append(p.seams, seg.T1)
			p.cutAt(seg.T1)
		}
		for _, c := range p.store.ClipsInRange(seg.B0, seg.B1) {
			t, ok := p.store.Track(c.TrackID)
			if !ok || t.Muted {
				continue
			}
			if c.BufferID != "" {
				p.scheduleAudio(c, seg)
			}
			if len(c.Notes) > 0 && t.InstrumentID != "" {
				p.scheduleNotes(c, t, seg)
			}
		}
	}
}

func (p *Player) prune() {
	live := p.pending[:0]
	for _, ev := range p.pending {
		if ev.Pending() {
			live = append(live, ev)
		}
	}
	p.pending = live
	now := p.sched.Now()
	seams := p.seams[:0]
	for _, s := range p.seams {
		if s >= now {
			seams = append(seams, s)
		}
	}
	p.seams = seams
}

// seamAfter returns the first known loop seam after t, or +Inf.
func (p *Player) seamAfter(t float64) float64 {
	seam := math.Inf(1)
	for _, s := range p.seams {
		if s > t && s < seam {
			seam = s
		}
	}
	return seam
}

func (p *Player) scheduleAudio(c timeline.Clip, seg transport.Segment) {
	startBeat := c.Start
	if !seg.Contains(c.Start) {
		if !seg.Entry {
			return
		}
		startBeat = seg.B0
	}
	at := seg.TimeAt(startBeat)
	// Audio plays at its own rate; the clip length is fixed at the tempo
	// in force when it starts.
	into := (startBeat - c.Start) / seg.Rate
	stop := at + (c.End()-startBeat)/seg.Rate
	fadeOutEnd := stop
	if seg.Wrap && c.End() > seg.B1 {
		stop = seg.T1
	}
	ev := p.sched.Schedule(at, func(float64) {
		p.startAudio(c, at, into, stop, fadeOutEnd)
	})
	p.pending = append(p.pending, ev)
}

func (p *Player) startAudio(c timeline.Clip, at, into, stop, naturalEnd float64) {
	buf, err := p.buffers.Get(c.BufferID)
	if err != nil {
		p.log.Warnf("clip %s: %v", c.ID, err)
		return
	}
	track, ok := p.tracks[c.TrackID]
	if !ok {
		return
	}
	if seam := p.seamAfter(at); seam < stop {
		stop = seam
	}
	offset := c.Offset + c.TrimStart + into
	avail := buf.Duration() - c.TrimEnd - offset
	if avail <= 0 {
		return
	}
	if stop-at > avail {
		stop = at + avail
		naturalEnd = stop
	}

	src := p.ctx.NewBufferSource(buf)
	amp := p.ctx.NewGain(0)
	src.Connect(amp)
	amp.Connect(track)

	g := amp.Gain()
	if c.FadeIn > 0 && into < c.FadeIn {
		g.SetValueAtTime(c.Gain*into/c.FadeIn, at)
		g.LinearRampToValueAtTime(c.Gain, at+c.FadeIn-into)
	} else {
		g.SetValueAtTime(c.Gain, at)
	}
	if c.FadeOut > 0 && naturalEnd-c.FadeOut > at {
		g.SetValueAtTime(c.Gain, naturalEnd-c.FadeOut)
		g.LinearRampToValueAtTime(0, naturalEnd)
	}
	src.Start(at, offset, stop-at)

	pl := &playing{clipID: c.ID, trackID: c.TrackID, src: src, amp: amp, stop: stop}
	p.playing = append(p.playing, pl)
	p.sched.ScheduleTeardown(stop+teardownMargin, func(float64) { p.teardown(pl) })
}

func (p *Player) scheduleNotes(c timeline.Clip, t timeline.Track, seg transport.Segment) {
	inst, ok := p.instruments(t.InstrumentID)
	if !ok {
		p.log.Warnf("track %s: instrument %s not found", t.ID, t.InstrumentID)
		return
	}
	for _, n := range c.Notes {
		beat := c.Start + n.Start
		if !seg.Contains(beat) || beat >= c.End() {
			continue
		}
		at := seg.TimeAt(beat)
		off := at + math.Min(n.Duration, c.End()-beat)/seg.Rate
		if seg.Wrap && off > seg.T1 {
			off = seg.T1
		}
		n := n
		ev := p.sched.Schedule(at, func(float64) {
			if seam := p.seamAfter(at); seam < off {
				off = seam
			}
			p.supersede(inst, n.Pitch, at)
			inst.NoteOn(n.Pitch, n.Velocity, at)
			h := &heldNote{trackID: t.ID, inst: inst, pitch: n.Pitch, off: off}
			p.scheduleOff(h)
			p.held = append(p.held, h)
		})
		p.pending = append(p.pending, ev)
	}
}

// cutAt ends everything still sounding past a loop seam.
func (p *Player) cutAt(seam float64) {
	for _, pl := range p.playing {
		if pl.stop > seam {
			pl.src.Stop(seam)
			pl.stop = seam
		}
	}
	for _, h := range p.held {
		if h.off > seam {
			p.sched.Cancel(h.ev)
			h.off = seam
			p.scheduleOff(h)
		}
	}
}

// scheduleOff sends the note-off ahead of h.off at its exact time. It is
// essential so a late tick still releases the note.
func (p *Player) scheduleOff(h *heldNote) {
	h.ev = p.sched.ScheduleEssential(h.off, func(float64) {
		p.forgetHeld(h)
		h.inst.NoteOff(h.pitch, h.off)
	})
}

// supersede retires held notes of pitch on inst before a new note-on at at,
// so their pending note-off cannot release the new voice. Notes that ended
// by at get their note-off now; overlapping ones are retriggered by the
// instrument.
func (p *Player) supersede(inst instrument.Instrument, pitch int, at float64) {
	for _, h := range append([]*heldNote(nil), p.held...) {
		if h.inst != inst || h.pitch != pitch {
			continue
		}
		p.sched.Cancel(h.ev)
		p.forgetHeld(h)
		if h.off <= at {
			inst.NoteOff(pitch, h.off)
		}
	}
}

func (p *Player) stopClip(clipID string, now float64) {
	for _, pl := range append([]*playing(nil), p.playing...) {
		if pl.clipID == clipID {
			p.stopPlaying(pl, now)
		}
	}
}

func (p *Player) stopPlaying(pl *playing, now float64) {
	pl.src.Stop(now)
	pl.stop = now
	p.sched.ScheduleTeardown(now+teardownMargin, func(float64) { p.teardown(pl) })
}

func (p *Player) teardown(pl *playing) {
	for i, x := range p.playing {
		if x == pl {
			p.playing = append(p.playing[:i], p.playing[i+1:]...)
			pl.src.Disconnect()
			pl.amp.Disconnect()
			return
		}
	}
}

func (p *Player) releaseHeld(h *heldNote, now float64) {
	p.sched.Cancel(h.ev)
	p.forgetHeld(h)
	h.inst.NoteOff(h.pitch, now)
}

func (p *Player) forgetHeld(h *heldNote) {
	for i, x := range p.held {
		if x == h {
			p.held = append(p.held[:i], p.held[i+1:]...)
			return
		}
	}
}

// Playing is the number of audio clips currently started.
func (p *Player) Playing() int { return len(p.playing) }

// Held is the number of clip notes waiting for their note-off.
func (p *Player) Held() int { return len(p.held) }

// Halt cancels pending starts, stops sounding clips and releases held
// notes at now.
func (p *Player) Halt(now float64) {
	for _, ev := range p.pending {
		p.sched.Cancel(ev)
	}
	p.pending = nil
	p.seams = nil
	for _, pl := range append([]*playing(nil), p.playing...) {
		p.stopPlaying(pl, now)
	}
	for _, h := range append([]*heldNote(nil), p.held...) {
		p.releaseHeld(h, now)
	}
}

// Dispose halts playback and detaches from the store.
func (p *Player) Dispose() {
	p.Halt(p.ctx.CurrentTime())
	if p.unsub != nil {
		p.unsub()
		p.unsub = nil
	}
	for id, g := range p.tracks {
		g.Disconnect()
		delete(p.tracks, id)
	}
}
