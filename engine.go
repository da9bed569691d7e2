package dawcore

import (
	"context"
	"math"
	"sync"
	"time"

	intaudio "github.com/cbegin/dawcore/internal/audio"
	intcache "github.com/cbegin/dawcore/internal/buffercache"
	intclip "github.com/cbegin/dawcore/internal/clipplayer"
	intclock "github.com/cbegin/dawcore/internal/clock"
	intcfg "github.com/cbegin/dawcore/internal/config"
	intfx "github.com/cbegin/dawcore/internal/effects"
	intgraph "github.com/cbegin/dawcore/internal/graph"
	intinst "github.com/cbegin/dawcore/internal/instrument"
	intsched "github.com/cbegin/dawcore/internal/scheduler"
	intline "github.com/cbegin/dawcore/internal/timeline"
	inttr "github.com/cbegin/dawcore/internal/transport"
	"github.com/pion/logging"
	"github.com/pkg/errors"
)

var (
	// ErrUnknownInstrument is returned by CreateInstrument for an
	// unrecognized type name.
	ErrUnknownInstrument = intinst.ErrUnknownType
	ErrPresetMismatch    = intinst.ErrPresetMismatch
	ErrInvalidLoop       = inttr.ErrInvalidLoop
	ErrInvalidSignature  = inttr.ErrInvalidTimeSignature
	ErrTrackNotFound     = intline.ErrTrackNotFound
	ErrClipNotFound      = intline.ErrClipNotFound
	ErrInvalidClip       = intline.ErrInvalidClip
	ErrSampleNotFound    = intcache.ErrNotFound

	ErrDisposed           = errors.New("dawcore: engine disposed")
	ErrNotOffline         = errors.New("dawcore: operation requires an offline engine")
	ErrInstrumentNotFound = errors.New("dawcore: instrument not found")
	ErrUnsupported        = errors.New("dawcore: not supported by this instrument")
	ErrUnknownEffect      = intfx.ErrUnknownEffect
)

type (
	TransportState = inttr.State
	PositionUpdate = inttr.PositionUpdate
	Track          = intline.Track
	Clip           = intline.Clip
	Note           = intline.Note
	Preset         = intinst.Preset
	InstrumentType = intinst.Type
)

type EventKind string

const (
	EventTransportState    EventKind = "transport:state"
	EventTransportPosition EventKind = "transport:position"
	EventMetronomeTick     EventKind = "metronome:tick"
	EventTrackUpdated      EventKind = "track:updated"
	EventError             EventKind = "engine:error"
	EventLoop              EventKind = "transport:loop"
)

// Event carries engine notifications from Watch(). Only the fields that
// belong to Kind are set.
type Event struct {
	Kind     EventKind
	Time     float64 // hardware seconds
	State    TransportState
	Position PositionUpdate
	Bar      int
	Beat     int
	TrackID  string
	Err      error
}

type Option func(*engineConfig)

type engineConfig struct {
	sampleRate       int
	tickFrames       int
	lookahead        float64
	window           float64
	positionInterval float64
	teardownMargin   float64
	offline          bool
	loggers          logging.LoggerFactory
	fetch            intcache.FetchFunc
	sampleTap        func([]float32)
	bufferSize       time.Duration
}

func defaultEngineConfig() engineConfig {
	c := intcfg.Load()
	f := logging.NewDefaultLoggerFactory()
	f.DefaultLogLevel = c.LogLevel
	return engineConfig{
		sampleRate:       c.SampleRate,
		tickFrames:       c.TickFrames,
		lookahead:        c.Lookahead.Seconds(),
		window:           c.Window.Seconds(),
		positionInterval: c.PositionInterval.Seconds(),
		teardownMargin:   c.TeardownMargin.Seconds(),
		loggers:          f,
		fetch:            intcache.FileFetch,
	}
}

func WithSampleRate(rate int) Option {
	return func(cfg *engineConfig) {
		cfg.sampleRate = rate
	}
}

// WithOffline builds an engine without an audio device. Time only moves
// through Advance and Bounce.
func WithOffline(enabled bool) Option {
	return func(cfg *engineConfig) {
		cfg.offline = enabled
	}
}

func WithLoggerFactory(f logging.LoggerFactory) Option {
	return func(cfg *engineConfig) {
		cfg.loggers = f
	}
}

// WithLookahead sets how far ahead of the clock events fire, in seconds.
func WithLookahead(seconds float64) Option {
	return func(cfg *engineConfig) {
		cfg.lookahead = seconds
	}
}

// WithWindow sets the transport scheduling window, in seconds.
func WithWindow(seconds float64) Option {
	return func(cfg *engineConfig) {
		cfg.window = seconds
	}
}

func WithTickFrames(frames int) Option {
	return func(cfg *engineConfig) {
		cfg.tickFrames = frames
	}
}

func WithTeardownMargin(seconds float64) Option {
	return func(cfg *engineConfig) {
		cfg.teardownMargin = seconds
	}
}

func WithPositionInterval(seconds float64) Option {
	return func(cfg *engineConfig) {
		cfg.positionInterval = seconds
	}
}

// WithFetch replaces how LoadSample opens URLs. The default reads local
// files.
func WithFetch(fetch intcache.FetchFunc) Option {
	return func(cfg *engineConfig) {
		cfg.fetch = fetch
	}
}

// WithSampleTap installs a callback invoked with each rendered stereo buffer.
// The callback runs on the audio thread; keep work brief and non-blocking.
func WithSampleTap(tap func([]float32)) Option {
	return func(cfg *engineConfig) {
		cfg.sampleTap = tap
	}
}

// WithBufferSize bounds the audio device buffer.
func WithBufferSize(d time.Duration) Option {
	return func(cfg *engineConfig) {
		cfg.bufferSize = d
	}
}

// Engine owns the graph, clock, scheduler, transport, timeline and
// instruments of one session. Every public method is safe for concurrent
// use; the realtime control loop takes the same lock.
type Engine struct {
	mu  sync.Mutex
	cfg engineConfig
	log logging.LeveledLogger

	ctx       *intgraph.Context
	clock     *intclock.Clock
	sched     *intsched.Scheduler
	transport *inttr.Transport
	metronome *inttr.Metronome
	metroOff  func()
	timeline  *intline.Store
	clips     *intclip.Player
	cache     *intcache.Cache
	bus       *intfx.Bus

	instruments map[string]*Instrument
	order       []string

	output   *intaudio.Output
	ticks    chan float64
	done     chan struct{}
	wg       sync.WaitGroup
	started  bool
	disposed bool
	cancels  []func()

	eventCh   chan Event
	eventChMu sync.Mutex
}

func New(opts ...Option) (*Engine, error) {
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	if cfg.loggers == nil {
		cfg.loggers = logging.NewDefaultLoggerFactory()
	}
	e := &Engine{
		cfg:         cfg,
		log:         cfg.loggers.NewLogger("engine"),
		ctx:         intgraph.NewContext(cfg.sampleRate),
		instruments: make(map[string]*Instrument),
		ticks:       make(chan float64, 1),
		done:        make(chan struct{}),
	}
	e.bus = intfx.NewBus(e.ctx, cfg.sampleRate, cfg.sampleTap)
	e.sched = intsched.New(cfg.lookahead, cfg.loggers.NewLogger("scheduler"))
	e.clock = intclock.New(e.ctx, cfg.tickFrames, intgraph.RenderQuantum, cfg.loggers.NewLogger("clock"))
	e.transport = inttr.New(e.sched, inttr.Config{
		Window:           cfg.window,
		PositionInterval: cfg.positionInterval,
		// One tick, so the downbeat fires on time instead of a tick late.
		StartDelay: float64(e.clock.IntervalFrames()) / float64(cfg.sampleRate),
	}, cfg.loggers.NewLogger("transport"))
	e.metronome = inttr.NewMetronome(e.transport, e.sched, e.ctx, e.ctx.Destination(), e.onMetronome)
	e.timeline = intline.New()
	e.cache = intcache.New(cfg.sampleRate, cfg.fetch, cfg.loggers.NewLogger("buffercache"))
	e.clips = intclip.New(e.ctx, e.sched, e.timeline, e.ctx.Destination(), e.cache, e.lookupInstrument,
		cfg.loggers.NewLogger("clipplayer"))

	e.cancels = append(e.cancels,
		e.transport.Listen(inttr.Listener{
			State:    e.onTransportState,
			Position: e.onTransportPosition,
			Wrap:     e.onLoop,
		}),
		e.transport.Follow(e.clips),
		e.timeline.Subscribe(e.onTimelineChange),
		e.clock.Subscribe(e.onTick),
	)
	e.clock.Start()
	return e, nil
}

// Start opens the audio device and the control loop. Offline engines need
// no Start.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return ErrDisposed
	}
	if e.started || e.cfg.offline {
		return nil
	}
	out, err := intaudio.Open(e.cfg.sampleRate, e.bus, e.cfg.bufferSize)
	if err != nil {
		return errors.Wrap(err, "start audio output")
	}
	e.output = out
	e.started = true
	e.wg.Add(1)
	go e.controlLoop()
	e.log.Infof("engine started at %d Hz", e.cfg.sampleRate)
	return nil
}

// onTick runs on the render goroutine. Offline engines are already inside
// Advance and hold the lock; realtime ticks are coalesced onto the control
// loop so the audio thread never blocks.
func (e *Engine) onTick(now float64) {
	if e.cfg.offline {
		e.tick(now)
		return
	}
	select {
	case e.ticks <- now:
		return
	default:
	}
	select {
	case <-e.ticks:
	default:
	}
	select {
	case e.ticks <- now:
	default:
	}
}

func (e *Engine) controlLoop() {
	defer e.wg.Done()
	for {
		select {
		case now := <-e.ticks:
			e.mu.Lock()
			if !e.disposed {
				e.tick(now)
			}
			e.mu.Unlock()
		case <-e.done:
			return
		}
	}
}

func (e *Engine) tick(now float64) {
	e.sched.Tick(now)
	e.transport.Tick(now)
}

// Advance renders seconds of audio offline and runs every tick due in it.
func (e *Engine) Advance(seconds float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOffline(); err != nil {
		return err
	}
	e.ctx.RenderQuanta(e.quantaFor(seconds))
	return nil
}

func (e *Engine) checkOffline() error {
	if e.disposed {
		return ErrDisposed
	}
	if !e.cfg.offline {
		return ErrNotOffline
	}
	return nil
}

func (e *Engine) quantaFor(seconds float64) int {
	if seconds <= 0 {
		return 0
	}
	return int(math.Ceil(seconds * float64(e.cfg.sampleRate) / intgraph.RenderQuantum))
}

// Now is the hardware time: seconds of audio rendered so far.
func (e *Engine) Now() float64 { return e.ctx.CurrentTime() }

func (e *Engine) SampleRate() int { return e.cfg.sampleRate }

// Dispose stops playback, tears down every instrument and closes the
// device. Safe to call more than once.
func (e *Engine) Dispose() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.disposed = true
	now := e.ctx.CurrentTime()
	e.transport.Stop(now)
	e.setMetronomeLocked(false, false)
	e.clips.Dispose()
	for _, id := range append([]string(nil), e.order...) {
		e.removeInstrumentLocked(id)
	}
	e.sched.Flush()
	for _, cancel := range e.cancels {
		cancel()
	}
	e.cancels = nil
	out := e.output
	e.output = nil
	started := e.started
	e.mu.Unlock()

	e.clock.Stop()
	if started {
		close(e.done)
		e.wg.Wait()
	}
	if out != nil {
		if err := out.Close(); err != nil {
			e.log.Warnf("close output: %v", err)
		}
	}
	e.ctx.Close()
	e.log.Info("engine disposed")
}

// Watch returns a channel that receives engine events. The channel is
// buffered (cap 64) and events are dropped when it is full, so receive in a
// goroutine. Only the most recent Watch() channel receives events.
func (e *Engine) Watch() <-chan Event {
	ch := make(chan Event, 64)
	e.eventChMu.Lock()
	e.eventCh = ch
	e.eventChMu.Unlock()
	return ch
}

func (e *Engine) sendEvent(ev Event) {
	e.eventChMu.Lock()
	ch := e.eventCh
	e.eventChMu.Unlock()
	if ch != nil {
		select {
		case ch <- ev:
		default:
			// Channel full; drop event
		}
	}
}

func (e *Engine) onTransportState(s inttr.State) {
	e.sendEvent(Event{Kind: EventTransportState, Time: e.ctx.CurrentTime(), State: s})
}

func (e *Engine) onTransportPosition(p inttr.PositionUpdate) {
	e.sendEvent(Event{Kind: EventTransportPosition, Time: p.Time, Position: p})
}

func (e *Engine) onLoop(seam float64) {
	e.sendEvent(Event{Kind: EventLoop, Time: seam})
}

func (e *Engine) onMetronome(bar, beat int, at float64) {
	e.sendEvent(Event{Kind: EventMetronomeTick, Time: at, Bar: bar, Beat: beat})
}

func (e *Engine) onTimelineChange(c intline.Change) {
	e.sendEvent(Event{Kind: EventTrackUpdated, Time: e.ctx.CurrentTime(), TrackID: c.TrackID})
}

func (e *Engine) reportError(err error) {
	e.log.Warnf("%v", err)
	e.sendEvent(Event{Kind: EventError, Time: e.ctx.CurrentTime(), Err: err})
}

// Transport

func (e *Engine) Play() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transport.Play(e.ctx.CurrentTime())
}

func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transport.Pause(e.ctx.CurrentTime())
}

// Stop halts playback, rewinds to beat 0 and cancels pending note events.
// Teardown events still run.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transport.Stop(e.ctx.CurrentTime())
	e.sched.Clear()
}

// Seek moves the playhead to beats.
func (e *Engine) Seek(beats float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transport.Seek(beats, e.ctx.CurrentTime())
}

// Position is the playhead in beats.
func (e *Engine) Position() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transport.Position(e.ctx.CurrentTime())
}

func (e *Engine) SetTempo(bpm float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transport.SetTempo(bpm, e.ctx.CurrentTime())
	e.bus.SetTempo(e.transport.Tempo())
}

// SetLoop sets the loop region in beats. Enabling requires start < end.
func (e *Engine) SetLoop(enabled bool, start, end float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transport.SetLoop(enabled, start, end, e.ctx.CurrentTime())
}

func (e *Engine) SetTimeSignature(num, den int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transport.SetTimeSignature(num, den)
}

func (e *Engine) SetPlaybackSpeed(speed float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transport.SetPlaybackSpeed(speed, e.ctx.CurrentTime())
}

func (e *Engine) SetRecording(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transport.SetRecording(on)
}

// SetMetronome enables metronome:tick events; audible adds a click.
func (e *Engine) SetMetronome(enabled, audible bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setMetronomeLocked(enabled, audible)
}

func (e *Engine) setMetronomeLocked(enabled, audible bool) {
	e.metronome.Audible = audible
	switch {
	case enabled && e.metroOff == nil:
		e.metroOff = e.transport.Follow(e.metronome)
	case !enabled && e.metroOff != nil:
		e.metroOff()
		e.metroOff = nil
		e.metronome.Halt(e.ctx.CurrentTime())
	}
}

func (e *Engine) TransportState() TransportState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transport.Snapshot(e.ctx.CurrentTime())
}

// Timeline

func (e *Engine) CreateTrack(name string) Track {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timeline.CreateTrack(name)
}

// UpdateTrack applies fn to the track. Changing InstrumentID reroutes the
// instrument output through the track.
func (e *Engine) UpdateTrack(id string, fn func(*Track)) (Track, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, err := e.timeline.UpdateTrack(id, fn)
	if err != nil {
		return Track{}, err
	}
	e.routeInstrumentsLocked()
	return t, nil
}

// DeleteTrack removes the track and its clips.
func (e *Engine) DeleteTrack(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.timeline.DeleteTrack(id); err != nil {
		return err
	}
	e.routeInstrumentsLocked()
	return nil
}

func (e *Engine) Tracks() []Track {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timeline.Tracks()
}

// NewClip returns a unity-gain clip on trackID spanning duration beats
// from start.
func NewClip(trackID string, start, duration float64) Clip {
	return intline.NewClip(trackID, start, duration)
}

// ScheduleClip places a clip on the timeline. Clips added while playing are
// picked up from the next scheduling window.
func (e *Engine) ScheduleClip(c Clip) (Clip, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timeline.AddClip(c)
}

func (e *Engine) UpdateClip(id string, fn func(*Clip)) (Clip, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timeline.UpdateClip(id, fn)
}

func (e *Engine) RemoveClip(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timeline.RemoveClip(id)
}

// Clips returns a track's clips, or every clip for an empty id.
func (e *Engine) Clips(trackID string) []Clip {
	e.mu.Lock()
	defer e.mu.Unlock()
	if trackID == "" {
		return e.timeline.Clips()
	}
	return e.timeline.ClipsForTrack(trackID)
}

// Project is the persisted session state.
type Project struct {
	Transport TransportState   `json:"transport"`
	Timeline  intline.Snapshot `json:"timeline"`
	Presets   []Preset         `json:"instruments"`
}

// Snapshot captures transport, timeline and instrument presets.
func (e *Engine) Snapshot() Project {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := Project{
		Transport: e.transport.Snapshot(e.ctx.CurrentTime()),
		Timeline:  e.timeline.Snapshot(),
	}
	for _, id := range e.order {
		p.Presets = append(p.Presets, e.instruments[id].inst.Preset())
	}
	return p
}

// Restore replaces transport and timeline state. The transport comes back
// paused or stopped, never playing. Presets are not applied; use
// Instrument.LoadPreset.
func (e *Engine) Restore(p Project) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return ErrDisposed
	}
	now := e.ctx.CurrentTime()
	e.transport.Stop(now)
	if err := e.timeline.Restore(p.Timeline); err != nil {
		return err
	}
	if err := e.transport.Restore(p.Transport, now); err != nil {
		return err
	}
	e.bus.SetTempo(e.transport.Tempo())
	e.routeInstrumentsLocked()
	return nil
}

// Samples

// LoadSample fetches, decodes and caches url under id. Failures are also
// published as engine:error events. The engine lock is not held while
// loading.
func (e *Engine) LoadSample(ctx context.Context, id, url string) error {
	if _, err := e.cache.Load(ctx, id, url); err != nil {
		e.reportError(err)
		return err
	}
	return nil
}

// PutBuffer stores already-decoded mono samples under id.
func (e *Engine) PutBuffer(id string, samples []float32, sampleRate float64) {
	if sampleRate <= 0 {
		sampleRate = float64(e.cfg.sampleRate)
	}
	e.cache.Put(id, intgraph.NewBuffer(samples, sampleRate))
}

// Master bus

// AddEffect appends a master insert by kind: "delay" (tempo-synced),
// "reverb", "compressor", "chorus" or "distortion". It returns the slot.
func (e *Engine) AddEffect(kind string, params map[string]float64) (int, error) {
	fx, err := intfx.New(intfx.Kind(kind), e.cfg.sampleRate, params)
	if err != nil {
		return 0, err
	}
	return e.bus.Add(fx), nil
}

// EffectKinds lists the kinds AddEffect accepts.
func EffectKinds() []string {
	kinds := intfx.Kinds()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

// RemoveEffect drops the insert in slot; later slots shift down.
func (e *Engine) RemoveEffect(slot int) error {
	if !e.bus.Remove(slot) {
		return errors.Errorf("dawcore: no effect in slot %d", slot)
	}
	return nil
}

func (e *Engine) ClearEffects() { e.bus.Clear() }

// SetEQBand sets the gain for a master EQ band (0-4). 1.0 = unity.
// Band frequencies: 0=<200Hz, 1=200-800Hz, 2=800-2.5kHz, 3=2.5-8kHz, 4=>8kHz.
// This takes effect immediately on the audio thread.
func (e *Engine) SetEQBand(band int, gain float32) {
	e.bus.EQ().SetGain(band, gain)
}

// EQBands is the number of master EQ bands.
func (e *Engine) EQBands() int { return e.bus.EQ().Bands() }

// EQBand returns the current gain for a master EQ band (0-4).
func (e *Engine) EQBand(band int) float32 {
	return e.bus.EQ().Gain(band)
}

// SetMasterVolume sets the destination gain. 1.0 is default.
func (e *Engine) SetMasterVolume(volume float64) {
	if volume < 0 {
		volume = 0
	}
	g := e.ctx.Destination().Gain()
	now := e.ctx.CurrentTime()
	g.CancelScheduledValues(now)
	g.SetValueAtTime(volume, now)
}

func (e *Engine) MasterVolume() float64 {
	return e.ctx.Destination().Gain().ValueAt(e.ctx.CurrentTime())
}
