package effects

import "sync"

// Source renders interleaved stereo frames.
type Source interface {
	Process(dst []float32)
}

// Bus pulls from a source and runs the insert chain, then the EQ, then the
// optional tap. Insert changes take a short lock the audio goroutine also
// takes once per block; EQ gain changes do not lock.
type Bus struct {
	src        Source
	sampleRate int
	tap        func([]float32)
	eq         *EQ5Band

	mu      sync.Mutex
	inserts []Effector
	tempo   float64
}

// NewBus wraps src. tap, if set, sees every processed block on the audio
// goroutine.
func NewBus(src Source, sampleRate int, tap func([]float32)) *Bus {
	return &Bus{
		src:        src,
		sampleRate: sampleRate,
		tap:        tap,
		eq:         NewEQ5Band(sampleRate),
		tempo:      120,
	}
}

func (b *Bus) Process(dst []float32) {
	b.src.Process(dst)
	b.mu.Lock()
	for _, fx := range b.inserts {
		for i := 0; i+1 < len(dst); i += 2 {
			dst[i], dst[i+1] = fx.Process(dst[i], dst[i+1])
		}
	}
	if !b.eq.Flat() {
		for i := 0; i+1 < len(dst); i += 2 {
			dst[i], dst[i+1] = b.eq.Process(dst[i], dst[i+1])
		}
	}
	b.mu.Unlock()
	if b.tap != nil {
		b.tap(dst)
	}
}

// Add appends an insert and returns its slot.
func (b *Bus) Add(fx Effector) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := fx.(TempoSynced); ok {
		s.SetTempo(b.tempo)
	}
	b.inserts = append(b.inserts, fx)
	return len(b.inserts) - 1
}

// Remove drops the insert in slot. Later slots shift down.
func (b *Bus) Remove(slot int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if slot < 0 || slot >= len(b.inserts) {
		return false
	}
	b.inserts = append(b.inserts[:slot], b.inserts[slot+1:]...)
	return true
}

func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inserts = nil
	b.eq.Reset()
}

func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.inserts)
}

// SetTempo retunes tempo-synced inserts.
func (b *Bus) SetTempo(bpm float64) {
	if bpm <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tempo = bpm
	for _, fx := range b.inserts {
		if s, ok := fx.(TempoSynced); ok {
			s.SetTempo(bpm)
		}
	}
}

// Reset clears every insert's state, as after a seek.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, fx := range b.inserts {
		fx.Reset()
	}
	b.eq.Reset()
}

func (b *Bus) EQ() *EQ5Band { return b.eq }
