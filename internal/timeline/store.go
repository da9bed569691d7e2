// Package timeline is the track and clip store read by the clip player and
// the UI. Deleting a track deletes its clips.
package timeline

import (
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrTrackNotFound = errors.New("timeline: track not found")
	ErrClipNotFound  = errors.New("timeline: clip not found")
	ErrInvalidClip   = errors.New("timeline: invalid clip")
)

type Track struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Gain         float64 `json:"gain"`
	Muted        bool    `json:"muted"`
	InstrumentID string  `json:"instrumentId,omitempty"`
}

// Note is a MIDI note inside a clip. Start is relative to the clip start;
// Start and Duration are in beats.
type Note struct {
	Pitch    int     `json:"pitch"`
	Velocity int     `json:"velocity"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

// Clip places audio or notes on a track. Start and Duration are beats;
// Offset, trims and fades are seconds of source audio.
type Clip struct {
	ID        string  `json:"id"`
	TrackID   string  `json:"trackId"`
	BufferID  string  `json:"bufferId,omitempty"`
	Start     float64 `json:"startTime"`
	Duration  float64 `json:"duration"`
	Offset    float64 `json:"offset"`
	TrimStart float64 `json:"trimStart"`
	TrimEnd   float64 `json:"trimEnd"`
	FadeIn    float64 `json:"fadeIn"`
	FadeOut   float64 `json:"fadeOut"`
	Gain      float64 `json:"gain"`
	Notes     []Note  `json:"notes,omitempty"`
}

// NewClip returns a clip on trackID at unity gain. A Clip literal has gain
// 0, which is silent.
func NewClip(trackID string, start, duration float64) Clip {
	return Clip{TrackID: trackID, Start: start, Duration: duration, Gain: 1}
}

// End is the beat the clip stops at.
func (c Clip) End() float64 { return c.Start + c.Duration }

func (c Clip) validate() error {
	switch {
	case c.Duration <= 0:
		return errors.Wrapf(ErrInvalidClip, "duration %v", c.Duration)
	case c.Start < 0:
		return errors.Wrapf(ErrInvalidClip, "start %v", c.Start)
	case c.Offset < 0 || c.TrimStart < 0 || c.TrimEnd < 0 || c.FadeIn < 0 || c.FadeOut < 0:
		return errors.Wrap(ErrInvalidClip, "negative offset, trim or fade")
	case c.Gain < 0 || math.IsNaN(c.Gain):
		return errors.Wrapf(ErrInvalidClip, "gain %v", c.Gain)
	}
	for _, n := range c.Notes {
		if n.Pitch < 0 || n.Pitch > 127 || n.Duration <= 0 || n.Start < 0 {
			return errors.Wrapf(ErrInvalidClip, "bad note %+v", n)
		}
	}
	return nil
}

func (c Clip) clone() Clip {
	c.Notes = append([]Note(nil), c.Notes...)
	return c
}

type ChangeKind int

const (
	TrackCreated ChangeKind = iota
	TrackUpdated
	TrackDeleted
	ClipAdded
	ClipUpdated
	ClipRemoved
	Restored
)

var changeNames = [...]string{"track-created", "track-updated", "track-deleted", "clip-added", "clip-updated", "clip-removed", "restored"}

func (k ChangeKind) String() string {
	if k < 0 || int(k) >= len(changeNames) {
		return "unknown"
	}
	return changeNames[k]
}

type Change struct {
	Kind    ChangeKind
	TrackID string
	ClipID  string
}

// Snapshot is the persisted form of the store.
type Snapshot struct {
	Tracks []Track `json:"tracks"`
	Clips  []Clip  `json:"clips"`
}

type subscriber struct {
	id int
	fn func(Change)
}

type Store struct {
	mu     sync.RWMutex
	order  []string
	tracks map[string]*Track
	clips  map[string]*Clip
	subs   []subscriber
	nextID int
}

func New() *Store {
	return &Store{
		tracks: make(map[string]*Track),
		clips:  make(map[string]*Clip),
	}
}

// Subscribe registers fn for every change. The returned func unsubscribes.
func (s *Store) Subscribe(fn func(Change)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// notify runs subscribers without holding the lock.
func (s *Store) notify(changes ...Change) {
	s.mu.RLock()
	subs := append([]subscriber(nil), s.subs...)
	s.mu.RUnlock()
	for _, c := range changes {
		for _, sub := range subs {
			sub.fn(c)
		}
	}
}

func (s *Store) CreateTrack(name string) Track {
	t := &Track{ID: uuid.NewString(), Name: name, Gain: 1}
	s.mu.Lock()
	s.tracks[t.ID] = t
	s.order = append(s.order, t.ID)
	out := *t
	s.mu.Unlock()
	s.notify(Change{Kind: TrackCreated, TrackID: t.ID})
	return out
}

// UpdateTrack applies fn to a copy of the track and stores it. The id is
// not changeable.
func (s *Store) UpdateTrack(id string, fn func(*Track)) (Track, error) {
	s.mu.Lock()
	t, ok := s.tracks[id]
	if !ok {
		s.mu.Unlock()
		return Track{}, errors.Wrapf(ErrTrackNotFound, "%q", id)
	}
	next := *t
	fn(&next)
	next.ID = id
	*t = next
	s.mu.Unlock()
	s.notify(Change{Kind: TrackUpdated, TrackID: id})
	return next, nil
}

// DeleteTrack removes the track and all of its clips.
func (s *Store) DeleteTrack(id string) error {
	s.mu.Lock()
	if _, ok := s.tracks[id]; !ok {
		s.mu.Unlock()
		return errors.Wrapf(ErrTrackNotFound, "%q", id)
	}
	delete(s.tracks, id)
	for i, tid := range s.order {
		if tid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	var changes []Change
	for cid, c := range s.clips {
		if c.TrackID == id {
			delete(s.clips, cid)
			changes = append(changes, Change{Kind: ClipRemoved, TrackID: id, ClipID: cid})
		}
	}
	s.mu.Unlock()
	s.notify(append(changes, Change{Kind: TrackDeleted, TrackID: id})...)
	return nil
}

func (s *Store) Track(id string) (Track, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tracks[id]
	if !ok {
		return Track{}, false
	}
	return *t, true
}

// Tracks returns tracks in creation order.
func (s *Store) Tracks() []Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Track, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.tracks[id])
	}
	return out
}

// AddClip stores c on its track. An empty id is assigned. Gain is kept as
// given; use NewClip for unity gain.
func (s *Store) AddClip(c Clip) (Clip, error) {
	if err := c.validate(); err != nil {
		return Clip{}, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c = c.clone()
	s.mu.Lock()
	if _, ok := s.tracks[c.TrackID]; !ok {
		s.mu.Unlock()
		return Clip{}, errors.Wrapf(ErrTrackNotFound, "%q", c.TrackID)
	}
	stored := c
	s.clips[c.ID] = &stored
	s.mu.Unlock()
	s.notify(Change{Kind: ClipAdded, TrackID: c.TrackID, ClipID: c.ID})
	return c.clone(), nil
}

// UpdateClip applies fn to a copy and stores it if still valid. Moving a
// clip to another existing track is allowed.
func (s *Store) UpdateClip(id string, fn func(*Clip)) (Clip, error) {
	s.mu.Lock()
	c, ok := s.clips[id]
	if !ok {
		s.mu.Unlock()
		return Clip{}, errors.Wrapf(ErrClipNotFound, "%q", id)
	}
	next := c.clone()
	fn(&next)
	next.ID = id
	if err := next.validate(); err != nil {
		s.mu.Unlock()
		return Clip{}, err
	}
	if _, ok := s.tracks[next.TrackID]; !ok {
		s.mu.Unlock()
		return Clip{}, errors.Wrapf(ErrTrackNotFound, "%q", next.TrackID)
	}
	*c = next
	s.mu.Unlock()
	s.notify(Change{Kind: ClipUpdated, TrackID: next.TrackID, ClipID: id})
	return next.clone(), nil
}

func (s *Store) RemoveClip(id string) error {
	s.mu.Lock()
	c, ok := s.clips[id]
	if !ok {
		s.mu.Unlock()
		return errors.Wrapf(ErrClipNotFound, "%q", id)
	}
	delete(s.clips, id)
	s.mu.Unlock()
	s.notify(Change{Kind: ClipRemoved, TrackID: c.TrackID, ClipID: id})
	return nil
}

func (s *Store) Clip(id string) (Clip, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clips[id]
	if !ok {
		return Clip{}, false
	}
	return c.clone(), true
}

// ClipsForTrack returns the track's clips ordered by start.
func (s *Store) ClipsForTrack(trackID string) []Clip {
	return s.collect(func(c *Clip) bool { return c.TrackID == trackID })
}

// ClipsInRange returns clips overlapping [b0, b1) ordered by start.
func (s *Store) ClipsInRange(b0, b1 float64) []Clip {
	return s.collect(func(c *Clip) bool { return c.Start < b1 && c.End() > b0 })
}

// Clips returns every clip ordered by start.
func (s *Store) Clips() []Clip {
	return s.collect(func(*Clip) bool { return true })
}

func (s *Store) collect(keep func(*Clip) bool) []Clip {
	s.mu.RLock()
	var out []Clip
	for _, c := range s.clips {
		if keep(c) {
			out = append(out, c.clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) Snapshot() Snapshot {
	return Snapshot{Tracks: s.Tracks(), Clips: s.Clips()}
}

// Restore replaces the store contents. Clips on unknown tracks or failing
// validation reject the whole snapshot.
func (s *Store) Restore(snap Snapshot) error {
	tracks := make(map[string]*Track, len(snap.Tracks))
	order := make([]string, 0, len(snap.Tracks))
	for _, t := range snap.Tracks {
		t := t
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		tracks[t.ID] = &t
		order = append(order, t.ID)
	}
	clips := make(map[string]*Clip, len(snap.Clips))
	for _, c := range snap.Clips {
		if err := c.validate(); err != nil {
			return err
		}
		if _, ok := tracks[c.TrackID]; !ok {
			return errors.Wrapf(ErrTrackNotFound, "clip %q references %q", c.ID, c.TrackID)
		}
		c = c.clone()
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		clips[c.ID] = &c
	}
	s.mu.Lock()
	s.tracks, s.order, s.clips = tracks, order, clips
	s.mu.Unlock()
	s.notify(Change{Kind: Restored})
	return nil
}
