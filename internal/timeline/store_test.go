package timeline

import (
	"errors"
	"reflect"
	"testing"

	"github.com/davecgh/go-spew/spew"
)

func TestDeleteTrackCascadesClips(t *testing.T) {
	s := New()
	a := s.CreateTrack("drums")
	b := s.CreateTrack("bass")
	for i := 0; i < 3; i++ {
		if _, err := s.AddClip(Clip{TrackID: a.ID, Start: float64(i * 4), Duration: 4}); err != nil {
			t.Fatalf("AddClip: %v", err)
		}
	}
	keep, _ := s.AddClip(Clip{TrackID: b.ID, Duration: 8})

	var changes []Change
	s.Subscribe(func(c Change) { changes = append(changes, c) })
	if err := s.DeleteTrack(a.ID); err != nil {
		t.Fatalf("DeleteTrack: %v", err)
	}
	if n := len(s.ClipsForTrack(a.ID)); n != 0 {
		t.Fatalf("%d clips survived their track", n)
	}
	if clips := s.Clips(); len(clips) != 1 || clips[0].ID != keep.ID {
		t.Fatalf("clips = %s", spew.Sdump(clips))
	}
	if len(changes) != 4 || changes[3].Kind != TrackDeleted {
		t.Fatalf("changes = %s", spew.Sdump(changes))
	}
}

func TestAddClipValidation(t *testing.T) {
	s := New()
	tr := s.CreateTrack("t")
	tests := []struct {
		name string
		clip Clip
		want error
	}{
		{"unknown track", Clip{TrackID: "nope", Duration: 1}, ErrTrackNotFound},
		{"zero duration", Clip{TrackID: tr.ID}, ErrInvalidClip},
		{"negative start", Clip{TrackID: tr.ID, Start: -1, Duration: 1}, ErrInvalidClip},
		{"negative gain", Clip{TrackID: tr.ID, Duration: 1, Gain: -0.5}, ErrInvalidClip},
		{"bad note", Clip{TrackID: tr.ID, Duration: 1, Notes: []Note{{Pitch: 200, Duration: 1}}}, ErrInvalidClip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.AddClip(tt.clip); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestClipsInRange(t *testing.T) {
	s := New()
	tr := s.CreateTrack("t")
	for _, start := range []float64{0, 4, 8, 12} {
		_, _ = s.AddClip(Clip{TrackID: tr.ID, Start: start, Duration: 4})
	}
	got := s.ClipsInRange(4, 9)
	if len(got) != 2 || got[0].Start != 4 || got[1].Start != 8 {
		t.Fatalf("ClipsInRange(4,9) = %s", spew.Sdump(got))
	}
}

func TestClipGainKeptAsGiven(t *testing.T) {
	s := New()
	tr := s.CreateTrack("t")
	unity, err := s.AddClip(NewClip(tr.ID, 0, 4))
	if err != nil {
		t.Fatalf("AddClip: %v", err)
	}
	if unity.Gain != 1 {
		t.Fatalf("NewClip gain = %v, want 1", unity.Gain)
	}
	silent := NewClip(tr.ID, 4, 4)
	silent.Gain = 0
	got, err := s.AddClip(silent)
	if err != nil {
		t.Fatalf("AddClip: %v", err)
	}
	if got.Gain != 0 {
		t.Fatalf("zero gain stored as %v", got.Gain)
	}
	if stored, _ := s.Clip(got.ID); stored.Gain != 0 {
		t.Fatalf("stored gain = %v, want 0", stored.Gain)
	}
}

func TestUpdatesAndSnapshot(t *testing.T) {
	s := New()
	tr := s.CreateTrack("t")
	c, _ := s.AddClip(Clip{TrackID: tr.ID, Duration: 2, Notes: []Note{{Pitch: 60, Velocity: 100, Duration: 1}}})
	if _, err := s.UpdateTrack(tr.ID, func(t *Track) { t.Muted = true; t.ID = "hijack" }); err != nil {
		t.Fatalf("UpdateTrack: %v", err)
	}
	if got, ok := s.Track(tr.ID); !ok || !got.Muted {
		t.Fatalf("track update lost: %+v", got)
	}
	if _, err := s.UpdateClip(c.ID, func(c *Clip) { c.Duration = 0 }); !errors.Is(err, ErrInvalidClip) {
		t.Fatalf("invalid update err = %v", err)
	}
	if _, err := s.UpdateClip(c.ID, func(c *Clip) { c.Start = 16 }); err != nil {
		t.Fatalf("UpdateClip: %v", err)
	}

	snap := s.Snapshot()
	other := New()
	if err := other.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if !reflect.DeepEqual(other.Snapshot(), snap) {
		t.Fatalf("snapshot round trip differs:\n%s\n%s", spew.Sdump(snap), spew.Sdump(other.Snapshot()))
	}
	if err := s.RemoveClip(c.ID); err != nil {
		t.Fatalf("RemoveClip: %v", err)
	}
	if err := s.RemoveClip(c.ID); !errors.Is(err, ErrClipNotFound) {
		t.Fatalf("second RemoveClip err = %v", err)
	}
}
