package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/cbegin/dawcore"
)

func main() {
	var (
		sampleRate = flag.Int("sample-rate", 48000, "output sample rate")
		tempo      = flag.Float64("tempo", 120, "tempo in BPM")
		bars       = flag.Int("bars", 2, "loop length in 4/4 bars")
		loops      = flag.Int("loops", 4, "stop after N loops (0 = loop forever)")
		lead       = flag.String("lead", "synth", "lead instrument: synth|fm|sampler")
		sample     = flag.String("sample", "", "WAV file for the sampler lead, rooted at middle C")
		swing      = flag.Float64("swing", 0, "drum swing (0..0.75, fraction of a step)")
		metronome  = flag.Bool("metronome", false, "play an audible click")
		volume     = flag.Float64("volume", 0.8, "master volume scalar")
		fx         = flag.StringSlice("fx", nil, "master inserts in order: "+strings.Join(dawcore.EffectKinds(), ","))
		bass       = flag.Float64("bass", 1, "master EQ low band gain")
		out        = flag.StringP("out", "o", "", "bounce to this WAV file instead of playing")
		verbose    = flag.BoolP("verbose", "v", false, "print position updates")
	)
	flag.Parse()

	opts := []dawcore.Option{dawcore.WithSampleRate(*sampleRate)}
	if *out != "" {
		opts = append(opts, dawcore.WithOffline(true))
	}
	eng, err := dawcore.New(opts...)
	if err != nil {
		log.Fatal(err)
	}
	defer eng.Dispose()
	eng.SetMasterVolume(*volume)
	eng.SetTempo(*tempo)
	for _, kind := range *fx {
		if _, err := eng.AddEffect(kind, nil); err != nil {
			log.Fatal(err)
		}
	}
	eng.SetEQBand(0, float32(*bass))

	loopBeats := float64(*bars * 4)
	if err := eng.SetLoop(true, 0, loopBeats); err != nil {
		log.Fatal(err)
	}
	if err := buildSession(eng, *lead, *sample, *swing, *bars); err != nil {
		log.Fatal(err)
	}
	eng.SetMetronome(true, *metronome)

	if *out != "" {
		if err := bounce(eng, *out, float64(max(*loops, 1))*loopBeats*60 / *tempo); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("wrote %s\n", *out)
		return
	}

	ch := eng.Watch()
	if err := eng.Start(); err != nil {
		log.Fatal(err)
	}
	eng.Play()
	loopCount := 0
	for event := range ch {
		switch event.Kind {
		case dawcore.EventLoop:
			loopCount++
			fmt.Printf("loop %d completed\n", loopCount)
			if *loops > 0 && loopCount >= *loops {
				eng.Stop()
				// Let release tails ring out.
				time.Sleep(500 * time.Millisecond)
				return
			}
		case dawcore.EventMetronomeTick:
			if *verbose {
				fmt.Printf("%d.%d\n", event.Bar, event.Beat)
			}
		case dawcore.EventTransportPosition:
			if *verbose {
				fmt.Printf("\rbeat %.2f", event.Position.Position)
			}
		case dawcore.EventError:
			fmt.Fprintf(os.Stderr, "error: %v\n", event.Err)
		}
	}
}

func buildSession(eng *dawcore.Engine, leadType, samplePath string, swing float64, bars int) error {
	drums, err := eng.CreateInstrument("drum", "drums")
	if err != nil {
		return err
	}
	drums.SetParam("swing", swing)
	p := dawcore.NewPattern(16, 4)
	for i := 0; i < 16; i++ {
		switch {
		case i%4 == 0:
			p.Set(36, i, true)
		case i%8 == 4:
			p.Set(38, i, true)
		}
		if i%2 == 0 {
			p.Set(42, i, true)
		}
	}
	if err := drums.SetPattern(p); err != nil {
		return err
	}

	lead, err := eng.CreateInstrument(leadType, "lead")
	if err != nil {
		return err
	}
	if strings.TrimSpace(samplePath) != "" {
		if err := lead.LoadSample(context.Background(), 60, samplePath); err != nil {
			return err
		}
	}
	track := eng.CreateTrack("lead")
	if _, err := eng.UpdateTrack(track.ID, func(t *dawcore.Track) {
		t.InstrumentID = lead.ID()
		t.Gain = 0.6
	}); err != nil {
		return err
	}

	// A1 C2 E2 G2 arpeggio, one note per beat.
	arp := []int{57, 60, 64, 67}
	var notes []dawcore.Note
	for beat := 0; beat < bars*4; beat++ {
		notes = append(notes, dawcore.Note{Pitch: arp[beat%len(arp)], Velocity: 96, Start: float64(beat), Duration: 0.75})
	}
	clip := dawcore.NewClip(track.ID, 0, float64(bars*4))
	clip.Notes = notes
	_, err = eng.ScheduleClip(clip)
	return err
}

func bounce(eng *dawcore.Engine, path string, seconds float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return eng.Bounce(f, seconds)
}
