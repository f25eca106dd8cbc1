// Command mlrengine hosts the engine standalone for development and
// testing: it opens an audio-less offline render loop driven by its own
// internal clock, publishes telemetry over OSC, and shows a terminal
// monitor, in place of the teacher's flag-parsed single-binary main.go.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hypebeast/go-osc/osc"
	"github.com/spf13/cobra"

	"github.com/schollz/mlrengine/internal/engine"
	"github.com/schollz/mlrengine/internal/midiclock"
	"github.com/schollz/mlrengine/internal/monitor"
	"github.com/schollz/mlrengine/internal/oscbridge"
	"github.com/schollz/mlrengine/internal/project"
	"github.com/schollz/mlrengine/internal/quantize"
	"github.com/schollz/mlrengine/internal/resampler"
)

func rootCmd() *cobra.Command {
	var numStrips int
	var sampleRate float64
	var oscSendPort, oscListenPort int
	var saveFile string
	var debugLog string

	cmd := &cobra.Command{
		Use:   "mlrengine",
		Short: "Run the mlr-style sample-slicing engine standalone",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the engine, OSC bridge, and terminal monitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(numStrips, sampleRate, oscSendPort, oscListenPort, saveFile, debugLog)
		},
	}
	runCmd.Flags().IntVar(&numStrips, "strips", 8, "number of strips to allocate")
	runCmd.Flags().Float64Var(&sampleRate, "sample-rate", 48000, "engine sample rate")
	runCmd.Flags().IntVar(&oscSendPort, "osc-port", 57120, "OSC port for sending telemetry")
	runCmd.Flags().IntVar(&oscListenPort, "osc-listen-port", 57121, "OSC port to listen on for triggers")
	runCmd.Flags().StringVar(&saveFile, "save-file", "project.json.gz", "project save file to load from or create")
	runCmd.Flags().StringVar(&debugLog, "debug", "", "if set, write debug logs to this file")

	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "List available MIDI input ports usable for clock sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range midiclock.Devices() {
				fmt.Println(name)
			}
			return nil
		},
	}

	cmd.AddCommand(runCmd, devicesCmd)
	return cmd
}

func runEngine(numStrips int, sampleRate float64, sendPort, listenPort int, saveFile, debugLog string) error {
	if debugLog != "" {
		f, err := os.Create(debugLog)
		if err != nil {
			return fmt.Errorf("open debug log: %w", err)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	cfg := engine.DefaultConfig(sampleRate, numStrips)
	e := engine.NewWithConfig(cfg)

	if doc, err := project.Load(saveFile); err == nil {
		project.ApplyDocument(e, doc)
		log.Printf("loaded project from %s", saveFile)
	}

	var store *project.Store
	store = project.NewStore(saveFile, func() error {
		doc := project.BuildDocument(e, nil)
		doc.SavedAtUnix = time.Now().Unix()
		return store.Save(doc)
	})

	bridge := oscbridge.New("localhost", sendPort, listenPort)
	bridge.Listen()
	wireOSCHandlers(bridge, e, store, numStrips)

	out := [][]float32{make([]float32, 512), make([]float32, 512)}
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Duration(float64(time.Second) * 512 / sampleRate))
		defer ticker.Stop()
		pos := engine.PosInfo{IsPlaying: true, BPM: 120, HasTempo: true}
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				e.Process(out, nil, pos)
				samplesPerQuarter := (60 / pos.BPM) * sampleRate
				pos.PPQ += float64(512) / samplesPerQuarter
				for i, s := range e.Strips {
					bridge.SendStripTelemetry(oscbridge.StripTelemetry{
						Index:          i,
						Playing:        s.Playing(),
						Column:         s.CurrentColumn(),
						PositionInLoop: s.PositionFraction(),
						GrainVoiceCount: s.Grains.ActiveVoiceCount(),
					})
				}
			}
		}
	}()
	defer close(stop)

	m := monitor.New(func() []monitor.StripSnapshot {
		snaps := make([]monitor.StripSnapshot, len(e.Strips))
		for i, s := range e.Strips {
			snaps[i] = monitor.StripSnapshot{
				Index:          i,
				Playing:        s.Playing(),
				Column:         s.CurrentColumn(),
				PositionInLoop: s.PositionFraction(),
				Volume:         s.Volume,
				PitchSemis:     s.PitchShiftSemis,
				GrainVoices:    s.Grains.ActiveVoiceCount(),
			}
		}
		return snaps
	})

	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// wireOSCHandlers registers the per-strip and per-group addresses
// spec.md §6 promises a controller can reach (trigger, quantized
// trigger, grain-hold, group choke) plus the engine's configuration
// setters, translating each inbound message into a call on e's public
// API, matching internal/oscbridge's doc comment on the inbound half
// of the OSC contract.
func wireOSCHandlers(bridge *oscbridge.Bridge, e *engine.Engine, store *project.Store, numStrips int) {
	for n := 0; n < numStrips; n++ {
		idx := n
		bridge.Handle(fmt.Sprintf("/strip/%d/trigger", idx), func(msg *osc.Message) {
			column, ok := int32Arg(msg, 0)
			if !ok {
				return
			}
			e.TriggerStripWithQuantization(idx, int(column), false, e.Clock.CurrentPPQ)
			bridge.SendTriggerAck(idx, int(column))
			store.AutoSave()
		})
		bridge.Handle(fmt.Sprintf("/strip/%d/quantized-trigger", idx), func(msg *osc.Message) {
			column, ok := int32Arg(msg, 0)
			if !ok {
				return
			}
			e.TriggerStripWithQuantization(idx, int(column), true, e.Clock.CurrentPPQ)
			bridge.SendTriggerAck(idx, int(column))
			store.AutoSave()
		})
		bridge.Handle(fmt.Sprintf("/strip/%d/grain-hold", idx), func(msg *osc.Message) {
			held := make([]int, 0, len(msg.Arguments))
			for i := range msg.Arguments {
				if v, ok := int32Arg(msg, i); ok {
					held = append(held, int(v))
				}
			}
			e.SetGrainHeldColumns(idx, held)
		})
	}
	for n := range e.Groups {
		idx := n
		bridge.Handle(fmt.Sprintf("/group/%d/choke", idx), func(msg *osc.Message) {
			immediate, _ := int32Arg(msg, 0)
			e.ChokeGroup(idx, immediate != 0)
			store.AutoSave()
		})
	}

	bridge.Handle("/strip/trigger", func(msg *osc.Message) {
		stripIdx, ok1 := int32Arg(msg, 0)
		column, ok2 := int32Arg(msg, 1)
		if !ok1 || !ok2 {
			return
		}
		e.TriggerStripWithQuantization(int(stripIdx), int(column), true, e.Clock.CurrentPPQ)
		bridge.SendTriggerAck(int(stripIdx), int(column))
		store.AutoSave()
	})

	bridge.Handle("/config/master-gain", func(msg *osc.Message) {
		if v, ok := floatArg(msg, 0); ok {
			e.SetMasterGain(v)
		}
	})
	bridge.Handle("/config/input-monitor-gain", func(msg *osc.Message) {
		if v, ok := floatArg(msg, 0); ok {
			e.SetInputMonitorGain(v)
		}
	})
	bridge.Handle("/config/quantize-division", func(msg *osc.Message) {
		if v, ok := int32Arg(msg, 0); ok {
			e.SetQuantizeDivision(quantize.Division(v))
		}
	})
	bridge.Handle("/config/crossfade-ms", func(msg *osc.Message) {
		if v, ok := floatArg(msg, 0); ok {
			e.SetCrossfadeMs(v)
		}
	})
	bridge.Handle("/config/trigger-fade-ms", func(msg *osc.Message) {
		if v, ok := floatArg(msg, 0); ok {
			e.SetTriggerFadeMs(v)
		}
	})
	bridge.Handle("/config/pitch-smoothing-ms", func(msg *osc.Message) {
		if v, ok := floatArg(msg, 0); ok {
			e.SetPitchSmoothingMs(v)
		}
	})
	bridge.Handle("/config/swing-division", func(msg *osc.Message) {
		if v, ok := floatArg(msg, 0); ok {
			e.SetSwingDivision(v)
		}
	})
	bridge.Handle("/config/grain-quality", func(msg *osc.Message) {
		if v, ok := int32Arg(msg, 0); ok {
			e.SetGrainQuality(resampler.Quality(v))
		}
	})
}

// int32Arg reads msg's i'th argument as an int32, the integer type
// go-osc decodes OSC "i" arguments into.
func int32Arg(msg *osc.Message, i int) (int32, bool) {
	if i < 0 || i >= len(msg.Arguments) {
		return 0, false
	}
	v, ok := msg.Arguments[i].(int32)
	return v, ok
}

// floatArg reads msg's i'th argument as a float64, accepting either an
// OSC "f" (float32) or "d" (float64) argument.
func floatArg(msg *osc.Message, i int) (float64, bool) {
	if i < 0 || i >= len(msg.Arguments) {
		return 0, false
	}
	switch v := msg.Arguments[i].(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}
