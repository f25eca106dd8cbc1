// Package project persists engine state to a gzipped JSON document,
// grounded on the teacher's internal/storage debounced-autosave pattern:
// a control-thread timer coalesces rapid edits into one write, encoded
// with jsoniter for parity with the rest of the stack's JSON usage.
package project

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/schollz/mlrengine/internal/engine"
	"github.com/schollz/mlrengine/internal/modseq"
	"github.com/schollz/mlrengine/internal/sample"
	"github.com/schollz/mlrengine/internal/strip"
	"github.com/schollz/mlrengine/internal/types"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

const debounceTime = 1 * time.Second

// StripState is the persisted subset of a Strip's control-thread-owned
// parameters (spec.md §3) — not the per-sample audio-thread state, which
// is never serialized.
type StripState struct {
	SamplePath       string                  `json:"samplePath"`
	PlayMode         types.PlayMode          `json:"playMode"`
	Direction        types.DirectionMode     `json:"direction"`
	LoopStartCol     int                     `json:"loopStartCol"`
	LoopEndCol       int                     `json:"loopEndCol"`
	BeatsPerLoop     float64                 `json:"beatsPerLoop"`
	Volume           float64                 `json:"volume"`
	Pan              float64                 `json:"pan"`
	PlaybackSpeed    float64                 `json:"playbackSpeed"`
	PitchShiftSemis  float64                 `json:"pitchShiftSemis"`
	ScratchAmountPct float64                 `json:"scratchAmountPct"`
	SwingAmount      float64                 `json:"swingAmount"`
	GateAmount       float64                 `json:"gateAmount"`
	GateSpeed        float64                 `json:"gateSpeed"`
	GateShape        types.GateShape         `json:"gateShape"`
	TransientMode    bool                    `json:"transientMode"`
	FilterType       types.FilterType        `json:"filterType"`
	FilterCutoffHz   float64                 `json:"filterCutoffHz"`
	FilterResonance  float64                 `json:"filterResonance"`
	FilterEnabled    bool                    `json:"filterEnabled"`
	ModTarget        types.ModTarget         `json:"modTarget"`
	ModBipolar       bool                    `json:"modBipolar"`
	ModDepth         float64                 `json:"modDepth"`
	ModOffset        int                     `json:"modOffset"`
	ModSteps         [types.Columns]float64  `json:"modSteps"`
}

// GroupState is the persisted form of an engine.Group.
type GroupState struct {
	Strips []int   `json:"strips"`
	Gain   float64 `json:"gain"`
	Mute   bool    `json:"mute"`
}

// Document is the full persisted project file.
type Document struct {
	MasterGain       float64      `json:"masterGain"`
	QuantizeDivision int          `json:"quantizeDivision"`
	Strips           []StripState `json:"strips"`
	Groups           []GroupState `json:"groups"`
	SavedAtUnix      int64        `json:"savedAtUnix"`
}

// Store manages debounced, gzipped writes of a Document to a fixed
// path, mirroring the teacher's AutoSave/DoSave split.
type Store struct {
	path string

	mu    sync.Mutex
	timer *time.Timer

	onSave func() error
}

// NewStore returns a Store writing to path. onSave is called on the
// debounce timer to build and persist the current Document.
func NewStore(path string, onSave func() error) *Store {
	return &Store{path: path, onSave: onSave}
}

// AutoSave (re)starts the debounce timer; repeated calls within
// debounceTime collapse into a single write, per the teacher's
// storage.AutoSave.
func (s *Store) AutoSave() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(debounceTime, func() {
		if err := s.onSave(); err != nil {
			_ = err // discarded here; any reporting happens inside onSave
		}
	})
}

// Save writes doc to s.path as gzipped JSON immediately (synchronous),
// used both by the debounce timer's callback and by an explicit
// control-thread "save now" action.
func (s *Store) Save(doc Document) error {
	data, err := jsonAPI.Marshal(doc)
	if err != nil {
		return fmt.Errorf("project: marshal: %w", err)
	}

	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("project: create %q: %w", s.path, err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	defer gz.Close()

	if _, err := gz.Write(data); err != nil {
		return fmt.Errorf("project: write: %w", err)
	}
	return nil
}

// stripState snapshots the control-thread-owned fields of s plus its
// ModSequencer into a StripState, leaving SamplePath for the caller to
// fill in (the Strip itself only knows its decoded buffer, not the path
// it came from).
func stripState(s *strip.Strip, seq *modseq.Sequencer) StripState {
	return StripState{
		PlayMode:         s.PlayMode,
		Direction:        s.Direction,
		LoopStartCol:     s.LoopStartCol,
		LoopEndCol:       s.LoopEndCol,
		BeatsPerLoop:     s.BeatsPerLoop,
		Volume:           s.Volume,
		Pan:              s.Pan,
		PlaybackSpeed:    s.PlaybackSpeed,
		PitchShiftSemis:  s.PitchShiftSemis,
		ScratchAmountPct: s.ScratchAmountPct,
		SwingAmount:      s.SwingAmount,
		GateAmount:       s.GateAmount,
		GateSpeed:        s.GateSpeed,
		GateShape:        s.GateShape,
		TransientMode:    s.TransientMode,
		FilterType:       s.FilterType,
		FilterCutoffHz:   s.FilterCutoffHz,
		FilterResonance:  s.FilterResonance,
		FilterEnabled:    s.Filt.Enabled,
		ModTarget:        seq.Target,
		ModBipolar:       seq.Bipolar,
		ModDepth:         seq.Depth,
		ModOffset:        seq.Offset,
		ModSteps:         seq.Steps,
	}
}

// applyStripState writes a StripState back onto a live strip and its
// sequencer; it does not touch playback position or any audio-thread
// field, matching the teacher's LoadState split between persisted
// control state and runtime-only state.
func applyStripState(st StripState, s *strip.Strip, seq *modseq.Sequencer) {
	s.PlayMode = st.PlayMode
	s.Direction = st.Direction
	s.LoopStartCol = st.LoopStartCol
	s.LoopEndCol = st.LoopEndCol
	s.BeatsPerLoop = st.BeatsPerLoop
	s.Volume = st.Volume
	s.Pan = st.Pan
	s.PlaybackSpeed = st.PlaybackSpeed
	s.PitchShiftSemis = st.PitchShiftSemis
	s.ScratchAmountPct = st.ScratchAmountPct
	s.SwingAmount = st.SwingAmount
	s.GateAmount = st.GateAmount
	s.GateSpeed = st.GateSpeed
	s.GateShape = st.GateShape
	s.TransientMode = st.TransientMode
	s.FilterType = st.FilterType
	s.FilterCutoffHz = st.FilterCutoffHz
	s.FilterResonance = st.FilterResonance
	s.Filt.Enabled = st.FilterEnabled

	seq.Target = st.ModTarget
	seq.Bipolar = st.ModBipolar
	seq.Depth = st.ModDepth
	seq.Offset = st.ModOffset
	seq.Steps = st.ModSteps

	if st.SamplePath != "" {
		if buf, err := sample.LoadFromFile(st.SamplePath); err == nil {
			var transients [types.Columns]int
			s.LoadBuffer(buf, transients, st.TransientMode)
		}
	}
}

// BuildDocument snapshots an Engine's control-thread state, pairing each
// strip with the sample path it was most recently loaded from (tracked
// by the caller, since Strip itself only retains the decoded buffer).
func BuildDocument(e *engine.Engine, samplePaths []string) Document {
	doc := Document{MasterGain: e.MasterGain}
	for i, s := range e.Strips {
		st := stripState(s, e.Mods[i])
		if i < len(samplePaths) {
			st.SamplePath = samplePaths[i]
		}
		doc.Strips = append(doc.Strips, st)
	}
	for _, g := range e.Groups {
		doc.Groups = append(doc.Groups, GroupState{Strips: g.Strips, Gain: g.Gain, Mute: g.Mute})
	}
	return doc
}

// ApplyDocument restores a Document onto a live Engine, loading each
// strip's sample from its recorded path.
func ApplyDocument(e *engine.Engine, doc Document) {
	e.MasterGain = doc.MasterGain
	for i, st := range doc.Strips {
		if i >= len(e.Strips) {
			break
		}
		applyStripState(st, e.Strips[i], e.Mods[i])
	}
	e.Groups = e.Groups[:0]
	for _, gs := range doc.Groups {
		e.Groups = append(e.Groups, engine.Group{Strips: gs.Strips, Gain: gs.Gain, Mute: gs.Mute})
	}
}

// Load reads and decompresses a Document previously written by Save.
func Load(path string) (Document, error) {
	var doc Document

	f, err := os.Open(path)
	if err != nil {
		return doc, fmt.Errorf("project: open %q: %w", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return doc, fmt.Errorf("project: gzip reader: %w", err)
	}
	defer gz.Close()

	data, err := io.ReadAll(gz)
	if err != nil {
		return doc, fmt.Errorf("project: read: %w", err)
	}

	if err := jsonAPI.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("project: unmarshal: %w", err)
	}
	return doc, nil
}
