// Package grain implements the GrainVoicePool of spec.md §4.7: a fixed
// pool of overlapping grains driven by a held-column gesture state
// machine, with ARP pitch quantization, tempo-synced size, jitter, and a
// short cloud-delay feedback loop. This is the largest single component
// by budget share after Strip; Strip owns one Pool per voice and drives
// it from its per-sample render loop.
package grain

import (
	"math"
	"math/rand"

	"github.com/schollz/mlrengine/internal/resampler"
	"github.com/schollz/mlrengine/internal/types"
)

const (
	defaultNumVoices = 32
	minSizeSamples   = 32
	maxCloudDelaySec = 2.0
)

// ArpMode selects the pitch-quantization pattern applied on top of base
// pitch + jitter, per spec.md §4.7's "Pitch = base + pitch_jitter..." step.
type ArpMode int

const (
	ArpOff ArpMode = iota
	ArpOctave
	ArpPower
	ArpZigzag
	ArpMajor
	ArpMinor
	ArpPentatonic
)

var (
	powerIntervals      = []float64{0, 7, 12}
	zigzagIntervals     = []float64{0, 12, 5, 19, -7, 24}
	majorScaleSemis     = []float64{0, 2, 4, 5, 7, 9, 11, 12}
	minorScaleSemis     = []float64{0, 2, 3, 5, 7, 8, 10, 12}
	pentatonicScaleSemi = []float64{0, 2, 4, 7, 9, 12}
)

func arpInterval(mode ArpMode, step int) float64 {
	switch mode {
	case ArpOctave:
		return float64(12 * (step % 3))
	case ArpPower:
		return powerIntervals[step%len(powerIntervals)]
	case ArpZigzag:
		return zigzagIntervals[step%len(zigzagIntervals)]
	case ArpMajor:
		return majorScaleSemis[step%len(majorScaleSemis)]
	case ArpMinor:
		return minorScaleSemis[step%len(minorScaleSemis)]
	case ArpPentatonic:
		return pentatonicScaleSemi[step%len(pentatonicScaleSemi)]
	default:
		return 0
	}
}

// envelope is the precomputed 3-term Blackman-Harris grain amplitude
// table of spec.md §4.7.
const (
	bhA0 = 0.35875
	bhA1 = 0.48829
	bhA2 = 0.14128
	bhA3 = 0.01168
)

// blackmanHarris returns the envelope weight at normalized age u in [0,1],
// additionally edge-shaped by the envelope parameter as spec.md §4.7
// describes ("extra fade shaping ... edge_distance/width, exponent").
func blackmanHarris(u, envelopeParam float64) float64 {
	u = types.Clamp(u, 0, 1)
	w := bhA0 - bhA1*math.Cos(2*math.Pi*u) + bhA2*math.Cos(4*math.Pi*u) - bhA3*math.Cos(6*math.Pi*u)

	edgeDist := math.Min(u, 1-u)
	exponent := 1.0 + envelopeParam*3.0
	shaped := math.Pow(types.Clamp(edgeDist/0.5, 0, 1), exponent)
	return w * shaped
}

// seconds_from_amount of spec.md §4.7: maps a 0-100 scratch amount onto a
// freeze-ramp duration in [0.015, 3.0] seconds.
func secondsFromAmount(p float64) float64 {
	u := types.Clamp(p/100, 0, 1)
	sec := math.Pow(u, 1.7) * 3.0
	return types.Clamp(sec, 0.015, 3.0)
}

// voice is one grain instance.
type voice struct {
	active  bool
	readPos float64
	step    float64
	age     int
	length  int
	panL    float64
	panR    float64
	reverse bool
}

// Params are the continuous, control-thread-writable grain parameters
// read by the audio thread. Of these, only SizeMs is modulated by the
// ModSequencer (its GrainSize target).
type Params struct {
	Density       float64 // [0,1]
	Spread        float64 // [0,1]
	Jitter        float64 // [0,1]
	Random        float64 // [0,1]
	SizeMs        float64
	PitchSemis    float64
	PitchJitter   float64
	Emitter       float64 // [0,1]
	Arp           ArpMode
	ArpExtraBipolar float64
	Envelope      float64 // [0,1]
	CloudDepth    float64 // [0,1]
	ReverseChance float64 // base reverse probability when gesture doesn't force it
}

// DefaultParams returns a neutral parameter set.
func DefaultParams() Params {
	return Params{Density: 0.3, SizeMs: 80, Emitter: 0.1, Envelope: 0.3}
}

// gesture tracks the held-column state machine of spec.md §4.7.
type gesture struct {
	held             []int
	freeze           bool
	center           float64
	targetCenter     float64
	rampMs           float64
	rampElapsed      float64
	snapshot         Params
	haveSnapshot     bool
	targetFromColumn func(col int) float64
	scenePhase       float64
	sceneStep        int
}

// Pool is the GrainVoicePool of spec.md §4.7.
type Pool struct {
	voices     []voice
	sampleRate float64
	rng        *rand.Rand

	spawnAccum float64

	gest gesture

	cloud       []float32
	cloudStereo []float32
	cloudWrite  int

	neutralBlend float64
}

// NewPool allocates numVoices grain slots and the cloud-delay buffer.
// Voice and delay storage is allocated only here; Process still builds a
// small scene-sequence slice on each call while two or more columns are
// held.
func NewPool(sampleRate float64, numVoices int, rngSeed int64) *Pool {
	if numVoices <= 0 {
		numVoices = defaultNumVoices
	}
	cloudFrames := int(maxCloudDelaySec * sampleRate)
	return &Pool{
		voices:       make([]voice, numVoices),
		sampleRate:   sampleRate,
		rng:          rand.New(rand.NewSource(rngSeed)),
		cloud:        make([]float32, cloudFrames),
		cloudStereo:  make([]float32, cloudFrames),
		neutralBlend: 1,
	}
}

// ActiveVoiceCount returns how many grain voices are currently sounding,
// for telemetry display only.
func (p *Pool) ActiveVoiceCount() int {
	n := 0
	for i := range p.voices {
		if p.voices[i].active {
			n++
		}
	}
	return n
}

// SetHeldColumns updates the gesture state machine from the set of
// currently-held grid columns for this strip, implementing the 0/1/2/3+
// held behaviors of spec.md §4.7. params is mutated in place by the
// 2-held and 3+-held branches, which reshape density/spread/jitter/size/
// envelope from the held span rather than merely relocating a center
// position; a snapshot is taken on first entry into a 2+-hold gesture and
// restored verbatim once every column is released.
func (p *Pool) SetHeldColumns(held []int, targetFromColumn func(col int) float64, scratchAmountPct float64, params *Params) {
	prevCount := len(p.gest.held)
	p.gest.held = held
	p.gest.targetFromColumn = targetFromColumn

	switch len(held) {
	case 0:
		p.gest.freeze = false
		if p.gest.haveSnapshot {
			*params = p.gest.snapshot
			p.gest.haveSnapshot = false
		}
	case 1:
		p.gest.freeze = true
		target := targetFromColumn(held[0])
		p.gest.targetCenter = target
		if scratchAmountPct > 1e-6 {
			p.gest.rampMs = secondsFromAmount(scratchAmountPct) * 1000
			p.gest.rampElapsed = 0
		} else {
			p.gest.center = target
			p.gest.rampMs = 0
		}
	case 2:
		if !p.gest.haveSnapshot {
			p.gest.snapshot = *params
			p.gest.haveSnapshot = true
		}
		p.gest.freeze = true
		p.gest.rampMs = 0
		if prevCount < 2 {
			p.gest.scenePhase, p.gest.sceneStep = 0, 0
		}

		minCol, maxCol := minMax(held)
		span := types.Clamp(float64(maxCol-minCol)/15.0, 0, 1)
		params.Density = types.Clamp(p.gest.snapshot.Density+span*0.4, 0, 1)
		params.Spread = types.Clamp(p.gest.snapshot.Spread+span*0.5, 0, 1)
		params.Jitter = types.Clamp(p.gest.snapshot.Jitter+span*0.3, 0, 1)
	default: // 3 or more held
		if !p.gest.haveSnapshot {
			p.gest.snapshot = *params
			p.gest.haveSnapshot = true
		}
		p.gest.freeze = true
		p.gest.rampMs = 0
		if prevCount < 2 {
			p.gest.scenePhase, p.gest.sceneStep = 0, 0
		}

		minCol, maxCol := minMax(held)
		newest := float64(held[len(held)-1])
		params.SizeMs = ThreeHoldSizeMs(newest, float64(minCol), float64(maxCol))

		span := math.Max(float64(maxCol-minCol), 1)
		t := types.Clamp((newest-float64(minCol))/span, 0, 1)
		params.Density = types.Clamp(p.gest.snapshot.Density+t*0.5, 0, 1)
		params.Spread = types.Clamp(p.gest.snapshot.Spread+t*0.4, 0, 1)
		params.Jitter = types.Clamp(p.gest.snapshot.Jitter+(1-t)*0.3, 0, 1)
		params.Envelope = types.Clamp(p.gest.snapshot.Envelope+t*0.3, 0, 1)
	}
}

// midpointMarker is the scene-sequence sentinel meaning "the midpoint of
// the held span" rather than a literal column.
const midpointMarker = -1

func midpoint(held []int, targetFromColumn func(int) float64) float64 {
	minCol, maxCol := minMax(held)
	return (targetFromColumn(minCol) + targetFromColumn(maxCol)) / 2
}

// twoHoldSequence cycles A, B, and their midpoint.
func twoHoldSequence(held []int) []int {
	if len(held) < 2 {
		return nil
	}
	return []int{held[0], held[1], midpointMarker}
}

// threeHoldPermutations enumerates every ordering of three held columns;
// threeHoldSequence picks one by hashing the held set so the same three
// columns always cycle through the same six-step sequence.
var threeHoldPermutations = [6][3]int{
	{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
}

func permutationHash(cols []int) int {
	h := 0
	for _, c := range cols {
		h = h*31 + c
	}
	if h < 0 {
		h = -h
	}
	return h
}

func threeHoldSequence(held []int) []int {
	n := len(held)
	recent := held[n-3:]
	perm := threeHoldPermutations[permutationHash(recent)%6]
	seq := make([]int, 0, 4)
	for _, idx := range perm {
		seq = append(seq, recent[idx])
	}
	return append(seq, midpointMarker)
}

func minMax(vals []int) (int, int) {
	if len(vals) == 0 {
		return 0, 0
	}
	min, max := vals[0], vals[0]
	for _, v := range vals[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// sceneStepBeats returns the tempo-locked subdivision period for the
// scratch-scene oscillator: faster as more columns are held.
func sceneStepBeats(heldCount int) float64 {
	switch {
	case heldCount >= 3:
		return 1.0 / 24
	case heldCount == 2:
		return 1.0 / 16
	default:
		return 1.0 / 8
	}
}

// scenePulseExponent shapes how sharply the center snaps toward each new
// scene step: three-or-more-held gestures pulse harder than two-held.
func scenePulseExponent(heldCount int) float64 {
	if heldCount >= 3 {
		return 2.8
	}
	return 2.0
}

// advanceScene drives the "Scratch scene" tempo-locked center oscillator
// for 2-held and 3+-held gestures (spec.md §4.7's glossary entry): the
// center cycles through the held columns plus their midpoint at a
// tempo-synced subdivision, pulled toward each new step by a
// (1-phase)^exponent pulse that is strongest right after the step
// change and eases off as the next one approaches.
func (p *Pool) advanceScene(dt, bpm float64) {
	heldCount := len(p.gest.held)
	if heldCount < 2 || p.gest.targetFromColumn == nil {
		return
	}

	var seq []int
	if heldCount == 2 {
		seq = twoHoldSequence(p.gest.held)
	} else {
		seq = threeHoldSequence(p.gest.held)
	}
	if len(seq) == 0 {
		return
	}

	beatsPerSec := bpm / 60.0
	if beatsPerSec <= 0 {
		beatsPerSec = 2
	}
	stepSeconds := sceneStepBeats(heldCount) / beatsPerSec
	if stepSeconds <= 0 {
		stepSeconds = 0.1
	}

	p.gest.scenePhase += dt / stepSeconds
	for p.gest.scenePhase >= 1 {
		p.gest.scenePhase -= 1
		p.gest.sceneStep = (p.gest.sceneStep + 1) % len(seq)
	}

	target := midpoint(p.gest.held, p.gest.targetFromColumn)
	if marker := seq[p.gest.sceneStep%len(seq)]; marker != midpointMarker {
		target = p.gest.targetFromColumn(marker)
	}

	exponent := scenePulseExponent(heldCount)
	pulse := math.Pow(1-p.gest.scenePhase, exponent)
	blend := types.Clamp(pulse*4*dt/stepSeconds, 0, 1)
	p.gest.center += (target - p.gest.center) * blend
}

// threeHoldSizeMs implements the 3-held size-control mapping of spec.md
// §4.7/§8: t = clamp((sizeX-min)/span), shaped = t^1.35; size_ms scales a
// span-dependent base/sweep through shaped, clamped to 2400ms.
func ThreeHoldSizeMs(sizeX, minCol, maxCol float64) float64 {
	span := maxCol - minCol
	if span <= 0 {
		span = 1
	}
	t := types.Clamp((sizeX-minCol)/span, 0, 1)
	shaped := math.Pow(t, 1.35)

	spanFrac := span / 15.0
	sizeMs := 140 + 420*spanFrac + (900+1200*spanFrac)*shaped
	return types.Clamp(sizeMs, 32, 2400)
}

// advanceGestureRamp advances the freeze-ramp toward targetCenter by dt
// seconds, used once per block from Strip's render loop.
func (p *Pool) advanceGestureRamp(dt float64) {
	if p.gest.rampMs <= 0 {
		p.gest.center = p.gest.targetCenter
		return
	}
	p.gest.rampElapsed += dt * 1000
	t := types.Clamp(p.gest.rampElapsed/p.gest.rampMs, 0, 1)
	p.gest.center = p.gest.center + (p.gest.targetCenter-p.gest.center)*t
}

// center returns the effective grain center position: frozen gesture
// center when a gesture is active, else the caller-supplied timeline
// position.
func (p *Pool) center(timelinePos float64) float64 {
	if p.gest.freeze {
		return p.gest.center
	}
	return timelinePos
}

// spawnRate implements spec.md §4.7's effective spawn rate formula.
func spawnRate(density, emitter, sizeSamples, jitterMul, emitterMul float64) float64 {
	if sizeSamples < 1 {
		sizeSamples = 1
	}
	base := (0.72 + 4.6*density + 8*math.Pow(emitter, 1.8)) / sizeSamples
	r := base * jitterMul * emitterMul
	return types.Clamp(r, 0.00005, 0.24)
}

func (p *Pool) findVoiceSlot() int {
	for i := range p.voices {
		if !p.voices[i].active {
			return i
		}
	}
	oldest, oldestAge := 0, -1
	for i := range p.voices {
		if p.voices[i].age > oldestAge {
			oldest, oldestAge = i, p.voices[i].age
		}
	}
	return oldest
}

func (p *Pool) spawnVoice(params Params, center, loopLength float64) {
	slot := p.findVoiceSlot()
	v := &p.voices[slot]

	sizeSamples := types.Clamp(params.SizeMs*0.001*p.sampleRate, minSizeSamples, loopLength)
	spread := params.Spread
	randAmt := params.Random

	readPos := center +
		spread*(p.rng.Float64()*2-1)*sizeSamples +
		randAmt*loopLength*p.rng.Float64()*0.24
	if loopLength > 0 {
		readPos = math.Mod(readPos, loopLength)
		if readPos < 0 {
			readPos += loopLength
		}
	}

	arpStep := p.rng.Intn(8)
	arpSemis := arpInterval(params.Arp, arpStep)
	if params.Arp != ArpOff {
		arpSemis += params.ArpExtraBipolar * 12
	}
	pitch := params.PitchSemis + params.PitchJitter*(p.rng.Float64()*2-1) + arpSemis

	reverse := params.ReverseChance*0.88 > p.rng.Float64()

	step := math.Pow(2, pitch/12)
	if reverse {
		step = -step
	}

	angle := (p.rng.Float64()*2 - 1) * params.Spread * math.Pi / 2

	*v = voice{
		active:  true,
		readPos: readPos,
		step:    step,
		age:     0,
		length:  int(sizeSamples),
		panL:    math.Cos(angle),
		panR:    math.Sin(angle),
		reverse: reverse,
	}
}

// Process renders numSamples of grain output starting at center position
// timelinePos on buf, advancing the spawn scheduler and all active
// voices. It writes stereo output summed across voices, passed through
// the cloud delay and neutral blend, into out[0] (left) and out[1]
// (right).
func (p *Pool) Process(buf resampler.Buffer, quality resampler.Quality, timelinePos, loopLength, bpm float64, params Params, out [][]float32) {
	n := 0
	if len(out) > 0 {
		n = len(out[0])
	}
	if n == 0 || len(out) < 2 {
		return
	}

	dt := 1.0 / p.sampleRate
	p.advanceGestureRamp(dt * float64(n))
	p.advanceScene(dt*float64(n), bpm)
	center := p.center(timelinePos)

	sizeSamples := types.Clamp(params.SizeMs*0.001*p.sampleRate, minSizeSamples, loopLength)
	jitterMul := 1.0 + params.Jitter*0.5
	emitterMul := 1.0 + params.Emitter*0.5
	rate := spawnRate(params.Density, params.Emitter, sizeSamples, jitterMul, emitterMul)
	maxSpawnsPerSample := 1 + int(math.Round(5*math.Pow(params.Emitter, 1.8)))

	deviation := math.Abs(params.PitchSemis)/12 + params.Spread + params.Random + params.Jitter
	neutralTarget := types.Clamp(1-deviation, 0, 1)

	for i := 0; i < n; i++ {
		p.spawnAccum += rate
		spawns := 0
		for p.spawnAccum >= 1 && spawns < maxSpawnsPerSample {
			p.spawnAccum -= 1
			p.spawnVoice(params, center, loopLength)
			spawns++
		}

		var left, right float64
		for vi := range p.voices {
			v := &p.voices[vi]
			if !v.active {
				continue
			}
			u := float64(v.age) / float64(maxInt(v.length, 1))
			env := blackmanHarris(u, params.Envelope)

			ch := 0
			sL := float64(resampler.Read(buf, ch, v.readPos, quality))
			chR := ch
			if buf.Channels() > 1 {
				chR = 1
			}
			sR := float64(resampler.Read(buf, chR, v.readPos, quality))

			left += sL * env * v.panL
			right += sR * env * v.panR

			v.readPos += v.step
			if loopLength > 0 {
				v.readPos = math.Mod(v.readPos, loopLength)
				if v.readPos < 0 {
					v.readPos += loopLength
				}
			}
			v.age++
			if v.age >= v.length {
				v.active = false
			}
		}

		left, right = p.processCloud(left, right, params.CloudDepth)

		p.neutralBlend += (neutralTarget - p.neutralBlend) * 0.01
		direct := float64(resampler.Read(buf, 0, timelinePos, quality))
		left = left*(1-p.neutralBlend) + direct*p.neutralBlend
		right = right*(1-p.neutralBlend) + direct*p.neutralBlend

		comp := 1 + 1.2*(1-p.neutralBlend)
		if comp > 2.2 {
			comp = 2.2
		}

		out[0][i] = float32(left * comp)
		out[1][i] = float32(right * comp)
	}
}

func (p *Pool) processCloud(left, right, depth float64) (float64, float64) {
	if len(p.cloud) == 0 {
		return left, right
	}
	feedback := types.Clamp(0.12+0.83*depth, 0.12, 0.95)
	wet := types.Clamp(0.08+0.82*depth, 0.08, 0.9)

	n := len(p.cloud)
	readIdx := p.cloudWrite
	delayedL := float64(p.cloud[readIdx])
	delayedR := float64(p.cloudStereo[readIdx])

	p.cloud[p.cloudWrite] = float32(left + delayedL*feedback)
	p.cloudStereo[p.cloudWrite] = float32(right + delayedR*feedback)
	p.cloudWrite = (p.cloudWrite + 1) % n

	outL := left*(1-wet) + delayedL*wet
	outR := right*(1-wet) + delayedR*wet
	return outL, outR
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
