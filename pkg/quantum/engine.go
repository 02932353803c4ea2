// Package quantum implements the two-state decision engine driving the
// rover's movement. The model is a classical two-amplitude simulation with
// decoherence decay and noise injection, not real quantum computation: the
// pair (amplitudeLeft, amplitudeRight) is kept unit-normalized, evolved each
// tick, and collapsed into a Left/Right decision on demand.
package quantum

import (
	"math"

	"quantum-rover/pkg/entropy"
	"quantum-rover/pkg/params"
)

// StateTag labels the engine's position in its state machine.
type StateTag int

const (
	Superposition StateTag = iota
	LeftCollapsed
	RightCollapsed
	Decoherent
)

func (t StateTag) String() string {
	switch t {
	case Superposition:
		return "superposition"
	case LeftCollapsed:
		return "left_collapsed"
	case RightCollapsed:
		return "right_collapsed"
	case Decoherent:
		return "decoherent"
	default:
		return "unknown"
	}
}

// Direction is a collapse outcome.
type Direction int

const (
	Left Direction = iota
	Right
)

func (d Direction) String() string {
	if d == Left {
		return "LEFT"
	}
	return "RIGHT"
}

// State is the engine's quantum state. Owned exclusively by the engine;
// callers receive copies via Snapshot.
type State struct {
	AmplitudeLeft  float64
	AmplitudeRight float64
	PhaseLeft      float64
	PhaseRight     float64
	Tag            StateTag
	EnteredAt      float64 // monotonic seconds
}

// DecisionRecord captures one collapse event. Immutable once created.
type DecisionRecord struct {
	Direction        Direction
	ProbabilityLeft  float64
	ProbabilityRight float64
	Measurement      float64
	Sequence         uint64
}

// Stats are the cumulative decision counters.
type Stats struct {
	TotalDecisions uint64
	LeftCount      uint64
	RightCount     uint64
}

// Coherence below this is treated as fully decohered.
const decoherentThreshold = 0.1

// historyCap bounds the decision/metric rings feeding STATISTICS.
const historyCap = 100

// Sampler supplies the engine's randomness. Satisfied by entropy.Source;
// tests substitute deterministic implementations.
type Sampler interface {
	Reseed()
	Uniform() float64
	Gauss(sigma float64) float64
	Phase() float64
}

// Engine evolves the two-amplitude state and produces movement decisions.
// It is owned by the single control loop; no internal locking.
type Engine struct {
	state State

	// Tunables, derived from RuntimeParameters.
	decoherenceRate float64 // 1/s
	coherenceTime   float64 // s
	noiseLevel      float64
	initialLeft     float64
	initialRight    float64

	src Sampler

	walking       bool
	lastCollapse  float64
	nextSeq       uint64
	stats         Stats
	history       []DecisionRecord
	entropyHist   []float64
	coherenceHist []float64
}

// New creates an engine configured from p, using src for all randomness.
func New(p params.RuntimeParameters, src Sampler) *Engine {
	if src == nil {
		src = entropy.NewSource()
	}
	e := &Engine{src: src}
	e.Configure(p)
	return e
}

// Configure applies runtime parameters and resets the state to the
// configured superposition. Decision history and counters survive.
func (e *Engine) Configure(p params.RuntimeParameters) {
	p.Clamp()
	e.decoherenceRate = p.DecoherenceRate()
	e.coherenceTime = float64(p.CoherenceTimeMs) / 1000.0
	e.noiseLevel = p.NoiseLevel
	e.initialLeft = p.AmplitudeLeft
	e.initialRight = p.AmplitudeRight

	e.state.AmplitudeLeft = p.AmplitudeLeft
	e.state.AmplitudeRight = p.AmplitudeRight
	e.state.PhaseLeft = 0
	e.state.PhaseRight = 0
	e.state.Tag = Superposition
	e.normalize()
}

// Reset returns the engine to a cold-boot state under p: walk stopped,
// counters and history cleared, sequence restarted.
func (e *Engine) Reset(p params.RuntimeParameters) {
	e.Configure(p)
	e.walking = false
	e.lastCollapse = 0
	e.nextSeq = 0
	e.stats = Stats{}
	e.history = nil
	e.entropyHist = nil
	e.coherenceHist = nil
}

// SetWalking starts or stops the autonomous quantum walk.
func (e *Engine) SetWalking(on bool) {
	e.walking = on
}

// Walking reports whether the autonomous walk is active.
func (e *Engine) Walking() bool {
	return e.walking
}

// Tick evolves the state over dt seconds: exponential amplitude decay at
// the decoherence rate, a random phase kick, independent noise terms scaled
// by noiseLevel*sqrt(dt), then renormalization.
func (e *Engine) Tick(dt float64, eventtime float64) {
	if dt <= 0 {
		return
	}

	decay := math.Exp(-e.decoherenceRate * dt)
	e.state.AmplitudeLeft *= decay
	e.state.AmplitudeRight *= decay

	phaseKick := e.src.Phase() * e.decoherenceRate * dt
	e.state.PhaseLeft = wrapPhase(e.state.PhaseLeft + phaseKick)
	e.state.PhaseRight = wrapPhase(e.state.PhaseRight + phaseKick)

	if e.noiseLevel > 0 {
		sigma := e.noiseLevel * math.Sqrt(dt)
		e.state.AmplitudeLeft += e.src.Gauss(sigma)
		e.state.AmplitudeRight += e.src.Gauss(sigma)
	}

	e.normalize()

	// Amplitude asymmetry past the threshold counts as decohered; an
	// engine that just collapsed rejoins the superposition here.
	if e.Coherence() < decoherentThreshold {
		e.setTag(Decoherent, eventtime)
	} else {
		e.setTag(Superposition, eventtime)
	}

	e.recordMetrics()
}

// CollapseDue reports whether the coherence time has elapsed with no
// externally triggered collapse.
func (e *Engine) CollapseDue(eventtime float64) bool {
	return e.walking && eventtime-e.lastCollapse >= e.coherenceTime
}

// Collapse measures the state: computes the outcome probabilities, draws a
// uniform sample from the reseeded entropy source, picks the winner, and
// resets to equal superposition for the next cycle.
func (e *Engine) Collapse(eventtime float64) DecisionRecord {
	e.normalize()
	pLeft := e.state.AmplitudeLeft * e.state.AmplitudeLeft
	pRight := e.state.AmplitudeRight * e.state.AmplitudeRight

	e.src.Reseed()
	measurement := e.src.Uniform()

	rec := DecisionRecord{
		ProbabilityLeft:  pLeft,
		ProbabilityRight: pRight,
		Measurement:      measurement,
		Sequence:         e.nextSeq,
	}
	e.nextSeq++

	if measurement < pLeft {
		rec.Direction = Left
		e.state.AmplitudeLeft = 1
		e.state.AmplitudeRight = 0
		e.setTag(LeftCollapsed, eventtime)
		e.stats.LeftCount++
	} else {
		rec.Direction = Right
		e.state.AmplitudeLeft = 0
		e.state.AmplitudeRight = 1
		e.setTag(RightCollapsed, eventtime)
		e.stats.RightCount++
	}
	e.stats.TotalDecisions++
	e.lastCollapse = eventtime

	e.history = append(e.history, rec)
	if len(e.history) > historyCap {
		e.history = e.history[1:]
	}

	// Equal superposition restarts the cycle; the collapsed tag survives
	// until the next tick.
	e.state.AmplitudeLeft = math.Sqrt2 / 2
	e.state.AmplitudeRight = math.Sqrt2 / 2
	e.state.PhaseLeft = 0
	e.state.PhaseRight = 0

	return rec
}

// Entropy returns the Shannon entropy of the outcome distribution in bits,
// bounded [0,1]. The 0·log2(0) terms take their limit value of zero.
func (e *Engine) Entropy() float64 {
	pLeft := e.state.AmplitudeLeft * e.state.AmplitudeLeft
	pRight := e.state.AmplitudeRight * e.state.AmplitudeRight
	h := 0.0
	if pLeft > 0 {
		h -= pLeft * math.Log2(pLeft)
	}
	if pRight > 0 {
		h -= pRight * math.Log2(pRight)
	}
	if h < 0 {
		h = 0
	}
	if h > 1 {
		h = 1
	}
	return h
}

// Coherence returns 2·|amplitudeLeft·amplitudeRight|, bounded [0,1].
func (e *Engine) Coherence() float64 {
	c := 2 * math.Abs(e.state.AmplitudeLeft*e.state.AmplitudeRight)
	if c > 1 {
		c = 1
	}
	return c
}

// Snapshot returns a normalized copy of the current state.
func (e *Engine) Snapshot() State {
	e.normalize()
	return e.state
}

// Statistics returns the cumulative decision counters.
func (e *Engine) Statistics() Stats {
	return e.stats
}

// History returns the retained decision records, oldest first.
func (e *Engine) History() []DecisionRecord {
	out := make([]DecisionRecord, len(e.history))
	copy(out, e.history)
	return out
}

// RecentMeans returns the mean entropy and coherence over the retained
// tick metrics.
func (e *Engine) RecentMeans() (meanEntropy, meanCoherence float64) {
	return mean(e.entropyHist), mean(e.coherenceHist)
}

// normalize restores the unit-norm invariant. Degenerate states (both
// amplitudes near zero) reset to equal superposition instead of dividing
// by zero.
func (e *Engine) normalize() {
	norm := math.Sqrt(e.state.AmplitudeLeft*e.state.AmplitudeLeft +
		e.state.AmplitudeRight*e.state.AmplitudeRight)
	if norm < 1e-9 {
		e.state.AmplitudeLeft = math.Sqrt2 / 2
		e.state.AmplitudeRight = math.Sqrt2 / 2
		return
	}
	e.state.AmplitudeLeft /= norm
	e.state.AmplitudeRight /= norm
}

func (e *Engine) setTag(tag StateTag, eventtime float64) {
	if e.state.Tag == tag {
		return
	}
	e.state.Tag = tag
	e.state.EnteredAt = eventtime
}

func (e *Engine) recordMetrics() {
	e.entropyHist = append(e.entropyHist, e.Entropy())
	if len(e.entropyHist) > historyCap {
		e.entropyHist = e.entropyHist[1:]
	}
	e.coherenceHist = append(e.coherenceHist, e.Coherence())
	if len(e.coherenceHist) > historyCap {
		e.coherenceHist = e.coherenceHist[1:]
	}
}

func wrapPhase(p float64) float64 {
	return math.Mod(p, 2*math.Pi)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
