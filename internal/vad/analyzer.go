// Package vad detects user speech from PCM energy.
package vad

import (
	"math"
	"sync"

	"github.com/ChaoticNebula5/Janmitra/internal/audio"
)

type State int

const (
	Quiet State = iota
	Starting
	Speaking
	Stopping
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Speaking:
		return "speaking"
	case Stopping:
		return "stopping"
	default:
		return "quiet"
	}
}

// Params tune the analyzer. Zero fields take the defaults.
type Params struct {
	// Confidence is the minimum voice confidence (0..1) for a frame to count as speech.
	Confidence float64
	// StartSecs of continuous speech switch the state to Speaking.
	StartSecs float64
	// StopSecs of continuous non-speech switch the state back to Quiet.
	StopSecs float64
	// MinVolume is the minimum smoothed volume (0..1) for speech.
	MinVolume float64
}

func DefaultParams() Params {
	return Params{Confidence: 0.7, StartSecs: 0.2, StopSecs: 0.8, MinVolume: 0.6}
}

const (
	frameMs = 20

	// confidenceRef is the RMS at which confidence reaches 1-1/e.
	confidenceRef   = 800.0
	volumeFloorDB   = -55.0
	volumeRangeDB   = 35.0
	volumeSmoothing = 0.2
)

// Analyzer is a four-state energy VAD over 20ms frames.
type Analyzer struct {
	mu          sync.Mutex
	params      Params
	sampleRate  int
	frameBytes  int
	startFrames int
	stopFrames  int

	buf    []byte
	state  State
	count  int
	volume float64
}

func NewAnalyzer(p Params) *Analyzer {
	d := DefaultParams()
	if p.Confidence == 0 {
		p.Confidence = d.Confidence
	}
	if p.StartSecs == 0 {
		p.StartSecs = d.StartSecs
	}
	if p.StopSecs == 0 {
		p.StopSecs = d.StopSecs
	}
	if p.MinVolume == 0 {
		p.MinVolume = d.MinVolume
	}
	a := &Analyzer{params: p}
	a.SetSampleRate(16000)
	return a
}

func (a *Analyzer) Params() Params { return a.params }

// SetSampleRate sets the input rate and resets state.
func (a *Analyzer) SetSampleRate(rate int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sampleRate = rate
	a.frameBytes = rate * frameMs / 1000 * 2
	a.startFrames = framesFor(a.params.StartSecs)
	a.stopFrames = framesFor(a.params.StopSecs)
	a.resetLocked()
}

func (a *Analyzer) SampleRate() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sampleRate
}

func (a *Analyzer) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Analyzer) Reset() {
	a.mu.Lock()
	a.resetLocked()
	a.mu.Unlock()
}

func (a *Analyzer) resetLocked() {
	a.buf = a.buf[:0]
	a.state = Quiet
	a.count = 0
	a.volume = 0
}

// AnalyzeAudio consumes pcm and returns the state after the last full frame.
// Partial frames are kept for the next call.
func (a *Analyzer) AnalyzeAudio(pcm []byte) State {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf = append(a.buf, pcm...)
	for len(a.buf) >= a.frameBytes {
		a.step(a.buf[:a.frameBytes])
		a.buf = a.buf[a.frameBytes:]
	}
	if len(a.buf) == 0 {
		a.buf = nil
	}
	return a.state
}

func (a *Analyzer) step(frame []byte) {
	rms := audio.RMSBytes(frame)
	a.volume = a.volume*(1-volumeSmoothing) + Volume(rms)*volumeSmoothing
	speech := Confidence(rms) >= a.params.Confidence && a.volume >= a.params.MinVolume

	switch a.state {
	case Quiet:
		if speech {
			a.state, a.count = Starting, 1
			if a.count >= a.startFrames {
				a.state = Speaking
			}
		}
	case Starting:
		if !speech {
			a.state, a.count = Quiet, 0
			return
		}
		a.count++
		if a.count >= a.startFrames {
			a.state, a.count = Speaking, 0
		}
	case Speaking:
		if !speech {
			a.state, a.count = Stopping, 1
			if a.count >= a.stopFrames {
				a.state, a.count = Quiet, 0
			}
		}
	case Stopping:
		if speech {
			a.state, a.count = Speaking, 0
			return
		}
		a.count++
		if a.count >= a.stopFrames {
			a.state, a.count = Quiet, 0
		}
	}
}

// Confidence maps RMS amplitude to a voice confidence in 0..1.
func Confidence(rms float64) float64 {
	return 1 - math.Exp(-rms/confidenceRef)
}

// Volume maps RMS amplitude to a loudness in 0..1 over a 35 dB window.
func Volume(rms float64) float64 {
	v := (audio.Decibels(rms) - volumeFloorDB) / volumeRangeDB
	return math.Max(0, math.Min(1, v))
}

func framesFor(secs float64) int {
	n := int(math.Round(secs * 1000 / frameMs))
	if n < 1 {
		n = 1
	}
	return n
}
