// Package turn decides when the user has finished a conversational turn.
//
// VAD alone reports silence; an end-of-turn analyzer looks at the whole
// utterance and predicts whether the speaker is done or only pausing.
package turn

import (
	"math"
	"sync"

	"github.com/ChaoticNebula5/Janmitra/internal/audio"
)

type State int

const (
	Incomplete State = iota
	Complete
)

func (s State) String() string {
	if s == Complete {
		return "complete"
	}
	return "incomplete"
}

// Analyzer is fed all user audio and asked for a prediction when VAD stops.
type Analyzer interface {
	SetSampleRate(rate int)
	// AppendAudio buffers audio. It returns Complete once silence after speech
	// exceeds the stop timeout.
	AppendAudio(pcm []byte, isSpeech bool) State
	// AnalyzeEndOfTurn predicts whether the buffered utterance is finished.
	AnalyzeEndOfTurn() (State, float64)
	SpeechTriggered() bool
	Clear()
}

type Params struct {
	// StopSecs of silence after speech end the turn regardless of the prediction.
	StopSecs float64
	// PreSpeechMs of audio kept before speech starts.
	PreSpeechMs float64
	// MaxDurationSecs of audio kept for analysis.
	MaxDurationSecs float64
	// Threshold on the end-of-turn probability.
	Threshold float64
}

func DefaultParams() Params {
	return Params{StopSecs: 3, PreSpeechMs: 500, MaxDurationSecs: 8, Threshold: 0.5}
}

const (
	analysisFrameMs = 20
	silenceRMS      = 150.0
	tailFrames      = 15 // 300ms
)

// LocalAnalyzer predicts end of turn on-device from the energy contour of
// the utterance: a falling tail and trailing silence indicate a finished
// sentence, speech cut off at full energy indicates a pause.
type LocalAnalyzer struct {
	mu        sync.Mutex
	params    Params
	rate      int
	buf       []byte
	triggered bool
	silenceMs float64
}

func NewLocalAnalyzer(p Params) *LocalAnalyzer {
	d := DefaultParams()
	if p.StopSecs == 0 {
		p.StopSecs = d.StopSecs
	}
	if p.PreSpeechMs == 0 {
		p.PreSpeechMs = d.PreSpeechMs
	}
	if p.MaxDurationSecs == 0 {
		p.MaxDurationSecs = d.MaxDurationSecs
	}
	if p.Threshold == 0 {
		p.Threshold = d.Threshold
	}
	return &LocalAnalyzer{params: p, rate: 16000}
}

func (a *LocalAnalyzer) Params() Params { return a.params }

func (a *LocalAnalyzer) SetSampleRate(rate int) {
	a.mu.Lock()
	a.rate = rate
	a.clearLocked()
	a.mu.Unlock()
}

func (a *LocalAnalyzer) SpeechTriggered() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.triggered
}

func (a *LocalAnalyzer) Clear() {
	a.mu.Lock()
	a.clearLocked()
	a.mu.Unlock()
}

func (a *LocalAnalyzer) clearLocked() {
	a.buf = nil
	a.triggered = false
	a.silenceMs = 0
}

func (a *LocalAnalyzer) AppendAudio(pcm []byte, isSpeech bool) State {
	a.mu.Lock()
	defer a.mu.Unlock()
	chunkMs := float64(len(pcm)/2) * 1000 / float64(a.rate)

	switch {
	case isSpeech:
		a.triggered = true
		a.silenceMs = 0
		a.buf = append(a.buf, pcm...)
	case a.triggered:
		a.buf = append(a.buf, pcm...)
		a.silenceMs += chunkMs
		if a.silenceMs >= a.params.StopSecs*1000 {
			a.clearLocked()
			return Complete
		}
	default:
		a.buf = append(a.buf, pcm...)
		a.trimLocked(a.params.PreSpeechMs)
		return Incomplete
	}
	a.trimLocked(a.params.MaxDurationSecs * 1000)
	return Incomplete
}

func (a *LocalAnalyzer) trimLocked(maxMs float64) {
	maxBytes := int(maxMs*float64(a.rate)/1000) * 2
	if len(a.buf) > maxBytes {
		a.buf = append([]byte(nil), a.buf[len(a.buf)-maxBytes:]...)
	}
}

func (a *LocalAnalyzer) AnalyzeEndOfTurn() (State, float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.triggered {
		return Incomplete, 0
	}
	prob := endOfTurnProbability(frameRMS(a.buf, a.rate), analysisFrameMs/1000.0)
	if prob >= a.params.Threshold {
		a.clearLocked()
		return Complete, prob
	}
	return Incomplete, prob
}

func frameRMS(pcm []byte, rate int) []float64 {
	frameBytes := rate * analysisFrameMs / 1000 * 2
	if frameBytes <= 0 {
		return nil
	}
	out := make([]float64, 0, len(pcm)/frameBytes)
	for off := 0; off+frameBytes <= len(pcm); off += frameBytes {
		out = append(out, audio.RMSBytes(pcm[off:off+frameBytes]))
	}
	return out
}

// endOfTurnProbability scores the energy contour of an utterance.
func endOfTurnProbability(rms []float64, frameSecs float64) float64 {
	end := len(rms)
	for end > 0 && rms[end-1] < silenceRMS {
		end--
	}
	trailingSecs := float64(len(rms)-end) * frameSecs
	voiced := rms[:end]

	var sum float64
	var n int
	for _, v := range voiced {
		if v >= silenceRMS {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)

	start := len(voiced) - tailFrames
	if start < 0 {
		start = 0
	}
	var tail float64
	for _, v := range voiced[start:] {
		tail += v
	}
	tail /= float64(len(voiced) - start)

	ratio := tail / mean
	score := 4*(0.75-ratio) + 6*trailingSecs - 0.5
	return 1 / (1 + math.Exp(-score))
}
