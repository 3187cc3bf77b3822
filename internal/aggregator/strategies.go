package aggregator

import (
	"sync"

	"github.com/ChaoticNebula5/Janmitra/internal/frames"
	"github.com/ChaoticNebula5/Janmitra/internal/log"
	"github.com/ChaoticNebula5/Janmitra/internal/turn"
)

// StartStrategy decides when a user turn begins.
type StartStrategy interface {
	ShouldStart(f frames.Frame) bool
	Reset()
}

// StopStrategy decides when a user turn is over. It sees every downstream
// frame, including audio outside a turn.
type StopStrategy interface {
	ShouldStop(f frames.Frame) bool
	Reset()
}

type UserTurnStrategies struct {
	Start []StartStrategy
	Stop  []StopStrategy
}

// DefaultStrategies start and stop turns on VAD alone.
func DefaultStrategies() UserTurnStrategies {
	return UserTurnStrategies{
		Start: []StartStrategy{VADStartStrategy{}},
		Stop:  []StopStrategy{VADStopStrategy{}},
	}
}

type VADStartStrategy struct{}

func (VADStartStrategy) ShouldStart(f frames.Frame) bool {
	_, ok := f.(*frames.VADUserStartedSpeakingFrame)
	return ok
}

func (VADStartStrategy) Reset() {}

type VADStopStrategy struct{}

func (VADStopStrategy) ShouldStop(f frames.Frame) bool {
	_, ok := f.(*frames.VADUserStoppedSpeakingFrame)
	return ok
}

func (VADStopStrategy) Reset() {}

// TurnAnalyzerStopStrategy ends the turn when the end-of-turn analyzer is
// confident at VAD stop, or when its silence timeout expires.
type TurnAnalyzerStopStrategy struct {
	mu       sync.Mutex
	analyzer turn.Analyzer
	speaking bool
}

func NewTurnAnalyzerStopStrategy(a turn.Analyzer) *TurnAnalyzerStopStrategy {
	return &TurnAnalyzerStopStrategy{analyzer: a}
}

func (s *TurnAnalyzerStopStrategy) ShouldStop(f frames.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch fr := f.(type) {
	case *frames.StartFrame:
		if fr.AudioInSampleRate > 0 {
			s.analyzer.SetSampleRate(fr.AudioInSampleRate)
		}
	case *frames.VADUserStartedSpeakingFrame:
		s.speaking = true
	case *frames.VADUserStoppedSpeakingFrame:
		s.speaking = false
		state, prob := s.analyzer.AnalyzeEndOfTurn()
		log.Debug("end of turn prediction", "state", state.String(), "probability", prob)
		return state == turn.Complete
	case *frames.InputAudioRawFrame:
		return s.analyzer.AppendAudio(fr.Audio, s.speaking) == turn.Complete
	}
	return false
}

func (s *TurnAnalyzerStopStrategy) Reset() {
	s.mu.Lock()
	s.analyzer.Clear()
	s.mu.Unlock()
}
