package rtc

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v3/pkg/media"
	"gopkg.in/hraban/opus.v2"
)

const (
	// OutputSampleRate is the PCM rate expected by AudioSink.WritePCM.
	OutputSampleRate = 48000

	frameDuration = 20 * time.Millisecond
	frameSamples  = OutputSampleRate / 50
	tailFrames    = 10
)

// AudioSink plays 48kHz mono PCM to the remote peer.
type AudioSink interface {
	WritePCM(pcm []byte)
	// Reset drops everything not yet sent.
	Reset()
	// FlushTail sends the buffered remainder followed by a short silence.
	FlushTail()
	// Queued is the playback time still waiting to be sent.
	Queued() time.Duration
	Close()
}

type sampleWriter interface {
	WriteSample(media.Sample) error
}

// OpusPacedWriter encodes 48kHz mono PCM to Opus and writes one 20ms frame
// per tick to the track. Writers never block on the pacer, so a Reset from
// the writing goroutine always takes effect at once.
type OpusPacedWriter struct {
	enc          *opus.Encoder
	track        sampleWriter
	pcmBuf       []int16
	frameSamples int
	pending      [][]byte
	stopCh       chan struct{}
	stopped      bool
	mu           sync.Mutex
}

func NewOpusPacedWriter(track sampleWriter) (*OpusPacedWriter, error) {
	enc, err := opus.NewEncoder(OutputSampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	w := &OpusPacedWriter{
		enc:          enc,
		track:        track,
		frameSamples: frameSamples,
		stopCh:       make(chan struct{}),
	}
	go w.pacer()
	return w, nil
}

func (w *OpusPacedWriter) WritePCM(pcmBytes []byte) {
	if len(pcmBytes) < 2 {
		return
	}
	w.mu.Lock()
	need := len(pcmBytes) / 2
	startLen := len(w.pcmBuf)
	if cap(w.pcmBuf)-startLen < need {
		tmp := make([]int16, startLen, startLen+need+2048)
		copy(tmp, w.pcmBuf)
		w.pcmBuf = tmp
	}
	w.pcmBuf = w.pcmBuf[:startLen+need]
	for i := 0; i < need; i++ {
		w.pcmBuf[startLen+i] = int16(uint16(pcmBytes[2*i]) | uint16(pcmBytes[2*i+1])<<8)
	}

	opusBuf := make([]byte, 4000)
	for len(w.pcmBuf) >= w.frameSamples {
		if pkt := w.encode(w.pcmBuf[:w.frameSamples], opusBuf); pkt != nil {
			w.pushLocked(pkt)
		}
		copy(w.pcmBuf, w.pcmBuf[w.frameSamples:])
		w.pcmBuf = w.pcmBuf[:len(w.pcmBuf)-w.frameSamples]
	}
	w.mu.Unlock()
}

func (w *OpusPacedWriter) encode(frame []int16, buf []byte) []byte {
	n, err := w.enc.Encode(frame, buf)
	if err != nil || n <= 0 {
		return nil
	}
	pkt := make([]byte, n)
	copy(pkt, buf[:n])
	return pkt
}

func (w *OpusPacedWriter) FlushTail() {
	opusBuf := make([]byte, 4000)
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pcmBuf) > 0 {
		pad := make([]int16, w.frameSamples)
		copy(pad, w.pcmBuf)
		if pkt := w.encode(pad, opusBuf); pkt != nil {
			w.pushLocked(pkt)
		}
		w.pcmBuf = w.pcmBuf[:0]
	}
	silence := make([]int16, w.frameSamples)
	for i := 0; i < tailFrames; i++ {
		if pkt := w.encode(silence, opusBuf); pkt != nil {
			w.pushLocked(pkt)
		}
	}
}

func (w *OpusPacedWriter) Queued() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return time.Duration(len(w.pending))*frameDuration +
		time.Duration(len(w.pcmBuf))*time.Second/OutputSampleRate
}

// Close stops the pacer. Queued frames are dropped.
func (w *OpusPacedWriter) Close() {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		w.pending = nil
		close(w.stopCh)
	}
	w.mu.Unlock()
}

func (w *OpusPacedWriter) pacer() {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			if frame := w.next(); frame != nil {
				_ = w.track.WriteSample(media.Sample{Data: frame, Duration: frameDuration})
			}
		}
	}
}

func (w *OpusPacedWriter) next() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return nil
	}
	frame := w.pending[0]
	w.pending[0] = nil
	w.pending = w.pending[1:]
	return frame
}

func (w *OpusPacedWriter) pushFrame(pkt []byte) {
	w.mu.Lock()
	w.pushLocked(pkt)
	w.mu.Unlock()
}

// pushLocked queues pkt for the pacer. Frames pushed after Close are dropped.
func (w *OpusPacedWriter) pushLocked(pkt []byte) {
	if w.stopped {
		return
	}
	w.pending = append(w.pending, pkt)
}

func (w *OpusPacedWriter) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = nil
	w.pcmBuf = w.pcmBuf[:0]
}
