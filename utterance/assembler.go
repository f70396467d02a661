// Package utterance accumulates transcript fragments into complete spoken
// utterances.
package utterance

import (
	"strings"
	"sync"

	"github.com/mrsingh-rishi/pixa/model"
)

// Assembler owns the utterance buffer of one session. Fragments may be
// appended from the recognizer reader while the frame sender signals
// end-of-speech; both paths take the same lock.
type Assembler struct {
	mu  sync.Mutex
	buf strings.Builder
}

// New returns an empty Assembler.
func New() *Assembler {
	return &Assembler{}
}

// Append adds a fragment to the open utterance, preceded by a single space.
// Empty fragments are ignored.
func (a *Assembler) Append(fragment model.TranscriptFragment) {
	if fragment == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf.WriteByte(' ')
	a.buf.WriteString(string(fragment))
}

// Signal inspects an inbound frame. When the frame is an end-of-speech marker
// and an utterance is open, the utterance is returned and the buffer cleared.
// Otherwise it returns false.
func (a *Assembler) Signal(frame model.AudioFrame) (string, bool) {
	if !frame.IsEndOfSpeech() {
		return "", false
	}
	return a.Flush()
}

// Flush takes the open utterance regardless of any marker.
func (a *Assembler) Flush() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.buf.Len() == 0 {
		return "", false
	}
	text := a.buf.String()
	a.buf.Reset()
	return text, true
}

// Pending reports whether an utterance is being accumulated.
func (a *Assembler) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.Len() > 0
}
