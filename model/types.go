package model

// EndOfSpeechMaxLen is the largest frame length treated as an end-of-speech
// marker rather than audio payload.
const EndOfSpeechMaxLen = 2

// ChunkSize is the size of every outbound audio chunk except the last one of a
// synthesis.
const ChunkSize = 2048

// Sentinel is the payload of the chunk that terminates a synthesis.
const Sentinel = "##"

// AudioFrame represents a slice of raw audio or an end-of-speech marker.
type AudioFrame []byte

// IsEndOfSpeech reports whether the frame is a control marker.
func (f AudioFrame) IsEndOfSpeech() bool {
	return len(f) <= EndOfSpeechMaxLen
}

// TranscriptFragment represents text produced by the recognizer for a
// sub-segment of audio.
type TranscriptFragment string

// Reply is the language model's answer to one utterance.
type Reply string

// OutboundChunk is one ordered piece of synthesized audio.
type OutboundChunk struct {
	Index   int
	Payload []byte
}

// SentinelChunk returns the terminating chunk for the given index.
func SentinelChunk(index int) OutboundChunk {
	return OutboundChunk{Index: index, Payload: []byte(Sentinel)}
}

// IsSentinel reports whether the chunk terminates its synthesis.
func (c OutboundChunk) IsSentinel() bool {
	return string(c.Payload) == Sentinel
}
