package types

// TranscriptEvent is one transcription result delivered by the recognizer.
type TranscriptEvent struct {
	Transcript  string
	Confidence  float64
	Final       bool
	SpeechFinal bool
}

// Metadata describes the recognizer session.
type Metadata struct {
	RequestID string
	ModelName string
	Duration  float64
	Channels  int
}
