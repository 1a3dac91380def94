package stt

import "time"

// Result is a single incremental recognition result. Both volatile (interim)
// and final results use this type.
type Result struct {
	// Text is the transcribed speech content. It may contain engine
	// annotations after a delimiter; consumers strip them.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or volatile
	// (interim) result. A volatile result may be superseded by later results
	// covering the same audio.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). Zero if the
	// provider does not report confidence.
	Confidence float64

	// Timestamp is the wall-clock time the engine published the result. Zero
	// if the provider does not set one; consumers substitute the receive time.
	Timestamp time.Time

	// Offset marks where the utterance starts, relative to session start.
	Offset time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// KeywordBoost represents a keyword to boost in STT recognition.
type KeywordBoost struct {
	// Keyword is the text to boost (e.g., "Kubernetes").
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}
