package stt

import (
	"context"
	"errors"
)

// ErrClosed is returned when audio is sent on a stream that was closed.
var ErrClosed = errors.New("stt: stream closed")

// TranscriptResult represents a speech-to-text transcription result.
type TranscriptResult struct {
	Text       string  // The transcribed text of the top alternative
	Confidence float64 // Confidence score (0-1)
	IsFinal    bool    // Whether this is a final or interim result
}

// Stream is one streaming recognition session bound to a single call.
type Stream interface {
	// StreamAudio sends raw audio to the recognition service, in call order.
	StreamAudio(ctx context.Context, audio []byte) error

	// Results returns a channel that receives transcription results.
	// It is closed after Close returns.
	Results() <-chan TranscriptResult

	// Errors returns a channel that receives stream errors.
	Errors() <-chan error

	// Close releases the remote streaming resource. Safe to call repeatedly.
	Close() error
}

// Recognizer opens recognition streams.
type Recognizer interface {
	Open(ctx context.Context) (Stream, error)
}

// Config describes the audio and recognition options for a stream.
type Config struct {
	LanguageCode    string // e.g. "en-US"
	Model           string // e.g. "command_and_search"
	SampleRate      int    // 16000 for linear PCM from the caller
	Channels        int
	UseEnhanced     bool
	ProfanityFilter bool
	InterimResults  bool
}

// DefaultConfig returns the settings used for phone calls: mono 16 kHz
// linear PCM, English, the enhanced short-command model, profanity filter
// on and finalized transcripts only.
func DefaultConfig() Config {
	return Config{
		LanguageCode:    "en-US",
		Model:           "command_and_search",
		SampleRate:      16000,
		Channels:        1,
		UseEnhanced:     true,
		ProfanityFilter: true,
		InterimResults:  false,
	}
}
