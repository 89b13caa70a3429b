// Package stt defines the Provider interface for speech-to-text backends.
//
// Spoken lesson answers arrive as one short recorded clip, so transcription
// is a batch call rather than a stream. An empty transcript with a nil
// error is a valid outcome: the backend heard the clip but recognized no
// speech in it.
package stt

import "context"

// Clip is a recorded answer ready for transcription.
type Clip struct {
	// PCM is 16-bit signed little-endian audio.
	PCM []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels is usually 1.
	Channels int

	// Language is the BCP-47 code of the expected language, e.g. "es".
	Language string
}

// Provider transcribes recorded clips. Implementations must be safe for
// concurrent use.
type Provider interface {
	Transcribe(ctx context.Context, clip Clip) (string, error)
}
