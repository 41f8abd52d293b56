package narrate

import (
	"context"

	"github.com/google/uuid"
)

// VoiceParams selects the engine voice and playback speed for an utterance.
type VoiceParams struct {
	SpeakerID int
	Speed     float64
}

// Port is the synthesis/playback collaborator boundary. Speak is
// fire-and-forget: the implementation must invoke done exactly once, with nil
// after the utterance finished playing or with an error when synthesis or the
// audio device failed. Stop aborts whatever is currently synthesizing or
// playing and must be safe to call when nothing is active.
type Port interface {
	Speak(text string, params VoiceParams, done func(error))
	Stop()
}

// Feed produces generation deltas for a prompt as a cancellable background
// task. Start registers the task under a fresh handle before any delta is
// emitted and returns that handle synchronously. onDelta is called for each
// text chunk in arrival order, then onDone exactly once; stream errors are the
// feed's to log and are reported as a normal done so in-flight playback can
// finish. Cancel is idempotent and ignores unknown or finished handles.
type Feed interface {
	Start(ctx context.Context, prompt string, onDelta func(string), onDone func()) uuid.UUID
	Cancel(id uuid.UUID)
}
