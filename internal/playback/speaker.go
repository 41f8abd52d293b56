// Package playback turns speak commands into engine synthesis and device
// playback, reporting exactly one completion per command.
package playback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/normanking/yomiage/internal/narrate"
	"github.com/rs/zerolog"
)

// ErrEmptyUtterance marks a speak command whose text is blank. It is rejected
// before any network call; the completion still fires so sequencing continues.
var ErrEmptyUtterance = errors.New("empty utterance")

// Engine synthesizes one utterance to WAV audio. *voicevox.Client implements it.
type Engine interface {
	SynthesizeText(ctx context.Context, text string, speaker int, speed float64) ([]byte, error)
}

// Device plays WAV audio, blocking until done or ctx is cancelled.
// *audio.Player implements it.
type Device interface {
	Play(ctx context.Context, wavData []byte) error
}

// Speaker implements narrate.Port. One utterance runs at a time; Stop aborts
// the in-flight one, whose completion then carries a cancellation error that
// the coordinator discards as stale.
type Speaker struct {
	engine Engine
	device Device
	logger zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewSpeaker creates a Speaker.
func NewSpeaker(engine Engine, device Device, logger zerolog.Logger) *Speaker {
	return &Speaker{
		engine: engine,
		device: device,
		logger: logger.With().Str("component", "speaker").Logger(),
	}
}

// Speak synthesizes and plays text asynchronously. done is invoked exactly
// once: nil after playback finished, an error when the text was blank,
// synthesis failed, the device failed, or Stop aborted the utterance.
func (s *Speaker) Speak(text string, params narrate.VoiceParams, done func(error)) {
	if strings.TrimSpace(text) == "" {
		s.logger.Debug().Msg("Blank utterance rejected")
		go done(ErrEmptyUtterance)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.cancel != nil {
		// The coordinator never overlaps utterances; a leftover cancel means
		// the previous one was aborted and may still be winding down.
		s.cancel()
	}
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		defer cancel()

		wavData, err := s.engine.SynthesizeText(ctx, text, params.SpeakerID, params.Speed)
		if err != nil {
			done(fmt.Errorf("synthesize: %w", err))
			return
		}
		if err := s.device.Play(ctx, wavData); err != nil {
			done(fmt.Errorf("play: %w", err))
			return
		}
		done(nil)
	}()
}

// Stop aborts the in-flight utterance, if any. Safe to call when idle and
// safe to call repeatedly.
func (s *Speaker) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.logger.Debug().Msg("Playback stopped")
	}
}
