// Package audio plays synthesized WAV audio on the system output device.
package audio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hajimehoshi/oto"
	"github.com/rs/zerolog"
)

// writeChunk bounds the abort latency: playback is interruptible between
// chunk writes.
const writeChunk = 2048

// Player owns the audio output device. Only one underlying device context can
// exist at a time, so the context is created lazily for the first format seen
// and recreated when the format changes.
type Player struct {
	logger zerolog.Logger

	mu     sync.Mutex
	otoCtx *oto.Context
	player *oto.Player
	format Format
}

// NewPlayer creates a Player. The device is opened on first playback.
func NewPlayer(logger zerolog.Logger) *Player {
	return &Player{
		logger: logger.With().Str("component", "audio-player").Logger(),
	}
}

// Play decodes wavData and writes it to the output device, blocking until the
// audio finished or ctx was cancelled. Cancellation aborts within one chunk.
func (p *Player) Play(ctx context.Context, wavData []byte) error {
	format, pcm, err := ParseWAV(wavData)
	if err != nil {
		return fmt.Errorf("decode wav: %w", err)
	}

	player, err := p.playerFor(format)
	if err != nil {
		return fmt.Errorf("open audio device: %w", err)
	}

	for off := 0; off < len(pcm); off += writeChunk {
		select {
		case <-ctx.Done():
			p.logger.Debug().Msg("Playback aborted")
			return ctx.Err()
		default:
		}

		end := off + writeChunk
		if end > len(pcm) {
			end = len(pcm)
		}
		if _, err := player.Write(pcm[off:end]); err != nil {
			return fmt.Errorf("write audio: %w", err)
		}
	}

	// Write returns once the device buffer accepted the bytes; give the tail
	// of the buffer time to actually sound before reporting completion.
	drain := time.Duration(format.Duration(writeChunk*2) * float64(time.Second))
	select {
	case <-time.After(drain):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (p *Player) playerFor(format Format) (*oto.Player, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.otoCtx != nil && p.format == format {
		return p.player, nil
	}

	if p.player != nil {
		p.player.Close()
		p.player = nil
	}
	if p.otoCtx != nil {
		p.otoCtx.Close()
		p.otoCtx = nil
	}

	otoCtx, err := oto.NewContext(format.SampleRate, format.Channels, format.BytesPerSample, writeChunk*4)
	if err != nil {
		return nil, err
	}

	p.otoCtx = otoCtx
	p.player = otoCtx.NewPlayer()
	p.format = format
	p.logger.Debug().
		Int("sampleRate", format.SampleRate).
		Int("channels", format.Channels).
		Msg("Audio device opened")
	return p.player, nil
}

// Close releases the output device. Safe to call when nothing was played.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.player != nil {
		p.player.Close()
		p.player = nil
	}
	if p.otoCtx != nil {
		p.otoCtx.Close()
		p.otoCtx = nil
	}
	return nil
}
