package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/normanking/yomiage/internal/audio"
	"github.com/normanking/yomiage/internal/bus"
	"github.com/normanking/yomiage/internal/config"
	"github.com/normanking/yomiage/internal/llm"
	"github.com/normanking/yomiage/internal/logging"
	"github.com/normanking/yomiage/internal/narrate"
	"github.com/normanking/yomiage/internal/playback"
	"github.com/normanking/yomiage/internal/segment"
	"github.com/normanking/yomiage/internal/server"
	"github.com/normanking/yomiage/internal/voicevox"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "yomiage: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Console = cfg.Logging.Console
	if cfg.Logging.Dir != "" {
		logCfg.LogDir = cfg.Logging.Dir
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Close()

	log := logger.Component("main")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Synthesis engine
	engine := voicevox.NewClient(&voicevox.Config{
		BaseURL: cfg.Engine.URL,
		Timeout: cfg.Engine.Timeout,
	}, logger.Zerolog())

	probeCtx, probeCancel := context.WithTimeout(ctx, 3*time.Second)
	version, err := engine.Version(probeCtx)
	probeCancel()
	if err != nil {
		log.Warn().Err(err).Str("url", cfg.Engine.URL).Msg("Speech engine unreachable, will retry per utterance")
	} else {
		log.Info().Str("version", version).Msg("Speech engine online")
	}

	// Audio output
	player := audio.NewPlayer(logger.Zerolog())
	defer player.Close()

	speaker := playback.NewSpeaker(engine, player, logger.Zerolog())

	// Generation feed
	llmClient, err := llm.NewClient(&llm.ClientConfig{
		APIKey:       cfg.LLM.APIKey,
		BaseURL:      cfg.LLM.BaseURL,
		Model:        cfg.LLM.Model,
		SystemPrompt: cfg.LLM.SystemPrompt,
		Timeout:      cfg.LLM.Timeout,
	}, logger.Zerolog())
	if err != nil {
		return fmt.Errorf("init llm client: %w", err)
	}
	feed := llm.NewFeed(llmClient, logger.Zerolog())

	// Coordinator
	coordCfg := narrate.DefaultConfig()
	coordCfg.Voice = narrate.VoiceParams{SpeakerID: cfg.Voice.SpeakerID, Speed: cfg.Voice.Speed}
	coordCfg.Splitter = segment.Splitter{Strong: cfg.Segment.Strong, Clause: cfg.Segment.Clause}
	coordinator := narrate.New(speaker, feed, logger.Zerolog(), coordCfg)

	events := bus.NewEventBus()
	coordinator.SetCallbacks(
		func(state narrate.State) {
			events.Publish(bus.Event{
				Type: bus.EventTypeStateChanged,
				Data: map[string]any{
					"canStart": state.CanStart,
					"speaking": state.Speaking,
					"segments": state.Segments,
				},
			})
		},
		func(err error) {
			events.Publish(bus.Event{
				Type: bus.EventTypePlaybackErr,
				Data: map[string]any{"message": err.Error()},
			})
		},
	)

	go coordinator.Run(ctx)

	// Config hot reload: voice changes apply to the next utterance.
	config.Watch(func(next *config.Config) {
		log.Info().Msg("Config reloaded")
		coordinator.SetVoice(narrate.VoiceParams{
			SpeakerID: next.Voice.SpeakerID,
			Speed:     next.Voice.Speed,
		})
		events.Publish(bus.Event{Type: bus.EventTypeConfigReloaded, Data: map[string]any{}})
	})

	srv := server.New(&server.Config{Addr: cfg.Server.Addr}, coordinator, events, engine, logger, logger.Zerolog())

	log.Info().Str("addr", cfg.Server.Addr).Str("log", logger.LogPath()).Msg("yomiage starting")
	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	coordinator.Stop()
	log.Info().Msg("yomiage shut down")
	return nil
}
