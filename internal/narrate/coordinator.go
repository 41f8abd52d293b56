// Package narrate coordinates incremental narration of a streamed model
// response: it segments the growing transcript into playback units and
// serializes their synthesis and playback so that exactly one utterance is in
// flight at any time.
package narrate

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/normanking/yomiage/internal/segment"
	"github.com/rs/zerolog"
)

// State is the user-visible snapshot published after every transition.
type State struct {
	CanStart bool     `json:"canStart"`
	Speaking bool     `json:"speaking"`
	Segments []string `json:"segments"`
}

// Config holds coordinator configuration.
type Config struct {
	Voice     VoiceParams
	Splitter  segment.Splitter
	QueueSize int // event queue capacity
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Voice:     VoiceParams{SpeakerID: 1, Speed: 1.0},
		Splitter:  segment.Default(),
		QueueSize: 64,
	}
}

// session is the per-narration state. It is owned exclusively by the run
// loop; no other goroutine reads or writes it.
type session struct {
	epoch          uint64
	fullText       strings.Builder
	segments       []string
	prevCount      int // segment count after the previous delta
	lastSpeakCount int // segment count when the current utterance was dispatched
	spoken         int // next segment index to dispatch
	current        int // segment index being spoken, -1 when playback is idle
	handle         uuid.UUID
	hasHandle      bool
	generating     bool
	genDone        bool
	canStart       bool
	staged         string
}

// Coordinator is the playback state machine. All session mutation happens on
// the single run-loop goroutine; public methods and collaborator callbacks
// only enqueue events.
type Coordinator struct {
	logger   zerolog.Logger
	port     Port
	feed     Feed
	splitter segment.Splitter
	voice    VoiceParams

	onState func(State)
	onError func(error)

	events chan event
	closed chan struct{}

	runCtx context.Context
	sess   session
}

// New creates a Coordinator. Run must be called before Start has any effect.
func New(port Port, feed Feed, logger zerolog.Logger, cfg *Config) *Coordinator {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	c := &Coordinator{
		logger:   logger.With().Str("component", "coordinator").Logger(),
		port:     port,
		feed:     feed,
		splitter: cfg.Splitter,
		voice:    cfg.Voice,
		events:   make(chan event, cfg.QueueSize),
		closed:   make(chan struct{}),
	}
	c.sess = c.freshSession(0, "")
	return c
}

// SetCallbacks configures the state snapshot and playback error callbacks.
// Both are invoked from the run loop and must not block.
func (c *Coordinator) SetCallbacks(onState func(State), onError func(error)) {
	c.onState = onState
	c.onError = onError
}

// SetVoice updates the voice used for subsequent utterances.
func (c *Coordinator) SetVoice(params VoiceParams) {
	c.post(voiceEvent{params: params})
}

// Start begins narrating the given prompt. Empty prompt falls back to the
// staged text from TextEdited. Ignored while a narration is active.
func (c *Coordinator) Start(prompt string) {
	c.post(startEvent{prompt: prompt})
}

// Stop cancels generation, aborts playback and resets the session. Safe to
// call at any time, including when nothing is running.
func (c *Coordinator) Stop() {
	c.post(stopEvent{})
}

// TextEdited stages a new prompt. Edits during active generation are ignored
// to avoid prompt/session mismatch.
func (c *Coordinator) TextEdited(prompt string) {
	c.post(textEditedEvent{prompt: prompt})
}

// Run processes events until ctx is cancelled. It is the single writer of
// session state.
func (c *Coordinator) Run(ctx context.Context) {
	c.runCtx = ctx
	defer close(c.closed)

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug().Msg("Coordinator shutting down")
			return
		case ev := <-c.events:
			c.transition(ev)
		}
	}
}

func (c *Coordinator) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.closed:
	}
}

// transition is the single exhaustive dispatch over the event set.
func (c *Coordinator) transition(ev event) {
	switch e := ev.(type) {
	case startEvent:
		c.handleStart(e)
	case stopEvent:
		c.handleStop()
	case textEditedEvent:
		c.handleTextEdited(e)
	case deltaEvent:
		c.handleDelta(e)
	case doneEvent:
		c.handleDone(e)
	case finishedEvent:
		c.handleCompletion(e.epoch, nil)
	case errorEvent:
		c.handleCompletion(e.epoch, e.err)
	case voiceEvent:
		c.voice = e.params
	}
}

func (c *Coordinator) freshSession(epoch uint64, staged string) session {
	return session{
		epoch:     epoch,
		segments:  c.splitter.Split(""),
		prevCount: 1,
		current:   -1,
		canStart:  true,
		staged:    staged,
	}
}

func (c *Coordinator) handleStart(e startEvent) {
	if !c.sess.canStart {
		c.logger.Debug().Msg("Start ignored, narration already active")
		return
	}

	prompt := strings.TrimSpace(e.prompt)
	if prompt == "" {
		prompt = strings.TrimSpace(c.sess.staged)
	}
	if prompt == "" {
		c.logger.Debug().Msg("Start ignored, empty prompt")
		return
	}

	epoch := c.sess.epoch + 1
	c.sess = c.freshSession(epoch, c.sess.staged)
	c.sess.canStart = false
	c.sess.generating = true

	c.sess.handle = c.feed.Start(c.runCtx, prompt,
		func(text string) { c.post(deltaEvent{epoch: epoch, text: text}) },
		func() { c.post(doneEvent{epoch: epoch}) },
	)
	c.sess.hasHandle = true

	c.logger.Info().
		Uint64("epoch", epoch).
		Str("handle", c.sess.handle.String()).
		Msg("Narration started")
	c.publishState()
}

func (c *Coordinator) handleStop() {
	s := &c.sess
	if s.hasHandle {
		c.feed.Cancel(s.handle)
	}
	c.port.Stop()

	c.sess = c.freshSession(s.epoch+1, s.staged)
	c.logger.Info().Uint64("epoch", c.sess.epoch).Msg("Narration stopped")
	c.publishState()
}

func (c *Coordinator) handleTextEdited(e textEditedEvent) {
	if c.sess.generating {
		c.logger.Debug().Msg("Text edit ignored during generation")
		return
	}
	c.sess.staged = e.prompt
}

func (c *Coordinator) handleDelta(e deltaEvent) {
	s := &c.sess
	if e.epoch != s.epoch || !s.generating {
		c.logger.Debug().Uint64("epoch", e.epoch).Msg("Stale delta discarded")
		return
	}

	s.fullText.WriteString(e.text)
	s.segments = c.splitter.Split(s.fullText.String())
	count := len(s.segments)

	if s.current < 0 {
		if s.spoken == 0 {
			// First-speak rule: fire only on the exact 1->2 count transition
			// so speech starts on the first completed sentence and only once.
			if s.prevCount == 1 && count == 2 {
				c.speak(0)
			}
		} else if s.spoken < count-1 {
			// Playback caught up earlier; resume on the newly completed unit.
			c.speak(s.spoken)
		}
	}

	s.prevCount = count
	c.publishState()
}

func (c *Coordinator) handleDone(e doneEvent) {
	s := &c.sess
	if e.epoch != s.epoch || !s.generating {
		c.logger.Debug().Uint64("epoch", e.epoch).Msg("Stale done discarded")
		return
	}

	s.generating = false
	s.genDone = true
	s.hasHandle = false
	c.logger.Debug().Int("segments", len(s.segments)).Msg("Generation done")

	if s.current < 0 {
		if i, ok := c.nextSpeakable(); ok {
			c.speak(i)
		} else {
			c.completeSession()
		}
	}
	c.publishState()
}

// handleCompletion processes playback-finished and playback-error uniformly:
// an error advances the sequence exactly like a finish, so no failed
// utterance can leave the machine waiting forever.
func (c *Coordinator) handleCompletion(epoch uint64, err error) {
	s := &c.sess
	if epoch != s.epoch {
		c.logger.Debug().Uint64("epoch", epoch).Msg("Stale playback completion discarded")
		return
	}

	if err != nil {
		c.logger.Warn().Err(err).Int("segment", s.current).Msg("Playback failed, continuing")
		if c.onError != nil {
			c.onError(err)
		}
	}

	s.current = -1
	if i, ok := c.nextSpeakable(); ok {
		c.speak(i)
	} else if s.genDone {
		c.completeSession()
	}
	c.publishState()
}

// nextSpeakable returns the next dispatchable segment index. While generation
// is active the trailing element is provisional and excluded; once generation
// is done every remaining non-blank segment is eligible, so the final
// sentence is flushed.
func (c *Coordinator) nextSpeakable() (int, bool) {
	s := &c.sess
	if !s.genDone {
		if s.spoken < len(s.segments)-1 {
			return s.spoken, true
		}
		return 0, false
	}
	for i := s.spoken; i < len(s.segments); i++ {
		if strings.TrimSpace(s.segments[i]) != "" {
			return i, true
		}
	}
	return 0, false
}

func (c *Coordinator) speak(i int) {
	s := &c.sess
	s.current = i
	s.spoken = i + 1
	s.lastSpeakCount = len(s.segments)

	text := s.segments[i]
	epoch := s.epoch
	c.logger.Debug().Int("segment", i).Int("len", len(text)).Msg("Dispatching utterance")

	c.port.Speak(text, c.voice, func(err error) {
		if err != nil {
			c.post(errorEvent{epoch: epoch, err: err})
			return
		}
		c.post(finishedEvent{epoch: epoch})
	})
}

func (c *Coordinator) completeSession() {
	s := &c.sess
	if s.canStart {
		return
	}
	s.canStart = true
	c.logger.Info().
		Int("segments", len(s.segments)).
		Int("spoken", s.spoken).
		Msg("Narration complete")
}

func (c *Coordinator) publishState() {
	if c.onState == nil {
		return
	}
	s := &c.sess
	segs := make([]string, len(s.segments))
	copy(segs, s.segments)
	c.onState(State{
		CanStart: s.canStart,
		Speaking: s.current >= 0,
		Segments: segs,
	})
}
