package narrate

// The coordinator consumes a closed set of tagged events through a single
// transition function. Asynchronous producers (generation feed, playback
// port) stamp their events with the epoch captured when the work was
// dispatched so stale completions from a cancelled session are discarded.

type event interface {
	isEvent()
}

type startEvent struct {
	prompt string
}

type stopEvent struct{}

type textEditedEvent struct {
	prompt string
}

type deltaEvent struct {
	epoch uint64
	text  string
}

type doneEvent struct {
	epoch uint64
}

type finishedEvent struct {
	epoch uint64
}

type errorEvent struct {
	epoch uint64
	err   error
}

// voiceEvent carries a live voice parameter update into the run loop.
type voiceEvent struct {
	params VoiceParams
}

func (startEvent) isEvent()      {}
func (stopEvent) isEvent()       {}
func (textEditedEvent) isEvent() {}
func (deltaEvent) isEvent()      {}
func (doneEvent) isEvent()       {}
func (finishedEvent) isEvent()   {}
func (errorEvent) isEvent()      {}
func (voiceEvent) isEvent()      {}
