package fanout

import "github.com/Sternrassler/fanout/pkg/progress"

// ProgressSink receives one Increment per settled item and one Finish when
// the stream ends. Calls come from the consuming goroutine only.
type ProgressSink interface {
	Increment()
	Finish()
}

// ProgressFactory builds the sink for a batch of total items.
type ProgressFactory func(label string, total int) ProgressSink

// defaultProgress renders a bar on a terminal and logs otherwise.
func defaultProgress(label string, total int) ProgressSink {
	return progress.Auto(label, total)
}

type nopSink struct{}

func (nopSink) Increment() {}
func (nopSink) Finish()    {}

func newSink(cfg Config, total int) ProgressSink {
	if cfg.ProgressLabel == "" {
		return nopSink{}
	}
	factory := cfg.Progress
	if factory == nil {
		factory = defaultProgress
	}
	if sink := factory(cfg.ProgressLabel, total); sink != nil {
		return sink
	}
	return nopSink{}
}
