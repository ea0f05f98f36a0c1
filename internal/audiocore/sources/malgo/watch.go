package malgo

import (
	"sync"
	"time"

	"github.com/tphakala/audiosrc/internal/logger"
)

// DefaultPollInterval is how often the default endpoint is re-enumerated.
const DefaultPollInterval = 2 * time.Second

// defaultWatcher polls for a change of the default endpoint. miniaudio
// reroutes the stream on its own but does not report the change, so the
// session learns about it here.
type defaultWatcher struct {
	lookup   func() (string, error)
	onChange func()
	interval time.Duration
	log      logger.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func newDefaultWatcher(lookup func() (string, error), onChange func(), interval time.Duration, log logger.Logger) *defaultWatcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &defaultWatcher{
		lookup:   lookup,
		onChange: onChange,
		interval: interval,
		log:      log,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// start records the current default and polls until close.
func (w *defaultWatcher) start() {
	initial, err := w.lookup()
	if err != nil {
		w.log.Debug("default device lookup failed", logger.Error(err))
	}
	go w.run(initial)
}

func (w *defaultWatcher) run(current string) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
		}

		id, err := w.lookup()
		if err != nil {
			w.log.Debug("default device lookup failed", logger.Error(err))
			continue
		}
		if id == current {
			continue
		}
		w.log.Info("default capture device changed",
			logger.String("previous", current),
			logger.String("current", id))
		current = id
		w.onChange()
	}
}

func (w *defaultWatcher) close() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}
