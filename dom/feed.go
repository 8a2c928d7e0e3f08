package dom

import (
	"time"

	"golang.org/x/net/html"
)

// FeedConfig controls the batching behaviour of an addition feed.
type FeedConfig struct {
	// Window is the debounce time. Default: 250ms.
	Window time.Duration
	// MaxBuffer flushes immediately when this many subtree roots accumulate.
	// Default: 1000.
	MaxBuffer int
}

func (fc *FeedConfig) defaults() {
	if fc.Window <= 0 {
		fc.Window = 250 * time.Millisecond
	}
	if fc.MaxBuffer <= 0 {
		fc.MaxBuffer = 1000
	}
}

// Feed is a DOM-subtree-change notification channel. Batches of added (or
// re-attributed) subtree roots are delivered on C after a debounce window,
// never synchronously inside the triggering mutation.
type Feed struct {
	// C delivers debounced batches of subtree roots.
	C <-chan []*html.Node

	cfg  FeedConfig
	raw  chan []*html.Node
	out  chan []*html.Node
	done chan struct{}
}

// SubscribeAdditions attaches a new addition feed to the document.
func (d *Document) SubscribeAdditions(cfg FeedConfig) *Feed {
	cfg.defaults()
	f := &Feed{
		cfg:  cfg,
		raw:  make(chan []*html.Node, 256),
		out:  make(chan []*html.Node, 16),
		done: make(chan struct{}),
	}
	f.C = f.out
	d.feeds = append(d.feeds, f)
	go f.loop()
	return f
}

// Close disconnects the feed. Pending batches are dropped; already applied
// effects stay in place.
func (f *Feed) Close() {
	select {
	case <-f.done:
	default:
		close(f.done)
	}
}

func (f *Feed) push(nodes []*html.Node) {
	batch := make([]*html.Node, len(nodes))
	copy(batch, nodes)
	select {
	case f.raw <- batch:
	case <-f.done:
	default:
		// Buffer overflow: drop rather than block the mutating caller.
	}
}

// loop collects raw additions and emits debounced batches: flush when the
// window expires with no further mutations, or when the buffer fills.
func (f *Feed) loop() {
	var pending []*html.Node
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := pending
		pending = nil
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
		select {
		case f.out <- batch:
		case <-f.done:
		}
	}

	for {
		select {
		case <-f.done:
			return

		case nodes := <-f.raw:
			pending = append(pending, nodes...)
			if len(pending) >= f.cfg.MaxBuffer {
				flush()
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(f.cfg.Window)
			timerC = timer.C

		case <-timerC:
			flush()
		}
	}
}
