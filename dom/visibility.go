package dom

import (
	"golang.org/x/net/html"
)

// DefaultLookAhead is the viewport expansion margin in pixels. Elements this
// close to the visible region count as "near-visible", covering content that
// virtualisation frameworks only flesh out shortly before it scrolls in.
const DefaultLookAhead = 250

// VisibilityFeed is the second change-notification channel: it reports
// elements entering the expanded viewport. Delivery is batched and
// asynchronous; no ordering is guaranteed relative to addition feeds.
type VisibilityFeed struct {
	// C delivers batches of elements that newly entered the look-ahead range.
	C <-chan []*html.Node

	out    chan []*html.Node
	margin int
	seen   map[*html.Node]bool
	closed bool
}

// SubscribeVisibility attaches a visibility feed with the given look-ahead
// margin (<= 0 uses DefaultLookAhead). The feed reports each element at most
// once per entry; scrolling away and back does not re-report it.
func (d *Document) SubscribeVisibility(margin int) *VisibilityFeed {
	if margin <= 0 {
		margin = DefaultLookAhead
	}
	f := &VisibilityFeed{
		out:    make(chan []*html.Node, 64),
		margin: margin,
		seen:   make(map[*html.Node]bool),
	}
	f.C = f.out
	d.visibility = append(d.visibility, f)
	return f
}

// Close disconnects the feed from future viewport scans.
func (f *VisibilityFeed) Close() { f.closed = true }

// SetViewport updates the document's visible region and runs a visibility
// scan: every positioned element whose box intersects the expanded viewport
// and was not previously reported is delivered to each visibility feed.
func (d *Document) SetViewport(top, height int) {
	d.viewTop, d.viewHeight = top, height
	for _, f := range d.visibility {
		if f.closed {
			continue
		}
		f.scan(d)
	}
}

// RescanVisibility re-runs the scan against the current viewport. Called
// after content additions so near-visible injected elements are picked up
// without a scroll event.
func (d *Document) RescanVisibility() {
	d.SetViewport(d.viewTop, d.viewHeight)
}

func (f *VisibilityFeed) scan(d *Document) {
	lo := d.viewTop - f.margin
	hi := d.viewTop + d.viewHeight + f.margin

	var batch []*html.Node
	Walk(d.root, func(n *html.Node) {
		if n.Type != html.ElementNode || f.seen[n] {
			return
		}
		box := NodeBox(n)
		if !box.PosKnown {
			return
		}
		bottom := box.Top + box.Height
		if bottom >= lo && box.Top <= hi {
			f.seen[n] = true
			batch = append(batch, n)
		}
	})

	if len(batch) == 0 {
		return
	}
	select {
	case f.out <- batch:
	default:
		// Drop on overflow: the next scan reports stragglers again only if
		// unseen, so mark them unseen to retry.
		for _, n := range batch {
			delete(f.seen, n)
		}
	}
}
