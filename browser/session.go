package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/ArielCalisaya/HideThis/apply"
)

// bindingName is the Runtime binding the injected MutationObserver calls.
const bindingName = "__hidethis_binding"

// Session wraps one stealth page. All effect methods use the same marker
// attributes as the apply package, so a DOM pulled back out of the page
// round-trips through the engine's appliers unchanged.
type Session struct {
	Page   *rod.Page
	URL    string
	logger *slog.Logger
	cancel context.CancelFunc
}

// Open creates a stealth tab, navigates, and waits for load.
func Open(ctx context.Context, mgr *Manager, pageURL string) (*Session, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	return &Session{Page: page, URL: pageURL, logger: mgr.cfg.Logger}, nil
}

// OuterHTML serialises the live document.
func (s *Session) OuterHTML(ctx context.Context) (string, error) {
	res, err := s.Page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("browser: get DOM: %w", err)
	}
	return res.Value.Str(), nil
}

// SetDisplayNone hides every match of sel in the page, recording the
// original inline display in the marker attribute. Returns matches newly
// hidden.
func (s *Session) SetDisplayNone(ctx context.Context, sel string) (int, error) {
	res, err := s.Page.Context(ctx).Eval(`(sel, attrHidden, attrOrig) => {
		let n = 0;
		for (const el of document.querySelectorAll(sel)) {
			if (el.getAttribute(attrHidden) === 'true') continue;
			if (!el.hasAttribute(attrOrig)) {
				el.setAttribute(attrOrig, el.style.display || '');
			}
			el.style.display = 'none';
			el.setAttribute(attrHidden, 'true');
			n++;
		}
		return n;
	}`, sel, apply.AttrHidden, apply.AttrOriginalDisplay)
	if err != nil {
		return 0, fmt.Errorf("browser: hide %q: %w", sel, err)
	}
	return res.Value.Int(), nil
}

// RestoreDisplay reverses SetDisplayNone for every match of sel.
func (s *Session) RestoreDisplay(ctx context.Context, sel string) (int, error) {
	res, err := s.Page.Context(ctx).Eval(`(sel, attrHidden, attrOrig) => {
		let n = 0;
		for (const el of document.querySelectorAll(sel)) {
			if (el.getAttribute(attrHidden) !== 'true') continue;
			el.style.display = el.getAttribute(attrOrig) || '';
			el.removeAttribute(attrOrig);
			el.removeAttribute(attrHidden);
			n++;
		}
		return n;
	}`, sel, apply.AttrHidden, apply.AttrOriginalDisplay)
	if err != nil {
		return 0, fmt.Errorf("browser: restore %q: %w", sel, err)
	}
	return res.Value.Int(), nil
}

// RemoveMatches deletes every match of sel from the page.
func (s *Session) RemoveMatches(ctx context.Context, sel string) (int, error) {
	res, err := s.Page.Context(ctx).Eval(`(sel) => {
		const els = [...document.querySelectorAll(sel)];
		for (const el of els) el.remove();
		return els.length;
	}`, sel)
	if err != nil {
		return 0, fmt.Errorf("browser: remove %q: %w", sel, err)
	}
	return res.Value.Int(), nil
}

// StripClassMatches removes class from every match of sel.
func (s *Session) StripClassMatches(ctx context.Context, sel, class string) (int, error) {
	res, err := s.Page.Context(ctx).Eval(`(sel, cls) => {
		let n = 0;
		for (const el of document.querySelectorAll(sel)) {
			if (!el.classList.contains(cls)) continue;
			el.classList.remove(cls);
			n++;
		}
		return n;
	}`, sel, class)
	if err != nil {
		return 0, fmt.Errorf("browser: strip class %q: %w", sel, err)
	}
	return res.Value.Int(), nil
}

// UpsertStylesheet writes css into the engine-owned style element, creating
// it at the end of head on first use.
func (s *Session) UpsertStylesheet(ctx context.Context, css string) error {
	_, err := s.Page.Context(ctx).Eval(`(id, css) => {
		let style = document.getElementById(id);
		if (!style) {
			style = document.createElement('style');
			style.id = id;
			document.head.appendChild(style);
		}
		style.textContent = css;
	}`, apply.StyleElementID, css)
	if err != nil {
		return fmt.Errorf("browser: upsert stylesheet: %w", err)
	}
	return nil
}

// OnAdditions installs a MutationObserver that forwards the outer HTML of
// added elements through a Runtime binding. The observer batches on the
// page side; the engine's own debouncer batches again on arrival.
func (s *Session) OnAdditions(ctx context.Context, fn func(htmlFragments []string)) error {
	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(s.Page); err != nil {
		s.logger.Warn("browser: addBinding failed (may already exist)", "error", err)
	}

	listenCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.listenBinding(listenCtx, fn)

	_, err := s.Page.Context(ctx).Eval(`(binding) => {
		if (window.__hidethis_observer) return;
		let buf = [];
		let timer = null;
		const flush = () => {
			timer = null;
			if (buf.length === 0) return;
			window[binding](JSON.stringify(buf));
			buf = [];
		};
		const obs = new MutationObserver((records) => {
			for (const rec of records) {
				for (const node of rec.addedNodes) {
					if (node.nodeType !== Node.ELEMENT_NODE) continue;
					buf.push(node.outerHTML);
				}
			}
			if (!timer) timer = setTimeout(flush, 100);
		});
		obs.observe(document.documentElement, { childList: true, subtree: true });
		window.__hidethis_observer = obs;
	}`, bindingName)
	if err != nil {
		return fmt.Errorf("browser: inject observer: %w", err)
	}
	return nil
}

func (s *Session) listenBinding(ctx context.Context, fn func([]string)) {
	s.Page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		var fragments []string
		if err := json.Unmarshal([]byte(e.Payload), &fragments); err != nil {
			s.logger.Warn("browser: parse binding payload", "error", err)
			return
		}
		if len(fragments) > 0 {
			fn(fragments)
		}
	})()
}

// Close stops the binding listener and closes the tab.
func (s *Session) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.Page != nil {
		return s.Page.Close()
	}
	return nil
}
