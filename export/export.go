// Package export renders engine state for consumption outside the
// content-script world: sanitised element previews for the popup list and
// whole-document snapshots as HTML or markdown.
//
// Page HTML is untrusted input. Everything leaving this package passes
// through a bluemonday UGC policy first, so a hostile page cannot smuggle
// markup into the UI that displays it.
package export

import (
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/ArielCalisaya/HideThis/dom"
	"github.com/ArielCalisaya/HideThis/idgen"
)

// PreviewMaxLen caps element previews shown in the popup list.
const PreviewMaxLen = 300

// Exporter holds the sanitiser and markdown converter. Construct once and
// reuse; both underlying components are safe for repeated use.
type Exporter struct {
	policy *bluemonday.Policy
	md     *converter.Converter
	newID  idgen.Generator
}

// New creates an Exporter.
func New() *Exporter {
	return &Exporter{
		policy: bluemonday.UGCPolicy(),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		newID: idgen.Default,
	}
}

// Preview renders a node's outer HTML, sanitised and truncated, for display
// in the hidden-elements list.
func (e *Exporter) Preview(n *html.Node) string {
	raw, err := dom.RenderNode(n)
	if err != nil {
		return ""
	}
	clean := strings.TrimSpace(e.policy.Sanitize(raw))
	if len(clean) > PreviewMaxLen {
		clean = clean[:PreviewMaxLen] + "…"
	}
	return clean
}

// Snapshot is an exported view of the reconciled document.
type Snapshot struct {
	ID      string `json:"id"`
	Origin  string `json:"origin"`
	Format  string `json:"format"` // "html" | "markdown"
	Content string `json:"content"`
}

// HTMLSnapshot renders the document as sanitised HTML.
func (e *Exporter) HTMLSnapshot(doc *dom.Document) (*Snapshot, error) {
	raw, err := doc.Render()
	if err != nil {
		return nil, fmt.Errorf("export: render: %w", err)
	}
	return &Snapshot{
		ID:      e.newID(),
		Origin:  doc.Origin(),
		Format:  "html",
		Content: e.policy.Sanitize(raw),
	}, nil
}

// MarkdownSnapshot renders the document as markdown: the "what's left after
// reconciliation" report.
func (e *Exporter) MarkdownSnapshot(doc *dom.Document) (*Snapshot, error) {
	raw, err := doc.Render()
	if err != nil {
		return nil, fmt.Errorf("export: render: %w", err)
	}
	md, err := e.md.ConvertString(raw)
	if err != nil {
		return nil, fmt.Errorf("export: markdown: %w", err)
	}
	return &Snapshot{
		ID:      e.newID(),
		Origin:  doc.Origin(),
		Format:  "markdown",
		Content: md,
	}, nil
}
