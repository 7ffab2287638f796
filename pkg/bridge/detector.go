package bridge

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/castellanosj/warelay/pkg/browser"
)

// Page is the parsed view a heuristic inspects. Heuristics are pure
// functions of it and never touch the driver.
type Page struct {
	URL    string
	Title  string
	Doc    *goquery.Document
	Source string
}

// Has reports whether any node matches the CSS selector.
func (p *Page) Has(selector string) bool {
	if p.Doc == nil {
		return false
	}
	return p.Doc.Find(selector).Length() > 0
}

// Heuristic is one independent, possibly-unreliable signal that the
// target reached its post-login screen.
type Heuristic struct {
	Name  string
	Check func(*Page) bool
}

// DefaultHeuristics returns the detection chain in priority order. Any
// single positive is authoritative; all-negative means not
// authenticated, never an error. The target UI is not contractual, so
// the chain is deliberately redundant.
func DefaultHeuristics() []Heuristic {
	return []Heuristic{
		{
			Name: "chat_icon",
			Check: func(p *Page) bool {
				return p.Has("[data-icon='chat']")
			},
		},
		{
			Name: "side_panel",
			Check: func(p *Page) bool {
				return p.Has("#pane-side")
			},
		},
		{
			Name: "menu_without_canvas",
			Check: func(p *Page) bool {
				return !p.Has("canvas") && p.Has("[data-icon='menu']")
			},
		},
		{
			Name: "title_and_content",
			Check: func(p *Page) bool {
				if !strings.Contains(p.Title, "WhatsApp") || strings.Contains(p.Title, "Login") {
					return false
				}
				if strings.Contains(p.Source, "WhatsApp is ready") {
					return true
				}
				return strings.Contains(p.URL, "/accept")
			},
		},
	}
}

// Detector classifies the current authentication state from one page
// snapshot.
type Detector struct {
	heuristics []Heuristic
}

// NewDetector builds a detector; nil heuristics selects the defaults.
func NewDetector(heuristics []Heuristic) *Detector {
	if heuristics == nil {
		heuristics = DefaultHeuristics()
	}
	return &Detector{heuristics: heuristics}
}

// Detect captures a snapshot from the handle and evaluates the chain.
// The returned name identifies the heuristic that fired, empty when
// none did. Only driver failures surface as errors.
func (d *Detector) Detect(ctx context.Context, handle browser.Handle) (bool, string, error) {
	snap, err := handle.Snapshot(ctx)
	if err != nil {
		return false, "", err
	}
	page, err := parsePage(snap)
	if err != nil {
		// An unparseable page carries no positive signal.
		return false, "", nil
	}
	return d.detectPage(page)
}

func (d *Detector) detectPage(page *Page) (bool, string, error) {
	for _, h := range d.heuristics {
		if h.Check(page) {
			return true, h.Name, nil
		}
	}
	return false, "", nil
}

func parsePage(snap browser.Snapshot) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snap.Source))
	if err != nil {
		return nil, err
	}
	return &Page{
		URL:    snap.URL,
		Title:  snap.Title,
		Doc:    doc,
		Source: snap.Source,
	}, nil
}
