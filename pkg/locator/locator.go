// Package locator resolves semantic UI descriptors to concrete page
// elements through an ordered list of fallback strategies. Strategies
// are pure: they query the page, they never act on it.
package locator

import (
	"errors"
	"fmt"
	"strings"
)

// ErrElementNotFound indicates the expected UI structure is absent:
// every applicable strategy was tried and none produced a visible match.
var ErrElementNotFound = errors.New("element not found")

// Element is one interactive node on a rendered page. It embeds Finder
// so a located anchor can be searched as a subtree.
type Element interface {
	Finder

	// Visible reports whether the element is currently rendered.
	Visible() (bool, error)

	// Disabled reports whether the element rejects interaction.
	Disabled() (bool, error)

	// Click dispatches a click on the element.
	Click() error

	// Fill replaces the element's input value.
	Fill(value string) error

	// TextContent returns the element's rendered text.
	TextContent() (string, error)
}

// Finder queries a page (or an element subtree) for candidate elements.
// Implementations return candidates in document order; visibility
// filtering is the locator's job, not the finder's.
type Finder interface {
	// QueryRole returns elements with the given ARIA role whose
	// accessible name contains name.
	QueryRole(role, name string) ([]Element, error)

	// QueryText returns elements whose visible text contains text.
	QueryText(text string) ([]Element, error)

	// QuerySelector returns elements matching a structural selector,
	// such as a stable data attribute.
	QuerySelector(selector string) ([]Element, error)
}

// Descriptor names a target element semantically. Zero-value fields
// disable the corresponding strategy; at least one must be set.
type Descriptor struct {
	// Role and Name drive the accessible-name strategy
	// (e.g. Role "button", Name "Publish").
	Role string
	Name string

	// Text drives the visible-text strategy.
	Text string

	// Selector drives the structural-attribute strategy.
	Selector string

	// Anchor, when set, enables the nearest-container fallback: the
	// anchor is located by selector and its subtree is searched with
	// the descriptor's Text and Selector.
	Anchor string
}

// String renders the descriptor for diagnostics.
func (d Descriptor) String() string {
	var parts []string
	if d.Role != "" {
		parts = append(parts, fmt.Sprintf("role=%s name=%q", d.Role, d.Name))
	}
	if d.Text != "" {
		parts = append(parts, fmt.Sprintf("text=%q", d.Text))
	}
	if d.Selector != "" {
		parts = append(parts, fmt.Sprintf("selector=%q", d.Selector))
	}
	if d.Anchor != "" {
		parts = append(parts, fmt.Sprintf("anchor=%q", d.Anchor))
	}
	if len(parts) == 0 {
		return "<empty descriptor>"
	}
	return strings.Join(parts, " ")
}

// Strategy is one independently testable resolution step. Apply returns
// the first visible match, or nil if the strategy does not apply or
// found nothing. Query errors are returned so callers can distinguish a
// broken page handle from a clean miss.
type Strategy struct {
	Name  string
	Apply func(f Finder, d Descriptor) (Element, error)
}

// Strategies is the fallback order applied by Find. The order is part
// of the contract: accessible name first, visible text second,
// structural attribute third, anchor subtree last.
func Strategies() []Strategy {
	return []Strategy{
		{Name: "role", Apply: byRole},
		{Name: "text", Apply: byText},
		{Name: "selector", Apply: bySelector},
		{Name: "anchor", Apply: byAnchor},
	}
}

// Find resolves d against f, trying each strategy in order until one
// yields a visible element. Hidden elements never match. Returns
// ErrElementNotFound (wrapped with the descriptor) when every strategy
// comes up empty.
func Find(f Finder, d Descriptor) (Element, error) {
	for _, s := range Strategies() {
		el, err := s.Apply(f, d)
		if err != nil {
			return nil, fmt.Errorf("%s strategy: %w", s.Name, err)
		}
		if el != nil {
			return el, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", d, ErrElementNotFound)
}

func byRole(f Finder, d Descriptor) (Element, error) {
	if d.Role == "" {
		return nil, nil
	}
	els, err := f.QueryRole(d.Role, d.Name)
	if err != nil {
		return nil, err
	}
	return firstVisible(els)
}

func byText(f Finder, d Descriptor) (Element, error) {
	if d.Text == "" {
		return nil, nil
	}
	els, err := f.QueryText(d.Text)
	if err != nil {
		return nil, err
	}
	return firstVisible(els)
}

func bySelector(f Finder, d Descriptor) (Element, error) {
	if d.Selector == "" {
		return nil, nil
	}
	els, err := f.QuerySelector(d.Selector)
	if err != nil {
		return nil, err
	}
	return firstVisible(els)
}

// byAnchor locates a known container and searches its subtree with the
// remaining descriptor fields. Useful when the target has no stable
// identity of its own but its container does.
func byAnchor(f Finder, d Descriptor) (Element, error) {
	if d.Anchor == "" || (d.Text == "" && d.Selector == "") {
		return nil, nil
	}
	anchors, err := f.QuerySelector(d.Anchor)
	if err != nil {
		return nil, err
	}
	anchor, err := firstVisible(anchors)
	if err != nil || anchor == nil {
		return nil, err
	}
	if d.Text != "" {
		els, err := anchor.QueryText(d.Text)
		if err != nil {
			return nil, err
		}
		if el, err := firstVisible(els); err != nil || el != nil {
			return el, err
		}
	}
	if d.Selector != "" {
		els, err := anchor.QuerySelector(d.Selector)
		if err != nil {
			return nil, err
		}
		return firstVisible(els)
	}
	return nil, nil
}

func firstVisible(els []Element) (Element, error) {
	for _, el := range els {
		visible, err := el.Visible()
		if err != nil {
			return nil, err
		}
		if visible {
			return el, nil
		}
	}
	return nil, nil
}
