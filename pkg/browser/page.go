package browser

import (
	"fmt"

	"github.com/playwright-community/playwright-go"

	"github.com/jgwill/mcpservers/pkg/locator"
)

// Finder returns a locator.Finder over the session's current page.
func (s *Session) Finder() locator.Finder {
	return &pageFinder{s: s}
}

// pageFinder adapts a Playwright page to the locator query surface.
type pageFinder struct {
	s *Session
}

func (f *pageFinder) QueryRole(role, name string) ([]locator.Element, error) {
	if !f.s.Alive() {
		return nil, ErrSessionInvalid
	}
	f.s.touch()
	opts := playwright.PageGetByRoleOptions{}
	if name != "" {
		opts.Name = name
	}
	return collect(f.s.page.GetByRole(playwright.AriaRole(role), opts))
}

func (f *pageFinder) QueryText(text string) ([]locator.Element, error) {
	if !f.s.Alive() {
		return nil, ErrSessionInvalid
	}
	f.s.touch()
	return collect(f.s.page.GetByText(text))
}

func (f *pageFinder) QuerySelector(selector string) ([]locator.Element, error) {
	if !f.s.Alive() {
		return nil, ErrSessionInvalid
	}
	f.s.touch()
	return collect(f.s.page.Locator(selector))
}

// element adapts one Playwright locator to locator.Element.
type element struct {
	loc playwright.Locator
}

func collect(loc playwright.Locator) ([]locator.Element, error) {
	all, err := loc.All()
	if err != nil {
		return nil, fmt.Errorf("element query failed: %w", err)
	}
	els := make([]locator.Element, 0, len(all))
	for _, l := range all {
		els = append(els, &element{loc: l})
	}
	return els, nil
}

func (e *element) Visible() (bool, error) {
	return e.loc.IsVisible()
}

func (e *element) Disabled() (bool, error) {
	return e.loc.IsDisabled()
}

// Click dispatches a click. A disabled control is an action failure,
// not a missing element: the structure is there, it just refuses input.
func (e *element) Click() error {
	disabled, err := e.loc.IsDisabled()
	if err != nil {
		return fmt.Errorf("click failed: %w", err)
	}
	if disabled {
		return fmt.Errorf("element is disabled: %w", ErrActionFailed)
	}
	if err := e.loc.Click(); err != nil {
		return fmt.Errorf("click: %w: %v", ErrActionFailed, err)
	}
	return nil
}

func (e *element) Fill(value string) error {
	if err := e.loc.Fill(value); err != nil {
		return fmt.Errorf("fill: %w: %v", ErrActionFailed, err)
	}
	return nil
}

func (e *element) TextContent() (string, error) {
	text, err := e.loc.TextContent()
	if err != nil {
		return "", fmt.Errorf("text extraction failed: %w", err)
	}
	return text, nil
}

func (e *element) QueryRole(role, name string) ([]locator.Element, error) {
	opts := playwright.LocatorGetByRoleOptions{}
	if name != "" {
		opts.Name = name
	}
	return collect(e.loc.GetByRole(playwright.AriaRole(role), opts))
}

func (e *element) QueryText(text string) ([]locator.Element, error) {
	return collect(e.loc.GetByText(text))
}

func (e *element) QuerySelector(selector string) ([]locator.Element, error) {
	return collect(e.loc.Locator(selector))
}
