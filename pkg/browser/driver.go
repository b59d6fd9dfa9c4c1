// Package browser owns the Playwright runtime and authenticated browser
// sessions. It is the only package that touches Playwright directly;
// everything above it sees the locator and probe abstractions.
package browser

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/jgwill/mcpservers/pkg/logging"
)

// ErrAuthenticationRequired indicates there is no persisted credential
// state (or the target rejected it). Callers route this to the
// interactive login hand-off instead of retrying blindly.
var ErrAuthenticationRequired = errors.New("authentication required")

// ErrSessionInvalid indicates the browser context backing a session is
// unreachable or closed.
var ErrSessionInvalid = errors.New("session invalid")

// ErrActionFailed indicates an element was located but the dispatched
// action could not be applied, for example a disabled control.
var ErrActionFailed = errors.New("action failed")

// Driver wraps the Playwright runtime. One driver serves the whole
// process; sessions are created from it.
type Driver struct {
	mu          sync.Mutex
	pw          *playwright.Playwright
	log         *logging.Logger
	initialized bool
}

// NewDriver creates an uninitialized driver.
func NewDriver(log *logging.Logger) *Driver {
	if log == nil {
		log, _ = logging.NewLogger("browser")
	}
	return &Driver{log: log}
}

// Initialize installs and starts Playwright. Must be called before
// creating any sessions. Safe to call more than once.
func (d *Driver) Initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.initialized {
		return nil
	}

	// Discard driver output so it cannot interleave with our own.
	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	d.pw = pw
	d.initialized = true
	d.log.Infof("playwright driver initialized")
	return nil
}

// Shutdown stops the Playwright runtime. Sessions created from this
// driver become invalid.
func (d *Driver) Shutdown() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized || d.pw == nil {
		return nil
	}
	if err := d.pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	d.pw = nil
	d.initialized = false
	return nil
}
