package browser

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/playwright-community/playwright-go"
)

// SessionOptions configures a new browser session.
type SessionOptions struct {
	// StorageStatePath is the persisted credential file. When set, the
	// file must exist: its absence means authentication is required.
	// Interactive login sessions leave it empty and write the file
	// afterwards via SaveStorageState.
	StorageStatePath string

	// RequireAuth controls whether a missing storage-state file is an
	// error. Workflow sessions set it; login sessions do not.
	RequireAuth bool

	// Headless controls whether the browser runs without a window.
	Headless bool

	// Viewport sets the initial viewport size. Nil means the default.
	Viewport *Viewport

	// Timeout sets the default per-operation timeout in milliseconds.
	Timeout float64
}

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int
	Height int
}

// Default values for session creation.
const (
	DefaultTimeout        = 30000.0 // 30 seconds in milliseconds
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 720
)

// Session is one authenticated browser context plus its persisted
// credential state. At most one workflow may hold a session at a time;
// the orchestrator acquires it through TryLock.
type Session struct {
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page

	// StorageStatePath is the credential file backing this session.
	StorageStatePath string

	CreatedAt  time.Time
	LastUsedAt time.Time

	// lock is the exclusive-use handle taken by the orchestrator for
	// the full duration of one workflow run.
	lock sync.Mutex

	closed atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSession launches a browser and creates an authenticated context.
// Returns ErrAuthenticationRequired when RequireAuth is set and no
// storage-state file exists.
func (d *Driver) NewSession(opts SessionOptions) (*Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return nil, fmt.Errorf("driver not initialized")
	}

	useStorageState := false
	if opts.StorageStatePath != "" {
		if _, err := os.Stat(opts.StorageStatePath); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to stat storage state: %w", err)
			}
			if opts.RequireAuth {
				return nil, fmt.Errorf("no storage state at %s: %w", opts.StorageStatePath, ErrAuthenticationRequired)
			}
		} else {
			useStorageState = true
		}
	}

	if opts.Viewport == nil {
		opts.Viewport = &Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight}
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
	}
	browser, err := d.pw.Chromium.Launch(launchOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	contextOpts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  opts.Viewport.Width,
			Height: opts.Viewport.Height,
		},
	}
	if useStorageState {
		contextOpts.StorageStatePath = playwright.String(opts.StorageStatePath)
	}
	bctx, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		browser.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(opts.Timeout)

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	s := &Session{
		browser:          browser,
		context:          bctx,
		page:             page,
		StorageStatePath: opts.StorageStatePath,
		CreatedAt:        now,
		LastUsedAt:       now,
		ctx:              ctx,
		cancel:           cancel,
	}
	d.log.Infof("session created (storage state: %v, headless: %v)", useStorageState, opts.Headless)
	return s, nil
}

// TryLock acquires exclusive use of the session without blocking.
func (s *Session) TryLock() bool {
	return s.lock.TryLock()
}

// Unlock releases exclusive use.
func (s *Session) Unlock() {
	s.lock.Unlock()
}

// Context is cancelled when the session closes. Confirmation waits run
// under it, so closing the session mid-workflow resolves any in-flight
// phase with a cancelled error.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Alive reports whether the session's browser context is still usable.
func (s *Session) Alive() bool {
	return !s.closed.Load()
}

// touch updates the last-used timestamp.
func (s *Session) touch() {
	s.LastUsedAt = time.Now()
}

// Navigate moves the session's page to url and waits for the load
// event.
func (s *Session) Navigate(url string) error {
	if s.closed.Load() {
		return ErrSessionInvalid
	}
	s.touch()

	if _, err := s.page.Goto(url); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// URL returns the page's current URL.
func (s *Session) URL() string {
	if s.closed.Load() {
		return ""
	}
	return s.page.URL()
}

// BodyText returns the rendered text of the page body. Used for
// diagnostics snapshots and for scraping values the UI only exposes as
// text.
func (s *Session) BodyText() (string, error) {
	if s.closed.Load() {
		return "", ErrSessionInvalid
	}
	s.touch()

	text, err := s.page.Locator("body").TextContent()
	if err != nil {
		return "", fmt.Errorf("body text extraction failed: %w", err)
	}
	return text, nil
}

// SaveStorageState persists the context's authentication state to the
// session's storage-state path. The file is written exactly once: if it
// already exists, the call is a no-op.
func (s *Session) SaveStorageState() error {
	if s.closed.Load() {
		return ErrSessionInvalid
	}
	if s.StorageStatePath == "" {
		return fmt.Errorf("no storage state path configured")
	}
	if _, err := os.Stat(s.StorageStatePath); err == nil {
		return nil
	}
	if _, err := s.context.StorageState(s.StorageStatePath); err != nil {
		return fmt.Errorf("failed to save storage state: %w", err)
	}
	return nil
}

// Close cancels any in-flight confirmation wait and releases all
// browser resources. Safe to call more than once.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()

	// Best effort teardown, innermost first.
	_ = s.page.Close()
	_ = s.context.Close()
	if err := s.browser.Close(); err != nil {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}
