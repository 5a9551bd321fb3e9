package session

import "time"

// Engine abstracts the browser-automation library underneath the tracker.
// The tracker only ever needs launch, context, page, and close semantics;
// rendering, DOM interaction, and network handling stay inside the engine.
type Engine interface {
	// Launch starts a browser process group.
	Launch(opts LaunchOptions) (Browser, error)

	// Stop shuts the engine down. Launched browsers must be closed first.
	Stop() error
}

// LaunchOptions configures a browser launch.
type LaunchOptions struct {
	// Headless controls whether the browser gets a window.
	Headless bool

	// ProfileDir is the user-data directory passed on the command line.
	// Its path is what identifies the resulting processes as Disposable
	// workers, so it must contain the configured worker marker.
	ProfileDir string

	// Timeout is the default timeout applied to page operations.
	Timeout time.Duration
}

// Browser is a launched browser instance.
type Browser interface {
	// NewContext creates an isolated browsing context.
	NewContext() (BrowserContext, error)

	// Close closes the browser handle. This releases the logical handle
	// only; OS process termination is the cleanup executor's job and is
	// never implied by a logical close.
	Close() error
}

// BrowserContext is an isolated cookie/cache/storage environment.
type BrowserContext interface {
	// NewPage opens a page in the context.
	NewPage() (Page, error)

	// Close closes the context and its pages.
	Close() error
}

// Page is a single tab's automation handle.
type Page interface {
	// Goto navigates the page and blocks until the engine considers the
	// navigation done.
	Goto(url string) error

	// URL returns the current page URL.
	URL() string

	// Close closes the page.
	Close() error
}
