package session

import (
	"fmt"
	"io"
	"time"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightEngine drives browsers through the Playwright driver. The
// driver process itself is the supervisor-side control channel: it must
// match a supervisor marker, never a worker marker.
type PlaywrightEngine struct {
	pw *playwright.Playwright
}

// NewPlaywrightEngine installs (if needed) and starts the Playwright
// driver. Driver output is discarded so it cannot interleave with the
// caller's own streams.
func NewPlaywrightEngine() (*PlaywrightEngine, error) {
	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if err := playwright.Install(opts); err != nil {
		return nil, fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	return &PlaywrightEngine{pw: pw}, nil
}

// Launch starts a Chromium instance against the given profile directory.
// The --user-data-dir argument puts the profile path on every worker
// process's command line, which is what the identification policy keys on.
func (e *PlaywrightEngine) Launch(opts LaunchOptions) (Browser, error) {
	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	}
	if opts.ProfileDir != "" {
		launchOpts.Args = []string{"--user-data-dir=" + opts.ProfileDir}
	}

	browser, err := e.pw.Chromium.Launch(launchOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	return &pwBrowser{browser: browser, timeout: opts.Timeout}, nil
}

// Stop stops the Playwright driver.
func (e *PlaywrightEngine) Stop() error {
	if err := e.pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}

type pwBrowser struct {
	browser playwright.Browser
	timeout time.Duration
}

func (b *pwBrowser) NewContext() (BrowserContext, error) {
	context, err := b.browser.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}
	return &pwContext{context: context, timeout: b.timeout}, nil
}

func (b *pwBrowser) Close() error {
	return b.browser.Close()
}

type pwContext struct {
	context playwright.BrowserContext
	timeout time.Duration
}

func (c *pwContext) NewPage() (Page, error) {
	page, err := c.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	if c.timeout > 0 {
		page.SetDefaultTimeout(float64(c.timeout.Milliseconds()))
	}
	return &pwPage{page: page}, nil
}

func (c *pwContext) Close() error {
	return c.context.Close()
}

type pwPage struct {
	page playwright.Page
}

func (p *pwPage) Goto(url string) error {
	if _, err := p.page.Goto(url); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (p *pwPage) URL() string {
	return p.page.URL()
}

func (p *pwPage) Close() error {
	return p.page.Close()
}
