// Package browser reads and fills application forms in Chrome through Rod.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/tbxark/jobfill/types"
)

type Config struct {
	// RemoteURL is the DevTools WebSocket URL of a running Chrome.
	// Empty launches a local Chrome.
	RemoteURL string
	Headless  bool
	Stealth   bool
	// NavigationTimeout bounds page loads. Default: 30s.
	NavigationTimeout time.Duration
	// ElementTimeout bounds the wait for a single element. Default: 5s.
	ElementTimeout time.Duration
	Logger         *slog.Logger
}

func (c *Config) defaults() {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 30 * time.Second
	}
	if c.ElementTimeout <= 0 {
		c.ElementTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Browser is both the form extractor and the executor. Chrome is started on
// first use and shared by every page it opens.
type Browser struct {
	cfg Config

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

var (
	_ types.FormExtractor = (*Browser)(nil)
	_ types.Executor      = (*Browser)(nil)
)

func New(cfg Config) *Browser {
	cfg.defaults()
	return &Browser{cfg: cfg}
}

func (b *Browser) connect() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return b.browser, nil
	}
	log := b.cfg.Logger
	wsURL := b.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(b.cfg.Headless)
		l = l.Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		b.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL, "headless", b.cfg.Headless)
	} else {
		log.Info("browser: connecting to remote", "url", wsURL)
	}
	rb := rod.New().ControlURL(wsURL)
	if err := rb.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	b.browser = rb
	return rb, nil
}

// newPage opens a tab on url and waits for it to load.
func (b *Browser) newPage(ctx context.Context, url string) (*rod.Page, error) {
	rb, err := b.connect()
	if err != nil {
		return nil, err
	}
	var page *rod.Page
	if b.cfg.Stealth {
		page, err = stealth.Page(rb)
	} else {
		page, err = rb.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	navCtx, cancel := context.WithTimeout(ctx, b.cfg.NavigationTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(url); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		b.cfg.Logger.Warn("browser: wait load timeout", "url", url, "error", err)
	}
	return page, nil
}

// Extract loads url and parses the rendered DOM.
func (b *Browser) Extract(ctx context.Context, url string) (types.Extraction, error) {
	page, err := b.newPage(ctx, url)
	if err != nil {
		return types.Extraction{}, err
	}
	defer func() { _ = page.Close() }()
	doc, err := page.Context(ctx).HTML()
	if err != nil {
		return types.Extraction{}, fmt.Errorf("browser: read DOM: %w", err)
	}
	ex, err := ParseForm(strings.NewReader(doc), url)
	if err != nil {
		return types.Extraction{}, err
	}
	b.cfg.Logger.Debug("browser: extracted form", "url", url, "fields", len(ex.Fields), "more_pages", ex.MorePages)
	return ex, nil
}

// Open starts a fill session on a fresh tab.
func (b *Browser) Open(ctx context.Context, url string) (types.Session, error) {
	page, err := b.newPage(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Session{page: page, cfg: b.cfg, currentPage: 1}, nil
}

// Close shuts Chrome down.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	if b.browser != nil {
		errs = append(errs, b.browser.Close())
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Kill()
		b.lnch = nil
	}
	return errors.Join(errs...)
}
