package fetch

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// userAgents is rotated per page to avoid a uniform fingerprint.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
}

// BrowserOptions configures the shared browser handle.
type BrowserOptions struct {
	Headless         bool
	ProxyURL         string
	BlockedResources []string
}

// Browser is the process-wide headless browser handle. Launch is lazy and
// idempotent: the first Page call starts Chrome, later calls reuse it.
// Pages are cheap and may be opened concurrently; the heavyweight launch
// happens once.
type Browser struct {
	opts BrowserOptions

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// NewBrowser creates the handle without launching anything.
func NewBrowser(opts BrowserOptions) *Browser {
	return &Browser{opts: opts}
}

// Page opens a stealth page with a randomized user agent and resource
// blocking applied, launching the browser first if needed.
func (b *Browser) Page(ctx context.Context) (*rod.Page, error) {
	br, err := b.handle()
	if err != nil {
		return nil, err
	}

	page, err := stealth.Page(br)
	if err != nil {
		return nil, eris.Wrap(err, "browser: create page")
	}

	ua := userAgents[rand.IntN(len(userAgents))]
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua}); err != nil {
		page.Close()
		return nil, eris.Wrap(err, "browser: set user agent")
	}

	if len(b.opts.BlockedResources) > 0 {
		blockResources(page, b.opts.BlockedResources)
	}

	return page, nil
}

// ClosePage closes a page and sleeps a randomized jitter interval. The
// sleep is a deliberate throughput ceiling: uniform request cadence is a
// bot-detection trigger.
func (b *Browser) ClosePage(page *rod.Page, minDelay, maxDelay time.Duration) {
	if page != nil {
		if err := page.Close(); err != nil {
			zap.L().Debug("browser: page close", zap.Error(err))
		}
	}
	if maxDelay > minDelay {
		time.Sleep(minDelay + time.Duration(rand.Int64N(int64(maxDelay-minDelay))))
	} else if minDelay > 0 {
		time.Sleep(minDelay)
	}
}

// Close shuts down the browser process if it was launched.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	if b.browser != nil {
		b.browser.Close()
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Cleanup()
		b.lnch = nil
	}
	return nil
}

// handle returns the live browser, launching it on first use.
func (b *Browser) handle() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, eris.New("browser: closed")
	}
	if b.browser != nil {
		return b.browser, nil
	}

	l := launcher.New().
		Headless(b.opts.Headless).
		Set("disable-blink-features", "AutomationControlled").
		NoSandbox(true)
	if b.opts.ProxyURL != "" {
		l = l.Proxy(b.opts.ProxyURL)
	}

	u, err := l.Launch()
	if err != nil {
		return nil, eris.Wrap(err, "browser: launch")
	}

	br := rod.New().ControlURL(u)
	if err := br.Connect(); err != nil {
		l.Cleanup()
		return nil, eris.Wrap(err, "browser: connect")
	}

	b.lnch = l
	b.browser = br
	zap.L().Info("browser: launched",
		zap.Bool("headless", b.opts.Headless),
		zap.Bool("proxy", b.opts.ProxyURL != ""),
	)
	return br, nil
}

// blockResources intercepts requests and drops the configured resource
// types (images, stylesheets, fonts, media) to cut load time and
// fingerprint surface.
func blockResources(page *rod.Page, types []string) {
	blocked := make(map[string]bool, len(types))
	for _, t := range types {
		blocked[strings.ToLower(t)] = true
	}

	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if shouldBlock(blocked, string(h.Request.Type())) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
}

func shouldBlock(blocked map[string]bool, resType string) bool {
	switch strings.ToLower(resType) {
	case "image":
		return blocked["images"]
	case "stylesheet":
		return blocked["stylesheets"]
	case "font":
		return blocked["fonts"]
	case "media":
		return blocked["media"]
	}
	return blocked[strings.ToLower(resType)]
}
