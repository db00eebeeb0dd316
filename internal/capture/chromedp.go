// Package capture renders pages in headless Chrome and returns encoded
// screenshots.
package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/raysh454/miru/internal/interfaces"
	"github.com/raysh454/miru/internal/logging"
	"github.com/raysh454/miru/internal/model"
)

// Config tunes the headless browser.
type Config struct {
	// Timeout bounds one capture end to end.
	Timeout time.Duration
	// NetworkIdleAfter is how long the network must stay quiet before the
	// page counts as settled.
	NetworkIdleAfter time.Duration
	// Quality is the screenshot quality passed to Chrome (png when 100).
	Quality int
	// UserAgent overrides the browser default when non-empty.
	UserAgent string
}

// DefaultConfig returns the standard capture settings.
func DefaultConfig() Config {
	return Config{
		Timeout:          45 * time.Second,
		NetworkIdleAfter: 2 * time.Second,
		Quality:          100,
	}
}

// Capturer drives one headless Chrome process; each Capture runs in its own
// tab. Safe for concurrent use.
type Capturer struct {
	cfg       Config
	logger    logging.Logger
	allocCtx  context.Context
	allocStop context.CancelFunc
}

var _ interfaces.Capturer = (*Capturer)(nil)

// New starts the browser allocator. Close releases it.
func New(cfg Config, logger logging.Logger) (*Capturer, error) {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.NetworkIdleAfter <= 0 {
		cfg.NetworkIdleAfter = def.NetworkIdleAfter
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = def.Quality
	}
	if logger == nil {
		logger = logging.NewStdoutLogger("capture")
	}

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	allocCtx, allocStop := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Capturer{
		cfg:       cfg,
		logger:    logger,
		allocCtx:  allocCtx,
		allocStop: allocStop,
	}, nil
}

// waitNetworkIdle signals once no requests have been in flight for idleAfter.
func waitNetworkIdle(ctx context.Context, idleAfter time.Duration) chan struct{} {
	idleChan := make(chan struct{})
	var activeReqs int32
	var timer *time.Timer
	var timerMutex sync.Mutex
	var once sync.Once

	startTimer := func() {
		timerMutex.Lock()
		defer timerMutex.Unlock()

		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(idleAfter, func() {
			if atomic.LoadInt32(&activeReqs) == 0 {
				once.Do(func() { close(idleChan) })
			}
		})
	}
	startTimer()

	chromedp.ListenTarget(ctx, func(ev any) {
		switch ev.(type) {
		case *network.EventRequestWillBeSent:
			atomic.AddInt32(&activeReqs, 1)
		case *network.EventLoadingFinished, *network.EventLoadingFailed:
			if atomic.AddInt32(&activeReqs, -1) <= 0 {
				startTimer()
			}
		}
	})

	return idleChan
}

// Capture renders req.URL at req.Viewport and screenshots it once the
// network settles.
func (c *Capturer) Capture(ctx context.Context, req *model.CaptureRequest) (*model.CaptureResult, error) {
	if req == nil || req.URL == "" {
		return nil, fmt.Errorf("capture: empty request")
	}
	viewport := req.Viewport
	if viewport.Width <= 0 || viewport.Height <= 0 {
		viewport = model.Viewport{Width: 1280, Height: 800}
	}

	tabCtx, cancelTab := chromedp.NewContext(c.allocCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, c.cfg.Timeout)
	defer cancelTimeout()

	// Cancel the tab when the caller's context goes away.
	go func() {
		select {
		case <-ctx.Done():
			cancelTab()
		case <-tabCtx.Done():
		}
	}()

	idleChan := waitNetworkIdle(tabCtx, c.cfg.NetworkIdleAfter)

	var title string
	err := chromedp.Run(tabCtx,
		network.Enable(),
		emulation.SetDeviceMetricsOverride(int64(viewport.Width), int64(viewport.Height), 1.0, false),
		chromedp.Navigate(req.URL),
		chromedp.Title(&title),
	)
	if err != nil {
		return nil, fmt.Errorf("capture: navigating %s: %w", req.URL, err)
	}

	// The idle wait gets its own budget so a chatty page still leaves the
	// tab context alive for the screenshot.
	settle := time.NewTimer(settleBudget(tabCtx))
	defer settle.Stop()
	select {
	case <-idleChan:
	case <-settle.C:
		c.logger.Warn("network never settled, capturing anyway",
			logging.Field{Key: "url", Value: req.URL})
	case <-tabCtx.Done():
		return nil, fmt.Errorf("capture: waiting for %s to settle: %w", req.URL, tabCtx.Err())
	}

	var buf []byte
	shot := chromedp.CaptureScreenshot(&buf)
	if req.FullPage {
		shot = chromedp.FullScreenshot(&buf, c.cfg.Quality)
	}
	if err := chromedp.Run(tabCtx, shot); err != nil {
		return nil, fmt.Errorf("capture: screenshot of %s: %w", req.URL, err)
	}

	c.logger.Debug("page captured",
		logging.Field{Key: "url", Value: req.URL},
		logging.Field{Key: "bytes", Value: len(buf)})

	return &model.CaptureResult{
		Buffer:   buf,
		URL:      req.URL,
		Viewport: viewport,
		Title:    title,
	}, nil
}

// settleBudget bounds the network-idle wait, reserving part of the context
// deadline for the screenshot itself.
func settleBudget(ctx context.Context) time.Duration {
	const reserve = 5 * time.Second
	const floor = time.Second

	deadline, ok := ctx.Deadline()
	if !ok {
		return 30 * time.Second
	}
	budget := time.Until(deadline) - reserve
	if budget < floor {
		budget = floor
	}
	return budget
}

// Close shuts the browser down.
func (c *Capturer) Close() error {
	c.allocStop()
	return nil
}
