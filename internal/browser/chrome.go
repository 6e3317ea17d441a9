package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/goccy/go-json"
)

type ChromeOptions struct {
	// ExecPath is the chrome binary, empty lets chromedp find one.
	ExecPath  string
	Headless  bool
	UserAgent string
	// LaunchTimeout bounds how long starting the process may take.
	LaunchTimeout time.Duration
	// MarkerTimeout bounds how long navigation waits for a page marker.
	MarkerTimeout time.Duration
}

func DefaultChromeOptions() ChromeOptions {
	return ChromeOptions{
		Headless:      true,
		LaunchTimeout: time.Second * 30,
		MarkerTimeout: time.Second * 15,
	}
}

// ChromeLauncher returns a Launcher that starts a headless chrome through chromedp.
func ChromeLauncher(opts ChromeOptions) Launcher {
	if opts.LaunchTimeout <= 0 {
		opts.LaunchTimeout = DefaultChromeOptions().LaunchTimeout
	}
	if opts.MarkerTimeout <= 0 {
		opts.MarkerTimeout = DefaultChromeOptions().MarkerTimeout
	}

	return func(ctx context.Context) (Driver, error) {
		allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
		allocOpts = append(
			allocOpts,
			chromedp.Flag("headless", opts.Headless),
			chromedp.NoSandbox,
			chromedp.DisableGPU,
			chromedp.WindowSize(1366, 900),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
		)
		if opts.UserAgent != "" {
			allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
		}
		if opts.ExecPath != "" {
			allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
		}

		// the browser outlives the launch call, so it must not inherit ctx cancellation
		allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
		browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

		launchCtx, cancelLaunch := context.WithTimeout(browserCtx, opts.LaunchTimeout)
		defer cancelLaunch()
		stop := context.AfterFunc(ctx, cancelLaunch)
		defer stop()

		err := chromedp.Run(launchCtx)
		if err != nil {
			cancelBrowser()
			cancelAlloc()
			return nil, err
		}

		return &chromeDriver{
			browserCtx: browserCtx,
			cancel: func() {
				cancelBrowser()
				cancelAlloc()
			},
			markerTimeout: opts.MarkerTimeout,
		}, nil
	}
}

type chromeDriver struct {
	browserCtx    context.Context
	cancel        context.CancelFunc
	markerTimeout time.Duration
}

func markerExpression(markers []string) (string, error) {
	encoded, err := json.Marshal(markers)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s.some(s => document.querySelector(s) !== null)", encoded), nil
}

func (d *chromeDriver) tab(ctx context.Context) (context.Context, context.CancelFunc) {
	tabCtx, cancelTab := chromedp.NewContext(d.browserCtx)
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		tabCtx, cancelDeadline = context.WithDeadline(tabCtx, deadline)
		stop := context.AfterFunc(ctx, cancelDeadline)
		return tabCtx, func() {
			stop()
			cancelDeadline()
			cancelTab()
		}
	}
	stop := context.AfterFunc(ctx, cancelTab)
	return tabCtx, func() {
		stop()
		cancelTab()
	}
}

func (d *chromeDriver) Navigate(ctx context.Context, url string, markers []string) (RawPage, error) {
	if d.browserCtx.Err() != nil {
		return RawPage{}, errors.New("browser session disconnected")
	}

	tabCtx, cancel := d.tab(ctx)
	defer cancel()

	err := chromedp.Run(
		tabCtx,
		chromedp.Navigate(url),
		chromedp.Poll(`document.readyState === "complete"`, nil, chromedp.WithPollingTimeout(d.markerTimeout)),
	)
	if err != nil && !errors.Is(err, chromedp.ErrPollingTimeout) {
		return RawPage{}, err
	}

	if len(markers) > 0 {
		expr, err := markerExpression(markers)
		if err != nil {
			return RawPage{}, err
		}
		err = chromedp.Run(
			tabCtx,
			chromedp.Poll(expr, nil, chromedp.WithPollingTimeout(d.markerTimeout)),
		)
		// a missing marker is judged by the pool, not the driver
		if err != nil && !errors.Is(err, chromedp.ErrPollingTimeout) {
			return RawPage{}, err
		}
	}

	var page RawPage
	err = chromedp.Run(
		tabCtx,
		chromedp.Location(&page.URL),
		chromedp.Evaluate(`document.readyState`, &page.ReadyState),
		chromedp.OuterHTML("html", &page.HTML, chromedp.ByQuery),
		chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &page.Text),
	)
	if err != nil {
		return RawPage{}, err
	}
	page.Text = strings.TrimSpace(page.Text)
	return page, nil
}

func (d *chromeDriver) Ping(ctx context.Context) error {
	if d.browserCtx.Err() != nil {
		return errors.New("browser session disconnected")
	}
	tabCtx, cancel := d.tab(ctx)
	defer cancel()
	var out int
	return chromedp.Run(tabCtx, chromedp.Evaluate(`1 + 1`, &out))
}

func (d *chromeDriver) Close() error {
	d.cancel()
	return nil
}
