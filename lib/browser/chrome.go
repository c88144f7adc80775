package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
)

type ChromeOptions struct {
	Headless  bool
	UserAgent string
}

// Chrome drives a headless chrome instance over the devtools protocol.
type Chrome struct {
	options ChromeOptions
}

func NewChrome(options ChromeOptions) Chrome {
	return Chrome{options: options}
}

func (c Chrome) Open(ctx context.Context) (Session, error) {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", c.options.Headless),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.WindowSize(1920, 1080),
	)
	if c.options.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(c.options.UserAgent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	cancel := func() {
		cancelTab()
		cancelAlloc()
	}

	// runs an empty task list, which forces the browser process to
	// actually start so a broken chrome install is reported here
	// instead of on the first navigation
	err := chromedp.Run(tabCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start chrome: %w", err)
	}

	return &chromeSession{ctx: tabCtx, cancel: cancel}, nil
}

type chromeSession struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func (s *chromeSession) Navigate(url string) error {
	return chromedp.Run(s.ctx, chromedp.Navigate(url))
}

func (s *chromeSession) Ready() (bool, error) {
	var state string
	err := chromedp.Run(s.ctx, chromedp.Evaluate(`document.readyState`, &state))
	if err != nil {
		return false, err
	}
	return state == "complete", nil
}

func (s *chromeSession) HTML() (string, error) {
	var html string
	err := chromedp.Run(s.ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	if err != nil {
		return "", err
	}
	return html, nil
}

func (s *chromeSession) Text() (string, error) {
	var text string
	err := chromedp.Run(s.ctx, chromedp.Text("body", &text, chromedp.ByQuery))
	if err != nil {
		return "", err
	}
	return text, nil
}

const framesScript = `Array.from(document.querySelectorAll("iframe")).map((f) => {
	try {
		return f.contentDocument.documentElement.outerHTML;
	} catch (e) {
		// cross-origin frame
		return "";
	}
})`

func (s *chromeSession) Frames() ([]string, error) {
	var frames []string
	err := chromedp.Run(s.ctx, chromedp.Evaluate(framesScript, &frames))
	if err != nil {
		return nil, err
	}
	return frames, nil
}

func (s *chromeSession) Close() error {
	s.cancel()
	return nil
}
