// Package recwell extracts facility occupancy readings from the RecWell
// facility usage page. The page has been observed in several shapes over
// time (static markup, an iframed live-count widget, plain text), so
// extraction is a fixed fallback chain of independent strategies rather
// than a single selector.
package recwell

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"rectrack-backend/lib/browser"
	"rectrack-backend/lib/htmlutil"
	"rectrack-backend/lib/telemetry"
	"rectrack-backend/lib/timezone"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/recwell")

// Reading is one occupancy observation for a facility. Occupancy,
// Capacity and Percentage are nil when the page did not provide them.
// Readings are never mutated once constructed, corrections show up as
// new Readings.
type Reading struct {
	Name       string
	Time       time.Time
	Occupancy  *int64
	Capacity   *int64
	Percentage *float64
	Source     string
}

// DefaultFacilityNames is the vocabulary of facility names the page is
// known to mention. Strategies only accept a numeric match when one of
// these appears nearby, which keeps generic numbers (dates, footers)
// from turning into readings.
var DefaultFacilityNames = []string{
	"CoRec", "TREC", "Boiler", "Aquatics",
	"Cordova", "Recreation", "Fitness",
}

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

type Options struct {
	Url string
	// defaults to DefaultFacilityNames
	FacilityNames []string
	// the renderer used when the static fetch yields nothing
	Browser browser.Browser
	// when set, the rendered page is written here whenever every
	// strategy comes up empty, for offline diagnosis
	SnapshotDir string
	// defaults to 10s
	FetchTimeout time.Duration
	// defaults to 15s
	ReadyTimeout time.Duration
}

type Scraper struct {
	url          string
	names        vocabulary
	http         *resty.Client
	browser      browser.Browser
	snapshotDir  string
	readyTimeout time.Duration
}

func NewScraper(options Options) *Scraper {
	fetchTimeout := options.FetchTimeout
	if fetchTimeout == 0 {
		fetchTimeout = time.Second * 10
	}
	readyTimeout := options.ReadyTimeout
	if readyTimeout == 0 {
		readyTimeout = time.Second * 15
	}
	names := options.FacilityNames
	if len(names) == 0 {
		names = DefaultFacilityNames
	}

	client := resty.New()
	client.SetTimeout(fetchTimeout)
	client.SetHeader("user-agent", userAgent)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	telemetry.InstrumentResty(client, "scrapers/recwell/http")

	return &Scraper{
		url:          options.Url,
		names:        vocabulary(names),
		http:         client,
		browser:      options.Browser,
		snapshotDir:  options.SnapshotDir,
		readyTimeout: readyTimeout,
	}
}

// Scrape runs the static fetch tier and, when it yields nothing, the
// rendered tier. An empty result is a normal outcome, not an error; the
// only error surfaced is a render session that could not be started (or
// navigated), which is transient infrastructure the caller may retry on
// its next cycle.
func (s *Scraper) Scrape(ctx context.Context) ([]Reading, error) {
	ctx, span := tracer.Start(ctx, "Scrape")
	defer span.End()

	readings := s.scrapeStatic(ctx)
	if len(readings) > 0 {
		span.SetAttributes(attribute.Int("readings", len(readings)))
		return tagSource(readings, "http"), nil
	}

	readings, err := s.scrapeRendered(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("readings", len(readings)))
	return tagSource(readings, "browser"), nil
}

// scrapeStatic is the cheap tier: one GET and the structured-container
// strategy. Any failure here just hands control to the rendered tier.
func (s *Scraper) scrapeStatic(ctx context.Context) []Reading {
	ctx, span := tracer.Start(ctx, "scrapeStatic")
	defer span.End()

	res, err := s.http.R().SetContext(ctx).Get(s.url)
	if err != nil {
		slog.DebugContext(ctx, "static fetch failed", "err", err)
		return nil
	}
	if res.IsError() {
		slog.DebugContext(ctx, "static fetch returned error status", "status", res.StatusCode())
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		slog.DebugContext(ctx, "failed to parse static page", "err", err)
		return nil
	}
	return s.run(ctx, "containers", func() []Reading {
		return s.fromContainers(doc)
	})
}

// scrapeRendered is the expensive tier: a full browser render, iframes
// first, then the main document, then raw visible text.
func (s *Scraper) scrapeRendered(ctx context.Context) ([]Reading, error) {
	ctx, span := tracer.Start(ctx, "scrapeRendered")
	defer span.End()

	session, err := s.browser.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open render session: %w", err)
	}
	defer session.Close()

	err = session.Navigate(s.url)
	if err != nil {
		return nil, fmt.Errorf("failed to navigate to %s: %w", s.url, err)
	}
	s.waitReady(ctx, session)

	readings := s.scrapeFrames(ctx, session)
	if len(readings) > 0 {
		return readings, nil
	}

	var pageHTML string
	pageHTML, err = session.HTML()
	if err != nil {
		slog.WarnContext(ctx, "failed to read rendered page", "err", err)
	}
	if pageHTML != "" {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
		if err != nil {
			slog.WarnContext(ctx, "failed to parse rendered page", "err", err)
		} else {
			// unlike the tiered escalation above, results at this
			// level are unioned across strategies
			readings = append(readings, s.run(ctx, "tables", func() []Reading {
				return s.fromTables(doc)
			})...)
			readings = append(readings, s.run(ctx, "widget", func() []Reading {
				found := s.fromWidget(doc)
				if len(found) == 0 {
					found = s.fromContainers(doc)
				}
				return found
			})...)
			readings = append(readings, s.run(ctx, "embedded-json", func() []Reading {
				return s.fromEmbeddedJSON(doc)
			})...)
		}
	}
	if len(readings) > 0 {
		return readings, nil
	}

	text, err := session.Text()
	if err != nil {
		slog.WarnContext(ctx, "failed to read rendered text", "err", err)
	} else {
		readings = s.run(ctx, "freetext", func() []Reading {
			return s.fromText(text)
		})
	}
	if len(readings) > 0 {
		return readings, nil
	}

	slog.WarnContext(ctx, "no facility data found, the page structure may have changed")
	s.snapshot(ctx, pageHTML)
	return nil, nil
}

func (s *Scraper) scrapeFrames(ctx context.Context, session browser.Session) []Reading {
	frames, err := session.Frames()
	if err != nil {
		slog.WarnContext(ctx, "failed to enumerate frames", "err", err)
		return nil
	}

	var readings []Reading
	for i, frameHTML := range frames {
		if strings.TrimSpace(frameHTML) == "" {
			continue
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(frameHTML))
		if err != nil {
			slog.WarnContext(ctx, "failed to parse frame", "frame", i, "err", err)
			continue
		}

		found := s.run(ctx, "widget", func() []Reading {
			return s.fromWidget(doc)
		})
		found = append(found, s.run(ctx, "containers", func() []Reading {
			return s.fromContainers(doc)
		})...)
		if len(found) == 0 {
			found = s.run(ctx, "freetext", func() []Reading {
				if len(doc.Nodes) == 0 {
					return nil
				}
				return s.fromText(htmlutil.RenderText(doc.Nodes[0]))
			})
		}
		if len(found) > 0 {
			slog.DebugContext(ctx, "frame yielded readings", "frame", i, "count", len(found))
			readings = append(readings, found...)
		}
	}
	return readings
}

// waitReady polls the document ready state for up to the configured
// timeout. a page that never settles is scraped anyway with whatever
// has rendered so far.
func (s *Scraper) waitReady(ctx context.Context, session browser.Session) {
	deadline := time.Now().Add(s.readyTimeout)
	for time.Now().Before(deadline) {
		ready, err := session.Ready()
		if err != nil {
			slog.DebugContext(ctx, "ready check failed", "err", err)
			return
		}
		if ready {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Millisecond * 500):
		}
	}
	slog.DebugContext(ctx, "page took longer than expected to load", "timeout", s.readyTimeout)
}

// run executes one strategy with panic isolation, a misbehaving
// strategy degrades to an empty result instead of aborting the cycle.
func (s *Scraper) run(ctx context.Context, name string, strategy func() []Reading) (readings []Reading) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "strategy panicked", "strategy", name, "panic", r)
			readings = nil
		}
	}()
	readings = strategy()
	if len(readings) > 0 {
		slog.DebugContext(ctx, "strategy yielded readings", "strategy", name, "count", len(readings))
	}
	return readings
}

func (s *Scraper) snapshot(ctx context.Context, pageHTML string) {
	if s.snapshotDir == "" || pageHTML == "" {
		return
	}
	err := os.MkdirAll(s.snapshotDir, 0o755)
	if err != nil {
		slog.WarnContext(ctx, "failed to create snapshot dir", "err", err)
		return
	}
	path := filepath.Join(s.snapshotDir, fmt.Sprintf(
		"page_source_%s.html",
		timezone.Now().Format("2006-01-02T15-04-05"),
	))
	err = os.WriteFile(path, []byte(pageHTML), 0o644)
	if err != nil {
		slog.WarnContext(ctx, "failed to write page snapshot", "err", err)
		return
	}
	slog.InfoContext(ctx, "saved page snapshot for inspection", "path", path)
}

func tagSource(readings []Reading, source string) []Reading {
	for i := range readings {
		readings[i].Source = source
	}
	return readings
}
