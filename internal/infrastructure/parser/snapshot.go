package parser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"FeedGuard/internal/dom"
	"FeedGuard/internal/platform"
)

// Snapshot is a saved feed page turned into a live in-memory document.
type Snapshot struct {
	URL      string
	Profile  platform.Profile
	Document *dom.Document
	Skipped  int
}

// SnapshotLoader parses saved or fetched feed HTML with the platform profiles.
type SnapshotLoader struct {
	registry *platform.Registry
	client   *http.Client
	logger   *slog.Logger
}

// NewSnapshotLoader wires a registry; client defaults to a 20s timeout.
func NewSnapshotLoader(reg *platform.Registry, client *http.Client, log *slog.Logger) *SnapshotLoader {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &SnapshotLoader{registry: reg, client: client, logger: log}
}

// LoadFile parses a saved page. pageURL may be empty when the page carries a
// canonical link.
func (l *SnapshotLoader) LoadFile(path, pageURL string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	snap, err := l.Load(f, pageURL)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", path, err)
	}
	return snap, nil
}

// Fetch downloads pageURL and parses it. Only server-rendered markup is seen.
func (l *SnapshotLoader) Fetch(ctx context.Context, pageURL string) (*Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "FeedGuard/1.0")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %s", pageURL, resp.Status)
	}
	return l.Load(resp.Body, pageURL)
}

// Load parses r into a document using the profile matching the page address.
func (l *SnapshotLoader) Load(r io.Reader, pageURL string) (*Snapshot, error) {
	if l.registry == nil {
		return nil, fmt.Errorf("platform registry is not configured")
	}

	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	if pageURL == "" {
		pageURL = canonicalURL(doc)
	}
	if pageURL == "" {
		return nil, fmt.Errorf("page address unknown: no url given and no canonical link")
	}

	profile, err := l.registry.Match(pageURL)
	if err != nil {
		return nil, err
	}

	specs, skipped := ExtractNodes(doc, profile)
	feed := dom.NewDocument(pageURL)
	feed.Append(specs...)
	feed.SetReorderable(profile.ReorderSafe && profile.ContainerSelector != "" && doc.Find(profile.ContainerSelector).Length() > 0)

	l.debug("snapshot loaded", "platform", profile.Name, "url", pageURL, "nodes", len(specs), "skipped", skipped)
	return &Snapshot{URL: pageURL, Profile: profile, Document: feed, Skipped: skipped}, nil
}

// ExtractNodes walks items and interstitials in document order. Items whose id
// cannot be resolved are skipped and counted.
func ExtractNodes(doc *goquery.Document, profile platform.Profile) ([]dom.NodeSpec, int) {
	selector := profile.ItemSelector
	if profile.InterstitialSelector != "" {
		selector += ", " + profile.InterstitialSelector
	}

	var (
		specs   []dom.NodeSpec
		skipped int
		ads     int
	)
	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		if profile.InterstitialSelector != "" && sel.Is(profile.InterstitialSelector) {
			ads++
			specs = append(specs, dom.NodeSpec{ID: fmt.Sprintf("interstitial-%d", ads), Interstitial: true})
			return
		}

		spec, ok := parseItem(sel, profile)
		if !ok {
			skipped++
			return
		}
		specs = append(specs, spec)
	})
	return specs, skipped
}

func parseItem(sel *goquery.Selection, profile platform.Profile) (dom.NodeSpec, bool) {
	var rawID string
	switch {
	case profile.IDAttr != "":
		rawID, _ = sel.Attr(profile.IDAttr)
	case profile.IDSelector != "":
		rawID, _ = sel.Find(profile.IDSelector).First().Attr(profile.IDSourceAttr)
	}
	id := profile.ExtractID(rawID)
	if id == "" {
		return dom.NodeSpec{}, false
	}

	var group string
	switch {
	case profile.GroupAttr != "":
		group, _ = sel.Attr(profile.GroupAttr)
	case profile.GroupSelector != "":
		group = sel.Find(profile.GroupSelector).First().Text()
	}

	fields := make(map[string]string, len(profile.Fields))
	for name, field := range profile.Fields {
		target := sel
		if field.Selector != "" {
			target = sel.Find(field.Selector).First()
		}
		var value string
		if field.Attr != "" {
			value, _ = target.Attr(field.Attr)
		} else {
			value = target.Text()
		}
		if value = collapseSpace(value); value != "" {
			fields[name] = value
		}
	}

	hidden, _ := sel.Attr("aria-hidden")
	_, hiddenAttr := sel.Attr("hidden")
	return dom.NodeSpec{
		ID:        id,
		Group:     profile.NormalizeGroup(group),
		Fields:    fields,
		Offscreen: hidden == "true" || hiddenAttr,
	}, true
}

func canonicalURL(doc *goquery.Document) string {
	if href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok && strings.HasPrefix(href, "http") {
		return href
	}
	if content, ok := doc.Find(`meta[property="og:url"]`).First().Attr("content"); ok && strings.HasPrefix(content, "http") {
		return content
	}
	return ""
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func (l *SnapshotLoader) debug(msg string, args ...interface{}) {
	if l.logger != nil {
		l.logger.Debug(msg, args...)
	}
}
