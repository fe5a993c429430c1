package collector

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"
)

// FeedInfo is the feed-level metadata parsed independently of entries. It is
// cached on the subscription marker and rendered by the ".rss ls" command.
type FeedInfo struct {
	// FeedUrl is the canonical feed URL: the rel=self link when the feed
	// declares one, otherwise the URL that was requested.
	FeedUrl  string
	Title    string
	Subtitle string
	Summary  string
	Author   string
	Link     string
	Image    string
}

// EntryDraft is one normalized feed entry before ingestion. Description is
// plain text, Image is extracted from embedded markup when the entry itself
// does not declare one.
type EntryDraft struct {
	Title       string
	Link        string
	Description string
	Image       string
	PublishedAt time.Time
	Raw         map[string]interface{}
}

// FeedFetch is the (feed metadata, entries) pair one fetch produces.
// RequestedUrl is the URL the fetch was issued against, which is the key
// subscriptions are stored under; Info.FeedUrl may differ when the feed
// declares a canonical rel=self link.
type FeedFetch struct {
	RequestedUrl string
	Info         FeedInfo
	Entries      []EntryDraft
}

// FetchFailure records which feed of a batch failed and why, so one broken
// feed never aborts its siblings.
type FetchFailure struct {
	FeedUrl string
	Err     error
}

// RSSCollector fetches and parses syndication feeds.
type RSSCollector struct {
	UserAgent string
}

func NewRSSCollector(userAgent string) *RSSCollector {
	return &RSSCollector{UserAgent: userAgent}
}

// Fetch GETs one feed URL and parses it. Documents that fail well-formedness
// validation are rejected with a malformed SourceError.
func (c *RSSCollector) Fetch(feedUrl string) (*FeedFetch, error) {
	header := http.Header{}
	if c.UserAgent != "" {
		header.Set("User-Agent", c.UserAgent)
	}
	client := NewHttpClient(header)

	res, err := client.Get(feedUrl)
	if err != nil {
		return nil, NewSourceError(ErrorTransport, feedUrl, "feed request failed", err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return nil, NewSourceError(ErrorAuth, feedUrl, fmt.Sprintf("feed request rejected with status %d", res.StatusCode), nil)
	case res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusGone:
		return nil, NewSourceError(ErrorNotFound, feedUrl, "feed no longer exists", nil)
	case res.StatusCode != http.StatusOK:
		return nil, NewSourceError(ErrorTransport, feedUrl, fmt.Sprintf("feed request failed with status %d", res.StatusCode), nil)
	}

	parsed, err := gofeed.NewParser().Parse(res.Body)
	if err != nil {
		return nil, NewSourceError(ErrorMalformed, feedUrl, "not well-formed feed document", err)
	}

	return &FeedFetch{
		RequestedUrl: feedUrl,
		Info:         convertFeedInfo(feedUrl, parsed),
		Entries:      convertEntries(parsed.Items),
	}, nil
}

// FetchAll fetches every URL, isolating failures per feed. It returns the
// successful fetches plus one FetchFailure per broken feed. Callers decide
// how to surface the failures; the remaining feeds are always processed.
func (c *RSSCollector) FetchAll(feedUrls []string) ([]*FeedFetch, []FetchFailure) {
	fetches := []*FeedFetch{}
	failures := []FetchFailure{}
	for _, feedUrl := range feedUrls {
		fetch, err := c.Fetch(feedUrl)
		if err != nil {
			failures = append(failures, FetchFailure{FeedUrl: feedUrl, Err: err})
			continue
		}
		fetches = append(fetches, fetch)
	}
	return fetches, failures
}

func convertFeedInfo(requestedUrl string, feed *gofeed.Feed) FeedInfo {
	info := FeedInfo{
		FeedUrl:  requestedUrl,
		Title:    feed.Title,
		Subtitle: feed.Description,
		Link:     feed.Link,
	}
	if feed.FeedLink != "" {
		info.FeedUrl = feed.FeedLink
	}
	if feed.Author != nil {
		info.Author = feed.Author.Name
	}
	if feed.Image != nil {
		info.Image = feed.Image.URL
	}
	return info
}

func convertEntries(items []*gofeed.Item) []EntryDraft {
	entries := make([]EntryDraft, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}

		body := item.Description
		if body == "" {
			body = item.Content
		}

		draft := EntryDraft{
			Title:       item.Title,
			Link:        item.Link,
			Description: htmlToText(body),
			Image:       entryImage(item),
			PublishedAt: entryPublishedAt(item),
			Raw: map[string]interface{}{
				"guid":       item.GUID,
				"categories": item.Categories,
			},
		}
		if item.Author != nil {
			draft.Raw["author"] = item.Author.Name
		}
		entries = append(entries, draft)
	}
	return entries
}

// entryPublishedAt resolves the publish timestamp, falling back to a lenient
// parse of the raw date string for feeds with nonstandard formats, then to
// the updated timestamp. Entries with no usable date keep the zero time.
func entryPublishedAt(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC()
	}
	if item.Published != "" {
		if t, err := dateparse.ParseAny(item.Published); err == nil {
			return t.UTC()
		}
	}
	if item.UpdatedParsed != nil {
		return item.UpdatedParsed.UTC()
	}
	return time.Time{}
}

// entryImage prefers the entry's declared image, then image enclosures, then
// the first <img> embedded in the entry markup.
func entryImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	for _, raw := range []string{item.Content, item.Description} {
		if raw == "" {
			continue
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
		if err != nil {
			continue
		}
		if src, ok := doc.Find("img").First().Attr("src"); ok {
			return src
		}
	}
	return ""
}

// htmlToText strips markup from rich-text entry bodies. Plain strings pass
// through unchanged.
func htmlToText(s string) string {
	if !strings.Contains(s, "<") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(doc.Text())
}
