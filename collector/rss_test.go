package collector

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFeedDocument = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:atom="http://www.w3.org/2005/Atom">
<channel>
	<title>Example Blog</title>
	<description>Posts about examples</description>
	<link>https://example.com/</link>
	<atom:link rel="self" href="https://example.com/rss.xml"/>
	<image><url>https://example.com/logo.png</url><title>Example Blog</title><link>https://example.com/</link></image>
	<item>
		<title>First Post</title>
		<link>https://example.com/posts/1</link>
		<description><![CDATA[<p>Hello <b>world</b></p><img src="https://example.com/1.png">]]></description>
		<pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate>
		<guid>post-1</guid>
	</item>
	<item>
		<title>Second Post</title>
		<link>https://example.com/posts/2</link>
		<description>plain text body</description>
	</item>
</channel>
</rss>`

func TestFetchParsesFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, testFeedDocument)
	}))
	defer server.Close()

	requested := server.URL + "/feed/"
	fetch, err := NewRSSCollector("feedbot-test").Fetch(requested)
	require.NoError(t, err)

	assert.Equal(t, requested, fetch.RequestedUrl)
	// The canonical URL follows the rel=self link, not the requested one.
	assert.Equal(t, "https://example.com/rss.xml", fetch.Info.FeedUrl)
	assert.Equal(t, "Example Blog", fetch.Info.Title)
	assert.Equal(t, "Posts about examples", fetch.Info.Subtitle)
	assert.Equal(t, "https://example.com/logo.png", fetch.Info.Image)

	require.Equal(t, 2, len(fetch.Entries))

	first := fetch.Entries[0]
	assert.Equal(t, "First Post", first.Title)
	assert.Equal(t, "https://example.com/posts/1", first.Link)
	assert.Equal(t, "Hello world", first.Description)
	assert.Equal(t, "https://example.com/1.png", first.Image)
	assert.Equal(t, time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC), first.PublishedAt)
	assert.Equal(t, "post-1", first.Raw["guid"])

	second := fetch.Entries[1]
	assert.Equal(t, "plain text body", second.Description)
	assert.Equal(t, "", second.Image)
	assert.True(t, second.PublishedAt.IsZero())
}

func TestFetchStatusMapping(t *testing.T) {
	status := http.StatusOK
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer server.Close()

	collector := NewRSSCollector("feedbot-test")

	status = http.StatusNotFound
	_, err := collector.Fetch(server.URL)
	assert.Equal(t, ErrorNotFound, KindOf(err))

	status = http.StatusGone
	_, err = collector.Fetch(server.URL)
	assert.Equal(t, ErrorNotFound, KindOf(err))

	status = http.StatusForbidden
	_, err = collector.Fetch(server.URL)
	assert.Equal(t, ErrorAuth, KindOf(err))

	status = http.StatusInternalServerError
	_, err = collector.Fetch(server.URL)
	assert.Equal(t, ErrorTransport, KindOf(err))
}

func TestFetchMalformedDocument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>this is not a feed</html>")
	}))
	defer server.Close()

	_, err := NewRSSCollector("feedbot-test").Fetch(server.URL)
	require.Error(t, err)
	assert.Equal(t, ErrorMalformed, KindOf(err))
}

func TestFetchAllIsolatesFailures(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, testFeedDocument)
	}))
	defer good.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer broken.Close()

	fetches, failures := NewRSSCollector("feedbot-test").FetchAll([]string{broken.URL, good.URL})

	require.Equal(t, 1, len(fetches))
	assert.Equal(t, good.URL, fetches[0].RequestedUrl)

	require.Equal(t, 1, len(failures))
	assert.Equal(t, broken.URL, failures[0].FeedUrl)
	assert.Equal(t, ErrorNotFound, KindOf(failures[0].Err))
}
