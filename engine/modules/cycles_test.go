package modules

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/audiosutras/feedbot/collector"
	"github.com/audiosutras/feedbot/engine"
	"github.com/audiosutras/feedbot/ingest"
	"github.com/audiosutras/feedbot/ops"
	"github.com/audiosutras/feedbot/publisher"
	"github.com/audiosutras/feedbot/subscription"
	"github.com/audiosutras/feedbot/utils"
)

type cycleMessage struct {
	channelId string
	content   string
	embeds    []*discordgo.MessageEmbed
}

// cycleNotifier records sends from concurrently polling goroutines.
type cycleNotifier struct {
	mu   sync.Mutex
	sent []cycleMessage
}

func (n *cycleNotifier) SendEmbeds(channelId string, content string, embeds []*discordgo.MessageEmbed) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, cycleMessage{channelId: channelId, content: content, embeds: embeds})
	return nil
}

func (n *cycleNotifier) HasChannel(channelId string) bool { return true }

func (n *cycleNotifier) sentTo(channelId string) []cycleMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []cycleMessage
	for _, msg := range n.sent {
		if msg.channelId == channelId {
			out = append(out, msg)
		}
	}
	return out
}

type cycleDeps struct {
	db         *gorm.DB
	store      *subscription.Store
	ingester   *ingest.Engine
	notifier   *cycleNotifier
	dispatcher *publisher.Dispatcher
	alerter    *ops.Alerter
}

func newCycleDeps(t *testing.T) *cycleDeps {
	t.Helper()
	db, _ := utils.CreateTempDB(t)
	store := subscription.NewStore(db)
	notifier := &cycleNotifier{}
	return &cycleDeps{
		db:         db,
		store:      store,
		ingester:   ingest.NewEngine(db),
		notifier:   notifier,
		dispatcher: publisher.NewDispatcher(db, store, notifier),
		alerter:    ops.NewAlerterFromEnv(),
	}
}

func newCycleBus(t *testing.T) (*gochannel.GoChannel, <-chan *message.Message) {
	t.Helper()
	bus := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 10}, watermill.NopLogger{})
	t.Cleanup(func() { bus.Close() })
	messages, err := bus.Subscribe(context.Background(), engine.TopicCycleReport)
	require.NoError(t, err)
	return bus, messages
}

func awaitReport(t *testing.T, messages <-chan *message.Message) engine.CycleReport {
	t.Helper()
	select {
	case msg := <-messages:
		var report engine.CycleReport
		require.NoError(t, json.Unmarshal(msg.Payload, &report))
		msg.Ack()
		return report
	case <-time.After(5 * time.Second):
		t.Fatal("no cycle report received")
		return engine.CycleReport{}
	}
}

func assertNoReport(t *testing.T, messages <-chan *message.Message, wait time.Duration) {
	t.Helper()
	select {
	case msg := <-messages:
		t.Fatalf("unexpected cycle report: %s", msg.Payload)
	case <-time.After(wait):
	}
}

func closedReady() <-chan struct{} {
	ready := make(chan struct{})
	close(ready)
	return ready
}

// newRedditCycleFake answers the token endpoint and serves one self post for
// any listing query except those naming "badsub", which get a 404.
func newRedditCycleFake() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/access_token", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token": "fake-token", "expires_in": 3600}`)
	})
	mux.HandleFunc("/r/", func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "badsub") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `{
			"kind": "Listing",
			"data": {"children": [
				{"data": {
					"subreddit_name_prefixed": "r/golang",
					"title": "A self post",
					"selftext": "some body text",
					"permalink": "/r/golang/comments/abc/a_self_post/",
					"thumbnail": ""
				}}
			]}
		}`)
	})
	return httptest.NewServer(mux)
}

func newCycleRedditCollector(serverUrl string) *collector.RedditCollector {
	return collector.NewRedditCollector(collector.RedditCollectorConfig{
		ClientId:     "id",
		ClientSecret: "secret",
		Username:     "user",
		Password:     "pass",
		UserAgent:    "feedbot-test",
		AuthUrl:      serverUrl,
		ApiUrl:       serverUrl,
		PublicUrl:    serverUrl,
	})
}

func TestRedditCycleWaitsForReady(t *testing.T) {
	deps := newCycleDeps(t)
	bus, messages := newCycleBus(t)
	server := newRedditCycleFake()
	defer server.Close()

	ready := make(chan struct{})
	m := NewRedditCycle(
		RedditCycleConfig{Name: "reddit_cycle", Interval: time.Hour},
		deps.store, newCycleRedditCollector(server.URL), deps.ingester, deps.dispatcher, deps.alerter,
		ready, bus,
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.RunModule(ctx)
	}()

	// Nothing may run while the session is not logged in.
	assertNoReport(t, messages, 300*time.Millisecond)

	close(ready)
	report := awaitReport(t, messages)
	assert.Equal(t, "reddit_cycle", report.Module)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("module did not stop after context cancellation")
	}
}

func TestRedditCycleIsolatesFailingChannel(t *testing.T) {
	deps := newCycleDeps(t)
	bus, messages := newCycleBus(t)
	server := newRedditCycleFake()
	defer server.Close()

	_, err := deps.store.AddSubreddit("c-ok", "golang")
	require.NoError(t, err)
	_, err = deps.store.AddSubreddit("c-bad", "badsub")
	require.NoError(t, err)

	m := NewRedditCycle(
		RedditCycleConfig{Name: "reddit_cycle", Interval: time.Hour},
		deps.store, newCycleRedditCollector(server.URL), deps.ingester, deps.dispatcher, deps.alerter,
		closedReady(), bus,
	)
	m.tick(context.Background())

	// The broken channel is counted and reported, the healthy one still went
	// through fetch, ingest and dispatch.
	report := awaitReport(t, messages)
	assert.Equal(t, 2, report.SourcesPlanned)
	assert.Equal(t, 1, report.SourcesFailed)
	assert.Equal(t, 1, report.ItemsIngested)
	assert.Equal(t, 1, report.ItemsDelivered)

	okMsgs := deps.notifier.sentTo("c-ok")
	require.Equal(t, 1, len(okMsgs))
	require.Equal(t, 1, len(okMsgs[0].embeds))
	assert.Equal(t, "A self post", okMsgs[0].embeds[0].Title)

	// The failing channel hears about its own source, nothing else.
	badMsgs := deps.notifier.sentTo("c-bad")
	require.Equal(t, 1, len(badMsgs))
	assert.Contains(t, badMsgs[0].content, "does not exist")
	assert.Empty(t, badMsgs[0].embeds)
}

const cycleFeedDocument = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
	<title>Example Blog</title>
	<link>https://example.com/</link>
	<description>Posts about examples</description>
	<item>
		<title>First Post</title>
		<link>https://example.com/posts/1</link>
		<description>hello</description>
		<pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate>
	</item>
	<item>
		<title>Second Post</title>
		<link>https://example.com/posts/2</link>
		<description>world</description>
		<pubDate>Tue, 03 Jan 2006 15:04:05 GMT</pubDate>
	</item>
</channel>
</rss>`

func TestRSSCycleIsolatesMalformedFeed(t *testing.T) {
	deps := newCycleDeps(t)
	bus, messages := newCycleBus(t)

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, cycleFeedDocument)
	}))
	defer good.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>this is not a feed</html>")
	}))
	defer broken.Close()

	_, err := deps.store.AddFeed("c-ok", subscription.FeedMetadata{FeedUrl: good.URL})
	require.NoError(t, err)
	_, err = deps.store.AddFeed("c-bad", subscription.FeedMetadata{FeedUrl: broken.URL})
	require.NoError(t, err)

	m := NewRSSCycle(
		RSSCycleConfig{Name: "rss_cycle", Interval: time.Hour},
		deps.store, collector.NewRSSCollector("feedbot-test"), deps.ingester, deps.dispatcher, deps.alerter,
		closedReady(), bus,
	)
	m.tick(context.Background())

	report := awaitReport(t, messages)
	assert.Equal(t, 2, report.SourcesPlanned)
	assert.Equal(t, 1, report.SourcesFailed)
	assert.Equal(t, 2, report.ItemsIngested)
	assert.Equal(t, 1, report.ItemsDelivered)

	// The healthy feed's entries reach its subscriber in feed order.
	okMsgs := deps.notifier.sentTo("c-ok")
	require.Equal(t, 1, len(okMsgs))
	require.Equal(t, 2, len(okMsgs[0].embeds))
	assert.Equal(t, "First Post", okMsgs[0].embeds[0].Title)
	assert.Equal(t, "Second Post", okMsgs[0].embeds[1].Title)

	// The broken feed's subscriber is told its feed does not parse.
	badMsgs := deps.notifier.sentTo("c-bad")
	require.Equal(t, 1, len(badMsgs))
	assert.Contains(t, badMsgs[0].content, "not well-formed")

	// A second tick re-fetches but fans out nothing: the entries are known.
	m.tick(context.Background())
	report = awaitReport(t, messages)
	assert.Equal(t, 0, report.ItemsIngested)
	assert.Equal(t, 0, report.ItemsDelivered)
	assert.Equal(t, 1, len(deps.notifier.sentTo("c-ok")))
}

func TestBroadcastCycleTick(t *testing.T) {
	deps := newCycleDeps(t)
	bus, messages := newCycleBus(t)

	// c1 holds both subscription kinds and must still hear exactly once.
	_, err := deps.store.AddSubreddit("c1", "golang")
	require.NoError(t, err)
	_, err = deps.store.AddFeed("c1", subscription.FeedMetadata{FeedUrl: "https://a.example/rss/"})
	require.NoError(t, err)
	_, err = deps.store.AddFeed("c2", subscription.FeedMetadata{FeedUrl: "https://a.example/rss/"})
	require.NoError(t, err)

	m := NewBroadcastCycle(
		BroadcastCycleConfig{Name: "broadcast_cycle", Interval: time.Hour},
		deps.dispatcher, deps.alerter, closedReady(), bus,
	)
	m.tick()

	report := awaitReport(t, messages)
	assert.Equal(t, "broadcast_cycle", report.Module)
	assert.Equal(t, 2, report.ItemsDelivered)
	assert.Equal(t, 1, len(deps.notifier.sentTo("c1")))
	assert.Equal(t, 1, len(deps.notifier.sentTo("c2")))
}

func TestBroadcastCycleWaitsFullInterval(t *testing.T) {
	deps := newCycleDeps(t)
	bus, messages := newCycleBus(t)

	_, err := deps.store.AddFeed("c1", subscription.FeedMetadata{FeedUrl: "https://a.example/rss/"})
	require.NoError(t, err)

	m := NewBroadcastCycle(
		BroadcastCycleConfig{Name: "broadcast_cycle", Interval: time.Hour},
		deps.dispatcher, deps.alerter, closedReady(), bus,
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.RunModule(ctx)
	}()

	// Unlike the poll cycles there is no tick on startup; a restart must not
	// spam subscribers with the support notice.
	assertNoReport(t, messages, 300*time.Millisecond)
	assert.Empty(t, deps.notifier.sentTo("c1"))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("module did not stop after context cancellation")
	}
}
