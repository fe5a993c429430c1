package publisher

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiosutras/feedbot/model"
	"github.com/audiosutras/feedbot/subscription"
	"github.com/audiosutras/feedbot/utils"
)

type sentMessage struct {
	channelId string
	content   string
	embeds    []*discordgo.MessageEmbed
}

// fakeNotifier records every send and can simulate missing channels,
// permanently unreachable channels and transient failures.
type fakeNotifier struct {
	sent        []sentMessage
	missing     map[string]bool
	unreachable map[string]bool
	failures    map[string]int
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		missing:     map[string]bool{},
		unreachable: map[string]bool{},
		failures:    map[string]int{},
	}
}

func (n *fakeNotifier) SendEmbeds(channelId string, content string, embeds []*discordgo.MessageEmbed) error {
	if n.unreachable[channelId] {
		return ErrChannelUnreachable
	}
	if n.failures[channelId] > 0 {
		n.failures[channelId]--
		return errors.New("rate limited")
	}
	n.sent = append(n.sent, sentMessage{channelId: channelId, content: content, embeds: embeds})
	return nil
}

func (n *fakeNotifier) HasChannel(channelId string) bool {
	return !n.missing[channelId]
}

func (n *fakeNotifier) sentTo(channelId string) []sentMessage {
	var out []sentMessage
	for _, msg := range n.sent {
		if msg.channelId == channelId {
			out = append(out, msg)
		}
	}
	return out
}

func createPendingPost(t *testing.T, d *Dispatcher, id, channelId, title string, createdAt time.Time) {
	t.Helper()
	require.NoError(t, d.db.Create(&model.RedditPost{
		Id:        id,
		CreatedAt: createdAt,
		ChannelId: channelId,
		Subreddit: "r/golang",
		Title:     title,
		Link:      "/r/golang/" + id + "/",
		Sent:      false,
	}).Error)
}

func TestDispatchPendingRedditPosts(t *testing.T) {
	db, _ := utils.CreateTempDB(t)
	store := subscription.NewStore(db)
	notifier := newFakeNotifier()
	d := NewDispatcher(db, store, notifier)

	base := time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)
	createPendingPost(t, d, "p2", "c1", "second", base.Add(time.Minute))
	createPendingPost(t, d, "p1", "c1", "first", base)

	delivered, err := d.DispatchPendingRedditPosts()
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)

	// Oldest first, regardless of insertion order.
	msgs := notifier.sentTo("c1")
	require.Equal(t, 2, len(msgs))
	assert.Equal(t, "first", msgs[0].embeds[0].Title)
	assert.Equal(t, "second", msgs[1].embeds[0].Title)

	// Everything is marked sent, a second run delivers nothing.
	delivered, err = d.DispatchPendingRedditPosts()
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
	assert.Equal(t, 2, len(notifier.sent))
}

func TestDispatchPendingRedditPostsRetriesTransientFailure(t *testing.T) {
	db, _ := utils.CreateTempDB(t)
	store := subscription.NewStore(db)
	notifier := newFakeNotifier()
	d := NewDispatcher(db, store, notifier)

	createPendingPost(t, d, "p1", "c1", "first", time.Now())
	notifier.failures["c1"] = 1

	// The failed send leaves the post pending.
	delivered, err := d.DispatchPendingRedditPosts()
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)

	// The next cycle picks it up again.
	delivered, err = d.DispatchPendingRedditPosts()
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
}

func TestDispatchPendingRedditPostsCleansUpUnreachableChannel(t *testing.T) {
	db, _ := utils.CreateTempDB(t)
	store := subscription.NewStore(db)
	notifier := newFakeNotifier()
	d := NewDispatcher(db, store, notifier)

	_, err := store.AddSubreddit("dead", "golang")
	require.NoError(t, err)
	base := time.Now()
	createPendingPost(t, d, "p1", "dead", "first", base)
	createPendingPost(t, d, "p2", "dead", "second", base.Add(time.Minute))
	createPendingPost(t, d, "p3", "alive", "third", base.Add(2*time.Minute))
	notifier.unreachable["dead"] = true

	delivered, err := d.DispatchPendingRedditPosts()
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, len(notifier.sentTo("alive")))

	// Only one send was attempted against the dead channel; its markers and
	// pending posts are gone.
	subreddits, err := store.ListSubreddits("dead")
	require.NoError(t, err)
	assert.Empty(t, subreddits)
	var count int64
	require.NoError(t, db.Model(&model.RedditPost{}).Where("channel_id = ?", "dead").Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestDispatchFeedEntriesChunksInOrder(t *testing.T) {
	db, _ := utils.CreateTempDB(t)
	store := subscription.NewStore(db)
	notifier := newFakeNotifier()
	d := NewDispatcher(db, store, notifier)

	_, err := store.AddFeed("c1", subscription.FeedMetadata{FeedUrl: "https://a.example/rss/"})
	require.NoError(t, err)
	_, err = store.AddFeed("c2", subscription.FeedMetadata{FeedUrl: "https://a.example/rss/"})
	require.NoError(t, err)

	entries := make([]model.FeedEntry, 23)
	for i := range entries {
		entries[i] = model.FeedEntry{
			FeedUrl: "https://a.example/rss/",
			Title:   fmt.Sprintf("entry %02d", i),
		}
	}

	delivered, err := d.DispatchFeedEntries("https://a.example/rss/", entries)
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)

	for _, channelId := range []string{"c1", "c2"} {
		msgs := notifier.sentTo(channelId)
		require.Equal(t, 3, len(msgs))
		assert.Equal(t, 10, len(msgs[0].embeds))
		assert.Equal(t, 10, len(msgs[1].embeds))
		assert.Equal(t, 3, len(msgs[2].embeds))

		// Entry order is preserved within and across batches.
		i := 0
		for _, msg := range msgs {
			for _, embed := range msg.embeds {
				assert.Equal(t, fmt.Sprintf("entry %02d", i), embed.Title)
				i++
			}
		}
	}
}

func TestDispatchFeedEntriesSkipsMissingChannel(t *testing.T) {
	db, _ := utils.CreateTempDB(t)
	store := subscription.NewStore(db)
	notifier := newFakeNotifier()
	d := NewDispatcher(db, store, notifier)

	_, err := store.AddFeed("gone", subscription.FeedMetadata{FeedUrl: "https://a.example/rss/"})
	require.NoError(t, err)
	notifier.missing["gone"] = true

	delivered, err := d.DispatchFeedEntries("https://a.example/rss/", []model.FeedEntry{
		{FeedUrl: "https://a.example/rss/", Title: "entry"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
	assert.Empty(t, notifier.sent)

	// The unresolvable channel was unsubscribed.
	feeds, err := store.ListFeeds("gone")
	require.NoError(t, err)
	assert.Empty(t, feeds)
}

func TestBroadcastReachesEachChannelOnce(t *testing.T) {
	db, _ := utils.CreateTempDB(t)
	store := subscription.NewStore(db)
	notifier := newFakeNotifier()
	d := NewDispatcher(db, store, notifier)

	// c1 holds both subscription kinds, c2 only a feed.
	_, err := store.AddSubreddit("c1", "golang")
	require.NoError(t, err)
	_, err = store.AddFeed("c1", subscription.FeedMetadata{FeedUrl: "https://a.example/rss/"})
	require.NoError(t, err)
	_, err = store.AddFeed("c2", subscription.FeedMetadata{FeedUrl: "https://a.example/rss/"})
	require.NoError(t, err)

	sent, err := d.Broadcast(RenderBroadcast())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, 1, len(notifier.sentTo("c1")))
	assert.Equal(t, 1, len(notifier.sentTo("c2")))
}
