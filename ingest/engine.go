package ingest

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	perrors "github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/audiosutras/feedbot/collector"
	"github.com/audiosutras/feedbot/model"
	Logger "github.com/audiosutras/feedbot/utils/log"
)

// Engine reconciles freshly fetched items against the store: probe by the
// natural key, insert when absent, and report exactly the newly inserted
// subset back to the caller for fan-out.
//
// The seenKeys map caches every natural key observed since the process
// started so the common re-fetch case skips the DB probe entirely. Note that
// it can return false negative, meaning that a key might not be in this map
// but its row still exists in the DB; the probe stays authoritative. A few
// thousand distinct items per day is trivial to keep in memory.
type Engine struct {
	db *gorm.DB

	m        sync.RWMutex
	seenKeys map[string]bool
}

func NewEngine(db *gorm.DB) *Engine {
	return &Engine{
		db:       db,
		seenKeys: make(map[string]bool),
	}
}

// IngestRedditPosts applies find-or-insert per post on the composite key
// (channel, subreddit, title, description) and returns the inserted subset,
// each with a fresh id and Sent=false. Re-running the same batch inserts
// nothing. Two processes racing the same cycle could double-insert, which the
// design accepts: a single live poller keeps the probe idempotent in the
// common case.
func (e *Engine) IngestRedditPosts(posts []model.RedditPost) ([]model.RedditPost, error) {
	inserted := []model.RedditPost{}
	for _, post := range posts {
		key := redditKey(&post)
		if e.hasSeen(key) {
			continue
		}

		var existing model.RedditPost
		err := e.db.Where(map[string]interface{}{
			"channel_id":  post.ChannelId,
			"subreddit":   post.Subreddit,
			"title":       post.Title,
			"description": post.Description,
		}).First(&existing).Error
		if err == nil {
			e.markSeen(key)
			continue
		}
		if !perrors.Is(err, gorm.ErrRecordNotFound) {
			return inserted, perrors.Wrap(err, "fail to probe for existing reddit post")
		}

		post.Id = uuid.NewString()
		post.Sent = false
		if err := e.db.Create(&post).Error; err != nil {
			return inserted, perrors.Wrap(err, "fail to insert reddit post")
		}
		e.markSeen(key)
		inserted = append(inserted, post)
	}

	Logger.Log.Infof("of %d fetched listings %d have been added to db", len(posts), len(inserted))
	return inserted, nil
}

// IngestFeedEntries applies find-or-insert per entry on the natural key
// (feed_url, title, thumbnail, published_at) and returns the inserted subset
// in input order. The thumbnail in the key is the feed-level image at fetch
// time; the entry's own extracted image only affects rendering. An entry is
// never re-returned as inserted once present, which is what makes feed
// fan-out happen exactly once per entry.
func (e *Engine) IngestFeedEntries(feedUrl string, thumbnail string, drafts []collector.EntryDraft) ([]model.FeedEntry, error) {
	inserted := []model.FeedEntry{}
	for _, draft := range drafts {
		entry := model.FeedEntry{
			FeedUrl:   feedUrl,
			Title:     draft.Title,
			Thumbnail: thumbnail,
			// Postgres timestamps hold microseconds. Sub-microsecond components
			// would make the probe miss rows it just wrote after a restart.
			PublishedAt: draft.PublishedAt.Truncate(time.Microsecond),
			Link:        draft.Link,
			Description: draft.Description,
		}

		key := entryKey(&entry)
		if e.hasSeen(key) {
			continue
		}

		var existing model.FeedEntry
		err := e.db.Where(map[string]interface{}{
			"feed_url":     entry.FeedUrl,
			"title":        entry.Title,
			"thumbnail":    entry.Thumbnail,
			"published_at": entry.PublishedAt,
		}).First(&existing).Error
		if err == nil {
			e.markSeen(key)
			continue
		}
		if !perrors.Is(err, gorm.ErrRecordNotFound) {
			return inserted, perrors.Wrap(err, "fail to probe for existing feed entry")
		}

		entry.Id = uuid.NewString()
		entry.Raw = draft.Raw
		if entry.Raw == nil {
			entry.Raw = map[string]interface{}{}
		}
		if draft.Image != "" {
			entry.Raw["image"] = draft.Image
		}
		if err := e.db.Create(&entry).Error; err != nil {
			return inserted, perrors.Wrap(err, "fail to insert feed entry")
		}
		e.markSeen(key)
		inserted = append(inserted, entry)
	}

	Logger.Log.Infof("of %d entries for %s %d have been added to db", len(drafts), feedUrl, len(inserted))
	return inserted, nil
}

func (e *Engine) hasSeen(key string) bool {
	e.m.RLock()
	defer e.m.RUnlock()
	return e.seenKeys[key]
}

func (e *Engine) markSeen(key string) {
	e.m.Lock()
	defer e.m.Unlock()
	e.seenKeys[key] = true
}

func redditKey(p *model.RedditPost) string {
	return fmt.Sprintf("reddit\x00%s\x00%s\x00%s\x00%s", p.ChannelId, p.Subreddit, p.Title, p.Description)
}

func entryKey(en *model.FeedEntry) string {
	return fmt.Sprintf("rss\x00%s\x00%s\x00%s\x00%d", en.FeedUrl, en.Title, en.Thumbnail, en.PublishedAt.UnixNano())
}
