package model

import (
	"time"

	"gorm.io/datatypes"
)

/*

FeedEntry is one fetched article from a web feed. Entries are stored once per
feed regardless of how many channels subscribe; "new" means "absent from this
table at ingest time", and fan-out happens exactly once for the set of rows
freshly inserted in a cycle. There is no Sent flag on purpose: an entry is
never re-returned as inserted, so it is never re-delivered.

Id: primary key
CreatedAt: time when entity is created
FeedUrl: normalized feed URL this entry belongs to
Title: entry title in plain text
Thumbnail: the feed's image at fetch time, part of the natural key to match
		the original reconciliation semantics
PublishedAt: entry publish timestamp
Link: entry permalink
Description: plain-text entry body/summary
Raw: free-form source-provided metadata (categories, enclosures, guid, ...)
		kept as JSONB for anything the typed columns don't capture

The natural idempotency key is (FeedUrl, Title, Thumbnail, PublishedAt).
*/
type FeedEntry struct {
	Id          string    `gorm:"primaryKey"`
	CreatedAt   time.Time `gorm:"<-:create"`
	FeedUrl     string    `gorm:"index"`
	Title       string
	Thumbnail   string
	PublishedAt time.Time
	Link        string
	Description string
	Raw         datatypes.JSONMap
}
