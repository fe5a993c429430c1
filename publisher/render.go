package publisher

import (
	"fmt"
	"os"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/audiosutras/feedbot/model"
	"github.com/audiosutras/feedbot/utils"
)

const (
	// Discord's embed limits. Titles above 256 and descriptions above 4096
	// are rejected by the API, so everything is truncated with a visible
	// continuation marker before send.
	embedTitleLimit = 256

	// Reddit posts render as short previews, feed entries as full embeds.
	redditDescriptionLimit = 1000
	entryDescriptionLimit  = 4000

	colorRed    = 0xE74C3C
	colorBlue   = 0x3498DB
	colorPurple = 0x9B59B6

	// EmbedBatchLimit is the maximum embeds Discord accepts in one message.
	EmbedBatchLimit = 10
)

// RenderRedditPost builds the notification embed for one listing item.
func RenderRedditPost(post *model.RedditPost) *discordgo.MessageEmbed {
	link := post.Link
	if !strings.Contains(link, "https://") {
		link = "https://www.reddit.com" + link
	}

	embed := &discordgo.MessageEmbed{
		Title:       utils.TruncateWithEllipsis(post.Title, embedTitleLimit),
		URL:         link,
		Description: fmt.Sprintf("**[%s]:** %s", post.Subreddit, utils.TruncateWithEllipsis(post.Description, redditDescriptionLimit)),
		Color:       colorRed,
	}
	// Reddit fills the thumbnail field with placeholders like "self" and
	// "default" for posts without one; only real URLs are renderable.
	if strings.Contains(post.Thumbnail, "https://") {
		embed.Image = &discordgo.MessageEmbedImage{URL: post.Thumbnail}
	}
	if imagesUrl := os.Getenv("IMAGES_URL"); imagesUrl != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: imagesUrl + "/reddit-logo.png"}
	}
	return embed
}

// RenderFeedEntry builds the notification embed for one feed entry.
func RenderFeedEntry(entry *model.FeedEntry) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       utils.TruncateWithEllipsis(entry.Title, embedTitleLimit),
		URL:         entry.Link,
		Description: utils.TruncateWithEllipsis(entry.Description, entryDescriptionLimit),
		Color:       colorBlue,
	}
	if !entry.PublishedAt.IsZero() {
		embed.Timestamp = entry.PublishedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	if image, ok := entry.Raw["image"].(string); ok && image != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: image}
	}
	if strings.Contains(entry.Thumbnail, "https://") {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: entry.Thumbnail}
	}
	return embed
}

// RenderFeedAbout builds the feed-description embed shown when listing or
// confirming feed subscriptions, from the metadata cached on the marker.
func RenderFeedAbout(sub *model.RSSSubscription) *discordgo.MessageEmbed {
	description := sub.Subtitle
	if description == "" {
		description = sub.Summary
	}
	embed := &discordgo.MessageEmbed{
		Title:       utils.TruncateWithEllipsis(sub.Title, embedTitleLimit),
		URL:         sub.Link,
		Description: utils.TruncateWithEllipsis(description, redditDescriptionLimit),
		Color:       colorPurple,
	}
	if sub.Author != "" {
		embed.Author = &discordgo.MessageEmbedAuthor{Name: sub.Author}
	}
	if strings.Contains(sub.Image, "https://") {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: sub.Image}
	}
	return embed
}

// RenderBroadcast builds the periodic support notice sent to every channel
// holding at least one subscription.
func RenderBroadcast() *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: "Support Feed Bot: A Self-Hostable Open Source RSS Feed Reader",
		URL:   "https://github.com/Audiosutras/feed_bot?tab=readme-ov-file#support-the-project",
		Description: "This self-hostable bot has been made available for free under the MIT License. " +
			"Check out the [source code](https://github.com/Audiosutras/feed_bot) to " +
			"make feature requests and report issues.\n\n" +
			"**Find this bot of value?** Consider [sending a tip](https://ko-fi.com/chrisdixononcode) " +
			"to the developer behind it.",
		Color: colorPurple,
	}
	if imagesUrl := os.Getenv("IMAGES_URL"); imagesUrl != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: imagesUrl + "/feed_bot.jpg"}
		embed.Image = &discordgo.MessageEmbedImage{URL: imagesUrl + "/thankyou.jpg"}
	}
	return embed
}

// ChunkEmbeds splits embeds into batches of at most EmbedBatchLimit,
// preserving order within and across batches.
func ChunkEmbeds(embeds []*discordgo.MessageEmbed) [][]*discordgo.MessageEmbed {
	batches := [][]*discordgo.MessageEmbed{}
	for len(embeds) > 0 {
		n := EmbedBatchLimit
		if len(embeds) < n {
			n = len(embeds)
		}
		batches = append(batches, embeds[:n])
		embeds = embeds[n:]
	}
	return batches
}
