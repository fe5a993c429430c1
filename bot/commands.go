package bot

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/audiosutras/feedbot/collector"
	"github.com/audiosutras/feedbot/ingest"
	"github.com/audiosutras/feedbot/model"
	"github.com/audiosutras/feedbot/publisher"
	"github.com/audiosutras/feedbot/subscription"
	Logger "github.com/audiosutras/feedbot/utils/log"
)

// subredditUrlPattern matches a full subreddit URL; the capture group is the
// bare subreddit name.
var subredditUrlPattern = regexp.MustCompile(`^https?://(?:www\.)?reddit\.com/r/([A-Za-z0-9_]+)/?$`)

// Commander parses the "."-prefixed management commands out of guild
// messages. Mutating commands are restricted to the guild owner; .export is
// open to anyone in the channel.
//
//	.subreddit add|rm|ls|prune
//	.rss add|rm|ls|prune
//	.export
//
// add and rm take one argument, a single source or a comma-separated list.
type Commander struct {
	session  *Session
	store    *subscription.Store
	reddit   *collector.RedditCollector
	rss      *collector.RSSCollector
	ingester *ingest.Engine
}

func NewCommander(
	session *Session,
	store *subscription.Store,
	reddit *collector.RedditCollector,
	rss *collector.RSSCollector,
	ingester *ingest.Engine,
) *Commander {
	return &Commander{
		session:  session,
		store:    store,
		reddit:   reddit,
		rss:      rss,
		ingester: ingester,
	}
}

// Register attaches the message handler to the session. Must be called
// before Open.
func (c *Commander) Register() {
	c.session.discord.AddHandler(c.onMessageCreate)
}

func (c *Commander) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if !strings.HasPrefix(m.Content, ".") {
		return
	}

	fields := strings.Fields(m.Content)
	channelId := m.ChannelID

	switch fields[0] {
	case ".help":
		topic := ""
		if len(fields) > 1 {
			topic = fields[1]
		}
		c.session.sendText(channelId, helpMessage(topic))
	case ".export":
		c.handleExport(channelId)
	case ".subreddit":
		if !c.requireGuildOwner(m) {
			return
		}
		c.handleSubreddit(channelId, fields[1:])
	case ".rss":
		if !c.requireGuildOwner(m) {
			return
		}
		c.handleRSS(channelId, fields[1:])
	}
}

// requireGuildOwner silently drops mutating commands from non-owners, the
// same way permission-gated commands behave elsewhere on the platform.
func (c *Commander) requireGuildOwner(m *discordgo.MessageCreate) bool {
	if m.GuildID == "" {
		return false
	}
	guild, err := c.session.discord.State.Guild(m.GuildID)
	if err != nil {
		guild, err = c.session.discord.Guild(m.GuildID)
		if err != nil {
			Logger.Log.Errorf("fail to resolve guild %s: %v", m.GuildID, err)
			return false
		}
	}
	return guild.OwnerID == m.Author.ID
}

func (c *Commander) handleSubreddit(channelId string, args []string) {
	if len(args) == 0 {
		c.session.sendText(channelId, "**Invalid subreddit command passed. Type: .help subreddit**")
		return
	}
	switch args[0] {
	case "ls":
		c.subredditLs(channelId)
	case "add":
		if len(args) > 1 {
			c.subredditAdd(channelId, splitList(args[1]))
			return
		}
		c.session.sendText(channelId, "**Invalid subreddit command passed. Type: .help subreddit**")
	case "rm":
		if len(args) > 1 {
			c.subredditRm(channelId, splitList(args[1]))
			return
		}
		c.session.sendText(channelId, "**Invalid subreddit command passed. Type: .help subreddit**")
	case "prune":
		c.subredditPrune(channelId)
	default:
		c.session.sendText(channelId, "**Invalid subreddit command passed. Type: .help subreddit**")
	}
}

func (c *Commander) subredditLs(channelId string) {
	c.session.sendText(channelId, "**Getting subreddits...**")
	subreddits, err := c.store.ListSubreddits(channelId)
	if err != nil {
		Logger.Log.Errorf("fail to list subreddits for channel %s: %v", channelId, err)
		return
	}
	if len(subreddits) == 0 {
		c.session.sendText(channelId, "**No Subreddit Subscriptions**")
		return
	}
	c.session.sendText(channelId, fmt.Sprintf("**Subreddit Subscriptions: %s**", strings.Join(subreddits, ", ")))
}

func (c *Commander) subredditAdd(channelId string, args []string) {
	for _, arg := range args {
		subreddit, ok := parseSubredditArg(arg)
		if !ok {
			c.session.sendText(channelId, fmt.Sprintf("**Not a valid reddit url for subreddit: %s**", arg))
			continue
		}

		exists, err := c.reddit.SubredditExists(subreddit)
		if err != nil {
			c.session.sendText(channelId, fmt.Sprintf("**Please add r/%s later.**", subreddit))
			continue
		}
		if !exists {
			c.session.sendText(channelId, fmt.Sprintf("**r/%s does not exists.**", subreddit))
			continue
		}

		created, err := c.store.AddSubreddit(channelId, subreddit)
		if err != nil {
			Logger.Log.Errorf("fail to add subreddit r/%s for channel %s: %v", subreddit, channelId, err)
			continue
		}
		if !created {
			c.session.sendText(channelId, fmt.Sprintf("**Already subscribed to r/%s**", subreddit))
			continue
		}
		c.session.sendText(channelId, fmt.Sprintf("**Subscribed to r/%s 'new' listings**", subreddit))
	}
}

func (c *Commander) subredditRm(channelId string, args []string) {
	for _, arg := range args {
		subreddit := strings.TrimPrefix(arg, "r/")
		removed, err := c.store.RemoveSubreddit(channelId, subreddit)
		if err != nil {
			Logger.Log.Errorf("fail to remove subreddit r/%s for channel %s: %v", subreddit, channelId, err)
			continue
		}
		if removed == 0 {
			c.session.sendText(channelId, fmt.Sprintf("**Already not subscribed to r/%s 'new' listings**", subreddit))
			continue
		}
		c.session.sendText(channelId, fmt.Sprintf("**Removed subscription to r/%s 'new' listings**", subreddit))
	}
}

func (c *Commander) subredditPrune(channelId string) {
	removed, err := c.store.PruneSubreddits(channelId)
	if err != nil {
		Logger.Log.Errorf("fail to prune subreddits for channel %s: %v", channelId, err)
		return
	}
	if removed == 0 {
		c.session.sendText(channelId, "**Already removed subreddit channel subscriptions**")
		return
	}
	c.session.sendText(channelId, "**Removed subreddit channel subscription**")
}

func (c *Commander) handleRSS(channelId string, args []string) {
	if len(args) == 0 {
		c.session.sendText(channelId, "**Invalid rss command passed. Type: .help rss**")
		return
	}
	switch args[0] {
	case "ls":
		c.rssLs(channelId)
	case "add":
		if len(args) > 1 {
			c.rssAdd(channelId, splitList(args[1]))
			return
		}
		c.session.sendText(channelId, "**Invalid rss command passed. Type: .help rss**")
	case "rm":
		if len(args) > 1 {
			c.rssRm(channelId, splitList(args[1]))
			return
		}
		c.session.sendText(channelId, "**Invalid rss command passed. Type: .help rss**")
	case "prune":
		c.rssPrune(channelId)
	default:
		c.session.sendText(channelId, "**Invalid rss command passed. Type: .help rss**")
	}
}

func (c *Commander) rssLs(channelId string) {
	subs, err := c.store.ListFeeds(channelId)
	if err != nil {
		Logger.Log.Errorf("fail to list feeds for channel %s: %v", channelId, err)
		return
	}
	if len(subs) == 0 {
		c.session.sendText(channelId, "**No RSS Feed Subscriptions**")
		return
	}
	embeds := make([]*discordgo.MessageEmbed, 0, len(subs))
	for i := range subs {
		embeds = append(embeds, publisher.RenderFeedAbout(&subs[i]))
	}
	c.session.sendEmbedBatches(channelId, "**Channel RSS Subscriptions:**", embeds)
}

// rssAdd subscribes the channel to each feed. Newly subscribed feeds get
// their current entries seeded into the store without fan-out, so the next
// poll cycle only delivers entries published after the subscription.
func (c *Commander) rssAdd(channelId string, args []string) {
	c.session.sendText(channelId, "**Getting feeds...**")

	var existingEmbeds, addedEmbeds []*discordgo.MessageEmbed
	for _, arg := range args {
		feedUrl := normalizeFeedUrl(arg)

		sub, err := c.store.GetFeed(channelId, feedUrl)
		if err != nil {
			Logger.Log.Errorf("fail to probe feed %s for channel %s: %v", feedUrl, channelId, err)
			continue
		}
		if sub != nil {
			existingEmbeds = append(existingEmbeds, publisher.RenderFeedAbout(sub))
			continue
		}

		fetch, err := c.rss.Fetch(feedUrl)
		if err != nil {
			c.session.sendText(channelId, fmt.Sprintf("**%v**", err))
			continue
		}

		info := fetch.Info
		if _, err := c.store.AddFeed(channelId, subscription.FeedMetadata{
			FeedUrl:  feedUrl,
			Title:    info.Title,
			Subtitle: info.Subtitle,
			Summary:  info.Summary,
			Author:   info.Author,
			Link:     info.Link,
			Image:    info.Image,
		}); err != nil {
			Logger.Log.Errorf("fail to add feed %s for channel %s: %v", feedUrl, channelId, err)
			continue
		}

		if _, err := c.ingester.IngestFeedEntries(feedUrl, info.Image, fetch.Entries); err != nil {
			Logger.Log.Errorf("fail to seed entries for feed %s: %v", feedUrl, err)
		}

		addedEmbeds = append(addedEmbeds, publisher.RenderFeedAbout(&model.RSSSubscription{
			ChannelId: channelId,
			FeedUrl:   feedUrl,
			Title:     info.Title,
			Subtitle:  info.Subtitle,
			Summary:   info.Summary,
			Author:    info.Author,
			Link:      info.Link,
			Image:     info.Image,
		}))
	}

	if len(existingEmbeds) > 0 {
		c.session.sendEmbedBatches(channelId, "**Channel Already Subscribed to RSS Feeds:**", existingEmbeds)
	}
	if len(addedEmbeds) > 0 {
		c.session.sendEmbedBatches(channelId, "**New RSS Feed Subscriptions:**", addedEmbeds)
	}
}

func (c *Commander) rssRm(channelId string, args []string) {
	var embeds []*discordgo.MessageEmbed
	for _, arg := range args {
		feedUrl := normalizeFeedUrl(arg)
		sub, err := c.store.RemoveFeed(channelId, feedUrl)
		if err != nil {
			Logger.Log.Errorf("fail to remove feed %s for channel %s: %v", feedUrl, channelId, err)
			continue
		}
		if sub != nil {
			embeds = append(embeds, publisher.RenderFeedAbout(sub))
		}
	}
	if len(embeds) == 0 {
		c.session.sendText(channelId, "**Already Unsubscribed**")
		return
	}
	c.session.sendEmbedBatches(channelId, "**Removed RSS Feed Subscription:**", embeds)
}

func (c *Commander) rssPrune(channelId string) {
	removed, err := c.store.PruneFeeds(channelId)
	if err != nil {
		Logger.Log.Errorf("fail to prune feeds for channel %s: %v", channelId, err)
		return
	}
	if removed == 0 {
		c.session.sendText(channelId, "**Already removed web rss feed channel subscriptions**")
		return
	}
	c.session.sendText(channelId, "**Removed web rss feed channel subscription**")
}

// handleExport sends the channel's subscriptions as a replayable command file.
func (c *Commander) handleExport(channelId string) {
	export, err := c.store.Export(channelId)
	if err != nil {
		Logger.Log.Errorf("fail to export subscriptions for channel %s: %v", channelId, err)
		return
	}
	if export == "" {
		c.session.sendText(channelId, "**Channel has no subscriptions to export**")
		return
	}

	filename := fmt.Sprintf("%s.txt", channelId)
	if ch, err := c.session.discord.State.Channel(channelId); err == nil && ch.Name != "" {
		filename = fmt.Sprintf("%s.txt", ch.Name)
	}
	c.session.sendFile(
		channelId,
		fmt.Sprintf("**Channel Subscriptions Export: %s**", filename),
		filename,
		strings.NewReader(export),
	)
}

// helpMessage renders the usage text for ".help [topic]". Unknown topics get
// the overview.
func helpMessage(topic string) string {
	switch topic {
	case "subreddit":
		return "**Subreddit commands (guild owner only):**\n" +
			"`.subreddit add <name|r/name|url>[,...]` subscribe to 'new' listings\n" +
			"`.subreddit rm <name>[,...]` unsubscribe\n" +
			"`.subreddit ls` list this channel's subreddits\n" +
			"`.subreddit prune` remove all subreddit subscriptions"
	case "rss":
		return "**RSS commands (guild owner only):**\n" +
			"`.rss add <url>[,...]` subscribe to feeds\n" +
			"`.rss rm <url>[,...]` unsubscribe\n" +
			"`.rss ls` list this channel's feeds\n" +
			"`.rss prune` remove all feed subscriptions"
	case "export":
		return "**Export commands:**\n" +
			"`.export` send this channel's subscriptions as a replayable .txt file"
	}
	return "**Feed Bot commands:**\n" +
		"`.subreddit` manage subreddit subscriptions\n" +
		"`.rss` manage feed subscriptions\n" +
		"`.export` export this channel's subscriptions\n" +
		"Type `.help subreddit`, `.help rss` or `.help export` for details."
}

// parseSubredditArg accepts "https://www.reddit.com/r/x/", "r/x" and "x",
// returning the bare subreddit name. A URL that does not point at a
// subreddit is rejected.
func parseSubredditArg(arg string) (string, bool) {
	if strings.HasPrefix(arg, "https://") || strings.HasPrefix(arg, "http://") {
		match := subredditUrlPattern.FindStringSubmatch(arg)
		if match == nil {
			return "", false
		}
		return match[1], true
	}
	return strings.TrimPrefix(arg, "r/"), true
}

// normalizeFeedUrl appends the trailing slash so the same feed given with and
// without one maps to a single subscription key.
func normalizeFeedUrl(feedUrl string) string {
	if strings.HasSuffix(feedUrl, "/") {
		return feedUrl
	}
	return feedUrl + "/"
}

func splitList(arg string) []string {
	parts := strings.Split(arg, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
