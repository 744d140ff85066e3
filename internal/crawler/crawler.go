package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"discord-file-relay/internal/config"
	"discord-file-relay/internal/discord"
	"discord-file-relay/internal/metrics"
	"discord-file-relay/internal/model"
)

// ChannelClient is the slice of the Discord client the crawler needs.
type ChannelClient interface {
	ChannelID() string
	FetchMessages(ctx context.Context, before string, limit int) ([]discord.Message, error)
}

// Store is the slice of the metadata store the crawler needs.
type Store interface {
	FindByNameOrURL(filename, url string) (*model.StoredFile, error)
	Create(file *model.StoredFile) error
	UpdateURL(id, newURL string) error
	SaveCheckpoint(channelID, lastMessageID string, complete bool) error
	LoadCheckpoint(channelID string) (*model.CrawlCheckpoint, error)
}

// Progress is the crawl progress snapshot.
type Progress struct {
	LastMessageID    string `json:"last_message_id,omitempty"`
	TotalMessages    int    `json:"total_messages"`
	TotalAttachments int    `json:"total_attachments"`
	IsComplete       bool   `json:"is_complete"`
}

// Crawler walks the full history of the storage channel backward and
// reconciles every attachment into the metadata store. One crawler
// instance drives one crawl; the progress snapshot can be read
// concurrently while it runs.
type Crawler struct {
	client  ChannelClient
	store   Store
	metrics *metrics.Metrics
	cfg     config.CrawlerConfig

	mu       sync.RWMutex
	progress Progress
}

func New(client ChannelClient, store Store, m *metrics.Metrics, cfg config.CrawlerConfig) *Crawler {
	return &Crawler{
		client:  client,
		store:   store,
		metrics: m,
		cfg:     cfg,
	}
}

// Progress returns a copy of the current progress snapshot.
func (c *Crawler) Progress() Progress {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.progress
}

// Crawl paginates backward from the most recent message (or from
// resumeFromID, or from a persisted incomplete checkpoint) to the
// beginning of channel history, reconciling attachments page by page.
// A failed page fetch is retried at the same cursor with exponential
// backoff up to the configured attempt limit. The crawl terminates on
// an empty page, on retry exhaustion, or when ctx is done.
func (c *Crawler) Crawl(ctx context.Context, resumeFromID string) (Progress, error) {
	cursor := resumeFromID
	if cursor == "" {
		checkpoint, err := c.store.LoadCheckpoint(c.client.ChannelID())
		if err != nil {
			return c.Progress(), err
		}
		if checkpoint != nil && !checkpoint.Complete {
			cursor = checkpoint.LastMessageID
			logrus.Infof("Resuming crawl from persisted cursor %s", cursor)
		}
	}

	start := time.Now()
	batch := 0

	for {
		messages, err := c.fetchPageWithRetry(ctx, cursor)
		if err != nil {
			return c.Progress(), err
		}
		batch++
		c.metrics.CrawlBatches.Inc()

		if len(messages) == 0 {
			c.setComplete(cursor)
			if err := c.store.SaveCheckpoint(c.client.ChannelID(), cursor, true); err != nil {
				logrus.Warnf("Failed to persist final checkpoint: %v", err)
			}
			break
		}

		logrus.Infof("Processing batch %d with %d messages", batch, len(messages))

		for _, message := range messages {
			if err := c.processMessage(message); err != nil {
				logrus.Errorf("Error processing message %s: %v", message.ID, err)
			}
			c.bumpMessages()
			c.metrics.MessagesSeen.Inc()
		}

		// Pages arrive newest first, so the last id is the oldest and
		// advances the cursor backward in time.
		cursor = messages[len(messages)-1].ID
		c.setCursor(cursor)
		if err := c.store.SaveCheckpoint(c.client.ChannelID(), cursor, false); err != nil {
			logrus.Warnf("Failed to persist checkpoint: %v", err)
		}

		if err := sleepCtx(ctx, c.cfg.BatchDelay); err != nil {
			return c.Progress(), err
		}
	}

	progress := c.Progress()
	c.metrics.CrawlDuration.Observe(time.Since(start).Seconds())
	logrus.Infof("Crawl complete: %d messages, %d attachments",
		progress.TotalMessages, progress.TotalAttachments)
	return progress, nil
}

// fetchPageWithRetry fetches one page, retrying transient failures with
// exponential backoff. Credential and channel-access rejections are not
// retried.
func (c *Crawler) fetchPageWithRetry(ctx context.Context, cursor string) ([]discord.Message, error) {
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		messages, err := c.client.FetchMessages(ctx, cursor, c.cfg.BatchSize)
		if err == nil {
			return messages, nil
		}
		lastErr = err

		if discord.IsAuthError(err) || discord.IsAccessError(err) {
			return nil, fmt.Errorf("crawl aborted: %w", err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		backoff := c.cfg.RetryBackoff * time.Duration(1<<(attempt-1))
		logrus.Warnf("Batch fetch failed (attempt %d/%d), retrying in %v: %v",
			attempt, c.cfg.MaxRetries, backoff, err)
		if err := sleepCtx(ctx, backoff); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("crawl failed after %d attempts: %w", c.cfg.MaxRetries, lastErr)
}

func (c *Crawler) processMessage(message discord.Message) error {
	for _, attachment := range message.Attachments {
		if err := c.reconcileAttachment(attachment, message); err != nil {
			logrus.Errorf("Error processing attachment %s: %v", attachment.ID, err)
		}
		c.bumpAttachments()
		c.metrics.AttachmentsSeen.Inc()
	}
	return nil
}

// reconcileAttachment upserts one attachment into the store. A known
// file (by stored filename or exact URL) only gets its URL republished
// when it changed; anything else becomes a new record stamped with the
// message timestamp rather than wall-clock time.
func (c *Crawler) reconcileAttachment(attachment discord.Attachment, message discord.Message) error {
	existing, err := c.store.FindByNameOrURL(attachment.Filename, attachment.URL)
	if err != nil {
		return err
	}

	if existing != nil {
		if existing.DiscordURL != attachment.URL {
			if err := c.store.UpdateURL(existing.ID, attachment.URL); err != nil {
				return err
			}
			c.metrics.URLRefreshes.Inc()
			logrus.Infof("Updated URL for existing file: %s", attachment.Filename)
		}
		return nil
	}

	filename := attachment.Filename
	if filename == "" {
		filename = "attachment_" + attachment.ID
	}

	messageID := message.ID
	attachmentID := attachment.ID
	file := &model.StoredFile{
		Filename:            filename,
		OriginalName:        filename,
		FileSize:            attachment.Size,
		DiscordURL:          attachment.URL,
		DiscordMessageID:    &messageID,
		DiscordAttachmentID: &attachmentID,
		UploadedAt:          message.Timestamp,
	}
	if attachment.ContentType != "" {
		contentType := attachment.ContentType
		file.MimeType = &contentType
	}

	if err := c.store.Create(file); err != nil {
		return err
	}
	c.metrics.FilesCreated.Inc()
	c.metrics.LiveFiles.Inc()
	logrus.Infof("Added new file: %s (%d bytes)", filename, attachment.Size)
	return nil
}

func (c *Crawler) bumpMessages() {
	c.mu.Lock()
	c.progress.TotalMessages++
	c.mu.Unlock()
}

func (c *Crawler) bumpAttachments() {
	c.mu.Lock()
	c.progress.TotalAttachments++
	c.mu.Unlock()
}

func (c *Crawler) setCursor(cursor string) {
	c.mu.Lock()
	c.progress.LastMessageID = cursor
	c.mu.Unlock()
}

func (c *Crawler) setComplete(cursor string) {
	c.mu.Lock()
	c.progress.LastMessageID = cursor
	c.progress.IsComplete = true
	c.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
