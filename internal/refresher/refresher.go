package refresher

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"discord-file-relay/internal/config"
	"discord-file-relay/internal/discord"
	"discord-file-relay/internal/metrics"
	"discord-file-relay/internal/model"
)

// MessageClient is the slice of the Discord client the refresher needs.
type MessageClient interface {
	FetchMessage(ctx context.Context, messageID string) (*discord.Message, error)
}

// Store is the slice of the metadata store the refresher needs.
type Store interface {
	FindStale(cutoff time.Time) ([]model.StoredFile, error)
	FindByID(id string) (*model.StoredFile, error)
	UpdateURL(id, newURL string) error
}

// Refresher republishes attachment URLs that are past the staleness
// window, by re-fetching the owning message from the channel.
type Refresher struct {
	client  MessageClient
	store   Store
	metrics *metrics.Metrics
	cfg     config.RefreshConfig
}

func New(client MessageClient, store Store, m *metrics.Metrics, cfg config.RefreshConfig) *Refresher {
	return &Refresher{
		client:  client,
		store:   store,
		metrics: m,
		cfg:     cfg,
	}
}

// RefreshExpired sweeps every stored record whose URL was last confirmed
// more than the staleness window ago and republishes the URLs that
// changed. Per-record failures are logged and skipped; a record that
// keeps failing is picked up again by the next sweep. Returns the number
// of URLs actually refreshed.
func (r *Refresher) RefreshExpired(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-r.cfg.StaleAfter)
	files, err := r.store.FindStale(cutoff)
	if err != nil {
		return 0, err
	}

	logrus.Infof("Found %d files that may need URL refresh", len(files))

	refreshed := 0
	for i, file := range files {
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}

		ok, err := r.refreshFile(ctx, &files[i])
		if err != nil {
			r.metrics.RefreshFailures.Inc()
			logrus.Errorf("Error refreshing URL for file %s: %v", file.ID, err)
		} else if ok {
			refreshed++
		}

		if err := sleepCtx(ctx, r.cfg.RecordDelay); err != nil {
			return refreshed, err
		}
	}

	logrus.Infof("URL refresh complete, refreshed %d URLs", refreshed)
	return refreshed, nil
}

// RefreshOne refreshes a single record by id, used for on-demand
// requests and as a just-in-time repair when a download hits an expired
// URL. Returns false without any network call when the record is
// unknown, deleted, or was not ingested from the channel.
func (r *Refresher) RefreshOne(ctx context.Context, fileID string) (bool, error) {
	file, err := r.store.FindByID(fileID)
	if err != nil {
		return false, err
	}
	if file == nil || file.Deleted || file.DiscordMessageID == nil {
		logrus.Infof("File %s not found or missing Discord message id", fileID)
		return false, nil
	}

	return r.refreshFile(ctx, file)
}

// refreshFile re-fetches the owning message and writes the attachment
// URL back when it differs from the stored one. A vanished message is
// "nothing to refresh", not a failure.
func (r *Refresher) refreshFile(ctx context.Context, file *model.StoredFile) (bool, error) {
	if file.DiscordMessageID == nil {
		return false, nil
	}

	message, err := r.client.FetchMessage(ctx, *file.DiscordMessageID)
	if err != nil {
		if errors.Is(err, discord.ErrNotFound) {
			logrus.Infof("Message %s no longer exists, skipping %s",
				*file.DiscordMessageID, file.OriginalName)
			return false, nil
		}
		return false, err
	}

	attachment := matchAttachment(message.Attachments, file)
	if attachment == nil || attachment.URL == file.DiscordURL {
		logrus.Debugf("No URL refresh needed for: %s", file.OriginalName)
		return false, nil
	}

	if err := r.store.UpdateURL(file.ID, attachment.URL); err != nil {
		return false, err
	}
	r.metrics.URLRefreshes.Inc()
	logrus.Infof("Refreshed URL for: %s", file.OriginalName)
	return true, nil
}

// matchAttachment locates the record's attachment on the message: by
// attachment id first, then stored filename, then original name.
func matchAttachment(attachments []discord.Attachment, file *model.StoredFile) *discord.Attachment {
	if file.DiscordAttachmentID != nil {
		for i, att := range attachments {
			if att.ID == *file.DiscordAttachmentID {
				return &attachments[i]
			}
		}
	}
	for i, att := range attachments {
		if att.Filename == file.Filename || att.Filename == file.OriginalName {
			return &attachments[i]
		}
	}
	return nil
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
