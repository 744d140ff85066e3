package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discord-file-relay/internal/config"
	"discord-file-relay/internal/discord"
	"discord-file-relay/internal/metrics"
	"discord-file-relay/internal/model"
)

var testMetrics = metrics.NewMetrics()

// fakeChannel serves a fixed newest-first message history with Discord's
// before-cursor pagination.
type fakeChannel struct {
	history    []discord.Message
	pageSize   int
	fetchCalls int
	failures   int
	failAfter  int
	failWith   error
}

func (f *fakeChannel) ChannelID() string { return "chan-1" }

func (f *fakeChannel) FetchMessages(ctx context.Context, before string, limit int) ([]discord.Message, error) {
	f.fetchCalls++
	if f.failAfter > 0 && f.fetchCalls > f.failAfter {
		return nil, errors.New("connection reset")
	}
	if f.failures > 0 {
		f.failures--
		if f.failWith != nil {
			return nil, f.failWith
		}
		return nil, errors.New("connection reset")
	}

	start := 0
	if before != "" {
		for i, m := range f.history {
			if m.ID == before {
				start = i + 1
				break
			}
		}
	}
	if start >= len(f.history) {
		return nil, nil
	}
	end := start + limit
	if f.pageSize > 0 && start+f.pageSize < end {
		end = start + f.pageSize
	}
	if end > len(f.history) {
		end = len(f.history)
	}
	return f.history[start:end], nil
}

// fakeStore is an in-memory crawler.Store.
type fakeStore struct {
	files       []*model.StoredFile
	urlUpdates  int
	checkpoints map[string]*model.CrawlCheckpoint
}

func newFakeStore() *fakeStore {
	return &fakeStore{checkpoints: make(map[string]*model.CrawlCheckpoint)}
}

func (s *fakeStore) FindByNameOrURL(filename, url string) (*model.StoredFile, error) {
	for _, f := range s.files {
		if f.Deleted {
			continue
		}
		if f.Filename == filename || f.DiscordURL == url {
			return f, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) Create(file *model.StoredFile) error {
	for _, f := range s.files {
		if !f.Deleted && f.DiscordURL == file.DiscordURL {
			f.Deleted = true
		}
	}
	if file.ID == "" {
		file.ID = fmt.Sprintf("id-%d", len(s.files)+1)
	}
	s.files = append(s.files, file)
	return nil
}

func (s *fakeStore) UpdateURL(id, newURL string) error {
	for _, f := range s.files {
		if f.ID == id {
			f.DiscordURL = newURL
			f.UpdatedAt = time.Now()
			s.urlUpdates++
			return nil
		}
	}
	return errors.New("no such record")
}

func (s *fakeStore) SaveCheckpoint(channelID, lastMessageID string, complete bool) error {
	s.checkpoints[channelID] = &model.CrawlCheckpoint{
		ChannelID:     channelID,
		LastMessageID: lastMessageID,
		Complete:      complete,
	}
	return nil
}

func (s *fakeStore) LoadCheckpoint(channelID string) (*model.CrawlCheckpoint, error) {
	return s.checkpoints[channelID], nil
}

func (s *fakeStore) live() []*model.StoredFile {
	var out []*model.StoredFile
	for _, f := range s.files {
		if !f.Deleted {
			out = append(out, f)
		}
	}
	return out
}

func testCrawlerConfig() config.CrawlerConfig {
	return config.CrawlerConfig{
		BatchSize:    100,
		BatchDelay:   0,
		RetryBackoff: time.Millisecond,
		MaxRetries:   3,
	}
}

func message(id string, ts time.Time, attachments ...discord.Attachment) discord.Message {
	return discord.Message{ID: id, Timestamp: ts, Attachments: attachments}
}

func attachment(id, filename, url string) discord.Attachment {
	return discord.Attachment{ID: id, Filename: filename, Size: 1024, URL: url, ContentType: "application/octet-stream"}
}

func TestCrawlEmptyChannel(t *testing.T) {
	channel := &fakeChannel{}
	store := newFakeStore()
	c := New(channel, store, testMetrics, testCrawlerConfig())

	progress, err := c.Crawl(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 0, progress.TotalMessages)
	assert.Equal(t, 0, progress.TotalAttachments)
	assert.True(t, progress.IsComplete)
	assert.Empty(t, progress.LastMessageID)
	assert.Empty(t, store.files)
}

func TestCrawlOneMessageTwoAttachments(t *testing.T) {
	ts := time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC)
	channel := &fakeChannel{history: []discord.Message{
		message("10", ts,
			attachment("a1", "one.png", "https://cdn.example/one.png"),
			attachment("a2", "two.png", "https://cdn.example/two.png"),
		),
	}}
	store := newFakeStore()
	c := New(channel, store, testMetrics, testCrawlerConfig())

	progress, err := c.Crawl(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, progress.TotalMessages)
	assert.Equal(t, 2, progress.TotalAttachments)
	assert.True(t, progress.IsComplete)

	live := store.live()
	require.Len(t, live, 2)
	for _, f := range live {
		require.NotNil(t, f.DiscordMessageID)
		assert.Equal(t, "10", *f.DiscordMessageID)
		assert.Equal(t, ts, f.UploadedAt, "createdAt must come from the message timestamp")
	}
}

func TestCrawlIdempotent(t *testing.T) {
	ts := time.Now().Add(-time.Hour)
	channel := &fakeChannel{history: []discord.Message{
		message("20", ts, attachment("a1", "doc.pdf", "https://cdn.example/doc.pdf")),
		message("19", ts.Add(-time.Minute), attachment("a2", "img.png", "https://cdn.example/img.png")),
	}}
	store := newFakeStore()

	_, err := New(channel, store, testMetrics, testCrawlerConfig()).Crawl(context.Background(), "")
	require.NoError(t, err)
	_, err = New(channel, store, testMetrics, testCrawlerConfig()).Crawl(context.Background(), "")
	require.NoError(t, err)

	assert.Len(t, store.live(), 2, "second crawl must create no new records")
	assert.Equal(t, 0, store.urlUpdates, "unchanged URLs must not be rewritten")
}

func TestCrawlRefreshesChangedURL(t *testing.T) {
	ts := time.Now().Add(-time.Hour)
	channel := &fakeChannel{history: []discord.Message{
		message("30", ts, attachment("a1", "doc.pdf", "https://cdn.example/doc.pdf?ex=old")),
	}}
	store := newFakeStore()

	_, err := New(channel, store, testMetrics, testCrawlerConfig()).Crawl(context.Background(), "")
	require.NoError(t, err)

	// The remote republishes the same attachment with a fresh signed URL.
	channel.history[0].Attachments[0].URL = "https://cdn.example/doc.pdf?ex=new"
	_, err = New(channel, store, testMetrics, testCrawlerConfig()).Crawl(context.Background(), "")
	require.NoError(t, err)

	live := store.live()
	require.Len(t, live, 1)
	assert.Equal(t, "https://cdn.example/doc.pdf?ex=new", live[0].DiscordURL)
	assert.Equal(t, 1, store.urlUpdates)
}

func TestCrawlResumeFromID(t *testing.T) {
	ts := time.Now().Add(-time.Hour)
	channel := &fakeChannel{history: []discord.Message{
		message("53", ts, attachment("a3", "c.png", "https://cdn.example/c.png")),
		message("52", ts, attachment("a2", "b.png", "https://cdn.example/b.png")),
		message("51", ts, attachment("a1", "a.png", "https://cdn.example/a.png")),
	}}
	store := newFakeStore()

	progress, err := New(channel, store, testMetrics, testCrawlerConfig()).Crawl(context.Background(), "52")
	require.NoError(t, err)
	assert.Equal(t, 1, progress.TotalMessages, "only messages strictly older than the resume id")

	live := store.live()
	require.Len(t, live, 1)
	assert.Equal(t, "a.png", live[0].Filename)
}

func TestCrawlSplitEqualsFullCrawl(t *testing.T) {
	ts := time.Now().Add(-time.Hour)
	history := []discord.Message{
		message("64", ts, attachment("a4", "d.png", "https://cdn.example/d.png")),
		message("63", ts, attachment("a3", "c.png", "https://cdn.example/c.png")),
		message("62", ts, attachment("a2", "b.png", "https://cdn.example/b.png")),
		message("61", ts, attachment("a1", "a.png", "https://cdn.example/a.png")),
	}

	full := newFakeStore()
	_, err := New(&fakeChannel{history: history}, full, testMetrics, testCrawlerConfig()).Crawl(context.Background(), "")
	require.NoError(t, err)

	// Truncate a pagewise crawl after the first page, then resume from
	// its cursor; the union of records must match the single-pass crawl.
	split := newFakeStore()
	channel := &fakeChannel{history: history, pageSize: 2, failAfter: 1}
	first, err := New(channel, split, testMetrics, testCrawlerConfig()).Crawl(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, "63", first.LastMessageID)

	channel.failAfter = 0
	_, err = New(channel, split, testMetrics, testCrawlerConfig()).Crawl(context.Background(), first.LastMessageID)
	require.NoError(t, err)

	names := func(files []*model.StoredFile) map[string]bool {
		out := make(map[string]bool)
		for _, f := range files {
			out[f.Filename] = true
		}
		return out
	}
	assert.Equal(t, names(full.live()), names(split.live()))
}

func TestCrawlRetriesTransientError(t *testing.T) {
	ts := time.Now().Add(-time.Hour)
	channel := &fakeChannel{
		history:  []discord.Message{message("70", ts, attachment("a1", "a.png", "https://cdn.example/a.png"))},
		failures: 2,
	}
	store := newFakeStore()

	progress, err := New(channel, store, testMetrics, testCrawlerConfig()).Crawl(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, progress.IsComplete)
	assert.Len(t, store.live(), 1)
}

func TestCrawlRetriesExhausted(t *testing.T) {
	channel := &fakeChannel{failures: 100}
	store := newFakeStore()

	_, err := New(channel, store, testMetrics, testCrawlerConfig()).Crawl(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, channel.fetchCalls)
}

func TestCrawlAbortsOnAuthError(t *testing.T) {
	channel := &fakeChannel{
		failures: 100,
		failWith: &discord.APIError{StatusCode: http.StatusUnauthorized, Message: "401: Unauthorized"},
	}
	store := newFakeStore()

	_, err := New(channel, store, testMetrics, testCrawlerConfig()).Crawl(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, 1, channel.fetchCalls, "credential rejections must not be retried")
}

func TestCrawlHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ts := time.Now().Add(-time.Hour)
	channel := &fakeChannel{
		history:  []discord.Message{message("80", ts)},
		pageSize: 1,
	}
	cfg := testCrawlerConfig()
	cfg.BatchDelay = time.Minute

	_, err := New(channel, newFakeStore(), testMetrics, cfg).Crawl(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCrawlResumesFromPersistedCheckpoint(t *testing.T) {
	ts := time.Now().Add(-time.Hour)
	channel := &fakeChannel{history: []discord.Message{
		message("92", ts, attachment("a2", "new.png", "https://cdn.example/new.png")),
		message("91", ts, attachment("a1", "old.png", "https://cdn.example/old.png")),
	}}
	store := newFakeStore()
	require.NoError(t, store.SaveCheckpoint("chan-1", "92", false))

	progress, err := New(channel, store, testMetrics, testCrawlerConfig()).Crawl(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, progress.TotalMessages)

	live := store.live()
	require.Len(t, live, 1)
	assert.Equal(t, "old.png", live[0].Filename)
	assert.True(t, store.checkpoints["chan-1"].Complete)
}

func TestCrawlIgnoresCompleteCheckpoint(t *testing.T) {
	ts := time.Now().Add(-time.Hour)
	channel := &fakeChannel{history: []discord.Message{
		message("95", ts, attachment("a1", "a.png", "https://cdn.example/a.png")),
	}}
	store := newFakeStore()
	require.NoError(t, store.SaveCheckpoint("chan-1", "95", true))

	// A finished crawl's checkpoint must not hide newer history on the
	// next run.
	progress, err := New(channel, store, testMetrics, testCrawlerConfig()).Crawl(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, progress.TotalMessages)
	assert.Len(t, store.live(), 1)
}
