package actions

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"discord-file-relay/internal/config"
	"discord-file-relay/internal/crawler"
	"discord-file-relay/internal/discord"
	"discord-file-relay/internal/metrics"
	"discord-file-relay/internal/model"
	"discord-file-relay/internal/refresher"
)

// Action names accepted by the dispatcher.
const (
	ActionValidateCredential = "validate-credential"
	ActionTestAccess         = "test-access"
	ActionCrawl              = "crawl"
	ActionRefresh            = "refresh"
	ActionRefreshSingle      = "refresh-single"
	ActionStatus             = "status"
)

// ValidActions lists every action the dispatcher accepts.
var ValidActions = []string{
	ActionValidateCredential,
	ActionTestAccess,
	ActionCrawl,
	ActionRefresh,
	ActionRefreshSingle,
	ActionStatus,
}

// ChannelClient is the full Discord client surface the engines consume.
type ChannelClient interface {
	ChannelID() string
	ValidateToken(ctx context.Context) (*discord.BotUser, error)
	TestChannelAccess(ctx context.Context) (*discord.AccessReport, error)
	FetchMessages(ctx context.Context, before string, limit int) ([]discord.Message, error)
	FetchMessage(ctx context.Context, messageID string) (*discord.Message, error)
}

// Store combines the store slices both engines need.
type Store interface {
	FindByNameOrURL(filename, url string) (*model.StoredFile, error)
	FindByID(id string) (*model.StoredFile, error)
	FindStale(cutoff time.Time) ([]model.StoredFile, error)
	Create(file *model.StoredFile) error
	UpdateURL(id, newURL string) error
	SaveCheckpoint(channelID, lastMessageID string, complete bool) error
	LoadCheckpoint(channelID string) (*model.CrawlCheckpoint, error)
}

// Request names an operation and carries its parameters.
type Request struct {
	Action       string `json:"action" binding:"required"`
	ResumeFromID string `json:"resumeFromId"`
	FileID       string `json:"fileId"`
}

// ValidateResult is the validate-credential response.
type ValidateResult struct {
	Valid    bool             `json:"valid"`
	Identity *discord.BotUser `json:"identity,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// RefreshResult is the bulk refresh response.
type RefreshResult struct {
	RefreshedCount int `json:"refreshed_count"`
}

// RefreshSingleResult is the refresh-single response.
type RefreshSingleResult struct {
	Refreshed bool `json:"refreshed"`
}

// BadRequestError marks a caller mistake (unknown action, missing
// required parameter) so the HTTP layer can map it to a client error.
type BadRequestError struct {
	Reason string
}

func (e *BadRequestError) Error() string {
	return e.Reason
}

// Dispatcher maps named actions onto the crawl and refresh engines.
// It is stateless apart from holding the most recent crawl's progress
// for status polling. A fresh crawl engine is built per crawl call.
type Dispatcher struct {
	cfg     *config.Config
	store   Store
	metrics *metrics.Metrics

	// newClient exists so tests can substitute a fake channel client.
	newClient func() (ChannelClient, error)

	mu          sync.RWMutex
	lastCrawler *crawler.Crawler
}

func NewDispatcher(cfg *config.Config, store Store, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		cfg:     cfg,
		store:   store,
		metrics: m,
		newClient: func() (ChannelClient, error) {
			return discord.NewClient(&cfg.Discord)
		},
	}
}

// Dispatch runs one named action to completion and returns its result.
// Crawl and refresh actions may run for minutes; cancellation is the
// caller's ctx.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (interface{}, error) {
	logrus.Infof("Dispatching action: %s", req.Action)

	switch req.Action {
	case ActionValidateCredential:
		return d.validateCredential(ctx)
	case ActionTestAccess:
		return d.testAccess(ctx)
	case ActionCrawl:
		return d.crawl(ctx, req.ResumeFromID)
	case ActionRefresh:
		return d.refresh(ctx)
	case ActionRefreshSingle:
		if req.FileID == "" {
			return nil, &BadRequestError{Reason: "fileId is required for refresh-single"}
		}
		return d.refreshSingle(ctx, req.FileID)
	case ActionStatus:
		return d.status(), nil
	default:
		return nil, &BadRequestError{
			Reason: fmt.Sprintf("invalid action %q, valid actions: %s",
				req.Action, strings.Join(ValidActions, ", ")),
		}
	}
}

// validateCredential probes the identity endpoint only; no engine is
// constructed.
func (d *Dispatcher) validateCredential(ctx context.Context) (*ValidateResult, error) {
	client, err := d.newClient()
	if err != nil {
		return nil, err
	}

	bot, err := client.ValidateToken(ctx)
	if err != nil {
		return &ValidateResult{Valid: false, Error: err.Error()}, nil
	}
	return &ValidateResult{Valid: true, Identity: bot}, nil
}

func (d *Dispatcher) testAccess(ctx context.Context) (*discord.AccessReport, error) {
	client, err := d.newClient()
	if err != nil {
		return nil, err
	}
	return client.TestChannelAccess(ctx)
}

func (d *Dispatcher) crawl(ctx context.Context, resumeFromID string) (crawler.Progress, error) {
	client, err := d.newClient()
	if err != nil {
		return crawler.Progress{}, err
	}

	engine := crawler.New(client, d.store, d.metrics, d.cfg.Crawler)
	d.mu.Lock()
	d.lastCrawler = engine
	d.mu.Unlock()

	return engine.Crawl(ctx, resumeFromID)
}

func (d *Dispatcher) refresh(ctx context.Context) (*RefreshResult, error) {
	client, err := d.newClient()
	if err != nil {
		return nil, err
	}

	engine := refresher.New(client, d.store, d.metrics, d.cfg.Refresh)
	count, err := engine.RefreshExpired(ctx)
	if err != nil {
		return nil, err
	}
	return &RefreshResult{RefreshedCount: count}, nil
}

func (d *Dispatcher) refreshSingle(ctx context.Context, fileID string) (*RefreshSingleResult, error) {
	client, err := d.newClient()
	if err != nil {
		return nil, err
	}

	engine := refresher.New(client, d.store, d.metrics, d.cfg.Refresh)
	refreshed, err := engine.RefreshOne(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return &RefreshSingleResult{Refreshed: refreshed}, nil
}

// RefreshExpired runs a bulk refresh sweep. It is the entry point the
// periodic scheduler uses.
func (d *Dispatcher) RefreshExpired(ctx context.Context) (int, error) {
	result, err := d.refresh(ctx)
	if err != nil {
		return 0, err
	}
	return result.RefreshedCount, nil
}

// status returns the progress snapshot of the most recent crawl engine
// still held in memory, or a zero snapshot when none ran yet.
func (d *Dispatcher) status() crawler.Progress {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.lastCrawler == nil {
		return crawler.Progress{}
	}
	return d.lastCrawler.Progress()
}
