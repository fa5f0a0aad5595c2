package engine

import (
	"context"
	"time"

	"igmutual/internal/store"
	"igmutual/pkg/auth"
	"igmutual/pkg/instagram"
	"igmutual/pkg/models"
	"igmutual/pkg/scraper"
	"igmutual/pkg/session"
)

// Repository is the durable check state the engine reads and writes
type Repository interface {
	CreateCheck(ctx context.Context, c *models.Check) error
	GetCheck(ctx context.Context, id string) (*models.Check, error)
	UpdateCheck(ctx context.Context, c *models.Check) error
	UpdateProgress(ctx context.Context, id string, progress int) error
	RequestCancel(ctx context.Context, id string) (bool, error)
	CancelRequested(ctx context.Context, id string) (bool, error)
	FindFreshCompleted(ctx context.Context, platform, target string, since time.Time) (*models.Check, error)
	CompleteCheck(ctx context.Context, c *models.Check, results []models.NonMutualResult) error
	GetResults(ctx context.Context, checkID string) ([]models.NonMutualResult, error)
}

// Fetcher resolves targets and fetches relation pages
type Fetcher interface {
	ResolveTarget(ctx context.Context, handle string) (*scraper.Target, error)
	FetchPage(ctx context.Context, relation instagram.Relation, target *scraper.Target, cursor string) (*scraper.Page, error)
}

// SessionController is the operator and scheduler view of the session
type SessionController interface {
	Halted() bool
	Resume()
	ForceRefresh(ctx context.Context) (models.Session, error)
	SetSession(ctx context.Context, token string) error
	Health(ctx context.Context) session.Health
	CheckProactive(ctx context.Context) (bool, error)
	Validate(ctx context.Context) error
}

// CredentialWriter stores the platform login
type CredentialWriter interface {
	Set(username, password, totpSecret string) error
}

var (
	_ Repository        = (*store.Store)(nil)
	_ Fetcher           = (*scraper.Scraper)(nil)
	_ SessionController = (*session.Manager)(nil)
	_ CredentialWriter  = (*auth.Manager)(nil)
)
