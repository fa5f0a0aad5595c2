package scraper

import (
	"context"

	"igmutual/pkg/instagram"
	"igmutual/pkg/models"
	"igmutual/pkg/session"
)

// Client defines the platform calls the scraper makes
type Client interface {
	FetchProfile(ctx context.Context, token, username string) (*instagram.Profile, error)
	FetchRelationPage(ctx context.Context, token string, relation instagram.Relation, userID string, first int, after string) (*instagram.RelationPage, error)
}

// SessionProvider hands out the shared session and receives the outcome of
// every request made with it
type SessionProvider interface {
	Acquire(ctx context.Context) (models.Session, error)
	// ReportUnauthorized invalidates failedToken and returns a refreshed session
	ReportUnauthorized(ctx context.Context, failedToken string) (models.Session, error)
	ReportSuccess(ctx context.Context)
	ReportFailure(ctx context.Context, err error)
}

// Ensure the production types satisfy the interfaces
var (
	_ Client          = (*instagram.Client)(nil)
	_ SessionProvider = (*session.Manager)(nil)
)
