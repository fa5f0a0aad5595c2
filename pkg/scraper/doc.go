// Package scraper fetches a target's profile and its following and followers
// lists one page at a time.
//
// Every request waits on the global request budget, and page requests also
// wait on a jittered pacer. Rate limits and transient failures are retried
// with exponential backoff up to the configured attempt budget; when it runs
// out the last error is returned with its original reason.
//
// An unauthorized response is never retried here. The scraper reports the
// stale token to its SessionProvider, which performs a single reactive
// refresh, and returns the unauthorized error so the caller can fetch the
// same cursor again with the new session:
//
//	page, err := s.FetchPage(ctx, instagram.RelationFollowing, target, cursor)
//	if errs.Is(err, errs.ReasonUnauthorized) {
//	    page, err = s.FetchPage(ctx, instagram.RelationFollowing, target, cursor)
//	}
//
// Raw response shapes stay inside the package: callers only see Target,
// Page and models.Identity.
package scraper
