// Package instagram is a client for the Instagram web endpoints used by igmutual.
//
// It covers profile lookup, the followers/following GraphQL queries, session
// validation, and the browser login flow with optional TOTP second factor.
// Every failure is returned as an *errors.Error carrying a Reason, so callers
// decide retry and refresh policy without looking at HTTP details:
//
//	client := instagram.NewClient(&cfg.Instagram, log)
//	page, err := client.FetchRelationPage(ctx, token, instagram.RelationFollowers, userID, 50, cursor)
//	switch errors.ReasonOf(err) {
//	case errors.ReasonUnauthorized:
//	    // refresh the session and resume the same cursor
//	case errors.ReasonRateLimited, errors.ReasonTransientFailure:
//	    // back off and retry
//	}
package instagram
