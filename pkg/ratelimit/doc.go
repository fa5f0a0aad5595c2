// Package ratelimit paces requests to the Instagram web API.
//
// RequestBudget wraps golang.org/x/time/rate for a global requests-per-minute
// cap. Pacer adds a random gap between consecutive requests so page fetches
// do not arrive at a fixed cadence. Chain combines both.
//
//	limiter := ratelimit.Chain{
//	    ratelimit.NewRequestBudget(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.BurstSize),
//	    ratelimit.NewPacer(cfg.Scraper.PageDelayMin, cfg.Scraper.PageDelayMax),
//	}
//	if err := limiter.Wait(ctx); err != nil {
//	    return err
//	}
package ratelimit
