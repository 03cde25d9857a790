// Package ratelimit provides per-key rate limiting for outbound scrapes.
//
// Scraping the same public profile too often gets the client blocked, so
// the pipeline enforces a minimum interval between scrapes of the same
// username. Requests for different usernames proceed independently.
//
// Interface:
//
// Limiters implement the KeyedLimiter interface:
//   - Acquire(ctx, key) error - Block until the key may proceed
//   - Reserve(key) time.Duration - Take a slot, returning the wait
//   - Reset(key) - Clear recorded state for the key
//
// Usage:
//
//	// At most one scrape per username every 10 seconds
//	limiter := ratelimit.NewMinInterval(10 * time.Second)
//
//	if err := limiter.Acquire(ctx, username); err != nil {
//	    return err // context cancelled while waiting
//	}
//	// Proceed with scrape
package ratelimit
