// Package scrape implements the scraping side of the acquisition pipeline:
// three backends of decreasing strength (browser rendering, direct HTTP,
// meta tags) behind a common interface, and an orchestrator that walks
// them in order with per-backend retries and exponential backoff.
//
// The one rule every path obeys: return real data or fail. Nothing in this
// package ever substitutes placeholder metrics for a failed scrape.
package scrape
