// Package service is the unified entry point for profile data. It
// prefers the OAuth Graph API when the subject has an active token,
// falls back to scraping transparently, and serves cached snapshots
// within their TTL so repeated reads cost nothing upstream.
package service
