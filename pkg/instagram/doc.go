// Package instagram provides the HTTP client used to reach Instagram's
// public surface: the web profile JSON document and raw profile pages.
//
// The client sends browser-like headers, rotates its user agent per
// request, and throttles all outbound traffic through a shared limiter.
// Errors carry the type taxonomy from igmetrics/pkg/errors so callers can
// decide whether an attempt is worth retrying.
package instagram
