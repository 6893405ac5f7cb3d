// Package proxy holds the cache coordinator and its Fiber handler. The
// coordinator decides, per request, whether to serve from the key store,
// fetch from the origin and backfill, or mutate the stored set; the handler
// maps methods onto coordinator calls and coordinator errors onto plain-text
// HTTP responses.
package proxy
