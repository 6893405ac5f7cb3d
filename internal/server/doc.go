// Package server hosts the Fiber HTTP service and its middleware chain:
// panic recovery, request IDs, the plain-text error handler and the optional
// diagnostics endpoint. It also owns the shared outbound http.Client used for
// origin fetches. Cache semantics live in the proxy package, which plugs in
// through the ProxyHandler interface.
package server
