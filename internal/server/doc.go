// Package server hosts the Fiber tile gateway: a request-ID middleware, the
// /fetch endpoint that loads tiles through the intercepted upstream client,
// and the /-/cache admin surface that drives the cache at runtime.
// Keep exports narrow and accept explicit dependencies; the CLI in the
// repository root is the only composer of these pieces.
package server
