// Package intercept holds the process-wide URL interception slot. A Registry
// maps URL schemes to a Factory that decorates the real transport; hosts build
// their HTTP clients on Registry.Transport so every http/https load created
// afterwards flows through whichever interceptor owns the scheme. Only one
// owner per scheme is allowed: a competing Register fails with
// ErrDuplicateHook.
package intercept
