// Package cache implements the on-disk tile cache that sits behind the
// process-wide interception hook. Every cached URL maps to two files under the
// cache directory: the response body at <key> and a JSON sidecar at
// <key>.dataInfo describing content type, encoding and headers. Live fetches
// are teed into a temp file and only committed (rename + sidecar) after a
// complete 200 response, so a crash mid-fetch never leaves a committed entry.
// Cache is an explicit context object; hosts build one, configure it and
// register it with an intercept.Registry at startup.
package cache
