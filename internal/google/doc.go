// Package google provides OAuth2 credentials for the Google Calendar API.
//
// Tokens come from one of two TokenProviders. A serialized token in the
// GOOGLE_TOKEN_JSON environment variable takes precedence and is never written
// to disk. Otherwise the token is read from a local file (token.json by
// default), which the auth command creates and which is rewritten whenever
// the token is refreshed.
//
// CachingTokenSource holds the token for the whole process. Refreshes are
// serialized by a mutex, so concurrent requests never refresh twice.
package google
