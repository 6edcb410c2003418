// Package httpapi exposes job submission and progress queries over HTTP.
//
// Routes are mounted on a chi router under /api. Every response uses the
// {status, message} envelope; successful reads add a payload field such as
// task or tasks. Progress queries consult the live registry first and fall
// back to the SQLite archive for tasks the registry has already evicted.
//
// When a bearer token is configured every route requires it.
package httpapi
