// Package httputil holds the JSON response and request helpers shared by
// the admin API handlers. Handlers write through these instead of touching
// http.ResponseWriter directly so every endpoint returns the same envelope.
package httputil
