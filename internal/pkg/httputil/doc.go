// Package httputil holds the JSON response helpers shared by the public
// HTTP handlers.
package httputil
