// Package server builds the HTTP server hosting the scheduler API.
package server

import (
	"net/http"

	"github.com/wb-go/wbf/ginext"
)

// New wraps the router in an http.Server bound to addr. Lifecycle (serving,
// graceful shutdown) stays with the caller.
func New(addr string, router *ginext.Engine) *http.Server {
	return &http.Server{
		Addr:    addr,
		Handler: router,
	}
}
