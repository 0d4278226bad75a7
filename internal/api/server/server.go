package server

import (
	"net"
	"net/http"
	"time"

	"github.com/wb-go/wbf/ginext"
)

// New creates the HTTP server. There is no write timeout: artifact and archive
// responses are streamed and may legitimately run long.
func New(port string, router *ginext.Engine) *http.Server {
	return &http.Server{
		Addr:              net.JoinHostPort("", port),
		Handler:           router,
		ReadTimeout:       5 * time.Minute,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
