package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server with sane defaults for this project. The write
// timeout sits above the per-request handler timeout.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      45 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
