package rpc

import (
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// NewServer returns an HTTP server that speaks cleartext HTTP/2, so gRPC
// clients can connect without TLS
func NewServer(addr string, service *ReceiptParsingService) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h2c.NewHandler(service.Handler(), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
