// internal/browser/proxyrelay.go
package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/elazarl/goproxy"
	"github.com/xkilldash9x/unflare/api/schemas"
	"go.uber.org/zap"
)

// ProxyRelay is a local forward proxy that bridges the browser to an
// authenticated upstream proxy. Chrome only accepts host:port on
// --proxy-server, so credentials are injected here: plain HTTP requests get
// a Proxy-Authorization header through the transport, CONNECT tunnels get it
// on the CONNECT request itself.
type ProxyRelay struct {
	server   *http.Server
	listener net.Listener
	logger   *zap.Logger
}

// StartProxyRelay launches a relay on a random loopback port, forwarding all
// traffic to the given upstream proxy.
func StartProxyRelay(upstream *schemas.Proxy, logger *zap.Logger) (*ProxyRelay, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("proxy_relay")

	upstreamURL := &url.URL{
		Scheme: "http",
		Host:   upstream.Address(),
		User:   url.UserPassword(upstream.Username, upstream.Password),
	}

	proxy := goproxy.NewProxyHttpServer()
	proxy.Tr = &http.Transport{
		// ProxyURL carries the credentials, so the transport injects
		// Proxy-Authorization on plain HTTP requests itself.
		Proxy:               http.ProxyURL(upstreamURL),
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	auth := basicProxyAuth(upstream.Username, upstream.Password)
	proxy.ConnectDial = proxy.NewConnectDialToProxyWithHandler(
		(&url.URL{Scheme: "http", Host: upstream.Address()}).String(),
		func(req *http.Request) {
			req.Header.Set("Proxy-Authorization", auth)
		},
	)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen for proxy relay: %w", err)
	}

	relay := &ProxyRelay{
		server:   &http.Server{Handler: proxy},
		listener: listener,
		logger:   log,
	}

	go func() {
		if err := relay.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("Proxy relay serve failed.", zap.Error(err))
		}
	}()

	log.Info("Proxy relay started.",
		zap.String("listen", relay.Addr()),
		zap.String("upstream", upstream.Address()),
	)
	return relay, nil
}

// Addr returns the host:port the browser should use as its proxy server.
func (r *ProxyRelay) Addr() string {
	return r.listener.Addr().String()
}

// Close shuts the relay down, dropping any in-flight tunnels after a grace
// period.
func (r *ProxyRelay) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.server.Shutdown(ctx)
}

func basicProxyAuth(username, password string) string {
	creds := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	return "Basic " + creds
}
