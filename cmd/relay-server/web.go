package main

import (
    "context"
    "log/slog"
    "net/http"
    "net/url"
    "path"
    "strings"

    relay "github.com/SirGFM/go-relay-i-guess"
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promhttp"
)

type server struct {
    // The server's HTTP server
    httpServer *http.Server
    // The relay server
    relay relay.RelayServer
    // newConn upgrades requests to the relay endpoint.
    newConn connFactory
    // metrics exposes the registry, if enabled.
    metrics http.Handler
    // metricsPath is the cleaned URL of `metrics`.
    metricsPath string

    logger *slog.Logger
}

// ServeHTTP is called by Go's http package whenever a new HTTP request arrives
func (s *server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
    uri := cleanURL(req.URL)
    s.logger.Debug("relay-server: Request", "addr", req.RemoteAddr,
            "method", req.Method, "uri", uri)

    switch {
    case uri == "relay":
        s.serveRelay(w, req)
    case s.metrics != nil && uri == s.metricsPath:
        s.metrics.ServeHTTP(w, req)
    default:
        httpTextReply(http.StatusNotFound, "404 - Nothing to see here...", w, s.logger)
    }
}

// serveRelay upgrade the request and hand it to the relay server.
func (s *server) serveRelay(w http.ResponseWriter, req *http.Request) {
    conn, err := s.newConn(w, req)
    if err != nil {
        // The upgrader already replied to the client.
        s.logger.Warn("relay-server: Couldn't upgrade the connection",
                "addr", req.RemoteAddr, "error", err)
        return
    }

    // On success, the upgraded request will be handled by the relay server
    err = s.relay.ConnectAndWait(conn)
    if err != nil {
        // Can't do HTTP anymore as the connection was upgraded to a websocket
        conn.Close()
        s.logger.Warn("relay-server: Couldn't hand the connection to the relay",
                "addr", req.RemoteAddr, "error", err)
    }
}

// cleanURL so everything is properly escaped/encoded and so it may be split into each of its components.
func cleanURL(uri *url.URL) string {
    // Normalize and strip the URL from its leading prefix (and slash)
    resUrl := path.Clean(uri.EscapedPath())
    if len(resUrl) > 0 && resUrl[0] == '/' {
        resUrl = resUrl[1:]
    } else if len(resUrl) == 1 && resUrl[0] == '.' {
        // Clean converts an empty path into a single "."
        resUrl = ""
    }

    return resUrl
}

// httpTextReply send a simple HTTP response as a plain text.
func httpTextReply(status int, msg string, w http.ResponseWriter, logger *slog.Logger) {
    w.Header().Set("Content-Type", "text/plain")
    w.WriteHeader(status)

    for data := []byte(msg); len(data) > 0; {
        n, err := w.Write(data)
        if err != nil {
            logger.Debug("relay-server: Failed to reply", "status", status,
                    "error", err)
            return
        }
        data = data[n:]
    }
}

// Shutdown the running web server and the relay, in that order.
func (s *server) Shutdown(ctx context.Context) error {
    err := s.httpServer.Shutdown(ctx)
    s.relay.Close()
    return err
}

// newServer create the HTTP front-end of `rs`. `reg` may be nil, in which
// case no metrics are served.
func newServer(cfg *Config, rs relay.RelayServer, reg *prometheus.Registry,
        logger *slog.Logger) *server {
    srv := &server {
        relay: rs,
        newConn: newConnFactory(cfg, logger),
        logger: logger,
    }
    if reg != nil {
        srv.metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
        srv.metricsPath = strings.TrimPrefix(path.Clean(cfg.Metrics.Path), "/")
    }
    srv.httpServer = &http.Server {
        Addr: cfg.Addr(),
        Handler: srv,
    }

    return srv
}
