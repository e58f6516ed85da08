package main

import (
    "encoding/json"
    "log/slog"
    "sync"
    "time"

    relay "github.com/SirGFM/go-relay-i-guess"
)

// Event broadcast by the echo client for every input.
const eventMsg = "msg"

// echoMessage is the payload of `msg`.
type echoMessage struct {
    Time int64 `json:"time"`
    Network int `json:"network"`
    Text string `json:"text"`
}

// echoClient is a stand-in for an upstream client: every input is sent back
// to all of the session's connections, and `conn` requests only add a
// network to the session's list.
type echoClient struct {
    session *relay.Session
    logger *slog.Logger

    lock sync.Mutex
    active int
    networks []string
}

// newEchoFactory create echo clients that log to `logger`.
func newEchoFactory(logger *slog.Logger) relay.ClientFactory {
    return func(s *relay.Session) relay.Client {
        return &echoClient {
            session: s,
            logger: logger,
            active: -1,
        }
    }
}

func (c *echoClient) Input(data json.RawMessage) {
    var in struct {
        Target int `json:"target"`
        Text string `json:"text"`
    }
    if json.Unmarshal(data, &in) != nil || len(in.Text) == 0 {
        return
    }

    err := c.session.Broadcast(eventMsg, &echoMessage {
        Time: time.Now().UnixMilli(),
        Network: in.Target,
        Text: in.Text,
    })
    if err != nil {
        c.logger.Debug("relay-server: Couldn't echo input",
                "session", c.session.ID(), "error", err)
    }
}

func (c *echoClient) More(data json.RawMessage) {}
func (c *echoClient) Sort(data json.RawMessage) {}
func (c *echoClient) Names(data json.RawMessage) {}

func (c *echoClient) Open(data json.RawMessage) {
    var in struct {
        Target int `json:"target"`
    }
    if json.Unmarshal(data, &in) != nil {
        return
    }

    c.lock.Lock()
    if in.Target >= 0 && in.Target < len(c.networks) {
        c.active = in.Target
    }
    c.lock.Unlock()
}

func (c *echoClient) Connect(req relay.ConnectRequest) {
    host, _ := req["host"].(string)
    if len(host) == 0 {
        return
    }

    c.lock.Lock()
    c.networks = append(c.networks, host)
    c.active = len(c.networks) - 1
    c.lock.Unlock()

    c.logger.Info("relay-server: Network added",
            "session", c.session.ID(), "host", host,
            "ip", req.IP(), "hostname", req.Hostname())
}

func (c *echoClient) Snapshot() relay.Snapshot {
    c.lock.Lock()
    defer c.lock.Unlock()

    return relay.Snapshot {
        Active: c.active,
        Networks: append([]string{}, c.networks...),
    }
}

func (c *echoClient) Quit() {
    c.logger.Debug("relay-server: Session quit", "session", c.session.ID())
}
