package go_relay_i_guess

import (
    "log/slog"
    "sync"
    "sync/atomic"
)

// group broadcasts events to every connection bound to a session.
//
// Its members are exactly the session's bound connections. Each group runs
// its own goroutine, so a slow connection never blocks whoever originated
// the event.
type group struct {
    // name of this group, the identifier of its session.
    name string

    // recv queues encoded events waiting to be broadcast.
    recv chan string

    // Connections currently in the group.
    members map[*connection]struct{}

    // lock fields that could be accessed concurrently.
    lockMembers sync.Mutex

    // Whether the group is currently running.
    running uint32

    // stop signals, by getting closed, that the group should get closed.
    stop chan struct{}

    logger *slog.Logger
}

// isClosed check if the group is closed.
func (g *group) isClosed() bool {
    return atomic.LoadUint32(&g.running) == 0
}

// join add `c` to the group. Fails with `SessionClosed` if the group was
// already closed.
func (g *group) join(c *connection) error {
    g.lockMembers.Lock()
    defer g.lockMembers.Unlock()

    if g.isClosed() {
        return SessionClosed
    }
    g.members[c] = struct{}{}

    return nil
}

// leave remove `c` from the group, reporting whether it was a member.
func (g *group) leave(c *connection) bool {
    g.lockMembers.Lock()
    _, ok := g.members[c]
    delete(g.members, c)
    g.lockMembers.Unlock()

    return ok
}

// has check whether `c` is a member of the group.
func (g *group) has(c *connection) bool {
    g.lockMembers.Lock()
    _, ok := g.members[c]
    g.lockMembers.Unlock()

    return ok
}

// size retrieve the number of members.
func (g *group) size() int {
    g.lockMembers.Lock()
    defer g.lockMembers.Unlock()

    return len(g.members)
}

// broadcast queue `msg` to be sent to every member.
func (g *group) broadcast(msg string) error {
    if g.isClosed() {
        return SessionClosed
    }

    select {
    case g.recv <- msg:
        return nil
    case <-g.stop:
        return SessionClosed
    }
}

// run the group, forwarding every queued message to every member.
func (g *group) run() {
    for {
        select {
        case <-g.stop:
            return
        case msg := <-g.recv:
            g.handleMessage(msg)
        }
    }
}

// handleMessage send `msg` to every member.
func (g *group) handleMessage(msg string) {
    g.lockMembers.Lock()
    for c := range g.members {
        g.messageMemberUnsafe(c, msg)
    }
    g.lockMembers.Unlock()
}

// messageMemberUnsafe send `msg` to the member `c`.
//
// If the write fails, the member's transport gets closed. Its connection
// then leaves the group through the regular disconnect path, so the
// members container must have been properly synchronized before calling
// this.
func (g *group) messageMemberUnsafe(c *connection, msg string) {
    err := c.conn.SendStr(msg)
    if err == nil {
        return
    }

    if err == ConnEOF {
        g.logger.Debug("go_relay_i_guess/group: Connection to member was closed",
                "session", g.name, "conn", c.id)
    } else {
        g.logger.Error("go_relay_i_guess/group: Couldn't send a message to the member",
                "session", g.name, "conn", c.id, "error", err)
    }

    c.conn.Close()
}

// Close the group and stop its goroutine.
//
// This can safely be called multiple times.
func (g *group) Close() error {
    g.shutdown()
    return nil
}

// shutdown close the group, reporting whether this call was the one that
// closed it.
func (g *group) shutdown() bool {
    if !atomic.CompareAndSwapUint32(&g.running, 1, 0) {
        return false
    }

    g.logger.Debug("go_relay_i_guess/group: Closing group...",
            "session", g.name)

    g.lockMembers.Lock()
    close(g.stop)
    g.members = make(map[*connection]struct{})
    g.lockMembers.Unlock()

    return true
}

// newGroup create a new group named `name` and start its goroutine. To
// stop the goroutine, call `g.Close()`.
func newGroup(name string, logger *slog.Logger) *group {
    g := &group {
        name: name,
        recv: make(chan string, 8),
        members: make(map[*connection]struct{}),
        running: 1,
        stop: make(chan struct{}),
        logger: logger,
    }

    go g.run()

    return g
}
