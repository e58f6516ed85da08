/*
Package go_relay_i_guess implements the session side of a multi-user chat
relay: it takes anonymous connections, decides which user session each one
belongs to and routes events between them.

The relay is divided into a few components:

 - `RelayServer`: The interface for the actual server
 - `Session`: A user's session, shared by every device connected as that
   user
 - `Conn`: A connection to the remote client
 - `SessionProvisioner`: The policy deciding which session a connection is
   bound to

The first step is to instantiate the server through `NewServerConf`:

    conf := go_relay_i_guess.GetDefaultServerConf()
    conf.Users = go_relay_i_guess.NewFileUserStore("/path/to/users")
    conf.NewClient = newIRCClient
    // Modify 'conf' as desired
    server, err := go_relay_i_guess.NewServerConf(conf)
    if err != nil {
        // Handle the error
    }

The server runs in one of two modes. In open-access mode
(`conf.OpenAccess`), every connection is immediately given a brand new
session, which gets destroyed as soon as the connection goes away. In
restricted-access mode, the default, a session is created for every user in
`conf.Users` when the server starts, and connections must authenticate to
be bound to one of those. Authentication tries, in order, a stored-session
reference presented by the transport (resolved through `conf.Store`), a
bearer token and a username and password. Many connections may be bound to
the same session at once.

Each session owns a `Client`, supplied by `conf.NewClient`, holding its
domain state. Once a connection is bound, the events it sends (`input`,
`more`, `conn`, `open`, `sort`, `names` and, in restricted mode,
`change-password`) are forwarded to that client. `Session.Broadcast` sends
an event to every connection bound to a session.

Connections are handed to the server by calling either `Connect`, which
spawns a goroutine to wait for messages from the remote client, or
`ConnectAndWait`, which blocks until the `Conn` gets closed:

    var conn Conn
    err := server.Connect(conn)
    if err != nil {
        // Handle the error
    }

Packages `gorilla-ws-conn` and `gobwas-ws-conn` implement `Conn` over
WebSockets. Messages are JSON text frames in the form
`{"event": "name", "data": {...}}`.

If `conf.EnrichmentRequired` is set, the hostname of the client's address
is resolved before binding a connection to a session that doesn't have one,
and attached to every upstream link the session opens.
*/
package go_relay_i_guess
