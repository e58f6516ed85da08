package go_relay_i_guess

import (
    "encoding/json"
)

// Replies to `change-password`.
const (
    MsgEmptyPassword = "Please enter a new password"
    MsgPasswordMismatch = "Both new password fields must match"
    MsgWrongPassword = "The current password field does not match your account password"
    MsgPasswordUpdated = "Successfully updated your password, all your other sessions were logged out"
    MsgPasswordFailed = "Failed to update your password"
)

// handlerFunc handles the payload of a single inbound event.
type handlerFunc func(data json.RawMessage)

// newHandlers build the handler table of a connection bound to `s`.
//
// Handlers forward straight to the session: being bound is the only
// authentication they require.
func (c *connection) newHandlers(s *Session) map[string]handlerFunc {
    client := s.Client()

    handlers := map[string]handlerFunc {
        EventInput: client.Input,
        EventMore: client.More,
        EventOpen: client.Open,
        EventSort: client.Sort,
        EventNames: client.Names,
        EventConn: func(data json.RawMessage) {
            c.connect(s, data)
        },
    }
    if c.server.provisioner.RequiresCredentials() {
        handlers[EventChangePassword] = func(data json.RawMessage) {
            c.changePassword(s, data)
        }
    }

    return handlers
}

// connect ask `s` to open a new upstream link.
//
// The origin of the link is always the session's own network identity,
// whatever the client sent.
func (c *connection) connect(s *Session, data json.RawMessage) {
    var req ConnectRequest
    if len(data) > 0 {
        err := json.Unmarshal(data, &req)
        if err != nil {
            c.logger.Debug("go_relay_i_guess/router: Ignoring malformed conn request",
                    "conn", c.id, "error", err)
            return
        }
    }
    if req == nil {
        req = ConnectRequest{}
    }

    ip, hostname := s.NetworkIdentity()
    req["ip"] = nullable(ip)
    req["hostname"] = nullable(hostname)

    s.Client().Connect(req)
}

// changePassword validate and apply a password change for `s`, replying
// only to this connection.
func (c *connection) changePassword(s *Session, data json.RawMessage) {
    var req changePasswordRequest
    if len(data) > 0 && json.Unmarshal(data, &req) != nil {
        req = changePasswordRequest{}
    }

    reply := func(r *changePasswordReply) {
        c.send(EventChangePassword, r)
    }

    hasher := c.server.conf.Hasher
    newPassword, msg := validatePasswordChange(s, hasher, &req)
    if len(msg) > 0 {
        c.logger.Debug("go_relay_i_guess/router: Rejected password change",
                "conn", c.id, "session", s.ID(), "error", ValidationFailed,
                "reason", msg)
        reply(&changePasswordReply{Error: msg})
        return
    }

    hash, err := hasher.Hash(newPassword)
    if err != nil {
        c.logger.Error("go_relay_i_guess/router: Couldn't hash the new password",
                "conn", c.id, "session", s.ID(), "error", err)
        reply(&changePasswordReply{Error: MsgPasswordFailed})
        return
    }

    token, err := s.SetPassword(hash)
    if err != nil {
        c.logger.Error("go_relay_i_guess/router: Couldn't update the password",
                "conn", c.id, "session", s.ID(), "error", err)
        reply(&changePasswordReply{Error: MsgPasswordFailed})
        return
    }

    c.logger.Info("go_relay_i_guess/router: Password updated",
            "conn", c.id, "session", s.ID(), "user", s.User())
    reply(&changePasswordReply {
        Success: MsgPasswordUpdated,
        Token: token,
    })
}

// validatePasswordChange run, in order, the checks of a password change,
// returning the new password or the message of the first failed check.
func validatePasswordChange(s *Session, hasher PasswordHasher,
        req *changePasswordRequest) (string, string) {
    if req.NewPassword == nil || len(*req.NewPassword) == 0 {
        return "", MsgEmptyPassword
    }
    newPassword := *req.NewPassword

    if req.VerifyPassword == nil || *req.VerifyPassword != newPassword {
        return "", MsgPasswordMismatch
    }

    var oldPassword string
    if req.OldPassword != nil {
        oldPassword = *req.OldPassword
    }
    if !s.verifyPassword(hasher, oldPassword) {
        return "", MsgWrongPassword
    }

    return newPassword, ""
}

// nullable convert empty strings into JSON nulls.
func nullable(s string) interface{} {
    if len(s) == 0 {
        return nil
    }
    return s
}
