package convsocket

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// commandBuilder builds a command from the current session and time.
type commandBuilder func(sessionID string, now time.Time) *Command

// Send starts processing content in a conversation. It reports false when the
// connection is not open or the write failed.
func (c *Client) Send(conversationID int, content string) bool {
	return c.command(TypeInfo, false, func(sessionID string, now time.Time) *Command {
		return NewStartCommand(uuid.NewString(), conversationID, content, sessionID, now)
	})
}

// Pause pauses processing. It needs an open connection and a session.
func (c *Client) Pause(conversationID int) bool {
	return c.command(TypePause, true, func(sessionID string, now time.Time) *Command {
		return NewPauseCommand(uuid.NewString(), conversationID, sessionID, now)
	})
}

// Resume resumes processing, optionally with corrections for the paused work.
// It needs an open connection and a session.
func (c *Client) Resume(conversationID int, corrections string) bool {
	return c.command(TypeResume, true, func(sessionID string, now time.Time) *Command {
		return NewResumeCommand(uuid.NewString(), conversationID, corrections, sessionID, now)
	})
}

// Cancel cancels processing. It needs an open connection and a session.
func (c *Client) Cancel(conversationID int) bool {
	return c.command(TypeCancel, true, func(sessionID string, now time.Time) *Command {
		return NewCancelCommand(uuid.NewString(), conversationID, sessionID, now)
	})
}

func (c *Client) command(typ MessageType, needSession bool, build commandBuilder) bool {
	c.mu.Lock()
	if shared := c.shared; shared != nil {
		c.mu.Unlock()
		return shared.command(typ, needSession, build)
	}
	if c.state != StateOpen || c.transport == nil {
		state := c.state
		c.mu.Unlock()
		c.log.Debug("command rejected", zap.String("type", string(typ)), zap.Stringer("state", state))
		return false
	}
	if needSession && c.sessionID == "" {
		c.mu.Unlock()
		c.log.Debug("command rejected: no session", zap.String("type", string(typ)))
		return false
	}
	tr := c.transport
	cmd := build(c.sessionID, c.cfg.clock.Now())
	c.mu.Unlock()

	if fn := c.cfg.onSend; fn != nil {
		fn(cmd)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.writeTimeout)
	defer cancel()

	if err := tr.Send(ctx, cmd); err != nil {
		c.log.Warn("command write failed", zap.String("type", string(typ)), zap.Error(err))
		if fn := c.cfg.onSendError; fn != nil {
			fn(cmd, &SendError{Op: string(typ), Err: err})
		}
		return false
	}

	c.cfg.metrics.frameSent(c.kind, typ)
	return true
}
