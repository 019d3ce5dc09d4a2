package convsocket

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/tomb.v2"
)

// run is the control loop for one connection lifetime. It serves the open
// socket, decides what to do when it closes, and redials within the retry
// budget. Every state change it makes is conditional on t still being the
// client's current loop, so a Disconnect at any point wins.
func (c *Client) run(t *tomb.Tomb, tr Transport, hb *heartbeat) error {
	for {
		err := c.serve(t, tr, hb)
		if !t.Alive() {
			return nil
		}
		if !c.closed(t, hb, err) {
			return nil
		}

		tr, hb = c.reconnect(t)
		if tr == nil {
			return nil
		}
	}
}

// serve pumps one socket until it closes, the heartbeat expires, or the loop
// is killed.
func (c *Client) serve(t *tomb.Tomb, tr Transport, hb *heartbeat) error {
	inbound := tr.Inbound()
	for {
		select {
		case <-t.Dying():
			return tomb.ErrDying

		case data, ok := <-inbound:
			if !ok {
				inbound = nil
				continue
			}
			c.receive(hb, data)

		case <-tr.Done():
			for {
				select {
				case data, ok := <-inbound:
					if !ok {
						return tr.Err()
					}
					c.receive(hb, data)
				default:
					return tr.Err()
				}
			}

		case <-hb.Ping():
			if hb.Active() {
				c.ping(tr)
			}

		case <-hb.Expired():
			if !hb.Active() {
				continue
			}
			c.log.Warn("heartbeat timeout, closing socket", zap.Time("last_pong", hb.LastPong()))
			c.cfg.metrics.heartbeatTimeout(c.kind)
			if err := tr.Close(StatusGoingAway, heartbeatTimeoutReason); err != nil {
				c.log.Debug("close after heartbeat timeout", zap.Error(err))
			}
			return ErrHeartbeatTimeout
		}
	}
}

// receive handles one inbound frame.
func (c *Client) receive(hb *heartbeat, data []byte) {
	msg, err := ParseMessage(data)
	if err != nil {
		c.log.Warn("dropping malformed frame", zap.Error(err), zap.Int("size", len(data)))
		return
	}
	c.cfg.metrics.frameReceived(c.kind, msg.Type)

	if msg.IsHeartbeat() {
		hb.Pong()
		return
	}

	if msg.SessionID != "" {
		c.mu.Lock()
		c.sessionID = msg.SessionID
		c.mu.Unlock()
	}

	c.log.Debug("received message",
		zap.String("type", string(msg.Type)),
		zap.String("id", msg.ID),
		zap.Int("conversation_id", msg.ConversationID),
	)

	if fn := c.cfg.onReceive; fn != nil {
		fn(msg)
	}
	c.dispatch(msg)
}

func (c *Client) ping(tr Transport) {
	cmd := NewPingCommand(uuid.NewString(), c.cfg.clock.Now())

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.writeTimeout)
	defer cancel()

	if err := tr.Send(ctx, cmd); err != nil {
		c.log.Warn("ping failed", zap.Error(err))
		return
	}
	c.cfg.metrics.frameSent(c.kind, TypePing)
}

// closed runs after the socket closed on its own and reports whether a
// reconnect should be scheduled.
func (c *Client) closed(t *tomb.Tomb, hb *heartbeat, err error) bool {
	hb.Stop()

	fields := []zap.Field{zap.Error(err)}
	var ce *CloseError
	if errors.As(err, &ce) {
		fields = append(fields, zap.Int("code", int(ce.Code)), zap.String("reason", ce.Reason))
	}
	c.log.Info("socket closed", fields...)

	c.mu.Lock()
	if c.loop != t {
		c.mu.Unlock()
		return false
	}
	c.transport = nil
	c.hb = nil
	c.setStateLocked(StateClosed)

	switch {
	case IsDuplicateRejection(err):
		c.cfg.registry.Unregister(c.kind, c)
		c.terminateLocked(ErrDuplicateConnection, duplicateMessage)
		c.unlock()
		return false

	case !owns(c.cfg.registry, c.kind, c):
		c.loop = nil
		c.unlock()
		c.log.Info("channel owned elsewhere, not reconnecting")
		return false

	case !c.autoReconnect:
		c.cfg.registry.Unregister(c.kind, c)
		c.loop = nil
		c.unlock()
		return false
	}

	c.unlock()
	return true
}

// reconnect waits out the backoff and redials until a socket opens, the
// budget runs out, or the loop is killed. A nil Transport means the loop
// should exit.
func (c *Client) reconnect(t *tomb.Tomb) (Transport, *heartbeat) {
	for {
		c.mu.Lock()
		if c.loop != t {
			c.mu.Unlock()
			return nil, nil
		}
		delay, ok := c.retry.Next()
		if !ok {
			attempts := c.retry.Attempt()
			c.cfg.registry.Unregister(c.kind, c)
			c.terminateLocked(
				fmt.Errorf("%w after %d attempts", ErrRetryBudgetExhausted, attempts),
				fmt.Sprintf("connection lost after %d reconnect attempts", attempts),
			)
			c.unlock()
			return nil, nil
		}
		attempt := c.retry.Attempt()
		timer := c.cfg.clock.NewTimer(delay)
		c.timer = timer
		c.setStateLocked(StateReconnecting)
		if fn := c.cfg.onReconnect; fn != nil {
			c.deferred = append(c.deferred, func() { fn(attempt, delay) })
		}
		c.unlock()

		c.cfg.metrics.reconnectAttempt(c.kind)
		c.log.Info("reconnect scheduled", zap.Int("attempt", attempt), zap.Duration("delay", delay))

		select {
		case <-t.Dying():
			timer.Stop()
			return nil, nil
		case <-timer.C():
		}

		c.mu.Lock()
		if c.loop != t {
			c.mu.Unlock()
			return nil, nil
		}
		c.timer = nil
		if !owns(c.cfg.registry, c.kind, c) {
			c.loop = nil
			c.setStateLocked(StateClosed)
			c.unlock()
			c.log.Info("channel owned elsewhere, abandoning reconnect")
			return nil, nil
		}
		c.mu.Unlock()

		token, err := c.reconnectToken(t.Context(nil))
		if err != nil {
			c.mu.Lock()
			if c.loop != t {
				c.mu.Unlock()
				return nil, nil
			}
			c.cfg.registry.Unregister(c.kind, c)
			c.terminateLocked(err, reauthenticateMessage)
			c.unlock()
			return nil, nil
		}

		c.mu.Lock()
		if c.loop != t {
			c.mu.Unlock()
			return nil, nil
		}
		c.setStateLocked(StateConnecting)
		c.unlock()

		tr, err := c.cfg.dialer.Dial(t.Context(nil), c.url(token))

		c.mu.Lock()
		if c.loop != t {
			c.mu.Unlock()
			if tr != nil {
				tr.Close(StatusNormalClosure, disconnectReason)
			}
			return nil, nil
		}
		if err != nil {
			c.setStateLocked(StateClosed)
			c.unlock()
			c.cfg.metrics.connect(c.kind, err)
			c.log.Warn("reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		hb := c.openLocked(tr)
		c.unlock()

		c.cfg.metrics.connect(c.kind, nil)
		c.log.Info("reconnected", zap.Int("attempt", attempt))
		return tr, hb
	}
}
