package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/sessionbridge/pkg/auth"
	"github.com/vango-dev/sessionbridge/pkg/guard"
	"github.com/vango-dev/sessionbridge/pkg/session"
)

// Page is one open page connected over the live channel. It owns the
// page's client-context session.
type Page struct {
	conn    *websocket.Conn
	sess    *session.Session
	handler *Handler
	logger  *slog.Logger

	// ctx lives as long as the page. Refreshes started by navigations run
	// on it, so a later navigation never cancels an earlier refresh.
	ctx    context.Context
	cancel context.CancelFunc

	out       chan Frame
	done      chan struct{}
	closeOnce sync.Once
	tasks     sync.WaitGroup
}

// Session returns the page's session.
func (p *Page) Session() *session.Session { return p.sess }

// ID returns the page session ID.
func (p *Page) ID() string { return p.sess.ID }

// Send queues a frame for the page. It returns false once the page is closed.
func (p *Page) Send(f Frame) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.out <- f:
		return true
	case <-p.done:
		return false
	}
}

// Close closes the connection and cancels the page context.
func (p *Page) Close() {
	p.closeOnce.Do(func() {
		p.cancel()
		close(p.done)
		p.conn.Close()
	})
}

func (p *Page) writeCookie(name, value string, maxAge time.Duration) {
	p.Send(cookieFrame(name, value, maxAge))
}

// propagate stores Set-Cookie lines under a claim ticket. The page claims it
// with a same-origin request, since a WebSocket cannot set cookies.
func (p *Page) propagate(setCookies []string) {
	store := p.handler.cfg.Store
	if store == nil {
		p.logger.Warn("set-cookie dropped: no snapshot store", "count", len(setCookies))
		return
	}
	ticket, err := session.SaveCookieTicket(context.WithoutCancel(p.ctx), store, setCookies, p.handler.cfg.TicketTTL)
	if err != nil {
		p.logger.Error("save cookie ticket failed", "error", err)
		return
	}
	p.Send(Frame{Type: FrameClaim, Ticket: ticket})
}

// mount refreshes once when the page lacks a token or a profile, then
// signals readiness.
func (p *Page) mount() {
	defer p.tasks.Done()
	defer p.recoverTask("mount")
	defer p.sess.MarkReady()

	if p.sess.Tokens.Get().AccessToken == "" || !p.sess.User.Present() {
		res := p.handler.auth.Refresh(p.ctx, p.sess, "")
		if res.Kind == auth.UpstreamFailure {
			p.logger.Info("mount refresh failed", "error", res.Err)
		}
	}
	p.sess.MarkReady()
	p.Send(Frame{Type: FrameReady, User: p.sess.User.Get()})
}

// navigate evaluates the guards for one client navigation once the mount
// task has finished.
func (p *Page) navigate(seq int64, target string) {
	defer p.tasks.Done()
	defer p.recoverTask("navigate")

	if err := p.sess.WaitReady(p.ctx); err != nil {
		return
	}
	before := p.sess.User.Get()
	guards := p.handler.cfg.Guards
	if p.handler.cfg.GuardsFor != nil {
		guards = p.handler.cfg.GuardsFor(target)
	}
	d := guard.EvaluateAll(p.ctx, guards, p.sess, target)
	if after := p.sess.User.Get(); after != before {
		p.Send(Frame{Type: FrameUser, User: after})
	}
	p.Send(Frame{Type: FrameDecision, Seq: seq, Action: d.Action.String(), Location: d.Location})
}

func (p *Page) refresh() {
	defer p.tasks.Done()
	defer p.recoverTask("refresh")

	if err := p.sess.WaitReady(p.ctx); err != nil {
		return
	}
	p.handler.auth.Refresh(p.ctx, p.sess, "")
	p.Send(Frame{Type: FrameUser, User: p.sess.User.Get()})
}

func (p *Page) logout() {
	defer p.tasks.Done()
	defer p.recoverTask("logout")

	if err := p.handler.auth.Logout(p.ctx, p.sess); err != nil {
		p.logger.Info("logout upstream error", "error", err)
	}
	p.Send(Frame{Type: FrameUser})
}

func (p *Page) recoverTask(name string) {
	if r := recover(); r != nil {
		p.logger.Error("page task panic", "task", name, "panic", r, "stack", string(debug.Stack()))
	}
}

func (p *Page) spawn(fn func()) {
	p.tasks.Add(1)
	go fn()
}

// readLoop reads frames until the connection closes.
func (p *Page) readLoop() {
	defer p.Close()

	cfg := p.handler.cfg
	p.conn.SetReadLimit(cfg.MaxMessageSize)
	p.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	})

	for {
		_, msg, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				p.logger.Error("read error", "error", err)
			}
			return
		}
		p.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))

		f, err := decodeFrame(msg)
		if err != nil {
			p.logger.Warn("frame decode error", "error", err)
			p.Send(Frame{Type: FrameError, Message: "invalid frame"})
			continue
		}

		switch f.Type {
		case FrameNavigate:
			seq, path := f.Seq, f.Path
			p.spawn(func() { p.navigate(seq, path) })
		case FrameRefresh:
			p.spawn(p.refresh)
		case FrameLogout:
			p.spawn(p.logout)
		default:
			p.logger.Warn("unknown frame type", "type", f.Type)
			p.Send(Frame{Type: FrameError, Message: "unknown frame type"})
		}
	}
}

// writeLoop owns every data write on the connection and sends heartbeats.
func (p *Page) writeLoop() {
	cfg := p.handler.cfg
	ticker := time.NewTicker(cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case f := <-p.out:
			data, err := json.Marshal(f)
			if err != nil {
				p.logger.Error("frame encode error", "type", f.Type, "error", err)
				continue
			}
			p.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				p.logger.Debug("write error", "error", err)
				p.Close()
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(cfg.WriteTimeout)
			if err := p.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				p.Close()
				return
			}

		case <-p.done:
			return
		}
	}
}
