package live

import (
	"encoding/json"
	"time"

	"github.com/vango-dev/sessionbridge/pkg/auth"
)

// Frame types sent by the page.
const (
	FrameNavigate = "navigate"
	FrameRefresh  = "refresh"
	FrameLogout   = "logout"
)

// Frame types sent to the page.
const (
	FrameReady    = "ready"
	FrameDecision = "decision"
	FrameCookie   = "cookie"
	FrameClaim    = "claim"
	FrameUser     = "user"
	FrameError    = "error"
)

// Frame is one JSON text message on the live channel. Only the fields that
// belong to Type are set.
type Frame struct {
	Type string `json:"type"`

	// navigate, decision
	Seq  int64  `json:"seq,omitempty"`
	Path string `json:"path,omitempty"`

	// decision
	Action   string `json:"action,omitempty"`
	Location string `json:"location,omitempty"`

	// ready, user
	User *auth.Profile `json:"user,omitempty"`

	// cookie
	Name   string `json:"name,omitempty"`
	Value  string `json:"value,omitempty"`
	MaxAge int    `json:"max_age,omitempty"`

	// claim
	Ticket string `json:"ticket,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

func decodeFrame(msg []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(msg, &f)
	return f, err
}

func cookieFrame(name, value string, maxAge time.Duration) Frame {
	f := Frame{Type: FrameCookie, Name: name, Value: value}
	switch {
	case maxAge < 0:
		f.MaxAge = -1
	case maxAge > 0:
		f.MaxAge = int(maxAge / time.Second)
	}
	return f
}
