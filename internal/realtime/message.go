// Package realtime carries sensor samples and session events over
// WebSockets: one socket per visitor, plus a monitor room that fans every
// session event out to curator dashboards.
package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/rheeghang/docent/internal/session"
	"github.com/rheeghang/docent/model"
)

// Inbound message types sent by visitor clients.
const (
	MsgOrientation = "orientation"
	MsgMotion      = "motion"
	MsgNavigate    = "navigate"
	MsgPermissions = "permissions"
	MsgLanguage    = "language"
	MsgCloseMenu   = "close_menu"
)

// Outbound message types.
const (
	MsgUpdate  = "update"
	MsgEvent   = "event"
	MsgError   = "error"
	MsgSession = "session"
)

// Inbound is a client → server message.
type Inbound struct {
	Type        string                   `json:"type"`
	Orientation *model.OrientationSample `json:"orientation,omitempty"`
	Motion      *model.MotionSample      `json:"motion,omitempty"`
	PageID      string                   `json:"pageId,omitempty"`
	Permissions *model.Permissions       `json:"permissions,omitempty"`
	Language    string                   `json:"language,omitempty"`
}

// Outbound is a server → client message.
type Outbound struct {
	Type    string            `json:"type"`
	Update  *session.Update   `json:"update,omitempty"`
	Event   *session.Event    `json:"event,omitempty"`
	Session *session.Snapshot `json:"session,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// DecodeInbound parses and validates a client message.
func DecodeInbound(raw []byte) (Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", session.ErrInvalidSample, err)
	}
	switch msg.Type {
	case MsgOrientation:
		if msg.Orientation == nil {
			return Inbound{}, fmt.Errorf("%w: orientation payload missing", session.ErrInvalidSample)
		}
	case MsgMotion:
		if msg.Motion == nil {
			return Inbound{}, fmt.Errorf("%w: motion payload missing", session.ErrInvalidSample)
		}
	case MsgNavigate:
		if msg.PageID == "" {
			return Inbound{}, fmt.Errorf("%w: navigate without pageId", session.ErrInvalidSample)
		}
	case MsgPermissions:
		if msg.Permissions == nil {
			return Inbound{}, fmt.Errorf("%w: permissions payload missing", session.ErrInvalidSample)
		}
	case MsgLanguage, MsgCloseMenu:
	default:
		return Inbound{}, fmt.Errorf("%w: unknown message type %q", session.ErrInvalidSample, msg.Type)
	}
	return msg, nil
}
