// Package delivery sends queued advertisement units into a chat and records
// which ones were acknowledged.
package delivery

import (
	"context"
	"errors"
	"time"
)

// ErrConversationNotFound is terminal for a run: the target chat never appeared
var ErrConversationNotFound = errors.New("conversation not found")

// Outcome of one send attempt
type Outcome int

const (
	Rejected Outcome = iota
	Confirmed
)

func (o Outcome) String() string {
	if o == Confirmed {
		return "confirmed"
	}
	return "rejected"
}

// MessageTransport is the messaging client the loop drives.
// A send that is not positively acknowledged must come back as Rejected
// with any draft cleared.
type MessageTransport interface {
	Start(ctx context.Context) error
	LocateConversation(ctx context.Context, name string, timeout time.Duration) error
	SendMedia(ctx context.Context, caption, imagePath string) (Outcome, error)
	SendText(ctx context.Context, caption string) (Outcome, error)
	Close() error
}

// State of the delivery loop
type State int

const (
	Idle State = iota
	BrowserStarting
	GroupLocating
	Ready
	Sending
	StateConfirmed
	StateRejected
	Done
)

var stateNames = [...]string{"idle", "browser-starting", "group-locating", "ready", "sending", "confirmed", "rejected", "done"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}
