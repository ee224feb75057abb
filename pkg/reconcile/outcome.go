package reconcile

import (
	"fmt"

	"github.com/paulschiretz/pgl-photosync/pkg/catalog"
)

// Kind is the final state of one remote item after a sync.
type Kind int

const (
	AlreadyCurrent Kind = iota
	Moved
	Downloaded
	Failed
)

var kindToString = map[Kind]string{
	AlreadyCurrent: "already_current",
	Moved:          "moved",
	Downloaded:     "downloaded",
	Failed:         "failed",
}

func (k Kind) String() string {
	if s, ok := kindToString[k]; ok {
		return s
	}
	return fmt.Sprintf("unknown_kind(%d)", k)
}

// Outcome records what happened to one remote item.
type Outcome struct {
	Kind Kind
	Item catalog.MediaItem
	// From is set for Moved.
	From string
	// To is the planned destination path.
	To string
	// Err is set for Failed.
	Err error
}

// Action is what the reconciler intends to do for an item.
type Action int

const (
	ActionNone Action = iota
	ActionMove
	ActionDownload
	ActionFail
)

var actionToString = map[Action]string{
	ActionNone:     "none",
	ActionMove:     "move",
	ActionDownload: "download",
	ActionFail:     "fail",
}

func (a Action) String() string {
	if s, ok := actionToString[a]; ok {
		return s
	}
	return fmt.Sprintf("unknown_action(%d)", a)
}

// Decision is the planned action for one item. It carries everything
// Apply needs, so it can be handed to another goroutine.
type Decision struct {
	Action Action
	Item   catalog.MediaItem
	From   string
	To     string
	// Err explains an ActionFail decision.
	Err error
}
