package commit

import (
	"strconv"

	"agoranet/core/types"
)

const (
	EventTypeCommitting = "commit.encrypting"
	EventTypeCommitted  = "commit.encrypted"
	EventTypeVerified   = "commit.verified"
)

// Committing is emitted immediately before a payload is sealed.
type Committing struct {
	Layer Layer
	Bytes int
}

func (Committing) EventType() string { return EventTypeCommitting }

func (e Committing) Event() *types.Event {
	return &types.Event{
		Type: EventTypeCommitting,
		Attributes: map[string]string{
			"layer": string(e.Layer),
			"bytes": strconv.Itoa(e.Bytes),
		},
	}
}

// Committed is emitted once the primitive acknowledged the payload.
type Committed struct {
	Layer     Layer
	Reference string
}

func (Committed) EventType() string { return EventTypeCommitted }

func (e Committed) Event() *types.Event {
	return &types.Event{
		Type: EventTypeCommitted,
		Attributes: map[string]string{
			"layer":     string(e.Layer),
			"reference": e.Reference,
		},
	}
}

// Verified is emitted after decrypt-and-verify resolves for a reference.
type Verified struct {
	Reference string
	Match     bool
}

func (Verified) EventType() string { return EventTypeVerified }

func (e Verified) Event() *types.Event {
	return &types.Event{
		Type: EventTypeVerified,
		Attributes: map[string]string{
			"reference": e.Reference,
			"verified":  strconv.FormatBool(e.Match),
		},
	}
}
