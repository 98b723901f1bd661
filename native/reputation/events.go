package reputation

import (
	"strconv"
	"strings"

	"agoranet/core/types"
)

const (
	// EventTypeDeltaSubmitted is emitted after a delta reached the
	// reputation service.
	EventTypeDeltaSubmitted = "reputation.delta.submitted"
)

// NewDeltaSubmittedEvent returns the canonical event payload for a submitted
// reputation delta.
func NewDeltaSubmittedEvent(d *Delta) *types.Event {
	attrs := make(map[string]string)
	if d != nil {
		attrs["handle"] = strconv.FormatUint(d.Handle, 10)
		attrs["value"] = strconv.FormatInt(d.Value, 10)
		if len(d.Tags) > 0 {
			attrs["tags"] = strings.Join(d.Tags, ",")
		}
	}
	return &types.Event{Type: EventTypeDeltaSubmitted, Attributes: attrs}
}
