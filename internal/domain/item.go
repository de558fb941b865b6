package domain

// NodeHandle is a non-owning reference to the host node rendering an item.
// Hosts recreate nodes freely, so callers must re-check Attached and ItemID
// before trusting it.
type NodeHandle interface {
	Attached() bool
	ItemID() string
}

// ContentItem is one entry produced by a platform scan.
type ContentItem struct {
	ID           string
	Platform     string
	Group        string
	RawFields    map[string]string
	Visible      bool
	Interstitial bool
	Handle       NodeHandle
}

// Live reports whether the handle still points at a node rendering this item.
func (c ContentItem) Live() bool {
	if c.Handle == nil {
		return false
	}
	return c.Handle.Attached() && c.Handle.ItemID() == c.ID
}

// SourceGroup names the feed section the item was scanned from.
func (c ContentItem) SourceGroup() string {
	if c.Group != "" {
		return c.Group
	}
	return c.Platform
}

// SerializedItem is the transferable form of a ContentItem sent to scorers.
type SerializedItem struct {
	ID       string            `json:"id"`
	Platform string            `json:"platform"`
	Group    string            `json:"group,omitempty"`
	Position int               `json:"position"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// Serialize strips the node handle and copies the raw fields.
func (c ContentItem) Serialize(position int) SerializedItem {
	fields := make(map[string]string, len(c.RawFields))
	for k, v := range c.RawFields {
		fields[k] = v
	}
	return SerializedItem{
		ID:       c.ID,
		Platform: c.Platform,
		Group:    c.Group,
		Position: position,
		Fields:   fields,
	}
}

// ItemState enumerates the per-item intervention lifecycle.
type ItemState string

const (
	StateUnseen   ItemState = "unseen"
	StatePending  ItemState = "pending"
	StateBlurred  ItemState = "blurred"
	StateClear    ItemState = "clear"
	StateRevealed ItemState = "revealed"
)

// Processed reports whether the item already holds an authoritative score.
func (s ItemState) Processed() bool {
	switch s {
	case StateBlurred, StateClear, StateRevealed:
		return true
	default:
		return false
	}
}
