// Package buffer provides a generic bounded ring buffer with a choice of
// overflow policy. The processing buffer uses it with Block so a full
// downstream holds ingestion back instead of losing messages.
package buffer

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest item to make room.
	DropOldest OverflowPolicy = iota
	// DropNewest discards the incoming item.
	DropNewest
	// Block makes Write wait for space.
	Block
)

func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case DropNewest:
		return "drop_newest"
	case Block:
		return "block"
	default:
		return "unknown"
	}
}

// ParsePolicy maps a config string to a policy. Unknown strings select Block.
func ParsePolicy(s string) OverflowPolicy {
	switch s {
	case "drop_oldest":
		return DropOldest
	case "drop_newest":
		return DropNewest
	default:
		return Block
	}
}
