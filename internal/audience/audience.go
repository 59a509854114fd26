// Package audience decides which chats receive a post.
package audience

import "fmt"

// Mode selects how the member list is interpreted.
type Mode string

const (
	// ModeWhitelist posts only to listed chats.
	ModeWhitelist Mode = "whitelist"
	// ModeBlacklist posts to every known chat except listed ones.
	ModeBlacklist Mode = "blacklist"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeWhitelist, ModeBlacklist:
		return Mode(s), nil
	case "":
		return ModeWhitelist, nil
	default:
		return "", fmt.Errorf("audience: unknown mode %q", s)
	}
}

// Resolver filters candidate chats by mode and member list. It holds no
// state beyond its configuration and never touches the network.
type Resolver struct {
	mode    Mode
	members map[int64]bool
}

func NewResolver(mode Mode, members []int64) *Resolver {
	set := make(map[int64]bool, len(members))
	for _, id := range members {
		set[id] = true
	}
	return &Resolver{mode: mode, members: set}
}

// Eligible returns the candidates that should receive a post, in their
// original order. An empty result is a valid outcome, not an error.
func (r *Resolver) Eligible(candidates []int64) []int64 {
	out := make([]int64, 0, len(candidates))
	for _, id := range candidates {
		if r.allows(id) {
			out = append(out, id)
		}
	}
	return out
}

func (r *Resolver) allows(id int64) bool {
	if r.mode == ModeBlacklist {
		return !r.members[id]
	}
	return r.members[id]
}
