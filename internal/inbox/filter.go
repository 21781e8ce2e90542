package inbox

import "strings"

// FilterMode selects which conversations a filter keeps, combined with the
// name query.
type FilterMode int

const (
	// FilterAll keeps every conversation.
	FilterAll FilterMode = iota
	// FilterUnread keeps conversations with unread messages.
	FilterUnread
	// FilterRole keeps conversations whose correspondent has the given role.
	FilterRole
)

// Filter applies pure client-side predicates to the current snapshot: a
// case-insensitive substring match on display name combined with one of
// all / unread-only / by-role. It never touches the store.
func (e *Engine) Filter(query string, mode FilterMode, role string) []Conversation {
	query = strings.ToLower(strings.TrimSpace(query))

	var out []Conversation
	for _, c := range e.Snapshot() {
		if query != "" && !strings.Contains(strings.ToLower(c.DisplayName), query) {
			continue
		}
		switch mode {
		case FilterUnread:
			if c.Unread == 0 {
				continue
			}
		case FilterRole:
			if !strings.EqualFold(c.Role, role) {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}
