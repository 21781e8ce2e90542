package thread

import "time"

// Bubble is one displayed message. ShowAvatar is false for every message
// of a consecutive same-sender run except the first, so avatars collapse
// within a run.
type Bubble struct {
	Entry
	ShowAvatar bool
}

// Section is a date bucket of the thread: Today, Yesterday, or an absolute
// date, with messages in chronological order.
type Section struct {
	Label   string
	Date    time.Time
	Bubbles []Bubble
}

// BuildSections partitions entries into date buckets relative to now.
// Input order (ascending by creation time) is preserved inside each
// bucket. Avatar collapse runs reset at bucket boundaries.
func BuildSections(entries []Entry, now time.Time) []Section {
	var sections []Section
	today := dateOf(now)
	yesterday := today.AddDate(0, 0, -1)

	for _, e := range entries {
		day := dateOf(e.Message.CreatedAt.In(now.Location()))

		if len(sections) == 0 || !sections[len(sections)-1].Date.Equal(day) {
			var label string
			switch {
			case day.Equal(today):
				label = "Today"
			case day.Equal(yesterday):
				label = "Yesterday"
			default:
				label = day.Format("January 2, 2006")
			}
			sections = append(sections, Section{Label: label, Date: day})
		}

		sec := &sections[len(sections)-1]
		show := true
		if n := len(sec.Bubbles); n > 0 && sec.Bubbles[n-1].Message.SenderID == e.Message.SenderID {
			show = false
		}
		sec.Bubbles = append(sec.Bubbles, Bubble{Entry: e, ShowAvatar: show})
	}
	return sections
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
