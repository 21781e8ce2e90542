package thread

// Composer models the message input box: draft accumulation, the Enter
// submit shortcut, and draft restoration after a failed send.
type Composer struct {
	draft     string
	multiline bool
}

// NewComposer returns a composer. With multiline enabled, Shift+Enter
// inserts a literal newline instead of submitting.
func NewComposer(multiline bool) *Composer {
	return &Composer{multiline: multiline}
}

// Input appends text to the draft.
func (c *Composer) Input(text string) {
	c.draft += text
}

// Draft returns the current draft.
func (c *Composer) Draft() string { return c.draft }

// Restore replaces the draft, used to put the original text back after a
// failed send.
func (c *Composer) Restore(text string) { c.draft = text }

// PressEnter handles the submit shortcut. Plain Enter submits and clears
// the draft; with multiline input, Shift+Enter inserts a newline and does
// not submit.
func (c *Composer) PressEnter(shift bool) (text string, submit bool) {
	if c.multiline && shift {
		c.draft += "\n"
		return "", false
	}
	text = c.draft
	c.draft = ""
	return text, true
}
