// Package data provides the domain models and the MongoDB-backed stores
// for messages, investor/syndicator profiles and deal lookups.
package data

import "time"

// DealRef ties a message (and by extension a conversation) to a specific
// investment listing. Title and Slug are denormalized at send time so the
// inbox can render without a join; a missing Title marks a reference that
// still needs enrichment via DealsStore.Resolve.
type DealRef struct {
	ID    string `bson:"id" json:"id"`
	Title string `bson:"title,omitempty" json:"title,omitempty"`
	Slug  string `bson:"slug,omitempty" json:"slug,omitempty"`
}

// Message is a single direct message between two users.
//
// ID is server-assigned on persistence; optimistic entries created by the
// thread engine carry a temporary client-generated id until reconciliation.
// A message is never updated after insert except for the Read flag, which
// only ever moves false -> true.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	Read       bool      `json:"read"`
	Deal       *DealRef  `json:"deal,omitempty"`
}

// CorrespondentOf returns the other party of the message from the given
// viewer's perspective.
func (m Message) CorrespondentOf(viewerID string) string {
	if m.SenderID == viewerID {
		return m.ReceiverID
	}
	return m.SenderID
}

// Involves reports whether the message belongs to the one-to-one
// conversation between the two given users.
func (m Message) Involves(a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// Profile is the public identity of a marketplace user plus the fields the
// notification dispatcher needs (email address and opt-in preference).
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	Role        string `json:"role"` // "investor" or "syndicator"
	Email       string `json:"-"`
	EmailNotify bool   `json:"-"`
}

// Deal is the resolved form of a listing reference.
type Deal struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Slug  string `json:"slug"`
}
