package data

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// messageDoc is the MongoDB representation of a Message. The domain model
// uses plain string ids (optimistic entries have client-generated ones), so
// the store converts between hex ObjectIDs and strings at the boundary.
type messageDoc struct {
	ID         bson.ObjectID `bson:"_id,omitempty"`
	SenderID   string        `bson:"sender_id"`
	ReceiverID string        `bson:"receiver_id"`
	Content    string        `bson:"content"`
	CreatedAt  time.Time     `bson:"created_at"`
	Read       bool          `bson:"read"`
	Deal       *DealRef      `bson:"deal,omitempty"`
}

func (d messageDoc) toMessage() Message {
	return Message{
		ID:         d.ID.Hex(),
		SenderID:   d.SenderID,
		ReceiverID: d.ReceiverID,
		Content:    d.Content,
		CreatedAt:  d.CreatedAt,
		Read:       d.Read,
		Deal:       d.Deal,
	}
}

// MessagesStore provides message persistence on MongoDB.
type MessagesStore struct {
	coll *mongo.Collection
}

// NewMessagesStore returns a MessagesStore using the given collection.
func NewMessagesStore(coll *mongo.Collection) *MessagesStore {
	return &MessagesStore{coll: coll}
}

// Persist inserts a message and returns the canonical record. The server
// assigns the id and the creation timestamp; the read flag always starts
// false. The optimistic client id on msg is ignored.
func (s *MessagesStore) Persist(ctx context.Context, msg Message) (Message, error) {
	doc := messageDoc{
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Content:    msg.Content,
		CreatedAt:  time.Now().UTC(),
		Read:       false,
		Deal:       msg.Deal,
	}

	result, err := s.coll.InsertOne(ctx, doc)
	if err != nil {
		return Message{}, err
	}
	doc.ID = result.InsertedID.(bson.ObjectID)
	return doc.toMessage(), nil
}

// History returns the full conversation between two users ordered oldest
// to newest.
func (s *MessagesStore) History(ctx context.Context, viewerID, correspondentID string) ([]Message, error) {
	filter := bson.M{
		"$or": bson.A{
			bson.M{"sender_id": viewerID, "receiver_id": correspondentID},
			bson.M{"sender_id": correspondentID, "receiver_id": viewerID},
		},
	}
	opts := options.Find().SetSort(bson.M{"created_at": 1})

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []messageDoc
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(docs))
	for _, d := range docs {
		messages = append(messages, d.toMessage())
	}
	return messages, nil
}

// QueryAll returns every message the viewer sent or received, ordered
// oldest to newest. The inbox engine groups these by correspondent; the
// conversation list is computed, never stored.
func (s *MessagesStore) QueryAll(ctx context.Context, viewerID string) ([]Message, error) {
	filter := bson.M{
		"$or": bson.A{
			bson.M{"sender_id": viewerID},
			bson.M{"receiver_id": viewerID},
		},
	}
	opts := options.Find().SetSort(bson.M{"created_at": 1})

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []messageDoc
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(docs))
	for _, d := range docs {
		messages = append(messages, d.toMessage())
	}
	return messages, nil
}

// MarkConversationRead flips the read flag on every unread message the
// correspondent sent to the viewer, in one batch. The read=false filter
// makes the update conditional, so a message that lands after the filter
// is evaluated keeps its unread state instead of being lost to a
// read-then-write race.
func (s *MessagesStore) MarkConversationRead(ctx context.Context, viewerID, correspondentID string) error {
	filter := bson.M{
		"sender_id":   correspondentID,
		"receiver_id": viewerID,
		"read":        false,
	}
	_, err := s.coll.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"read": true}})
	return err
}

// MarkAllRead flips the read flag on every unread message addressed to the
// viewer, across all conversations.
func (s *MessagesStore) MarkAllRead(ctx context.Context, viewerID string) error {
	filter := bson.M{"receiver_id": viewerID, "read": false}
	_, err := s.coll.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"read": true}})
	return err
}

// CountUnread returns the number of unread messages addressed to the
// viewer. Used to verify the inbox unread-sum invariant.
func (s *MessagesStore) CountUnread(ctx context.Context, viewerID string) (int64, error) {
	return s.coll.CountDocuments(ctx, bson.M{"receiver_id": viewerID, "read": false})
}
