package realtime

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/syndexlabs/syndex-messaging/internal/data"
)

// changeDoc mirrors the messages collection document shape for change
// stream decoding.
type changeDoc struct {
	ID         bson.ObjectID `bson:"_id"`
	SenderID   string        `bson:"sender_id"`
	ReceiverID string        `bson:"receiver_id"`
	Content    string        `bson:"content"`
	CreatedAt  time.Time     `bson:"created_at"`
	Read       bool          `bson:"read"`
	Deal       *data.DealRef `bson:"deal,omitempty"`
}

type changeEvent struct {
	OperationType string    `bson:"operationType"`
	FullDocument  changeDoc `bson:"fullDocument"`
}

// WatchMessages tails the messages collection change stream and publishes
// every insert and update to the broker. This is the production change
// feed: the send path never publishes directly, so out-of-band writes
// (another instance, an admin script, a bulk mark-read) reach connected
// sessions the same way a normal send does. Engines dedupe by id, so the
// at-least-once delivery this implies is safe.
//
// Blocks until ctx is cancelled or the stream fails.
func WatchMessages(ctx context.Context, coll *mongo.Collection, b *Broker, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	stream, err := coll.Watch(ctx, mongo.Pipeline{}, opts)
	if err != nil {
		return err
	}
	defer stream.Close(context.Background())

	logger.Info("message change stream established")

	for stream.Next(ctx) {
		var ev changeEvent
		if err := stream.Decode(&ev); err != nil {
			logger.Error("decode change event", "error", err)
			continue
		}

		msg := data.Message{
			ID:         ev.FullDocument.ID.Hex(),
			SenderID:   ev.FullDocument.SenderID,
			ReceiverID: ev.FullDocument.ReceiverID,
			Content:    ev.FullDocument.Content,
			CreatedAt:  ev.FullDocument.CreatedAt,
			Read:       ev.FullDocument.Read,
			Deal:       ev.FullDocument.Deal,
		}

		switch ev.OperationType {
		case "insert":
			b.PublishMessage(MessageEvent{Kind: MessageInserted, Message: msg})
		case "update", "replace":
			b.PublishMessage(MessageEvent{Kind: MessageUpdated, Message: msg})
		default:
			// deletes never happen in this subsystem; ignore anything else
		}
	}

	if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
