package data

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// DB wraps the mongo client and exposes the collections this service uses.
type DB struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials MongoDB, verifies the connection with a ping and returns a
// DB handle scoped to the given database name.
func Connect(ctx context.Context, uri, database string) (*DB, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("ping MongoDB: %w", err)
	}

	return &DB{client: client, db: client.Database(database)}, nil
}

// Messages returns the messages collection.
func (d *DB) Messages() *mongo.Collection { return d.db.Collection("messages") }

// Profiles returns the profiles collection.
func (d *DB) Profiles() *mongo.Collection { return d.db.Collection("profiles") }

// Deals returns the deals collection.
func (d *DB) Deals() *mongo.Collection { return d.db.Collection("deals") }

// Close disconnects from MongoDB.
func (d *DB) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes the message queries depend on.
func (d *DB) EnsureIndexes(ctx context.Context) error {
	messageIndexes := []mongo.IndexModel{
		{
			// History queries filter on both directions of a pair and sort
			// by creation time.
			Keys: map[string]int{"sender_id": 1, "receiver_id": 1, "created_at": 1},
		},
		{
			// Unread counting and the batched mark-read updates filter on
			// (receiver, read).
			Keys: map[string]int{"receiver_id": 1, "read": 1},
		},
		{
			Keys: map[string]int{"created_at": -1},
		},
	}
	if _, err := d.Messages().Indexes().CreateMany(ctx, messageIndexes); err != nil {
		return fmt.Errorf("create message indexes: %w", err)
	}

	profileIndex := mongo.IndexModel{
		Keys:    map[string]int{"user_id": 1},
		Options: options.Index().SetUnique(true),
	}
	if _, err := d.Profiles().Indexes().CreateOne(ctx, profileIndex); err != nil {
		return fmt.Errorf("create profile index: %w", err)
	}
	return nil
}
