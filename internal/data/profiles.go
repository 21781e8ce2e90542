package data

import (
	"context"
	"errors"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// ErrNotFound is returned when a profile or deal lookup matches nothing.
var ErrNotFound = errors.New("not found")

type profileDoc struct {
	UserID      string `bson:"user_id"`
	DisplayName string `bson:"display_name"`
	AvatarURL   string `bson:"avatar_url,omitempty"`
	Role        string `bson:"role"`
	Email       string `bson:"email"`
	EmailNotify bool   `bson:"email_notify"`
}

// ProfilesStore resolves user profiles. Lookups are cached per process:
// profile fields change rarely and the inbox resolves the same
// correspondents over and over.
type ProfilesStore struct {
	coll *mongo.Collection

	mu    sync.RWMutex
	cache map[string]Profile
}

// NewProfilesStore returns a ProfilesStore using the given collection.
func NewProfilesStore(coll *mongo.Collection) *ProfilesStore {
	return &ProfilesStore{coll: coll, cache: make(map[string]Profile)}
}

// Resolve returns the profile for a user id.
func (s *ProfilesStore) Resolve(ctx context.Context, userID string) (Profile, error) {
	s.mu.RLock()
	cached, ok := s.cache[userID]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	var doc profileDoc
	err := s.coll.FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, err
	}

	p := Profile{
		ID:          doc.UserID,
		DisplayName: doc.DisplayName,
		AvatarURL:   doc.AvatarURL,
		Role:        doc.Role,
		Email:       doc.Email,
		EmailNotify: doc.EmailNotify,
	}

	s.mu.Lock()
	s.cache[userID] = p
	s.mu.Unlock()
	return p, nil
}

// Exists checks whether a profile exists for the user id. CountDocuments
// is cheaper than a full decode when only existence matters.
func (s *ProfilesStore) Exists(ctx context.Context, userID string) (bool, error) {
	count, err := s.coll.CountDocuments(ctx, bson.M{"user_id": userID})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

type dealDoc struct {
	DealID string `bson:"deal_id"`
	Title  string `bson:"title"`
	Slug   string `bson:"slug"`
}

// DealsStore resolves listing references to their display fields.
type DealsStore struct {
	coll *mongo.Collection
}

// NewDealsStore returns a DealsStore using the given collection.
func NewDealsStore(coll *mongo.Collection) *DealsStore {
	return &DealsStore{coll: coll}
}

// Resolve returns the deal for a listing id.
func (s *DealsStore) Resolve(ctx context.Context, dealID string) (Deal, error) {
	var doc dealDoc
	err := s.coll.FindOne(ctx, bson.M{"deal_id": dealID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Deal{}, ErrNotFound
		}
		return Deal{}, err
	}
	return Deal{ID: doc.DealID, Title: doc.Title, Slug: doc.Slug}, nil
}
