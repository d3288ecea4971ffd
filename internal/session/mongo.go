package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoBackend stores one document per session in the "sessions" collection.
type MongoBackend struct {
	client     *mongo.Client
	collection *mongo.Collection
}

func NewMongoBackend(ctx context.Context, uri, database string) (*MongoBackend, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	coll := client.Database(database).Collection("sessions")
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "updatedAt", Value: 1}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create session index: %w", err)
	}
	return &MongoBackend{client: client, collection: coll}, nil
}

func (b *MongoBackend) Load(ctx context.Context, id string) (*Session, error) {
	var s Session
	err := b.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	normalizeLoaded(&s)
	return &s, nil
}

func (b *MongoBackend) Save(ctx context.Context, s *Session) error {
	_, err := b.collection.ReplaceOne(ctx, bson.M{"_id": s.ID}, s, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (b *MongoBackend) Delete(ctx context.Context, id string) error {
	res, err := b.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *MongoBackend) List(ctx context.Context) ([]*Session, error) {
	cursor, err := b.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []Session
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	out := make([]*Session, 0, len(docs))
	for i := range docs {
		normalizeLoaded(&docs[i])
		out = append(out, &docs[i])
	}
	return out, nil
}

func (b *MongoBackend) Mode() string { return "mongo" }

func (b *MongoBackend) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.client.Disconnect(ctx)
}

// Mongo decodes timestamps in the local zone and empty arrays as nil.
func normalizeLoaded(s *Session) {
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	if s.EndedAt != nil {
		t := s.EndedAt.UTC()
		s.EndedAt = &t
	}
	if s.Cursors == nil {
		s.Cursors = map[string]Cursor{}
	}
	if s.ChatLog == nil {
		s.ChatLog = []ChatEntry{}
	}
	if s.Participants == nil {
		s.Participants = []Participant{}
	}
}
