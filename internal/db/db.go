// Package db owns the document store connection and index setup.
// Connect keeps the teacher's retry-while-the-container-boots loop
// shape from db.Connect, adapted to mongo.Connect + Ping per
// ncobase-ncore's examples/02-mongodb-api/data/data.go.
package db

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	UsersCollection       = "users"
	RoomsCollection       = "rooms"
	MembershipsCollection = "memberships"
	MessagesCollection    = "messages"
)

// Connect dials mongoURI, retrying with backoff while the container
// boots, and returns the named database handle.
func Connect(ctx context.Context, mongoURI, dbName string) (*mongo.Database, *mongo.Client, error) {
	var client *mongo.Client
	var err error
	for i := 0; i < 10; i++ {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		client, err = mongo.Connect(connectCtx, options.Client().ApplyURI(mongoURI))
		if err == nil {
			pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
			err = client.Ping(pingCtx, nil)
			pingCancel()
			cancel()
			if err == nil {
				return client.Database(dbName), client, nil
			}
		} else {
			cancel()
		}
		time.Sleep(time.Duration(500+i*200) * time.Millisecond)
	}
	return nil, nil, err
}

// Disconnect closes client, bounded by a short timeout.
func Disconnect(client *mongo.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return client.Disconnect(ctx)
}

// EnsureIndexes creates every secondary/unique index the service layer
// relies on, replacing the teacher's gdb.AutoMigrate call — there is no
// schema to migrate, only indexes to guarantee.
func EnsureIndexes(ctx context.Context, database *mongo.Database) error {
	users := database.Collection(UsersCollection)
	if _, err := users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}

	rooms := database.Collection(RoomsCollection)
	if _, err := rooms.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "creatorId", Value: 1}},
	}); err != nil {
		return err
	}

	memberships := database.Collection(MembershipsCollection)
	if _, err := memberships.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "roomId", Value: 1}, {Key: "userId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "userId", Value: 1}}},
	}); err != nil {
		return err
	}

	messages := database.Collection(MessagesCollection)
	if _, err := messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "roomId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "senderId", Value: 1}}},
	}); err != nil {
		return err
	}

	return nil
}
