package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"quizbattle/internal/model"
)

// RoomRepo persists lobby rooms. Player count and started/finished flags
// are eventually-consistent bookkeeping for lobby listings, not the
// coordinator's source of truth for in-round state.
type RoomRepo interface {
	Create(ctx context.Context, room *model.Room) error
	GetByCode(ctx context.Context, code string) (*model.Room, error)
	ListAvailable(ctx context.Context) ([]*model.Room, error)
	IncrementPlayerCount(ctx context.Context, code string) error
	DecrementPlayerCount(ctx context.Context, code string) error
	MarkStarted(ctx context.Context, code string) error
	MarkStopped(ctx context.Context, code string) error
	MarkFinished(ctx context.Context, code string) error
}

type roomRepo struct {
	collection *mongo.Collection
}

func NewRoomRepo(db *mongo.Database) RoomRepo {
	return &roomRepo{
		collection: db.Collection("rooms"),
	}
}

func (r *roomRepo) Create(ctx context.Context, room *model.Room) error {
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now()
	}
	_, err := r.collection.InsertOne(ctx, room)
	return err
}

// GetByCode returns nil, nil when no room exists for the code.
func (r *roomRepo) GetByCode(ctx context.Context, code string) (*model.Room, error) {
	var room model.Room
	err := r.collection.FindOne(ctx, bson.M{"code": code}).Decode(&room)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &room, nil
}

func (r *roomRepo) ListAvailable(ctx context.Context) ([]*model.Room, error) {
	filter := bson.M{
		"started":     false,
		"finished":    false,
		"playerCount": bson.M{"$lt": model.RoomCapacity},
	}
	opts := options.Find().SetSort(bson.M{"createdAt": -1})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rooms []*model.Room
	if err := cursor.All(ctx, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (r *roomRepo) IncrementPlayerCount(ctx context.Context, code string) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"code": code},
		bson.M{"$inc": bson.M{"playerCount": 1}},
	)
	return err
}

func (r *roomRepo) DecrementPlayerCount(ctx context.Context, code string) error {
	var room model.Room
	err := r.collection.FindOneAndUpdate(ctx,
		bson.M{"code": code},
		bson.M{"$inc": bson.M{"playerCount": -1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&room)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil
		}
		return err
	}
	// Floor at zero; an empty room is no longer started.
	if room.PlayerCount <= 0 {
		_, err = r.collection.UpdateOne(ctx,
			bson.M{"code": code},
			bson.M{"$set": bson.M{"playerCount": 0, "started": false}},
		)
	}
	return err
}

func (r *roomRepo) MarkStarted(ctx context.Context, code string) error {
	return r.setFields(ctx, code, bson.M{"started": true})
}

func (r *roomRepo) MarkStopped(ctx context.Context, code string) error {
	return r.setFields(ctx, code, bson.M{"started": false})
}

func (r *roomRepo) MarkFinished(ctx context.Context, code string) error {
	return r.setFields(ctx, code, bson.M{"started": false, "finished": true})
}

func (r *roomRepo) setFields(ctx context.Context, code string, fields bson.M) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"code": code},
		bson.M{"$set": fields},
	)
	return err
}
