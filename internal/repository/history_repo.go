package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"quizbattle/internal/model"
)

// HistoryRepo records finished matches for the ELO and leaderboard writers.
type HistoryRepo interface {
	Create(ctx context.Context, history *model.GameHistory) error
}

type historyRepo struct {
	collection *mongo.Collection
}

func NewHistoryRepo(db *mongo.Database) HistoryRepo {
	return &historyRepo{
		collection: db.Collection("game_histories"),
	}
}

func (r *historyRepo) Create(ctx context.Context, history *model.GameHistory) error {
	if history.ID == "" {
		history.ID = primitive.NewObjectID().Hex()
	}
	if history.PlayedAt.IsZero() {
		history.PlayedAt = time.Now()
	}
	_, err := r.collection.InsertOne(ctx, history)
	return err
}
