package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"quizbattle/internal/model"
)

// QuestionRepo is the shared question pool consumed by the coordinator.
type QuestionRepo interface {
	Create(ctx context.Context, question *model.Question) error
	// GetRandomUnused picks a random question outside excludeIDs. When the
	// unused set is exhausted it falls back to the full pool; it returns
	// nil, nil only when the pool itself is empty.
	GetRandomUnused(ctx context.Context, excludeIDs []string) (*model.Question, error)
	// MaxPossibleScore sums the n highest point values in the pool.
	MaxPossibleScore(ctx context.Context, n int) (int, error)
}

type questionRepo struct {
	collection *mongo.Collection
}

func NewQuestionRepo(db *mongo.Database) QuestionRepo {
	return &questionRepo{
		collection: db.Collection("questions"),
	}
}

func (r *questionRepo) Create(ctx context.Context, question *model.Question) error {
	if question.ID == "" {
		question.ID = primitive.NewObjectID().Hex()
	}
	_, err := r.collection.InsertOne(ctx, question)
	return err
}

func (r *questionRepo) GetRandomUnused(ctx context.Context, excludeIDs []string) (*model.Question, error) {
	if excludeIDs == nil {
		excludeIDs = []string{}
	}
	q, err := r.sampleOne(ctx, bson.M{"_id": bson.M{"$nin": excludeIDs}})
	if err != nil {
		return nil, err
	}
	if q != nil {
		return q, nil
	}
	// Unused set exhausted: any question may repeat.
	return r.sampleOne(ctx, bson.M{})
}

func (r *questionRepo) sampleOne(ctx context.Context, match bson.M) (*model.Question, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$sample", Value: bson.M{"size": 1}}},
	}
	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var questions []*model.Question
	if err := cursor.All(ctx, &questions); err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, nil
	}
	return questions[0], nil
}

func (r *questionRepo) MaxPossibleScore(ctx context.Context, n int) (int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$sort", Value: bson.M{"score": -1}}},
		{{Key: "$limit", Value: n}},
		{{Key: "$group", Value: bson.M{"_id": nil, "total": bson.M{"$sum": "$score"}}}},
	}
	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, err
	}
	defer cursor.Close(ctx)

	var results []struct {
		Total int `bson:"total"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, nil
	}
	return results[0].Total, nil
}
