package main

import (
	"context"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"quizbattle/internal/config"
	"quizbattle/internal/model"
	"quizbattle/internal/repository"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer client.Disconnect(ctx)

	db := client.Database(cfg.MongoDB)
	users := repository.NewUserRepo(db)
	questions := repository.NewQuestionRepo(db)

	for _, u := range []*model.User{
		{Username: "alice", DisplayName: "Alice", Elo: 1200},
		{Username: "bob", DisplayName: "Bob", Elo: 1200},
	} {
		if err := users.Create(ctx, u); err != nil {
			log.Fatalf("Failed to seed user %s: %v", u.Username, err)
		}
		log.Printf("Seeded user %s (%s)", u.Username, u.ID)
	}

	seedQuestions := []*model.Question{
		{
			Text:        "She ____ to the office every morning.",
			Directive:   "Choose the best word to complete the sentence:",
			A:           "walk",
			B:           "walks",
			C:           "walking",
			D:           "walked",
			Correct:     "B",
			Explanation: "Third-person singular present takes -s: 'she walks'.",
			Category:    "grammar",
			Difficulty:  "beginner",
			Score:       5,
		},
		{
			Text:        "The meeting was ____ until next week.",
			Directive:   "Choose the best word to complete the sentence:",
			A:           "postponed",
			B:           "preceded",
			C:           "proceeded",
			D:           "pretended",
			Correct:     "A",
			Explanation: "'Postponed' means moved to a later time.",
			Category:    "vocabulary",
			Difficulty:  "intermediate",
			Score:       8,
		},
		{
			Text:        "Had I known about the bug, I ____ the release.",
			Directive:   "Choose the best phrase to complete the sentence:",
			A:           "would delay",
			B:           "will have delayed",
			C:           "would have delayed",
			D:           "had delayed",
			Correct:     "C",
			Explanation: "Third conditional: 'had I known ... I would have delayed'.",
			Category:    "grammar",
			Difficulty:  "advanced",
			Score:       10,
		},
	}
	for _, q := range seedQuestions {
		if err := questions.Create(ctx, q); err != nil {
			log.Fatalf("Failed to seed question: %v", err)
		}
		log.Printf("Seeded question %s", q.ID)
	}

	log.Println("Seed complete")
}
