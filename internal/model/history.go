package model

import "time"

// GameHistory records one finished match for the ELO and leaderboard
// writers. WinnerID is empty on a draw.
type GameHistory struct {
	ID           string    `json:"id" bson:"_id,omitempty"`
	RoomCode     string    `json:"roomCode" bson:"roomCode"`
	Player1ID    string    `json:"player1Id" bson:"player1Id"`
	Player2ID    string    `json:"player2Id" bson:"player2Id"`
	Player1Score int       `json:"player1Score" bson:"player1Score"`
	Player2Score int       `json:"player2Score" bson:"player2Score"`
	WinnerID     string    `json:"winnerId,omitempty" bson:"winnerId,omitempty"`
	Rounds       int       `json:"rounds" bson:"rounds"`
	PlayedAt     time.Time `json:"playedAt" bson:"playedAt"`
}
