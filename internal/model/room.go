package model

import "time"

// Room is the persisted lobby record for a match. The coordinator only
// maintains PlayerCount/Started as bookkeeping for lobby listings; in-round
// truth lives in RoomState.
type Room struct {
	Code        string    `json:"code" bson:"code"`
	CreatedBy   string    `json:"createdBy" bson:"createdBy"`
	PlayerCount int       `json:"playerCount" bson:"playerCount"`
	Started     bool      `json:"started" bson:"started"`
	Finished    bool      `json:"finished" bson:"finished"`
	CreatedAt   time.Time `json:"createdAt" bson:"createdAt"`
}

// RoomCapacity is the fixed number of seats in a battle.
const RoomCapacity = 2

func (r *Room) IsFull() bool {
	return r.PlayerCount >= RoomCapacity
}

func (r *Room) IsAvailable() bool {
	return !r.Started && !r.IsFull()
}
