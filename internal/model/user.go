package model

import "time"

// User is a registered player. ID is the stable identity every piece of
// battle bookkeeping keys on.
type User struct {
	ID          string    `json:"id" bson:"_id,omitempty"`
	Username    string    `json:"username" bson:"username"`
	DisplayName string    `json:"displayName,omitempty" bson:"displayName,omitempty"`
	Elo         int       `json:"elo" bson:"elo"`
	CreatedAt   time.Time `json:"createdAt" bson:"createdAt"`
}

// Name returns the display name, falling back to the username.
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}
