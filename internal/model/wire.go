package model

import "encoding/json"

// MessageType tags every message crossing a battle connection. Inbound and
// outbound variants are concrete structs constructed per type, so an
// unknown type can never be half-handled.
type MessageType string

// Inbound.
const (
	MsgAnswer MessageType = "answer"
)

// Outbound.
const (
	MsgJoined         MessageType = "joined"
	MsgPlayerJoined   MessageType = "player_joined"
	MsgPlayerLeft     MessageType = "player_left"
	MsgPlayerAnswered MessageType = "player_answered"
	MsgStart          MessageType = "start"
	MsgStopTimer      MessageType = "stop_timer"
	MsgResult         MessageType = "result"
	MsgFinished       MessageType = "finished"
	MsgError          MessageType = "error"
	MsgNoRoom         MessageType = "no_room"
)

// ClientMessage is the only inbound message shape. Anything that does not
// decode to a known type is ignored by the session.
type ClientMessage struct {
	Type   MessageType `json:"type"`
	Answer string      `json:"answer,omitempty"`
}

func DecodeClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

type OpponentInfo struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Seat        Seat   `json:"seat"`
}

type JoinedMessage struct {
	Type        MessageType   `json:"type"`
	Seat        Seat          `json:"seat"`
	UserID      string        `json:"userId"`
	PlayerCount int           `json:"playerCount"`
	Opponent    *OpponentInfo `json:"opponent,omitempty"`
}

type PlayerEventMessage struct {
	Type        MessageType `json:"type"`
	Seat        Seat        `json:"seat"`
	UserID      string      `json:"userId"`
	DisplayName string      `json:"displayName,omitempty"`
}

type StartMessage struct {
	Type     MessageType     `json:"type"`
	Question QuestionPayload `json:"question"`
	Round    int             `json:"round"`
	Timer    int             `json:"timer"` // countdown seconds
}

type StopTimerMessage struct {
	Type   MessageType `json:"type"`
	Reason string      `json:"reason"`
}

// ResultMessage is the personalized round outcome. Explanation is set only
// when the recipient was wrong or timed out.
type ResultMessage struct {
	Type          MessageType    `json:"type"`
	Message       string         `json:"message"`
	YourAnswer    *string        `json:"yourAnswer"`
	IsCorrect     bool           `json:"isCorrect"`
	TimedOut      bool           `json:"timedOut"`
	Points        int            `json:"points"`
	CorrectAnswer string         `json:"correctAnswer"`
	Explanation   string         `json:"explanation,omitempty"`
	Scores        map[string]int `json:"scores"`
	Round         int            `json:"round"`
}

type FinishedMessage struct {
	Type         MessageType    `json:"type"`
	Scores       map[string]int `json:"scores"`
	ScoresByName map[string]int `json:"scoresByName,omitempty"`
	MaxScore     int            `json:"maxScore,omitempty"`
	Reason       string         `json:"reason,omitempty"`
}

type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

type NoRoomMessage struct {
	Type MessageType `json:"type"`
}

func NewJoined(seat Seat, userID string, playerCount int, opponent *OpponentInfo) JoinedMessage {
	return JoinedMessage{Type: MsgJoined, Seat: seat, UserID: userID, PlayerCount: playerCount, Opponent: opponent}
}

func NewPlayerJoined(seat Seat, userID, name string) PlayerEventMessage {
	return PlayerEventMessage{Type: MsgPlayerJoined, Seat: seat, UserID: userID, DisplayName: name}
}

func NewPlayerLeft(seat Seat, userID string) PlayerEventMessage {
	return PlayerEventMessage{Type: MsgPlayerLeft, Seat: seat, UserID: userID}
}

func NewPlayerAnswered(seat Seat, userID string) PlayerEventMessage {
	return PlayerEventMessage{Type: MsgPlayerAnswered, Seat: seat, UserID: userID}
}

func NewStart(q QuestionPayload, round, timerSec int) StartMessage {
	return StartMessage{Type: MsgStart, Question: q, Round: round, Timer: timerSec}
}

func NewStopTimer(reason string) StopTimerMessage {
	return StopTimerMessage{Type: MsgStopTimer, Reason: reason}
}

func NewError(message string) ErrorMessage {
	return ErrorMessage{Type: MsgError, Message: message}
}

func NewNoRoom() NoRoomMessage {
	return NoRoomMessage{Type: MsgNoRoom}
}
