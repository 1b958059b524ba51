package model

// Seat is one of the two fixed participant slots in a room. Seats are
// display labels only; scoring and answer bookkeeping key on the stable
// user identity.
type Seat string

const (
	SeatPlayer1 Seat = "player1"
	SeatPlayer2 Seat = "player2"
)

// SeatInfo freezes who held a seat when the round started, so results can
// be resolved even if that participant disconnects mid-round.
type SeatInfo struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// QuestionSnapshot is the part of the current question the coordinator
// needs to resolve a round.
type QuestionSnapshot struct {
	ID          string `json:"id"`
	Correct     string `json:"correct"`
	Score       int    `json:"score"`
	Explanation string `json:"explanation,omitempty"`
}

// ParticipantResult is one identity's outcome for a resolved round.
type ParticipantResult struct {
	Seat       Seat    `json:"seat"`
	YourAnswer *string `json:"yourAnswer"`
	IsCorrect  bool    `json:"isCorrect"`
	TimedOut   bool    `json:"timedOut"`
	Points     int     `json:"points"`
}

// RoundResult is the most recently resolved round, retained so a
// reconnecting participant can be shown what they missed.
type RoundResult struct {
	Round         int                          `json:"round"`
	CorrectAnswer string                       `json:"correctAnswer"`
	Explanation   string                       `json:"explanation,omitempty"`
	Scores        map[string]int               `json:"scores"`
	ByUser        map[string]ParticipantResult `json:"byUser"`
}

// RoomState is the serializable record describing one match's progress.
// It lives in the shared store under the room code and is only ever read
// or written while holding that room's lock.
type RoomState struct {
	Question        *QuestionSnapshot `json:"question,omitempty"`
	QuestionNumber  int               `json:"questionNumber"`
	UsedQuestionIDs []string          `json:"usedQuestionIds"`

	Participants map[string]Seat   `json:"participants"` // userID -> seat
	Connected    map[string]bool   `json:"connected"`    // userID -> live connection
	Names        map[string]string `json:"names"`        // userID -> display name
	SeatSnapshot map[Seat]SeatInfo `json:"seatSnapshot"`

	Answers      map[string]*string `json:"answers"`
	Answered     map[string]bool    `json:"answered"`
	AutoAnswered map[string]bool    `json:"autoAnswered"`
	Scores       map[string]int     `json:"scores"`

	TimerRunning bool `json:"timerRunning"`
	Resolving    bool `json:"resolving"`
	Resolved     bool `json:"resolved"`

	LastResult    *RoundResult    `json:"lastResult,omitempty"`
	LastResultAck map[string]bool `json:"lastResultAck"`

	ExpectedParticipants int `json:"expectedParticipants"`
}

// NewRoomState creates the initial state for a room's first connection.
func NewRoomState() *RoomState {
	return &RoomState{
		QuestionNumber:  1,
		UsedQuestionIDs: []string{},
		Participants:    make(map[string]Seat),
		Connected:       make(map[string]bool),
		Names:           make(map[string]string),
		SeatSnapshot:    make(map[Seat]SeatInfo),
		Answers:         make(map[string]*string),
		Answered:        make(map[string]bool),
		AutoAnswered:    make(map[string]bool),
		Scores:          make(map[string]int),
		LastResultAck:   make(map[string]bool),
	}
}

// OpenSeat returns the first unassigned seat, or false if both are taken.
func (s *RoomState) OpenSeat() (Seat, bool) {
	taken := make(map[Seat]bool, len(s.Participants))
	for _, seat := range s.Participants {
		taken[seat] = true
	}
	for _, seat := range []Seat{SeatPlayer1, SeatPlayer2} {
		if !taken[seat] {
			return seat, true
		}
	}
	return "", false
}

// SeatOf returns the seat held by an identity, if any.
func (s *RoomState) SeatOf(userID string) (Seat, bool) {
	seat, ok := s.Participants[userID]
	return seat, ok
}

// InRoundSnapshot reports whether the identity holds a seat in the current
// round's frozen snapshot.
func (s *RoomState) InRoundSnapshot(userID string) bool {
	for _, info := range s.SeatSnapshot {
		if info.UserID == userID {
			return true
		}
	}
	return false
}

// BeginRound installs the next question and resets per-round bookkeeping.
// The seat snapshot freezes the currently connected participants; a seat
// whose holder is already gone stays out of the snapshot and is treated as
// timed out at resolution.
func (s *RoomState) BeginRound(q *Question) {
	s.Question = &QuestionSnapshot{
		ID:          q.ID,
		Correct:     q.Correct,
		Score:       q.Score,
		Explanation: q.Explanation,
	}
	s.UsedQuestionIDs = append(s.UsedQuestionIDs, q.ID)

	s.SeatSnapshot = make(map[Seat]SeatInfo)
	s.Answers = make(map[string]*string)
	s.Answered = make(map[string]bool)
	s.AutoAnswered = make(map[string]bool)
	for userID, seat := range s.Participants {
		if !s.Connected[userID] {
			continue
		}
		s.SeatSnapshot[seat] = SeatInfo{UserID: userID, DisplayName: s.Names[userID]}
		s.Answers[userID] = nil
		s.Answered[userID] = false
		s.AutoAnswered[userID] = false
	}
	s.ExpectedParticipants = len(s.SeatSnapshot)

	s.Resolved = false
	s.Resolving = false
	s.TimerRunning = true
}

// AnsweredCount counts snapshot seats whose holder has answered.
func (s *RoomState) AnsweredCount() int {
	n := 0
	for _, info := range s.SeatSnapshot {
		if s.Answered[info.UserID] {
			n++
		}
	}
	return n
}

// AllAnswered reports whether every expected seat has answered.
func (s *RoomState) AllAnswered() bool {
	return s.ExpectedParticipants > 0 && s.AnsweredCount() >= s.ExpectedParticipants
}

// ConnectedCount counts identities with a live connection.
func (s *RoomState) ConnectedCount() int {
	n := 0
	for _, live := range s.Connected {
		if live {
			n++
		}
	}
	return n
}

// RoundLive reports whether a question is out and not yet resolved.
func (s *RoomState) RoundLive() bool {
	return s.Question != nil && !s.Resolved
}
