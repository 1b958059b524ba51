package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"quizbattle/internal/cache"
	"quizbattle/internal/model"
	"quizbattle/internal/repository"
)

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrRoomFull       = errors.New("room full")
	ErrAlreadyStarted = errors.New("match already started")
	ErrDuplicateSeat  = errors.New("already joined from another connection")
)

const opTimeout = 10 * time.Second

// BattleConfig holds the tunable round parameters.
type BattleConfig struct {
	RoundLimit      int
	Countdown       time.Duration
	InterRoundDelay time.Duration
}

// BattleService coordinates a two-player quiz battle: seat assignment,
// the question/answer/resolve round machine, timeouts, disconnects, and
// final persistence. Every state transition is a lock-guarded
// read-modify-write against the shared store; broadcasts always happen
// after the lock is released.
type BattleService struct {
	states    cache.BattleStateCache
	locker    cache.RoomLocker
	rooms     repository.RoomRepo
	questions repository.QuestionRepo
	users     repository.UserRepo
	histories repository.HistoryRepo

	cfg    BattleConfig
	logger *slog.Logger

	broadcaster Broadcaster
}

func NewBattleService(
	states cache.BattleStateCache,
	locker cache.RoomLocker,
	rooms repository.RoomRepo,
	questions repository.QuestionRepo,
	users repository.UserRepo,
	histories repository.HistoryRepo,
	cfg BattleConfig,
	logger *slog.Logger,
) *BattleService {
	return &BattleService{
		states:    states,
		locker:    locker,
		rooms:     rooms,
		questions: questions,
		users:     users,
		histories: histories,
		cfg:       cfg,
		logger:    logger,
	}
}

// SetBroadcaster injects the ws hub.
func (s *BattleService) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

type stateAction int

const (
	stateDiscard stateAction = iota
	stateSave
	stateDelete
)

// withState runs fn on the room's state under the room lock and applies
// the returned action. fn receives nil when no state exists. A lock
// timeout aborts the operation; the next timer or connection event is the
// retry path.
func (s *BattleService) withState(ctx context.Context, code string, fn func(st *model.RoomState) (stateAction, error)) error {
	unlock, err := s.locker.Lock(ctx, code)
	if err != nil {
		return fmt.Errorf("room %s: %w", code, err)
	}
	defer func() {
		if uerr := unlock(); uerr != nil {
			s.logger.Warn("failed to release room lock", "room", code, "error", uerr)
		}
	}()

	st, err := s.states.Get(ctx, code)
	if err != nil {
		return err
	}

	action, err := fn(st)
	if err != nil {
		return err
	}
	switch action {
	case stateSave:
		return s.states.Set(ctx, code, st)
	case stateDelete:
		return s.states.Delete(ctx, code)
	}
	return nil
}

// Join seats an identity in a room, or re-attaches a reconnecting
// participant. On success the caller's connection receives a joined event
// and the room is notified; if both seats are now filled and no round has
// run yet, the first round starts.
func (s *BattleService) Join(ctx context.Context, code string, user *model.User) error {
	room, err := s.rooms.GetByCode(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to look up room: %w", err)
	}
	if room == nil {
		return ErrRoomNotFound
	}

	unlock, err := s.locker.Lock(ctx, code)
	if err != nil {
		return fmt.Errorf("room %s: %w", code, err)
	}

	st, err := s.states.Get(ctx, code)
	if err != nil {
		unlock()
		return err
	}
	if st == nil {
		st = model.NewRoomState()
	}

	var seat model.Seat
	if held, ok := st.Participants[user.ID]; ok {
		if st.Connected[user.ID] {
			unlock()
			return ErrDuplicateSeat
		}
		seat = held
	} else {
		if room.Started {
			unlock()
			return ErrAlreadyStarted
		}
		open, ok := st.OpenSeat()
		if !ok {
			unlock()
			return ErrRoomFull
		}
		seat = open
		st.Participants[user.ID] = seat
		if _, seen := st.Scores[user.ID]; !seen {
			st.Scores[user.ID] = 0
		}
	}
	st.Connected[user.ID] = true
	st.Names[user.ID] = user.Name()

	var opponent *model.OpponentInfo
	for otherID, otherSeat := range st.Participants {
		if otherID != user.ID {
			opponent = &model.OpponentInfo{
				UserID:      otherID,
				DisplayName: st.Names[otherID],
				Seat:        otherSeat,
			}
		}
	}

	// Replay the last round's outcome to an identity that missed it.
	var replay *model.ResultMessage
	if st.LastResult != nil && !st.LastResultAck[user.ID] {
		if _, mine := st.LastResult.ByUser[user.ID]; mine {
			msg := resultMessageFor(user.ID, st.LastResult)
			replay = &msg
			st.LastResultAck[user.ID] = true
		}
	}

	playerCount := st.ConnectedCount()
	startMatch := !room.Started &&
		len(st.Participants) == model.RoomCapacity &&
		playerCount == model.RoomCapacity &&
		st.Question == nil

	if err := s.states.Set(ctx, code, st); err != nil {
		unlock()
		return err
	}
	unlock()

	// Every attached connection counts toward the lobby figure; Leave
	// decrements it again, so reconnects must increment too.
	if err := s.rooms.IncrementPlayerCount(ctx, code); err != nil {
		s.logger.Warn("failed to increment player count", "room", code, "error", err)
	}

	s.broadcaster.SendToUser(code, user.ID, model.NewJoined(seat, user.ID, playerCount, opponent))
	s.broadcaster.BroadcastToRoom(code, model.NewPlayerJoined(seat, user.ID, user.Name()))
	if replay != nil {
		s.broadcaster.SendToUser(code, user.ID, *replay)
	}

	if startMatch {
		if err := s.rooms.MarkStarted(ctx, code); err != nil {
			s.logger.Warn("failed to mark room started", "room", code, "error", err)
		}
		s.logger.Info("match starting", "room", code)
		go s.runRound(code)
	}

	return nil
}

// Leave detaches an identity's connection. A seat left unanswered in a
// live round gets a synthesized answer so the round stays resolvable; an
// emptied room is torn down.
func (s *BattleService) Leave(ctx context.Context, code, userID string) error {
	var (
		seat          model.Seat
		known         bool
		stateGone     bool
		wasConnected  bool
		becameEmpty   bool
		shouldResolve bool
	)
	err := s.withState(ctx, code, func(st *model.RoomState) (stateAction, error) {
		if st == nil {
			stateGone = true
			return stateDiscard, nil
		}
		seat, known = st.Participants[userID]
		if !known {
			return stateDiscard, nil
		}
		wasConnected = st.Connected[userID]
		st.Connected[userID] = false

		if st.RoundLive() && st.InRoundSnapshot(userID) && !st.Answered[userID] {
			st.Answered[userID] = true
			st.AutoAnswered[userID] = true
			st.Answers[userID] = nil
		}
		if st.RoundLive() && st.AllAnswered() && !st.Resolving {
			st.Resolving = true
			st.TimerRunning = false
			shouldResolve = true
		}

		if st.ConnectedCount() == 0 {
			becameEmpty = true
			return stateDelete, nil
		}
		return stateSave, nil
	})
	if err != nil {
		return err
	}
	if stateGone {
		// Match already torn down; keep the lobby count tidy.
		if derr := s.rooms.DecrementPlayerCount(ctx, code); derr != nil {
			s.logger.Warn("failed to decrement player count", "room", code, "error", derr)
		}
		return nil
	}
	if !known {
		return nil
	}

	if wasConnected {
		if derr := s.rooms.DecrementPlayerCount(ctx, code); derr != nil {
			s.logger.Warn("failed to decrement player count", "room", code, "error", derr)
		}
	}
	s.broadcaster.BroadcastToRoom(code, model.NewPlayerLeft(seat, userID))

	if becameEmpty {
		if serr := s.rooms.MarkStopped(ctx, code); serr != nil {
			s.logger.Warn("failed to mark room stopped", "room", code, "error", serr)
		}
		s.logger.Info("room emptied, state removed", "room", code)
		return nil
	}
	if shouldResolve {
		s.resolve(code)
	}
	return nil
}

// SubmitAnswer records an identity's answer for the current round. Late,
// duplicate, and out-of-snapshot submissions are silent no-ops: races
// between timeout and submission are expected and benign.
func (s *BattleService) SubmitAnswer(ctx context.Context, code, userID, answer string) error {
	var (
		seat          model.Seat
		accepted      bool
		shouldResolve bool
	)
	err := s.withState(ctx, code, func(st *model.RoomState) (stateAction, error) {
		if st == nil || !st.RoundLive() || st.Resolving {
			return stateDiscard, nil
		}
		if !st.InRoundSnapshot(userID) {
			return stateDiscard, nil
		}
		if st.Answered[userID] {
			return stateDiscard, nil
		}

		a := answer
		st.Answers[userID] = &a
		st.Answered[userID] = true
		st.AutoAnswered[userID] = false
		seat = st.Participants[userID]
		accepted = true

		if st.AllAnswered() {
			st.Resolving = true
			st.TimerRunning = false
			shouldResolve = true
		}
		return stateSave, nil
	})
	if err != nil {
		return err
	}
	if !accepted {
		return nil
	}

	// Identity only, never the content: the opponent must not infer the
	// answer before resolution.
	s.broadcaster.BroadcastToRoom(code, model.NewPlayerAnswered(seat, userID))

	if shouldResolve {
		s.resolve(code)
	}
	return nil
}

// finishData is what finish needs after the state record is gone.
type finishData struct {
	scores map[string]int
	names  map[string]string
	seats  map[model.Seat]string // seat -> userID
	rounds int
	reason string
}

func collectFinish(st *model.RoomState, reason string) *finishData {
	fin := &finishData{
		scores: make(map[string]int, len(st.Scores)),
		names:  make(map[string]string, len(st.Names)),
		seats:  make(map[model.Seat]string, len(st.Participants)),
		rounds: st.QuestionNumber - 1,
		reason: reason,
	}
	for id, score := range st.Scores {
		fin.scores[id] = score
	}
	for id, name := range st.Names {
		fin.names[id] = name
	}
	for id, seat := range st.Participants {
		fin.seats[seat] = id
	}
	return fin
}

// runRound starts the next round, or finishes the match when the round
// limit is reached or the pool is exhausted. The question fetch happens
// outside the lock; the install step re-checks that the round is still
// current before mutating.
func (s *BattleService) runRound(code string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		fin     *finishData
		usedIDs []string
		round   int
	)
	err := s.withState(ctx, code, func(st *model.RoomState) (stateAction, error) {
		if st == nil {
			return stateDiscard, nil
		}
		if st.QuestionNumber > s.cfg.RoundLimit {
			fin = collectFinish(st, "")
			return stateDelete, nil
		}
		usedIDs = append([]string{}, st.UsedQuestionIDs...)
		round = st.QuestionNumber
		return stateDiscard, nil
	})
	if err != nil {
		s.logger.Error("failed to read state for next round", "room", code, "error", err)
		return
	}
	if fin != nil {
		s.finish(ctx, code, fin)
		return
	}
	if round == 0 {
		return // state vanished
	}

	question, err := s.questions.GetRandomUnused(ctx, usedIDs)
	if err != nil {
		s.logger.Error("failed to fetch question", "room", code, "error", err)
		return
	}

	// The pool falls back to repeats once the unused set is empty; a
	// repeated id therefore means exhaustion, which ends the match rather
	// than recycling questions.
	exhausted := question == nil
	if question != nil {
		for _, id := range usedIDs {
			if id == question.ID {
				exhausted = true
				break
			}
		}
	}

	var started bool
	err = s.withState(ctx, code, func(st *model.RoomState) (stateAction, error) {
		if st == nil || st.QuestionNumber != round || st.RoundLive() {
			return stateDiscard, nil
		}
		if exhausted {
			fin = collectFinish(st, "no_questions")
			return stateDelete, nil
		}
		st.BeginRound(question)
		started = true
		return stateSave, nil
	})
	if err != nil {
		s.logger.Error("failed to install round", "room", code, "error", err)
		return
	}
	if fin != nil {
		s.finish(ctx, code, fin)
		return
	}
	if !started {
		return
	}

	s.logger.Info("round started", "room", code, "round", round, "question", question.ID)
	s.broadcaster.BroadcastToRoom(code, model.NewStart(question.Payload(), round, int(s.cfg.Countdown/time.Second)))

	go s.countdown(code, round)
}

// countdown is the per-round timer. Cancellation is cooperative: the
// TimerRunning flag is checked under the lock, since the resolving process
// may live in another instance and cannot cancel this goroutine.
func (s *BattleService) countdown(code string, round int) {
	time.Sleep(s.cfg.Countdown)

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var shouldResolve bool
	err := s.withState(ctx, code, func(st *model.RoomState) (stateAction, error) {
		if st == nil || st.QuestionNumber != round {
			return stateDiscard, nil
		}
		if !st.TimerRunning || st.Resolving || st.Resolved {
			return stateDiscard, nil
		}
		for _, info := range st.SeatSnapshot {
			if !st.Answered[info.UserID] {
				st.Answered[info.UserID] = true
				st.AutoAnswered[info.UserID] = true
				st.Answers[info.UserID] = nil
			}
		}
		st.Resolving = true
		st.TimerRunning = false
		shouldResolve = true
		return stateSave, nil
	})
	if err != nil {
		s.logger.Error("countdown expiry failed", "room", code, "round", round, "error", err)
		return
	}
	if shouldResolve {
		s.logger.Info("round timed out", "room", code, "round", round)
		s.resolve(code)
	}
}

// resolve scores the current round exactly once. The Resolved latch makes
// a barrier/expiry double trigger a no-op. After broadcasting, it waits
// the inter-round delay and starts the next round.
func (s *BattleService) resolve(code string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var result *model.RoundResult
	err := s.withState(ctx, code, func(st *model.RoomState) (stateAction, error) {
		if st == nil {
			return stateDiscard, nil
		}
		if st.Resolved || st.Question == nil {
			st.Resolving = false
			return stateSave, nil
		}
		st.Resolved = true
		q := st.Question

		byUser := make(map[string]model.ParticipantResult, len(st.SeatSnapshot))
		for _, seat := range []model.Seat{model.SeatPlayer1, model.SeatPlayer2} {
			info, ok := st.SeatSnapshot[seat]
			if !ok {
				continue
			}
			ans := st.Answers[info.UserID]
			timedOut := st.AutoAnswered[info.UserID]
			isCorrect := ans != nil && *ans == q.Correct && !timedOut && q.Correct != ""
			points := 0
			if isCorrect {
				points = q.Score
				st.Scores[info.UserID] += q.Score
			}
			byUser[info.UserID] = model.ParticipantResult{
				Seat:       seat,
				YourAnswer: ans,
				IsCorrect:  isCorrect,
				TimedOut:   timedOut,
				Points:     points,
			}
		}

		scores := make(map[string]int, len(st.Scores))
		for id, score := range st.Scores {
			scores[id] = score
		}
		result = &model.RoundResult{
			Round:         st.QuestionNumber,
			CorrectAnswer: q.Correct,
			Explanation:   q.Explanation,
			Scores:        scores,
			ByUser:        byUser,
		}
		st.LastResult = result
		st.LastResultAck = make(map[string]bool)
		// A connected participant gets the result now; anyone else has it
		// replayed on reconnect.
		for id := range byUser {
			if st.Connected[id] {
				st.LastResultAck[id] = true
			}
		}

		st.QuestionNumber++
		st.Resolving = false
		st.TimerRunning = false
		return stateSave, nil
	})
	if err != nil {
		s.logger.Error("round resolution failed", "room", code, "error", err)
		return
	}
	if result == nil {
		return
	}

	s.logger.Info("round resolved", "room", code, "round", result.Round, "scores", result.Scores)

	for userID := range result.ByUser {
		s.broadcaster.SendToUser(code, userID, resultMessageFor(userID, result))
	}
	// Redundant stop, in case a client's local timer drifted.
	s.broadcaster.BroadcastToRoom(code, model.NewStopTimer("round_resolved"))

	// Pause so clients can render the explanation, then move on. Detached
	// so the triggering connection's read loop is not held up.
	go func() {
		time.Sleep(s.cfg.InterRoundDelay)
		s.runRound(code)
	}()
}

// finish broadcasts final scores and persists the match outcome.
func (s *BattleService) finish(ctx context.Context, code string, fin *finishData) {
	byName := make(map[string]int, len(fin.scores))
	for userID, score := range fin.scores {
		name := fin.names[userID]
		if name == "" {
			if u, err := s.users.GetByID(ctx, userID); err == nil && u != nil {
				name = u.Name()
			} else {
				name = userID
			}
		}
		byName[name] = score
	}

	maxScore := 0
	if fin.rounds > 0 {
		total, err := s.questions.MaxPossibleScore(ctx, fin.rounds)
		if err != nil {
			s.logger.Warn("failed to compute max possible score", "room", code, "error", err)
		} else {
			maxScore = total
		}
	}

	s.broadcaster.BroadcastToRoom(code, model.FinishedMessage{
		Type:         model.MsgFinished,
		Scores:       fin.scores,
		ScoresByName: byName,
		MaxScore:     maxScore,
		Reason:       fin.reason,
	})

	p1, p2 := fin.seats[model.SeatPlayer1], fin.seats[model.SeatPlayer2]
	if p1 != "" && p2 != "" {
		history := &model.GameHistory{
			RoomCode:     code,
			Player1ID:    p1,
			Player2ID:    p2,
			Player1Score: fin.scores[p1],
			Player2Score: fin.scores[p2],
			Rounds:       fin.rounds,
		}
		switch {
		case history.Player1Score > history.Player2Score:
			history.WinnerID = p1
		case history.Player2Score > history.Player1Score:
			history.WinnerID = p2
		}
		if err := s.histories.Create(ctx, history); err != nil {
			s.logger.Error("failed to persist match history", "room", code, "error", err)
		}
	}

	if err := s.rooms.MarkFinished(ctx, code); err != nil {
		s.logger.Warn("failed to mark room finished", "room", code, "error", err)
	}

	s.logger.Info("match finished", "room", code, "rounds", fin.rounds, "reason", fin.reason)
	s.broadcaster.DisconnectRoom(code)
}

// resultMessageFor renders a round outcome for one identity. An identity
// outside the round (shouldn't happen, but broadcasts race disconnects)
// gets a generic view.
func resultMessageFor(userID string, result *model.RoundResult) model.ResultMessage {
	msg := model.ResultMessage{
		Type:          model.MsgResult,
		CorrectAnswer: result.CorrectAnswer,
		Scores:        result.Scores,
		Round:         result.Round,
	}

	r, ok := result.ByUser[userID]
	if !ok {
		msg.Message = "Round over"
		msg.Explanation = result.Explanation
		return msg
	}

	msg.YourAnswer = r.YourAnswer
	msg.IsCorrect = r.IsCorrect
	msg.TimedOut = r.TimedOut
	msg.Points = r.Points

	switch {
	case r.TimedOut:
		msg.Message = fmt.Sprintf("Time up! Correct: %s", result.CorrectAnswer)
		msg.Explanation = result.Explanation
	case r.IsCorrect:
		msg.Message = fmt.Sprintf("Correct! +%d points", r.Points)
	default:
		answer := ""
		if r.YourAnswer != nil {
			answer = *r.YourAnswer
		}
		msg.Message = fmt.Sprintf("Your answer: %s. Correct: %s", answer, result.CorrectAnswer)
		msg.Explanation = result.Explanation
	}
	return msg
}
