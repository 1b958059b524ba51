package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quizbattle/internal/cache"
	"quizbattle/internal/model"
	"quizbattle/internal/service"
)

// --- in-memory fakes -------------------------------------------------------

type fakeStateCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeStateCache() *fakeStateCache {
	return &fakeStateCache{data: make(map[string][]byte)}
}

// Get round-trips through JSON so callers never share memory with the
// store, matching what a real Redis-backed cache gives them.
func (c *fakeStateCache) Get(_ context.Context, code string) (*model.RoomState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.data[code]
	if !ok {
		return nil, nil
	}
	var st model.RoomState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *fakeStateCache) Set(_ context.Context, code string, state *model.RoomState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[code] = raw
	return nil
}

func (c *fakeStateCache) Delete(_ context.Context, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, code)
	return nil
}

type fakeLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *fakeLocker) Lock(_ context.Context, code string) (func() error, error) {
	l.mu.Lock()
	m, ok := l.locks[code]
	if !ok {
		m = &sync.Mutex{}
		l.locks[code] = m
	}
	l.mu.Unlock()

	m.Lock()
	return func() error {
		m.Unlock()
		return nil
	}, nil
}

type failLocker struct{}

func (failLocker) Lock(context.Context, string) (func() error, error) {
	return nil, cache.ErrLockTimeout
}

type fakeRoomRepo struct {
	mu    sync.Mutex
	rooms map[string]*model.Room
}

func newFakeRoomRepo() *fakeRoomRepo {
	return &fakeRoomRepo{rooms: make(map[string]*model.Room)}
}

func (r *fakeRoomRepo) add(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[code] = &model.Room{Code: code, CreatedAt: time.Now()}
}

func (r *fakeRoomRepo) get(code string) model.Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.rooms[code]
}

func (r *fakeRoomRepo) setStarted(code string, started bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[code].Started = started
}

func (r *fakeRoomRepo) Create(_ context.Context, room *model.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *room
	r.rooms[room.Code] = &cp
	return nil
}

func (r *fakeRoomRepo) GetByCode(_ context.Context, code string) (*model.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[code]
	if !ok {
		return nil, nil
	}
	cp := *room
	return &cp, nil
}

func (r *fakeRoomRepo) ListAvailable(_ context.Context) ([]*model.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Room
	for _, room := range r.rooms {
		if room.IsAvailable() {
			cp := *room
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRoomRepo) IncrementPlayerCount(_ context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[code]; ok {
		room.PlayerCount++
	}
	return nil
}

func (r *fakeRoomRepo) DecrementPlayerCount(_ context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[code]; ok {
		if room.PlayerCount > 0 {
			room.PlayerCount--
		}
		if room.PlayerCount == 0 {
			room.Started = false
		}
	}
	return nil
}

func (r *fakeRoomRepo) MarkStarted(_ context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[code]; ok {
		room.Started = true
	}
	return nil
}

func (r *fakeRoomRepo) MarkStopped(_ context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[code]; ok {
		room.Started = false
	}
	return nil
}

func (r *fakeRoomRepo) MarkFinished(_ context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[code]; ok {
		room.Started = false
		room.Finished = true
	}
	return nil
}

// fakeQuestionRepo is deterministic: the first question outside the
// exclude set, falling back to the first in the pool, nil only when the
// pool is empty. Same contract as the Mongo repo, minus the randomness.
type fakeQuestionRepo struct {
	mu        sync.Mutex
	questions []*model.Question
}

func (r *fakeQuestionRepo) Create(_ context.Context, question *model.Question) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *question
	r.questions = append(r.questions, &cp)
	return nil
}

func (r *fakeQuestionRepo) GetRandomUnused(_ context.Context, excludeIDs []string) (*model.Question, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	used := make(map[string]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		used[id] = true
	}
	for _, q := range r.questions {
		if !used[q.ID] {
			cp := *q
			return &cp, nil
		}
	}
	if len(r.questions) > 0 {
		cp := *r.questions[0]
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeQuestionRepo) MaxPossibleScore(_ context.Context, n int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	scores := make([]int, 0, len(r.questions))
	for _, q := range r.questions {
		scores = append(scores, q.Score)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(scores)))
	total := 0
	for i := 0; i < n && i < len(scores); i++ {
		total += scores[i]
	}
	return total, nil
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User)}
}

func (r *fakeUserRepo) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	cp := *user
	return &cp, nil
}

func (r *fakeUserRepo) GetByUsername(_ context.Context, username string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Username == username {
			cp := *user
			return &cp, nil
		}
	}
	return nil, nil
}

type fakeHistoryRepo struct {
	mu      sync.Mutex
	records []*model.GameHistory
}

func (r *fakeHistoryRepo) Create(_ context.Context, history *model.GameHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *history
	r.records = append(r.records, &cp)
	return nil
}

func (r *fakeHistoryRepo) all() []model.GameHistory {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.GameHistory, len(r.records))
	for i, rec := range r.records {
		out[i] = *rec
	}
	return out
}

type sentMessage struct {
	room string
	user string // empty for a room-wide broadcast
	msg  any
}

type fakeBroadcaster struct {
	mu           sync.Mutex
	sent         []sentMessage
	disconnected []string
}

func (b *fakeBroadcaster) BroadcastToRoom(code string, msg any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sentMessage{room: code, msg: msg})
}

func (b *fakeBroadcaster) SendToUser(code, userID string, msg any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sentMessage{room: code, user: userID, msg: msg})
}

func (b *fakeBroadcaster) DisconnectRoom(code string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnected = append(b.disconnected, code)
}

func (b *fakeBroadcaster) starts() []model.StartMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []model.StartMessage
	for _, sm := range b.sent {
		if m, ok := sm.msg.(model.StartMessage); ok {
			out = append(out, m)
		}
	}
	return out
}

func (b *fakeBroadcaster) stopTimers() []model.StopTimerMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []model.StopTimerMessage
	for _, sm := range b.sent {
		if m, ok := sm.msg.(model.StopTimerMessage); ok {
			out = append(out, m)
		}
	}
	return out
}

func (b *fakeBroadcaster) finished() []model.FinishedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []model.FinishedMessage
	for _, sm := range b.sent {
		if m, ok := sm.msg.(model.FinishedMessage); ok {
			out = append(out, m)
		}
	}
	return out
}

func (b *fakeBroadcaster) resultsFor(userID string) []model.ResultMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []model.ResultMessage
	for _, sm := range b.sent {
		if m, ok := sm.msg.(model.ResultMessage); ok && sm.user == userID {
			out = append(out, m)
		}
	}
	return out
}

func (b *fakeBroadcaster) joinedFor(userID string) []model.JoinedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []model.JoinedMessage
	for _, sm := range b.sent {
		if m, ok := sm.msg.(model.JoinedMessage); ok && sm.user == userID {
			out = append(out, m)
		}
	}
	return out
}

func (b *fakeBroadcaster) playerEvents(typ model.MessageType) []model.PlayerEventMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []model.PlayerEventMessage
	for _, sm := range b.sent {
		if m, ok := sm.msg.(model.PlayerEventMessage); ok && m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func (b *fakeBroadcaster) disconnects() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string{}, b.disconnected...)
}

// --- fixture ---------------------------------------------------------------

var (
	alice = &model.User{ID: "u-alice", Username: "alice"}
	bob   = &model.User{ID: "u-bob", Username: "bob", DisplayName: "Bob"}
	carol = &model.User{ID: "u-carol", Username: "carol"}
)

type fixture struct {
	svc       *service.BattleService
	states    *fakeStateCache
	locker    *fakeLocker
	rooms     *fakeRoomRepo
	questions *fakeQuestionRepo
	users     *fakeUserRepo
	histories *fakeHistoryRepo
	bc        *fakeBroadcaster
}

func newFixture(t *testing.T, cfg service.BattleConfig, pool []*model.Question) *fixture {
	t.Helper()
	f := &fixture{
		states:    newFakeStateCache(),
		locker:    newFakeLocker(),
		rooms:     newFakeRoomRepo(),
		questions: &fakeQuestionRepo{},
		users:     newFakeUserRepo(),
		histories: &fakeHistoryRepo{},
		bc:        &fakeBroadcaster{},
	}
	ctx := context.Background()
	for _, q := range pool {
		require.NoError(t, f.questions.Create(ctx, q))
	}
	for _, u := range []*model.User{alice, bob, carol} {
		require.NoError(t, f.users.Create(ctx, u))
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = service.NewBattleService(f.states, f.locker, f.rooms, f.questions, f.users, f.histories, cfg, logger)
	f.svc.SetBroadcaster(f.bc)
	return f
}

func (f *fixture) state(t *testing.T, code string) *model.RoomState {
	t.Helper()
	st, err := f.states.Get(context.Background(), code)
	require.NoError(t, err)
	return st
}

func testConfig() service.BattleConfig {
	return service.BattleConfig{
		RoundLimit:      3,
		Countdown:       5 * time.Second,
		InterRoundDelay: 20 * time.Millisecond,
	}
}

func questionPool(n int) []*model.Question {
	pool := make([]*model.Question, n)
	for i := range pool {
		pool[i] = &model.Question{
			ID:          fmt.Sprintf("q%d", i+1),
			Text:        fmt.Sprintf("question %d", i+1),
			A:           "option a",
			B:           "option b",
			C:           "option c",
			D:           "option d",
			Correct:     "B",
			Explanation: fmt.Sprintf("because of %d", i+1),
			Score:       5 + i,
		}
	}
	return pool
}

func waitFor(t *testing.T, cond func() bool, desc string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

// --- tests -----------------------------------------------------------------

func TestJoinAssignsSeatsAndStartsMatch(t *testing.T) {
	f := newFixture(t, testConfig(), questionPool(3))
	f.rooms.add("R1")
	ctx := context.Background()

	require.NoError(t, f.svc.Join(ctx, "R1", alice))

	joined := f.bc.joinedFor(alice.ID)
	require.Len(t, joined, 1)
	require.Equal(t, model.SeatPlayer1, joined[0].Seat)
	require.Equal(t, 1, joined[0].PlayerCount)
	require.Nil(t, joined[0].Opponent)

	require.NoError(t, f.svc.Join(ctx, "R1", bob))

	joined = f.bc.joinedFor(bob.ID)
	require.Len(t, joined, 1)
	require.Equal(t, model.SeatPlayer2, joined[0].Seat)
	require.Equal(t, 2, joined[0].PlayerCount)
	require.NotNil(t, joined[0].Opponent)
	require.Equal(t, alice.ID, joined[0].Opponent.UserID)
	require.Equal(t, model.SeatPlayer1, joined[0].Opponent.Seat)

	waitFor(t, func() bool { return len(f.bc.starts()) == 1 }, "first round")
	start := f.bc.starts()[0]
	require.Equal(t, 1, start.Round)
	require.Equal(t, 5, start.Timer)
	require.Equal(t, "q1", start.Question.ID)

	room := f.rooms.get("R1")
	require.True(t, room.Started)
	require.Equal(t, 2, room.PlayerCount)

	st := f.state(t, "R1")
	require.NotNil(t, st)
	require.Equal(t, 1, st.QuestionNumber)
	require.Equal(t, 2, st.ExpectedParticipants)
	require.True(t, st.TimerRunning)
}

func TestJoinUnknownRoom(t *testing.T) {
	f := newFixture(t, testConfig(), questionPool(1))

	err := f.svc.Join(context.Background(), "NOPE", alice)
	require.ErrorIs(t, err, service.ErrRoomNotFound)
}

func TestJoinStartedRoomRejectsNewIdentity(t *testing.T) {
	f := newFixture(t, testConfig(), questionPool(1))
	f.rooms.add("R1")
	f.rooms.setStarted("R1", true)

	err := f.svc.Join(context.Background(), "R1", carol)
	require.ErrorIs(t, err, service.ErrAlreadyStarted)
}

func TestJoinRefusesThirdSeat(t *testing.T) {
	f := newFixture(t, testConfig(), questionPool(3))
	f.rooms.add("R1")
	ctx := context.Background()

	require.NoError(t, f.svc.Join(ctx, "R1", alice))
	require.NoError(t, f.svc.Join(ctx, "R1", bob))
	waitFor(t, func() bool { return len(f.bc.starts()) == 1 }, "first round")

	// Even if the lobby flag lags behind, both seats being held is enough
	// to turn a third identity away.
	f.rooms.setStarted("R1", false)
	err := f.svc.Join(ctx, "R1", carol)
	require.ErrorIs(t, err, service.ErrRoomFull)

	st := f.state(t, "R1")
	require.Len(t, st.Participants, 2)
	require.NotContains(t, st.Participants, carol.ID)
}

func TestDuplicateJoinRejected(t *testing.T) {
	f := newFixture(t, testConfig(), questionPool(1))
	f.rooms.add("R1")
	ctx := context.Background()

	require.NoError(t, f.svc.Join(ctx, "R1", alice))
	err := f.svc.Join(ctx, "R1", alice)
	require.ErrorIs(t, err, service.ErrDuplicateSeat)

	require.Equal(t, 1, f.rooms.get("R1").PlayerCount)
	require.Equal(t, 1, f.state(t, "R1").ConnectedCount())
}

func TestAnswerBarrierResolvesRound(t *testing.T) {
	f := newFixture(t, testConfig(), questionPool(3))
	f.rooms.add("R1")
	ctx := context.Background()

	require.NoError(t, f.svc.Join(ctx, "R1", alice))
	require.NoError(t, f.svc.Join(ctx, "R1", bob))
	waitFor(t, func() bool { return len(f.bc.starts()) == 1 }, "first round")

	require.NoError(t, f.svc.SubmitAnswer(ctx, "R1", alice.ID, "B"))

	answered := f.bc.playerEvents(model.MsgPlayerAnswered)
	require.Len(t, answered, 1)
	require.Equal(t, alice.ID, answered[0].UserID)
	require.Empty(t, f.bc.resultsFor(alice.ID), "one answer must not resolve the round")

	require.NoError(t, f.svc.SubmitAnswer(ctx, "R1", bob.ID, "A"))
	waitFor(t, func() bool {
		return len(f.bc.resultsFor(alice.ID)) == 1 && len(f.bc.resultsFor(bob.ID)) == 1
	}, "round resolution")

	aliceRes := f.bc.resultsFor(alice.ID)[0]
	require.True(t, aliceRes.IsCorrect)
	require.False(t, aliceRes.TimedOut)
	require.Equal(t, 5, aliceRes.Points)
	require.Equal(t, "Correct! +5 points", aliceRes.Message)
	require.Empty(t, aliceRes.Explanation)
	require.NotNil(t, aliceRes.YourAnswer)
	require.Equal(t, "B", *aliceRes.YourAnswer)

	bobRes := f.bc.resultsFor(bob.ID)[0]
	require.False(t, bobRes.IsCorrect)
	require.Equal(t, 0, bobRes.Points)
	require.Equal(t, "because of 1", bobRes.Explanation)
	require.Equal(t, map[string]int{alice.ID: 5, bob.ID: 0}, bobRes.Scores)

	waitFor(t, func() bool { return len(f.bc.starts()) == 2 }, "second round")
	stops := f.bc.stopTimers()
	require.Len(t, stops, 1)
	require.Equal(t, "round_resolved", stops[0].Reason)

	st := f.state(t, "R1")
	require.Equal(t, 2, st.QuestionNumber)
	require.Equal(t, []string{"q1", "q2"}, st.UsedQuestionIDs)
}

func TestSecondAnswerIgnored(t *testing.T) {
	f := newFixture(t, testConfig(), questionPool(1))
	f.rooms.add("R1")
	ctx := context.Background()

	require.NoError(t, f.svc.Join(ctx, "R1", alice))
	require.NoError(t, f.svc.Join(ctx, "R1", bob))
	waitFor(t, func() bool { return len(f.bc.starts()) == 1 }, "first round")

	require.NoError(t, f.svc.SubmitAnswer(ctx, "R1", alice.ID, "A"))
	require.NoError(t, f.svc.SubmitAnswer(ctx, "R1", alice.ID, "B"))

	st := f.state(t, "R1")
	require.NotNil(t, st.Answers[alice.ID])
	require.Equal(t, "A", *st.Answers[alice.ID])

	answered := f.bc.playerEvents(model.MsgPlayerAnswered)
	require.Len(t, answered, 1)
	require.Empty(t, f.bc.resultsFor(alice.ID))
}

func TestCountdownTimeoutResolvesAndFinishes(t *testing.T) {
	cfg := service.BattleConfig{
		RoundLimit:      1,
		Countdown:       60 * time.Millisecond,
		InterRoundDelay: 10 * time.Millisecond,
	}
	f := newFixture(t, cfg, questionPool(1))
	f.rooms.add("R1")
	ctx := context.Background()

	require.NoError(t, f.svc.Join(ctx, "R1", alice))
	require.NoError(t, f.svc.Join(ctx, "R1", bob))
	waitFor(t, func() bool { return len(f.bc.starts()) == 1 }, "first round")

	require.NoError(t, f.svc.SubmitAnswer(ctx, "R1", alice.ID, "B"))
	// Bob stays silent until the countdown expires.
	waitFor(t, func() bool { return len(f.bc.finished()) == 1 }, "match finish")

	bobRes := f.bc.resultsFor(bob.ID)
	require.Len(t, bobRes, 1)
	require.True(t, bobRes[0].TimedOut)
	require.False(t, bobRes[0].IsCorrect)
	require.Nil(t, bobRes[0].YourAnswer)
	require.Equal(t, "Time up! Correct: B", bobRes[0].Message)
	require.Equal(t, "because of 1", bobRes[0].Explanation)

	aliceRes := f.bc.resultsFor(alice.ID)
	require.Len(t, aliceRes, 1)
	require.True(t, aliceRes[0].IsCorrect)
	require.Equal(t, 5, aliceRes[0].Points)

	fin := f.bc.finished()[0]
	require.Equal(t, map[string]int{alice.ID: 5, bob.ID: 0}, fin.Scores)
	require.Equal(t, map[string]int{"alice": 5, "Bob": 0}, fin.ScoresByName)
	require.Equal(t, 5, fin.MaxScore)
	require.Empty(t, fin.Reason)

	histories := f.histories.all()
	require.Len(t, histories, 1)
	require.Equal(t, alice.ID, histories[0].WinnerID)
	require.Equal(t, 1, histories[0].Rounds)
	require.Equal(t, 5, histories[0].Player1Score)
	require.Equal(t, 0, histories[0].Player2Score)

	room := f.rooms.get("R1")
	require.False(t, room.Started)
	require.True(t, room.Finished)
	require.Equal(t, []string{"R1"}, f.bc.disconnects())
	require.Nil(t, f.state(t, "R1"))
}

func TestLeaveMidRoundSynthesizesTimeout(t *testing.T) {
	cfg := service.BattleConfig{
		RoundLimit:      1,
		Countdown:       5 * time.Second,
		InterRoundDelay: 10 * time.Millisecond,
	}
	f := newFixture(t, cfg, questionPool(1))
	f.rooms.add("R1")
	ctx := context.Background()

	require.NoError(t, f.svc.Join(ctx, "R1", alice))
	require.NoError(t, f.svc.Join(ctx, "R1", bob))
	waitFor(t, func() bool { return len(f.bc.starts()) == 1 }, "first round")

	require.NoError(t, f.svc.Leave(ctx, "R1", bob.ID))

	left := f.bc.playerEvents(model.MsgPlayerLeft)
	require.Len(t, left, 1)
	require.Equal(t, bob.ID, left[0].UserID)
	require.Equal(t, 1, f.rooms.get("R1").PlayerCount)

	st := f.state(t, "R1")
	require.True(t, st.Answered[bob.ID])
	require.True(t, st.AutoAnswered[bob.ID])
	require.False(t, st.Connected[bob.ID])

	// The remaining player finishes the round; no timer expiry needed.
	require.NoError(t, f.svc.SubmitAnswer(ctx, "R1", alice.ID, "B"))
	waitFor(t, func() bool { return len(f.bc.finished()) == 1 }, "match finish")

	fin := f.bc.finished()[0]
	require.Equal(t, map[string]int{alice.ID: 5, bob.ID: 0}, fin.Scores)

	histories := f.histories.all()
	require.Len(t, histories, 1)
	require.Equal(t, alice.ID, histories[0].WinnerID)
}

func TestLeaveOfLastUnansweredResolvesAndReplayOnRejoin(t *testing.T) {
	cfg := service.BattleConfig{
		RoundLimit:      2,
		Countdown:       5 * time.Second,
		InterRoundDelay: 300 * time.Millisecond,
	}
	f := newFixture(t, cfg, questionPool(2))
	f.rooms.add("R1")
	ctx := context.Background()

	require.NoError(t, f.svc.Join(ctx, "R1", alice))
	require.NoError(t, f.svc.Join(ctx, "R1", bob))
	waitFor(t, func() bool { return len(f.bc.starts()) == 1 }, "first round")

	require.NoError(t, f.svc.SubmitAnswer(ctx, "R1", alice.ID, "B"))
	require.NoError(t, f.svc.Leave(ctx, "R1", bob.ID))

	waitFor(t, func() bool { return len(f.bc.resultsFor(alice.ID)) == 1 }, "round resolution")

	st := f.state(t, "R1")
	require.NotNil(t, st.LastResult)
	require.Equal(t, 1, st.LastResult.Round)
	require.True(t, st.LastResultAck[alice.ID])
	require.False(t, st.LastResultAck[bob.ID], "a disconnected participant has not seen the result")

	require.NoError(t, f.svc.Join(ctx, "R1", bob))

	joined := f.bc.joinedFor(bob.ID)
	require.Len(t, joined, 2)
	require.Equal(t, model.SeatPlayer2, joined[1].Seat, "reconnect keeps the seat")

	// One result was sent at resolution, the second is the replay.
	bobRes := f.bc.resultsFor(bob.ID)
	require.Len(t, bobRes, 2)
	require.Equal(t, 1, bobRes[1].Round)
	require.True(t, bobRes[1].TimedOut)
	require.Equal(t, map[string]int{alice.ID: 5, bob.ID: 0}, bobRes[1].Scores)

	st = f.state(t, "R1")
	require.True(t, st.LastResultAck[bob.ID])
	require.Equal(t, 2, f.rooms.get("R1").PlayerCount)

	waitFor(t, func() bool { return len(f.bc.starts()) == 2 }, "second round")
	st = f.state(t, "R1")
	require.Equal(t, 2, st.ExpectedParticipants, "the rejoined player is back in the snapshot")
}

func TestRoomEmptyingTearsDownState(t *testing.T) {
	f := newFixture(t, testConfig(), questionPool(2))
	f.rooms.add("R1")
	ctx := context.Background()

	require.NoError(t, f.svc.Join(ctx, "R1", alice))
	require.NoError(t, f.svc.Join(ctx, "R1", bob))
	waitFor(t, func() bool { return len(f.bc.starts()) == 1 }, "first round")

	require.NoError(t, f.svc.Leave(ctx, "R1", alice.ID))
	require.NoError(t, f.svc.Leave(ctx, "R1", bob.ID))

	require.Nil(t, f.state(t, "R1"))
	room := f.rooms.get("R1")
	require.False(t, room.Started)
	require.Equal(t, 0, room.PlayerCount)
	require.Len(t, f.bc.playerEvents(model.MsgPlayerLeft), 2)
	require.Empty(t, f.bc.resultsFor(alice.ID), "an abandoned round is not scored")
	require.Empty(t, f.bc.resultsFor(bob.ID))
}

func TestPoolExhaustionFinishesEarly(t *testing.T) {
	cfg := service.BattleConfig{
		RoundLimit:      10,
		Countdown:       5 * time.Second,
		InterRoundDelay: 10 * time.Millisecond,
	}
	f := newFixture(t, cfg, questionPool(2))
	f.rooms.add("R1")
	ctx := context.Background()

	require.NoError(t, f.svc.Join(ctx, "R1", alice))
	require.NoError(t, f.svc.Join(ctx, "R1", bob))

	for round := 1; round <= 2; round++ {
		waitFor(t, func() bool { return len(f.bc.starts()) == round }, "round start")
		require.NoError(t, f.svc.SubmitAnswer(ctx, "R1", alice.ID, "B"))
		require.NoError(t, f.svc.SubmitAnswer(ctx, "R1", bob.ID, "B"))
	}
	waitFor(t, func() bool { return len(f.bc.finished()) == 1 }, "early finish")

	fin := f.bc.finished()[0]
	require.Equal(t, "no_questions", fin.Reason)
	require.Equal(t, map[string]int{alice.ID: 11, bob.ID: 11}, fin.Scores)
	require.Equal(t, 11, fin.MaxScore)

	histories := f.histories.all()
	require.Len(t, histories, 1)
	require.Empty(t, histories[0].WinnerID, "a draw records no winner")
	require.Equal(t, 2, histories[0].Rounds)
	require.Nil(t, f.state(t, "R1"))
}

func TestBarrierAndExpiryRaceResolvesOnce(t *testing.T) {
	cfg := service.BattleConfig{
		RoundLimit:      1,
		Countdown:       50 * time.Millisecond,
		InterRoundDelay: 5 * time.Millisecond,
	}
	f := newFixture(t, cfg, questionPool(1))
	f.rooms.add("R1")
	ctx := context.Background()

	require.NoError(t, f.svc.Join(ctx, "R1", alice))
	require.NoError(t, f.svc.Join(ctx, "R1", bob))
	waitFor(t, func() bool { return len(f.bc.starts()) == 1 }, "first round")

	// Land the answers right on the countdown expiry.
	time.Sleep(40 * time.Millisecond)
	var wg sync.WaitGroup
	for _, sub := range []struct{ userID, answer string }{
		{alice.ID, "B"},
		{bob.ID, "A"},
	} {
		wg.Add(1)
		go func(userID, answer string) {
			defer wg.Done()
			_ = f.svc.SubmitAnswer(ctx, "R1", userID, answer)
		}(sub.userID, sub.answer)
	}
	wg.Wait()

	waitFor(t, func() bool { return len(f.bc.finished()) == 1 }, "match finish")

	require.Len(t, f.bc.resultsFor(alice.ID), 1, "exactly one result per participant")
	require.Len(t, f.bc.resultsFor(bob.ID), 1)
	require.Len(t, f.bc.stopTimers(), 1)
	require.Len(t, f.histories.all(), 1)

	fin := f.bc.finished()[0]
	require.LessOrEqual(t, fin.Scores[alice.ID], 5, "a round never scores twice")
	require.Equal(t, 0, fin.Scores[bob.ID])
}

func TestLockTimeoutSurfaces(t *testing.T) {
	f := newFixture(t, testConfig(), questionPool(1))
	f.rooms.add("R1")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.NewBattleService(f.states, failLocker{}, f.rooms, f.questions, f.users, f.histories, testConfig(), logger)
	svc.SetBroadcaster(f.bc)

	err := svc.Join(context.Background(), "R1", alice)
	require.ErrorIs(t, err, cache.ErrLockTimeout)
}
