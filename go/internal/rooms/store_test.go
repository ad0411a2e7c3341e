package rooms

import (
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/typerace/go/internal/broadcast/broadcasttest"
	"github.com/mcdev12/typerace/go/internal/events"
	"github.com/mcdev12/typerace/go/internal/metrics"
	"github.com/mcdev12/typerace/go/internal/texts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const raceText = "the race text"

type recordingSink struct {
	mu      sync.Mutex
	results []RoundResult
}

func (s *recordingSink) RoundFinished(r RoundResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
}

func (s *recordingSink) Results() []RoundResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RoundResult, len(s.results))
	copy(out, s.results)
	return out
}

type testEnv struct {
	store    *Store
	rec      *broadcasttest.Recorder
	clock    *clockwork.FakeClock
	sink     *recordingSink
	counters *metrics.Counters
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		rec:      broadcasttest.NewRecorder(),
		clock:    clockwork.NewFakeClock(),
		sink:     &recordingSink{},
		counters: metrics.NewCounters(),
	}
	source := texts.NewSource(texts.Passages{raceText}, texts.ModeConcat, nil)
	env.store = NewStore(DefaultConfig(), env.rec, source, env.clock, env.sink, env.counters)
	t.Cleanup(env.store.Shutdown)
	return env
}

// runCountdown advances the fake clock one tick at a time until the race
// text has been sent
func (env *testEnv) runCountdown(t *testing.T, roomID string) {
	t.Helper()
	base := env.rec.Count(events.TimerUpdate)
	for i := 1; i <= 5; i++ {
		env.clock.Advance(time.Second)
		require.Eventually(t, func() bool {
			return env.rec.Count(events.TimerUpdate) == base+i
		}, time.Second, time.Millisecond)
	}
	require.Eventually(t, func() bool {
		phase, err := env.store.Phase(roomID)
		return err == nil && phase == PhaseRacing
	}, time.Second, time.Millisecond)
}

func (env *testEnv) membersOf(t *testing.T, d broadcasttest.Delivery) []Member {
	t.Helper()
	var members []Member
	require.NoError(t, d.Decode(&members))
	return members
}

func TestCreateRoom(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	summary, err := env.store.CreateRoom("  Lobby ")
	require.NoError(t, err)
	assert.Equal(t, "Lobby", summary.ID)
	assert.Equal(t, 0, summary.MemberCount())

	_, err = env.store.CreateRoom("LOBBY")
	assert.ErrorIs(t, err, ErrNameExists)

	_, err = env.store.CreateRoom("   ")
	assert.ErrorIs(t, err, ErrEmptyName)

	_, err = env.store.CreateRoom("Second")
	require.NoError(t, err)

	list := env.store.ListRooms()
	require.Len(t, list, 2)
	assert.Equal(t, "Lobby", list[0].ID)
	assert.Equal(t, "Second", list[1].ID)
	assert.Equal(t, 2, env.store.Len())

	// one room list broadcast per successful create
	require.Equal(t, 2, env.rec.Count(events.UpdateRooms))
	last, _ := env.rec.Last(events.UpdateRooms)
	var rooms []Summary
	require.NoError(t, last.Decode(&rooms))
	assert.Len(t, rooms, 2)
	assert.Equal(t, uint64(2), env.counters.Snapshot().RoomsCreated)
}

func TestJoinRoom(t *testing.T) {
	t.Parallel()

	t.Run("unknown room changes nothing", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)

		_, err := env.store.JoinRoom("nowhere", "c1", "alice")
		assert.ErrorIs(t, err, ErrRoomNotFound)
		assert.Empty(t, env.rec.Deliveries())
		_, ok := env.store.RoomOf("c1")
		assert.False(t, ok)
	})

	t.Run("emits join events in order", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		_, err := env.store.CreateRoom("R1")
		require.NoError(t, err)
		env.rec.Reset()

		summary, err := env.store.JoinRoom("r1", "c1", "alice")
		require.NoError(t, err)
		assert.Equal(t, "R1", summary.ID)
		require.Len(t, summary.Users, 1)
		assert.Equal(t, Member{ConnID: "c1", Username: "alice"}, summary.Users[0])

		assert.Equal(t, []events.Name{
			events.GetRoomID,
			events.UpdateUsersInRoom,
			events.JoinRoomDone,
			events.UpdateRooms,
		}, env.rec.Events())

		getID, _ := env.rec.Last(events.GetRoomID)
		assert.Equal(t, broadcasttest.ScopeConnection, getID.Scope)
		assert.JSONEq(t, `"R1"`, string(getID.Payload))

		done, _ := env.rec.Last(events.JoinRoomDone)
		assert.Equal(t, "c1", done.Target)
		var payload JoinDone
		require.NoError(t, done.Decode(&payload))
		assert.Equal(t, "R1", payload.RoomID)
		assert.Len(t, payload.UsersInRoom, 1)

		update, _ := env.rec.Last(events.UpdateUsersInRoom)
		assert.Equal(t, []string{"c1"}, update.Recipients)

		key, ok := env.store.RoomOf("c1")
		require.True(t, ok)
		assert.Equal(t, "r1", key)
	})

	t.Run("joining the same room twice is a no-op", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		_, err := env.store.CreateRoom("R1")
		require.NoError(t, err)
		_, err = env.store.JoinRoom("R1", "c1", "alice")
		require.NoError(t, err)
		env.rec.Reset()

		_, err = env.store.JoinRoom("R1", "c1", "alice")
		assert.ErrorIs(t, err, ErrAlreadyInRoom)
		assert.Empty(t, env.rec.Deliveries())
		assert.Equal(t, 1, env.store.ListRooms()[0].MemberCount())
	})

	t.Run("switching rooms leaves the previous one", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		_, err := env.store.CreateRoom("R1")
		require.NoError(t, err)
		_, err = env.store.CreateRoom("R2")
		require.NoError(t, err)
		_, err = env.store.JoinRoom("R1", "c1", "alice")
		require.NoError(t, err)

		_, err = env.store.JoinRoom("R2", "c1", "alice")
		require.NoError(t, err)

		list := env.store.ListRooms()
		assert.Equal(t, 0, list[0].MemberCount())
		assert.Equal(t, 1, list[1].MemberCount())
		assert.Empty(t, env.rec.Members("r1"))
		assert.Equal(t, []string{"c1"}, env.rec.Members("r2"))
	})
}

func TestLeaveRoom(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	_, err := env.store.CreateRoom("R1")
	require.NoError(t, err)
	_, err = env.store.JoinRoom("R1", "c1", "alice")
	require.NoError(t, err)
	_, err = env.store.JoinRoom("R1", "c2", "bob")
	require.NoError(t, err)
	env.rec.Reset()

	env.store.LeaveRoom("c1")

	assert.Equal(t, []events.Name{events.UpdateUsersInRoom, events.UpdateRooms}, env.rec.Events())
	update, _ := env.rec.Last(events.UpdateUsersInRoom)
	members := env.membersOf(t, update)
	require.Len(t, members, 1)
	assert.Equal(t, "bob", members[0].Username)

	env.store.LeaveRoom("c2")
	env.store.LeaveRoom("c2")

	// empty rooms are kept
	list := env.store.ListRooms()
	require.Len(t, list, 1)
	assert.Equal(t, 0, list[0].MemberCount())
	_, ok := env.store.RoomOf("c2")
	assert.False(t, ok)
}

func TestReadinessGate(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	_, err := env.store.CreateRoom("R1")
	require.NoError(t, err)
	_, err = env.store.JoinRoom("R1", "a", "alice")
	require.NoError(t, err)
	_, err = env.store.JoinRoom("R1", "b", "bob")
	require.NoError(t, err)

	require.NoError(t, env.store.ToggleReady("a", "R1"))
	assert.Equal(t, 0, env.rec.Count(events.AllReady))
	phase, _ := env.store.Phase("R1")
	assert.Equal(t, PhaseWaiting, phase)

	require.NoError(t, env.store.ToggleReady("b", "r1"))
	assert.Equal(t, 1, env.rec.Count(events.AllReady))
	assert.Equal(t, 1, env.rec.Count(events.TimerStart))
	phase, _ = env.store.Phase("R1")
	assert.Equal(t, PhaseCountdown, phase)

	// stray toggles after the countdown started do nothing
	assert.ErrorIs(t, env.store.ToggleReady("a", "R1"), ErrWrongPhase)
	assert.ErrorIs(t, env.store.ToggleReady("gone", "R1"), ErrWrongPhase)
	assert.ErrorIs(t, env.store.ToggleReady("a", "missing"), ErrRoomNotFound)
	assert.Equal(t, 1, env.rec.Count(events.AllReady))

	start, _ := env.rec.Last(events.TimerStart)
	assert.JSONEq(t, jsonNumber(env.clock.Now().UnixMilli()), string(start.Payload))
}

func TestToggleReadyTwiceUnreadies(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	_, err := env.store.CreateRoom("R1")
	require.NoError(t, err)
	_, err = env.store.JoinRoom("R1", "a", "alice")
	require.NoError(t, err)
	_, err = env.store.JoinRoom("R1", "b", "bob")
	require.NoError(t, err)

	require.NoError(t, env.store.ToggleReady("a", "R1"))
	require.NoError(t, env.store.ToggleReady("a", "R1"))

	update, _ := env.rec.Last(events.UpdateUsersInRoom)
	for _, m := range env.membersOf(t, update) {
		assert.False(t, m.IsReady)
	}
	assert.ErrorIs(t, env.store.ToggleReady("stranger", "R1"), ErrNotMember)
}

func TestCountdown(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	_, err := env.store.CreateRoom("R1")
	require.NoError(t, err)
	_, err = env.store.JoinRoom("R1", "a", "alice")
	require.NoError(t, err)
	_, err = env.store.JoinRoom("R1", "b", "bob")
	require.NoError(t, err)
	env.rec.Reset()

	require.NoError(t, env.store.ToggleReady("a", "R1"))
	require.NoError(t, env.store.ToggleReady("b", "R1"))
	env.runCountdown(t, "R1")

	var ticks []int
	for _, d := range env.rec.Filter(events.TimerUpdate) {
		var v int
		require.NoError(t, d.Decode(&v))
		ticks = append(ticks, v)
	}
	assert.Equal(t, []int{4, 3, 2, 1, 0}, ticks)

	require.Equal(t, 1, env.rec.Count(events.TimerEnd))
	end, _ := env.rec.Last(events.TimerEnd)
	var text string
	require.NoError(t, end.Decode(&text))
	assert.Equal(t, raceText, text)

	// countdown events arrive in order, all addressed to the room
	var sequence []events.Name
	for _, d := range env.rec.Deliveries() {
		if d.Event == events.UpdateUsersInRoom {
			continue
		}
		assert.Equal(t, broadcasttest.ScopeRoom, d.Scope)
		assert.Equal(t, []string{"a", "b"}, d.Recipients)
		sequence = append(sequence, d.Event)
	}
	assert.Equal(t, []events.Name{
		events.AllReady, events.TimerStart,
		events.TimerUpdate, events.TimerUpdate, events.TimerUpdate, events.TimerUpdate, events.TimerUpdate,
		events.TimerEnd,
	}, sequence)

	// no further ticks once racing
	env.clock.Advance(time.Second)
	assert.Never(t, func() bool {
		return env.rec.Count(events.TimerUpdate) > 5
	}, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, uint64(1), env.counters.Snapshot().RoundsStarted)
}

func TestCountdownCancelledWhenRoomEmpties(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	_, err := env.store.CreateRoom("R1")
	require.NoError(t, err)
	_, err = env.store.JoinRoom("R1", "a", "alice")
	require.NoError(t, err)

	require.NoError(t, env.store.ToggleReady("a", "R1"))
	env.clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		return env.rec.Count(events.TimerUpdate) == 1
	}, time.Second, time.Millisecond)

	env.store.LeaveRoom("a")
	phase, _ := env.store.Phase("R1")
	assert.Equal(t, PhaseWaiting, phase)

	for i := 0; i < 5; i++ {
		env.clock.Advance(time.Second)
	}
	assert.Never(t, func() bool {
		return env.rec.Count(events.TimerUpdate) > 1 || env.rec.Count(events.TimerEnd) > 0
	}, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, uint64(1), env.counters.Snapshot().RoundsCancelled)

	// the room is usable again
	_, err = env.store.JoinRoom("R1", "b", "bob")
	require.NoError(t, err)
	require.NoError(t, env.store.ToggleReady("b", "R1"))
	assert.Equal(t, 2, env.rec.Count(events.AllReady))
}

func TestLeaveWhileWaitingStartsCountdown(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	_, err := env.store.CreateRoom("R1")
	require.NoError(t, err)
	_, err = env.store.JoinRoom("R1", "a", "alice")
	require.NoError(t, err)
	_, err = env.store.JoinRoom("R1", "b", "bob")
	require.NoError(t, err)

	require.NoError(t, env.store.ToggleReady("a", "R1"))
	env.store.LeaveRoom("b")

	assert.Equal(t, 1, env.rec.Count(events.AllReady))
	phase, _ := env.store.Phase("R1")
	assert.Equal(t, PhaseCountdown, phase)
}

func TestProgressAndCompletion(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	_, err := env.store.CreateRoom("R1")
	require.NoError(t, err)
	_, err = env.store.JoinRoom("R1", "a", "alice")
	require.NoError(t, err)
	_, err = env.store.JoinRoom("R1", "b", "bob")
	require.NoError(t, err)

	assert.ErrorIs(t, env.store.UpdateProgress("a", "R1", 10), ErrWrongPhase)

	require.NoError(t, env.store.ToggleReady("a", "R1"))
	require.NoError(t, env.store.ToggleReady("b", "R1"))
	env.runCountdown(t, "R1")

	require.NoError(t, env.store.UpdateProgress("a", "R1", 42.5))
	update, _ := env.rec.Last(events.UpdateProgress)
	var p ProgressUpdate
	require.NoError(t, update.Decode(&p))
	assert.Equal(t, ProgressUpdate{UserID: "a", Username: "alice", Progress: 42.5}, p)

	require.NoError(t, env.store.UpdateProgress("b", "R1", -3))
	update, _ = env.rec.Last(events.UpdateProgress)
	require.NoError(t, update.Decode(&p))
	assert.Equal(t, float64(0), p.Progress)

	assert.ErrorIs(t, env.store.UpdateProgress("stranger", "R1", 50), ErrNotMember)

	env.clock.Advance(30 * time.Second)
	require.NoError(t, env.store.UpdateProgress("b", "R1", 250))

	require.Equal(t, 1, env.rec.Count(events.GameOver))
	over, _ := env.rec.Last(events.GameOver)
	standings := env.membersOf(t, over)
	require.Len(t, standings, 2)
	assert.Equal(t, "bob", standings[0].Username)
	assert.Equal(t, float64(100), standings[0].Progress)
	assert.Equal(t, "alice", standings[1].Username)

	// reset follows immediately
	reset, ok := env.rec.Last(events.ResetProgressDone)
	require.True(t, ok)
	for _, m := range env.membersOf(t, reset) {
		assert.Zero(t, m.Progress)
		assert.False(t, m.IsReady)
	}
	phase, _ := env.store.Phase("R1")
	assert.Equal(t, PhaseWaiting, phase)

	// later reports and resets are ignored
	assert.ErrorIs(t, env.store.UpdateProgress("a", "R1", 100), ErrWrongPhase)
	assert.ErrorIs(t, env.store.ResetRound("R1"), ErrWrongPhase)
	assert.Equal(t, 1, env.rec.Count(events.GameOver))

	results := env.sink.Results()
	require.Len(t, results, 1)
	assert.Equal(t, "bob", results[0].Winner.Username)
	assert.Equal(t, 1, results[0].Round)
	assert.Equal(t, 30*time.Second, results[0].Duration())
	assert.Equal(t, len(raceText), results[0].TextLength)

	snap := env.counters.Snapshot()
	assert.Equal(t, uint64(1), snap.RoundsFinished)
	assert.Equal(t, 30*time.Second, snap.RoundDurationTotal)

	// a second round can start
	require.NoError(t, env.store.ToggleReady("a", "R1"))
	require.NoError(t, env.store.ToggleReady("b", "R1"))
	assert.Equal(t, 2, env.rec.Count(events.AllReady))
	env.runCountdown(t, "R1")
	require.NoError(t, env.store.UpdateProgress("a", "R1", 100))
	results = env.sink.Results()
	require.Len(t, results, 2)
	assert.Equal(t, 2, results[1].Round)
}

func TestConcurrentCompletionHasOneWinner(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	_, err := env.store.CreateRoom("R1")
	require.NoError(t, err)

	conns := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, c := range conns {
		_, err := env.store.JoinRoom("R1", c, "user-"+c)
		require.NoError(t, err)
	}
	for _, c := range conns {
		require.NoError(t, env.store.ToggleReady(c, "R1"))
	}
	env.runCountdown(t, "R1")

	var wg sync.WaitGroup
	var accepted, rejected int32
	var mu sync.Mutex
	for _, c := range conns {
		wg.Add(1)
		go func(connID string) {
			defer wg.Done()
			err := env.store.UpdateProgress(connID, "R1", 100)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, ErrWrongPhase):
				rejected++
			}
		}(c)
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted)
	assert.Equal(t, int32(len(conns)-1), rejected)
	assert.Equal(t, 1, env.rec.Count(events.GameOver))
	assert.Len(t, env.sink.Results(), 1)
}

func TestProgressInUnknownRoom(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	assert.ErrorIs(t, env.store.UpdateProgress("a", "nope", 10), ErrRoomNotFound)
	assert.ErrorIs(t, env.store.ResetRound("nope"), ErrRoomNotFound)
	_, err := env.store.Phase("nope")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRoomListsNeverGoBackwards(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := env.store.CreateRoom("room" + strconv.Itoa(i))
			assert.NoError(t, err)
		}(i)
		go func() {
			defer wg.Done()
			env.store.SendRooms("g1")
		}()
	}
	wg.Wait()

	// every list g1 receives, directly or by broadcast, is at least as
	// long as the one before it
	last := -1
	seen := 0
	for _, d := range env.rec.Filter(events.UpdateRooms) {
		if d.Scope == broadcasttest.ScopeConnection && d.Target != "g1" {
			continue
		}
		var list []Summary
		require.NoError(t, d.Decode(&list))
		assert.GreaterOrEqual(t, len(list), last)
		last = len(list)
		seen++
	}
	assert.Equal(t, 40, seen)
	assert.Equal(t, 20, last)
}

func jsonNumber(v int64) string {
	return strconv.FormatInt(v, 10)
}
