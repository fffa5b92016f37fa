package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRoomConfig() RoomConfig {
	return RoomConfig{
		Name:          "Salle de test",
		Language:      "fr",
		Categories:    []string{"Général"},
		Difficulties:  []string{"Facile"},
		MaxPlayers:    4,
		QuestionCount: 3,
		TimerSeconds:  5,
	}
}

func testRoom(t *testing.T) (*roomRegistry, *Room) {
	t.Helper()

	rr := newRoomRegistry()
	room := rr.create(testRoomConfig(), "conn-host", "alice")
	require.NotNil(t, rr.get(room.ID))

	return rr, room
}

func TestRoomCreateSeatsHost(t *testing.T) {
	_, room := testRoom(t)

	assert.Equal(t, RoomLobby, room.Phase)
	assert.Equal(t, "conn-host", room.HostID)
	require.Len(t, room.Entries, 1)
	assert.Equal(t, "alice", room.Entries[0].Name)
	assert.Equal(t, PresenceConnected, room.Entries[0].Presence)
}

func TestRoomJoinCapacity(t *testing.T) {
	_, room := testRoom(t)

	for i, name := range []string{"bob", "carol", "dave"} {
		_, err := room.join("conn-"+name, name, "")
		require.NoError(t, err, "join %d", i)
	}

	_, err := room.join("conn-eve", "eve", "")
	assert.ErrorIs(t, err, errRoomFull)
	assert.LessOrEqual(t, len(room.Entries), room.Config.MaxPlayers)
}

func TestRoomJoinSecret(t *testing.T) {
	rr := newRoomRegistry()
	config := testRoomConfig()
	config.Secret = "hunter2"
	room := rr.create(config, "conn-host", "alice")

	_, err := room.join("conn-bob", "bob", "")
	assert.ErrorIs(t, err, errPasswordRequired)

	_, err = room.join("conn-bob", "bob", "wrong")
	assert.ErrorIs(t, err, errPasswordIncorrect)

	_, err = room.join("conn-bob", "bob", "hunter2")
	assert.NoError(t, err)
}

func TestRoomJoinByExistingNameIsReconnection(t *testing.T) {
	_, room := testRoom(t)

	_, err := room.join("conn-bob", "bob", "")
	require.NoError(t, err)

	room.Phase = RoomInProgress
	entry := room.entryByName("bob")
	entry.Score = 20
	entry.Presence = PresenceDisconnected

	reconnected, err := room.join("conn-bob-2", "bob", "")
	require.NoError(t, err)
	assert.True(t, reconnected)

	require.Len(t, room.Entries, 2, "no duplicate entry")
	entry = room.entryByName("bob")
	assert.Equal(t, "conn-bob-2", entry.PlayerID)
	assert.Equal(t, 20, entry.Score)
	assert.Equal(t, PresenceConnected, entry.Presence)
}

func TestRoomLobbyLeaveRemovesAndPromotes(t *testing.T) {
	_, room := testRoom(t)

	_, err := room.join("conn-bob", "bob", "")
	require.NoError(t, err)
	_, err = room.join("conn-carol", "carol", "")
	require.NoError(t, err)

	res := room.leave("conn-host")
	assert.True(t, res.removed)
	assert.Equal(t, "conn-bob", res.newHostID, "next in join order becomes host")
	assert.Equal(t, "conn-bob", room.HostID)
	assert.Equal(t, RoomLobby, room.Phase)
	assert.Len(t, room.Entries, 2)
}

func TestRoomLobbyLeaveLastPlayerTearsDown(t *testing.T) {
	rr, room := testRoom(t)

	res := room.leave("conn-host")
	assert.True(t, res.teardown)

	rr.delete(room.ID)
	assert.Nil(t, rr.get(room.ID))
}

func TestRoomInProgressLeaveKeepsEntry(t *testing.T) {
	_, room := testRoom(t)

	_, err := room.join("conn-bob", "bob", "")
	require.NoError(t, err)
	require.NoError(t, room.start("conn-host"))

	res := room.leave("conn-bob")
	assert.True(t, res.disconnected)
	assert.False(t, res.removed)

	entry := room.entryByName("bob")
	require.NotNil(t, entry)
	assert.Equal(t, PresenceDisconnected, entry.Presence)
	assert.Len(t, room.Entries, 2)
}

func TestRoomInProgressHostLeaveKeepsHostSlot(t *testing.T) {
	_, room := testRoom(t)

	_, err := room.join("conn-bob", "bob", "")
	require.NoError(t, err)
	require.NoError(t, room.start("conn-host"))

	room.leave("conn-host")
	assert.Equal(t, "conn-host", room.HostID, "no reassignment mid-game")
}

func TestRoomStart(t *testing.T) {
	_, room := testRoom(t)

	_, err := room.join("conn-bob", "bob", "")
	require.NoError(t, err)
	room.Entries[0].Score = 50
	room.Entries[1].Answered = true

	assert.ErrorIs(t, room.start("conn-bob"), errNotHost)

	before := room.Generation
	require.NoError(t, room.start("conn-host"))
	assert.Equal(t, RoomInProgress, room.Phase)
	assert.Equal(t, 0, room.QuestionIndex)
	assert.Greater(t, room.Generation, before)

	for _, e := range room.Entries {
		assert.Zero(t, e.Score)
		assert.False(t, e.Answered)
		assert.Equal(t, PresenceConnected, e.Presence)
	}

	assert.ErrorIs(t, room.start("conn-host"), errGameInProgress)
}

func questionForRoom() *Question {
	return &Question{
		Text:    "Quelle est la capitale de la France ?",
		Kind:    questionKindChoice,
		Choices: []string{"Paris", "Lyon", "Marseille", "Bordeaux"},
		Answer:  "Paris",
	}
}

func TestRoomSubmitAnswerScoresOnce(t *testing.T) {
	_, room := testRoom(t)
	require.NoError(t, room.start("conn-host"))
	room.Current = questionForRoom()

	res, err := room.submitAnswer("conn-host", "paris.", 10)
	require.NoError(t, err)
	assert.True(t, res.correct)
	assert.False(t, res.duplicate)
	assert.Equal(t, 10, room.Entries[0].Score)

	// Duplicate delivery is a silent no-op, never a second score.
	res, err = room.submitAnswer("conn-host", "Paris", 10)
	require.NoError(t, err)
	assert.True(t, res.duplicate)
	assert.Equal(t, 10, room.Entries[0].Score)
}

func TestRoomSubmitAnswerIncorrect(t *testing.T) {
	_, room := testRoom(t)
	require.NoError(t, room.start("conn-host"))
	room.Current = questionForRoom()

	res, err := room.submitAnswer("conn-host", "Pariss", 10)
	require.NoError(t, err)
	assert.False(t, res.correct)
	assert.Zero(t, room.Entries[0].Score)
	assert.Equal(t, "Paris", res.question.Answer)
}

func TestRoomSubmitAnswerRequiresRunningGame(t *testing.T) {
	_, room := testRoom(t)

	_, err := room.submitAnswer("conn-host", "Paris", 10)
	assert.ErrorIs(t, err, errGameNotRunning)

	require.NoError(t, room.start("conn-host"))
	_, err = room.submitAnswer("conn-host", "Paris", 10)
	assert.ErrorIs(t, err, errGameNotRunning, "no in-flight question yet")
}

func TestRoomAdvanceCycle(t *testing.T) {
	_, room := testRoom(t)
	require.NoError(t, room.start("conn-host"))

	for i := 0; i < room.Config.QuestionCount; i++ {
		room.Current = questionForRoom()
		room.Entries[0].Answered = true

		finished := room.advance()
		assert.Equal(t, i == room.Config.QuestionCount-1, finished, "cycle %d", i)
		assert.Nil(t, room.Current)
		assert.False(t, room.Entries[0].Answered)
	}

	assert.Equal(t, RoomLobby, room.Phase)
	assert.Equal(t, room.Config.QuestionCount, room.QuestionIndex)
}

func TestRoomStandingsSortedWithStableTieBreak(t *testing.T) {
	_, room := testRoom(t)

	for _, name := range []string{"bob", "carol"} {
		_, err := room.join("conn-"+name, name, "")
		require.NoError(t, err)
	}

	room.entryByName("alice").Score = 10
	room.entryByName("bob").Score = 30
	room.entryByName("carol").Score = 10

	standings := room.standings()
	require.Len(t, standings, 3)
	assert.Equal(t, Standing{Name: "bob", Score: 30}, standings[0])
	assert.Equal(t, Standing{Name: "alice", Score: 10}, standings[1], "join order breaks the tie")
	assert.Equal(t, Standing{Name: "carol", Score: 10}, standings[2])
}

func TestRoomUpdateSettings(t *testing.T) {
	_, room := testRoom(t)

	err := room.updateSettings("conn-bob", RoomSettings{Categories: []string{"Science"}})
	assert.ErrorIs(t, err, errNotHost)

	err = room.updateSettings("conn-host", RoomSettings{
		Categories:    []string{"Science", "Histoire"},
		QuestionCount: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Science", "Histoire"}, room.Config.Categories)
	assert.Equal(t, 5, room.Config.QuestionCount)
	assert.Equal(t, []string{"Facile"}, room.Config.Difficulties, "unset fields untouched")
	assert.Equal(t, 5, room.Config.TimerSeconds, "unset fields untouched")
}

func TestRoomPruneDisconnected(t *testing.T) {
	_, room := testRoom(t)

	for _, name := range []string{"bob", "carol"} {
		_, err := room.join("conn-"+name, name, "")
		require.NoError(t, err)
	}

	room.entryByName("alice").Presence = PresenceDisconnected

	empty := room.pruneDisconnected()
	assert.False(t, empty)
	assert.Len(t, room.Entries, 2)
	assert.Equal(t, "conn-bob", room.HostID, "host slot re-homed after prune")

	room.entryByName("bob").Presence = PresenceDisconnected
	room.entryByName("carol").Presence = PresenceDisconnected
	assert.True(t, room.pruneDisconnected())
}

func TestRoomRegistrySummaries(t *testing.T) {
	rr := newRoomRegistry()

	config := testRoomConfig()
	config.Secret = "hunter2"
	open := rr.create(testRoomConfig(), "conn-a", "alice")
	locked := rr.create(config, "conn-b", "bob")
	locked.Phase = RoomInProgress

	summaries := rr.summaries()
	require.Len(t, summaries, 2)

	byID := make(map[string]RoomSummary)
	for _, s := range summaries {
		byID[s.ID] = s
	}

	assert.False(t, byID[open.ID].HasSecret)
	assert.False(t, byID[open.ID].InProgress)
	assert.True(t, byID[locked.ID].HasSecret)
	assert.True(t, byID[locked.ID].InProgress)
	assert.Equal(t, 1, byID[open.ID].Players)
}

func TestRoomRegistryExpired(t *testing.T) {
	rr := newRoomRegistry()

	fresh := rr.create(testRoomConfig(), "conn-a", "alice")
	stale := rr.create(testRoomConfig(), "conn-b", "bob")
	stale.CreatedAt = time.Now().Add(-30 * time.Minute)

	expired := rr.expired(20*time.Minute, time.Now())
	require.Len(t, expired, 1)
	assert.Equal(t, stale.ID, expired[0].ID)
	assert.NotNil(t, rr.get(fresh.ID))
}

func TestRoomIDsAreUnique(t *testing.T) {
	rr := newRoomRegistry()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		room := rr.create(testRoomConfig(), "conn-a", "alice")
		assert.False(t, seen[room.ID])
		seen[room.ID] = true
	}
}

func TestPlayerRegistry(t *testing.T) {
	pr := newPlayerRegistry()

	p := pr.register("conn-1")
	assert.Same(t, p, pr.register("conn-1"), "register is idempotent")

	p.Name = "alice"
	p.Score = 40
	assert.Equal(t, "alice", pr.get("conn-1").Name)

	pr.unregister("conn-1")
	assert.Nil(t, pr.get("conn-1"))
}
