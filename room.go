package main

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Rejection and precondition failures surfaced to clients. Every handler
// converts these into explicit rejection events; none of them may escape
// the gateway loop.
var (
	errRoomNotFound      = errors.New("room not found")
	errRoomFull          = errors.New("room is full")
	errPasswordRequired  = errors.New("password required")
	errPasswordIncorrect = errors.New("password incorrect")
	errNotHost           = errors.New("only the host may do that")
	errGameInProgress    = errors.New("game already in progress")
	errGameNotRunning    = errors.New("no game in progress")
	errEmptyRoom         = errors.New("room has no players")
)

// RoomPhase is the room lifecycle: Lobby accepts joins and host
// configuration, InProgress runs the question cycle. A finished game flips
// the room back to Lobby.
type RoomPhase int

const (
	RoomLobby RoomPhase = iota
	RoomInProgress
)

func (p RoomPhase) String() string {
	if p == RoomInProgress {
		return "in-progress"
	}
	return "lobby"
}

// Presence distinguishes an entry that left mid-game (kept for score
// continuity) from one that is still connected.
type Presence int

const (
	PresenceConnected Presence = iota
	PresenceDisconnected
)

// RoomEntry is a player's per-room state, distinct from their global
// identity. Entries survive mid-game disconnects; the player's score and
// position in the join order are restored on reconnection by name.
type RoomEntry struct {
	PlayerID string
	Name     string
	Score    int
	Answered bool
	Presence Presence
}

// RoomConfig is the room's configuration snapshot. Categories and
// Difficulties are always non-empty; changes apply starting with the next
// question request.
type RoomConfig struct {
	Name          string
	Language      string
	Categories    []string
	Difficulties  []string
	MaxPlayers    int
	QuestionCount int
	TimerSeconds  int
	Secret        string
}

// Room is one isolated game session. All mutation happens on the gateway
// goroutine, so rooms carry no locks of their own.
//
// Invariants: HostID names a current entry whenever Entries is non-empty;
// len(Entries) <= Config.MaxPlayers; while in progress,
// 0 <= QuestionIndex <= Config.QuestionCount.
type Room struct {
	ID            string
	Config        RoomConfig
	HostID        string
	Entries       []*RoomEntry
	Phase         RoomPhase
	QuestionIndex int
	Current       *Question
	Generation    uint64
	CreatedAt     time.Time
}

func (r *Room) entryByPlayerID(playerID string) *RoomEntry {
	for _, e := range r.Entries {
		if e.PlayerID == playerID {
			return e
		}
	}
	return nil
}

func (r *Room) entryByName(name string) *RoomEntry {
	for _, e := range r.Entries {
		if e.Name == name {
			return e
		}
	}
	return nil
}

// join admits a player, reusing an existing entry when the name already has
// one (reconnection: identity and presence are updated in place, score
// preserved). Returns whether the join was a reconnection.
func (r *Room) join(playerID, name, secret string) (bool, error) {
	if r.Config.Secret != "" {
		switch {
		case secret == "":
			return false, errPasswordRequired
		case secret != r.Config.Secret:
			return false, errPasswordIncorrect
		}
	}

	if existing := r.entryByName(name); existing != nil {
		existing.PlayerID = playerID
		existing.Presence = PresenceConnected
		return true, nil
	}

	if len(r.Entries) >= r.Config.MaxPlayers {
		return false, errRoomFull
	}

	r.Entries = append(r.Entries, &RoomEntry{
		PlayerID: playerID,
		Name:     name,
		Presence: PresenceConnected,
	})

	return false, nil
}

// leaveResult describes what a departure changed, so the gateway can pick
// the right broadcasts.
type leaveResult struct {
	removed      bool
	disconnected bool
	newHostID    string
	teardown     bool
}

// leave applies the departure policy: lobby departures remove the entry
// outright (promoting the next entry to host, or tearing the room down);
// mid-game departures only flip the entry to disconnected, preserving the
// score for reconnection. Mid-game host departure leaves the room hostless
// for host-only actions until the host reconnects under the same name.
func (r *Room) leave(playerID string) leaveResult {
	entry := r.entryByPlayerID(playerID)
	if entry == nil {
		return leaveResult{}
	}

	if r.Phase == RoomInProgress {
		entry.Presence = PresenceDisconnected
		return leaveResult{disconnected: true}
	}

	res := leaveResult{removed: true}

	dst := r.Entries[:0]
	for _, e := range r.Entries {
		if e.PlayerID == playerID {
			continue
		}
		dst = append(dst, e)
	}
	r.Entries = dst

	if len(r.Entries) == 0 {
		res.teardown = true
		return res
	}

	if r.HostID == playerID {
		r.HostID = r.Entries[0].PlayerID
		res.newHostID = r.HostID
	}

	return res
}

// start transitions Lobby -> InProgress: scores, answered flags, and the
// question index are reset, and the generation advances so any stale timer
// or fetch from a previous game is discarded.
func (r *Room) start(playerID string) error {
	if playerID != r.HostID {
		return errNotHost
	}
	if r.Phase == RoomInProgress {
		return errGameInProgress
	}
	if len(r.Entries) == 0 {
		return errEmptyRoom
	}

	for _, e := range r.Entries {
		e.Score = 0
		e.Answered = false
		e.Presence = PresenceConnected
	}

	r.Phase = RoomInProgress
	r.QuestionIndex = 0
	r.Current = nil
	r.Generation++

	return nil
}

// answerResult is the outcome of a submission. A duplicate submission is a
// silent no-op: scored is false and nothing should be broadcast.
type answerResult struct {
	duplicate bool
	correct   bool
	question  *Question
}

// submitAnswer accepts at most one submission per entry per question.
// Correctness is a normalized comparison against the canonical answer, never
// against a shuffled position.
func (r *Room) submitAnswer(playerID, text string, points int) (answerResult, error) {
	if r.Phase != RoomInProgress || r.Current == nil {
		return answerResult{}, errGameNotRunning
	}

	entry := r.entryByPlayerID(playerID)
	if entry == nil {
		return answerResult{}, errRoomNotFound
	}

	if entry.Answered {
		return answerResult{duplicate: true}, nil
	}
	entry.Answered = true

	res := answerResult{
		correct:  answersMatch(text, r.Current.Answer),
		question: r.Current,
	}

	if res.correct {
		entry.Score += points
	}

	return res, nil
}

// advance moves the question cycle forward: the index increments, answered
// flags reset, and the in-flight question clears. Returns true when the
// index reaches the target and the room has flipped back to Lobby.
func (r *Room) advance() bool {
	r.QuestionIndex++
	r.Current = nil
	r.Generation++

	for _, e := range r.Entries {
		e.Answered = false
	}

	if r.QuestionIndex >= r.Config.QuestionCount {
		r.Phase = RoomLobby
		return true
	}

	return false
}

// pruneDisconnected removes entries that left mid-game once the room is back
// in the lobby, re-homing the host slot if needed. Returns true when the
// room emptied out entirely.
func (r *Room) pruneDisconnected() bool {
	dst := r.Entries[:0]
	for _, e := range r.Entries {
		if e.Presence == PresenceDisconnected {
			continue
		}
		dst = append(dst, e)
	}
	r.Entries = dst

	if len(r.Entries) == 0 {
		return true
	}

	if r.entryByPlayerID(r.HostID) == nil {
		r.HostID = r.Entries[0].PlayerID
	}

	return false
}

// Standing is one row of the final scoreboard.
type Standing struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// standings sorts entries by score descending, keeping the original join
// order as a stable tie-break.
func (r *Room) standings() []Standing {
	out := make([]Standing, 0, len(r.Entries))
	for _, e := range r.Entries {
		out = append(out, Standing{Name: e.Name, Score: e.Score})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})

	return out
}

// updateSettings overwrites the tunable parts of the room configuration.
// Host-only; allowed pre-game or mid-game, effective from the next question
// request.
func (r *Room) updateSettings(playerID string, s RoomSettings) error {
	if playerID != r.HostID {
		return errNotHost
	}

	if len(s.Categories) > 0 {
		r.Config.Categories = s.Categories
	}
	if len(s.Difficulties) > 0 {
		r.Config.Difficulties = s.Difficulties
	}
	if s.QuestionCount > 0 {
		r.Config.QuestionCount = s.QuestionCount
	}
	if s.TimerSeconds > 0 {
		r.Config.TimerSeconds = s.TimerSeconds
	}

	return nil
}

func (r *Room) expired(maxAge time.Duration, now time.Time) bool {
	return now.Sub(r.CreatedAt) > maxAge
}

// RoomSummary is the public listing view of a room. In-progress rooms stay
// listed, flagged, so a disconnected player can find their game again.
type RoomSummary struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Players      int      `json:"players"`
	MaxPlayers   int      `json:"maxPlayers"`
	Categories   []string `json:"categories"`
	Difficulties []string `json:"difficulties"`
	HasSecret    bool     `json:"hasSecret"`
	InProgress   bool     `json:"inProgress"`
}

// roomRegistry owns the room map. It is only ever touched from the gateway
// goroutine.
type roomRegistry struct {
	rooms map[string]*Room
}

func newRoomRegistry() *roomRegistry {
	return &roomRegistry{
		rooms: make(map[string]*Room),
	}
}

func (rr *roomRegistry) create(config RoomConfig, hostID, hostName string) *Room {
	room := &Room{
		ID:        rr.newRoomID(),
		Config:    config,
		HostID:    hostID,
		Phase:     RoomLobby,
		CreatedAt: time.Now(),
		Entries: []*RoomEntry{
			{
				PlayerID: hostID,
				Name:     hostName,
				Presence: PresenceConnected,
			},
		},
	}

	rr.rooms[room.ID] = room

	return room
}

func (rr *roomRegistry) get(id string) *Room {
	return rr.rooms[id]
}

func (rr *roomRegistry) delete(id string) {
	delete(rr.rooms, id)
}

// summaries lists every room, oldest first, for the public lobby view.
func (rr *roomRegistry) summaries() []RoomSummary {
	out := make([]RoomSummary, 0, len(rr.rooms))
	for _, room := range rr.rooms {
		out = append(out, RoomSummary{
			ID:           room.ID,
			Name:         room.Config.Name,
			Players:      len(room.Entries),
			MaxPlayers:   room.Config.MaxPlayers,
			Categories:   room.Config.Categories,
			Difficulties: room.Config.Difficulties,
			HasSecret:    room.Config.Secret != "",
			InProgress:   room.Phase == RoomInProgress,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})

	return out
}

// expired returns the rooms older than maxAge. Callers must notify members
// before deleting.
func (rr *roomRegistry) expired(maxAge time.Duration, now time.Time) []*Room {
	var out []*Room
	for _, room := range rr.rooms {
		if room.expired(maxAge, now) {
			out = append(out, room)
		}
	}
	return out
}

// newRoomID generates a generation-stamped room ID with a crypto-random
// suffix, retrying on the (unlikely) collision.
func (rr *roomRegistry) newRoomID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 4)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 4)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := fmt.Sprintf("quiz-%d-%s", time.Now().UnixMilli(), string(out))

		if _, exists := rr.rooms[id]; !exists {
			return id
		}
	}
}

// Player is a connected identity: connection-scoped ID, display name, and
// the score accumulated across games this session.
type Player struct {
	ID     string
	Name   string
	Score  int
	RoomID string
}

// playerRegistry owns the player map, keyed by connection identity. Room
// membership cleanup is the gateway's job, not the registry's.
type playerRegistry struct {
	players map[string]*Player
}

func newPlayerRegistry() *playerRegistry {
	return &playerRegistry{
		players: make(map[string]*Player),
	}
}

func (pr *playerRegistry) register(id string) *Player {
	if p, ok := pr.players[id]; ok {
		return p
	}

	p := &Player{ID: id}
	pr.players[id] = p

	return p
}

func (pr *playerRegistry) get(id string) *Player {
	return pr.players[id]
}

func (pr *playerRegistry) unregister(id string) {
	delete(pr.players, id)
}
