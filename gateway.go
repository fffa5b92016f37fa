package main

import (
	"context"
	"strings"
	"time"
)

const (
	listingInterval = 3 * time.Second
	sweepInterval   = time.Minute

	maxNameLength    = 32
	maxChatLength    = 500
	maxQuestionCount = 50
	defaultQuestions = 10
	minTimerSeconds  = 5
	maxTimerSeconds  = 300
	defaultRoomName  = "Salle de quiz"
)

type clientEvent struct {
	client *Client
	msg    ClientMessage
}

// questionResult re-enters the gateway loop when an asynchronous
// QuestionSource fetch completes. Stale generations are dropped.
type questionResult struct {
	roomID     string
	generation uint64
	question   *Question
	err        error
}

// advanceSignal fires when a question's timer (plus grace) elapses. The
// captured generation guards against a late timer double-advancing a room.
type advanceSignal struct {
	roomID     string
	generation uint64
}

// Gateway owns every mutation of room and player state. A single goroutine
// (run) processes one inbound event, fetch completion, or timer firing at a
// time, so handlers never interleave on the same room and need no locks.
type Gateway struct {
	cfg     *Config
	source  QuestionSource
	rooms   *roomRegistry
	players *playerRegistry

	clients map[*Client]bool
	byConn  map[string]*Client

	register  chan *Client
	unreg     chan *Client
	events    chan clientEvent
	questions chan questionResult
	advances  chan advanceSignal
}

func newGateway(cfg *Config, source QuestionSource) *Gateway {
	return &Gateway{
		cfg:       cfg,
		source:    source,
		rooms:     newRoomRegistry(),
		players:   newPlayerRegistry(),
		clients:   make(map[*Client]bool),
		byConn:    make(map[string]*Client),
		register:  make(chan *Client),
		unreg:     make(chan *Client),
		events:    make(chan clientEvent),
		questions: make(chan questionResult),
		advances:  make(chan advanceSignal),
	}
}

func (g *Gateway) run() {
	listTicker := time.NewTicker(listingInterval)
	defer listTicker.Stop()

	sweepTicker := time.NewTicker(sweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case c := <-g.register:
			g.handleRegister(c)

		case c := <-g.unreg:
			g.handleUnregister(c)

		case ev := <-g.events:
			g.dispatch(ev)

		case qr := <-g.questions:
			g.handleQuestionResult(qr)

		case adv := <-g.advances:
			g.handleAdvance(adv)

		case <-listTicker.C:
			g.broadcastRoomList()

		case <-sweepTicker.C:
			g.sweepExpiredRooms()
		}
	}
}

func (g *Gateway) dispatch(ev clientEvent) {
	switch ev.msg.Type {
	case "identify":
		g.handleIdentify(ev.client, ev.msg)
	case "create-room":
		g.handleCreateRoom(ev.client, ev.msg)
	case "list-rooms":
		g.handleListRooms(ev.client)
	case "join-room":
		g.handleJoinRoom(ev.client, ev.msg)
	case "leave-room":
		g.handleLeaveRoom(ev.client)
	case "start-game":
		g.handleStartGame(ev.client)
	case "update-settings":
		g.handleUpdateSettings(ev.client, ev.msg)
	case "submit-answer":
		g.handleSubmitAnswer(ev.client, ev.msg)
	case "chat":
		g.handleChat(ev.client, ev.msg)
	default:
		// ignore unknown types
	}
}

// send delivers one message to a client, dropping the client entirely if its
// buffer is full (slow consumer policy).
func (g *Gateway) send(c *Client, msg any) {
	if !g.clients[c] {
		return
	}

	select {
	case c.send <- msg:
	default:
		g.dropClient(c)
	}
}

func (g *Gateway) dropClient(c *Client) {
	if !g.clients[c] {
		return
	}

	delete(g.clients, c)
	if g.byConn[c.connID] == c {
		delete(g.byConn, c.connID)
	}
	close(c.send)
}

// roomBroadcast sends msg to every connected entry of the room.
func (g *Gateway) roomBroadcast(room *Room, msg any) {
	for _, e := range room.Entries {
		if e.Presence != PresenceConnected {
			continue
		}
		if c, ok := g.byConn[e.PlayerID]; ok {
			g.send(c, msg)
		}
	}
}

// broadcastRoomList pushes the public listing to every client not currently
// seated in a room. The listing is best-effort and may be slightly stale for
// clients mid-transition.
func (g *Gateway) broadcastRoomList() {
	msg := RoomListMessage{
		Type:  "room-summary-list",
		Rooms: g.rooms.summaries(),
	}

	for c := range g.clients {
		player := g.players.get(c.connID)
		if player != nil && player.RoomID != "" {
			continue
		}
		g.send(c, msg)
	}
}

func (g *Gateway) handleRegister(c *Client) {
	g.clients[c] = true
	g.byConn[c.connID] = c

	// A refreshed tab keeps its cookie; restore whatever view it had.
	player := g.players.get(c.connID)
	if player == nil {
		g.send(c, RoomListMessage{Type: "room-summary-list", Rooms: g.rooms.summaries()})
		return
	}

	if room := g.rooms.get(player.RoomID); room != nil {
		g.send(c, roomStateMessage(room))
		if room.Phase == RoomInProgress && room.Current != nil {
			g.send(c, questionMessage(room))
		}
		return
	}

	player.RoomID = ""
	g.send(c, RoomListMessage{Type: "room-summary-list", Rooms: g.rooms.summaries()})
}

func (g *Gateway) handleUnregister(c *Client) {
	g.dropClient(c)

	// Another tab with the same cookie keeps the session alive.
	for other := range g.clients {
		if other.connID == c.connID {
			return
		}
	}

	player := g.players.get(c.connID)
	if player == nil {
		return
	}

	if player.RoomID != "" {
		g.departRoom(player, false)
	}

	g.players.unregister(c.connID)
	logf(g.cfg, "GAME: Player %q disconnected", player.Name)
}

func (g *Gateway) handleIdentify(c *Client, msg ClientMessage) {
	name := strings.TrimSpace(msg.Name)
	if name == "" || len(name) > maxNameLength {
		g.send(c, ErrorMessage{Type: "error", Message: "Please choose a display name of at most 32 characters."})
		return
	}

	player := g.players.register(c.connID)
	if player.RoomID != "" && player.Name != name {
		g.send(c, ErrorMessage{Type: "error", Message: "You cannot rename yourself while in a room."})
		return
	}

	if player.Name == "" {
		logf(g.cfg, "GAME: Player %q identified", name)
	}
	player.Name = name

	g.send(c, RoomListMessage{Type: "room-summary-list", Rooms: g.rooms.summaries()})
}

// identifiedPlayer enforces the identity precondition shared by every room
// action.
func (g *Gateway) identifiedPlayer(c *Client) *Player {
	player := g.players.get(c.connID)
	if player == nil || player.Name == "" {
		g.send(c, ErrorMessage{Type: "error", Message: "Set your display name first."})
		return nil
	}
	return player
}

func (g *Gateway) handleCreateRoom(c *Client, msg ClientMessage) {
	player := g.identifiedPlayer(c)
	if player == nil {
		return
	}
	if player.RoomID != "" {
		g.send(c, ErrorMessage{Type: "error", Message: "Leave your current room first."})
		return
	}

	settings := msg.Room
	if settings == nil {
		g.send(c, ErrorMessage{Type: "error", Message: "Missing room settings."})
		return
	}
	if len(settings.Categories) == 0 {
		g.send(c, ErrorMessage{Type: "error", Message: "Select at least one category."})
		return
	}
	if len(settings.Difficulties) == 0 {
		g.send(c, ErrorMessage{Type: "error", Message: "Select at least one difficulty."})
		return
	}

	config := RoomConfig{
		Name:          strings.TrimSpace(settings.Name),
		Language:      g.cfg.language,
		Categories:    settings.Categories,
		Difficulties:  settings.Difficulties,
		MaxPlayers:    g.cfg.maxPlayers,
		QuestionCount: settings.QuestionCount,
		TimerSeconds:  settings.TimerSeconds,
		Secret:        settings.Secret,
	}
	if config.Name == "" {
		config.Name = defaultRoomName
	}
	if config.QuestionCount < 1 || config.QuestionCount > maxQuestionCount {
		config.QuestionCount = defaultQuestions
	}
	if config.TimerSeconds < minTimerSeconds || config.TimerSeconds > maxTimerSeconds {
		config.TimerSeconds = int(g.cfg.questionTimer.Seconds())
	}

	room := g.rooms.create(config, player.ID, player.Name)
	player.RoomID = room.ID

	logf(g.cfg, "ROOMS: %q created room %s (%q)", player.Name, room.ID, config.Name)

	g.send(c, roomStateMessage(room))
	g.broadcastRoomList()
}

func (g *Gateway) handleListRooms(c *Client) {
	g.send(c, RoomListMessage{Type: "room-summary-list", Rooms: g.rooms.summaries()})
}

func (g *Gateway) handleJoinRoom(c *Client, msg ClientMessage) {
	player := g.identifiedPlayer(c)
	if player == nil {
		return
	}
	if player.RoomID != "" && player.RoomID != msg.RoomID {
		g.send(c, JoinRejectedMessage{Type: "join-rejected", Reason: "Leave your current room first."})
		return
	}

	room := g.rooms.get(msg.RoomID)
	if room == nil {
		g.send(c, JoinRejectedMessage{Type: "join-rejected", Reason: "That room no longer exists."})
		return
	}

	reconnected, err := room.join(player.ID, player.Name, msg.Secret)
	if err != nil {
		var reason string
		switch err {
		case errPasswordRequired:
			reason = "This room requires a password."
		case errPasswordIncorrect:
			reason = "Incorrect password."
		case errRoomFull:
			reason = "That room is full."
		default:
			reason = "Unable to join that room."
		}
		g.send(c, JoinRejectedMessage{Type: "join-rejected", Reason: reason})
		return
	}

	player.RoomID = room.ID

	if reconnected {
		logf(g.cfg, "ROOMS: %q reconnected to room %s", player.Name, room.ID)
	} else {
		logf(g.cfg, "ROOMS: %q joined room %s", player.Name, room.ID)
	}

	g.roomBroadcast(room, roomStateMessage(room))

	// A rejoining player needs the in-flight question to pick the game back
	// up; everyone else already has it.
	if room.Phase == RoomInProgress && room.Current != nil {
		g.send(c, questionMessage(room))
	}

	if room.Phase == RoomLobby {
		g.broadcastRoomList()
	}
}

func (g *Gateway) handleLeaveRoom(c *Client) {
	player := g.identifiedPlayer(c)
	if player == nil {
		return
	}
	if player.RoomID == "" {
		return
	}

	g.departRoom(player, true)
	g.send(c, RoomListMessage{Type: "room-summary-list", Rooms: g.rooms.summaries()})
}

// departRoom resolves a player's departure (explicit leave or disconnect)
// against their current room, applying the lobby/in-progress policies.
func (g *Gateway) departRoom(player *Player, explicit bool) {
	room := g.rooms.get(player.RoomID)
	player.RoomID = ""

	if room == nil {
		return
	}

	res := room.leave(player.ID)

	switch {
	case res.teardown:
		g.rooms.delete(room.ID)
		logf(g.cfg, "ROOMS: Deleted empty room %s", room.ID)

	case res.removed:
		if res.newHostID != "" {
			logf(g.cfg, "ROOMS: Host of room %s is now %q", room.ID, room.entryByPlayerID(res.newHostID).Name)
		}
		g.roomBroadcast(room, roomStateMessage(room))

	case res.disconnected:
		logf(g.cfg, "ROOMS: %q left room %s mid-game, entry kept", player.Name, room.ID)
		g.roomBroadcast(room, roomStateMessage(room))
	}

	if room.Phase == RoomLobby || res.teardown {
		g.broadcastRoomList()
	}
}

func (g *Gateway) handleStartGame(c *Client) {
	player := g.identifiedPlayer(c)
	if player == nil {
		return
	}

	room := g.rooms.get(player.RoomID)
	if room == nil {
		return
	}

	if err := room.start(player.ID); err != nil {
		g.send(c, ErrorMessage{Type: "error", Message: startErrorText(err)})
		return
	}

	logf(g.cfg, "GAME: Room %s started (%d questions, %ds timer)",
		room.ID, room.Config.QuestionCount, room.Config.TimerSeconds)

	g.roomBroadcast(room, GameStartedMessage{Type: "game-started"})
	g.roomBroadcast(room, roomStateMessage(room))
	g.broadcastRoomList()

	g.requestQuestion(room)
}

func startErrorText(err error) string {
	switch err {
	case errNotHost:
		return "Only the host can start the game."
	case errGameInProgress:
		return "The game has already started."
	case errEmptyRoom:
		return "The room has no players."
	default:
		return "Unable to start the game."
	}
}

// requestQuestion launches an asynchronous fetch for the room's next
// question. The room's generation is bumped first, so any outstanding timer
// or fetch for the previous question becomes a no-op. No registry state is
// held while the fetch runs.
func (g *Gateway) requestQuestion(room *Room) {
	room.Generation++

	var (
		roomID       = room.ID
		generation   = room.Generation
		language     = room.Config.Language
		categories   = append([]string(nil), room.Config.Categories...)
		difficulties = append([]string(nil), room.Config.Difficulties...)
	)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), questionDeadline(g.cfg))
		defer cancel()

		q, err := g.source.Next(ctx, language, categories, difficulties)
		g.questions <- questionResult{
			roomID:     roomID,
			generation: generation,
			question:   q,
			err:        err,
		}
	}()
}

func (g *Gateway) handleQuestionResult(qr questionResult) {
	room := g.rooms.get(qr.roomID)
	if room == nil || room.Generation != qr.generation || room.Phase != RoomInProgress {
		return
	}

	if qr.err != nil {
		// The room stalls on the prior question until its settings change.
		logf(g.cfg, "QUESTIONS: Room %s could not get a question: %v", room.ID, qr.err)
		return
	}

	room.Current = qr.question

	g.roomBroadcast(room, questionMessage(room))

	duration := time.Duration(room.Config.TimerSeconds)*time.Second + g.cfg.advanceGrace
	generation := room.Generation
	time.AfterFunc(duration, func() {
		g.advances <- advanceSignal{roomID: room.ID, generation: generation}
	})
}

func (g *Gateway) handleAdvance(adv advanceSignal) {
	room := g.rooms.get(adv.roomID)
	if room == nil || room.Generation != adv.generation || room.Phase != RoomInProgress {
		return
	}

	if finished := room.advance(); !finished {
		g.requestQuestion(room)
		return
	}

	logf(g.cfg, "GAME: Room %s finished after %d questions", room.ID, room.QuestionIndex)

	g.roomBroadcast(room, GameEndedMessage{
		Type:      "game-ended",
		Standings: room.standings(),
	})

	// Back in the lobby, mid-game departures are resolved for real.
	if room.pruneDisconnected() {
		g.rooms.delete(room.ID)
	} else {
		g.roomBroadcast(room, roomStateMessage(room))
	}

	g.broadcastRoomList()
}

func (g *Gateway) handleUpdateSettings(c *Client, msg ClientMessage) {
	player := g.identifiedPlayer(c)
	if player == nil {
		return
	}

	room := g.rooms.get(player.RoomID)
	if room == nil {
		return
	}

	settings := msg.Room
	if settings == nil {
		g.send(c, ErrorMessage{Type: "error", Message: "Missing room settings."})
		return
	}

	stalled := room.Phase == RoomInProgress && room.Current == nil

	if err := room.updateSettings(player.ID, *settings); err != nil {
		g.send(c, ErrorMessage{Type: "error", Message: "Only the host can change room settings."})
		return
	}

	logf(g.cfg, "ROOMS: Settings of room %s updated", room.ID)

	g.roomBroadcast(room, roomStateMessage(room))
	if room.Phase == RoomLobby {
		g.broadcastRoomList()
	}

	// A room stalled on an empty filter set gets another chance as soon as
	// its filters change.
	if stalled {
		g.requestQuestion(room)
	}
}

func (g *Gateway) handleSubmitAnswer(c *Client, msg ClientMessage) {
	player := g.identifiedPlayer(c)
	if player == nil {
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	room := g.rooms.get(player.RoomID)
	if room == nil {
		return
	}

	res, err := room.submitAnswer(player.ID, text, g.cfg.pointsPerWin)
	if err != nil || res.duplicate {
		return
	}

	if res.correct {
		player.Score += g.cfg.pointsPerWin
	}

	g.send(c, AnswerAckMessage{
		Type:            "answer-ack",
		Correct:         res.correct,
		CanonicalAnswer: res.question.Answer,
		Explanation:     res.question.Explanation,
		SourceRef:       res.question.SourceRef,
	})

	g.roomBroadcast(room, roomStateMessage(room))
}

func (g *Gateway) handleChat(c *Client, msg ClientMessage) {
	player := g.identifiedPlayer(c)
	if player == nil {
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" || len(text) > maxChatLength {
		return
	}

	room := g.rooms.get(player.RoomID)
	if room == nil {
		return
	}

	g.roomBroadcast(room, ChatRelayMessage{
		Type:      "chat",
		Author:    player.Name,
		Text:      text,
		Timestamp: time.Now(),
	})
}

// sweepExpiredRooms removes rooms past the configured age, notifying their
// members first. Rooms vanishing between enumeration and deletion are fine;
// delete on a missing key is a no-op.
func (g *Gateway) sweepExpiredRooms() {
	expired := g.rooms.expired(g.cfg.roomTimeout, time.Now())
	if len(expired) == 0 {
		return
	}

	for _, room := range expired {
		g.roomBroadcast(room, RoomExpiredMessage{
			Type:    "room-expired",
			Message: "This room has expired. Create or join another one to keep playing.",
		})

		for _, e := range room.Entries {
			if player := g.players.get(e.PlayerID); player != nil && player.RoomID == room.ID {
				player.RoomID = ""
			}
		}

		g.rooms.delete(room.ID)
		logf(g.cfg, "ROOMS: Expired room %s after %s", room.ID, g.cfg.roomTimeout)
	}

	g.broadcastRoomList()
}
