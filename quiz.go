// Quizbox multiplayer quiz
//
// Players pick a display name, then create or join quiz rooms from a shared
// lobby. Each room has a host, a category/difficulty/timer configuration,
// and an optional password. The host starts the game; questions are dealt
// one at a time on a countdown, answers score fixed points, and final
// standings are broadcast when the question target is reached.
//
// Features:
// - One WebSocket per client at /quiz/ws, identified by cookie (quizbox_id)
// - Public room listing, pushed on change and on a fixed interval
// - Password-protected rooms with distinct required/incorrect rejections
// - Reconnection by display name: score and seat survive a mid-game drop
// - Host transfer on lobby departure, in original join order
// - Per-question advance timers guarded by a room generation counter
// - Questions from an embedded bank or an OpenAI-compatible local endpoint
// - Room chat, relayed to members with author and timestamp
// - Rooms auto-expired after a configurable age
// - In-browser QR button to share the server URL, backed by go-qrcode

package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Messages coming from clients
type ClientMessage struct {
	Type   string        `json:"type"`             // "identify", "create-room", "list-rooms", "join-room", "leave-room", "start-game", "update-settings", "submit-answer", "chat"
	Name   string        `json:"name,omitempty"`   // identify
	Room   *RoomSettings `json:"room,omitempty"`   // create-room / update-settings
	RoomID string        `json:"roomId,omitempty"` // join-room
	Secret string        `json:"secret,omitempty"` // join-room
	Text   string        `json:"text,omitempty"`   // submit-answer / chat
}

// RoomSettings is the client-supplied part of a room configuration.
type RoomSettings struct {
	Name          string   `json:"name,omitempty"`
	Categories    []string `json:"categories,omitempty"`
	Difficulties  []string `json:"difficulties,omitempty"`
	QuestionCount int      `json:"questionCount,omitempty"`
	TimerSeconds  int      `json:"timerSeconds,omitempty"`
	Secret        string   `json:"secret,omitempty"`
}

// Messages sent to clients
type RoomListMessage struct {
	Type  string        `json:"type"` // "room-summary-list"
	Rooms []RoomSummary `json:"rooms"`
}

type RoomStateMessage struct {
	Type string    `json:"type"` // "room-state"
	Room roomState `json:"room"`
}

type roomState struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Host          string      `json:"host"` // host's display name
	Phase         string      `json:"phase"`
	QuestionIndex int         `json:"questionIndex"`
	QuestionCount int         `json:"questionCount"`
	TimerSeconds  int         `json:"timerSeconds"`
	Categories    []string    `json:"categories"`
	Difficulties  []string    `json:"difficulties"`
	Players       []entryView `json:"players"`
}

type entryView struct {
	Name      string `json:"name"`
	Score     int    `json:"score"`
	Answered  bool   `json:"answered"`
	Connected bool   `json:"connected"`
	Host      bool   `json:"host"`
}

type GameStartedMessage struct {
	Type string `json:"type"` // "game-started"
}

// QuestionMessage carries the display copy of a question: shuffled choices,
// never the answer.
type QuestionMessage struct {
	Type         string   `json:"type"` // "question"
	Text         string   `json:"text"`
	Kind         string   `json:"kind"` // "choice" or "free-text"
	Choices      []string `json:"choices,omitempty"`
	TimerSeconds int      `json:"timerSeconds"`
	Difficulty   string   `json:"difficulty,omitempty"`
	Index        int      `json:"index"`
	Total        int      `json:"total"`
}

// AnswerAckMessage is private to the submitter.
type AnswerAckMessage struct {
	Type            string `json:"type"` // "answer-ack"
	Correct         bool   `json:"correct"`
	CanonicalAnswer string `json:"canonicalAnswer"`
	Explanation     string `json:"explanation,omitempty"`
	SourceRef       string `json:"sourceRef,omitempty"`
}

type GameEndedMessage struct {
	Type      string     `json:"type"` // "game-ended"
	Standings []Standing `json:"standings"`
}

type RoomExpiredMessage struct {
	Type    string `json:"type"` // "room-expired"
	Message string `json:"message"`
}

type ChatRelayMessage struct {
	Type      string    `json:"type"` // "chat"
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type JoinRejectedMessage struct {
	Type   string `json:"type"` // "join-rejected"
	Reason string `json:"reason"`
}

type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

func roomStateMessage(room *Room) RoomStateMessage {
	players := make([]entryView, 0, len(room.Entries))
	hostName := ""

	for _, e := range room.Entries {
		isHost := e.PlayerID == room.HostID
		if isHost {
			hostName = e.Name
		}
		players = append(players, entryView{
			Name:      e.Name,
			Score:     e.Score,
			Answered:  e.Answered,
			Connected: e.Presence == PresenceConnected,
			Host:      isHost,
		})
	}

	return RoomStateMessage{
		Type: "room-state",
		Room: roomState{
			ID:            room.ID,
			Name:          room.Config.Name,
			Host:          hostName,
			Phase:         room.Phase.String(),
			QuestionIndex: room.QuestionIndex,
			QuestionCount: room.Config.QuestionCount,
			TimerSeconds:  room.Config.TimerSeconds,
			Categories:    room.Config.Categories,
			Difficulties:  room.Config.Difficulties,
			Players:       players,
		},
	}
}

func questionMessage(room *Room) QuestionMessage {
	q := room.Current

	return QuestionMessage{
		Type:         "question",
		Text:         q.Text,
		Kind:         q.Kind,
		Choices:      q.shuffledChoices(),
		TimerSeconds: room.Config.TimerSeconds,
		Difficulty:   q.Difficulty,
		Index:        room.QuestionIndex,
		Total:        room.Config.QuestionCount,
	}
}

type Client struct {
	conn   *websocket.Conn
	send   chan any
	connID string
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const sessionCookieName = "quizbox_id"

func getOrSetSessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	id := uuid.NewString()

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// WebSocket handler feeding the shared gateway
func serveQuizWS(cfg *Config, gw *Gateway) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		connID := getOrSetSessionID(w, r)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "ERROR: websocket upgrade failed for %s: %v", realIP(r), err)
			return
		}

		client := &Client{
			conn:   conn,
			send:   make(chan any, 16),
			connID: connID,
		}

		gw.register <- client

		go client.writePump()
		client.readPump(gw)
	}
}

func (c *Client) readPump(gw *Gateway) {
	defer func() {
		gw.unreg <- c
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		gw.events <- clientEvent{client: c, msg: msg}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the quiz URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /quiz/qr; strip the trailing "/qr" to get the quiz URL.
	url := scheme + "://" + r.Host + strings.TrimSuffix(r.URL.Path, "/qr")

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func serveQuizPage(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		data, err := assets.ReadFile("assets/quiz/index.html")
		if err != nil {
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		_ = getOrSetSessionID(w, r)

		_, err = w.Write(data)
		if err != nil {
			errs <- err

			return
		}
	}
}

// registerQuizGame sets up routes so that:
//   - $path            → HTML client
//   - $path/ws         → shared WebSocket endpoint
//   - $path/qr         → PNG QR code for the quiz URL
//   - /assets/quiz/*   → client css/js
func registerQuizGame(cfg *Config, path string, mux *httprouter.Router, errs chan<- error) error {
	source, err := newQuestionSource(cfg)
	if err != nil {
		return err
	}

	gw := newGateway(cfg, source)
	go gw.run()

	mux.GET(cfg.prefix+path, serveQuizPage(cfg, errs))

	mux.GET(cfg.prefix+"/assets/quiz/app.css", serveAssets(cfg, errs))
	mux.GET(cfg.prefix+"/assets/quiz/app.js", serveAssets(cfg, errs))

	mux.GET(cfg.prefix+path+"/ws", serveQuizWS(cfg, gw))

	mux.GET(cfg.prefix+path+"/qr", qrHandler)

	return nil
}
