package server

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// Message types exchanged over /ws.
const (
	// Editor to server.
	TypeEdit   = "edit"
	TypeRun    = "run"
	TypeRewind = "rewind"
	TypeTheme  = "theme"

	// Server to editor.
	TypeHello   = "hello"
	TypeRefresh = "refresh"
	TypeResult  = "result"
	TypeError   = "error"
)

// ClientMessage is any message an editor sends. Which fields apply depends
// on Type.
type ClientMessage struct {
	Type  string            `json:"type"`
	Files map[string]string `json:"files,omitempty"`
	Entry string            `json:"entry,omitempty"`
	Move  string            `json:"move,omitempty"`
	Theme string            `json:"theme,omitempty"`
}

// Hello is the first message on every connection.
type Hello struct {
	Type string `json:"type"`
	Conn string `json:"conn"`
	Refresh
}

type resultMessage struct {
	Type string `json:"type"`
	RunResponse
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func (s *Server) handleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return nil
	}
	conn := s.hub.newConn(ws)
	if !s.hub.Register(conn) {
		_ = ws.Close()
		return nil
	}
	ws.SetReadLimit(s.opts.MaxMessageSize)

	hello := Hello{Conn: conn.ID, Refresh: s.refresh()}
	hello.Type = TypeHello
	s.reply(conn, hello)

	go s.writePump(conn)
	go s.readPump(conn)
	return nil
}

func (s *Server) readPump(conn *Conn) {
	defer func() {
		s.hub.Unregister(conn)
		_ = conn.ws.Close()
	}()

	_ = conn.ws.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	})
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("editor read failed", "conn", conn.ID, "error", err)
			}
			return
		}
		s.handleMessage(conn, data)
	}
}

func (s *Server) writePump(conn *Conn) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.ws.Close()
	}()
	for {
		select {
		case data, ok := <-conn.send:
			deadline := time.Now().Add(s.opts.WriteTimeout)
			if !ok {
				_ = conn.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
				return
			}
			if err := conn.write(websocket.TextMessage, data, deadline); err != nil {
				s.log.Debug("editor write failed", "conn", conn.ID, "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.write(websocket.PingMessage, nil, time.Now().Add(s.opts.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleMessage(conn *Conn, data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.replyError(conn, "invalid JSON message")
		return
	}
	switch msg.Type {
	case TypeEdit, TypeRun:
		p, err := RunRequest{Files: msg.Files, Entry: msg.Entry}.project()
		if err != nil {
			s.replyError(conn, err.Error())
			return
		}
		if msg.Type == TypeEdit {
			s.runner.Edit(p)
			return
		}
		// Runs can take as long as the swap timeout; keep reading meanwhile.
		go func() {
			token, err := s.runner.Run(s.ctx(), p)
			resp := resultMessage{Type: TypeResult, RunResponse: RunResponse{Token: token, Status: s.runner.Store().Status()}}
			if err != nil {
				resp.Error = err.Error()
			}
			s.reply(conn, resp)
		}()
	case TypeRewind:
		if _, err := s.navigate(msg.Move); err != nil {
			s.replyError(conn, err.Error())
		}
	case TypeTheme:
		if msg.Theme == "" {
			s.replyError(conn, "theme is required")
			return
		}
		s.setTheme(msg.Theme)
	default:
		s.replyError(conn, "unknown message type: "+msg.Type)
	}
}

func (s *Server) reply(conn *Conn, v any) {
	data, err := encode(v)
	if err != nil {
		s.log.Error("encoding reply", "error", err)
		return
	}
	s.hub.SendTo(conn, data)
}

func (s *Server) replyError(conn *Conn, msg string) {
	s.reply(conn, errorMessage{Type: TypeError, Error: msg})
}
