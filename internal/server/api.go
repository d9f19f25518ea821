package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/joeycumines/liveeval/internal/build"
	"github.com/joeycumines/liveeval/internal/host"
	"github.com/joeycumines/liveeval/internal/instrument"
	"github.com/joeycumines/liveeval/internal/protocol"
	"github.com/joeycumines/liveeval/internal/render"
	"github.com/joeycumines/liveeval/internal/store"
)

// RunRequest is the body of POST /api/run and of edit messages.
type RunRequest struct {
	Files map[string]string `json:"files"`
	Entry string            `json:"entry,omitempty"`
}

func (r RunRequest) project() (build.Project, error) {
	if len(r.Files) == 0 {
		return build.Project{}, errors.New("files is required")
	}
	return build.Project{Files: r.Files, Entry: r.Entry}, nil
}

// RunResponse reports the outcome of a run.
type RunResponse struct {
	Token  int          `json:"token"`
	Status store.Status `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// PayloadView is a payload with its site and a display summary.
type PayloadView struct {
	protocol.Payload
	Site    *instrument.CaptureContext `json:"site,omitempty"`
	Display string                     `json:"display"`
}

// PayloadsResponse is the body of GET /api/payloads.
type PayloadsResponse struct {
	Token    int                 `json:"token"`
	Cutoff   *protocol.PayloadID `json:"cutoff,omitempty"`
	Payloads []PayloadView       `json:"payloads"`
}

// RewindRequest is the body of POST /api/rewind and of rewind messages.
// Move is one of first, prev, next, last or exit.
type RewindRequest struct {
	Move string `json:"move"`
}

// ThemeRequest is the body of POST /api/theme and of theme messages.
type ThemeRequest struct {
	Theme string `json:"theme"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "healthy",
		"token":       s.runner.Store().Token(),
		"connections": s.hub.Count(),
	})
}

func (s *Server) handleRun(c echo.Context) error {
	var req RunRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	p, err := req.project()
	if err != nil {
		return badRequest(c, err.Error())
	}
	token, err := s.runner.Run(c.Request().Context(), p)
	resp := RunResponse{Token: token, Status: s.runner.Store().Status()}
	var be *build.Error
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, resp)
	case errors.As(err, &be):
		resp.Error = be.Error()
		return c.JSON(http.StatusUnprocessableEntity, resp)
	case errors.Is(err, host.ErrSuperseded):
		resp.Error = err.Error()
		return c.JSON(http.StatusConflict, resp)
	case errors.Is(err, host.ErrClosed):
		resp.Error = err.Error()
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	resp.Error = err.Error()
	return c.JSON(http.StatusInternalServerError, resp)
}

// handlePayloads serves the visible payloads. Query parameters:
//
//	filter  expression over the payload (see store.CompileFilter)
//	cutoff  payload id to stop at; "rewind" uses the rewind cursor
//	latest  "true" for one payload per site
func (s *Server) handlePayloads(c echo.Context) error {
	pred, err := store.CompileFilter(c.QueryParam("filter"))
	if err != nil {
		return badRequest(c, err.Error())
	}
	st := s.runner.Store()
	var cutoff *protocol.PayloadID
	switch raw := c.QueryParam("cutoff"); raw {
	case "":
	case "rewind":
		cutoff = st.Rewind().Cutoff()
	default:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			return badRequest(c, "cutoff must be a positive payload id or \"rewind\"")
		}
		id := protocol.PayloadID(n)
		cutoff = &id
	}
	latest, _ := strconv.ParseBool(c.QueryParam("latest"))

	var ps []protocol.Payload
	if latest {
		ps = st.LatestByContext(pred, cutoff)
	} else {
		ps = st.Visible(pred, cutoff)
	}
	return c.JSON(http.StatusOK, PayloadsResponse{Token: st.Token(), Cutoff: cutoff, Payloads: s.views(ps)})
}

func (s *Server) views(ps []protocol.Payload) []PayloadView {
	st := s.runner.Store()
	out := make([]PayloadView, len(ps))
	for i, p := range ps {
		v := PayloadView{Payload: p, Display: render.Inline(p.Result)}
		if c, ok := st.Context(p.ContextID); ok {
			v.Site = &c
			v.Display = render.Describe(p, c).Text()
		}
		out[i] = v
	}
	return out
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.refresh())
}

func (s *Server) handleContexts(c echo.Context) error {
	return c.JSON(http.StatusOK, s.runner.Store().Contexts())
}

func (s *Server) handleGetRewind(c echo.Context) error {
	return c.JSON(http.StatusOK, s.runner.Store().Rewind())
}

func (s *Server) handleRewind(c echo.Context) error {
	var req RewindRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	r, err := s.navigate(req.Move)
	if err != nil {
		return badRequest(c, err.Error())
	}
	return c.JSON(http.StatusOK, r)
}

func (s *Server) navigate(move string) (store.Rewind, error) {
	var fn func(store.Rewind, []protocol.PayloadID) store.Rewind
	switch move {
	case "first":
		fn = store.Rewind.First
	case "prev":
		fn = store.Rewind.Prev
	case "next":
		fn = store.Rewind.Next
	case "last":
		fn = store.Rewind.Last
	case "exit":
		fn = func(r store.Rewind, _ []protocol.PayloadID) store.Rewind { return r.Exit() }
	default:
		return store.Rewind{}, errors.New("move must be one of first, prev, next, last, exit")
	}
	return s.runner.Store().Navigate(fn), nil
}

func (s *Server) handleTheme(c echo.Context) error {
	var req ThemeRequest
	if err := c.Bind(&req); err != nil || req.Theme == "" {
		return badRequest(c, "theme is required")
	}
	s.setTheme(req.Theme)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) setTheme(theme string) {
	s.mu.Lock()
	s.theme = theme
	s.mu.Unlock()
	s.runner.SetTheme(theme)
}

// Refresh is pushed to editors whenever the store changes, and served by
// GET /api/status.
type Refresh struct {
	Type   string       `json:"type"`
	Status store.Status `json:"status"`
	Rewind store.Rewind `json:"rewind"`
	Theme  string       `json:"theme,omitempty"`
	Body   string       `json:"body,omitempty"`
}

func (s *Server) refresh() Refresh {
	s.mu.Lock()
	theme := s.theme
	s.mu.Unlock()
	st := s.runner.Store()
	return Refresh{Type: TypeRefresh, Status: st.Status(), Rewind: st.Rewind(), Theme: theme, Body: s.runner.Body()}
}

func encode(v any) ([]byte, error) { return json.Marshal(v) }
