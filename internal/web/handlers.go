package web

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cjeanneret/stepcal/internal/logic/command"
)

// Dispatcher is the subset of command.Dispatcher the handlers need.
type Dispatcher interface {
	State() command.State
	TryHandle(line string, w io.Writer) error
}

// CommandRequest is the body of POST /api/command.
type CommandRequest struct {
	Line string `json:"line"`
}

// CommandResponse carries the response lines of a command.
type CommandResponse struct {
	Lines []string `json:"lines"`
	Error string   `json:"error,omitempty"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Dispatcher  Dispatcher
	// Heartbeat is the idle interval between SSE keep-alive comments.
	Heartbeat time.Duration
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(broadcaster *StatusBroadcaster, d Dispatcher) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Dispatcher:  d,
		Heartbeat:   30 * time.Second,
	}
}

// HandleStatus returns the calibration state as JSON.
func (h *Handlers) HandleStatus(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, h.Dispatcher.State())
}

// HandleCommand runs one command line synchronously and returns its output.
// The motor is never queued behind another command: 409 if one is running.
// Lines follow the console rules, including the length limit.
func (h *Handlers) HandleCommand(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, CommandResponse{Lines: []string{}, Error: err.Error()})
		return
	}

	if len(req.Line) > command.MaxLineLength {
		c.IndentedJSON(http.StatusBadRequest, CommandResponse{Lines: []string{}, Error: command.ErrInputTooLong.Error()})
		return
	}

	var out bytes.Buffer
	err := h.Dispatcher.TryHandle(req.Line, &out)
	resp := CommandResponse{Lines: splitLines(out.String())}
	if err == nil {
		c.IndentedJSON(http.StatusOK, resp)
		return
	}

	resp.Error = err.Error()
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, command.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, command.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, command.ErrEmptyInput),
		errors.Is(err, command.ErrInputTooLong),
		errors.Is(err, command.ErrUnknownCommand),
		errors.Is(err, command.ErrInvalidArgument):
		status = http.StatusBadRequest
	}
	h.Broadcaster.Broadcast("error", "command "+req.Line+": "+err.Error())
	c.IndentedJSON(status, resp)
}

// HandleStatusStream handles GET /api/events for SSE.
func (h *Handlers) HandleStatusStream(c *gin.Context) {
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Heartbeat while idle
	ticker := time.NewTicker(h.Heartbeat)
	defer ticker.Stop()

	c.SSEvent("connected", "")
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("status", msg)
			return true
		case <-ticker.C:
			_, _ = w.Write([]byte(": heartbeat\n\n"))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func splitLines(s string) []string {
	s = strings.TrimSuffix(s, command.LineEnding)
	if s == "" {
		return []string{}
	}
	return strings.Split(s, command.LineEnding)
}
