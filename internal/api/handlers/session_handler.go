package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/yoovoice/internal/services"
	"github.com/yoockh/yoovoice/internal/utils"
	"github.com/yoockh/yoovoice/internal/voice"
)

type SessionHandler struct {
	svc services.InterviewService
}

func NewSessionHandler(svc services.InterviewService) *SessionHandler {
	return &SessionHandler{svc: svc}
}

type StartInterviewRequest struct {
	ConfigName string `json:"config_name"`
	ConfigID   string `json:"config_id"`
}

type EndInterviewResponse struct {
	Saved    bool   `json:"saved"`
	Skipped  bool   `json:"skipped"`
	Already  bool   `json:"already_finalized"`
	Redirect string `json:"redirect"`
	Error    string `json:"error,omitempty"`
}

func (h *SessionHandler) Start(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req StartInterviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "SessionHandler.Start", "invalid request body", err))
		return
	}

	ls, err := h.svc.Start(c.Request.Context(), services.StartInput{
		UserID:     userID,
		Email:      contextString(c, "email"),
		ConfigName: req.ConfigName,
		ConfigID:   req.ConfigID,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, ls.Controller.Snapshot())
}

func (h *SessionHandler) Get(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	snap, err := h.svc.Snapshot(c.Request.Context(), userID, c.Param("thread_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// live resolves the caller's in-memory session or writes the error.
func (h *SessionHandler) live(c *gin.Context) (*services.LiveSession, bool) {
	userID, ok := requireUserID(c)
	if !ok {
		return nil, false
	}
	ls, err := h.svc.Live(userID, c.Param("thread_id"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return ls, true
}

func (h *SessionHandler) Gesture(c *gin.Context) {
	ls, ok := h.live(c)
	if !ok {
		return
	}
	h.svc.Gesture(ls.UserID)
	c.JSON(http.StatusOK, ls.Controller.Snapshot())
}

func (h *SessionHandler) StartRecording(c *gin.Context) {
	ls, ok := h.live(c)
	if !ok {
		return
	}
	if err := ls.Controller.StartRecording(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ls.Controller.Snapshot())
}

func (h *SessionHandler) StopRecording(c *gin.Context) {
	ls, ok := h.live(c)
	if !ok {
		return
	}
	if err := ls.Controller.StopRecording(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ls.Controller.Snapshot())
}

func (h *SessionHandler) CancelRecording(c *gin.Context) {
	ls, ok := h.live(c)
	if !ok {
		return
	}
	ls.Controller.CancelRecording()
	c.JSON(http.StatusOK, ls.Controller.Snapshot())
}

func (h *SessionHandler) Play(c *gin.Context) {
	ls, ok := h.live(c)
	if !ok {
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "SessionHandler.Play", "index must be an integer", err))
		return
	}
	if err := ls.Controller.Play(index); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ls.Controller.Snapshot())
}

func (h *SessionHandler) Stop(c *gin.Context) {
	ls, ok := h.live(c)
	if !ok {
		return
	}
	ls.Controller.Stop()
	c.JSON(http.StatusOK, ls.Controller.Snapshot())
}

func (h *SessionHandler) End(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	res, err := h.svc.End(c.Request.Context(), userID, c.Param("thread_id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, endResponse(res))
}

func endResponse(res voice.EndResult) EndInterviewResponse {
	out := EndInterviewResponse{
		Saved:    res.Saved,
		Skipped:  res.Skipped,
		Already:  res.Already,
		Redirect: res.Redirect,
	}
	if res.SaveErr != nil {
		_, body := apiError(res.SaveErr)
		out.Error = body.Message
	}
	return out
}

// Teardown is navigation away from a session without ending it.
func (h *SessionHandler) Teardown(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	res, err := h.svc.Teardown(c.Request.Context(), userID, c.Param("thread_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"beaconed":          res.Beaconed,
		"already_finalized": res.Already,
	})
}

func (h *SessionHandler) Replay(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	ls, err := h.svc.Replay(c.Request.Context(), userID, c.Param("thread_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ls.Controller.Snapshot())
}

func (h *SessionHandler) Active(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"active_sessions": h.svc.ActiveCount()})
}
