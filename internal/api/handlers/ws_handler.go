package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoovoice/internal/services"
	"github.com/yoockh/yoovoice/internal/utils"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 25 * time.Second
	wsWriteTimeout = 10 * time.Second
)

type WSHandler struct {
	svc      services.InterviewService
	log      *logrus.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(svc services.InterviewService, log *logrus.Logger) *WSHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &WSHandler{
		svc: svc,
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // TODO: restrict origin in prod
		},
	}
}

type wsClientMsg struct {
	Type      string `json:"type"`
	Index     int    `json:"index"`
	ClipID    string `json:"clip_id"`
	RequestID string `json:"request_id"`
	Message   string `json:"message"`
}

type wsErrorMsg struct {
	Type     string     `json:"type"`
	Code     utils.Code `json:"code"`
	Message  string     `json:"message"`
	Redirect string     `json:"redirect,omitempty"`
}

type wsEndedMsg struct {
	Type   string               `json:"type"`
	Result EndInterviewResponse `json:"result"`
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) SendJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

func (w *wsConn) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.c.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

func (w *wsConn) sendError(err error) {
	_, body := apiError(err)
	_ = w.SendJSON(wsErrorMsg{Type: "error", Code: body.Code, Message: body.Message, Redirect: body.Redirect})
}

// SessionWS carries one session's client: JSON control messages both ways and
// binary microphone frames upstream. Disconnecting tears the session down.
func (h *WSHandler) SessionWS(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	threadID := c.Param("thread_id")
	ls, err := h.svc.Live(userID, threadID)
	if err != nil {
		writeError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote response in most cases
		return
	}
	defer conn.Close()

	log := h.log.WithFields(logrus.Fields{"thread_id": threadID, "user_id": userID})
	wc := &wsConn{c: conn}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ls.Subscribe(wc)
	if err := ls.Bridge.Attach(wc); err != nil {
		log.WithError(err).Warn("held playback commands not delivered")
	}
	ls.Push()

	var ended bool
	var endOnce sync.Once
	var pending sync.WaitGroup

	defer func() {
		ls.Unsubscribe(wc)
		cancel()
		if !ended {
			if _, err := h.svc.Teardown(context.Background(), userID, threadID); err != nil && !utils.IsCode(err, utils.CodeNotFound) {
				log.WithError(err).Warn("teardown after disconnect failed")
			}
		}
		pending.Wait()
		log.Info("session socket closed")
	}()

	// async runs a controller action that may block on the network or on a
	// client answer read by this loop.
	async := func(fn func() error) {
		pending.Add(1)
		go func() {
			defer pending.Done()
			if err := fn(); err != nil {
				wc.sendError(err)
			}
		}()
	}

	go func() {
		t := time.NewTicker(wsPingInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := wc.ping(); err != nil {
					return
				}
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	ctrl := ls.Controller
	for {
		kind, data, rerr := conn.ReadMessage()
		if rerr != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		if kind == websocket.BinaryMessage {
			ls.Bridge.AudioFrame(data)
			continue
		}

		var msg wsClientMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			wc.sendError(utils.E(utils.CodeInvalidArgument, "WSHandler.SessionWS", "invalid json", err))
			continue
		}

		switch msg.Type {
		case "gesture":
			h.svc.Gesture(userID)

		case "record_start":
			async(func() error { return ctrl.StartRecording(ctx) })

		case "record_stop":
			async(func() error { return ctrl.StopRecording(ctx) })

		case "record_cancel":
			ctrl.CancelRecording()

		case "mic_granted":
			ls.Bridge.MicAnswer(msg.RequestID, true)

		case "mic_denied":
			ls.Bridge.MicAnswer(msg.RequestID, false)

		case "play":
			if err := ctrl.Play(msg.Index); err != nil {
				wc.sendError(err)
			}

		case "stop_audio":
			ctrl.Stop()

		case "playback_ended":
			ls.Bridge.PlaybackEnded(msg.ClipID)

		case "playback_error":
			ls.Bridge.PlaybackFailed(msg.ClipID, msg.Message)

		case "end_interview":
			endOnce.Do(func() {
				ended = true
				res, err := h.svc.End(ctx, userID, threadID)
				if err != nil {
					wc.sendError(err)
					return
				}
				_ = wc.SendJSON(wsEndedMsg{Type: "ended", Result: endResponse(res)})
				ls.Bridge.Detach()
			})
			return

		default:
			wc.sendError(utils.E(utils.CodeInvalidArgument, "WSHandler.SessionWS", "unknown message type", nil))
		}
	}
}
