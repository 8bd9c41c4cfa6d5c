package store

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/immanencer/ratimint/internal/relay"
)

// NewServer wires the store behind its HTTP surface:
//
//	POST /message                      log one conversation turn
//	GET  /messages?channel=&limit=&skip=  recent window, or latest-per-channel
//	POST /task                         enqueue a pending task
//	GET  /task?type=                   atomically claim one pending task
//	PUT  /task                         transition a claimed task
func NewServer(s *Store) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(echoprometheus.NewMiddleware("ratimint"))
	e.GET("/metrics", echoprometheus.NewHandler())
	e.Logger.SetLevel(log.INFO)

	h := &handler{store: s}
	e.POST("/message", h.postMessage)
	e.GET("/messages", h.getMessages)
	e.POST("/task", h.postTask)
	e.GET("/task", h.claimTask)
	e.PUT("/task", h.putTask)
	e.GET("/healthz", h.health)

	return e
}

type handler struct {
	store *Store
}

func (h *handler) health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (h *handler) postMessage(c echo.Context) error {
	msg := relay.Message{}
	if err := c.Bind(&msg); err != nil {
		return c.String(http.StatusBadRequest, "invalid message body")
	}
	if err := h.store.AppendMessage(c.Request().Context(), msg); err != nil {
		if errors.Is(err, ErrMissingFields) {
			return c.String(http.StatusBadRequest, err.Error())
		}
		c.Logger().Errorf("logging message: %v", err)
		return c.String(http.StatusInternalServerError, "error logging message")
	}
	return c.String(http.StatusOK, "Message logged")
}

func (h *handler) getMessages(c echo.Context) error {
	channel := c.QueryParam("channel")
	if channel == "" {
		msgs, err := h.store.LatestPerChannel(c.Request().Context())
		if err != nil {
			c.Logger().Errorf("fetching latest per channel: %v", err)
			return c.String(http.StatusInternalServerError, "error fetching messages")
		}
		return c.JSON(http.StatusOK, msgs)
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	skip, _ := strconv.Atoi(c.QueryParam("skip"))
	msgs, err := h.store.RecentMessages(c.Request().Context(), channel, limit, skip)
	if err != nil {
		c.Logger().Errorf("fetching messages: %v", err)
		return c.String(http.StatusInternalServerError, "error fetching messages")
	}
	return c.JSON(http.StatusOK, msgs)
}

func (h *handler) postTask(c echo.Context) error {
	task := relay.Task{}
	if err := c.Bind(&task); err != nil {
		return c.String(http.StatusBadRequest, "invalid task body")
	}
	if _, err := h.store.EnqueueTask(c.Request().Context(), task); err != nil {
		if errors.Is(err, ErrMissingFields) {
			return c.String(http.StatusBadRequest, "Task type, channel ID, and response text are required")
		}
		c.Logger().Errorf("creating task: %v", err)
		return c.String(http.StatusInternalServerError, "error creating task")
	}
	return c.String(http.StatusOK, "Task created")
}

func (h *handler) claimTask(c echo.Context) error {
	taskType := c.QueryParam("type")
	task, err := h.store.ClaimNextTask(c.Request().Context(), taskType)
	if err != nil {
		c.Logger().Errorf("claiming task: %v", err)
		return c.String(http.StatusInternalServerError, "error fetching tasks")
	}
	if task == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, task)
}

func (h *handler) putTask(c echo.Context) error {
	update := relay.StatusUpdate{}
	if err := c.Bind(&update); err != nil {
		return c.String(http.StatusBadRequest, "invalid update body")
	}
	if update.TaskID == "" || update.Status == "" {
		return c.String(http.StatusBadRequest, "Task ID and status are required")
	}

	err := h.store.SetTaskStatus(c.Request().Context(), update.TaskID, update.Status)
	switch {
	case err == nil:
		return c.String(http.StatusOK, "Task updated")
	case errors.Is(err, ErrInvalidStatus):
		return c.String(http.StatusBadRequest, "Invalid status")
	case errors.Is(err, ErrTaskNotFound):
		return c.String(http.StatusNotFound, "Task not found")
	case errors.Is(err, ErrTaskFinal):
		return c.String(http.StatusConflict, "Task already finished")
	default:
		c.Logger().Errorf("updating task: %v", err)
		return c.String(http.StatusInternalServerError, "error updating task")
	}
}
