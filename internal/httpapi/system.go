package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/verdanthealth/chartd/internal/catalog"
	"github.com/verdanthealth/chartd/internal/notifications"
	"github.com/verdanthealth/chartd/internal/records"
	"github.com/verdanthealth/chartd/internal/settings"
)

// NotificationListResponse is the response body for GET /v1/notifications.
type NotificationListResponse struct {
	Notifications []notifications.Notification `json:"notifications"`
}

// CatalogResponse is the response body for GET /v1/catalog/tests.
type CatalogResponse struct {
	Tests      []catalog.TestDefinition `json:"tests"`
	Categories []string                 `json:"categories"`
}

// SyncPendingResponse is the response body for GET /v1/sync/pending.
type SyncPendingResponse struct {
	Entries []records.JournalEntry `json:"entries"`
	Count   int                    `json:"count"`
}

// SyncReplayResponse is the response body for POST /v1/sync/replay.
type SyncReplayResponse struct {
	Synced    int `json:"synced"`
	Remaining int `json:"remaining"`
}

func (s *Server) handleListNotifications(c echo.Context) error {
	var list []notifications.Notification
	if c.QueryParam("unread") == "true" {
		list = s.deps.Feed.Unread()
	} else {
		list = s.deps.Feed.List()
	}
	return c.JSON(http.StatusOK, NotificationListResponse{Notifications: list})
}

func (s *Server) handleMarkNotificationRead(c echo.Context) error {
	if !s.deps.Feed.MarkRead(c.Param("id")) {
		return echo.NewHTTPError(http.StatusNotFound, "notification not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleCatalogTests(c echo.Context) error {
	var tests []catalog.TestDefinition
	switch {
	case c.QueryParam("q") != "":
		tests = s.deps.Catalog.Search(c.QueryParam("q"))
	case c.QueryParam("category") != "":
		tests = s.deps.Catalog.ByCategory(c.QueryParam("category"))
	default:
		tests = s.deps.Catalog.All()
	}
	return c.JSON(http.StatusOK, CatalogResponse{
		Tests:      tests,
		Categories: s.deps.Catalog.Categories(),
	})
}

func (s *Server) handleGetSettings(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Settings.Get())
}

func (s *Server) handlePutSettings(c echo.Context) error {
	var in settings.Settings
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	saved, err := s.deps.Settings.Put(in)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, saved)
}

func (s *Server) handleSyncPending(c echo.Context) error {
	entries := s.deps.Repo.PendingSync()
	return c.JSON(http.StatusOK, SyncPendingResponse{
		Entries: entries,
		Count:   len(entries),
	})
}

func (s *Server) handleSyncReplay(c echo.Context) error {
	synced, remaining := s.deps.Repo.ReplaySync(c.Request().Context())
	s.logger.Info("sync replay requested",
		zap.Int("synced", synced),
		zap.Int("remaining", remaining))
	return c.JSON(http.StatusOK, SyncReplayResponse{
		Synced:    synced,
		Remaining: remaining,
	})
}

// handleEventStream bridges the NATS event bus onto a Server-Sent
// Events response. Each record event becomes one SSE frame named
// after the event action.
func (s *Server) handleEventStream(c echo.Context) error {
	msgs := make(chan *nats.Msg, 64)
	sub, err := s.deps.Publisher.Subscribe(msgs)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event stream unavailable")
	}
	defer sub.Unsubscribe()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.Header().Set("X-Accel-Buffering", "no")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	s.logger.Debug("event stream opened",
		zap.String("remote", c.Request().RemoteAddr))

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("event stream closed")
			return nil
		case <-heartbeat.C:
			if _, err := fmt.Fprint(resp, ": heartbeat\n\n"); err != nil {
				return nil
			}
			resp.Flush()
		case msg := <-msgs:
			if _, err := fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", eventName(msg.Subject), msg.Data); err != nil {
				return nil
			}
			resp.Flush()
		}
	}
}

// eventName extracts the action token from a chartd subject like
// chartd.patients.pat_1.updated.
func eventName(subject string) string {
	parts := strings.Split(subject, ".")
	if len(parts) < 4 {
		return "record"
	}
	return parts[3]
}
