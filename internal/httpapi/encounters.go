package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/verdanthealth/chartd/internal/encounter"
	"github.com/verdanthealth/chartd/internal/records"
	"github.com/verdanthealth/chartd/internal/workflow"
)

// SessionResponse wraps one autosave session with its source.
type SessionResponse struct {
	Session records.Session `json:"session"`
	Source  records.Source  `json:"source"`
}

// EncounterListResponse is the response body for GET /v1/encounters.
type EncounterListResponse struct {
	Encounters []records.EncounterRecord `json:"encounters"`
	Source     records.Source            `json:"source"`
}

// ActiveListResponse is the response body for GET /v1/encounters/active.
type ActiveListResponse struct {
	Encounters []workflow.State `json:"encounters"`
}

// NavigateRequest is the request body for POST .../navigate.
type NavigateRequest struct {
	Step encounter.Step `json:"step"`
}

// WarningsResponse is the response body for GET .../warnings.
type WarningsResponse struct {
	Step        encounter.Step `json:"step"`
	WouldAffect bool           `json:"wouldAffectSubsequentSteps"`
}

// FinalizeRequest is the request body for POST .../finalize.
type FinalizeRequest struct {
	Note string `json:"note"`
}

// FinalizeResponse is the response body for POST .../finalize.
type FinalizeResponse struct {
	Encounter records.EncounterRecord `json:"encounter"`
	Source    records.Source          `json:"source"`
}

// workflowHTTPError maps workflow service errors onto HTTP statuses.
func workflowHTTPError(err error) error {
	if errors.Is(err, workflow.ErrNoActiveEncounter) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

func (s *Server) handleGetSession(c echo.Context) error {
	res := s.deps.Repo.GetSession(c.Request().Context(), c.Param("id"))
	if res.Value == nil {
		if res.Outcome.Err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "backend unreachable and no cached copy")
		}
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return c.JSON(http.StatusOK, SessionResponse{
		Session: *res.Value,
		Source:  res.Outcome.Source,
	})
}

func (s *Server) handleDeleteSession(c echo.Context) error {
	out := s.deps.Repo.DeleteSession(c.Request().Context(), c.Param("id"))
	return c.JSON(http.StatusOK, DeleteResponse{Source: out.Source})
}

func (s *Server) handleStartEncounter(c echo.Context) error {
	var in workflow.StartInput
	if err := c.Bind(&in); err != nil {
		s.logger.Warn("invalid start payload", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	st, err := s.deps.Workflows.Start(c.Request().Context(), in)
	if err != nil {
		return workflowHTTPError(err)
	}
	return c.JSON(http.StatusCreated, st)
}

func (s *Server) handleListEncounters(c echo.Context) error {
	patientID := c.QueryParam("patient")
	if patientID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patient query parameter is required")
	}

	res := s.deps.Repo.ListEncounters(c.Request().Context(), patientID)
	return c.JSON(http.StatusOK, EncounterListResponse{
		Encounters: res.Value,
		Source:     res.Outcome.Source,
	})
}

func (s *Server) handleListActive(c echo.Context) error {
	return c.JSON(http.StatusOK, ActiveListResponse{
		Encounters: s.deps.Workflows.List(c.Request().Context()),
	})
}

func (s *Server) handleEncounterState(c echo.Context) error {
	st, err := s.deps.Workflows.State(c.Request().Context(), c.Param("id"))
	if err != nil {
		return workflowHTTPError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleNavigate(c echo.Context) error {
	var req NavigateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	st, err := s.deps.Workflows.Navigate(c.Request().Context(), c.Param("id"), req.Step)
	if err != nil {
		return workflowHTTPError(err)
	}
	return c.JSON(http.StatusOK, st)
}

// handleUpdateSection accepts the raw section JSON; the workflow
// service decodes it against the step's section type.
func (s *Server) handleUpdateSection(c echo.Context) error {
	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable request body")
	}

	step := encounter.Step(c.Param("step"))
	st, err := s.deps.Workflows.UpdateSection(c.Request().Context(), c.Param("id"), step, payload)
	if err != nil {
		return workflowHTTPError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleWarnings(c echo.Context) error {
	step := encounter.Step(c.QueryParam("step"))
	if !step.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "step query parameter is required")
	}

	affects, err := s.deps.Workflows.WouldAffect(c.Request().Context(), c.Param("id"), step)
	if err != nil {
		return workflowHTTPError(err)
	}
	return c.JSON(http.StatusOK, WarningsResponse{
		Step:        step,
		WouldAffect: affects,
	})
}

func (s *Server) handleFinalize(c echo.Context) error {
	var req FinalizeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	res, err := s.deps.Workflows.Finalize(c.Request().Context(), c.Param("id"), req.Note)
	if err != nil {
		return workflowHTTPError(err)
	}
	return c.JSON(http.StatusOK, FinalizeResponse{
		Encounter: res.Value,
		Source:    res.Outcome.Source,
	})
}

func (s *Server) handleResetEncounter(c echo.Context) error {
	st, err := s.deps.Workflows.Reset(c.Request().Context(), c.Param("id"))
	if err != nil {
		return workflowHTTPError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleDiscardEncounter(c echo.Context) error {
	if err := s.deps.Workflows.Discard(c.Request().Context(), c.Param("id")); err != nil {
		return workflowHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
