package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/verdanthealth/chartd/internal/records"
)

// PatientResponse wraps one patient with the persistence layer that
// answered.
type PatientResponse struct {
	Patient records.PatientRecord `json:"patient"`
	Source  records.Source        `json:"source"`
}

// PatientListResponse is the response body for GET /v1/patients.
type PatientListResponse struct {
	Patients []records.PatientRecord `json:"patients"`
	Source   records.Source          `json:"source"`
}

// DeleteResponse is the response body for record deletions.
type DeleteResponse struct {
	Source records.Source `json:"source"`
}

func (s *Server) handleListPatients(c echo.Context) error {
	res := s.deps.Repo.ListPatients(c.Request().Context())
	return c.JSON(http.StatusOK, PatientListResponse{
		Patients: res.Value,
		Source:   res.Outcome.Source,
	})
}

func (s *Server) handleCreatePatient(c echo.Context) error {
	var in records.PatientInput
	if err := c.Bind(&in); err != nil {
		s.logger.Warn("invalid patient payload", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if in.FirstName == "" && in.LastName == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "a patient needs at least a name")
	}

	res := s.deps.Repo.CreatePatient(c.Request().Context(), in)
	return c.JSON(http.StatusCreated, PatientResponse{
		Patient: res.Value,
		Source:  res.Outcome.Source,
	})
}

func (s *Server) handleGetPatient(c echo.Context) error {
	res := s.deps.Repo.GetPatient(c.Request().Context(), c.Param("id"))
	if res.Value == nil {
		if res.Outcome.Err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "backend unreachable and no cached copy")
		}
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	return c.JSON(http.StatusOK, PatientResponse{
		Patient: *res.Value,
		Source:  res.Outcome.Source,
	})
}

func (s *Server) handleUpdatePatient(c echo.Context) error {
	var in records.PatientInput
	if err := c.Bind(&in); err != nil {
		s.logger.Warn("invalid patient payload", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	res := s.deps.Repo.UpdatePatient(c.Request().Context(), c.Param("id"), in)
	return c.JSON(http.StatusOK, PatientResponse{
		Patient: res.Value,
		Source:  res.Outcome.Source,
	})
}

func (s *Server) handleDeletePatient(c echo.Context) error {
	out := s.deps.Repo.DeletePatient(c.Request().Context(), c.Param("id"))
	return c.JSON(http.StatusOK, DeleteResponse{Source: out.Source})
}
