package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/verdanthealth/chartd/internal/catalog"
	"github.com/verdanthealth/chartd/internal/notifications"
	"github.com/verdanthealth/chartd/internal/records"
	"github.com/verdanthealth/chartd/internal/workflow"
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	s.registerPatientTools()
	s.registerSessionTools()
	s.registerWorkflowTools()
	s.registerCatalogTools()
	s.registerNotificationTools()
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// ===== PATIENT TOOLS =====

type patientGetInput struct {
	PatientID string `json:"patient_id" jsonschema:"required,Patient identifier"`
}

type patientGetOutput struct {
	Patient records.PatientRecord `json:"patient" jsonschema:"The patient record"`
	Source  records.Source        `json:"source" jsonschema:"Persistence layer that answered (remote or local)"`
}

type patientListInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum results to return (default: all)"`
}

type patientListOutput struct {
	Patients []records.PatientRecord `json:"patients" jsonschema:"Patient records"`
	Count    int                     `json:"count" jsonschema:"Number of patients returned"`
	Source   records.Source          `json:"source" jsonschema:"Persistence layer that answered"`
}

func (s *Server) patientGet(ctx context.Context, args patientGetInput) (patientGetOutput, string, error) {
	if args.PatientID == "" {
		return patientGetOutput{}, "", fmt.Errorf("patient_id is required")
	}

	res := s.repo.GetPatient(ctx, args.PatientID)
	if res.Value == nil {
		if res.Outcome.Err != nil {
			return patientGetOutput{}, "", fmt.Errorf("backend unreachable and no cached copy: %w", res.Outcome.Err)
		}
		return patientGetOutput{}, "", fmt.Errorf("patient %s not found", args.PatientID)
	}

	out := patientGetOutput{Patient: *res.Value, Source: res.Outcome.Source}
	summary := fmt.Sprintf("Patient %s: %s %s (%s)",
		out.Patient.ID, out.Patient.FirstName, out.Patient.LastName, out.Source)
	return out, summary, nil
}

func (s *Server) patientList(ctx context.Context, args patientListInput) (patientListOutput, string, error) {
	res := s.repo.ListPatients(ctx)
	list := res.Value
	if args.Limit > 0 && len(list) > args.Limit {
		list = list[:args.Limit]
	}

	out := patientListOutput{
		Patients: list,
		Count:    len(list),
		Source:   res.Outcome.Source,
	}
	return out, fmt.Sprintf("Found %d patients (%s)", out.Count, out.Source), nil
}

func (s *Server) registerPatientTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "patient_get",
		Description: "Fetch one patient record by id",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args patientGetInput) (*mcp.CallToolResult, patientGetOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "patient_get")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "patient_get")
			s.metrics.RecordInvocation(ctx, "patient_get", time.Since(start), toolErr)
		}()

		out, summary, err := s.patientGet(ctx, args)
		if err != nil {
			toolErr = err
			return nil, patientGetOutput{}, err
		}
		return textResult(summary), out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "patient_list",
		Description: "List every patient the daemon knows about",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args patientListInput) (*mcp.CallToolResult, patientListOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "patient_list")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "patient_list")
			s.metrics.RecordInvocation(ctx, "patient_list", time.Since(start), toolErr)
		}()

		out, summary, err := s.patientList(ctx, args)
		if err != nil {
			toolErr = err
			return nil, patientListOutput{}, err
		}
		return textResult(summary), out, nil
	})
}

// ===== SESSION TOOLS =====

type sessionGetInput struct {
	SessionID string `json:"session_id" jsonschema:"required,Autosave session identifier"`
}

type sessionGetOutput struct {
	Session records.Session `json:"session" jsonschema:"The autosaved session"`
	Source  records.Source  `json:"source" jsonschema:"Persistence layer that answered"`
}

func (s *Server) sessionGet(ctx context.Context, args sessionGetInput) (sessionGetOutput, string, error) {
	if args.SessionID == "" {
		return sessionGetOutput{}, "", fmt.Errorf("session_id is required")
	}

	res := s.repo.GetSession(ctx, args.SessionID)
	if res.Value == nil {
		if res.Outcome.Err != nil {
			return sessionGetOutput{}, "", fmt.Errorf("backend unreachable and no cached copy: %w", res.Outcome.Err)
		}
		return sessionGetOutput{}, "", fmt.Errorf("session %s not found", args.SessionID)
	}

	out := sessionGetOutput{Session: *res.Value, Source: res.Outcome.Source}
	summary := fmt.Sprintf("Session %s: patient %s at step %s (%s)",
		out.Session.ID, out.Session.PatientID, out.Session.Step, out.Source)
	return out, summary, nil
}

func (s *Server) registerSessionTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_get",
		Description: "Fetch one autosaved encounter session by id",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args sessionGetInput) (*mcp.CallToolResult, sessionGetOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "session_get")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "session_get")
			s.metrics.RecordInvocation(ctx, "session_get", time.Since(start), toolErr)
		}()

		out, summary, err := s.sessionGet(ctx, args)
		if err != nil {
			toolErr = err
			return nil, sessionGetOutput{}, err
		}
		return textResult(summary), out, nil
	})
}

// ===== WORKFLOW TOOLS =====

type workflowStateInput struct {
	EncounterID string `json:"encounter_id,omitempty" jsonschema:"Encounter id; when empty every active encounter is returned"`
}

type workflowStateOutput struct {
	Encounters []workflow.State `json:"encounters" jsonschema:"Active encounter snapshots"`
	Count      int              `json:"count" jsonschema:"Number of encounters returned"`
}

func (s *Server) workflowState(ctx context.Context, args workflowStateInput) (workflowStateOutput, string, error) {
	if args.EncounterID != "" {
		st, err := s.workflows.State(ctx, args.EncounterID)
		if err != nil {
			return workflowStateOutput{}, "", fmt.Errorf("encounter %s not found", args.EncounterID)
		}
		out := workflowStateOutput{Encounters: []workflow.State{st}, Count: 1}
		return out, fmt.Sprintf("Encounter %s: patient %s at step %s", st.ID, st.PatientID, st.Current), nil
	}

	list := s.workflows.List(ctx)
	out := workflowStateOutput{Encounters: list, Count: len(list)}
	return out, fmt.Sprintf("Found %d active encounters", out.Count), nil
}

func (s *Server) registerWorkflowTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "workflow_state",
		Description: "Inspect active encounter workflows: current step, draft, and autosave status",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args workflowStateInput) (*mcp.CallToolResult, workflowStateOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "workflow_state")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "workflow_state")
			s.metrics.RecordInvocation(ctx, "workflow_state", time.Since(start), toolErr)
		}()

		out, summary, err := s.workflowState(ctx, args)
		if err != nil {
			toolErr = err
			return nil, workflowStateOutput{}, err
		}
		return textResult(summary), out, nil
	})
}

// ===== CATALOG TOOLS =====

type catalogSearchInput struct {
	Query    string `json:"query,omitempty" jsonschema:"Case-insensitive match on test code or name"`
	Category string `json:"category,omitempty" jsonschema:"Filter by catalog category"`
}

type catalogSearchOutput struct {
	Tests []catalog.TestDefinition `json:"tests" jsonschema:"Matching test definitions"`
	Count int                      `json:"count" jsonschema:"Number of tests returned"`
}

func (s *Server) catalogSearch(_ context.Context, args catalogSearchInput) (catalogSearchOutput, string, error) {
	var tests []catalog.TestDefinition
	switch {
	case args.Query != "":
		tests = s.catalog.Search(args.Query)
	case args.Category != "":
		tests = s.catalog.ByCategory(args.Category)
	default:
		tests = s.catalog.All()
	}

	out := catalogSearchOutput{Tests: tests, Count: len(tests)}
	return out, fmt.Sprintf("Found %d tests", out.Count), nil
}

func (s *Server) registerCatalogTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "catalog_search",
		Description: "Search the orderable test catalog by code, name, or category",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args catalogSearchInput) (*mcp.CallToolResult, catalogSearchOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "catalog_search")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "catalog_search")
			s.metrics.RecordInvocation(ctx, "catalog_search", time.Since(start), toolErr)
		}()

		out, summary, err := s.catalogSearch(ctx, args)
		if err != nil {
			toolErr = err
			return nil, catalogSearchOutput{}, err
		}
		return textResult(summary), out, nil
	})
}

// ===== NOTIFICATION TOOLS =====

type notificationsListInput struct {
	UnreadOnly bool `json:"unread_only,omitempty" jsonschema:"Only return unread notifications"`
}

type notificationsListOutput struct {
	Notifications []notifications.Notification `json:"notifications" jsonschema:"Notification feed entries"`
	Count         int                          `json:"count" jsonschema:"Number of notifications returned"`
}

func (s *Server) notificationsList(_ context.Context, args notificationsListInput) (notificationsListOutput, string, error) {
	var list []notifications.Notification
	if args.UnreadOnly {
		list = s.feed.Unread()
	} else {
		list = s.feed.List()
	}

	out := notificationsListOutput{Notifications: list, Count: len(list)}
	return out, fmt.Sprintf("Found %d notifications", out.Count), nil
}

func (s *Server) registerNotificationTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "notifications_list",
		Description: "List daemon notifications (sync results, conflicts, autosave failures)",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args notificationsListInput) (*mcp.CallToolResult, notificationsListOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "notifications_list")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "notifications_list")
			s.metrics.RecordInvocation(ctx, "notifications_list", time.Since(start), toolErr)
		}()

		out, summary, err := s.notificationsList(ctx, args)
		if err != nil {
			toolErr = err
			return nil, notificationsListOutput{}, err
		}
		return textResult(summary), out, nil
	})
}
