package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/verdanthealth/chartd/internal/encounter"
	"github.com/verdanthealth/chartd/internal/records"
)

var sesOutputJSON bool

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsGetCmd)
	sessionsCmd.PersistentFlags().BoolVar(&sesOutputJSON, "json", false, "Output results as JSON")
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect open encounter sessions",
	Long: `Inspect the open encounter sessions the daemon has persisted.

A session is the saved draft of an encounter that has not been
finalized yet. Sessions are written by autosave and deleted when the
encounter is signed off or discarded.

Examples:
  # Show a session
  chartctl sessions get ses_17`,
}

var sessionsGetCmd = &cobra.Command{
	Use:   "get <session-id>",
	Short: "Show one session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsGet,
}

// SessionResponse matches internal/httpapi/encounters.go SessionResponse
type SessionResponse struct {
	Session records.Session `json:"session"`
	Source  records.Source  `json:"source"`
}

// runSessionsGet handles the sessions get command
func runSessionsGet(cmd *cobra.Command, args []string) error {
	var resp SessionResponse
	if err := apiGet("/v1/sessions/"+url.PathEscape(args[0]), &resp); err != nil {
		return err
	}

	if sesOutputJSON {
		return outputJSON(resp)
	}

	s := resp.Session
	fmt.Printf("ID:       %s\n", s.ID)
	fmt.Printf("Patient:  %s\n", s.PatientID)
	fmt.Printf("Step:     %s\n", s.Step)
	fmt.Printf("Sections: %s\n", filledSections(s.Draft))
	fmt.Printf("Seq:      %d\n", s.Seq)
	fmt.Printf("Created:  %s\n", formatTime(s.CreatedAt))
	fmt.Printf("Updated:  %s\n", formatTime(s.UpdatedAt))
	fmt.Printf("Source:   %s\n", resp.Source)
	return nil
}

// filledSections names the draft sections that hold data.
func filledSections(d encounter.Draft) string {
	var filled []string
	for _, step := range encounter.AllSteps() {
		if data := d.Relevant(step); data != nil && !data.IsEmpty() {
			filled = append(filled, string(step))
		}
	}
	if len(filled) == 0 {
		return "(empty)"
	}
	return strings.Join(filled, ", ")
}
