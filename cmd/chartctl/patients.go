package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/verdanthealth/chartd/internal/records"
)

var (
	// patients command flags
	patFirstName  string
	patLastName   string
	patDOB        string
	patGender     string
	patMRN        string
	patPhone      string
	patEmail      string
	patAddress    string
	patOutputJSON bool
)

func init() {
	rootCmd.AddCommand(patientsCmd)
	patientsCmd.AddCommand(patientsListCmd)
	patientsCmd.AddCommand(patientsGetCmd)
	patientsCmd.AddCommand(patientsCreateCmd)
	patientsCmd.AddCommand(patientsDeleteCmd)

	patientsCmd.PersistentFlags().BoolVar(&patOutputJSON, "json", false, "Output results as JSON")

	// Create-specific flags
	patientsCreateCmd.Flags().StringVar(&patFirstName, "first-name", "", "Patient first name")
	patientsCreateCmd.Flags().StringVar(&patLastName, "last-name", "", "Patient last name")
	patientsCreateCmd.Flags().StringVar(&patDOB, "dob", "", "Date of birth (YYYY-MM-DD)")
	patientsCreateCmd.Flags().StringVar(&patGender, "gender", "", "Gender")
	patientsCreateCmd.Flags().StringVar(&patMRN, "mrn", "", "Medical record number")
	patientsCreateCmd.Flags().StringVar(&patPhone, "phone", "", "Phone number")
	patientsCreateCmd.Flags().StringVar(&patEmail, "email", "", "Email address")
	patientsCreateCmd.Flags().StringVar(&patAddress, "address", "", "Postal address")
}

var patientsCmd = &cobra.Command{
	Use:   "patients",
	Short: "Manage patient records",
	Long: `Manage patient records through the chartd daemon.

Reads and writes go to the practice backend when it is reachable and
fall back to the local cache when it is not. Each command reports
which layer answered.

Examples:
  # List patients
  chartctl patients list

  # Show one patient
  chartctl patients get pat_42

  # Create a patient
  chartctl patients create --first-name Ada --last-name Plum --dob 1987-04-12

  # Delete a patient
  chartctl patients delete pat_42`,
}

var patientsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List patients",
	RunE:  runPatientsList,
}

var patientsGetCmd = &cobra.Command{
	Use:   "get <patient-id>",
	Short: "Show one patient record",
	Args:  cobra.ExactArgs(1),
	RunE:  runPatientsGet,
}

var patientsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a patient record",
	Long: `Create a patient record. At least one of --first-name and
--last-name is required.

Examples:
  # Minimal
  chartctl patients create --last-name Plum

  # Full demographics
  chartctl patients create \
    --first-name Ada --last-name Plum \
    --dob 1987-04-12 --gender female \
    --mrn MRN-100424 --phone 555-0187`,
	RunE: runPatientsCreate,
}

var patientsDeleteCmd = &cobra.Command{
	Use:   "delete <patient-id>",
	Short: "Delete a patient record",
	Args:  cobra.ExactArgs(1),
	RunE:  runPatientsDelete,
}

// PatientResponse matches internal/httpapi/patients.go PatientResponse
type PatientResponse struct {
	Patient records.PatientRecord `json:"patient"`
	Source  records.Source        `json:"source"`
}

// PatientListResponse matches internal/httpapi/patients.go PatientListResponse
type PatientListResponse struct {
	Patients []records.PatientRecord `json:"patients"`
	Source   records.Source          `json:"source"`
}

// DeleteResponse matches internal/httpapi/patients.go DeleteResponse
type DeleteResponse struct {
	Source records.Source `json:"source"`
}

// runPatientsList handles the patients list command
func runPatientsList(cmd *cobra.Command, args []string) error {
	var resp PatientListResponse
	if err := apiGet("/v1/patients", &resp); err != nil {
		return err
	}

	if patOutputJSON {
		return outputJSON(resp)
	}

	if len(resp.Patients) == 0 {
		fmt.Println("No patients found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tDOB\tMRN\tUPDATED")
	for _, p := range resp.Patients {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			truncate(p.ID, 16),
			truncate(patientName(p), 30),
			p.DateOfBirth,
			p.MRN,
			formatTime(p.UpdatedAt),
		)
	}
	w.Flush()

	fmt.Printf("\n%d patient(s), source: %s\n", len(resp.Patients), resp.Source)
	return nil
}

// runPatientsGet handles the patients get command
func runPatientsGet(cmd *cobra.Command, args []string) error {
	var resp PatientResponse
	if err := apiGet("/v1/patients/"+url.PathEscape(args[0]), &resp); err != nil {
		return err
	}

	if patOutputJSON {
		return outputJSON(resp)
	}

	p := resp.Patient
	fmt.Printf("ID:      %s\n", p.ID)
	fmt.Printf("Name:    %s\n", patientName(p))
	if p.DateOfBirth != "" {
		fmt.Printf("DOB:     %s\n", p.DateOfBirth)
	}
	if p.Gender != "" {
		fmt.Printf("Gender:  %s\n", p.Gender)
	}
	if p.MRN != "" {
		fmt.Printf("MRN:     %s\n", p.MRN)
	}
	if p.Phone != "" {
		fmt.Printf("Phone:   %s\n", p.Phone)
	}
	if p.Email != "" {
		fmt.Printf("Email:   %s\n", p.Email)
	}
	if p.Address != "" {
		fmt.Printf("Address: %s\n", p.Address)
	}
	if len(p.Extensions) > 0 {
		fmt.Printf("Extra:   %v\n", p.Extensions)
	}
	fmt.Printf("Updated: %s\n", formatTime(p.UpdatedAt))
	fmt.Printf("Source:  %s\n", resp.Source)
	return nil
}

// runPatientsCreate handles the patients create command
func runPatientsCreate(cmd *cobra.Command, args []string) error {
	if patFirstName == "" && patLastName == "" {
		return fmt.Errorf("at least one of --first-name and --last-name is required")
	}

	in := records.PatientInput{
		FirstName:   patFirstName,
		LastName:    patLastName,
		DateOfBirth: patDOB,
		Gender:      patGender,
		MRN:         patMRN,
		Phone:       patPhone,
		Email:       patEmail,
		Address:     patAddress,
	}

	var resp PatientResponse
	if err := apiDo(http.MethodPost, "/v1/patients", in, &resp); err != nil {
		return err
	}

	if patOutputJSON {
		return outputJSON(resp)
	}

	fmt.Printf("Created patient %s (%s)\n", resp.Patient.ID, resp.Source)
	return nil
}

// runPatientsDelete handles the patients delete command
func runPatientsDelete(cmd *cobra.Command, args []string) error {
	var resp DeleteResponse
	if err := apiDo(http.MethodDelete, "/v1/patients/"+url.PathEscape(args[0]), nil, &resp); err != nil {
		return err
	}

	if patOutputJSON {
		return outputJSON(resp)
	}

	fmt.Printf("Deleted patient %s (%s)\n", args[0], resp.Source)
	return nil
}

// patientName joins the name fields for display.
func patientName(p records.PatientRecord) string {
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if name == "" {
		return "(unnamed)"
	}
	return name
}
