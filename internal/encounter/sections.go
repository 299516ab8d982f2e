package encounter

import "strings"

// StepData is the step-relevant slice of a draft: one section struct
// per wizard step. Values returned by Draft.Relevant and Clone are
// deep copies; snapshots built from them are safe to hold across
// later draft mutations.
type StepData interface {
	// IsEmpty reports whether the section holds no entered data:
	// whitespace-only strings, zero-length slices and maps, and
	// recursively empty nested values all count as empty.
	IsEmpty() bool
	// Clone returns a deep copy.
	Clone() StepData
}

// Demographics is the patient-identity section.
type Demographics struct {
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	DateOfBirth string `json:"dateOfBirth,omitempty"`
	Gender      string `json:"gender,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Email       string `json:"email,omitempty"`
	Address     string `json:"address,omitempty"`
	MRN         string `json:"mrn,omitempty"`
	Insurance   string `json:"insurance,omitempty"`
}

func (d Demographics) IsEmpty() bool {
	return blank(d.FirstName, d.LastName, d.DateOfBirth, d.Gender,
		d.Phone, d.Email, d.Address, d.MRN, d.Insurance)
}

func (d Demographics) Clone() StepData { return d }

func (d Demographics) Equal(other Demographics) bool { return d == other }

// ChiefComplaint captures the presenting problem and its history.
type ChiefComplaint struct {
	Complaint string `json:"complaint,omitempty"`
	Onset     string `json:"onset,omitempty"`
	Severity  string `json:"severity,omitempty"`
	Duration  string `json:"duration,omitempty"`
	History   string `json:"history,omitempty"`
}

func (c ChiefComplaint) IsEmpty() bool {
	return blank(c.Complaint, c.Onset, c.Severity, c.Duration, c.History)
}

func (c ChiefComplaint) Clone() StepData { return c }

func (c ChiefComplaint) Equal(other ChiefComplaint) bool { return c == other }

// Assessment is the subjective review: symptoms, systems, risks.
type Assessment struct {
	Symptoms        []string          `json:"symptoms,omitempty"`
	ReviewOfSystems map[string]string `json:"reviewOfSystems,omitempty"`
	RiskFactors     []string          `json:"riskFactors,omitempty"`
	Notes           string            `json:"notes,omitempty"`
}

func (a Assessment) IsEmpty() bool {
	return len(a.Symptoms) == 0 && len(a.ReviewOfSystems) == 0 &&
		len(a.RiskFactors) == 0 && blank(a.Notes)
}

func (a Assessment) Clone() StepData {
	a.Symptoms = cloneStrings(a.Symptoms)
	a.ReviewOfSystems = cloneStringMap(a.ReviewOfSystems)
	a.RiskFactors = cloneStrings(a.RiskFactors)
	return a
}

func (a Assessment) Equal(other Assessment) bool {
	return stringsEqual(a.Symptoms, other.Symptoms) &&
		stringMapEqual(a.ReviewOfSystems, other.ReviewOfSystems) &&
		stringsEqual(a.RiskFactors, other.RiskFactors) &&
		a.Notes == other.Notes
}

// Vitals holds the measured vital signs as entered, untyped strings
// so partially filled values survive round-trips unchanged.
type Vitals struct {
	Temperature      string `json:"temperature,omitempty"`
	HeartRate        string `json:"heartRate,omitempty"`
	RespiratoryRate  string `json:"respiratoryRate,omitempty"`
	BloodPressure    string `json:"bloodPressure,omitempty"`
	OxygenSaturation string `json:"oxygenSaturation,omitempty"`
	Height           string `json:"height,omitempty"`
	Weight           string `json:"weight,omitempty"`
}

// Exam is the objective physical-examination section.
type Exam struct {
	Vitals   Vitals            `json:"vitals"`
	Findings map[string]string `json:"findings,omitempty"`
	General  string            `json:"general,omitempty"`
}

// IsEmpty reports whether no vital sign has been entered.
func (v Vitals) IsEmpty() bool {
	return blank(v.Temperature, v.HeartRate, v.RespiratoryRate,
		v.BloodPressure, v.OxygenSaturation, v.Height, v.Weight)
}

func (e Exam) IsEmpty() bool {
	return e.Vitals.IsEmpty() && len(e.Findings) == 0 && blank(e.General)
}

func (e Exam) Clone() StepData {
	e.Findings = cloneStringMap(e.Findings)
	return e
}

func (e Exam) Equal(other Exam) bool {
	return e.Vitals == other.Vitals &&
		stringMapEqual(e.Findings, other.Findings) &&
		e.General == other.General
}

// Differential is one candidate diagnosis under consideration.
type Differential struct {
	Name       string `json:"name"`
	ICD10      string `json:"icd10,omitempty"`
	Likelihood string `json:"likelihood,omitempty"`
}

// Diagnosis is the assessment conclusion: differentials plus the
// working diagnosis.
type Diagnosis struct {
	Differentials []Differential `json:"differentials,omitempty"`
	Working       string         `json:"working,omitempty"`
	Notes         string         `json:"notes,omitempty"`
}

func (d Diagnosis) IsEmpty() bool {
	return len(d.Differentials) == 0 && blank(d.Working, d.Notes)
}

func (d Diagnosis) Clone() StepData {
	d.Differentials = append([]Differential(nil), d.Differentials...)
	return d
}

func (d Diagnosis) Equal(other Diagnosis) bool {
	if len(d.Differentials) != len(other.Differentials) {
		return false
	}
	for i := range d.Differentials {
		if d.Differentials[i] != other.Differentials[i] {
			return false
		}
	}
	return d.Working == other.Working && d.Notes == other.Notes
}

// OrderedTest is one diagnostic test selected for ordering.
type OrderedTest struct {
	Code     string `json:"code"`
	Name     string `json:"name,omitempty"`
	Category string `json:"category,omitempty"`
}

// Tests is the diagnostic-test ordering section.
type Tests struct {
	Ordered   []OrderedTest `json:"ordered,omitempty"`
	Rationale string        `json:"rationale,omitempty"`
}

func (t Tests) IsEmpty() bool {
	return len(t.Ordered) == 0 && blank(t.Rationale)
}

func (t Tests) Clone() StepData {
	t.Ordered = append([]OrderedTest(nil), t.Ordered...)
	return t
}

func (t Tests) Equal(other Tests) bool {
	if len(t.Ordered) != len(other.Ordered) {
		return false
	}
	for i := range t.Ordered {
		if t.Ordered[i] != other.Ordered[i] {
			return false
		}
	}
	return t.Rationale == other.Rationale
}

// TestResult is a returned value for one ordered test.
type TestResult struct {
	Code  string `json:"code"`
	Name  string `json:"name,omitempty"`
	Value string `json:"value,omitempty"`
	Unit  string `json:"unit,omitempty"`
	Flag  string `json:"flag,omitempty"`
}

// Results collects returned test values.
type Results struct {
	Entries []TestResult `json:"entries,omitempty"`
	Summary string       `json:"summary,omitempty"`
}

func (r Results) IsEmpty() bool {
	return len(r.Entries) == 0 && blank(r.Summary)
}

func (r Results) Clone() StepData {
	r.Entries = append([]TestResult(nil), r.Entries...)
	return r
}

func (r Results) Equal(other Results) bool {
	if len(r.Entries) != len(other.Entries) {
		return false
	}
	for i := range r.Entries {
		if r.Entries[i] != other.Entries[i] {
			return false
		}
	}
	return r.Summary == other.Summary
}

// Prescription is one prescribed medication.
type Prescription struct {
	Medication string `json:"medication"`
	Dose       string `json:"dose,omitempty"`
	Route      string `json:"route,omitempty"`
	Frequency  string `json:"frequency,omitempty"`
	Duration   string `json:"duration,omitempty"`
}

// Plan is the treatment-plan section.
type Plan struct {
	Treatments    []string       `json:"treatments,omitempty"`
	Prescriptions []Prescription `json:"prescriptions,omitempty"`
	FollowUp      string         `json:"followUp,omitempty"`
	Instructions  string         `json:"instructions,omitempty"`
}

func (p Plan) IsEmpty() bool {
	return len(p.Treatments) == 0 && len(p.Prescriptions) == 0 &&
		blank(p.FollowUp, p.Instructions)
}

func (p Plan) Clone() StepData {
	p.Treatments = cloneStrings(p.Treatments)
	p.Prescriptions = append([]Prescription(nil), p.Prescriptions...)
	return p
}

func (p Plan) Equal(other Plan) bool {
	if !stringsEqual(p.Treatments, other.Treatments) {
		return false
	}
	if len(p.Prescriptions) != len(other.Prescriptions) {
		return false
	}
	for i := range p.Prescriptions {
		if p.Prescriptions[i] != other.Prescriptions[i] {
			return false
		}
	}
	return p.FollowUp == other.FollowUp && p.Instructions == other.Instructions
}

// Summary is the final encounter note.
type Summary struct {
	Note     string `json:"note,omitempty"`
	Addendum string `json:"addendum,omitempty"`
}

func (s Summary) IsEmpty() bool {
	return blank(s.Note, s.Addendum)
}

func (s Summary) Clone() StepData { return s }

func (s Summary) Equal(other Summary) bool { return s == other }

// blank reports whether every string is empty after trimming
// whitespace.
func blank(ss ...string) bool {
	for _, s := range ss {
		if strings.TrimSpace(s) != "" {
			return false
		}
	}
	return true
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// stringsEqual compares element-wise and order-sensitively; nil and
// empty compare equal.
func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func stringMapEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		ov, ok := b[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}
