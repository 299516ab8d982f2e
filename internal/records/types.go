// Package records is the dual-persistence record repository: every
// operation attempts the remote backend first and degrades to the
// durable local cache when the backend fails. Operations never return
// a Go error; the Result/Outcome types carry the record, whether it is
// authoritative or a local fallback, and the remote error when one
// occurred. The most recent remote failure is also held in a shared
// slot readable via LastError.
package records

import (
	"context"
	"errors"
	"time"

	"github.com/verdanthealth/chartd/internal/encounter"
	"github.com/verdanthealth/chartd/internal/extensions"
)

// ErrNotFound marks a remote 404: the backend answered and the record
// does not exist. It is an authoritative answer, not a failure.
var ErrNotFound = errors.New("record not found")

// PatientRecord is the canonical patient entity. Extensions is filled
// on the way out of the repository and is never sent to the backend.
type PatientRecord struct {
	ID          string            `json:"id"`
	FirstName   string            `json:"firstName,omitempty"`
	LastName    string            `json:"lastName,omitempty"`
	DateOfBirth string            `json:"dateOfBirth,omitempty"`
	Gender      string            `json:"gender,omitempty"`
	Phone       string            `json:"phone,omitempty"`
	Email       string            `json:"email,omitempty"`
	Address     string            `json:"address,omitempty"`
	MRN         string            `json:"mrn,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	Extensions  extensions.Fields `json:"extensions,omitempty"`
}

// PatientInput is the write payload for a patient: the canonical
// fields the backend recognizes plus any extension fields, which stay
// client-side.
type PatientInput struct {
	FirstName   string            `json:"firstName,omitempty"`
	LastName    string            `json:"lastName,omitempty"`
	DateOfBirth string            `json:"dateOfBirth,omitempty"`
	Gender      string            `json:"gender,omitempty"`
	Phone       string            `json:"phone,omitempty"`
	Email       string            `json:"email,omitempty"`
	Address     string            `json:"address,omitempty"`
	MRN         string            `json:"mrn,omitempty"`
	Extensions  extensions.Fields `json:"extensions,omitempty"`
}

// record builds a PatientRecord from the input's canonical fields.
func (in PatientInput) record(id string, createdAt, updatedAt time.Time) PatientRecord {
	return PatientRecord{
		ID:          id,
		FirstName:   in.FirstName,
		LastName:    in.LastName,
		DateOfBirth: in.DateOfBirth,
		Gender:      in.Gender,
		Phone:       in.Phone,
		Email:       in.Email,
		Address:     in.Address,
		MRN:         in.MRN,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}
}

// canonicalPatientFields are the JSON names the backend owns. Extension
// fields carrying one of these names never survive the merge.
var canonicalPatientFields = map[string]struct{}{
	"id":          {},
	"firstName":   {},
	"lastName":    {},
	"dateOfBirth": {},
	"gender":      {},
	"phone":       {},
	"email":       {},
	"address":     {},
	"mrn":         {},
	"createdAt":   {},
	"updatedAt":   {},
	"extensions":  {},
}

// Session is the autosaved representation of one in-progress draft.
type Session struct {
	ID        string          `json:"id"`
	PatientID string          `json:"patientId"`
	Step      encounter.Step  `json:"step"`
	Draft     encounter.Draft `json:"draft"`
	Seq       uint64          `json:"seq"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// SessionInput is the write payload for a session. Seq is the
// scheduler's monotonic save sequence, stored for observability.
type SessionInput struct {
	PatientID string          `json:"patientId"`
	Step      encounter.Step  `json:"step"`
	Draft     encounter.Draft `json:"draft"`
	Seq       uint64          `json:"seq"`
}

func (in SessionInput) session(id string, createdAt, updatedAt time.Time) Session {
	return Session{
		ID:        id,
		PatientID: in.PatientID,
		Step:      in.Step,
		Draft:     in.Draft.Clone(),
		Seq:       in.Seq,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
}

// EncounterRecord is a finalized encounter: the permanent record a
// draft becomes on save-and-complete.
type EncounterRecord struct {
	ID            string          `json:"id"`
	PatientID     string          `json:"patientId"`
	Documentation encounter.Draft `json:"documentation"`
	Note          string          `json:"note,omitempty"`
	FinalizedAt   time.Time       `json:"finalizedAt"`
}

// EncounterInput is the write payload for finalizing an encounter.
type EncounterInput struct {
	PatientID     string          `json:"patientId"`
	Documentation encounter.Draft `json:"documentation"`
	Note          string          `json:"note,omitempty"`
}

// RemoteClient is the backend the repository tries first. 404s map to
// ErrNotFound; anything else returned as an error is treated as a
// backend failure and triggers local fallback. Implementations must
// not send extension fields to the backend.
type RemoteClient interface {
	CreatePatient(ctx context.Context, in PatientInput) (PatientRecord, error)
	GetPatient(ctx context.Context, id string) (PatientRecord, error)
	UpdatePatient(ctx context.Context, id string, in PatientInput) (PatientRecord, error)
	DeletePatient(ctx context.Context, id string) error
	ListPatients(ctx context.Context) ([]PatientRecord, error)

	CreateSession(ctx context.Context, in SessionInput) (Session, error)
	UpdateSession(ctx context.Context, id string, in SessionInput) (Session, error)
	GetSession(ctx context.Context, id string) (Session, error)
	DeleteSession(ctx context.Context, id string) error

	CreateEncounter(ctx context.Context, in EncounterInput) (EncounterRecord, error)
	ListEncounters(ctx context.Context, patientID string) ([]EncounterRecord, error)
}
