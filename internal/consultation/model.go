package consultation

import (
	"time"

	"github.com/google/uuid"

	"pocket-council/internal/agent"
)

type Status string

const (
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

type Patient struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	FullName    string     `json:"full_name" db:"full_name"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty" db:"date_of_birth"`
	Allergies   string     `json:"allergies,omitempty" db:"allergies"`
	History     string     `json:"history,omitempty" db:"history"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

type Medication struct {
	ID        uuid.UUID `json:"id" db:"id"`
	PatientID uuid.UUID `json:"patient_id" db:"patient_id"`
	Name      string    `json:"name" db:"name"`
	Dosage    string    `json:"dosage,omitempty" db:"dosage"`
	Frequency string    `json:"frequency,omitempty" db:"frequency"`
	Notes     string    `json:"notes,omitempty" db:"notes"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Document struct {
	ID          uuid.UUID `json:"document_id" db:"id"`
	PatientID   uuid.UUID `json:"patient_id" db:"patient_id"`
	Filename    string    `json:"filename" db:"filename"`
	FilePath    string    `json:"-" db:"file_path"`
	ContentType string    `json:"content_type,omitempty" db:"content_type"`
	Kind        string    `json:"kind,omitempty" db:"kind"`
	UploadedAt  time.Time `json:"uploaded_at" db:"uploaded_at"`
}

// MedicalRecord is a lab panel, imaging study, exam or similar entry.
type MedicalRecord struct {
	ID          uuid.UUID      `json:"id" db:"id"`
	PatientID   uuid.UUID      `json:"patient_id" db:"patient_id"`
	RecordType  string         `json:"record_type" db:"record_type"` // lab_panel | imaging | exam | note | other
	Title       string         `json:"title" db:"title"`
	ContentText string         `json:"content_text,omitempty" db:"content_text"`
	Data        map[string]any `json:"data,omitempty" db:"data"`
	Source      string         `json:"source,omitempty" db:"source"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
}

// Consultation is the aggregate root of one visit.
type Consultation struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	PatientID *uuid.UUID `json:"patient_id" db:"patient_id"`
	Status    Status     `json:"status" db:"status"`
	Summary   string     `json:"summary" db:"summary"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty" db:"closed_at"`
}

func (c *Consultation) IsClosed() bool { return c.Status == StatusClosed }

// TranscriptChunk is one line of the conversation. Seq is assigned by the
// repository and orders chunks captured at the same instant.
type TranscriptChunk struct {
	ID             uuid.UUID `json:"id" db:"id"`
	ConsultationID uuid.UUID `json:"consultation_id" db:"consultation_id"`
	Seq            int64     `json:"seq" db:"seq"`
	Speaker        string    `json:"speaker" db:"speaker"`
	Text           string    `json:"text" db:"text"`
	CapturedAt     time.Time `json:"captured_at" db:"captured_at"`
}

// AgentOutput is a persisted agent.Result.
type AgentOutput struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	ConsultationID uuid.UUID      `json:"consultation_id" db:"consultation_id"`
	Agent          string         `json:"agent" db:"agent"`
	Category       agent.Category `json:"category" db:"category"`
	Content        string         `json:"content" db:"content"`
	Confidence     *float64       `json:"confidence" db:"confidence"`
	Fallback       bool           `json:"fallback" db:"fallback"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}

// InsightBundle is what a transcript update returns to the caller.
type InsightBundle struct {
	ConsultationID uuid.UUID     `json:"consultation_id"`
	Transcript     string        `json:"transcript"`
	Summary        string        `json:"summary"`
	Outputs        []AgentOutput `json:"outputs"`
}

// Report is the end-of-visit view handed to report renderers.
type Report struct {
	Consultation Consultation  `json:"consultation"`
	Patient      *Patient      `json:"patient,omitempty"`
	Medications  []Medication  `json:"medications,omitempty"`
	Transcript   string        `json:"transcript"`
	Outputs      []AgentOutput `json:"outputs"` // latest per agent
	GeneratedAt  time.Time     `json:"generated_at"`
}
