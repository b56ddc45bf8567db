package consultation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrClosed       = errors.New("consultation already closed")
	ErrInvalidInput = errors.New("invalid input")
)

type Repository interface {
	CreatePatient(ctx context.Context, p *Patient, meds []Medication) error
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	ListPatients(ctx context.Context) ([]Patient, error)
	ListMedications(ctx context.Context, patientID uuid.UUID) ([]Medication, error)

	GetConsultation(ctx context.Context, id uuid.UUID) (*Consultation, error)
	SaveConsultation(ctx context.Context, c *Consultation) error
	// UpdateSummary touches only summary and updated_at, and leaves closed
	// consultations alone.
	UpdateSummary(ctx context.Context, id uuid.UUID, summary string, updatedAt time.Time) error

	// AppendTranscript assigns chunk.Seq.
	AppendTranscript(ctx context.Context, chunk *TranscriptChunk) error
	ListTranscript(ctx context.Context, consultationID uuid.UUID) ([]TranscriptChunk, error)

	SaveAgentOutputs(ctx context.Context, outputs []AgentOutput) error
	// ListAgentOutputs returns newest first.
	ListAgentOutputs(ctx context.Context, consultationID uuid.UUID) ([]AgentOutput, error)

	CreateRecord(ctx context.Context, r *MedicalRecord) error
	// ListRecords returns newest first; limit <= 0 returns all.
	ListRecords(ctx context.Context, patientID uuid.UUID, limit int) ([]MedicalRecord, error)

	CreateDocument(ctx context.Context, d *Document) error
	ListDocuments(ctx context.Context, patientID uuid.UUID) ([]Document, error)
}

type postgresRepo struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &postgresRepo{db: db}
}

func (r *postgresRepo) CreatePatient(ctx context.Context, p *Patient, meds []Medication) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO patients (id, full_name, date_of_birth, allergies, history, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.FullName, p.DateOfBirth, p.Allergies, p.History, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	for _, m := range meds {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO medications (id, patient_id, name, dosage, frequency, notes, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			m.ID, m.PatientID, m.Name, m.Dosage, m.Frequency, m.Notes, m.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert medication: %w", err)
		}
	}
	return tx.Commit()
}

func (r *postgresRepo) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, full_name, date_of_birth, allergies, history, created_at FROM patients WHERE id = $1`, id)
	var p Patient
	if err := row.Scan(&p.ID, &p.FullName, &p.DateOfBirth, &p.Allergies, &p.History, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("patient %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &p, nil
}

func (r *postgresRepo) ListPatients(ctx context.Context) ([]Patient, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, full_name, date_of_birth, allergies, history, created_at FROM patients ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Patient
	for rows.Next() {
		var p Patient
		if err := rows.Scan(&p.ID, &p.FullName, &p.DateOfBirth, &p.Allergies, &p.History, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *postgresRepo) ListMedications(ctx context.Context, patientID uuid.UUID) ([]Medication, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, patient_id, name, dosage, frequency, notes, created_at
		 FROM medications WHERE patient_id = $1 ORDER BY created_at, id`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Medication
	for rows.Next() {
		var m Medication
		if err := rows.Scan(&m.ID, &m.PatientID, &m.Name, &m.Dosage, &m.Frequency, &m.Notes, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *postgresRepo) GetConsultation(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	query := `SELECT id, patient_id, status, summary, created_at, updated_at, closed_at FROM consultations WHERE id = $1`

	var c Consultation
	var patientID uuid.NullUUID
	var closedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &patientID, &c.Status, &c.Summary, &c.CreatedAt, &c.UpdatedAt, &closedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("consultation %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	if patientID.Valid {
		pid := patientID.UUID
		c.PatientID = &pid
	}
	if closedAt.Valid {
		t := closedAt.Time
		c.ClosedAt = &t
	}
	return &c, nil
}

func (r *postgresRepo) SaveConsultation(ctx context.Context, c *Consultation) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	var patientID uuid.NullUUID
	if c.PatientID != nil {
		patientID = uuid.NullUUID{UUID: *c.PatientID, Valid: true}
	}

	query := `
		INSERT INTO consultations (id, patient_id, status, summary, created_at, updated_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = $3,
			summary = $4,
			updated_at = $6,
			closed_at = $7
	`
	_, err := r.db.ExecContext(ctx, query,
		c.ID, patientID, c.Status, c.Summary, c.CreatedAt, c.UpdatedAt, c.ClosedAt)
	return err
}

func (r *postgresRepo) UpdateSummary(ctx context.Context, id uuid.UUID, summary string, updatedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE consultations SET summary = $2, updated_at = $3 WHERE id = $1 AND status <> $4`,
		id, summary, updatedAt, StatusClosed)
	return err
}

func (r *postgresRepo) AppendTranscript(ctx context.Context, chunk *TranscriptChunk) error {
	return r.db.QueryRowContext(ctx,
		`INSERT INTO transcript_chunks (id, consultation_id, speaker, text, captured_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING seq`,
		chunk.ID, chunk.ConsultationID, chunk.Speaker, chunk.Text, chunk.CapturedAt,
	).Scan(&chunk.Seq)
}

func (r *postgresRepo) ListTranscript(ctx context.Context, consultationID uuid.UUID) ([]TranscriptChunk, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, consultation_id, seq, speaker, text, captured_at
		 FROM transcript_chunks WHERE consultation_id = $1 ORDER BY captured_at, seq`, consultationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TranscriptChunk
	for rows.Next() {
		var c TranscriptChunk
		if err := rows.Scan(&c.ID, &c.ConsultationID, &c.Seq, &c.Speaker, &c.Text, &c.CapturedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *postgresRepo) SaveAgentOutputs(ctx context.Context, outputs []AgentOutput) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("agent_outputs",
		"id", "consultation_id", "agent", "category", "content", "confidence", "fallback", "created_at"))
	if err != nil {
		return fmt.Errorf("prepare agent output copy: %w", err)
	}
	for _, o := range outputs {
		if _, err := stmt.ExecContext(ctx,
			o.ID, o.ConsultationID, o.Agent, string(o.Category), o.Content, o.Confidence, o.Fallback, o.CreatedAt); err != nil {
			stmt.Close()
			return fmt.Errorf("copy agent output: %w", err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("flush agent outputs: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *postgresRepo) ListAgentOutputs(ctx context.Context, consultationID uuid.UUID) ([]AgentOutput, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, consultation_id, agent, category, content, confidence, fallback, created_at
		 FROM agent_outputs WHERE consultation_id = $1 ORDER BY created_at DESC, seq DESC`, consultationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AgentOutput
	for rows.Next() {
		var o AgentOutput
		var confidence sql.NullFloat64
		if err := rows.Scan(&o.ID, &o.ConsultationID, &o.Agent, &o.Category, &o.Content, &confidence, &o.Fallback, &o.CreatedAt); err != nil {
			return nil, err
		}
		if confidence.Valid {
			v := confidence.Float64
			o.Confidence = &v
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *postgresRepo) CreateRecord(ctx context.Context, rec *MedicalRecord) error {
	var data []byte
	if rec.Data != nil {
		var err error
		if data, err = json.Marshal(rec.Data); err != nil {
			return fmt.Errorf("marshal record data: %w", err)
		}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO medical_records (id, patient_id, record_type, title, content_text, data, source, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.PatientID, rec.RecordType, rec.Title, rec.ContentText, data, rec.Source, rec.CreatedAt)
	return err
}

func (r *postgresRepo) ListRecords(ctx context.Context, patientID uuid.UUID, limit int) ([]MedicalRecord, error) {
	query := `SELECT id, patient_id, record_type, title, content_text, data, source, created_at
		FROM medical_records WHERE patient_id = $1 ORDER BY created_at DESC`
	args := []any{patientID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MedicalRecord
	for rows.Next() {
		var rec MedicalRecord
		var data []byte
		if err := rows.Scan(&rec.ID, &rec.PatientID, &rec.RecordType, &rec.Title, &rec.ContentText, &data, &rec.Source, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &rec.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal record data: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *postgresRepo) CreateDocument(ctx context.Context, d *Document) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO documents (id, patient_id, filename, file_path, content_type, kind, uploaded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.ID, d.PatientID, d.Filename, d.FilePath, d.ContentType, d.Kind, d.UploadedAt)
	return err
}

func (r *postgresRepo) ListDocuments(ctx context.Context, patientID uuid.UUID) ([]Document, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, patient_id, filename, file_path, content_type, kind, uploaded_at
		 FROM documents WHERE patient_id = $1 ORDER BY uploaded_at, id`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.PatientID, &d.Filename, &d.FilePath, &d.ContentType, &d.Kind, &d.UploadedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
