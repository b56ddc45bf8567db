package consultation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"pocket-council/internal/agent"
	"pocket-council/internal/platform/metrics"
	"pocket-council/internal/platform/storage"
)

// Orchestrator runs the agent roster. Declared here to decouple from the
// concrete agent implementation.
type Orchestrator interface {
	Run(ctx context.Context, transcript string, snap agent.Snapshot) []agent.Result
}

// STTClient turns recorded audio into text.
type STTClient interface {
	Transcribe(ctx context.Context, audioData []byte, fileName string) (string, error)
}

type MedicationInput struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage,omitempty"`
	Frequency string `json:"frequency,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

type PatientInput struct {
	FullName    string            `json:"full_name"`
	DateOfBirth string            `json:"date_of_birth,omitempty"` // YYYY-MM-DD
	Allergies   string            `json:"allergies,omitempty"`
	History     string            `json:"history,omitempty"`
	Medications []MedicationInput `json:"medications,omitempty"`
}

// ConsultationInput links to an existing patient, creates one inline, or
// neither for an unlinked consultation.
type ConsultationInput struct {
	PatientID           *uuid.UUID    `json:"patient_id,omitempty"`
	Patient             *PatientInput `json:"patient,omitempty"`
	PresentingComplaint string        `json:"presenting_complaint,omitempty"`
}

type TranscriptInput struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

type RecordInput struct {
	RecordType  string         `json:"record_type"`
	Title       string         `json:"title"`
	ContentText string         `json:"content_text,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Source      string         `json:"source,omitempty"`
}

type DocumentInput struct {
	Filename    string
	ContentType string
	Kind        string
	Body        io.Reader
}

type Service interface {
	CreatePatient(ctx context.Context, in PatientInput) (*Patient, error)
	ListPatients(ctx context.Context) ([]Patient, error)

	CreateConsultation(ctx context.Context, in ConsultationInput) (*Consultation, error)
	GetConsultation(ctx context.Context, id uuid.UUID) (*Consultation, error)
	// AppendTranscript stores one line and runs every agent over the full transcript.
	AppendTranscript(ctx context.Context, id uuid.UUID, in TranscriptInput) (*InsightBundle, error)
	// ProcessAudio transcribes audio and feeds it through AppendTranscript.
	// A nil bundle with no error means no speech was detected.
	ProcessAudio(ctx context.Context, id uuid.UUID, audio []byte, fileName string) (*InsightBundle, error)
	ListInsights(ctx context.Context, id uuid.UUID) ([]AgentOutput, error)
	CloseConsultation(ctx context.Context, id uuid.UUID, summary string) (*Consultation, error)
	// BuildReport collects the consultation with each agent's latest output.
	BuildReport(ctx context.Context, id uuid.UUID) (*Report, error)

	AddRecord(ctx context.Context, patientID uuid.UUID, in RecordInput) (*MedicalRecord, error)
	ListRecords(ctx context.Context, patientID uuid.UUID) ([]MedicalRecord, error)
	AddDocument(ctx context.Context, patientID uuid.UUID, in DocumentInput) (*Document, error)
	ListDocuments(ctx context.Context, patientID uuid.UUID) ([]Document, error)
}

type service struct {
	repo      Repository
	agents    Orchestrator
	assembler *Assembler
	stt       STTClient
	files     storage.FileStore
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(repo Repository, agents Orchestrator, assembler *Assembler, stt STTClient, files storage.FileStore, logger *slog.Logger) Service {
	if assembler == nil {
		assembler = NewAssembler(DefaultAssemblerConfig())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &service{
		repo:      repo,
		agents:    agents,
		assembler: assembler,
		stt:       stt,
		files:     files,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *service) CreatePatient(ctx context.Context, in PatientInput) (*Patient, error) {
	name := strings.TrimSpace(in.FullName)
	if name == "" {
		return nil, fmt.Errorf("full_name is required: %w", ErrInvalidInput)
	}
	p := &Patient{
		ID:        uuid.New(),
		FullName:  name,
		Allergies: strings.TrimSpace(in.Allergies),
		History:   strings.TrimSpace(in.History),
		CreatedAt: s.now(),
	}
	if in.DateOfBirth != "" {
		dob, err := time.Parse(time.DateOnly, in.DateOfBirth)
		if err != nil {
			return nil, fmt.Errorf("date_of_birth %q: %w", in.DateOfBirth, ErrInvalidInput)
		}
		p.DateOfBirth = &dob
	}

	meds := make([]Medication, 0, len(in.Medications))
	for _, m := range in.Medications {
		if strings.TrimSpace(m.Name) == "" {
			return nil, fmt.Errorf("medication name is required: %w", ErrInvalidInput)
		}
		meds = append(meds, Medication{
			ID:        uuid.New(),
			PatientID: p.ID,
			Name:      strings.TrimSpace(m.Name),
			Dosage:    strings.TrimSpace(m.Dosage),
			Frequency: strings.TrimSpace(m.Frequency),
			Notes:     m.Notes,
			CreatedAt: p.CreatedAt,
		})
	}

	if err := s.repo.CreatePatient(ctx, p, meds); err != nil {
		return nil, fmt.Errorf("create patient: %w", err)
	}
	return p, nil
}

func (s *service) ListPatients(ctx context.Context) ([]Patient, error) {
	return s.repo.ListPatients(ctx)
}

func (s *service) CreateConsultation(ctx context.Context, in ConsultationInput) (*Consultation, error) {
	var patientID *uuid.UUID
	switch {
	case in.PatientID != nil:
		if _, err := s.repo.GetPatient(ctx, *in.PatientID); err != nil {
			return nil, err
		}
		id := *in.PatientID
		patientID = &id
	case in.Patient != nil:
		p, err := s.CreatePatient(ctx, *in.Patient)
		if err != nil {
			return nil, err
		}
		patientID = &p.ID
	}

	now := s.now()
	c := &Consultation{
		ID:        uuid.New(),
		PatientID: patientID,
		Status:    StatusActive,
		Summary:   strings.TrimSpace(in.PresentingComplaint),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.SaveConsultation(ctx, c); err != nil {
		return nil, fmt.Errorf("save consultation: %w", err)
	}
	return c, nil
}

func (s *service) GetConsultation(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	return s.repo.GetConsultation(ctx, id)
}

func (s *service) AppendTranscript(ctx context.Context, id uuid.UUID, in TranscriptInput) (*InsightBundle, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, fmt.Errorf("transcript text is required: %w", ErrInvalidInput)
	}
	speaker := strings.TrimSpace(in.Speaker)
	if speaker == "" {
		speaker = "patient"
	}

	// 1. Load and check state
	c, err := s.repo.GetConsultation(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.IsClosed() {
		return nil, fmt.Errorf("consultation %s: %w", id, ErrClosed)
	}

	// 2. Append to the transcript
	chunk := &TranscriptChunk{
		ID:             uuid.New(),
		ConsultationID: id,
		Speaker:        speaker,
		Text:           text,
		CapturedAt:     s.now(),
	}
	if err := s.repo.AppendTranscript(ctx, chunk); err != nil {
		return nil, fmt.Errorf("append transcript: %w", err)
	}
	c.UpdatedAt = chunk.CapturedAt

	// 3. Rebuild context and the full transcript
	snap, err := s.snapshot(ctx, c)
	if err != nil {
		return nil, err
	}
	chunks, err := s.repo.ListTranscript(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}

	// 4. Run the roster
	results := s.agents.Run(ctx, RenderTranscript(chunks), snap)

	// 5. Persist outputs and merge the summary
	createdAt := s.now()
	outputs := make([]AgentOutput, len(results))
	for i, r := range results {
		outputs[i] = AgentOutput{
			ID:             uuid.New(),
			ConsultationID: id,
			Agent:          r.Agent,
			Category:       r.Category,
			Content:        r.Content,
			Confidence:     r.Confidence,
			Fallback:       r.Fallback,
			CreatedAt:      createdAt,
		}
	}
	if err := s.repo.SaveAgentOutputs(ctx, outputs); err != nil {
		return nil, fmt.Errorf("save agent outputs: %w", err)
	}
	if summary, changed := MergeSummary(c.Summary, results); changed {
		c.Summary = summary
	}
	// The consultation may have been closed while the roster ran; a full
	// save here would reopen it.
	if err := s.repo.UpdateSummary(ctx, id, c.Summary, c.UpdatedAt); err != nil {
		return nil, fmt.Errorf("save summary: %w", err)
	}

	s.logger.Info("transcript processed",
		"consultation_id", id,
		"speaker", speaker,
		"outputs", len(outputs))

	return &InsightBundle{
		ConsultationID: id,
		Transcript:     text,
		Summary:        c.Summary,
		Outputs:        outputs,
	}, nil
}

// snapshot gathers the patient's stored state. A consultation without a
// patient, or whose patient has disappeared, gets only the complaint.
func (s *service) snapshot(ctx context.Context, c *Consultation) (agent.Snapshot, error) {
	src := SnapshotSource{Summary: c.Summary}
	if c.PatientID == nil {
		return s.assembler.Assemble(src), nil
	}
	pid := *c.PatientID

	p, err := s.repo.GetPatient(ctx, pid)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.Warn("consultation patient missing, using empty context", "consultation_id", c.ID, "patient_id", pid)
			return s.assembler.Assemble(src), nil
		}
		return agent.Snapshot{}, fmt.Errorf("load patient: %w", err)
	}
	src.Patient = p

	if src.Medications, err = s.repo.ListMedications(ctx, pid); err != nil {
		return agent.Snapshot{}, fmt.Errorf("load medications: %w", err)
	}
	if src.Records, err = s.repo.ListRecords(ctx, pid, s.assembler.cfg.RecordLimit); err != nil {
		return agent.Snapshot{}, fmt.Errorf("load records: %w", err)
	}
	if src.Documents, err = s.repo.ListDocuments(ctx, pid); err != nil {
		return agent.Snapshot{}, fmt.Errorf("load documents: %w", err)
	}
	return s.assembler.Assemble(src), nil
}

func (s *service) ProcessAudio(ctx context.Context, id uuid.UUID, audio []byte, fileName string) (*InsightBundle, error) {
	if s.stt == nil {
		return nil, errors.New("transcription is not configured")
	}
	text, err := s.stt.Transcribe(ctx, audio, fileName)
	if err != nil {
		return nil, fmt.Errorf("transcribe audio: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	metrics.TranscriptChunks.WithLabelValues("audio").Inc()
	return s.AppendTranscript(ctx, id, TranscriptInput{Speaker: "patient", Text: text})
}

func (s *service) ListInsights(ctx context.Context, id uuid.UUID) ([]AgentOutput, error) {
	if _, err := s.repo.GetConsultation(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListAgentOutputs(ctx, id)
}

func (s *service) CloseConsultation(ctx context.Context, id uuid.UUID, summary string) (*Consultation, error) {
	c, err := s.repo.GetConsultation(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !c.IsClosed() {
		c.Status = StatusClosed
		c.ClosedAt = &now
	}
	if summary = strings.TrimSpace(summary); summary != "" {
		c.Summary = summary
	}
	c.UpdatedAt = now
	if err := s.repo.SaveConsultation(ctx, c); err != nil {
		return nil, fmt.Errorf("save consultation: %w", err)
	}
	return c, nil
}

func (s *service) BuildReport(ctx context.Context, id uuid.UUID) (*Report, error) {
	c, err := s.repo.GetConsultation(ctx, id)
	if err != nil {
		return nil, err
	}
	rep := &Report{Consultation: *c, GeneratedAt: s.now()}

	if c.PatientID != nil {
		p, err := s.repo.GetPatient(ctx, *c.PatientID)
		switch {
		case err == nil:
			rep.Patient = p
			if rep.Medications, err = s.repo.ListMedications(ctx, p.ID); err != nil {
				return nil, fmt.Errorf("load medications: %w", err)
			}
		case !errors.Is(err, ErrNotFound):
			return nil, fmt.Errorf("load patient: %w", err)
		}
	}

	chunks, err := s.repo.ListTranscript(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	rep.Transcript = RenderTranscript(chunks)

	outputs, err := s.repo.ListAgentOutputs(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load agent outputs: %w", err)
	}
	rep.Outputs = latestPerAgent(outputs)
	return rep, nil
}

// latestPerAgent keeps the first output seen for each agent of a
// newest-first list.
func latestPerAgent(outputs []AgentOutput) []AgentOutput {
	seen := make(map[string]bool, len(outputs))
	latest := make([]AgentOutput, 0, 4)
	for _, o := range outputs {
		if seen[o.Agent] {
			continue
		}
		seen[o.Agent] = true
		latest = append(latest, o)
	}
	return latest
}

func (s *service) AddRecord(ctx context.Context, patientID uuid.UUID, in RecordInput) (*MedicalRecord, error) {
	if strings.TrimSpace(in.RecordType) == "" || strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("record_type and title are required: %w", ErrInvalidInput)
	}
	if _, err := s.repo.GetPatient(ctx, patientID); err != nil {
		return nil, err
	}
	rec := &MedicalRecord{
		ID:          uuid.New(),
		PatientID:   patientID,
		RecordType:  strings.TrimSpace(in.RecordType),
		Title:       strings.TrimSpace(in.Title),
		ContentText: in.ContentText,
		Data:        in.Data,
		Source:      in.Source,
		CreatedAt:   s.now(),
	}
	if err := s.repo.CreateRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("create record: %w", err)
	}
	return rec, nil
}

func (s *service) ListRecords(ctx context.Context, patientID uuid.UUID) ([]MedicalRecord, error) {
	return s.repo.ListRecords(ctx, patientID, 0)
}

func (s *service) AddDocument(ctx context.Context, patientID uuid.UUID, in DocumentInput) (*Document, error) {
	if in.Body == nil || strings.TrimSpace(in.Filename) == "" {
		return nil, fmt.Errorf("file is required: %w", ErrInvalidInput)
	}
	if _, err := s.repo.GetPatient(ctx, patientID); err != nil {
		return nil, err
	}
	path, err := s.files.Put(ctx, in.Filename, in.Body)
	if err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}
	doc := &Document{
		ID:          uuid.New(),
		PatientID:   patientID,
		Filename:    storage.SafeName(in.Filename),
		FilePath:    path,
		ContentType: in.ContentType,
		Kind:        in.Kind,
		UploadedAt:  s.now(),
	}
	if err := s.repo.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	return doc, nil
}

func (s *service) ListDocuments(ctx context.Context, patientID uuid.UUID) ([]Document, error) {
	return s.repo.ListDocuments(ctx, patientID)
}
