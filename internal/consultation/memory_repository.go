package consultation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryRepo keeps everything in process. Used when no database is reachable
// and in tests.
type memoryRepo struct {
	mu            sync.RWMutex
	patients      map[uuid.UUID]Patient
	patientOrder  []uuid.UUID
	medications   map[uuid.UUID][]Medication
	consultations map[uuid.UUID]Consultation
	transcripts   map[uuid.UUID][]TranscriptChunk
	outputs       map[uuid.UUID][]AgentOutput
	records       map[uuid.UUID][]MedicalRecord
	documents     map[uuid.UUID][]Document
	seq           int64
}

func NewMemoryRepository() Repository {
	return &memoryRepo{
		patients:      make(map[uuid.UUID]Patient),
		medications:   make(map[uuid.UUID][]Medication),
		consultations: make(map[uuid.UUID]Consultation),
		transcripts:   make(map[uuid.UUID][]TranscriptChunk),
		outputs:       make(map[uuid.UUID][]AgentOutput),
		records:       make(map[uuid.UUID][]MedicalRecord),
		documents:     make(map[uuid.UUID][]Document),
	}
}

func (r *memoryRepo) CreatePatient(_ context.Context, p *Patient, meds []Medication) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.patients[p.ID] = *p
	r.patientOrder = append(r.patientOrder, p.ID)
	r.medications[p.ID] = append(r.medications[p.ID], meds...)
	return nil
}

func (r *memoryRepo) GetPatient(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.patients[id]
	if !ok {
		return nil, fmt.Errorf("patient %s: %w", id, ErrNotFound)
	}
	return &p, nil
}

func (r *memoryRepo) ListPatients(_ context.Context) ([]Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Patient, 0, len(r.patientOrder))
	for i := len(r.patientOrder) - 1; i >= 0; i-- {
		out = append(out, r.patients[r.patientOrder[i]])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepo) ListMedications(_ context.Context, patientID uuid.UUID) ([]Medication, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Medication(nil), r.medications[patientID]...), nil
}

func (r *memoryRepo) GetConsultation(_ context.Context, id uuid.UUID) (*Consultation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.consultations[id]
	if !ok {
		return nil, fmt.Errorf("consultation %s: %w", id, ErrNotFound)
	}
	return &c, nil
}

func (r *memoryRepo) SaveConsultation(_ context.Context, c *Consultation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consultations[c.ID] = *c
	return nil
}

func (r *memoryRepo) UpdateSummary(_ context.Context, id uuid.UUID, summary string, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.consultations[id]
	if !ok || c.IsClosed() {
		return nil
	}
	c.Summary = summary
	c.UpdatedAt = updatedAt
	r.consultations[id] = c
	return nil
}

func (r *memoryRepo) AppendTranscript(_ context.Context, chunk *TranscriptChunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	chunk.Seq = r.seq
	r.transcripts[chunk.ConsultationID] = append(r.transcripts[chunk.ConsultationID], *chunk)
	return nil
}

func (r *memoryRepo) ListTranscript(_ context.Context, consultationID uuid.UUID) ([]TranscriptChunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]TranscriptChunk(nil), r.transcripts[consultationID]...), nil
}

func (r *memoryRepo) SaveAgentOutputs(_ context.Context, outputs []AgentOutput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range outputs {
		r.outputs[o.ConsultationID] = append(r.outputs[o.ConsultationID], o)
	}
	return nil
}

func (r *memoryRepo) ListAgentOutputs(_ context.Context, consultationID uuid.UUID) ([]AgentOutput, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.outputs[consultationID]
	out := make([]AgentOutput, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		out = append(out, stored[i])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepo) CreateRecord(_ context.Context, rec *MedicalRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.PatientID] = append(r.records[rec.PatientID], *rec)
	return nil
}

func (r *memoryRepo) ListRecords(_ context.Context, patientID uuid.UUID, limit int) ([]MedicalRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.records[patientID]
	out := make([]MedicalRecord, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		out = append(out, stored[i])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepo) CreateDocument(_ context.Context, d *Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.documents[d.PatientID] = append(r.documents[d.PatientID], *d)
	return nil
}

func (r *memoryRepo) ListDocuments(_ context.Context, patientID uuid.UUID) ([]Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Document(nil), r.documents[patientID]...), nil
}
