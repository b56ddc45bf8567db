package consultation

import (
	"fmt"
	"sort"
	"strings"

	"pocket-council/internal/agent"
)

// AssemblerConfig bounds how much patient history ends up in agent prompts.
type AssemblerConfig struct {
	RecordLimit    int // most recent records kept
	DataPairs      int // structured key:value pairs per record
	NarrativeChars int // narrative characters per record
}

func DefaultAssemblerConfig() AssemblerConfig {
	return AssemblerConfig{RecordLimit: 5, DataPairs: 3, NarrativeChars: 120}
}

// SnapshotSource is the stored state a snapshot is built from. Patient is nil
// for a consultation without a linked patient.
type SnapshotSource struct {
	Patient     *Patient
	Medications []Medication
	Records     []MedicalRecord
	Documents   []Document
	Summary     string
}

type Assembler struct {
	cfg AssemblerConfig
}

func NewAssembler(cfg AssemblerConfig) *Assembler {
	def := DefaultAssemblerConfig()
	if cfg.RecordLimit <= 0 {
		cfg.RecordLimit = def.RecordLimit
	}
	if cfg.DataPairs <= 0 {
		cfg.DataPairs = def.DataPairs
	}
	if cfg.NarrativeChars <= 0 {
		cfg.NarrativeChars = def.NarrativeChars
	}
	return &Assembler{cfg: cfg}
}

// Assemble is a pure function of src: the same state always yields the same
// snapshot. Empty collections leave the field absent.
func (a *Assembler) Assemble(src SnapshotSource) agent.Snapshot {
	var snap agent.Snapshot
	if p := src.Patient; p != nil {
		snap.Allergies = strings.TrimSpace(p.Allergies)
		snap.History = strings.TrimSpace(p.History)
		snap.Medications = renderMedications(src.Medications)
		snap.Records = a.renderRecords(src.Records)
		snap.Documents = renderDocuments(src.Documents)
	}
	if complaint := strings.TrimSpace(src.Summary); complaint != "" && !agent.IsOfflineContent(complaint) {
		snap.Complaint = complaint
	}
	return snap
}

func renderMedications(meds []Medication) string {
	parts := make([]string, 0, len(meds))
	for _, m := range meds {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			continue
		}
		if dosage := strings.TrimSpace(m.Dosage); dosage != "" {
			name = fmt.Sprintf("%s (%s)", name, dosage)
		}
		parts = append(parts, name)
	}
	return strings.Join(parts, ", ")
}

func renderDocuments(docs []Document) string {
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		if d.Filename != "" {
			parts = append(parts, d.Filename)
		}
	}
	return strings.Join(parts, ", ")
}

func (a *Assembler) renderRecords(records []MedicalRecord) string {
	if len(records) == 0 {
		return ""
	}
	sorted := make([]MedicalRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	if len(sorted) > a.cfg.RecordLimit {
		sorted = sorted[:a.cfg.RecordLimit]
	}

	parts := make([]string, len(sorted))
	for i, r := range sorted {
		parts[i] = a.recordSnippet(r)
	}
	return strings.Join(parts, "; ")
}

// recordSnippet renders "type: title | k: v; k: v | narrative".
func (a *Assembler) recordSnippet(r MedicalRecord) string {
	parts := []string{fmt.Sprintf("%s: %s", r.RecordType, r.Title)}

	if len(r.Data) > 0 {
		keys := make([]string, 0, len(r.Data))
		for k := range r.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) > a.cfg.DataPairs {
			keys = keys[:a.cfg.DataPairs]
		}
		pairs := make([]string, len(keys))
		for i, k := range keys {
			pairs[i] = fmt.Sprintf("%s: %v", k, r.Data[k])
		}
		parts = append(parts, strings.Join(pairs, "; "))
	}

	if text := r.ContentText; text != "" {
		if runes := []rune(text); len(runes) > a.cfg.NarrativeChars {
			text = string(runes[:a.cfg.NarrativeChars])
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, " | ")
}
