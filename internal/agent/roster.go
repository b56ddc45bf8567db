package agent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Field names one entry of the context snapshot.
type Field string

const (
	FieldAllergies   Field = "allergies"
	FieldMedications Field = "medications"
	FieldHistory     Field = "history"
	FieldRecords     Field = "records"
	FieldDocuments   Field = "documents"
	FieldComplaint   Field = "complaint"
)

// Snapshot is the patient context handed to every agent. Empty means absent.
type Snapshot struct {
	Allergies   string `json:"allergies,omitempty"`
	Medications string `json:"medications,omitempty"`
	History     string `json:"history,omitempty"`
	Records     string `json:"records,omitempty"`
	Documents   string `json:"documents,omitempty"`
	Complaint   string `json:"complaint,omitempty"`
}

func (s Snapshot) Value(f Field) string {
	switch f {
	case FieldAllergies:
		return s.Allergies
	case FieldMedications:
		return s.Medications
	case FieldHistory:
		return s.History
	case FieldRecords:
		return s.Records
	case FieldDocuments:
		return s.Documents
	case FieldComplaint:
		return s.Complaint
	}
	return ""
}

// FieldSpec is one line of an agent's prompt: label, snapshot field and the
// sentinel printed when the field is absent.
type FieldSpec struct {
	Field  Field
	Label  string
	Absent string
}

// Descriptor is the whole configuration of an agent role.
type Descriptor struct {
	Name            string
	Category        Category
	SystemPrompt    string
	Intro           string
	TranscriptLabel string
	Fields          []FieldSpec
}

// Messages builds the system + user message pair sent to the model.
func (d Descriptor) Messages(transcript string, snap Snapshot) []*schema.Message {
	return []*schema.Message{
		schema.SystemMessage(d.SystemPrompt),
		schema.UserMessage(d.Render(transcript, snap)),
	}
}

// Render produces the user message. Every field line is present even when the
// snapshot value is missing, so prompts keep a stable shape.
func (d Descriptor) Render(transcript string, snap Snapshot) string {
	var b strings.Builder
	if d.Intro != "" {
		b.WriteString(d.Intro)
		b.WriteByte('\n')
	}
	label := d.TranscriptLabel
	if label == "" {
		label = "Transcript"
	}
	b.WriteString(label)
	b.WriteString(":\n")
	b.WriteString(transcript)
	b.WriteString("\n\n")
	for i, f := range d.Fields {
		if i > 0 {
			b.WriteByte('\n')
		}
		v := strings.TrimSpace(snap.Value(f.Field))
		if v == "" {
			v = f.Absent
			if v == "" {
				v = "None"
			}
		}
		b.WriteString(f.Label)
		b.WriteString(": ")
		b.WriteString(v)
	}
	return b.String()
}

const recordsLabel = "Recent records (labs/imaging/exams)"

const scribePrompt = `You are The Scribe, a medical secretary generating concise SOAP notes.
Rules:
- Be terse and neutral; do not add diagnoses not mentioned.
- Subjective: key complaints and symptom details.
- Objective: vitals or observed facts if present, otherwise 'Not captured'.
- Assessment: list top 1-3 considerations explicitly stated or strongly implied.
- Plan: action items or follow-ups requested.
- Include allergies and current medications in a bullet if provided.
- Keep to <= 120 words.`

const housePrompt = `You are Dr. House, the skeptic diagnostician.
Tasks:
- Propose a short differential diagnosis list (max 4) ranked by likelihood.
- For each item, include a one-line rationale grounded in the transcript.
- Suggest one discriminating question or test.
- Flag red-flag symptoms explicitly.
Respond in concise bullet points.`

const guardianPrompt = `You are The Guardian, the safety officer.
Focus on:
- Allergy conflicts.
- Drug-drug interactions.
- Contraindications based on history.
- Missing safety labs or vitals.
Respond with a short list of alerts (max 3) or 'No safety concerns detected'. Keep it actionable.`

const watsonPrompt = `You are Dr. Watson, a medical researcher and librarian.
Answer specific medical questions raised in the transcript (for example "What is the dose for...").
If there is no specific question, provide relevant clinical guidelines or recent studies related to the likely diagnosis.
Be concise and cite sources if possible.`

var (
	Scribe = Descriptor{
		Name:         "Scribe",
		Category:     CategoryNote,
		SystemPrompt: scribePrompt,
		Intro:        "Create a SOAP note for this encounter.",
		Fields: []FieldSpec{
			{Field: FieldAllergies, Label: "Allergies", Absent: "Not provided"},
			{Field: FieldMedications, Label: "Medications", Absent: "Not provided"},
			{Field: FieldComplaint, Label: "Chief complaint", Absent: "Not provided"},
			{Field: FieldDocuments, Label: "Documents", Absent: "None"},
			{Field: FieldRecords, Label: recordsLabel, Absent: "None"},
		},
	}

	Diagnostician = Descriptor{
		Name:            "Dr. House",
		Category:        CategoryDiagnosis,
		SystemPrompt:    housePrompt,
		TranscriptLabel: "Transcript of consult",
		Fields: []FieldSpec{
			{Field: FieldAllergies, Label: "Known allergies", Absent: "None"},
			{Field: FieldMedications, Label: "Active medications", Absent: "None"},
			{Field: FieldRecords, Label: recordsLabel, Absent: "None"},
		},
	}

	SafetyReviewer = Descriptor{
		Name:         "Guardian",
		Category:     CategoryAlert,
		SystemPrompt: guardianPrompt,
		Fields: []FieldSpec{
			{Field: FieldAllergies, Label: "Allergies", Absent: "None"},
			{Field: FieldMedications, Label: "Medications", Absent: "None"},
			{Field: FieldHistory, Label: "History", Absent: "None"},
			{Field: FieldRecords, Label: recordsLabel, Absent: "None"},
		},
	}

	Researcher = Descriptor{
		Name:         "Dr. Watson",
		Category:     CategoryInsight,
		SystemPrompt: watsonPrompt,
		Fields: []FieldSpec{
			{Field: FieldComplaint, Label: "Chief complaint", Absent: "Not provided"},
			{Field: FieldAllergies, Label: "Allergies", Absent: "None"},
			{Field: FieldMedications, Label: "Medications", Absent: "None"},
			{Field: FieldRecords, Label: recordsLabel, Absent: "None"},
		},
	}
)

// DefaultRoster returns the agents in the order their results are reported.
func DefaultRoster() []Descriptor {
	return []Descriptor{Scribe, Diagnostician, SafetyReviewer, Researcher}
}

// ValidateRoster rejects configurations that can only be programming errors.
func ValidateRoster(roster []Descriptor) error {
	if len(roster) == 0 {
		return errors.New("agent roster is empty")
	}
	seen := make(map[string]struct{}, len(roster))
	for i, d := range roster {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return fmt.Errorf("roster entry %d has no name", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate agent %q in roster", name)
		}
		seen[name] = struct{}{}
		if !d.Category.Valid() {
			return fmt.Errorf("agent %q has unknown category %q", name, d.Category)
		}
		if strings.TrimSpace(d.SystemPrompt) == "" {
			return fmt.Errorf("agent %q has no system prompt", name)
		}
	}
	return nil
}

const cannedNote = `S: Headache for two days with nausea; reports photophobia and neck stiffness.
O: Not captured.
A: 1) Migraine without aura 2) Tension-type headache 3) Rule out meningitis given neck stiffness.
P: Check temperature and neck flexion; review analgesic use; return precautions for fever, confusion or rash.`

// CannedNote is the fixed demo note used in place of a live note agent.
func CannedNote(d Descriptor) Result {
	confidence := 1.0
	return Result{
		Agent:      d.Name,
		Category:   CategoryNote,
		Content:    cannedNote,
		Confidence: &confidence,
		Canned:     true,
	}
}
