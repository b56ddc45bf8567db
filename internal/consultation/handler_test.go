package consultation

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pocket-council/internal/agent"
)

func newTestServer(t *testing.T, orch Orchestrator, stt STTClient) *httptest.Server {
	t.Helper()
	svc, _ := newTestService(t, orch, stt)
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		RegisterRoutes(r, NewHandler(svc, nil))
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHandler_ConsultationFlow(t *testing.T) {
	orch := &fakeOrchestrator{results: []agent.Result{
		{Agent: "Scribe", Category: agent.CategoryNote, Content: "S: cough"},
	}}
	srv := newTestServer(t, orch, nil)

	resp := postJSON(t, srv.URL+"/api/consultations", map[string]any{
		"patient":              map[string]any{"full_name": "Jane Doe", "allergies": "latex"},
		"presenting_complaint": "cough",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	c := decode[Consultation](t, resp)

	resp = postJSON(t, srv.URL+"/api/consultations/"+c.ID.String()+"/transcript", TranscriptInput{Speaker: "Patient", Text: "Dry cough for a week."})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	bundle := decode[InsightBundle](t, resp)
	assert.Equal(t, "S: cough", bundle.Summary)
	require.Len(t, bundle.Outputs, 1)

	got, err := http.Get(srv.URL + "/api/consultations/" + c.ID.String() + "/insights")
	require.NoError(t, err)
	defer got.Body.Close()
	insights := decode[[]AgentOutput](t, got)
	assert.Len(t, insights, 1)

	resp = postJSON(t, srv.URL+"/api/consultations/"+c.ID.String()+"/close", CloseConsultationRequest{Summary: "Post-viral cough."})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	closed := decode[Consultation](t, resp)
	assert.Equal(t, StatusClosed, closed.Status)

	resp = postJSON(t, srv.URL+"/api/consultations/"+c.ID.String()+"/transcript", TranscriptInput{Text: "late"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_Errors(t *testing.T) {
	srv := newTestServer(t, &fakeOrchestrator{}, nil)

	resp, err := http.Get(srv.URL + "/api/consultations/not-a-uuid")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/consultations/" + uuid.NewString())
	require.NoError(t, err)
	body := decode[map[string]string](t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body["detail"], "not found")

	resp = postJSON(t, srv.URL+"/api/patients", map[string]any{"full_name": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/consultations", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_ListsAreNeverNull(t *testing.T) {
	srv := newTestServer(t, &fakeOrchestrator{}, nil)

	resp, err := http.Get(srv.URL + "/api/patients")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "[]\n", readAll(t, resp))
}

func TestHandler_RecordsAndDocuments(t *testing.T) {
	srv := newTestServer(t, &fakeOrchestrator{}, nil)

	resp := postJSON(t, srv.URL+"/api/patients", PatientInput{FullName: "John Roe"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	p := decode[Patient](t, resp)
	base := srv.URL + "/api/records/patients/" + p.ID.String()

	resp = postJSON(t, base, RecordInput{RecordType: "lab_panel", Title: "BMP", Data: map[string]any{"na": 139}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	list, err := http.Get(base)
	require.NoError(t, err)
	defer list.Body.Close()
	records := decode[[]MedicalRecord](t, list)
	require.Len(t, records, 1)
	assert.Equal(t, "BMP", records[0].Title)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("kind", "referral"))
	fw, err := mw.CreateFormFile("file", "letter.pdf")
	require.NoError(t, err)
	fw.Write([]byte("%PDF-1.4"))
	require.NoError(t, mw.Close())

	up, err := http.Post(srv.URL+"/api/documents/patients/"+p.ID.String(), mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer up.Body.Close()
	require.Equal(t, http.StatusCreated, up.StatusCode)
	doc := decode[map[string]any](t, up)
	assert.Equal(t, "letter.pdf", doc["filename"])
	assert.Equal(t, "referral", doc["kind"])
	assert.NotContains(t, doc, "file_path")
}

func TestHandler_AudioSilence(t *testing.T) {
	srv := newTestServer(t, &fakeOrchestrator{}, fakeSTT{text: ""})

	resp := postJSON(t, srv.URL+"/api/consultations", ConsultationInput{})
	c := decode[Consultation](t, resp)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "chunk.webm")
	require.NoError(t, err)
	fw.Write([]byte{0x1a, 0x45})
	require.NoError(t, mw.Close())

	audio, err := http.Post(srv.URL+"/api/consultations/"+c.ID.String()+"/audio", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer audio.Body.Close()
	require.Equal(t, http.StatusOK, audio.StatusCode)
	bundle := decode[InsightBundle](t, audio)
	assert.Empty(t, bundle.Outputs)
}

func TestHandler_Stream(t *testing.T) {
	orch := &fakeOrchestrator{results: []agent.Result{
		{Agent: "Guardian", Category: agent.CategoryAlert, Content: "No safety concerns detected"},
	}}
	srv := newTestServer(t, orch, fakeSTT{text: ""})

	resp := postJSON(t, srv.URL+"/api/consultations", ConsultationInput{PresentingComplaint: "rash"})
	c := decode[Consultation](t, resp)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/consultations/" + c.ID.String()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	require.NoError(t, conn.WriteJSON(TranscriptInput{Speaker: "Patient", Text: "Itchy rash since Monday."}))
	var ev StreamEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "insight", ev.Type)
	assert.Equal(t, "Itchy rash since Monday.", ev.Transcript)
	require.Len(t, ev.Outputs, 1)
	assert.Equal(t, "Guardian", ev.Outputs[0].Agent)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x00}))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "ack", ev.Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	ev = StreamEvent{}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "error", ev.Type)
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}
