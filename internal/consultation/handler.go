package consultation

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"pocket-council/internal/platform/logger"
	"pocket-council/internal/platform/metrics"
)

const maxUploadSize = 10 << 20

type Handler struct {
	svc    Service
	logger *slog.Logger
}

func NewHandler(svc Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Route("/patients", func(r chi.Router) {
		r.Post("/", h.CreatePatient)
		r.Get("/", h.ListPatients)
	})
	r.Route("/consultations", func(r chi.Router) {
		r.Post("/", h.CreateConsultation)
		r.Route("/{consultationID}", func(r chi.Router) {
			r.Get("/", h.GetConsultation)
			r.Post("/transcript", h.AddTranscript)
			r.Post("/audio", h.AddAudio)
			r.Get("/insights", h.ListInsights)
			r.Post("/close", h.CloseConsultation)
		})
	})
	r.Route("/records/patients/{patientID}", func(r chi.Router) {
		r.Post("/", h.CreateRecord)
		r.Get("/", h.ListRecords)
	})
	r.Route("/documents/patients/{patientID}", func(r chi.Router) {
		r.Post("/", h.UploadDocument)
		r.Get("/", h.ListDocuments)
	})
	r.Get("/ws/consultations/{consultationID}", h.Stream)
}

type CloseConsultationRequest struct {
	Summary string `json:"summary"`
}

func (h *Handler) CreatePatient(w http.ResponseWriter, r *http.Request) {
	var req PatientInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	p, err := h.svc.CreatePatient(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) ListPatients(w http.ResponseWriter, r *http.Request) {
	patients, err := h.svc.ListPatients(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(patients))
}

func (h *Handler) CreateConsultation(w http.ResponseWriter, r *http.Request) {
	var req ConsultationInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	c, err := h.svc.CreateConsultation(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) GetConsultation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "consultationID")
	if !ok {
		return
	}
	c, err := h.svc.GetConsultation(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) AddTranscript(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "consultationID")
	if !ok {
		return
	}
	var req TranscriptInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	bundle, err := h.svc.AppendTranscript(r.Context(), id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	metrics.TranscriptChunks.WithLabelValues("text").Inc()
	writeJSON(w, http.StatusOK, bundle)
}

func (h *Handler) AddAudio(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "consultationID")
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		http.Error(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error retrieving audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, file); err != nil {
		http.Error(w, "Failed to read audio file", http.StatusInternalServerError)
		return
	}

	bundle, err := h.svc.ProcessAudio(r.Context(), id, buf.Bytes(), header.Filename)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if bundle == nil {
		// silence
		writeJSON(w, http.StatusOK, InsightBundle{ConsultationID: id, Outputs: []AgentOutput{}})
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

func (h *Handler) ListInsights(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "consultationID")
	if !ok {
		return
	}
	outputs, err := h.svc.ListInsights(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(outputs))
}

func (h *Handler) CloseConsultation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "consultationID")
	if !ok {
		return
	}
	var req CloseConsultationRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
	}
	if req.Summary == "" {
		req.Summary = r.URL.Query().Get("summary")
	}
	c, err := h.svc.CloseConsultation(r.Context(), id, req.Summary)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	pid, ok := pathID(w, r, "patientID")
	if !ok {
		return
	}
	var req RecordInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	rec, err := h.svc.AddRecord(r.Context(), pid, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	pid, ok := pathID(w, r, "patientID")
	if !ok {
		return
	}
	records, err := h.svc.ListRecords(r.Context(), pid)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(records))
}

func (h *Handler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	pid, ok := pathID(w, r, "patientID")
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		http.Error(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error retrieving file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	doc, err := h.svc.AddDocument(r.Context(), pid, DocumentInput{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Kind:        r.FormValue("kind"),
		Body:        file,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	pid, ok := pathID(w, r, "patientID")
	if !ok {
		return
	}
	docs, err := h.svc.ListDocuments(r.Context(), pid)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(docs))
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		http.Error(w, "Invalid "+param, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.FromContext(r.Context(), h.logger).Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"detail": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrClosed), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
