package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"pocket-council/internal/consultation"
)

// ErrDeliveryDisabled is returned when no doctor chat is configured.
var ErrDeliveryDisabled = errors.New("report delivery is not configured")

// Sender delivers a rendered document to a chat.
type Sender interface {
	SendDocument(ctx context.Context, chatID int64, data []byte, fileName, caption string) error
}

// Source is the part of the consultation service reports need.
type Source interface {
	BuildReport(ctx context.Context, id uuid.UUID) (*consultation.Report, error)
}

type Service struct {
	source       Source
	renderer     *Renderer
	sender       Sender
	doctorChatID int64
	logger       *slog.Logger
}

// NewService wires report rendering. A nil sender or zero chat id disables
// delivery but keeps downloads working.
func NewService(source Source, renderer *Renderer, sender Sender, doctorChatID int64, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		source:       source,
		renderer:     renderer,
		sender:       sender,
		doctorChatID: doctorChatID,
		logger:       logger,
	}
}

func (s *Service) Render(ctx context.Context, id uuid.UUID) ([]byte, string, error) {
	rep, err := s.source.BuildReport(ctx, id)
	if err != nil {
		return nil, "", err
	}
	data, err := s.renderer.PDF(rep)
	if err != nil {
		return nil, "", err
	}
	return data, fileName(id), nil
}

// SendDoctorReport renders the report and sends it to the doctor's chat.
func (s *Service) SendDoctorReport(ctx context.Context, id uuid.UUID) error {
	if s.sender == nil || s.doctorChatID == 0 {
		return ErrDeliveryDisabled
	}
	rep, err := s.source.BuildReport(ctx, id)
	if err != nil {
		return err
	}
	data, err := s.renderer.PDF(rep)
	if err != nil {
		return err
	}
	caption := "Consultation report"
	if rep.Patient != nil {
		caption += ": " + rep.Patient.FullName
	}
	if err := s.sender.SendDocument(ctx, s.doctorChatID, data, fileName(id), caption); err != nil {
		return fmt.Errorf("send report: %w", err)
	}
	s.logger.Info("report delivered", "consultation_id", id, "chat_id", s.doctorChatID, "bytes", len(data))
	return nil
}

func fileName(id uuid.UUID) string {
	return fmt.Sprintf("report_%s.pdf", id)
}

type Handler struct {
	svc    *Service
	logger *slog.Logger
}

func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Route("/reports/consultations/{consultationID}", func(r chi.Router) {
		r.Get("/", h.Download)
		r.Post("/send", h.Send)
	})
}

func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "consultationID"))
	if err != nil {
		http.Error(w, "Invalid consultationID", http.StatusBadRequest)
		return
	}
	data, name, err := h.svc.Render(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "consultationID"))
	if err != nil {
		http.Error(w, "Invalid consultationID", http.StatusBadRequest)
		return
	}
	if err := h.svc.SendDoctorReport(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "sent"})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, consultation.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrDeliveryDisabled), errors.Is(err, ErrFontUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("report request failed", "path", r.URL.Path, "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"detail": err.Error()})
}
