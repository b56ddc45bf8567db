package report

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/signintech/gopdf"

	"pocket-council/internal/consultation"
)

// ErrFontUnavailable means no usable TTF font was found.
var ErrFontUnavailable = errors.New("no TTF font available for PDF rendering")

// DefaultFontPaths are the usual DejaVu locations on Debian and Alpine images.
var DefaultFontPaths = []string{
	"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
}

const (
	fontFamily = "body"
	textWidth  = 500.0
	pageBottom = 780.0
	leftMargin = 40.0
)

type Renderer struct {
	fontPaths []string
}

// NewRenderer tries fontPath first, then DefaultFontPaths.
func NewRenderer(fontPath string) *Renderer {
	paths := DefaultFontPaths
	if fontPath != "" {
		paths = append([]string{fontPath}, DefaultFontPaths...)
	}
	return &Renderer{fontPaths: paths}
}

// PDF renders the consultation report as an A4 document.
func (r *Renderer) PDF(rep *consultation.Report) ([]byte, error) {
	pdf := &gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.SetLeftMargin(leftMargin)
	pdf.SetTopMargin(leftMargin)
	pdf.AddPage()

	var fontErr error
	loaded := false
	for _, path := range r.fontPaths {
		if fontErr = pdf.AddTTFFont(fontFamily, path); fontErr == nil {
			loaded = true
			break
		}
	}
	if !loaded {
		return nil, fmt.Errorf("%w: %v", ErrFontUnavailable, fontErr)
	}

	w := &writer{pdf: pdf}
	w.line(20, "Consultation report")
	w.line(11, "Generated: "+rep.GeneratedAt.Format("2006-01-02 15:04 MST"))
	w.line(11, "Consultation: "+rep.Consultation.ID.String())
	w.line(11, "Status: "+string(rep.Consultation.Status))
	if rep.Consultation.ClosedAt != nil {
		w.line(11, "Closed: "+rep.Consultation.ClosedAt.Format(time.RFC3339))
	}
	w.gap(10)

	if p := rep.Patient; p != nil {
		w.line(14, "Patient")
		w.line(11, "Name: "+p.FullName)
		if p.DateOfBirth != nil {
			w.line(11, "Date of birth: "+p.DateOfBirth.Format(time.DateOnly))
		}
		w.paragraph(11, "Allergies: "+orNone(p.Allergies))
		w.paragraph(11, "History: "+orNone(p.History))
		if len(rep.Medications) > 0 {
			meds := make([]string, 0, len(rep.Medications))
			for _, m := range rep.Medications {
				if m.Dosage != "" {
					meds = append(meds, fmt.Sprintf("%s (%s)", m.Name, m.Dosage))
				} else {
					meds = append(meds, m.Name)
				}
			}
			w.paragraph(11, "Medications: "+strings.Join(meds, ", "))
		}
		w.gap(10)
	}

	w.line(14, "Summary")
	w.paragraph(11, orNone(rep.Consultation.Summary))
	w.gap(10)

	if len(rep.Outputs) > 0 {
		w.line(14, "Council findings")
		for _, o := range rep.Outputs {
			label := fmt.Sprintf("%s [%s]", o.Agent, o.Category)
			if o.Fallback {
				label += " (offline)"
			}
			w.line(12, label)
			w.paragraph(10, o.Content)
			w.gap(6)
		}
		w.gap(4)
	}

	w.line(14, "Transcript")
	w.paragraph(10, rep.Transcript)

	if w.err != nil {
		return nil, fmt.Errorf("render pdf: %w", w.err)
	}
	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// writer keeps the first error so layout code reads top to bottom.
type writer struct {
	pdf *gopdf.GoPdf
	err error
}

func (w *writer) setFont(size float64) bool {
	if w.err != nil {
		return false
	}
	w.err = w.pdf.SetFont(fontFamily, "", size)
	return w.err == nil
}

func (w *writer) cell(size float64, text string) {
	if w.pdf.GetY()+size > pageBottom {
		w.pdf.AddPage()
	}
	if w.err = w.pdf.Cell(nil, text); w.err != nil {
		return
	}
	w.pdf.Br(size + 4)
}

func (w *writer) line(size float64, text string) {
	if w.setFont(size) {
		w.cell(size, text)
	}
}

func (w *writer) paragraph(size float64, text string) {
	if !w.setFont(size) {
		return
	}
	for _, raw := range strings.Split(text, "\n") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		lines, err := w.pdf.SplitText(raw, textWidth)
		if err != nil {
			w.err = err
			return
		}
		for _, l := range lines {
			if w.err != nil {
				return
			}
			w.cell(size, l)
		}
	}
}

func (w *writer) gap(h float64) {
	if w.err == nil {
		w.pdf.Br(h)
	}
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "None recorded"
	}
	return s
}
