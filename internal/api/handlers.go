package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/shineum/mailrelay/internal/email"
	"github.com/shineum/mailrelay/internal/mailer"
)

const maxBodySize = 10 << 20

// transparentGIF is a 1x1 transparent GIF.
var transparentGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00,
	0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

// BulkRequest is the body of POST /api/email/bulk.
type BulkRequest struct {
	Recipients   []string       `json:"recipients" validate:"required,min=1,dive,required"`
	TemplateID   string         `json:"templateId" validate:"required"`
	TemplateData map[string]any `json:"templateData,omitempty"`
}

// ScheduleRequest is the body of POST /api/email/schedule.
type ScheduleRequest struct {
	Message *email.Message `json:"message" validate:"required"`
	SendAt  time.Time      `json:"sendAt" validate:"required"`
}

// ScheduleResponse is returned by POST /api/email/schedule.
type ScheduleResponse struct {
	ID     string    `json:"id"`
	SendAt time.Time `json:"sendAt"`
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Send handles POST /api/email/send. Delivery failures are reported in the
// result with 202; only invalid input gets 400.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	var msg email.Message
	if !h.decode(w, r, &msg) {
		return
	}

	res, err := h.mailer.Send(r.Context(), &msg)
	if err != nil {
		h.respondMailerError(w, err)
		return
	}
	h.respondJSON(w, http.StatusAccepted, res)
}

// SendBulk handles POST /api/email/bulk.
func (h *Handler) SendBulk(w http.ResponseWriter, r *http.Request) {
	var req BulkRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.respondValidationError(w, err)
		return
	}

	results := h.mailer.SendBulk(r.Context(), req.Recipients, req.TemplateID, req.TemplateData)
	h.respondJSON(w, http.StatusOK, results)
}

// Schedule handles POST /api/email/schedule.
func (h *Handler) Schedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.respondValidationError(w, err)
		return
	}

	id, err := h.mailer.ScheduleEmail(r.Context(), req.Message, req.SendAt)
	if err != nil {
		h.respondMailerError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, ScheduleResponse{ID: id, SendAt: req.SendAt.UTC()})
}

// CancelSchedule handles DELETE /api/email/schedule/{id}.
func (h *Handler) CancelSchedule(w http.ResponseWriter, r *http.Request) {
	cancelled, err := h.mailer.CancelScheduled(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

// Status handles GET /api/email/status/{messageId}.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	rec, err := h.mailer.GetEmailStatus(r.Context(), chi.URLParam(r, "messageId"))
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rec == nil {
		h.respondError(w, http.StatusNotFound, "email not found")
		return
	}
	h.respondJSON(w, http.StatusOK, rec)
}

// TrackOpen handles GET /api/email/track/open/{trackingId}.
func (h *Handler) TrackOpen(w http.ResponseWriter, r *http.Request) {
	h.metrics.RecordOpen()
	h.logger.InfoContext(r.Context(), "email.opened",
		"event", "email.opened",
		"tracking_id", chi.URLParam(r, "trackingId"),
		"user_agent", r.UserAgent(),
	)

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(transparentGIF)
}

// ListTemplates handles GET /api/email/templates.
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	ids := []string{}
	if h.templates != nil {
		ids = h.templates.IDs()
	}
	h.respondJSON(w, http.StatusOK, map[string][]string{"templates": ids})
}

// Unsubscribe handles GET /unsubscribe?token=.
func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	address, listID, err := mailer.ParseUnsubscribeToken(r.URL.Query().Get("token"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.InfoContext(r.Context(), "email.unsubscribed",
		"event", "email.unsubscribed",
		"to", address,
		"list_id", listID,
	)
	h.respondJSON(w, http.StatusOK, map[string]string{"email": address, "listId": listID})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// respondJSON writes a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			h.logger.Debug("failed to encode response", "error", err)
		}
	}
}

func (h *Handler) respondError(w http.ResponseWriter, code int, message string) {
	h.respondJSON(w, code, ErrorResponse{Error: message})
}

func (h *Handler) respondMailerError(w http.ResponseWriter, err error) {
	var verr *email.ValidationError
	switch {
	case errors.As(err, &verr):
		h.respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation failed", Details: verr.Fields})
	case errors.Is(err, email.ErrInvalidMessage), errors.Is(err, mailer.ErrScheduleInPast):
		h.respondError(w, http.StatusBadRequest, err.Error())
	default:
		h.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// respondValidationError writes a JSON validation error response.
func (h *Handler) respondValidationError(w http.ResponseWriter, err error) {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		details := make(map[string]string, len(validationErrs))
		for _, e := range validationErrs {
			details[e.Field()] = "failed " + e.Tag() + " validation"
		}
		h.respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation failed", Details: details})
		return
	}
	h.respondError(w, http.StatusBadRequest, "invalid input")
}
