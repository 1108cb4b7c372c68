package kyc

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valinor-ai/kycgate/internal/auth"
	"github.com/valinor-ai/kycgate/internal/platform/apperr"
	"github.com/valinor-ai/kycgate/internal/platform/validate"
)

const maxBodyBytes = 64 << 10

// Handler serves the KYC endpoints. Gates live in the service so that the
// owner checks see the path's user id.
type Handler struct {
	svc *Service
	now func() time.Time
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, now: time.Now}
}

type transitionRequest struct {
	Status          Status `json:"status" validate:"required,oneof=not_started in_progress pending_review approved rejected expired"`
	RejectionReason string `json:"rejection_reason" validate:"max=1000"`
	RiskScore       *int   `json:"risk_score"`
	Level           *Level `json:"level"`
}

type verificationRequest struct {
	Verified *bool `json:"verified" validate:"required"`
}

type riskRequest struct {
	RiskScore *int `json:"risk_score" validate:"required"`
}

type deactivationRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

// HandleGet returns a profile with its completion.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Get(r.Context(), r.PathValue("userID"), auth.GetPrincipal(r.Context()))
	if err != nil {
		apperr.Write(w, err)
		return
	}
	writeProfile(w, http.StatusOK, p)
}

// HandleUpsert writes the subscriber-editable sections.
func (h *Handler) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	var in ProfileInput
	if !decode(w, r, &in) {
		return
	}
	opts, ok := versionOptions(w, r)
	if !ok {
		return
	}
	p, err := h.svc.UpsertProfile(r.Context(), r.PathValue("userID"), in, auth.GetPrincipal(r.Context()), opts...)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	writeProfile(w, http.StatusOK, p)
}

// HandleAddDocument appends an identity document.
func (h *Handler) HandleAddDocument(w http.ResponseWriter, r *http.Request) {
	var in DocumentInput
	if !decode(w, r, &in) {
		return
	}
	opts, ok := versionOptions(w, r)
	if !ok {
		return
	}
	p, doc, err := h.svc.AddDocument(r.Context(), r.PathValue("userID"), in, auth.GetPrincipal(r.Context()), opts...)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(p.Version, 10)))
	writeJSON(w, http.StatusCreated, map[string]any{"document": doc, "profile": p})
}

// HandleVerify sets or clears a document's verification.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	docID, err := uuid.Parse(r.PathValue("docID"))
	if err != nil {
		apperr.Write(w, apperr.Validation("docID", "must be a uuid"))
		return
	}
	var req verificationRequest
	if !decode(w, r, &req) {
		return
	}
	opts, ok := versionOptions(w, r)
	if !ok {
		return
	}
	p, err := h.svc.VerifyDocument(r.Context(), r.PathValue("userID"), docID, *req.Verified, auth.GetPrincipal(r.Context()), opts...)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	writeProfile(w, http.StatusOK, p)
}

// HandleTransition moves a profile through the status machine.
func (h *Handler) HandleTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if !decode(w, r, &req) {
		return
	}
	opts, ok := versionOptions(w, r)
	if !ok {
		return
	}
	p, err := h.svc.Transition(r.Context(), r.PathValue("userID"), req.Status, TransitionOptions{
		RejectionReason: req.RejectionReason,
		RiskScore:       req.RiskScore,
		Level:           req.Level,
	}, auth.GetPrincipal(r.Context()), opts...)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	writeProfile(w, http.StatusOK, p)
}

// HandleSetRisk updates the risk score.
func (h *Handler) HandleSetRisk(w http.ResponseWriter, r *http.Request) {
	var req riskRequest
	if !decode(w, r, &req) {
		return
	}
	opts, ok := versionOptions(w, r)
	if !ok {
		return
	}
	p, err := h.svc.SetRiskScore(r.Context(), r.PathValue("userID"), *req.RiskScore, auth.GetPrincipal(r.Context()), opts...)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	writeProfile(w, http.StatusOK, p)
}

// HandleDeactivate soft-deletes a profile.
func (h *Handler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	var req deactivationRequest
	if !decode(w, r, &req) {
		return
	}
	opts, ok := versionOptions(w, r)
	if !ok {
		return
	}
	p, err := h.svc.Deactivate(r.Context(), r.PathValue("userID"), req.Reason, auth.GetPrincipal(r.Context()), opts...)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	writeProfile(w, http.StatusOK, p)
}

// HandleExpire expires approvals past their validity window.
// POST /api/v1/kyc/expirations
func (h *Handler) HandleExpire(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.ExpireDue(r.Context(), auth.GetPrincipal(r.Context()), h.now())
	if err != nil {
		apperr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		apperr.Write(w, apperr.Wrap(apperr.CodeValidation, err, "invalid request body"))
		return false
	}
	if err := validate.Struct(dst); err != nil {
		apperr.Write(w, err)
		return false
	}
	return true
}

func versionOptions(w http.ResponseWriter, r *http.Request) ([]MutationOption, bool) {
	raw := strings.Trim(strings.TrimSpace(r.Header.Get("If-Match")), `"`)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		apperr.Write(w, apperr.Validation("If-Match", "must be a profile version"))
		return nil, false
	}
	return []MutationOption{IfVersion(v)}, true
}

func writeProfile(w http.ResponseWriter, status int, p Profile) {
	w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(p.Version, 10)))
	writeJSON(w, status, p)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
