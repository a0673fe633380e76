package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/vnmchuo/usage-tracker/internal/auth"
	"github.com/vnmchuo/usage-tracker/internal/billing"
	"github.com/vnmchuo/usage-tracker/internal/org"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

type UsageRecorder interface {
	Record(ctx context.Context, credential string, ev *billing.UsageEvent) (*billing.UsageRecord, error)
}

type CostReporter interface {
	UserCosts(ctx context.Context, credential string, q billing.CostQuery) (*billing.UserCostSummary, error)
	OrganizationCosts(ctx context.Context, credential string, q billing.CostQuery) (*billing.OrganizationCostSummary, error)
}

type OrganizationManager interface {
	Register(ctx context.Context, req org.RegisterRequest) (*org.Registration, error)
	Delete(ctx context.Context, organizationID, authToken string) (*org.Deletion, error)
}

type Handler struct {
	recorder UsageRecorder
	costs    CostReporter
	orgs     OrganizationManager
	logger   *zap.Logger
}

func NewHandler(recorder UsageRecorder, costs CostReporter, orgs OrganizationManager, logger *zap.Logger) *Handler {
	return &Handler{
		recorder: recorder,
		costs:    costs,
		orgs:     orgs,
		logger:   logger,
	}
}

// HandleTrackUsage records one usage event for the bearer's organization.
func (h *Handler) HandleTrackUsage(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	var ev billing.UsageEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON in request body"})
		return
	}

	rec, err := h.recorder.Record(r.Context(), auth.GetCredential(r.Context()), &ev)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":         "Usage data recorded successfully",
		"organization_id": rec.OrganizationID,
		"user_id":         rec.UserID,
		"record_id":       rec.RecordID,
		"total_cost":      rec.TotalCost.InexactFloat64(),
		"timestamp":       billing.FormatTimestamp(rec.Timestamp),
	})
}

// HandleUserCosts reports one user's spend over a date range.
func (h *Handler) HandleUserCosts(w http.ResponseWriter, r *http.Request) {
	q, ok := costQuery(w, r)
	if !ok {
		return
	}

	summary, err := h.costs.UserCosts(r.Context(), auth.GetCredential(r.Context()), q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"organization_id":  summary.OrganizationID,
		"user_id":          summary.UserID,
		"start_date":       billing.FormatISO(summary.Start),
		"end_date":         billing.FormatISO(summary.End),
		"total_cost":       summary.TotalCost.InexactFloat64(),
		"usage_count":      summary.UsageCount,
		"time_period_days": summary.TimePeriodDays,
	})
}

// HandleOrgCosts reports an organization's spend broken down by user.
func (h *Handler) HandleOrgCosts(w http.ResponseWriter, r *http.Request) {
	q, ok := costQuery(w, r)
	if !ok {
		return
	}

	summary, err := h.costs.OrganizationCosts(r.Context(), auth.GetCredential(r.Context()), q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	users := make([]map[string]interface{}, 0, len(summary.UserCosts))
	for _, uc := range summary.UserCosts {
		users = append(users, map[string]interface{}{
			"user_id":     uc.UserID,
			"total_cost":  uc.TotalCost.InexactFloat64(),
			"usage_count": uc.UsageCount,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"organization_id":         summary.OrganizationID,
		"start_date":              billing.FormatISO(summary.Start),
		"end_date":                billing.FormatISO(summary.End),
		"total_organization_cost": summary.TotalCost.InexactFloat64(),
		"total_users":             summary.TotalUsers,
		"usage_count":             summary.UsageCount,
		"time_period_days":        summary.TimePeriodDays,
		"user_costs":              users,
	})
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	var req org.RegisterRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON in request body"})
		return
	}

	reg, err := h.orgs.Register(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message":           "Organization registered successfully",
		"organization_id":   reg.OrganizationID,
		"auth_token":        reg.AuthToken,
		"organization_name": reg.Name,
	})
}

type deleteRequest struct {
	OrganizationID string `json:"organization_id"`
	AuthToken      string `json:"auth_token"`
}

// HandleDeleteOrganization removes an organization and its usage data. The
// organization's own token must be supplied in the body.
func (h *Handler) HandleDeleteOrganization(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	var req deleteRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON in request body"})
		return
	}

	del, err := h.orgs.Delete(r.Context(), req.OrganizationID, req.AuthToken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":         "Organization and associated data deleted successfully",
		"organization_id": del.OrganizationID,
		"purged_records":  del.PurgedRecords,
	})
}

// readBody returns the request body, answering 400 itself when it is
// missing or too large.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Body == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing request body"})
		return nil, false
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Request body too large"})
			return nil, false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return nil, false
	}
	if len(body) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing request body"})
		return nil, false
	}
	return body, true
}

func costQuery(w http.ResponseWriter, r *http.Request) (billing.CostQuery, bool) {
	values := r.URL.Query()
	if len(values) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing query parameters"})
		return billing.CostQuery{}, false
	}
	return billing.CostQuery{
		OrganizationID: values.Get("organization_id"),
		UserID:         values.Get("user_id"),
		StartDate:      values.Get("start_date"),
		EndDate:        values.Get("end_date"),
	}, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
