package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/velomotors/be-capital-ledger/internal/apperrors"
	"github.com/velomotors/be-capital-ledger/internal/logger"
	"github.com/velomotors/be-capital-ledger/internal/repository"
	"github.com/velomotors/be-capital-ledger/internal/service"
)

// HTTPHandler handles HTTP requests for the capital ledger.
type HTTPHandler struct {
	admins      *service.AdminService
	groups      *service.GroupService
	investors   *service.InvestorService
	commitments *service.CommitmentService
	approvals   *service.ApprovalService
	ledger      *service.LedgerService
	settlements *service.SettlementService
	audit       *service.AuditService
	log         *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(
	admins *service.AdminService,
	groups *service.GroupService,
	investors *service.InvestorService,
	commitments *service.CommitmentService,
	approvals *service.ApprovalService,
	ledger *service.LedgerService,
	settlements *service.SettlementService,
	audit *service.AuditService,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		admins:      admins,
		groups:      groups,
		investors:   investors,
		commitments: commitments,
		approvals:   approvals,
		ledger:      ledger,
		settlements: settlements,
		audit:       audit,
		log:         log,
	}
}

// ── admins ────────────────────────────────────────────────────────────────────

// CreateAdmin handles create admin HTTP requests.
func (h *HTTPHandler) CreateAdmin(w http.ResponseWriter, r *http.Request) {
	var req service.CreateAdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.New(apperrors.ErrCodeValidation, "invalid request body"))
		return
	}

	admin, err := h.admins.Create(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, admin)
}

// ListAdmins handles list admins HTTP requests.
func (h *HTTPHandler) ListAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := h.admins.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"admins": admins})
}

// ── approval groups ───────────────────────────────────────────────────────────

// GetGroups handles get approval groups HTTP requests.
func (h *HTTPHandler) GetGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.groups.GetGroups(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

// SetGroups handles replace approval groups HTTP requests.
func (h *HTTPHandler) SetGroups(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Groups []service.GroupInput `json:"groups"`
		Actor  service.Actor        `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.New(apperrors.ErrCodeValidation, "invalid request body"))
		return
	}
	if len(req.Groups) != 2 {
		h.writeError(w, apperrors.New(apperrors.ErrCodeValidation, "exactly 2 groups are required"))
		return
	}

	groups, err := h.groups.SetGroups(r.Context(), [2]service.GroupInput{req.Groups[0], req.Groups[1]}, req.Actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

// ── investors ─────────────────────────────────────────────────────────────────

// CreateInvestor handles create investor HTTP requests.
func (h *HTTPHandler) CreateInvestor(w http.ResponseWriter, r *http.Request) {
	var req service.CreateInvestorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.New(apperrors.ErrCodeValidation, "invalid request body"))
		return
	}

	investor, err := h.investors.Create(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, investor)
}

// GetInvestor handles get investor HTTP requests.
func (h *HTTPHandler) GetInvestor(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, apperrors.InvalidInput("id", "investor id is required"))
		return
	}

	investor, err := h.investors.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, investor)
}

// ListInvestors handles list investors HTTP requests.
func (h *HTTPHandler) ListInvestors(w http.ResponseWriter, r *http.Request) {
	var status *string
	if s := r.URL.Query().Get("status"); s != "" {
		status = &s
	}

	investors, err := h.investors.List(r.Context(), status)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"investors": investors})
}

// UpdateCreditLimit handles credit limit update HTTP requests.
func (h *HTTPHandler) UpdateCreditLimit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID          string        `json:"id"`
		CreditLimit int64         `json:"credit_limit"`
		Actor       service.Actor `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.New(apperrors.ErrCodeValidation, "invalid request body"))
		return
	}

	investor, err := h.investors.UpdateCreditLimit(r.Context(), req.ID, req.CreditLimit, req.Actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, investor)
}

// RemainingCredit handles remaining credit HTTP requests.
func (h *HTTPHandler) RemainingCredit(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, apperrors.InvalidInput("id", "investor id is required"))
		return
	}

	investor, remaining, err := h.ledger.RemainingCredit(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"investor_id":      investor.ID,
		"investor_no":      investor.InvestorNo,
		"credit_limit":     investor.CreditLimit,
		"utilized_amount":  investor.UtilizedAmount,
		"remaining_credit": remaining,
	})
}

// DeleteInvestor handles delete investor HTTP requests.
func (h *HTTPHandler) DeleteInvestor(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, apperrors.InvalidInput("id", "investor id is required"))
		return
	}

	actor := actorFromQuery(r)
	if err := h.investors.Delete(r.Context(), id, actor); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── commitments ───────────────────────────────────────────────────────────────

// CreateCommitment handles create commitment HTTP requests.
func (h *HTTPHandler) CreateCommitment(w http.ResponseWriter, r *http.Request) {
	var req service.CreateCommitmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.New(apperrors.ErrCodeValidation, "invalid request body"))
		return
	}

	commitment, err := h.commitments.Create(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, commitment)
}

// GetCommitment handles get commitment HTTP requests.
func (h *HTTPHandler) GetCommitment(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, apperrors.InvalidInput("id", "commitment id is required"))
		return
	}

	commitment, err := h.commitments.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, commitment)
}

// ListCommitments handles list commitments HTTP requests.
func (h *HTTPHandler) ListCommitments(w http.ResponseWriter, r *http.Request) {
	var kind, status *string
	if k := r.URL.Query().Get("kind"); k != "" {
		kind = &k
	}
	if s := r.URL.Query().Get("status"); s != "" {
		status = &s
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 50
	}

	commitments, total, err := h.commitments.List(r.Context(), kind, status, page, pageSize)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"commitments": commitments,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
	})
}

// SubmitCommitment handles submit for approval HTTP requests.
func (h *HTTPHandler) SubmitCommitment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID    string        `json:"id"`
		Actor service.Actor `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.New(apperrors.ErrCodeValidation, "invalid request body"))
		return
	}

	if err := h.approvals.Submit(r.Context(), req.ID, req.Actor); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": repository.ApprovalPending})
}

// ApproveCommitment handles approval submission HTTP requests.
func (h *HTTPHandler) ApproveCommitment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID      string  `json:"id"`
		AdminID string  `json:"admin_id"`
		Comment *string `json:"comment,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.New(apperrors.ErrCodeValidation, "invalid request body"))
		return
	}
	if req.ID == "" || req.AdminID == "" {
		h.writeError(w, apperrors.New(apperrors.ErrCodeValidation, "commitment id and admin id are required"))
		return
	}

	result, err := h.approvals.SubmitApproval(r.Context(), req.ID, req.AdminID, req.Comment)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// RecordAllocation handles allocation recording HTTP requests.
func (h *HTTPHandler) RecordAllocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID          string                    `json:"id"`
		Allocations []service.AllocationInput `json:"allocations"`
		Actor       service.Actor             `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.New(apperrors.ErrCodeValidation, "invalid request body"))
		return
	}

	allocations, err := h.ledger.RecordAllocation(r.Context(), req.ID, req.Allocations, req.Actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"allocations": allocations})
}

// ReserveCommitmentFunds handles reserve-all-allocations HTTP requests.
func (h *HTTPHandler) ReserveCommitmentFunds(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID    string        `json:"id"`
		Actor service.Actor `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.New(apperrors.ErrCodeValidation, "invalid request body"))
		return
	}

	allocations, err := h.ledger.ReserveAllocations(r.Context(), req.ID, req.Actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"allocations": allocations})
}

// ── ledger ────────────────────────────────────────────────────────────────────

// Reserve handles single-investor reserve HTTP requests.
func (h *HTTPHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InvestorID string        `json:"investor_id"`
		Amount     int64         `json:"amount"`
		Actor      service.Actor `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.New(apperrors.ErrCodeValidation, "invalid request body"))
		return
	}

	investor, err := h.ledger.Reserve(r.Context(), req.InvestorID, req.Amount, req.Actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, investor)
}

// Release handles single-investor release HTTP requests.
func (h *HTTPHandler) Release(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InvestorID string        `json:"investor_id"`
		Amount     int64         `json:"amount"`
		Actor      service.Actor `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.New(apperrors.ErrCodeValidation, "invalid request body"))
		return
	}

	investor, err := h.ledger.Release(r.Context(), req.InvestorID, req.Amount, req.Actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, investor)
}

// ── settlements ───────────────────────────────────────────────────────────────

// Settle handles settlement HTTP requests.
func (h *HTTPHandler) Settle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CommitmentID     string        `json:"commitment_id"`
		SaleCommitmentID string        `json:"sale_commitment_id"`
		SellingPrice     int64         `json:"selling_price"`
		Actor            service.Actor `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.New(apperrors.ErrCodeValidation, "invalid request body"))
		return
	}

	settlement, err := h.settlements.Settle(r.Context(), req.CommitmentID, req.SaleCommitmentID, req.SellingPrice, req.Actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, settlement)
}

// GetSettlement handles get settlement HTTP requests. Accepts either a
// settlement id or a commitment id.
func (h *HTTPHandler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("id"); id != "" {
		settlement, err := h.settlements.Get(r.Context(), id)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, settlement)
		return
	}
	if commitmentID := r.URL.Query().Get("commitment_id"); commitmentID != "" {
		settlement, err := h.settlements.GetByCommitment(r.Context(), commitmentID)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, settlement)
		return
	}
	h.writeError(w, apperrors.New(apperrors.ErrCodeValidation, "settlement id or commitment id is required"))
}

// ── audit ─────────────────────────────────────────────────────────────────────

// ListAudit handles audit trail HTTP requests.
func (h *HTTPHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	filter := repository.AuditFilter{}
	if c := r.URL.Query().Get("category"); c != "" {
		filter.Category = &c
	}
	if s := r.URL.Query().Get("severity"); s != "" {
		filter.Severity = &s
	}
	if t := r.URL.Query().Get("target"); t != "" {
		filter.TargetEntity = &t
	}
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		filter.Limit = l
	}

	entries, err := h.audit.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// ── helpers ───────────────────────────────────────────────────────────────────

func actorFromQuery(r *http.Request) service.Actor {
	actor := service.Actor{
		Kind: repository.ActorKind(r.URL.Query().Get("actor_kind")),
		ID:   r.URL.Query().Get("actor_id"),
	}
	if actor.Kind == "" {
		actor.Kind = repository.ActorAdmin
	}
	return actor
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)
	code := apperrors.CodeOf(err)

	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("request failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    string(code),
			"message": err.Error(),
		},
	})
}
