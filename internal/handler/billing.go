package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/segyhp/fleet-billing/internal/domain"
	"github.com/segyhp/fleet-billing/pkg/response"
)

// BillingService is the engine surface exposed over HTTP.
type BillingService interface {
	CreateObligation(ctx context.Context, request *domain.CreateObligationRequest) (*domain.Obligation, error)
	UpdateObligationPrincipal(ctx context.Context, request *domain.UpdatePrincipalRequest) (*domain.Obligation, error)
	ConfirmObligation(ctx context.Context, request *domain.ConfirmObligationRequest) (*domain.ConfirmObligationResponse, error)
	HoldObligation(ctx context.Context, request *domain.ObligationActionRequest) (*domain.Obligation, error)
	ResumeObligation(ctx context.Context, request *domain.ObligationActionRequest) (*domain.Obligation, error)
	CancelObligation(ctx context.Context, request *domain.ObligationActionRequest) (*domain.Obligation, error)

	GetObligation(ctx context.Context, id uuid.UUID) (*domain.Obligation, error)
	GetSchedule(ctx context.Context, id uuid.UUID) ([]*domain.Installment, error)
	GetPostings(ctx context.Context, id uuid.UUID) ([]*domain.LedgerPosting, error)
	GetOutstanding(ctx context.Context, id uuid.UUID) (*domain.OutstandingResponse, error)
	IsDelinquent(ctx context.Context, id uuid.UUID, asOf time.Time) (*domain.DelinquentResponse, error)
	GetDriverSummary(ctx context.Context, driverID string) (*domain.DriverSummary, error)

	CreatePayment(ctx context.Context, request *domain.CreatePaymentRequest) (*domain.PaymentResult, error)
	ApplyEarnings(ctx context.Context, request *domain.ApplyEarningsRequest) (*domain.PaymentResult, error)
	VoidPosting(ctx context.Context, request *domain.VoidPostingRequest) (*domain.PostingResult, error)

	PostInstallment(ctx context.Context, installmentID string, postingDate time.Time) (*domain.PostingResult, error)
	ReconcileInstallment(ctx context.Context, installmentID string) (*domain.Installment, error)
	PostExternalTransaction(ctx context.Context, id uuid.UUID, postingDate time.Time) (*domain.PostingResult, error)

	ImportTransactions(ctx context.Context, request *domain.ImportTransactionsRequest) (*domain.BatchResult, error)
	RunAssociationBatch(ctx context.Context, request *domain.AssociationBatchRequest) (*domain.BatchResult, error)
	RunPostingBatch(ctx context.Context, request *domain.PostingBatchRequest) (*domain.BatchResult, error)
	MarkDueInstallments(ctx context.Context, asOf time.Time) (int64, error)

	SaveVehicle(ctx context.Context, vehicle *domain.Vehicle) (*domain.Vehicle, error)
	SaveLease(ctx context.Context, lease *domain.Lease) (*domain.Lease, error)
	SaveLeaseDriver(ctx context.Context, driver *domain.LeaseDriver) (*domain.LeaseDriver, error)
}

type BillingHandler struct {
	service BillingService
	now     func() time.Time
}

func NewBillingHandler(service BillingService) *BillingHandler {
	return &BillingHandler{service: service, now: time.Now}
}

// Register mounts the API routes on router.
func (h *BillingHandler) Register(router *mux.Router) {
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, "Route not found")
	})

	api := router.PathPrefix("/api/v1").Subrouter()
	api.NotFoundHandler = router.NotFoundHandler

	api.HandleFunc("/obligations", h.CreateObligation).Methods(http.MethodPost)
	api.HandleFunc("/obligations/{id}", h.GetObligation).Methods(http.MethodGet)
	api.HandleFunc("/obligations/{id}/principal", h.UpdatePrincipal).Methods(http.MethodPut)
	api.HandleFunc("/obligations/{id}/confirm", h.ConfirmObligation).Methods(http.MethodPost)
	api.HandleFunc("/obligations/{id}/hold", h.obligationAction(h.service.HoldObligation)).Methods(http.MethodPost)
	api.HandleFunc("/obligations/{id}/resume", h.obligationAction(h.service.ResumeObligation)).Methods(http.MethodPost)
	api.HandleFunc("/obligations/{id}/cancel", h.obligationAction(h.service.CancelObligation)).Methods(http.MethodPost)
	api.HandleFunc("/obligations/{id}/schedule", h.GetSchedule).Methods(http.MethodGet)
	api.HandleFunc("/obligations/{id}/postings", h.GetPostings).Methods(http.MethodGet)
	api.HandleFunc("/obligations/{id}/outstanding", h.GetOutstanding).Methods(http.MethodGet)
	api.HandleFunc("/obligations/{id}/delinquent", h.IsDelinquent).Methods(http.MethodGet)
	api.HandleFunc("/drivers/{driverId}/summary", h.GetDriverSummary).Methods(http.MethodGet)

	api.HandleFunc("/payments", h.CreatePayment).Methods(http.MethodPost)
	api.HandleFunc("/earnings", h.ApplyEarnings).Methods(http.MethodPost)
	api.HandleFunc("/postings/{id}/void", h.VoidPosting).Methods(http.MethodPost)

	api.HandleFunc("/installments/{id}/post", h.PostInstallment).Methods(http.MethodPost)
	api.HandleFunc("/installments/{id}/reconcile", h.ReconcileInstallment).Methods(http.MethodPost)
	api.HandleFunc("/transactions/import", h.ImportTransactions).Methods(http.MethodPost)
	api.HandleFunc("/transactions/{id}/post", h.PostExternalTransaction).Methods(http.MethodPost)

	api.HandleFunc("/batches/association", h.RunAssociationBatch).Methods(http.MethodPost)
	api.HandleFunc("/batches/posting", h.RunPostingBatch).Methods(http.MethodPost)
	api.HandleFunc("/batches/mark-due", h.MarkDue).Methods(http.MethodPost)

	api.HandleFunc("/directory/vehicles", h.SaveVehicle).Methods(http.MethodPut)
	api.HandleFunc("/directory/leases", h.SaveLease).Methods(http.MethodPut)
	api.HandleFunc("/directory/lease-drivers", h.SaveLeaseDriver).Methods(http.MethodPut)
}

// decode reads a JSON body into dest. An empty body leaves dest untouched.
func decode(r *http.Request, dest interface{}) error {
	err := json.NewDecoder(r.Body).Decode(dest)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		response.BadRequest(w, "Invalid id", err)
		return uuid.Nil, false
	}
	return id, true
}

// dateParam reads an RFC 3339 timestamp or a YYYY-MM-DD date from the query string.
func dateParam(r *http.Request, name string, fallback time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, raw)
}

func (h *BillingHandler) CreateObligation(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateObligationRequest
	if err := decode(r, &req); err != nil {
		response.BadRequest(w, "Invalid request body", err)
		return
	}

	obligation, err := h.service.CreateObligation(r.Context(), &req)
	if err != nil {
		response.BusinessError(w, err)
		return
	}
	response.Created(w, obligation)
}

func (h *BillingHandler) GetObligation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	obligation, err := h.service.GetObligation(r.Context(), id)
	if err != nil {
		response.BusinessError(w, err)
		return
	}
	response.Success(w, obligation)
}

func (h *BillingHandler) UpdatePrincipal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req domain.UpdatePrincipalRequest
	if err := decode(r, &req); err != nil {
		response.BadRequest(w, "Invalid request body", err)
		return
	}
	req.ObligationID = id

	obligation, err := h.service.UpdateObligationPrincipal(r.Context(), &req)
	if err != nil {
		response.BusinessError(w, err)
		return
	}
	response.Success(w, obligation)
}

func (h *BillingHandler) ConfirmObligation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	req := domain.ConfirmObligationRequest{StartDate: h.now(), StartPolicy: domain.StartPolicyCurrent}
	if err := decode(r, &req); err != nil {
		response.BadRequest(w, "Invalid request body", err)
		return
	}
	req.ObligationID = id

	confirmed, err := h.service.ConfirmObligation(r.Context(), &req)
	if err != nil {
		response.BusinessError(w, err)
		return
	}
	response.Success(w, confirmed)
}

func (h *BillingHandler) obligationAction(action func(context.Context, *domain.ObligationActionRequest) (*domain.Obligation, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req domain.ObligationActionRequest
		if err := decode(r, &req); err != nil {
			response.BadRequest(w, "Invalid request body", err)
			return
		}
		req.ObligationID = id

		obligation, err := action(r.Context(), &req)
		if err != nil {
			response.BusinessError(w, err)
			return
		}
		response.Success(w, obligation)
	}
}

func (h *BillingHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	installments, err := h.service.GetSchedule(r.Context(), id)
	if err != nil {
		response.BusinessError(w, err)
		return
	}
	response.Success(w, installments)
}

func (h *BillingHandler) GetPostings(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	postings, err := h.service.GetPostings(r.Context(), id)
	if err != nil {
		response.BusinessError(w, err)
		return
	}
	response.Success(w, postings)
}

func (h *BillingHandler) GetOutstanding(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	outstanding, err := h.service.GetOutstanding(r.Context(), id)
	if err != nil {
		response.BusinessError(w, err)
		return
	}
	response.Success(w, outstanding)
}

func (h *BillingHandler) IsDelinquent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	asOf, err := dateParam(r, "as_of", h.now())
	if err != nil {
		response.BadRequest(w, "Invalid as_of", err)
		return
	}
	status, err := h.service.IsDelinquent(r.Context(), id, asOf)
	if err != nil {
		response.BusinessError(w, err)
		return
	}
	response.Success(w, status)
}

func (h *BillingHandler) GetDriverSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.GetDriverSummary(r.Context(), mux.Vars(r)["driverId"])
	if err != nil {
		response.BusinessError(w, err)
		return
	}
	response.Success(w, summary)
}

func (h *BillingHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req domain.CreatePaymentRequest
	if err := decode(r, &req); err != nil {
		response.BadRequest(w, "Invalid request body", err)
		return
	}

	result, err := h.service.CreatePayment(r.Context(), &req)
	if err != nil {
		response.BusinessError(w, err)
		return
	}
	if result.Duplicate {
		response.Success(w, result)
		return
	}
	response.Created(w, result)
}

func (h *BillingHandler) ApplyEarnings(w http.ResponseWriter, r *http.Request) {
	var req domain.ApplyEarningsRequest
	if err := decode(r, &req); err != nil {
		response.BadRequest(w, "Invalid request body", err)
		return
	}

	result, err := h.service.ApplyEarnings(r.Context(), &req)
	if err != nil {
		response.BusinessError(w, err)
		return
	}
	response.Success(w, result)
}

func (h *BillingHandler) VoidPosting(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req domain.VoidPostingRequest
	if err := decode(r, &req); err != nil {
		response.BadRequest(w, "Invalid request body", err)
		return
	}
	req.PostingID = id

	result, err := h.service.VoidPosting(r.Context(), &req)
	if err != nil {
		response.BusinessError(w, err)
		return
	}
	response.Success(w, result)
}

func (h *BillingHandler) PostInstallment(w http.ResponseWriter, r *http.Request) {
	postingDate, err := dateParam(r, "posting_date", h.now())
	if err != nil {
		response.BadRequest(w, "Invalid posting_date", err)
		return
	}
	result, err := h.service.PostInstallment(r.Context(), mux.Vars(r)["id"], postingDate)
	if err != nil {
		response.BusinessError(w, err)
		return
	}
	response.Success(w, result)
}

func (h *BillingHandler) ReconcileInstallment(w http.ResponseWriter, r *http.Request) {
	installment, err := h.service.ReconcileInstallment(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		response.BusinessError(w, err)
		return
	}
	response.Success(w, installment)
}

func (h *BillingHandler) PostExternalTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	postingDate, err := dateParam(r, "posting_date", h.now())
	if err != nil {
		response.BadRequest(w, "Invalid posting_date", err)
		return
	}
	result, err := h.service.PostExternalTransaction(r.Context(), id, postingDate)
	if err != nil {
		response.BusinessError(w, err)
		return
	}
	response.Success(w, result)
}

func (h *BillingHandler) ImportTransactions(w http.ResponseWriter, r *http.Request) {
	var req domain.ImportTransactionsRequest
	if err := decode(r, &req); err != nil {
		response.BadRequest(w, "Invalid request body", err)
		return
	}
	result, err := h.service.ImportTransactions(r.Context(), &req)
	if err != nil {
		response.BusinessError(w, err)
		return
	}
	response.Success(w, result)
}

func (h *BillingHandler) RunAssociationBatch(w http.ResponseWriter, r *http.Request) {
	var req domain.AssociationBatchRequest
	if err := decode(r, &req); err != nil {
		response.BadRequest(w, "Invalid request body", err)
		return
	}
	result, err := h.service.RunAssociationBatch(r.Context(), &req)
	if err != nil {
		response.BusinessError(w, err)
		return
	}
	response.Success(w, result)
}

func (h *BillingHandler) RunPostingBatch(w http.ResponseWriter, r *http.Request) {
	var req domain.PostingBatchRequest
	if err := decode(r, &req); err != nil {
		response.BadRequest(w, "Invalid request body", err)
		return
	}
	result, err := h.service.RunPostingBatch(r.Context(), &req)
	if err != nil {
		response.BusinessError(w, err)
		return
	}
	response.Success(w, result)
}

func (h *BillingHandler) MarkDue(w http.ResponseWriter, r *http.Request) {
	asOf, err := dateParam(r, "as_of", h.now())
	if err != nil {
		response.BadRequest(w, "Invalid as_of", err)
		return
	}
	count, err := h.service.MarkDueInstallments(r.Context(), asOf)
	if err != nil {
		response.BusinessError(w, err)
		return
	}
	response.Success(w, map[string]int64{"marked_due": count})
}

func (h *BillingHandler) SaveVehicle(w http.ResponseWriter, r *http.Request) {
	var req domain.Vehicle
	if err := decode(r, &req); err != nil {
		response.BadRequest(w, "Invalid request body", err)
		return
	}
	vehicle, err := h.service.SaveVehicle(r.Context(), &req)
	if err != nil {
		response.BusinessError(w, err)
		return
	}
	response.Success(w, vehicle)
}

func (h *BillingHandler) SaveLease(w http.ResponseWriter, r *http.Request) {
	var req domain.Lease
	if err := decode(r, &req); err != nil {
		response.BadRequest(w, "Invalid request body", err)
		return
	}
	lease, err := h.service.SaveLease(r.Context(), &req)
	if err != nil {
		response.BusinessError(w, err)
		return
	}
	response.Success(w, lease)
}

func (h *BillingHandler) SaveLeaseDriver(w http.ResponseWriter, r *http.Request) {
	var req domain.LeaseDriver
	if err := decode(r, &req); err != nil {
		response.BadRequest(w, "Invalid request body", err)
		return
	}
	driver, err := h.service.SaveLeaseDriver(r.Context(), &req)
	if err != nil {
		response.BusinessError(w, err)
		return
	}
	response.Success(w, driver)
}
