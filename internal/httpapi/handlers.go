package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/service"
	"kasirinaja/terminal/internal/store"
)

// statusFor maps recorder and store errors to HTTP status codes.
func statusFor(err error) int {
	var conflict *store.ResourceConflictError
	switch {
	case errors.Is(err, service.ErrInvalidDraft), errors.Is(err, store.ErrInvalidRecord):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidDevice):
		return http.StatusPreconditionFailed
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrTableNotFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrTableOccupied),
		errors.Is(err, store.ErrInvalidTransition),
		errors.Is(err, store.ErrDuplicateTag),
		errors.As(err, &conflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrStorageTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeResult sends a structured result body. Its message is already safe to
// show, so it is used even for 5xx responses.
func writeResult(w http.ResponseWriter, err error, result any) {
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
	}
	writeJSON(w, status, result)
}

func (a *API) handleSaveSale(w http.ResponseWriter, r *http.Request) {
	var draft domain.SaleDraft
	if err := decodeJSON(r, &draft); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := a.service.SaveSale(r.Context(), draft)
	if err == nil {
		writeJSON(w, http.StatusCreated, res)
		return
	}
	writeResult(w, err, res)
}

func (a *API) handleSaveBill(w http.ResponseWriter, r *http.Request) {
	var draft domain.BillDraft
	if err := decodeJSON(r, &draft); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := a.service.SaveBill(r.Context(), draft)
	if err == nil {
		writeJSON(w, http.StatusCreated, res)
		return
	}
	writeResult(w, err, res)
}

func (a *API) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	var update domain.RecordUpdate
	if err := decodeJSON(r, &update); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	kind := domain.RecordKind(chi.URLParam(r, "kind"))
	res, err := a.service.UpdateRecord(r.Context(), kind, chi.URLParam(r, "localID"), update)
	writeResult(w, err, res)
}

func (a *API) handleVoidBill(w http.ResponseWriter, r *http.Request) {
	res, err := a.service.VoidBill(r.Context(), chi.URLParam(r, "localID"))
	writeResult(w, err, res)
}

func (a *API) handleCloseBill(w http.ResponseWriter, r *http.Request) {
	res, err := a.service.CloseBill(r.Context(), chi.URLParam(r, "localID"))
	writeResult(w, err, res)
}

func (a *API) handleListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.RecordFilter{
		Kind:               domain.RecordKind(strings.TrimSpace(q.Get("kind"))),
		BusinessLocationID: strings.TrimSpace(q.Get("business_location_id")),
		StoreLocationID:    strings.TrimSpace(q.Get("store_location_id")),
		Limit:              parsePositiveLimit(q.Get("limit"), 100, 500),
	}
	for _, raw := range strings.Split(q.Get("sync_status"), ",") {
		if status := domain.SyncStatus(strings.TrimSpace(raw)); status != "" {
			filter.Statuses = append(filter.Statuses, status)
		}
	}

	records, err := a.service.ListRecords(r.Context(), filter)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (a *API) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := a.service.GetRecord(r.Context(), chi.URLParam(r, "localID"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleSyncSummary(w http.ResponseWriter, r *http.Request) {
	counts, err := a.service.SyncSummary(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (a *API) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.sync.SyncAll(r.Context()))
}

func (a *API) handleSyncOne(w http.ResponseWriter, r *http.Request) {
	kind := domain.RecordKind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, errors.New("kind must be sale or bill"))
		return
	}
	writeJSON(w, http.StatusOK, a.sync.SyncOne(r.Context(), kind, chi.URLParam(r, "localID")))
}

func (a *API) handleCatalog(w http.ResponseWriter, r *http.Request) {
	snapshot, err := a.catalog.Load(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (a *API) handleCatalogRefresh(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res := a.catalog.Pull(r.Context(), q.Get("business_location_id"), q.Get("store_location_id"))
	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, res)
}

func (a *API) handleTableSlots(w http.ResponseWriter, r *http.Request) {
	slots, err := a.service.ListTableSlots(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"table_slots": slots})
}

type regenerateRequest struct {
	Count  int    `json:"count"`
	Prefix string `json:"prefix"`
}

func (a *API) handleRegenerateTableSlots(w http.ResponseWriter, r *http.Request) {
	var req regenerateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := a.service.RegenerateTableSlots(r.Context(), req.Count, req.Prefix)
	writeResult(w, err, res)
}

type billTagRequest struct {
	TagName  string `json:"tag_name"`
	TagColor string `json:"tag_color"`
}

func (a *API) handleListBillTags(w http.ResponseWriter, r *http.Request) {
	tags, err := a.service.ListBillTags(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bill_tags": tags})
}

func (a *API) handleCreateBillTag(w http.ResponseWriter, r *http.Request) {
	var req billTagRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tag, err := a.service.CreateBillTag(r.Context(), req.TagName, req.TagColor)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, tag)
}

func (a *API) handleDeleteBillTag(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteBillTag(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
