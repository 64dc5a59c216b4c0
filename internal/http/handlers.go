package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"spendings/internal/core"
	"spendings/internal/expense"
	"spendings/internal/log"
)

var _ ExpenseStore = (*expense.Store)(nil)

type expensesResponse struct {
	Expenses []core.Expense `json:"expenses"`
	Count    int            `json:"count"`
	Version  uint64         `json:"version"`
}

type summaryResponse struct {
	Total      float64              `json:"total"`
	ByCategory []core.CategoryTotal `json:"by_category"`
	ByDate     map[core.Day]float64 `json:"by_date"`
	Version    uint64               `json:"version"`
}

type versionResponse struct {
	Version uint64 `json:"version"`
}

type removedResponse struct {
	Removed int `json:"removed"`
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "store not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	q, err := parseRangeQuery(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var items []core.Expense
	switch q.kind {
	case rangeInstant:
		items = s.store.InRange(q.start, q.end)
	case rangeDays:
		items = s.store.OnDays(q.from, q.to)
	default:
		items = s.store.Expenses()
	}
	if items == nil {
		items = []core.Expense{}
	}
	log.FromContext(r.Context()).DebugContext(r.Context(), "Expenses listed",
		log.FieldOperation, log.OpList, log.FieldCount, len(items))

	writeJSON(w, r, http.StatusOK, expensesResponse{
		Expenses: items,
		Count:    len(items),
		Version:  s.store.Version(),
	})
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var req expenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	e, err := req.toExpense(s.store.Location())
	if err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}

	created, err := s.store.Add(r.Context(), e)
	if errors.Is(err, expense.ErrDuplicateID) {
		writeError(w, r, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Expense add failed", log.FieldError, err)
		writeError(w, r, http.StatusInternalServerError, "could not add expense")
		return
	}

	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/expenses/"+created.ID.String()).
		Body(created).
		Write(w, r)
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid expense id")
		return
	}

	var req expenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	// The path names the record; a body id, if any, must agree.
	if req.ID != "" && req.ID != id.String() {
		writeError(w, r, http.StatusUnprocessableEntity, "body id does not match path id")
		return
	}
	req.ID = id.String()

	e, err := req.toExpense(s.store.Location())
	if err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if !s.store.Edit(r.Context(), e) {
		writeError(w, r, http.StatusNotFound, "expense not found")
		return
	}
	writeJSON(w, r, http.StatusOK, e)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid expense id")
		return
	}
	if s.store.DeleteByID(r.Context(), id) == 0 {
		writeError(w, r, http.StatusNotFound, "expense not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeletePositions(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	removed := s.store.Delete(r.Context(), req.Positions...)
	writeJSON(w, r, http.StatusOK, removedResponse{Removed: removed})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	resp := summaryResponse{
		Total:      s.store.Total(),
		ByCategory: s.store.ByCategory(),
		ByDate:     s.store.ByDate(),
		Version:    s.store.Version(),
	}
	log.FromContext(r.Context()).DebugContext(r.Context(), "Summary computed",
		log.FieldCount, len(resp.ByDate), log.FieldDuration, time.Since(start).Milliseconds())
	writeJSON(w, r, http.StatusOK, resp)
}

func handleCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, core.Categories())
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, versionResponse{Version: s.store.Version()})
}
