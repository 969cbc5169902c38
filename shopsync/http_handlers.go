// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package shopsync

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
)

// ClientAuthenticator extracts both user and device identity from HTTP
// requests. Implementations should validate auth (e.g., JWT) and provide
// both identifiers.
type ClientAuthenticator interface {
	GetUserID(r *http.Request) (string, error)
	GetDeviceID(r *http.Request) (string, error)
}

// HTTPSyncHandlers provides HTTP handlers for the offline-sync API. These
// are thin adapters around the scheduler and the reconciliation engine.
type HTTPSyncHandlers struct {
	scheduler     *Scheduler
	engine        *ReconcileEngine
	authenticator ClientAuthenticator
	logger        *slog.Logger
}

// NewHTTPSyncHandlers creates a new instance of sync handlers
func NewHTTPSyncHandlers(scheduler *Scheduler, engine *ReconcileEngine, authenticator ClientAuthenticator, logger *slog.Logger) *HTTPSyncHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSyncHandlers{
		scheduler:     scheduler,
		engine:        engine,
		authenticator: authenticator,
		logger:        logger,
	}
}

// HandleSubmit stores one client operation and enqueues it. A missing
// session_id starts a fresh session for the device.
func (h *HTTPSyncHandlers) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST method is allowed")
		return
	}
	deviceID, err := h.authenticator.GetDeviceID(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return
	}

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse submit request")
		return
	}

	sessionID, err := h.resolveSession(r, req.SessionID, deviceID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	rec := &OfflineRecord{Type: RecordType(req.RecordType), Payload: req.Payload}
	if err := h.scheduler.Submit(r.Context(), rec, sessionID); err != nil {
		if errors.Is(err, ErrUnknownRecordType) {
			h.writeError(w, http.StatusBadRequest, "unknown_record_type", err.Error())
			return
		}
		if errors.Is(err, ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		h.logger.Error("Failed to submit offline record", "error", err, "device_id", deviceID)
		h.writeError(w, http.StatusInternalServerError, "submit_failed", "Failed to submit record")
		return
	}

	h.writeJSON(w, SubmitResponse{
		RecordID:  rec.ID,
		SessionID: sessionID.String(),
		State:     string(StatePending),
	})
}

// HandleEnqueue schedules an already stored offline record on a session.
func (h *HTTPSyncHandlers) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST method is allowed")
		return
	}
	if _, err := h.authenticator.GetUserID(r); err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return
	}

	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse enqueue request")
		return
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "session_id must be a UUID")
		return
	}

	if err := h.scheduler.Enqueue(r.Context(), req.RecordID, sessionID); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			h.writeError(w, http.StatusNotFound, "not_found", err.Error())
		case errors.Is(err, ErrUnknownRecordType):
			h.writeError(w, http.StatusBadRequest, "unknown_record_type", err.Error())
		case errors.Is(err, ErrRecordTerminal), errors.Is(err, ErrRecordBusy):
			h.writeError(w, http.StatusConflict, "record_conflict", err.Error())
		default:
			h.logger.Error("Failed to enqueue record", "error", err, "record_id", req.RecordID)
			h.writeError(w, http.StatusInternalServerError, "enqueue_failed", "Failed to enqueue record")
		}
		return
	}

	h.writeJSON(w, EnqueueResponse{Accepted: true, State: string(StatePending)})
}

// HandleSessionSummary reports succeeded/failed/total for a session.
func (h *HTTPSyncHandlers) HandleSessionSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET method is allowed")
		return
	}
	if _, err := h.authenticator.GetUserID(r); err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return
	}

	raw := r.PathValue("id")
	if raw == "" {
		raw = r.URL.Query().Get("session_id")
	}
	sessionID, err := uuid.Parse(raw)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "session id must be a UUID")
		return
	}

	summary, err := h.scheduler.SessionSummary(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		h.logger.Error("Failed to load session summary", "error", err, "session_id", sessionID)
		h.writeError(w, http.StatusInternalServerError, "summary_failed", "Failed to load session summary")
		return
	}

	h.writeJSON(w, SessionSummaryResponse{
		SessionID:        summary.SessionID.String(),
		RecordsSucceeded: summary.RecordsSucceeded,
		RecordsFailed:    summary.RecordsFailed,
		Total:            summary.Total,
	})
}

// HandleReconcile runs the manual reconciliation entrypoint. With
// ?product_id= it corrects one product, otherwise every product with sales
// history at the default location.
func (h *HTTPSyncHandlers) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST method is allowed")
		return
	}
	if _, err := h.authenticator.GetUserID(r); err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return
	}

	var reports []CorrectionReport
	if ps := r.URL.Query().Get("product_id"); ps != "" {
		productID, err := strconv.ParseInt(ps, 10, 64)
		if err != nil || productID <= 0 {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "product_id must be a positive integer")
			return
		}
		report, err := h.engine.ReconcileProduct(r.Context(), productID)
		if err != nil {
			h.logger.Error("Reconciliation failed", "error", err, "product_id", productID)
			h.writeError(w, http.StatusInternalServerError, "reconcile_failed", err.Error())
			return
		}
		reports = []CorrectionReport{*report}
	} else {
		var err error
		reports, err = h.engine.ReconcileAll(r.Context())
		if err != nil {
			h.logger.Error("Batch reconciliation failed", "error", err)
			h.writeError(w, http.StatusInternalServerError, "reconcile_failed", err.Error())
			return
		}
	}

	h.writeJSON(w, ReconcileResponse{Reports: reports})
}

func (h *HTTPSyncHandlers) resolveSession(r *http.Request, sessionID, deviceID string) (uuid.UUID, error) {
	if sessionID != "" {
		id, err := uuid.Parse(sessionID)
		if err != nil {
			return uuid.Nil, errors.New("session_id must be a UUID")
		}
		return id, nil
	}
	sess, err := h.scheduler.StartSession(r.Context(), deviceID)
	if err != nil {
		return uuid.Nil, err
	}
	return sess.ID, nil
}

func (h *HTTPSyncHandlers) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

// writeError writes a standardized error response
func (h *HTTPSyncHandlers) writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := ErrorResponse{
		Error:   errorCode,
		Message: message,
	}
	_ = json.NewEncoder(w).Encode(errorResponse)

	h.logger.Debug("HTTP error response",
		"status_code", statusCode,
		"error_code", errorCode,
		"message", message)
}
