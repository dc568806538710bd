package relay

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/i5heu/ouroboros-oracle/pkg/controller"
	"github.com/i5heu/ouroboros-oracle/pkg/events"
	"github.com/i5heu/ouroboros-oracle/pkg/types"
)

// StatusResponse is the response of GET /api/status.
type StatusResponse struct {
	Owner           string      `json:"owner"`
	Paused          bool        `json:"paused"`
	CooldownSeconds int64       `json:"cooldownSeconds"`
	CurrentBatch    uint64      `json:"currentBatch"`
	Batches         []BatchInfo `json:"batches"`
}

// BatchInfo represents one batch for the API.
type BatchInfo struct {
	ID      uint64 `json:"id"`
	Closed  bool   `json:"closed"`
	HasData bool   `json:"hasData"`
}

// RequestInfo represents one decryption request for the API.
type RequestInfo struct {
	BatchID   uint64 `json:"batchId"`
	StateHash string `json:"stateHash"`
	Requester string `json:"requester"`
	IssuedAt  int64  `json:"issuedAt"`
	Processed bool   `json:"processed"`
}

// CallbackRequest is the body of POST /api/callback.
type CallbackRequest struct {
	RequestID string `json:"requestId"`
	Cleartext string `json:"cleartext"`
	Proof     string `json:"proof"`
}

// handleGetStatus returns the controller's public state.
// GET /api/status
func (r *Relay) handleGetStatus(
	w http.ResponseWriter,
	req *http.Request,
) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctrl := r.config.Controller
	current := ctrl.CurrentBatch()

	batches := make([]BatchInfo, 0, current)
	for id := types.BatchID(1); id <= current; id++ {
		st, err := ctrl.BatchStatus(id)
		if err != nil {
			continue
		}
		batches = append(batches, BatchInfo{
			ID:      uint64(st.ID),
			Closed:  st.Closed,
			HasData: st.HasData,
		})
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Owner:           ctrl.Owner().String(),
		Paused:          ctrl.Paused(),
		CooldownSeconds: int64(ctrl.Cooldown().Seconds()),
		CurrentBatch:    uint64(current),
		Batches:         batches,
	})
}

// handleGetBatch returns one batch.
// GET /api/batches/{id}
func (r *Relay) handleGetBatch(
	w http.ResponseWriter,
	req *http.Request,
) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw := strings.TrimPrefix(req.URL.Path, "/api/batches/")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid batch id: " + raw,
		})
		return
	}

	st, err := r.config.Controller.BatchStatus(types.BatchID(id))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, BatchInfo{
		ID:      uint64(st.ID),
		Closed:  st.Closed,
		HasData: st.HasData,
	})
}

// handleGetRequest returns one decryption request.
// GET /api/requests/{id}
func (r *Relay) handleGetRequest(
	w http.ResponseWriter,
	req *http.Request,
) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw := strings.TrimPrefix(req.URL.Path, "/api/requests/")
	id, err := types.RequestIDFromHex(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid request id: " + raw,
		})
		return
	}

	st, err := r.config.Controller.RequestStatus(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, RequestInfo{
		BatchID:   uint64(st.BatchID),
		StateHash: st.StateHash,
		Requester: st.Requester.String(),
		IssuedAt:  st.IssuedAt.Unix(),
		Processed: st.Processed,
	})
}

// handleGetEvents returns audit events, newest last.
// GET /api/events?type=data_submitted&limit=50
func (r *Relay) handleGetEvents(
	w http.ResponseWriter,
	req *http.Request,
) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var entries []events.Event
	if typ := req.URL.Query().Get("type"); typ != "" {
		entries = r.config.Ledger.QueryByType(events.Type(typ))
	} else {
		entries = r.config.Ledger.All()
	}

	if raw := req.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid limit: " + raw,
			})
			return
		}
		if limit < len(entries) {
			entries = entries[len(entries)-limit:]
		}
	}

	writeJSON(w, http.StatusOK, entries)
}

// handleCallback accepts a decryption result from the oracle.
// POST /api/callback
func (r *Relay) handleCallback(
	w http.ResponseWriter,
	req *http.Request,
) {
	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body CallbackRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON body: " + err.Error(),
		})
		return
	}

	requestID, err := types.RequestIDFromHex(body.RequestID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid request id: " + err.Error(),
		})
		return
	}

	cleartext, err := base64.StdEncoding.DecodeString(body.Cleartext)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid cleartext encoding: " + err.Error(),
		})
		return
	}

	proofBytes, err := base64.StdEncoding.DecodeString(body.Proof)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid proof encoding: " + err.Error(),
		})
		return
	}

	err = r.config.Controller.OnDecrypted(
		req.Context(), requestID, cleartext, proofBytes,
	)
	if err != nil {
		writeJSON(w, callbackStatus(err), map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"requestId": requestID.String(),
		"status":    "accepted",
	})
}

// callbackStatus maps controller callback errors to HTTP codes.
func callbackStatus(err error) int {
	switch {
	case errors.Is(err, controller.ErrReplayAttempt):
		return http.StatusConflict
	case errors.Is(err, controller.ErrStateMismatch):
		return http.StatusConflict
	case errors.Is(err, controller.ErrInvalidProof):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
