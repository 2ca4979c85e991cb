package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voxdrop/voxdrop/internal/audio"
	"github.com/voxdrop/voxdrop/internal/circuitbreaker"
	"github.com/voxdrop/voxdrop/internal/db"
	"github.com/voxdrop/voxdrop/internal/dispatch"
	"github.com/voxdrop/voxdrop/internal/metrics"
	"github.com/voxdrop/voxdrop/internal/redis"
	"github.com/voxdrop/voxdrop/internal/stats"
	"github.com/voxdrop/voxdrop/internal/telephony"
	"github.com/voxdrop/voxdrop/internal/tracker"
)

// Repository defines the read-side database operations the handlers need
type Repository interface {
	GetAttempt(ctx context.Context, id uuid.UUID) (*db.DeliveryAttempt, error)
	ListAttemptsByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*db.DeliveryAttempt, error)
	GetAudioAsset(ctx context.Context, id uuid.UUID) (*db.AudioAsset, error)
}

// Dispatcher submits a recipient list as batched delivery attempts
type Dispatcher interface {
	Dispatch(ctx context.Context, recipients []string, msg dispatch.Message, campaignID *uuid.UUID, opts dispatch.Options) []dispatch.AttemptResult
}

// AudioProducer creates and resolves audio assets
type AudioProducer interface {
	Synthesize(ctx context.Context, script string, params audio.VoiceParams) (*db.AudioAsset, error)
	StoreUpload(ctx context.Context, contentType string, data []byte) (*db.AudioAsset, error)
	ResolveUpload(ctx context.Context, id uuid.UUID) (*db.AudioAsset, error)
}

// CallbackQueue buffers provider callbacks for asynchronous tracking
type CallbackQueue interface {
	EnqueueCallback(ctx context.Context, cb tracker.Callback) (string, error)
}

// DispatchRequest represents the incoming submission body
type DispatchRequest struct {
	Recipients        []string          `json:"recipients"`
	Message           string            `json:"message,omitempty"`
	AudioAssetID      string            `json:"audio_asset_id,omitempty"`
	CampaignID        string            `json:"campaign_id,omitempty"`
	Voice             audio.VoiceParams `json:"voice_params,omitempty"`
	BatchSize         int               `json:"batch_size,omitempty"`
	InterBatchDelayMS int               `json:"inter_batch_delay_ms,omitempty"`
}

// RecipientOutcome is the synchronous submission result for one recipient
type RecipientOutcome struct {
	PhoneNumber string `json:"phone_number"`
	Accepted    bool   `json:"accepted"`
	AttemptRef  string `json:"attempt_ref,omitempty"`
	Error       string `json:"error,omitempty"`
}

// DispatchResponse is returned after a submission has been dispatched
type DispatchResponse struct {
	CampaignID string             `json:"campaign_id,omitempty"`
	Accepted   int                `json:"accepted"`
	Rejected   int                `json:"rejected"`
	Results    []RecipientOutcome `json:"results"`
}

// AudioResponse is returned after creating an audio asset
type AudioResponse struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Source string `json:"source"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Config holds handler-level settings.
type Config struct {
	DeliveryMode  string // telephony.ModePlay or telephony.ModeSay
	PublicBaseURL string
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	repo        Repository
	dispatcher  Dispatcher
	producer    AudioProducer
	tracker     *tracker.Tracker
	config      Config
	idempotency *redis.IdempotencyService // nil if Redis not configured
	queue       CallbackQueue             // nil if SQS not configured
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, repo Repository, dispatcher Dispatcher, producer AudioProducer, trk *tracker.Tracker, cfg Config) *Handler {
	if cfg.DeliveryMode == "" {
		cfg.DeliveryMode = telephony.ModePlay
	}
	return &Handler{
		logger:     logger,
		repo:       repo,
		dispatcher: dispatcher,
		producer:   producer,
		tracker:    trk,
		config:     cfg,
	}
}

// NewHandlerWithIdempotency creates a handler with submission idempotency support
func NewHandlerWithIdempotency(logger *zap.Logger, repo Repository, dispatcher Dispatcher, producer AudioProducer, trk *tracker.Tracker, cfg Config, idempotency *redis.IdempotencyService) *Handler {
	h := NewHandler(logger, repo, dispatcher, producer, trk, cfg)
	h.idempotency = idempotency
	return h
}

// NewHandlerWithCallbackQueue creates a handler that buffers provider
// callbacks through a queue instead of applying them inline
func NewHandlerWithCallbackQueue(logger *zap.Logger, repo Repository, dispatcher Dispatcher, producer AudioProducer, trk *tracker.Tracker, cfg Config, idempotency *redis.IdempotencyService, queue CallbackQueue) *Handler {
	h := NewHandler(logger, repo, dispatcher, producer, trk, cfg)
	h.idempotency = idempotency
	h.queue = queue
	return h
}

// CreateDispatch handles POST /v1/dispatches
// Supports idempotency via the Idempotency-Key header. The response carries
// one synchronous outcome per recipient; delivery results arrive later via
// provider callbacks and are visible only through the stats endpoint.
func (h *Handler) CreateDispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idempotencyKey := r.Header.Get("Idempotency-Key")
	accountID := r.Header.Get("X-Account-ID")

	var req DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if len(req.Recipients) == 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing recipients", "recipients must contain at least one phone number")
		return
	}

	if req.Message == "" && req.AudioAssetID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing message", "either message or audio_asset_id is required")
		return
	}

	var campaignID *uuid.UUID
	if req.CampaignID != "" {
		id, err := uuid.Parse(req.CampaignID)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid campaign_id", "campaign_id must be a valid UUID")
			return
		}
		campaignID = &id
	}

	if idempotencyKey != "" && h.idempotency != nil {
		cachedResult, err := h.idempotency.CheckOrReserve(ctx, accountID, idempotencyKey)

		if err != nil {
			if errors.Is(err, redis.ErrDuplicateRequest) {
				h.writeError(w, http.StatusConflict, "duplicate_request",
					"Request is already being processed",
					"Another request with this idempotency key is in progress")
				return
			}
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		} else if cachedResult != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Replayed", "true")
			w.WriteHeader(cachedResult.StatusCode)
			_, _ = w.Write(cachedResult.ResponseBody)
			return
		}
	}

	msg, errResp := h.resolveMessage(ctx, &req)
	if errResp != nil {
		h.writeError(w, errResp.Status, errResp.Type, errResp.Title, errResp.Detail)
		return
	}

	results := h.dispatcher.Dispatch(ctx, req.Recipients, msg, campaignID, dispatch.Options{
		BatchSize:       req.BatchSize,
		InterBatchDelay: time.Duration(req.InterBatchDelayMS) * time.Millisecond,
	})

	resp := DispatchResponse{
		CampaignID: req.CampaignID,
		Results:    make([]RecipientOutcome, len(results)),
	}
	for i, res := range results {
		outcome := RecipientOutcome{
			PhoneNumber: res.PhoneNumber,
			Accepted:    res.Accepted,
			AttemptRef:  res.AttemptRef,
		}
		if res.Err != nil {
			outcome.Error = rejectionReason(res.Err)
			resp.Rejected++
		} else {
			resp.Accepted++
		}
		resp.Results[i] = outcome
	}

	h.logger.Info("dispatch completed",
		zap.String("campaign_id", req.CampaignID),
		zap.Int("recipients", len(req.Recipients)),
		zap.Int("accepted", resp.Accepted),
		zap.Int("rejected", resp.Rejected),
	)

	body, err := json.Marshal(resp)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to encode response", "")
		return
	}

	if idempotencyKey != "" && h.idempotency != nil {
		result := &redis.IdempotencyResult{
			StatusCode:   http.StatusCreated,
			ResponseBody: body,
		}
		if err := h.idempotency.Store(ctx, accountID, idempotencyKey, result); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(body)
}

// resolveMessage turns the request into the dispatch payload, synthesizing or
// resolving audio as the configured delivery mode requires.
func (h *Handler) resolveMessage(ctx context.Context, req *DispatchRequest) (dispatch.Message, *ErrorResponse) {
	msg := dispatch.Message{Text: req.Message}

	if req.AudioAssetID != "" {
		assetID, err := uuid.Parse(req.AudioAssetID)
		if err != nil {
			return msg, &ErrorResponse{Status: http.StatusBadRequest, Type: "invalid_request",
				Title: "Invalid audio_asset_id", Detail: "audio_asset_id must be a valid UUID"}
		}

		asset, err := h.producer.ResolveUpload(ctx, assetID)
		if err != nil {
			h.logger.Warn("audio asset unavailable",
				zap.Error(err),
				zap.String("asset_id", req.AudioAssetID),
			)
			return msg, &ErrorResponse{Status: http.StatusUnprocessableEntity, Type: "recording_unavailable",
				Title: "Recording unavailable", Detail: "the referenced audio asset could not be resolved"}
		}

		msg.AssetID = &asset.ID
		msg.AssetURL = h.assetURL(asset.ID)
		return msg, nil
	}

	if h.config.DeliveryMode == telephony.ModeSay {
		return msg, nil
	}

	asset, err := h.producer.Synthesize(ctx, req.Message, req.Voice)
	if err != nil {
		h.logger.Warn("synthesis failed", zap.Error(err))
		metrics.RecordSynthesis("error")
		return msg, &ErrorResponse{Status: http.StatusUnprocessableEntity, Type: "synthesis_failed",
			Title: "Speech synthesis failed", Detail: "the message could not be synthesized; resubmit to retry"}
	}
	metrics.RecordSynthesis("ok")

	msg.AssetID = &asset.ID
	msg.AssetURL = h.assetURL(asset.ID)
	return msg, nil
}

// VoiceCallback handles POST /v1/callbacks/voice
// The provider posts form-encoded status events. The endpoint always answers
// fast: malformed or unmatchable callbacks are logged and dropped so the
// provider does not storm us with retries that can never succeed.
func (h *Handler) VoiceCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		h.logger.Warn("unparseable callback body", zap.Error(err))
		metrics.RecordCallbackDropped("malformed")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	cb := tracker.Callback{
		AttemptRef: r.PostFormValue("CallSid"),
		Status:     r.PostFormValue("CallStatus"),
	}
	if durStr := r.PostFormValue("CallDuration"); durStr != "" {
		if dur, err := strconv.Atoi(durStr); err == nil && dur >= 0 {
			cb.DurationSeconds = &dur
		}
	}

	if cb.AttemptRef == "" || cb.Status == "" {
		h.logger.Warn("callback missing CallSid or CallStatus",
			zap.String("call_sid", cb.AttemptRef),
			zap.String("call_status", cb.Status),
		)
		metrics.RecordCallbackDropped("malformed")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if h.queue != nil {
		if msgID, err := h.queue.EnqueueCallback(ctx, cb); err != nil {
			h.logger.Error("failed to buffer callback, applying inline",
				zap.Error(err),
				zap.String("attempt_ref", cb.AttemptRef),
			)
		} else {
			h.logger.Debug("callback buffered",
				zap.String("attempt_ref", cb.AttemptRef),
				zap.String("message_id", msgID),
			)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}

	err := h.tracker.HandleCallback(ctx, cb)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, tracker.ErrUnknownAttempt):
		h.logger.Warn("callback for unknown attempt",
			zap.String("attempt_ref", cb.AttemptRef),
			zap.String("status", cb.Status),
		)
		metrics.RecordCallbackDropped("unknown_attempt")
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, tracker.ErrMalformedCallback):
		metrics.RecordCallbackDropped("malformed")
		w.WriteHeader(http.StatusNoContent)
	default:
		// Store failure: a non-2xx makes the provider retry, and the tracker
		// is idempotent under redelivery.
		h.logger.Error("failed to apply callback",
			zap.Error(err),
			zap.String("attempt_ref", cb.AttemptRef),
		)
		h.writeError(w, http.StatusInternalServerError, "callback_error", "Failed to apply callback", "")
	}
}

// GetAttempt handles GET /v1/attempts/{id}
func (h *Handler) GetAttempt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "id")
	attemptID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid attempt ID", "ID must be a valid UUID")
		return
	}

	attempt, err := h.repo.GetAttempt(ctx, attemptID)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "not_found", "Delivery attempt not found", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(attempt)
}

// CampaignStats handles GET /v1/campaigns/{id}/stats
// Stats are always recomputed from the current attempt set — never cached —
// so numbers are consistent with the latest committed callback.
func (h *Handler) CampaignStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "id")
	campaignID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid campaign ID", "ID must be a valid UUID")
		return
	}

	attempts, err := h.repo.ListAttemptsByCampaign(ctx, campaignID)
	if err != nil {
		h.logger.Error("failed to list campaign attempts",
			zap.Error(err),
			zap.String("campaign_id", idStr),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to compute campaign stats", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(stats.Compute(attempts))
}

// CreateAudio handles POST /v1/audio
// A JSON body synthesizes speech from a script; any other content type is
// stored as an uploaded recording.
func (h *Handler) CreateAudio(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	contentType := r.Header.Get("Content-Type")

	var asset *db.AudioAsset
	if contentType == "application/json" {
		var req struct {
			Script string            `json:"script"`
			Voice  audio.VoiceParams `json:"voice_params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
			return
		}
		if req.Script == "" {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing script", "script is required")
			return
		}

		var err error
		asset, err = h.producer.Synthesize(ctx, req.Script, req.Voice)
		if err != nil {
			h.logger.Warn("synthesis failed", zap.Error(err))
			metrics.RecordSynthesis("error")
			h.writeError(w, http.StatusUnprocessableEntity, "synthesis_failed", "Speech synthesis failed", "resubmit to retry")
			return
		}
		metrics.RecordSynthesis("ok")
	} else {
		data, err := io.ReadAll(r.Body)
		if err != nil || len(data) == 0 {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Empty upload", "request body must contain audio data")
			return
		}

		asset, err = h.producer.StoreUpload(ctx, contentType, data)
		if err != nil {
			h.logger.Error("failed to store upload", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "storage_error", "Failed to store recording", "")
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(AudioResponse{
		ID:     asset.ID.String(),
		URL:    h.assetURL(asset.ID),
		Source: asset.Source,
	})
}

// ServeAudio handles GET /v1/audio/{id}
// This is the URL the telephony provider fetches to play the drop.
func (h *Handler) ServeAudio(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "id")
	assetID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid asset ID", "ID must be a valid UUID")
		return
	}

	asset, err := h.repo.GetAudioAsset(ctx, assetID)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "not_found", "Audio asset not found", "")
		return
	}

	w.Header().Set("Content-Type", asset.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(asset.Data)
}

func (h *Handler) assetURL(id uuid.UUID) string {
	return h.config.PublicBaseURL + "/v1/audio/" + id.String()
}

// rejectionReason maps a synchronous attempt error to a stable reason code.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, telephony.ErrInvalidRecipient):
		return "invalid_recipient"
	case errors.Is(err, telephony.ErrProviderRejected):
		return "provider_rejected"
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		return "provider_unavailable"
	default:
		return "internal_error"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
