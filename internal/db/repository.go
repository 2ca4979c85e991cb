package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Repository handles database operations for delivery attempts and audio assets
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// CreateAttempt inserts a new delivery attempt. The provider reference must
// already be assigned — attempts the provider rejected are never persisted.
func (r *Repository) CreateAttempt(ctx context.Context, attempt *DeliveryAttempt) error {
	query := `
		INSERT INTO delivery_attempts (
			id, provider_ref, campaign_id, phone_number, message_text,
			audio_asset_id, status, provider_status, cost_cents
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		attempt.ID,
		attempt.ProviderRef,
		attempt.CampaignID,
		attempt.PhoneNumber,
		attempt.MessageText,
		attempt.AudioAssetID,
		attempt.Status,
		attempt.ProviderStatus,
		attempt.CostCents,
	).Scan(&attempt.CreatedAt, &attempt.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to create delivery attempt",
			zap.Error(err),
			zap.String("attempt_id", attempt.ID.String()),
			zap.String("provider_ref", attempt.ProviderRef),
		)
		return fmt.Errorf("insert delivery attempt: %w", err)
	}

	r.logger.Info("delivery attempt created",
		zap.String("attempt_id", attempt.ID.String()),
		zap.String("provider_ref", attempt.ProviderRef),
		zap.String("phone_number", attempt.PhoneNumber),
	)

	return nil
}

const attemptColumns = `
	id, provider_ref, campaign_id, phone_number, message_text,
	audio_asset_id, status, provider_status, failure_reason,
	cost_cents, duration_seconds, created_at, updated_at
`

func scanAttempt(row pgx.Row) (*DeliveryAttempt, error) {
	var a DeliveryAttempt
	err := row.Scan(
		&a.ID,
		&a.ProviderRef,
		&a.CampaignID,
		&a.PhoneNumber,
		&a.MessageText,
		&a.AudioAssetID,
		&a.Status,
		&a.ProviderStatus,
		&a.FailureReason,
		&a.CostCents,
		&a.DurationSeconds,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAttempt retrieves a delivery attempt by internal ID
func (r *Repository) GetAttempt(ctx context.Context, id uuid.UUID) (*DeliveryAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM delivery_attempts WHERE id = $1`

	attempt, err := scanAttempt(r.db.Pool().QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrAttemptNotFound, id)
	}
	if err != nil {
		r.logger.Error("failed to get delivery attempt",
			zap.Error(err),
			zap.String("attempt_id", id.String()),
		)
		return nil, fmt.Errorf("query delivery attempt: %w", err)
	}

	return attempt, nil
}

// GetAttemptByRef retrieves a delivery attempt by its provider reference
func (r *Repository) GetAttemptByRef(ctx context.Context, providerRef string) (*DeliveryAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM delivery_attempts WHERE provider_ref = $1`

	attempt, err := scanAttempt(r.db.Pool().QueryRow(ctx, query, providerRef))
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrAttemptNotFound, providerRef)
	}
	if err != nil {
		return nil, fmt.Errorf("query delivery attempt by ref: %w", err)
	}

	return attempt, nil
}

// ListAttemptsByCampaign retrieves all attempts belonging to a campaign.
// Statistics are always recomputed from this full set, never cached, so the
// aggregator can never report numbers staler than the last committed callback.
func (r *Repository) ListAttemptsByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*DeliveryAttempt, error) {
	query := `SELECT ` + attemptColumns + `
		FROM delivery_attempts
		WHERE campaign_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("query campaign attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*DeliveryAttempt
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery attempt: %w", err)
		}
		attempts = append(attempts, attempt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return attempts, nil
}

// MarkAttemptTerminal transitions an attempt from initiated to a terminal
// status. The WHERE clause doubles as a compare-and-swap: a callback that
// loses the race against an earlier terminal transition affects zero rows,
// so the first terminal status always wins regardless of arrival order.
// Returns true when the transition was applied.
func (r *Repository) MarkAttemptTerminal(
	ctx context.Context,
	providerRef string,
	status string,
	failureReason *string,
	durationSeconds *int,
	costCents *int,
) (bool, error) {
	query := `
		UPDATE delivery_attempts
		SET status = $2,
		    provider_status = $2,
		    failure_reason = $3,
		    duration_seconds = COALESCE($4, duration_seconds),
		    cost_cents = COALESCE($5, cost_cents),
		    updated_at = NOW()
		WHERE provider_ref = $1 AND status = $6
	`

	result, err := r.db.Pool().Exec(ctx, query,
		providerRef, status, failureReason, durationSeconds, costCents, StatusInitiated)
	if err != nil {
		r.logger.Error("failed to mark attempt terminal",
			zap.Error(err),
			zap.String("provider_ref", providerRef),
			zap.String("status", status),
		)
		return false, fmt.Errorf("mark attempt terminal: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// MergeAttemptDuration records a connected duration on an already-terminal
// attempt when no duration was captured yet. Diagnostic enrichment only —
// status, reason, and cost are untouched.
func (r *Repository) MergeAttemptDuration(ctx context.Context, providerRef string, durationSeconds int) (bool, error) {
	query := `
		UPDATE delivery_attempts
		SET duration_seconds = $2, updated_at = NOW()
		WHERE provider_ref = $1 AND duration_seconds IS NULL
	`

	result, err := r.db.Pool().Exec(ctx, query, providerRef, durationSeconds)
	if err != nil {
		return false, fmt.Errorf("merge attempt duration: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// RecordProviderStatus stores an unrecognized provider status verbatim
// without forcing a terminal transition. Guarded the same way as the
// terminal CAS so intermediate noise can never overwrite a settled outcome.
func (r *Repository) RecordProviderStatus(ctx context.Context, providerRef, providerStatus string) error {
	query := `
		UPDATE delivery_attempts
		SET provider_status = $2, updated_at = NOW()
		WHERE provider_ref = $1 AND status = $3
	`

	_, err := r.db.Pool().Exec(ctx, query, providerRef, providerStatus, StatusInitiated)
	if err != nil {
		return fmt.Errorf("record provider status: %w", err)
	}

	return nil
}

// TouchAttempt bumps updated_at for a duplicate callback that changed nothing
func (r *Repository) TouchAttempt(ctx context.Context, providerRef string) error {
	query := `UPDATE delivery_attempts SET updated_at = NOW() WHERE provider_ref = $1`

	result, err := r.db.Pool().Exec(ctx, query, providerRef)
	if err != nil {
		return fmt.Errorf("touch attempt: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("delivery attempt not found: %s", providerRef)
	}

	return nil
}

// CreateAudioAsset stores a new audio asset
func (r *Repository) CreateAudioAsset(ctx context.Context, asset *AudioAsset) error {
	query := `
		INSERT INTO audio_assets (
			id, source, content_type, data, voice, tone, speed, language
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		asset.ID,
		asset.Source,
		asset.ContentType,
		asset.Data,
		asset.Voice,
		asset.Tone,
		asset.Speed,
		asset.Language,
	).Scan(&asset.CreatedAt)

	if err != nil {
		r.logger.Error("failed to create audio asset",
			zap.Error(err),
			zap.String("asset_id", asset.ID.String()),
		)
		return fmt.Errorf("insert audio asset: %w", err)
	}

	r.logger.Info("audio asset created",
		zap.String("asset_id", asset.ID.String()),
		zap.String("source", asset.Source),
		zap.Int("bytes", len(asset.Data)),
	)

	return nil
}

// GetAudioAsset retrieves an audio asset by ID
func (r *Repository) GetAudioAsset(ctx context.Context, id uuid.UUID) (*AudioAsset, error) {
	query := `
		SELECT id, source, content_type, data, voice, tone, speed, language, created_at
		FROM audio_assets
		WHERE id = $1
	`

	var asset AudioAsset
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&asset.ID,
		&asset.Source,
		&asset.ContentType,
		&asset.Data,
		&asset.Voice,
		&asset.Tone,
		&asset.Speed,
		&asset.Language,
		&asset.CreatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("audio asset not found: %s", id)
	}

	if err != nil {
		return nil, fmt.Errorf("query audio asset: %w", err)
	}

	return &asset, nil
}
