// Package audio turns a text script or an uploaded recording into a playable
// audio asset the telephony provider can fetch by URL.
package audio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voxdrop/voxdrop/internal/db"
)

// ErrSynthesisFailed indicates the TTS capability could not produce audio.
// Retryable by resubmission; never auto-retried here.
var ErrSynthesisFailed = errors.New("speech synthesis failed")

// ErrRecordingUnavailable indicates an uploaded asset could not be resolved
// to playable audio within the bounded wait.
var ErrRecordingUnavailable = errors.New("recording unavailable")

// VoiceParams controls synthesized speech.
type VoiceParams struct {
	Voice    string  `json:"voice"`
	Tone     string  `json:"tone,omitempty"`
	Speed    float64 `json:"speed,omitempty"`
	Language string  `json:"language,omitempty"`
}

// Synthesizer is the slice of the TTS client the producer needs.
type Synthesizer interface {
	Speech(ctx context.Context, req SpeechRequest) ([]byte, error)
}

// Store is the slice of the repository the producer needs.
type Store interface {
	CreateAudioAsset(ctx context.Context, asset *db.AudioAsset) error
	GetAudioAsset(ctx context.Context, id uuid.UUID) (*db.AudioAsset, error)
}

// Producer creates audio assets. Persistence is limited to the asset row —
// delivery attempts reference assets by ID, never own them.
type Producer struct {
	tts    Synthesizer // nil when synthesis is not configured
	store  Store
	logger *zap.Logger

	// Bounded readiness wait for uploaded recordings.
	UploadWaitTimeout time.Duration
	PollInterval      time.Duration
}

// NewProducer creates an audio asset producer. tts may be nil when only
// uploaded recordings are used.
func NewProducer(tts Synthesizer, store Store, logger *zap.Logger) *Producer {
	return &Producer{
		tts:               tts,
		store:             store,
		logger:            logger,
		UploadWaitTimeout: 10 * time.Second,
		PollInterval:      250 * time.Millisecond,
	}
}

// Synthesize produces an audio asset from a text script.
func (p *Producer) Synthesize(ctx context.Context, script string, params VoiceParams) (*db.AudioAsset, error) {
	if p.tts == nil {
		return nil, fmt.Errorf("%w: synthesis not configured", ErrSynthesisFailed)
	}
	if script == "" {
		return nil, fmt.Errorf("%w: empty script", ErrSynthesisFailed)
	}

	voice := params.Voice
	if voice == "" {
		voice = "alloy"
	}

	req := SpeechRequest{
		Input: script,
		Voice: voice,
		Speed: params.Speed,
	}
	if params.Tone != "" || params.Language != "" {
		req.Instructions = synthesisInstructions(params)
	}

	data, err := p.tts.Speech(ctx, req)
	if err != nil {
		p.logger.Warn("speech synthesis failed",
			zap.Error(err),
			zap.String("voice", voice),
		)
		return nil, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}

	asset := &db.AudioAsset{
		ID:          uuid.New(),
		Source:      db.AudioSourceSynthesized,
		ContentType: "audio/mpeg",
		Data:        data,
	}
	if params.Voice != "" {
		asset.Voice = &params.Voice
	}
	if params.Tone != "" {
		asset.Tone = &params.Tone
	}
	if params.Speed != 0 {
		asset.Speed = &params.Speed
	}
	if params.Language != "" {
		asset.Language = &params.Language
	}

	if err := p.store.CreateAudioAsset(ctx, asset); err != nil {
		return nil, fmt.Errorf("store synthesized asset: %w", err)
	}

	return asset, nil
}

// StoreUpload persists an uploaded recording as an asset. The 30 second
// ceiling is enforced upstream and not re-validated here.
func (p *Producer) StoreUpload(ctx context.Context, contentType string, data []byte) (*db.AudioAsset, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", ErrRecordingUnavailable)
	}
	if contentType == "" {
		contentType = "audio/mpeg"
	}

	asset := &db.AudioAsset{
		ID:          uuid.New(),
		Source:      db.AudioSourceUploaded,
		ContentType: contentType,
		Data:        data,
	}

	if err := p.store.CreateAudioAsset(ctx, asset); err != nil {
		return nil, fmt.Errorf("store uploaded asset: %w", err)
	}

	return asset, nil
}

// ResolveUpload waits, with a bounded timeout, until an uploaded asset is
// present and playable. Uploads land asynchronously relative to campaign
// submission, so a just-submitted campaign may reference an asset whose row
// has not committed yet.
func (p *Producer) ResolveUpload(ctx context.Context, id uuid.UUID) (*db.AudioAsset, error) {
	ctx, cancel := context.WithTimeout(ctx, p.UploadWaitTimeout)
	defer cancel()

	ticker := time.NewTicker(p.PollInterval)
	defer ticker.Stop()

	for {
		asset, err := p.store.GetAudioAsset(ctx, id)
		if err == nil && len(asset.Data) > 0 {
			return asset, nil
		}

		select {
		case <-ctx.Done():
			p.logger.Warn("uploaded recording never became available",
				zap.String("asset_id", id.String()),
			)
			return nil, fmt.Errorf("%w: asset %s", ErrRecordingUnavailable, id)
		case <-ticker.C:
		}
	}
}

func synthesisInstructions(params VoiceParams) string {
	switch {
	case params.Tone != "" && params.Language != "":
		return fmt.Sprintf("Speak in a %s tone, in %s.", params.Tone, params.Language)
	case params.Tone != "":
		return fmt.Sprintf("Speak in a %s tone.", params.Tone)
	default:
		return fmt.Sprintf("Speak in %s.", params.Language)
	}
}
