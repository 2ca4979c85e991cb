// Package telephony places outbound voicemail-drop calls through Twilio.
package telephony

import (
	"context"
	"errors"
	"fmt"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"
	"go.uber.org/zap"
)

// ErrProviderRejected indicates the provider refused the call at submission.
// No delivery attempt record exists for a rejected call — there will never be
// a status callback for it.
var ErrProviderRejected = errors.New("provider rejected call")

// Audio source modes. ModePlay plays a stored asset by URL; ModeSay reads the
// script in-call with the provider's voice. Selection is configuration, not a
// per-attempt decision.
const (
	ModePlay = "play"
	ModeSay  = "say"
)

// Message is the payload for one drop: either script text or an asset URL,
// depending on the configured mode.
type Message struct {
	Text     string
	AssetURL string
}

// callCreator is the one provider call the executor needs; tests stub it.
type callCreator interface {
	CreateCall(params *openapi.CreateCallParams) (*openapi.ApiV2010Call, error)
}

// Config holds executor tuning.
type Config struct {
	AccountSID  string
	AuthToken   string
	FromNumber  string
	CallbackURL string // status callback endpoint posted by the provider
	Mode        string // ModePlay or ModeSay

	// RingTimeoutSeconds bounds how long the call may ring. Kept short: the
	// intent is to land in voicemail, not to sustain a live conversation.
	RingTimeoutSeconds int
}

// Executor places one outbound attempt per recipient, tuned by AMD to act
// only once the voicemail greeting has ended.
type Executor struct {
	creator callCreator
	config  Config
	logger  *zap.Logger
}

// NewExecutor creates an executor backed by the Twilio REST API.
func NewExecutor(cfg Config, logger *zap.Logger) *Executor {
	if cfg.Mode == "" {
		cfg.Mode = ModePlay
	}
	if cfg.RingTimeoutSeconds == 0 {
		cfg.RingTimeoutSeconds = 15
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})

	return &Executor{
		creator: client.Api,
		config:  cfg,
		logger:  logger,
	}
}

// Execute places one outbound attempt and returns the provider-assigned
// reference. The delivery outcome is never known here — only a later status
// callback settles it. A synchronous provider error maps to
// ErrProviderRejected and must not be counted among callback-expecting
// attempts.
func (e *Executor) Execute(ctx context.Context, phoneNumber string, msg Message) (string, error) {
	normalized, err := NormalizePhoneNumber(phoneNumber)
	if err != nil {
		return "", err
	}

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("execute attempt: %w", err)
	}

	voiceXML, err := e.buildTwiML(msg)
	if err != nil {
		return "", fmt.Errorf("build twiml: %w", err)
	}

	params := &openapi.CreateCallParams{}
	params.SetTo(normalized)
	params.SetFrom(e.config.FromNumber)
	params.SetTwiml(voiceXML)
	params.SetTimeout(e.config.RingTimeoutSeconds)

	// Wait through the greeting and only act once the beep or greeting end is
	// inferred. Thresholds in milliseconds.
	params.SetMachineDetection("DetectMessageEnd")
	params.SetMachineDetectionTimeout(30)
	params.SetMachineDetectionSpeechThreshold(2400)
	params.SetMachineDetectionSpeechEndThreshold(1200)
	params.SetMachineDetectionSilenceTimeout(5000)

	if e.config.CallbackURL != "" {
		params.SetStatusCallback(e.config.CallbackURL)
		params.SetStatusCallbackMethod("POST")
		params.SetStatusCallbackEvent([]string{"completed"})
	}

	call, err := e.creator.CreateCall(params)
	if err != nil {
		e.logger.Warn("provider rejected call",
			zap.Error(err),
			zap.String("phone_number", normalized),
		)
		return "", fmt.Errorf("%w: %v", ErrProviderRejected, err)
	}

	if call.Sid == nil || *call.Sid == "" {
		return "", fmt.Errorf("%w: provider returned no call sid", ErrProviderRejected)
	}

	e.logger.Info("call submitted",
		zap.String("provider_ref", *call.Sid),
		zap.String("phone_number", normalized),
		zap.String("mode", e.config.Mode),
	)

	return *call.Sid, nil
}

func (e *Executor) buildTwiML(msg Message) (string, error) {
	// The leading pause lets AMD settle before playback starts.
	verbs := []twiml.Element{&twiml.VoicePause{Length: "1"}}

	switch e.config.Mode {
	case ModeSay:
		if msg.Text == "" {
			return "", fmt.Errorf("say mode requires message text")
		}
		verbs = append(verbs, &twiml.VoiceSay{Message: msg.Text})
	default:
		if msg.AssetURL == "" {
			return "", fmt.Errorf("play mode requires an audio asset url")
		}
		verbs = append(verbs, &twiml.VoicePlay{Url: msg.AssetURL})
	}

	verbs = append(verbs, &twiml.VoiceHangup{})
	return twiml.Voice(verbs)
}
