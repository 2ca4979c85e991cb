package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voxdrop/voxdrop/internal/db"
)

var errAssetNotFound = errors.New("audio asset not found")

type fakeSynthesizer struct {
	lastReq SpeechRequest
	data    []byte
	err     error
}

func (f *fakeSynthesizer) Speech(ctx context.Context, req SpeechRequest) ([]byte, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

type fakeStore struct {
	mu     sync.Mutex
	assets map[uuid.UUID]*db.AudioAsset
	failErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{assets: make(map[uuid.UUID]*db.AudioAsset)}
}

func (f *fakeStore) CreateAudioAsset(ctx context.Context, asset *db.AudioAsset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.assets[asset.ID] = asset
	return nil
}

func (f *fakeStore) GetAudioAsset(ctx context.Context, id uuid.UUID) (*db.AudioAsset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	asset, ok := f.assets[id]
	if !ok {
		return nil, errAssetNotFound
	}
	return asset, nil
}

func TestSynthesize(t *testing.T) {
	tts := &fakeSynthesizer{data: []byte("mp3-bytes")}
	store := newFakeStore()
	p := NewProducer(tts, store, zap.NewNop())

	asset, err := p.Synthesize(context.Background(), "Your package has arrived.", VoiceParams{
		Voice: "nova",
		Tone:  "friendly",
		Speed: 1.1,
	})
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}

	if asset.Source != db.AudioSourceSynthesized {
		t.Errorf("source = %s, want synthesized", asset.Source)
	}
	if asset.ContentType != "audio/mpeg" {
		t.Errorf("content type = %s, want audio/mpeg", asset.ContentType)
	}
	if string(asset.Data) != "mp3-bytes" {
		t.Errorf("data = %q, want synthesized bytes", asset.Data)
	}
	if asset.Voice == nil || *asset.Voice != "nova" {
		t.Errorf("voice = %v, want nova", asset.Voice)
	}

	if tts.lastReq.Voice != "nova" {
		t.Errorf("request voice = %s, want nova", tts.lastReq.Voice)
	}
	if tts.lastReq.Instructions != "Speak in a friendly tone." {
		t.Errorf("instructions = %q", tts.lastReq.Instructions)
	}

	// The asset must be persisted, not just returned.
	if _, err := store.GetAudioAsset(context.Background(), asset.ID); err != nil {
		t.Errorf("asset not persisted: %v", err)
	}
}

func TestSynthesizeDefaultVoice(t *testing.T) {
	tts := &fakeSynthesizer{data: []byte("x")}
	p := NewProducer(tts, newFakeStore(), zap.NewNop())

	asset, err := p.Synthesize(context.Background(), "hello", VoiceParams{})
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}

	if tts.lastReq.Voice != "alloy" {
		t.Errorf("request voice = %s, want default alloy", tts.lastReq.Voice)
	}
	// The default is not recorded as an explicit choice.
	if asset.Voice != nil {
		t.Errorf("asset voice = %v, want nil for default", *asset.Voice)
	}
}

func TestSynthesizeFailure(t *testing.T) {
	tts := &fakeSynthesizer{err: errors.New("429 rate limited")}
	p := NewProducer(tts, newFakeStore(), zap.NewNop())

	_, err := p.Synthesize(context.Background(), "hello", VoiceParams{})
	if !errors.Is(err, ErrSynthesisFailed) {
		t.Fatalf("error = %v, want ErrSynthesisFailed", err)
	}
}

func TestSynthesizeNotConfigured(t *testing.T) {
	p := NewProducer(nil, newFakeStore(), zap.NewNop())

	_, err := p.Synthesize(context.Background(), "hello", VoiceParams{})
	if !errors.Is(err, ErrSynthesisFailed) {
		t.Fatalf("error = %v, want ErrSynthesisFailed", err)
	}
}

func TestStoreUpload(t *testing.T) {
	store := newFakeStore()
	p := NewProducer(nil, store, zap.NewNop())

	asset, err := p.StoreUpload(context.Background(), "audio/wav", []byte("wav-bytes"))
	if err != nil {
		t.Fatalf("StoreUpload failed: %v", err)
	}

	if asset.Source != db.AudioSourceUploaded {
		t.Errorf("source = %s, want uploaded", asset.Source)
	}
	if asset.ContentType != "audio/wav" {
		t.Errorf("content type = %s, want audio/wav", asset.ContentType)
	}
}

func TestStoreUploadEmpty(t *testing.T) {
	p := NewProducer(nil, newFakeStore(), zap.NewNop())

	_, err := p.StoreUpload(context.Background(), "audio/wav", nil)
	if !errors.Is(err, ErrRecordingUnavailable) {
		t.Fatalf("error = %v, want ErrRecordingUnavailable", err)
	}
}

func TestResolveUploadImmediate(t *testing.T) {
	store := newFakeStore()
	p := NewProducer(nil, store, zap.NewNop())

	asset, err := p.StoreUpload(context.Background(), "audio/mpeg", []byte("ready"))
	if err != nil {
		t.Fatalf("StoreUpload failed: %v", err)
	}

	got, err := p.ResolveUpload(context.Background(), asset.ID)
	if err != nil {
		t.Fatalf("ResolveUpload failed: %v", err)
	}
	if got.ID != asset.ID {
		t.Errorf("resolved wrong asset: %s", got.ID)
	}
}

func TestResolveUploadWaitsForLateAsset(t *testing.T) {
	store := newFakeStore()
	p := NewProducer(nil, store, zap.NewNop())
	p.UploadWaitTimeout = 500 * time.Millisecond
	p.PollInterval = 10 * time.Millisecond

	id := uuid.New()

	// Asset lands after the first few polls.
	go func() {
		time.Sleep(50 * time.Millisecond)
		store.mu.Lock()
		store.assets[id] = &db.AudioAsset{ID: id, Source: db.AudioSourceUploaded, Data: []byte("late")}
		store.mu.Unlock()
	}()

	got, err := p.ResolveUpload(context.Background(), id)
	if err != nil {
		t.Fatalf("ResolveUpload failed: %v", err)
	}
	if string(got.Data) != "late" {
		t.Errorf("data = %q, want late upload", got.Data)
	}
}

func TestResolveUploadTimesOut(t *testing.T) {
	store := newFakeStore()
	p := NewProducer(nil, store, zap.NewNop())
	p.UploadWaitTimeout = 50 * time.Millisecond
	p.PollInterval = 10 * time.Millisecond

	start := time.Now()
	_, err := p.ResolveUpload(context.Background(), uuid.New())
	elapsed := time.Since(start)

	if !errors.Is(err, ErrRecordingUnavailable) {
		t.Fatalf("error = %v, want ErrRecordingUnavailable", err)
	}
	if elapsed > time.Second {
		t.Errorf("waited %s, wait is not bounded", elapsed)
	}
}

func TestSynthesisInstructions(t *testing.T) {
	tests := []struct {
		name     string
		params   VoiceParams
		expected string
	}{
		{
			name:     "tone only",
			params:   VoiceParams{Tone: "urgent"},
			expected: "Speak in a urgent tone.",
		},
		{
			name:     "language only",
			params:   VoiceParams{Language: "Spanish"},
			expected: "Speak in Spanish.",
		},
		{
			name:     "tone and language",
			params:   VoiceParams{Tone: "calm", Language: "French"},
			expected: "Speak in a calm tone, in French.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := synthesisInstructions(tt.params); got != tt.expected {
				t.Errorf("synthesisInstructions(%+v) = %q, want %q", tt.params, got, tt.expected)
			}
		})
	}
}
