package derive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"testing"

	"github.com/webpmill/webpmill/internal/domain"
	"github.com/webpmill/webpmill/internal/storage"
	"github.com/webpmill/webpmill/internal/transcode"
)

func TestRunWritesAllDerivatives(t *testing.T) {
	store := newFakeStore()
	store.objects["media/a/b/photo.jpg"] = []byte("source")

	o := newTestOrchestrator(t, store, &fakeTranscoder{})

	report, err := o.Run(context.Background(), "media", "a/b/photo.jpg")
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if report.Skipped() {
		t.Fatalf("unexpected skip: %s", report.SkipReason)
	}

	wantKeys := []string{
		"a/b/photo.webp",
		"a/b/photo-480.webp",
		"a/b/photo-960.webp",
		"a/b/photo-1440.webp",
	}
	if len(report.Targets) != len(wantKeys) {
		t.Fatalf("expected %d targets, got %d", len(wantKeys), len(report.Targets))
	}
	for i, want := range wantKeys {
		target := report.Targets[i]
		if target.Key != want {
			t.Fatalf("target[%d] key = %q, want %q", i, target.Key, want)
		}
		if target.Status != domain.StatusWritten {
			t.Fatalf("target %s status = %q, want written", target.Key, target.Status)
		}
	}

	for _, want := range wantKeys {
		put, ok := store.put("media/" + want)
		if !ok {
			t.Fatalf("expected put for %s", want)
		}
		if put.contentType != transcode.MIMEType {
			t.Fatalf("content type = %q, want %q", put.contentType, transcode.MIMEType)
		}
		if put.cacheControl != CacheControl {
			t.Fatalf("cache control = %q, want %q", put.cacheControl, CacheControl)
		}
	}

	// 1920 exceeds the max-width policy and must never be attempted.
	if _, ok := store.put("media/a/b/photo-1920.webp"); ok {
		t.Fatal("width 1920 exceeds the cap and must not be produced")
	}
}

func TestRunSkipsExistingDerivatives(t *testing.T) {
	store := newFakeStore()
	store.objects["media/photo.jpg"] = []byte("source")
	store.objects["media/photo.webp"] = []byte("existing")
	store.objects["media/photo-480.webp"] = []byte("existing")
	store.objects["media/photo-960.webp"] = []byte("existing")
	store.objects["media/photo-1440.webp"] = []byte("existing")

	o := newTestOrchestrator(t, store, &fakeTranscoder{})

	report, err := o.Run(context.Background(), "media", "photo.jpg")
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if store.putCount() != 0 {
		t.Fatalf("expected zero puts, got %d", store.putCount())
	}
	if got := report.CountByStatus(domain.StatusSkippedExists); got != 4 {
		t.Fatalf("expected 4 skipped targets, got %d", got)
	}
}

func TestRunMissingSourceIsBenignSkip(t *testing.T) {
	store := newFakeStore()

	o := newTestOrchestrator(t, store, &fakeTranscoder{})

	report, err := o.Run(context.Background(), "media", "gone.jpg")
	if err != nil {
		t.Fatalf("missing source must not fail the invocation: %v", err)
	}
	if !report.Skipped() {
		t.Fatal("expected a benign skip report")
	}
	if store.putCount() != 0 {
		t.Fatalf("expected zero puts, got %d", store.putCount())
	}
}

func TestRunSourceFetchHardErrorIsFatal(t *testing.T) {
	store := newFakeStore()
	store.getErr = errors.New("connection reset")

	o := newTestOrchestrator(t, store, &fakeTranscoder{})

	if _, err := o.Run(context.Background(), "media", "photo.jpg"); err == nil {
		t.Fatal("expected fatal error on non-NotFound fetch failure")
	}
}

func TestRunNonImageSourceIsBenignSkip(t *testing.T) {
	store := newFakeStore()
	store.objects["media/report.pdf"] = []byte("%PDF-1.7")

	o := newTestOrchestrator(t, store, &fakeTranscoder{decodeErr: transcode.ErrUnsupportedImage})

	report, err := o.Run(context.Background(), "media", "report.pdf")
	if err != nil {
		t.Fatalf("non-image source must not fail the invocation: %v", err)
	}
	if !report.Skipped() {
		t.Fatal("expected a benign skip report")
	}
	if store.putCount() != 0 {
		t.Fatalf("expected zero puts, got %d", store.putCount())
	}
}

func TestRunCanonicalPutFailureIsFatalAndBlocksSizedWork(t *testing.T) {
	store := newFakeStore()
	store.objects["media/photo.jpg"] = []byte("source")
	store.failPuts["media/photo.webp"] = errors.New("write denied")

	o := newTestOrchestrator(t, store, &fakeTranscoder{})

	report, err := o.Run(context.Background(), "media", "photo.jpg")
	if err == nil {
		t.Fatal("expected fatal error on canonical put failure")
	}
	if store.putCount() != 0 {
		t.Fatalf("expected zero successful puts, got %d", store.putCount())
	}
	if attempts := store.attempts(); attempts != 1 {
		t.Fatalf("expected exactly the canonical put attempt, got %d", attempts)
	}
	if len(report.Targets) != 1 || report.Targets[0].Status != domain.StatusFailed {
		t.Fatalf("expected a single failed canonical target, got %+v", report.Targets)
	}
}

func TestRunSizedPutFailureDoesNotFailSiblingsOrInvocation(t *testing.T) {
	store := newFakeStore()
	store.objects["media/photo.jpg"] = []byte("source")
	store.failPuts["media/photo-960.webp"] = errors.New("write denied")

	o := newTestOrchestrator(t, store, &fakeTranscoder{})

	report, err := o.Run(context.Background(), "media", "photo.jpg")
	if err != nil {
		t.Fatalf("sized failure must not fail the invocation: %v", err)
	}

	byKey := make(map[string]domain.TargetResult, len(report.Targets))
	for _, target := range report.Targets {
		byKey[target.Key] = target
	}

	if byKey["photo-960.webp"].Status != domain.StatusFailed {
		t.Fatalf("expected photo-960.webp failed, got %q", byKey["photo-960.webp"].Status)
	}
	for _, key := range []string{"photo.webp", "photo-480.webp", "photo-1440.webp"} {
		if byKey[key].Status != domain.StatusWritten {
			t.Fatalf("expected %s written, got %q", key, byKey[key].Status)
		}
	}
}

func TestRunEmptyWidthLadderStopsAfterCanonical(t *testing.T) {
	store := newFakeStore()
	store.objects["media/photo.jpg"] = []byte("source")

	logger := log.New(io.Discard, "", 0)
	o, err := NewOrchestrator(logger, store, &fakeTranscoder{}, []int{1920}, 1440)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	report, err := o.Run(context.Background(), "media", "photo.jpg")
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if len(report.Targets) != 1 {
		t.Fatalf("expected canonical target only, got %d", len(report.Targets))
	}
	if store.putCount() != 1 {
		t.Fatalf("expected one put, got %d", store.putCount())
	}
}

func TestRunClonesRasterPerSizedTask(t *testing.T) {
	store := newFakeStore()
	store.objects["media/photo.jpg"] = []byte("source")

	tr := &fakeTranscoder{}
	o := newTestOrchestrator(t, store, tr)

	if _, err := o.Run(context.Background(), "media", "photo.jpg"); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	// One clone per sized task under the default 1440 cap.
	if got := tr.cloneCalls(); got != 3 {
		t.Fatalf("expected 3 raster clones, got %d", got)
	}
}

func newTestOrchestrator(t *testing.T, store ObjectStore, tr transcode.Transcoder) *Orchestrator {
	t.Helper()

	logger := log.New(io.Discard, "", 0)
	o, err := NewOrchestrator(logger, store, tr, nil, 0)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return o
}

type putRecord struct {
	data         []byte
	contentType  string
	cacheControl string
}

type fakeStore struct {
	mu          sync.Mutex
	objects     map[string][]byte
	puts        map[string]putRecord
	failPuts    map[string]error
	getErr      error
	putAttempts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects:  make(map[string][]byte),
		puts:     make(map[string]putRecord),
		failPuts: make(map[string]error),
	}
}

func (s *fakeStore) Get(_ context.Context, bucket, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.getErr != nil {
		return nil, s.getErr
	}
	data, ok := s.objects[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("get object %s/%s: %w", bucket, key, storage.ErrNotFound)
	}
	return data, nil
}

func (s *fakeStore) Exists(_ context.Context, bucket, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.objects[bucket+"/"+key]
	return ok, nil
}

func (s *fakeStore) Put(_ context.Context, bucket, key string, data []byte, contentType, cacheControl string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	full := bucket + "/" + key
	s.putAttempts++
	if err, ok := s.failPuts[full]; ok {
		return err
	}
	s.objects[full] = data
	s.puts[full] = putRecord{data: data, contentType: contentType, cacheControl: cacheControl}
	return nil
}

func (s *fakeStore) put(fullKey string) (putRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.puts[fullKey]
	return record, ok
}

func (s *fakeStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.puts)
}

func (s *fakeStore) attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putAttempts
}

type fakeTranscoder struct {
	decodeErr error
	encodeErr error

	mu     sync.Mutex
	clones int
}

type fakeRaster struct {
	tr     *fakeTranscoder
	width  int
	height int
}

func (r fakeRaster) Width() int  { return r.width }
func (r fakeRaster) Height() int { return r.height }

func (r fakeRaster) Clone() transcode.Raster {
	r.tr.mu.Lock()
	r.tr.clones++
	r.tr.mu.Unlock()
	return r
}

func (t *fakeTranscoder) Decode(data []byte) (transcode.Raster, error) {
	if t.decodeErr != nil {
		return nil, fmt.Errorf("%w: fake decode", t.decodeErr)
	}
	if len(data) == 0 {
		return nil, transcode.ErrUnsupportedImage
	}
	return fakeRaster{tr: t, width: 1920, height: 1080}, nil
}

func (t *fakeTranscoder) Resize(r transcode.Raster, targetWidth int) (transcode.Raster, error) {
	src := r.(fakeRaster)
	if targetWidth <= 0 {
		return src, nil
	}
	height := int(float64(src.height) * float64(targetWidth) / float64(src.width))
	return fakeRaster{tr: t, width: targetWidth, height: height}, nil
}

func (t *fakeTranscoder) Encode(r transcode.Raster) ([]byte, error) {
	if t.encodeErr != nil {
		return nil, t.encodeErr
	}
	raster := r.(fakeRaster)
	return []byte(strings.Repeat("w", 8) + fmt.Sprintf("%dx%d", raster.Width(), raster.Height())), nil
}

func (t *fakeTranscoder) cloneCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clones
}
