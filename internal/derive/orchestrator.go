// Package derive orchestrates derivative production for one source
// object: fetch, validate, canonical WebP, then concurrent sized WebP
// targets with per-target outcome isolation.
package derive

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/webpmill/webpmill/internal/domain"
	"github.com/webpmill/webpmill/internal/keys"
	"github.com/webpmill/webpmill/internal/storage"
	"github.com/webpmill/webpmill/internal/transcode"
)

// CacheControl is set on every derivative; keys are deterministic and
// content is derived from the source, so derivatives are immutable.
const CacheControl = "public, max-age=31536000, immutable"

// ObjectStore is the storage contract the orchestrator depends on.
// Exists must report a missing key as (false, nil), and Get must wrap
// storage.ErrNotFound for a missing source.
type ObjectStore interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Exists(ctx context.Context, bucket, key string) (bool, error)
	Put(ctx context.Context, bucket, key string, data []byte, contentType, cacheControl string) error
}

type Orchestrator struct {
	logger     *log.Logger
	store      ObjectStore
	transcoder transcode.Transcoder
	widths     []int
	maxWidth   int
}

func NewOrchestrator(logger *log.Logger, store ObjectStore, transcoder transcode.Transcoder, widths []int, maxWidth int) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("object store is required")
	}
	if transcoder == nil {
		return nil, errors.New("transcoder is required")
	}
	if len(widths) == 0 {
		widths = domain.DefaultTargetWidths
	}
	if maxWidth <= 0 {
		maxWidth = domain.DefaultMaxWidth
	}

	return &Orchestrator{
		logger:     logger,
		store:      store,
		transcoder: transcoder,
		widths:     widths,
		maxWidth:   maxWidth,
	}, nil
}

// Run produces the canonical and sized derivatives for one object.
//
// A missing or undecodable source ends the invocation as a benign skip
// with a nil error. A canonical-derivative failure is fatal and
// returns before any sized work starts. Sized targets run
// concurrently; one target's failure is recorded in its result and
// never fails siblings or the invocation. Only a panic inside a sized
// task escalates past the join.
func (o *Orchestrator) Run(ctx context.Context, bucket, key string) (domain.Report, error) {
	report := domain.Report{Bucket: bucket, Key: key}

	data, err := o.store.Get(ctx, bucket, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			o.logger.Printf("source object missing, skipping bucket=%s key=%s", bucket, key)
			report.SkipReason = "source object missing"
			return report, nil
		}
		return report, fmt.Errorf("fetch source object: %w", err)
	}

	raster, err := o.transcoder.Decode(data)
	if err != nil {
		o.logger.Printf("skipping non-image object bucket=%s key=%s err=%v", bucket, key, err)
		report.SkipReason = "source is not a decodable image"
		return report, nil
	}

	canonicalKey := keys.DeriveKey(key, 0)
	if canonicalKey == "" {
		o.logger.Printf("empty derivative key, skipping bucket=%s key=%s", bucket, key)
		report.SkipReason = "empty derivative key"
		return report, nil
	}

	// The canonical derivative is load-bearing for downstream
	// consumers: any failure here aborts before fan-out.
	canonical, err := o.produceTarget(ctx, bucket, key, raster, 0)
	report.Targets = append(report.Targets, canonical)
	if err != nil {
		return report, fmt.Errorf("canonical derivative %s: %w", canonical.Key, err)
	}

	widths := domain.FilterWidths(o.widths, o.maxWidth)
	if len(widths) == 0 {
		return report, nil
	}

	results := make([]domain.TargetResult, len(widths))
	panics := make([]error, len(widths))

	var wg sync.WaitGroup
	for i, width := range widths {
		wg.Add(1)
		go func(i, width int) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					panics[i] = fmt.Errorf("derivative task panic width=%d: %v", width, r)
				}
			}()

			snapshot := raster.Clone()
			result, err := o.produceTarget(ctx, bucket, key, snapshot, width)
			if err != nil {
				o.logger.Printf("sized derivative failed bucket=%s key=%s width=%d err=%v", bucket, result.Key, width, err)
			}
			results[i] = result
		}(i, width)
	}
	wg.Wait()

	report.Targets = append(report.Targets, results...)

	// A panic is a malfunction of the fan-out itself, not of one
	// derivative; it is the only sized-task condition that escalates.
	for _, p := range panics {
		if p != nil {
			return report, p
		}
	}

	return report, nil
}

// produceTarget derives the target key and runs exists -> resize ->
// encode -> put for one target. Width 0 is the canonical derivative.
// Existence is authoritative: an existing derivative is never
// recomputed or overwritten.
func (o *Orchestrator) produceTarget(ctx context.Context, bucket, sourceKey string, raster transcode.Raster, width int) (domain.TargetResult, error) {
	result := domain.TargetResult{
		Key:   keys.DeriveKey(sourceKey, width),
		Width: width,
	}

	exists, err := o.store.Exists(ctx, bucket, result.Key)
	if err != nil {
		result.Status = domain.StatusFailed
		result.Error = err.Error()
		return result, fmt.Errorf("existence check: %w", err)
	}
	if exists {
		result.Status = domain.StatusSkippedExists
		return result, nil
	}

	resized, err := o.transcoder.Resize(raster, width)
	if err != nil {
		result.Status = domain.StatusFailed
		result.Error = err.Error()
		return result, fmt.Errorf("resize: %w", err)
	}

	encoded, err := o.transcoder.Encode(resized)
	if err != nil {
		result.Status = domain.StatusFailed
		result.Error = err.Error()
		return result, fmt.Errorf("encode: %w", err)
	}

	if err := o.store.Put(ctx, bucket, result.Key, encoded, transcode.MIMEType, CacheControl); err != nil {
		result.Status = domain.StatusFailed
		result.Error = err.Error()
		return result, fmt.Errorf("store derivative: %w", err)
	}

	result.Status = domain.StatusWritten
	result.Bytes = len(encoded)
	o.logger.Printf("derivative written bucket=%s key=%s width=%d bytes=%d", bucket, result.Key, width, len(encoded))
	return result, nil
}
