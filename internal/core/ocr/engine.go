package ocr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Engine reads one plate crop per call. It keeps no per-call state, so a single
// Engine serves concurrent callers.
type Engine struct {
	cfg       Config
	client    VisionClient
	artifacts ArtifactStore
	policy    RetryPolicy
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewEngine wires a vision client and an optional artifact store. Without a
// store every call goes inline.
func NewEngine(cfg Config, client VisionClient, artifacts ArtifactStore) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:       cfg,
		client:    client,
		artifacts: artifacts,
		policy: RetryPolicy{
			MaxRetries:   cfg.MaxRetries,
			InitialDelay: cfg.InitialDelay,
		},
		sleep: sleepContext,
	}
}

// Model is the model identifier sent with every request.
func (e *Engine) Model() string {
	return e.cfg.Model
}

// ClientName is the vision backend in use.
func (e *Engine) ClientName() string {
	return e.client.Name()
}

// ReadPlate never fails: errors end up in Result.Error with zero confidence.
// In reference mode a crop that cannot be stored or referenced, including one
// without a detection id or filename, is sent inline with Fallback set.
func (e *Engine) ReadPlate(ctx context.Context, req Request) *Result {
	start := time.Now()

	if !e.cfg.UseReferenceMode || e.artifacts == nil {
		return e.readInline(ctx, req, start)
	}

	if req.HasIdentifiers() {
		if res := e.readByReference(ctx, req, start); res != nil {
			return res
		}
	} else {
		log.Warn().Int("detection_id", req.DetectionID).Msg("⚠️ Missing detection id or filename for reference mode")
	}

	log.Info().Int("detection_id", req.DetectionID).Msg("🔄 Falling back to base64 mode...")
	res := e.readInline(ctx, req, start)
	res.Fallback = true
	return res
}

// readByReference returns nil when the caller should retry inline.
func (e *Engine) readByReference(ctx context.Context, req Request, start time.Time) *Result {
	ref, err := e.artifacts.Store(ctx, req)
	if err != nil {
		log.Warn().Err(err).Int("detection_id", req.DetectionID).Msg("⚠️ Could not store plate crop for reference mode")
		return nil
	}

	text, attempts, err := e.run(ctx, BuildPrompt(req.LanguageHint), VisionImage{Reference: ref, MIMEType: ref.MIMEType})
	if errors.Is(err, ErrReferenceUnusable) {
		log.Warn().Err(err).Int("detection_id", req.DetectionID).Msg("⚠️ Reference mode rejected")
		return nil
	}

	res := e.finish(text, attempts, err, ModeReference, start)
	res.ImagePath = ref.Location()
	return res
}

func (e *Engine) readInline(ctx context.Context, req Request, start time.Time) *Result {
	mimeType := http.DetectContentType(req.Image)
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = "image/jpeg"
	}
	text, attempts, err := e.run(ctx, BuildPrompt(req.LanguageHint), VisionImage{Data: req.Image, MIMEType: mimeType})
	return e.finish(text, attempts, err, ModeInline, start)
}

// run drives the retry state machine for one payload. attempts is the number
// of API calls actually made.
func (e *Engine) run(ctx context.Context, prompt string, img VisionImage) (text string, attempts int, err error) {
	vreq := VisionRequest{
		Model:       e.cfg.Model,
		Prompt:      prompt,
		Temperature: e.cfg.Temperature,
		Image:       img,
	}

	for attempt := 0; ; attempt++ {
		text, err = e.callOnce(ctx, vreq)
		attempts = attempt + 1
		if errors.Is(err, ErrReferenceUnusable) {
			return "", attempts, err
		}

		decision := e.policy.Next(attempt, err)
		switch decision.Action {
		case ActionDone:
			log.Debug().Int("attempt", attempts).Msg("✅ Vision API success")
			return text, attempts, nil
		case ActionExhausted:
			log.Error().Err(err).Int("attempts", attempts).Msg("❌ All retries failed")
			return "", attempts, err
		}

		log.Warn().Err(err).
			Int("attempt", attempts).
			Int("max_retries", e.cfg.MaxRetries).
			Msg("⚠️ Vision API attempt failed")

		if decision.Overload {
			log.Info().Dur("wait", decision.Delay).Msg("⏳ API overloaded, backing off")
		} else {
			log.Info().Dur("wait", decision.Delay).Msg("⏳ Waiting before retry")
		}

		if sleepErr := e.sleep(ctx, decision.Delay); sleepErr != nil {
			return "", attempts, fmt.Errorf("retry aborted: %w (last error: %v)", sleepErr, err)
		}
	}
}

func (e *Engine) callOnce(ctx context.Context, vreq VisionRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	return e.client.GenerateContent(callCtx, vreq)
}

func (e *Engine) finish(text string, attempts int, err error, mode Mode, start time.Time) *Result {
	res := &Result{
		Attempts: attempts,
		Mode:     mode,
		Model:    e.cfg.Model,
	}

	if err != nil {
		res.Error = err.Error()
		res.ProcessingTime = time.Since(start).Seconds()
		return res
	}

	if strings.TrimSpace(text) == "" {
		log.Warn().Msg("⚠️ Vision API returned empty text")
	}

	fields := ParseResponse(text)
	res.LicensePlateNumber = fields.LicensePlateNumber
	res.Province = fields.Province
	res.Confidence = EstimateConfidence(fields)
	res.RawResponse = text
	res.ProcessingTime = time.Since(start).Seconds()
	return res
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
