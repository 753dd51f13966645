package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"DROWSY_DETECTOR/go-backend/internal/models"
)

// SignalSource turns one camera frame into a drowsiness signal. It owns the
// closed/open decision; the debounce engine only consumes the result.
type SignalSource interface {
	ComputeSignal(ctx context.Context, frame []byte) (models.Signal, error)
}

// inferenceResponse is the landmark service's per-frame answer. EAR is always
// reported when a face is found; the per-eye predictions are only present
// when the eye state model ran.
type inferenceResponse struct {
	Faces           int     `json:"faces"`
	EAR             float64 `json:"ear"`
	LeftPrediction  float64 `json:"left_prediction"`
	RightPrediction float64 `json:"right_prediction"`
	ModelUsed       bool    `json:"model_used"`
	Error           string  `json:"error,omitempty"`
}

// HTTPSignalSource calls the Python landmark/eye-state service and applies
// the per-method closed thresholds to its raw output. One instance is shared
// by every connected stream; the eye-model preference can be flipped at
// runtime and is read atomically once per frame.
type HTTPSignalSource struct {
	client         *resty.Client
	earThreshold   float64
	modelThreshold float64
	useEyeModel    atomic.Bool
	logger         *zap.Logger
}

func NewHTTPSignalSource(baseURL string, earThreshold, modelThreshold float64, useEyeModel bool, logger *zap.Logger) *HTTPSignalSource {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5 * time.Second).
		SetRetryCount(1)

	s := &HTTPSignalSource{
		client:         client,
		earThreshold:   earThreshold,
		modelThreshold: modelThreshold,
		logger:         logger,
	}
	s.useEyeModel.Store(useEyeModel)
	return s
}

// UseEyeModel reports whether the eye state model is currently preferred over
// the EAR fallback.
func (s *HTTPSignalSource) UseEyeModel() bool {
	return s.useEyeModel.Load()
}

// ToggleEyeModel flips the preferred detection method and returns the new
// setting. Frames already in flight keep the method they started with.
func (s *HTTPSignalSource) ToggleEyeModel() bool {
	for {
		old := s.useEyeModel.Load()
		if s.useEyeModel.CompareAndSwap(old, !old) {
			s.logger.Info("detection method toggled", zap.Bool("use_eye_model", !old))
			return !old
		}
	}
}

func (s *HTTPSignalSource) ComputeSignal(ctx context.Context, frame []byte) (models.Signal, error) {
	useModel := s.useEyeModel.Load()

	var result inferenceResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"frame":     base64.StdEncoding.EncodeToString(frame),
			"use_model": useModel,
		}).
		SetResult(&result).
		Post("/detect")
	if err != nil {
		return models.Signal{}, fmt.Errorf("inference request failed: %w", err)
	}
	if resp.IsError() {
		return models.Signal{}, fmt.Errorf("inference service returned %s", resp.Status())
	}
	if result.Error != "" {
		return models.Signal{}, fmt.Errorf("inference service error: %s", result.Error)
	}

	if result.Faces == 0 {
		return models.Signal{FacesPresent: 0}, nil
	}

	sig := models.Signal{
		FacesPresent: result.Faces,
		Value:        result.EAR,
	}

	if useModel && result.ModelUsed {
		// Either eye below the model threshold counts as closed.
		sig.Method = models.MethodModel
		sig.Closed = result.LeftPrediction < s.modelThreshold || result.RightPrediction < s.modelThreshold
		avg := (result.LeftPrediction + result.RightPrediction) / 2.0
		if sig.Closed {
			sig.Confidence = clamp01(1.0 - avg)
		} else {
			sig.Confidence = clamp01(avg)
		}
	} else {
		sig.Method = models.MethodEAR
		sig.Closed = result.EAR < s.earThreshold
		if sig.Closed {
			sig.Confidence = clamp01(1.0 - result.EAR/s.earThreshold)
		} else {
			sig.Confidence = clamp01(result.EAR / (s.earThreshold * 1.5))
		}
	}

	return sig, nil
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
