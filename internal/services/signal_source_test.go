package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"DROWSY_DETECTOR/go-backend/internal/models"
)

// fakeInference serves a canned per-frame answer, honoring the client's
// use_model flag the way the landmark service does.
func fakeInference(t *testing.T, resp inferenceResponse) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Frame    string `json:"frame"`
			UseModel bool   `json:"use_model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		out := resp
		out.ModelUsed = req.UseModel
		json.NewEncoder(w).Encode(out)
	}))
}

func TestComputeSignal_ModelMethodEitherEyeClosed(t *testing.T) {
	srv := fakeInference(t, inferenceResponse{
		Faces:           1,
		EAR:             0.3,
		LeftPrediction:  0.2,
		RightPrediction: 0.9,
	})
	defer srv.Close()

	source := NewHTTPSignalSource(srv.URL, 0.25, 0.7, true, zap.NewNop())
	sig, err := source.ComputeSignal(context.Background(), []byte("frame"))
	require.NoError(t, err)

	assert.Equal(t, models.MethodModel, sig.Method)
	assert.True(t, sig.Closed, "one eye under the model threshold counts as closed")
	assert.InDelta(t, 0.45, sig.Confidence, 1e-9)
	assert.Equal(t, 0.3, sig.Value)
}

func TestToggleEyeModel_SwitchesToEARMethod(t *testing.T) {
	srv := fakeInference(t, inferenceResponse{
		Faces:           1,
		EAR:             0.3,
		LeftPrediction:  0.2,
		RightPrediction: 0.9,
	})
	defer srv.Close()

	source := NewHTTPSignalSource(srv.URL, 0.25, 0.7, true, zap.NewNop())
	require.True(t, source.UseEyeModel())

	assert.False(t, source.ToggleEyeModel())
	assert.False(t, source.UseEyeModel())

	sig, err := source.ComputeSignal(context.Background(), []byte("frame"))
	require.NoError(t, err)
	assert.Equal(t, models.MethodEAR, sig.Method)
	assert.False(t, sig.Closed, "EAR 0.3 is above the 0.25 closed threshold")
	assert.InDelta(t, 0.8, sig.Confidence, 1e-9)

	assert.True(t, source.ToggleEyeModel(), "second toggle restores the model")
}

func TestComputeSignal_NoFace(t *testing.T) {
	srv := fakeInference(t, inferenceResponse{Faces: 0})
	defer srv.Close()

	source := NewHTTPSignalSource(srv.URL, 0.25, 0.7, true, zap.NewNop())
	sig, err := source.ComputeSignal(context.Background(), []byte("frame"))
	require.NoError(t, err)
	assert.Zero(t, sig.FacesPresent)
}

func TestComputeSignal_ServiceFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	source := NewHTTPSignalSource(srv.URL, 0.25, 0.7, true, zap.NewNop())
	_, err := source.ComputeSignal(context.Background(), []byte("frame"))
	assert.Error(t, err)
}
