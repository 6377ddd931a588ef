package detector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veristamp/veristamp/internal/model"
)

func TestVerdictValidate(t *testing.T) {
	base := func() *Verdict {
		return &Verdict{IsAuthentic: true, ConfidenceScore: 90}
	}

	t.Run("valid", func(t *testing.T) {
		require.NoError(t, base().Validate(model.MediaImage, model.ModeFull))
	})

	t.Run("score out of range", func(t *testing.T) {
		v := base()
		v.ConfidenceScore = 101
		require.Error(t, v.Validate(model.MediaImage, model.ModeFull))
	})

	t.Run("authentic with manipulation types", func(t *testing.T) {
		v := base()
		v.ManipulationTypes = []string{"face_swap"}
		require.Error(t, v.Validate(model.MediaImage, model.ModeFull))
	})

	t.Run("manipulated without manipulation types", func(t *testing.T) {
		v := &Verdict{IsAuthentic: false, ConfidenceScore: 80}
		require.Error(t, v.Validate(model.MediaImage, model.ModeFull))
	})

	t.Run("audio finding in visual only mode", func(t *testing.T) {
		v := &Verdict{
			IsAuthentic:       false,
			ConfidenceScore:   80,
			ManipulationTypes: []string{"voice_clone"},
			Findings: []Finding{{
				Kind:       model.IndicatorAudioInconsistency,
				Category:   "voice",
				Severity:   model.SeverityHigh,
				Confidence: 85,
			}},
		}
		require.Error(t, v.Validate(model.MediaVideo, model.ModeVisualOnly))
		require.NoError(t, v.Validate(model.MediaVideo, model.ModeFull))
	})

	t.Run("temporal anomaly only on video", func(t *testing.T) {
		v := &Verdict{
			IsAuthentic:       false,
			ConfidenceScore:   80,
			ManipulationTypes: []string{"synthetic_generation"},
			Findings: []Finding{{
				Kind:       model.IndicatorTemporalAnomaly,
				Severity:   model.SeverityCritical,
				Confidence: 92,
			}},
		}
		require.Error(t, v.Validate(model.MediaImage, model.ModeFull))
		require.NoError(t, v.Validate(model.MediaVideo, model.ModeFull))
	})
}

func TestSimulatedHonorsContract(t *testing.T) {
	media := []model.MediaType{model.MediaImage, model.MediaVideo, model.MediaAudio}
	modes := []model.AnalysisMode{model.ModeFull, model.ModeVisualOnly, model.ModeAudioOnly, model.ModeMetadataOnly}

	det := NewSimulated(42)
	for _, mt := range media {
		for _, mode := range modes {
			for i := 0; i < 50; i++ {
				file := &model.MediaFile{ID: "m1", FileType: mt}
				verdict, err := det.Analyze(context.Background(), file, mode)
				require.NoError(t, err)
				require.NoError(t, verdict.Validate(mt, mode),
					"media=%s mode=%s iteration=%d", mt, mode, i)
			}
		}
	}
}

func TestSimulatedDeterministicWithSeed(t *testing.T) {
	file := &model.MediaFile{ID: "m1", FileType: model.MediaVideo}
	a, err := NewSimulated(7).Analyze(context.Background(), file, model.ModeFull)
	require.NoError(t, err)
	b, err := NewSimulated(7).Analyze(context.Background(), file, model.ModeFull)
	require.NoError(t, err)
	assert.Equal(t, a.IsAuthentic, b.IsAuthentic)
	assert.Equal(t, a.ConfidenceScore, b.ConfidenceScore)
	assert.Equal(t, a.ManipulationTypes, b.ManipulationTypes)
	assert.Len(t, b.Findings, len(a.Findings))
}
