// Package detector defines the contract between the analysis engine and
// whatever classifies media authenticity. Implementations are injected; the
// engine never depends on a concrete technique.
package detector

import (
	"context"
	"fmt"

	"github.com/veristamp/veristamp/internal/model"
)

// Finding is one indicator as produced by a detector, before it is linked
// to an analysis record.
type Finding struct {
	Kind        model.IndicatorKind
	Category    string
	Severity    model.Severity
	Confidence  float64
	Description string
	Location    model.Map
	Evidence    model.Map
}

// Verdict is the detector's output for one media item.
type Verdict struct {
	IsAuthentic       bool
	ConfidenceScore   float64
	ManipulationTypes []string
	Findings          []Finding
}

// Detector runs an authenticity analysis. The call may take arbitrarily
// long; it is the sole blocking step of a background job.
type Detector interface {
	// Version tags completed analyses so results can be traced back to the
	// detector build that produced them.
	Version() string
	Analyze(ctx context.Context, media *model.MediaFile, mode model.AnalysisMode) (*Verdict, error)
}

// Validate checks the verdict against the detector contract: confidence
// scores within [0,100], manipulation types empty exactly when the media is
// authentic, and every finding kind consistent with the media kind and the
// requested mode.
func (v *Verdict) Validate(media model.MediaType, mode model.AnalysisMode) error {
	if v.ConfidenceScore < 0 || v.ConfidenceScore > 100 {
		return fmt.Errorf("confidence score %.2f out of range", v.ConfidenceScore)
	}
	if v.IsAuthentic && len(v.ManipulationTypes) > 0 {
		return fmt.Errorf("authentic verdict with %d manipulation types", len(v.ManipulationTypes))
	}
	if !v.IsAuthentic && len(v.ManipulationTypes) == 0 {
		return fmt.Errorf("manipulated verdict without manipulation types")
	}
	for i, f := range v.Findings {
		if f.Confidence < 0 || f.Confidence > 100 {
			return fmt.Errorf("finding %d: confidence %.2f out of range", i, f.Confidence)
		}
		if !KindAllowed(f.Kind, media, mode) {
			return fmt.Errorf("finding %d: kind %s not allowed for %s media in %s mode", i, f.Kind, media, mode)
		}
	}
	return nil
}

// KindAllowed reports whether an indicator kind is consistent with the
// media kind and analysis mode.
func KindAllowed(kind model.IndicatorKind, media model.MediaType, mode model.AnalysisMode) bool {
	switch kind {
	case model.IndicatorVisualArtifact:
		return (media == model.MediaImage || media == model.MediaVideo) &&
			(mode == model.ModeFull || mode == model.ModeVisualOnly)
	case model.IndicatorTemporalAnomaly:
		return media == model.MediaVideo &&
			(mode == model.ModeFull || mode == model.ModeVisualOnly)
	case model.IndicatorAudioInconsistency:
		return (media == model.MediaAudio || media == model.MediaVideo) &&
			(mode == model.ModeFull || mode == model.ModeAudioOnly)
	case model.IndicatorMetadataMismatch:
		return mode == model.ModeFull || mode == model.ModeMetadataOnly
	}
	return false
}
