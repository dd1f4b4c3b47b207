// Package triage classifies free-form incident descriptions into a severity
// code, a score and a primary responding force.
//
// Two layers: a deterministic weighted-rules layer that is always
// available, and an optional cloud provider speaking a strict JSON schema.
// Any provider failure falls back to the rules layer with no user-visible
// difference; the Source field records which layer answered.
package triage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/sirenlab/dispatchd/internal/models"
	"github.com/sirenlab/dispatchd/internal/triage/providers"
)

// Source labels which layer produced a classification.
type Source string

const (
	SourceLocal    Source = "local"
	SourceCloud    Source = "cloud"
	SourceFallback Source = "fallback"
)

// Severity thresholds on the clamped [1, 100] score.
const (
	redThreshold    = 60
	yellowThreshold = 25
)

// codeForScore maps a clamped score onto the severity bands. Both
// thresholds are inclusive on the higher band.
func codeForScore(score int) models.Code {
	switch {
	case score >= redThreshold:
		return models.CodeRed
	case score >= yellowThreshold:
		return models.CodeYellow
	default:
		return models.CodeGreen
	}
}

// Above this score a traffic-typed incident is treated as a major
// collision and handed to the fire force.
const trafficToFireScore = 40

// Resource is a recommended responding unit.
type Resource struct {
	Type   string `json:"type"`
	Count  int    `json:"count"`
	Detail string `json:"detail,omitempty"`
}

// Result is a complete classification.
type Result struct {
	Code      models.Code  `json:"code"`
	Score     int          `json:"score"`
	Type      models.Force `json:"type"`
	Reasons   []string     `json:"reasons"`
	Narrative string       `json:"ai_narrative"`
	Source    Source       `json:"source"`
	Resources []Resource   `json:"recommended_resources,omitempty"`
}

// Engine classifies incident descriptions.
type Engine struct {
	provider providers.Classifier // nil when only the rules layer is configured
}

// NewEngine returns a rules-only engine.
func NewEngine() *Engine {
	return &Engine{}
}

// NewEngineWithProvider returns an engine that consults the cloud provider
// first and falls back to the rules layer on any failure.
func NewEngineWithProvider(p providers.Classifier) *Engine {
	return &Engine{provider: p}
}

// Classify runs the full classification. It never returns an error: the
// rules layer always produces a usable result.
func (e *Engine) Classify(ctx context.Context, description string) Result {
	if e.provider != nil {
		if res, err := e.classifyCloud(ctx, description); err == nil {
			return res
		} else {
			log.Warn().Err(err).Str("provider", e.provider.Name()).
				Msg("Cloud triage failed, falling back to rules layer")
			res := e.classifyRules(description)
			res.Source = SourceFallback
			return res
		}
	}
	return e.classifyRules(description)
}

func (e *Engine) classifyRules(description string) Result {
	if strings.TrimSpace(description) == "" {
		return Result{
			Code:      models.CodeGreen,
			Score:     1,
			Type:      models.ForcePolice,
			Reasons:   []string{"Sin descripción proporcionada"},
			Narrative: "No se puede clasificar sin descripción del evento.",
			Source:    SourceLocal,
		}
	}

	text := normalizeText(description)
	var hits []dictHit
	score := applyDict(text, severeKeywords, "Severidad alta", &hits)
	score += applyDict(text, moderateKeywords, "Severidad media", &hits)
	score += applyDict(text, minorKeywords, "Leve", &hits)
	score += applyDict(text, vulnerableKeywords, "Vulnerable", &hits)
	score += applyDict(text, multipleKeywords, "Multiplicidad", &hits)
	score += applyDict(text, sensitivePlaceKeywords, "Lugar sensible", &hits)

	// Map iteration order is not stable; sort hits so reasons are
	// reproducible for identical input.
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].label != hits[j].label {
			return hits[i].label < hits[j].label
		}
		return hits[i].keyword < hits[j].keyword
	})

	reasons := make([]string, 0, len(hits)+1)
	for _, h := range hits {
		reasons = append(reasons, fmt.Sprintf("%s: '%s' (+%d)", h.label, h.keyword, h.weight))
	}

	primary := models.ForcePolice
	switch {
	case matchesAny(text, medicalPatterns):
		primary = models.ForceMedical
		reasons = append(reasons, "Patrón médico detectado")
	case matchesAny(text, firePatterns):
		primary = models.ForceFire
		reasons = append(reasons, "Patrón de bomberos detectado")
	case matchesAny(text, trafficPatterns):
		// High-scoring traffic incidents indicate a major collision and
		// are handled by the fire force.
		if score > trafficToFireScore {
			primary = models.ForceFire
		} else {
			primary = models.ForceTraffic
		}
		reasons = append(reasons, "Patrón de tránsito detectado")
	case matchesAny(text, policePatterns):
		primary = models.ForcePolice
		reasons = append(reasons, "Patrón policial detectado")
	}

	if score < 1 {
		score = 1
	}
	if score > 100 {
		score = 100
	}
	if score == 1 && len(hits) == 0 {
		reasons = append(reasons, "Sin coincidencias relevantes: caso leve por defecto")
	}

	code := codeForScore(score)
	res := Result{
		Code:    code,
		Score:   score,
		Type:    primary,
		Reasons: reasons,
		Source:  SourceLocal,
	}
	res.Narrative = narrative(primary, code, score, reasons)
	res.Resources = recommendResources(primary, code)
	return res
}

func (e *Engine) classifyCloud(ctx context.Context, description string) (Result, error) {
	if strings.TrimSpace(description) == "" {
		return Result{}, fmt.Errorf("empty description")
	}
	cls, err := e.provider.Classify(ctx, description)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Code:      codeFromWire(cls.Codigo),
		Type:      forceFromWire(cls.Tipo),
		Reasons:   cls.Razones,
		Narrative: cls.RespuestaIA,
		Source:    SourceCloud,
	}
	if cls.Score != nil {
		res.Score = clampScore(*cls.Score)
	} else {
		// Providers occasionally omit the score; infer one from the code.
		switch res.Code {
		case models.CodeRed:
			res.Score = 60
		case models.CodeYellow:
			res.Score = 30
		default:
			res.Score = 5
		}
	}
	for _, r := range cls.Recursos {
		res.Resources = append(res.Resources, Resource{Type: r.Tipo, Count: r.Cantidad, Detail: r.Detalle})
	}
	return res, nil
}

func clampScore(s int) int {
	if s < 1 {
		return 1
	}
	if s > 100 {
		return 100
	}
	return s
}

func codeFromWire(codigo string) models.Code {
	switch strings.ToLower(strings.TrimSpace(codigo)) {
	case "rojo":
		return models.CodeRed
	case "amarillo":
		return models.CodeYellow
	default:
		return models.CodeGreen
	}
}

func forceFromWire(tipo string) models.Force {
	switch strings.ToLower(strings.TrimSpace(tipo)) {
	case "medico":
		return models.ForceMedical
	case "bomberos":
		return models.ForceFire
	default:
		return models.ForcePolice
	}
}
