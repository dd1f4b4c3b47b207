// Package providers contains cloud classifier clients for the triage
// engine. Each provider receives a strict JSON-schema prompt and must
// answer with the classification shape below; anything else is an error
// the engine absorbs by falling back to the rules layer.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Classification is the wire shape every provider must return.
type Classification struct {
	Tipo        string         `json:"tipo"`   // policial | medico | bomberos
	Codigo      string         `json:"codigo"` // rojo | amarillo | verde
	Score       *int           `json:"score,omitempty"`
	Razones     []string       `json:"razones,omitempty"`
	RespuestaIA string         `json:"respuesta_ia,omitempty"`
	Recursos    []WireResource `json:"recursos,omitempty"`
}

// WireResource is a recommended unit as returned by a provider.
type WireResource struct {
	Tipo     string `json:"tipo"`
	Cantidad int    `json:"cantidad"`
	Detalle  string `json:"detalle,omitempty"`
}

// Classifier is the interface the triage engine consumes.
type Classifier interface {
	// Classify sends the description and returns the parsed classification.
	Classify(ctx context.Context, description string) (*Classification, error)

	// Name returns the provider name for logs and status reporting.
	Name() string
}

// SystemPrompt instructs the model to answer with schema-conforming JSON
// and nothing else.
const SystemPrompt = `Eres un clasificador de emergencias para la Ciudad Autónoma de Buenos Aires. ` +
	`Respondé únicamente con JSON válido con esta forma: ` +
	`{"tipo":"policial|medico|bomberos","codigo":"rojo|amarillo|verde","score":number,` +
	`"razones":[string],"respuesta_ia":string,"recursos":[{"tipo":string,"cantidad":integer,"detalle":string}]}. ` +
	`Los campos tipo y codigo son obligatorios. El campo respuesta_ia debe contener una recomendación operativa corta en castellano. ` +
	`No agregues texto fuera del JSON, no uses comillas curvas ni bloques de código.`

var (
	codeFenceRe = regexp.MustCompile("```[a-zA-Z]*\\n|```")
	jsonBlockRe = regexp.MustCompile(`\{[\s\S]*\}`)
)

// SanitizeContent strips code fences and extracts the first {...} block so
// chatty model output still parses.
func SanitizeContent(content string) string {
	content = codeFenceRe.ReplaceAllString(content, "")
	if m := jsonBlockRe.FindString(content); m != "" {
		content = m
	}
	return strings.TrimSpace(content)
}

// ParseClassification sanitizes and decodes raw model output, validating
// the required fields.
func ParseClassification(raw string) (*Classification, error) {
	cleaned := SanitizeContent(raw)
	var cls Classification
	if err := json.Unmarshal([]byte(cleaned), &cls); err != nil {
		return nil, fmt.Errorf("response is not valid classification JSON: %w", err)
	}
	cls.Tipo = strings.ToLower(strings.TrimSpace(cls.Tipo))
	cls.Codigo = strings.ToLower(strings.TrimSpace(cls.Codigo))
	if cls.Tipo == "" || cls.Codigo == "" {
		return nil, fmt.Errorf("response missing required fields tipo/codigo")
	}
	// Drop malformed resource entries instead of failing the whole result.
	resources := cls.Recursos[:0]
	for _, r := range cls.Recursos {
		if strings.TrimSpace(r.Tipo) == "" {
			continue
		}
		if r.Cantidad <= 0 {
			r.Cantidad = 1
		}
		r.Tipo = strings.TrimSpace(r.Tipo)
		resources = append(resources, r)
	}
	cls.Recursos = resources
	return &cls, nil
}
