package triage

import (
	"fmt"
	"strings"

	"github.com/sirenlab/dispatchd/internal/models"
)

// Operative narratives per (force, code). The first phrase for each pair is
// used so output is reproducible for the same classification.
var baseNarratives = map[models.Force]map[models.Code]string{
	models.ForceMedical: {
		models.CodeRed:    "Emergencia médica crítica detectada. Requiere intervención inmediata del SAME.",
		models.CodeYellow: "Emergencia médica moderada. SAME debe evaluar en sitio.",
		models.CodeGreen:  "Consulta médica menor. SAME puede atender según disponibilidad.",
	},
	models.ForceFire: {
		models.CodeRed:    "Emergencia de bomberos crítica. Riesgo inminente para la seguridad pública.",
		models.CodeYellow: "Emergencia de bomberos moderada. Requiere intervención especializada.",
		models.CodeGreen:  "Situación menor para bomberos. Atención según disponibilidad.",
	},
	models.ForcePolice: {
		models.CodeRed:    "Emergencia policial crítica. Riesgo inmediato para la seguridad ciudadana.",
		models.CodeYellow: "Emergencia policial moderada. Requiere intervención oportuna.",
		models.CodeGreen:  "Situación policial menor. Atención según prioridades.",
	},
	models.ForceTraffic: {
		models.CodeRed:    "Emergencia de tránsito crítica. Coordinando corte y ordenamiento inmediato.",
		models.CodeYellow: "Incidente de tránsito que requiere presencia de agentes.",
		models.CodeGreen:  "Situación de tránsito menor. Atención según disponibilidad.",
	},
}

func narrative(force models.Force, code models.Code, score int, reasons []string) string {
	base := baseNarratives[force][code]
	if base == "" {
		base = "Emergencia clasificada."
	}

	var additions []string
	seen := map[string]bool{}
	for _, reason := range reasons {
		switch {
		case strings.HasPrefix(reason, "Vulnerable") && !seen["vulnerable"]:
			additions = append(additions, "Involucra población vulnerable.")
			seen["vulnerable"] = true
		case strings.HasPrefix(reason, "Multiplicidad") && !seen["multiple"]:
			additions = append(additions, "Evento de múltiples víctimas.")
			seen["multiple"] = true
		case strings.HasPrefix(reason, "Lugar sensible") && !seen["place"]:
			additions = append(additions, "Ocurre en zona sensible.")
			seen["place"] = true
		case strings.HasPrefix(reason, "Severidad alta") && !seen["severe"]:
			additions = append(additions, "Indicadores de alta gravedad.")
			seen["severe"] = true
		}
	}

	if code == models.CodeRed {
		switch force {
		case models.ForceMedical:
			additions = append(additions, "Coordinar con hospital receptor.")
		case models.ForceFire:
			additions = append(additions, "Evaluar necesidad de evacuación.")
		case models.ForcePolice:
			additions = append(additions, "Considerar refuerzos adicionales.")
		}
	}

	full := base
	if len(additions) > 0 {
		full += " " + strings.Join(additions, " ")
	}
	if score > 50 {
		full += fmt.Sprintf(" (Índice de gravedad: %d/100)", score)
	}
	return full
}

func recommendResources(force models.Force, code models.Code) []Resource {
	count := 1
	if code == models.CodeRed {
		count = 2
	}
	switch force {
	case models.ForceMedical:
		detail := ""
		if code == models.CodeRed {
			detail = "UTI móvil"
		}
		return []Resource{{Type: "ambulancia", Count: count, Detail: detail}}
	case models.ForceFire:
		return []Resource{{Type: "autobomba", Count: count}}
	case models.ForceTraffic:
		return []Resource{{Type: "moto de tránsito", Count: count}}
	default:
		return []Resource{{Type: "patrulla", Count: count}}
	}
}
