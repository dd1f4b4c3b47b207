package dispatch

import (
	"strings"

	"github.com/sirenlab/dispatchd/internal/models"
)

// Keyword groups that add forces to a plan on top of the triage-typed
// primary force. Collisions pull three forces at once.
var (
	fireKeywords = []string{
		"incendio", "fuego", "llamas", "humo", "explosion", "explosión",
		"quema", "gas", "bomberos", "derrumbe",
	}
	collisionKeywords = []string{
		"choque", "colision", "colisión", "accidente de transito",
		"accidente de tránsito", "accidente vial", "vuelco", "atropello",
	}
	medicalKeywords = []string{
		"herido", "sangra", "inconsciente", "infarto", "paro", "fractura",
		"ambulancia", "convulsion", "convulsión", "asfixia", "hemorragia",
		"intoxicacion", "intoxicación", "quemadura", "desmayo",
		"atrapado", "atrapada", "victima", "víctima",
	}
	securityKeywords = []string{
		"robo", "asalto", "atraco", "tiroteo", "disparo", "arma", "balacera",
		"pelea", "agresion", "agresión", "violencia", "secuestro", "hurto",
		"homicidio", "vandalismo",
	}
)

// requiredForces derives the force set for an incident by OR-ing the triage
// primary force with keyword rules over the description.
func requiredForces(primary models.Force, description string) []models.Force {
	text := strings.ToLower(description)
	set := map[models.Force]bool{}
	if primary.Valid() {
		set[primary] = true
	}
	if containsAny(text, fireKeywords) {
		set[models.ForceFire] = true
	}
	if containsAny(text, collisionKeywords) {
		set[models.ForcePolice] = true
		set[models.ForceTraffic] = true
		set[models.ForceMedical] = true
	}
	if containsAny(text, medicalKeywords) {
		set[models.ForceMedical] = true
	}
	if containsAny(text, securityKeywords) {
		set[models.ForcePolice] = true
	}
	if len(set) == 0 {
		set[models.ForcePolice] = true
	}

	// Stable output order matching the primary-summary precedence.
	var out []models.Force
	for _, f := range forcePrecedence {
		if set[f] {
			out = append(out, f)
		}
	}
	return out
}

// forcePrecedence orders the primary-force summary: fire wins over medical,
// medical over police, police over traffic.
var forcePrecedence = []models.Force{
	models.ForceFire, models.ForceMedical, models.ForcePolice, models.ForceTraffic,
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
