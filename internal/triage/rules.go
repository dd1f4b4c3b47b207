package triage

import (
	"regexp"
	"strings"
)

// Keyword tables for the rules layer. Weights follow the operational
// severity bands: severe 45-60, moderate 20-40, minor 5-15, context
// modifiers below. Descriptions arrive in Spanish, so the tables do too.
var severeKeywords = map[string]int{
	// Critical medical
	"paro cardiaco":            60,
	"paro cardiorrespiratorio": 60,
	"pcr":                      60,
	"infarto":                  55,
	"inconsciente":             50,
	"convulsion":               45,
	"convulsión":               45,
	"asfixia":                  55,
	"ahogo":                    45,
	"hemorragia masiva":        60,
	"hemorragia":               50,
	"quemaduras graves":        55,
	"herido grave":             55,
	"herida grave":             55,
	"dolor de pecho":           45,
	"no respira":               60,
	"sin pulso":                60,
	"overdosis":                50,
	// Critical events
	"explosion":       60,
	"explosión":       60,
	"derrumbe":        60,
	"incendio masivo": 60,
	"tiroteo":         60,
	"arma de fuego":   55,
	"apuñalado":       55,
	"arma blanca":     50,
	"balacera":        60,
	"disparo":         55,
	"tiros":           55,
	// Fire
	"se esta quemando": 60,
	"se está quemando": 60,
	"se quema":         60,
	"en llamas":        60,
	"fuego":            50,
	"humo denso":       45,
	"olor a gas":       55,
	"escape de gas":    60,
	// Critical crimes
	"asalto":    55,
	"atraco":    55,
	"atrapado":  45,
	"atrapada":  45,
	"secuestro": 60,
	"violacion": 60,
	"violación": 60,
	"homicidio": 60,
	"asesinato": 60,
}

var moderateKeywords = map[string]int{
	"accidente":          30,
	"choque":             30,
	"colision":           35,
	"colisión":           35,
	"herido":             30,
	"fractura":           35,
	"luxacion":           25,
	"luxación":           25,
	"quemadura":          25,
	"incendio":           40,
	"caida":              20,
	"caída":              20,
	"intoxicacion":       30,
	"intoxicación":       30,
	"agresion":           30,
	"agresión":           30,
	"robo con violencia": 40,
	"humo":               25,
	"golpe":              25,
	"pelea":              35,
	"riña":               35,
	"violencia":          40,
	// Common crimes
	"robo":       40,
	"robando":    40,
	"roban":      40,
	"hurto":      30,
	"vandalismo": 25,
	"daños":      30,
	// Traffic / public order
	"transito":      30,
	"tránsito":      30,
	"trafico":       30,
	"tráfico":       30,
	"bloqueo":       30,
	"corte":         30,
	"manifestacion": 30,
	"manifestación": 30,
	"obstruccion":   30,
	"obstrucción":   30,
	"disturbio":     35,
	"desorden":      30,
	// Moderate medical
	"desmayo":             25,
	"mareo":               20,
	"vomitos":             20,
	"vómitos":             20,
	"falta de aire":       30,
	"dificultad respirar": 35,
}

var minorKeywords = map[string]int{
	"dolor de cabeza": 5,
	"cefalea":         5,
	"fiebre":          5,
	"resfriado":       5,
	"gripe":           5,
	"molestias":       10,
	"ruido":           15,
	"musica alta":     15,
	"música alta":     15,
	"problema menor":  10,
	"consulta":        5,
}

var vulnerableKeywords = map[string]int{
	"bebé":            15,
	"bebe":            15,
	"niño":            10,
	"nino":            10,
	"menor":           10,
	"embarazada":      15,
	"anciano":         10,
	"adulto mayor":    10,
	"discapacitado":   15,
	"silla de ruedas": 15,
}

var multipleKeywords = map[string]int{
	"múltiples":       15,
	"multiples":       15,
	"varios heridos":  20,
	"muchas personas": 15,
	"masivo":          20,
	"multitudinario":  20,
}

var sensitivePlaceKeywords = map[string]int{
	"escuela":    15,
	"colegio":    15,
	"jardin":     15,
	"jardín":     15,
	"hospital":   10,
	"clinica":    10,
	"clínica":    10,
	"estacion":   10,
	"estación":   10,
	"banco":      10,
	"shopping":   15,
	"estadio":    20,
	"plaza":      10,
	"subte":      15,
	"tren":       15,
	"aeropuerto": 20,
}

// Pattern groups identifying the primary emergency type. Compiled once.
var (
	medicalPatterns = compilePatterns(
		`dolor|herido|sangra|inconsciente|infarto|convuls|asfixia|ahogo|hemorragia|quemadura|fractura|desmayo|mareo|vomito|fiebre|dificultad.*respir|falta.*aire|overdosis|intoxica`,
		`ambulancia|same|medico|hospital|clinica`,
	)
	firePatterns = compilePatterns(
		`fuego|incendio|llamas|humo|quema|explosion|gas|bomberos`,
		`se.*quema|en.*llamas|olor.*gas|escape.*gas`,
	)
	policePatterns = compilePatterns(
		`robo|asalto|atraco|tiroteo|disparo|arma|balacera|pelea|agresion|violencia|secuestro|homicidio|asesinato|hurto|vandalismo|policia`,
		`disturbio|manifestacion|desorden|bloqueo|corte.*calle`,
	)
	trafficPatterns = compilePatterns(
		`accidente.*transit|choque|colision|transito|trafico|vehiculo.*impact|auto.*choca`,
		`semaforo|corte.*ruta|bloqueo.*avenida`,
	)

	whitespaceRe = regexp.MustCompile(`\s+`)
)

func compilePatterns(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

func normalizeText(text string) string {
	return whitespaceRe.ReplaceAllString(strings.ToLower(text), " ")
}

func matchesAny(text string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// dictHit records a keyword match for the reasons list.
type dictHit struct {
	label   string
	keyword string
	weight  int
}

func applyDict(text string, dict map[string]int, label string, hits *[]dictHit) int {
	var sum int
	for k, w := range dict {
		if strings.Contains(text, k) {
			sum += w
			*hits = append(*hits, dictHit{label: label, keyword: k, weight: w})
		}
	}
	return sum
}
