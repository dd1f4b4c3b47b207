package greenwave

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirenlab/dispatchd/internal/geo"
)

// Intersection kinds. Major intersections hold the green longer.
const (
	KindMajor     = "major"
	KindSecondary = "secondary"
)

// Intersection is one controllable traffic light in the catalog.
type Intersection struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Kind string  `json:"type"`
}

// Location returns the intersection position.
func (i Intersection) Location() geo.Point {
	return geo.Point{Lat: i.Lat, Lon: i.Lon}
}

// LoadCatalog reads an intersection catalog from a JSON file. An empty path
// returns the built-in Buenos Aires catalog.
func LoadCatalog(path string) ([]Intersection, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read intersections file: %w", err)
	}
	var catalog []Intersection
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse intersections file: %w", err)
	}
	for i, in := range catalog {
		if in.ID == "" {
			return nil, fmt.Errorf("intersection %d has no id", i)
		}
		if in.Kind != KindMajor && in.Kind != KindSecondary {
			return nil, fmt.Errorf("intersection %q has invalid type %q", in.ID, in.Kind)
		}
	}
	return catalog, nil
}

// DefaultCatalog returns the major Buenos Aires intersections.
func DefaultCatalog() []Intersection {
	return []Intersection{
		// Av. 9 de Julio
		{ID: "9julio_corrientes", Name: "9 de Julio y Corrientes", Lat: -34.6037, Lon: -58.3816, Kind: KindMajor},
		{ID: "9julio_santafe", Name: "9 de Julio y Santa Fe", Lat: -34.5945, Lon: -58.3816, Kind: KindMajor},
		{ID: "9julio_rivadavia", Name: "9 de Julio y Rivadavia", Lat: -34.6092, Lon: -58.3816, Kind: KindMajor},

		// Av. Corrientes
		{ID: "corrientes_callao", Name: "Corrientes y Callao", Lat: -34.6037, Lon: -58.3915, Kind: KindMajor},
		{ID: "corrientes_pueyrredon", Name: "Corrientes y Pueyrredón", Lat: -34.6037, Lon: -58.4015, Kind: KindMajor},
		{ID: "corrientes_scalabrini", Name: "Corrientes y Scalabrini Ortiz", Lat: -34.6037, Lon: -58.4210, Kind: KindMajor},

		// Av. Santa Fe
		{ID: "santafe_callao", Name: "Santa Fe y Callao", Lat: -34.5945, Lon: -58.3915, Kind: KindMajor},
		{ID: "santafe_pueyrredon", Name: "Santa Fe y Pueyrredón", Lat: -34.5945, Lon: -58.4015, Kind: KindMajor},
		{ID: "santafe_scalabrini", Name: "Santa Fe y Scalabrini Ortiz", Lat: -34.5945, Lon: -58.4210, Kind: KindMajor},

		// Av. Rivadavia
		{ID: "rivadavia_callao", Name: "Rivadavia y Callao", Lat: -34.6092, Lon: -58.3915, Kind: KindMajor},
		{ID: "rivadavia_pueyrredon", Name: "Rivadavia y Pueyrredón", Lat: -34.6092, Lon: -58.4015, Kind: KindMajor},

		// Av. Cabildo
		{ID: "cabildo_juramento", Name: "Cabildo y Juramento", Lat: -34.5632, Lon: -58.4561, Kind: KindMajor},
		{ID: "cabildo_lacroze", Name: "Cabildo y Lacroze", Lat: -34.5589, Lon: -58.4502, Kind: KindMajor},

		// Av. Las Heras
		{ID: "lasheras_pueyrredon", Name: "Las Heras y Pueyrredón", Lat: -34.5895, Lon: -58.4015, Kind: KindMajor},
		{ID: "lasheras_scalabrini", Name: "Las Heras y Scalabrini Ortiz", Lat: -34.5895, Lon: -58.4210, Kind: KindMajor},

		// Secondary intersections
		{ID: "florida_corrientes", Name: "Florida y Corrientes", Lat: -34.6020, Lon: -58.3748, Kind: KindSecondary},
		{ID: "defensa_independencia", Name: "Defensa y Independencia", Lat: -34.6178, Lon: -58.3730, Kind: KindSecondary},
		{ID: "paseo_colon_independencia", Name: "Paseo Colón y Independencia", Lat: -34.6178, Lon: -58.3645, Kind: KindSecondary},
	}
}
