package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	dispatcherrors "github.com/sirenlab/dispatchd/internal/errors"
	"github.com/sirenlab/dispatchd/internal/geo"
)

// OpenRoute resolves routes through the OpenRouteService directions API.
// The free tier rate limits aggressively, so 429 answers matter here more
// than anywhere else in the chain.
type OpenRoute struct {
	apiKey string
	client *http.Client
}

// NewOpenRoute creates an OpenRouteService provider.
func NewOpenRoute(apiKey string, timeout time.Duration) *OpenRoute {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OpenRoute{apiKey: apiKey, client: &http.Client{Timeout: timeout}}
}

// Name returns the provider name.
func (o *OpenRoute) Name() string { return "openrouteservice" }

type openRouteRequest struct {
	Coordinates [][2]float64 `json:"coordinates"`
}

type openRouteResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates [][2]float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties struct {
			Summary struct {
				Distance float64 `json:"distance"`
				Duration float64 `json:"duration"`
			} `json:"summary"`
			Segments []struct {
				Steps []struct {
					Distance    float64 `json:"distance"`
					Duration    float64 `json:"duration"`
					Instruction string  `json:"instruction"`
					Name        string  `json:"name"`
				} `json:"steps"`
			} `json:"segments"`
		} `json:"properties"`
	} `json:"features"`
}

// Route resolves a driving route between two points.
func (o *OpenRoute) Route(ctx context.Context, from, to geo.Point) (*Route, error) {
	body, err := json.Marshal(openRouteRequest{
		Coordinates: [][2]float64{{from.Lon, from.Lat}, {to.Lon, to.Lat}},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://api.openrouteservice.org/v2/directions/driving-car/geojson",
		bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", o.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, dispatcherrors.Provider("route", o.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, dispatcherrors.New(dispatcherrors.KindProvider, "route",
			fmt.Errorf("HTTP %d", resp.StatusCode)).
			WithProvider(o.Name()).WithStatusCode(resp.StatusCode)
	}

	var parsed openRouteResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, dispatcherrors.Provider("route", o.Name(), err)
	}
	if len(parsed.Features) == 0 {
		return nil, dispatcherrors.Provider("route", o.Name(), fmt.Errorf("no route found"))
	}

	best := parsed.Features[0]
	var steps []Step
	for _, seg := range best.Properties.Segments {
		for _, s := range seg.Steps {
			steps = append(steps, Step{
				Instruction: s.Instruction,
				Name:        s.Name,
				DistanceM:   s.Distance,
				DurationS:   s.Duration,
			})
		}
	}
	return &Route{
		Provider:  o.Name(),
		Geometry:  geo.LineString(best.Geometry.Coordinates),
		DistanceM: best.Properties.Summary.Distance,
		DurationS: best.Properties.Summary.Duration,
		Steps:     steps,
	}, nil
}
