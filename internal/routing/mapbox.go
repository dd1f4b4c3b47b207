package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	dispatcherrors "github.com/sirenlab/dispatchd/internal/errors"
	"github.com/sirenlab/dispatchd/internal/geo"
)

// Mapbox resolves routes through the Mapbox Directions API.
type Mapbox struct {
	token  string
	client *http.Client
}

// NewMapbox creates a Mapbox provider.
func NewMapbox(token string, timeout time.Duration) *Mapbox {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Mapbox{token: token, client: &http.Client{Timeout: timeout}}
}

// Name returns the provider name.
func (m *Mapbox) Name() string { return "mapbox" }

type mapboxResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Geometry struct {
			Coordinates [][2]float64 `json:"coordinates"`
		} `json:"geometry"`
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
		Legs     []struct {
			Steps []struct {
				Distance float64 `json:"distance"`
				Duration float64 `json:"duration"`
				Name     string  `json:"name"`
				Maneuver struct {
					Instruction string `json:"instruction"`
				} `json:"maneuver"`
			} `json:"steps"`
		} `json:"legs"`
	} `json:"routes"`
}

// Route resolves a driving route between two points.
func (m *Mapbox) Route(ctx context.Context, from, to geo.Point) (*Route, error) {
	endpoint := fmt.Sprintf(
		"https://api.mapbox.com/directions/v5/mapbox/driving/%f,%f;%f,%f",
		from.Lon, from.Lat, to.Lon, to.Lat,
	)
	query := url.Values{
		"geometries":   {"geojson"},
		"overview":     {"full"},
		"steps":        {"true"},
		"access_token": {m.token},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, dispatcherrors.Provider("route", m.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, dispatcherrors.New(dispatcherrors.KindProvider, "route",
			fmt.Errorf("HTTP %d", resp.StatusCode)).
			WithProvider(m.Name()).WithStatusCode(resp.StatusCode)
	}

	var parsed mapboxResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, dispatcherrors.Provider("route", m.Name(), err)
	}
	if parsed.Code != "Ok" || len(parsed.Routes) == 0 {
		return nil, dispatcherrors.Provider("route", m.Name(),
			fmt.Errorf("no route found (code=%s)", parsed.Code))
	}

	best := parsed.Routes[0]
	var steps []Step
	for _, leg := range best.Legs {
		for _, s := range leg.Steps {
			steps = append(steps, Step{
				Instruction: s.Maneuver.Instruction,
				Name:        s.Name,
				DistanceM:   s.Distance,
				DurationS:   s.Duration,
			})
		}
	}
	return &Route{
		Provider:  m.Name(),
		Geometry:  geo.LineString(best.Geometry.Coordinates),
		DistanceM: best.Distance,
		DurationS: best.Duration,
		Steps:     steps,
	}, nil
}
