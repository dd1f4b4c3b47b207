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

// GraphHopper resolves routes through the GraphHopper routing API. Last
// external entry in the chain before the synthetic fallback.
type GraphHopper struct {
	apiKey string
	client *http.Client
}

// NewGraphHopper creates a GraphHopper provider.
func NewGraphHopper(apiKey string, timeout time.Duration) *GraphHopper {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GraphHopper{apiKey: apiKey, client: &http.Client{Timeout: timeout}}
}

// Name returns the provider name.
func (g *GraphHopper) Name() string { return "graphhopper" }

type graphHopperResponse struct {
	Paths []struct {
		Distance float64 `json:"distance"`
		Time     int64   `json:"time"` // milliseconds
		Points   struct {
			Coordinates [][2]float64 `json:"coordinates"`
		} `json:"points"`
		Instructions []struct {
			Text       string  `json:"text"`
			StreetName string  `json:"street_name"`
			Distance   float64 `json:"distance"`
			Time       int64   `json:"time"` // milliseconds
		} `json:"instructions"`
	} `json:"paths"`
}

// Route resolves a driving route between two points.
func (g *GraphHopper) Route(ctx context.Context, from, to geo.Point) (*Route, error) {
	query := url.Values{
		"point":          {fmt.Sprintf("%f,%f", from.Lat, from.Lon), fmt.Sprintf("%f,%f", to.Lat, to.Lon)},
		"profile":        {"car"},
		"points_encoded": {"false"},
		"key":            {g.apiKey},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		"https://graphhopper.com/api/1/route?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, dispatcherrors.Provider("route", g.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, dispatcherrors.New(dispatcherrors.KindProvider, "route",
			fmt.Errorf("HTTP %d", resp.StatusCode)).
			WithProvider(g.Name()).WithStatusCode(resp.StatusCode)
	}

	var parsed graphHopperResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, dispatcherrors.Provider("route", g.Name(), err)
	}
	if len(parsed.Paths) == 0 {
		return nil, dispatcherrors.Provider("route", g.Name(), fmt.Errorf("no route found"))
	}

	best := parsed.Paths[0]
	var steps []Step
	for _, ins := range best.Instructions {
		steps = append(steps, Step{
			Instruction: ins.Text,
			Name:        ins.StreetName,
			DistanceM:   ins.Distance,
			DurationS:   float64(ins.Time) / 1000.0,
		})
	}
	return &Route{
		Provider:  g.Name(),
		Geometry:  geo.LineString(best.Points.Coordinates),
		DistanceM: best.Distance,
		DurationS: float64(best.Time) / 1000.0,
		Steps:     steps,
	}, nil
}
