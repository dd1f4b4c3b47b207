package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	dispatcherrors "github.com/sirenlab/dispatchd/internal/errors"
	"github.com/sirenlab/dispatchd/internal/geo"
)

// OSRM resolves routes through a public or self-hosted OSRM instance. Each
// configured host is its own chain entry so a slow mirror does not bench the
// others.
type OSRM struct {
	host   string
	client *http.Client
}

// NewOSRM creates an OSRM provider for one host.
func NewOSRM(host string, timeout time.Duration) *OSRM {
	if timeout <= 0 {
		timeout = 6 * time.Second
	}
	return &OSRM{host: strings.TrimRight(host, "/"), client: &http.Client{Timeout: timeout}}
}

// Name returns the provider name including the host for backoff bookkeeping.
func (o *OSRM) Name() string { return "osrm:" + o.host }

type osrmResponse struct {
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
					Type     string `json:"type"`
					Modifier string `json:"modifier"`
				} `json:"maneuver"`
			} `json:"steps"`
		} `json:"legs"`
	} `json:"routes"`
}

// Route resolves a driving route between two points.
func (o *OSRM) Route(ctx context.Context, from, to geo.Point) (*Route, error) {
	endpoint := fmt.Sprintf(
		"%s/route/v1/driving/%f,%f;%f,%f?overview=full&geometries=geojson&steps=true",
		o.host, from.Lon, from.Lat, to.Lon, to.Lat,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
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

	var parsed osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, dispatcherrors.Provider("route", o.Name(), err)
	}
	if parsed.Code != "Ok" || len(parsed.Routes) == 0 {
		return nil, dispatcherrors.Provider("route", o.Name(),
			fmt.Errorf("no route found (code=%s)", parsed.Code))
	}

	best := parsed.Routes[0]
	var steps []Step
	for _, leg := range best.Legs {
		for _, s := range leg.Steps {
			steps = append(steps, Step{
				Instruction: strings.TrimSpace(s.Maneuver.Type + " " + s.Maneuver.Modifier),
				Name:        s.Name,
				DistanceM:   s.Distance,
				DurationS:   s.Duration,
			})
		}
	}
	return &Route{
		Provider:  o.Name(),
		Geometry:  geo.LineString(best.Geometry.Coordinates),
		DistanceM: best.Distance,
		DurationS: best.Duration,
		Steps:     steps,
	}, nil
}
