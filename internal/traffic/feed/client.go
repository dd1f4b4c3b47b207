// Package feed pulls street closures, traffic counts and parking data from
// the Buenos Aires transport API and mirrors them into local storage. The
// feed is best effort: a failed sync leaves the previous snapshot in place.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	dispatcherrors "github.com/sirenlab/dispatchd/internal/errors"
	"github.com/sirenlab/dispatchd/internal/geo"
	"github.com/sirenlab/dispatchd/internal/models"
)

// Store is the persistence surface the sync needs.
type Store interface {
	UpsertClosure(ctx context.Context, closure models.StreetClosure) (created bool, err error)
	DeactivateClosuresExcept(ctx context.Context, externalIDs []string) error
	UpsertTrafficCount(ctx context.Context, count models.TrafficCount) (created bool, err error)
	UpsertParkingSpot(ctx context.Context, spot models.ParkingSpot) (created bool, err error)
}

// Client consumes the transport API.
type Client struct {
	baseURL string
	http    *http.Client
	store   Store
	logger  zerolog.Logger
}

// NewClient creates a feed client.
func NewClient(baseURL string, store Store, logger zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = "https://api-transporte.buenosaires.gob.ar"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		store:   store,
		logger:  logger,
	}
}

// geoJSON is the subset of the feed payload the sync reads.
type geoJSON struct {
	Features []feature `json:"features"`
}

type feature struct {
	Properties map[string]any `json:"properties"`
	Geometry   struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	} `json:"geometry"`
}

func (c *Client) fetch(ctx context.Context, endpoint string) (*geoJSON, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "dispatchd/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, dispatcherrors.Provider("feed_fetch", "transport", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, dispatcherrors.New(dispatcherrors.KindProvider, "feed_fetch",
			fmt.Errorf("HTTP %d", resp.StatusCode)).
			WithProvider("transport").WithStatusCode(resp.StatusCode)
	}

	var payload geoJSON
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, dispatcherrors.Provider("feed_fetch", "transport", err)
	}
	return &payload, nil
}

// SyncResult counts what a sync run changed.
type SyncResult struct {
	Closures int `json:"closures"`
	Counts   int `json:"counts"`
	Parking  int `json:"parking"`
}

// SyncAll refreshes closures, traffic counts and parking data.
func (c *Client) SyncAll(ctx context.Context) (SyncResult, error) {
	var result SyncResult
	var firstErr error

	if n, err := c.SyncClosures(ctx); err != nil {
		firstErr = err
	} else {
		result.Closures = n
	}
	if n, err := c.SyncTrafficCounts(ctx); err != nil && firstErr == nil {
		firstErr = err
	} else {
		result.Counts = n
	}
	if n, err := c.SyncParking(ctx); err != nil && firstErr == nil {
		firstErr = err
	} else {
		result.Parking = n
	}
	return result, firstErr
}

// SyncClosures mirrors street closures and deactivates the ones the feed no
// longer reports.
func (c *Client) SyncClosures(ctx context.Context) (int, error) {
	payload, err := c.fetch(ctx, "/transito")
	if err != nil {
		return 0, err
	}

	var created int
	var seen []string
	for i, f := range payload.Features {
		if !isClosureFeature(f.Properties) {
			continue
		}
		closure, ok := parseClosure(f, i)
		if !ok {
			continue
		}
		seen = append(seen, closure.ExternalID)
		wasCreated, err := c.store.UpsertClosure(ctx, closure)
		if err != nil {
			return created, err
		}
		if wasCreated {
			created++
		}
	}
	if err := c.store.DeactivateClosuresExcept(ctx, seen); err != nil {
		return created, err
	}
	c.logger.Info().Int("seen", len(seen)).Int("created", created).Msg("Street closures synced")
	return created, nil
}

// SyncTrafficCounts mirrors traffic measurements.
func (c *Client) SyncTrafficCounts(ctx context.Context) (int, error) {
	payload, err := c.fetch(ctx, "/transito")
	if err != nil {
		return 0, err
	}

	var created int
	for i, f := range payload.Features {
		if !isCountFeature(f.Properties) {
			continue
		}
		count, ok := parseCount(f, i)
		if !ok {
			continue
		}
		wasCreated, err := c.store.UpsertTrafficCount(ctx, count)
		if err != nil {
			return created, err
		}
		if wasCreated {
			created++
		}
	}
	c.logger.Info().Int("created", created).Msg("Traffic counts synced")
	return created, nil
}

// SyncParking mirrors parking availability.
func (c *Client) SyncParking(ctx context.Context) (int, error) {
	payload, err := c.fetch(ctx, "/estacionamiento")
	if err != nil {
		return 0, err
	}

	var created int
	for i, f := range payload.Features {
		spot, ok := parseParking(f, i)
		if !ok {
			continue
		}
		wasCreated, err := c.store.UpsertParkingSpot(ctx, spot)
		if err != nil {
			return created, err
		}
		if wasCreated {
			created++
		}
	}
	c.logger.Info().Int("created", created).Msg("Parking data synced")
	return created, nil
}

func isClosureFeature(props map[string]any) bool {
	if str(props, "tipo") == "corte_calle" {
		return true
	}
	return strings.Contains(strings.ToLower(fmt.Sprint(props)), "corte")
}

func isCountFeature(props map[string]any) bool {
	low := strings.ToLower(fmt.Sprint(props))
	return strings.Contains(low, "conteo") || str(props, "tipo_conteo") != ""
}

func parseClosure(f feature, index int) (models.StreetClosure, bool) {
	point, ok := pointCoords(f)
	if !ok {
		return models.StreetClosure{}, false
	}
	start := parseTime(str(f.Properties, "fecha_inicio"))
	if start == nil {
		now := time.Now().UTC()
		start = &now
	}
	closure := models.StreetClosure{
		ExternalID:  strOr(f.Properties, "id", fmt.Sprintf("corte_%d", index)),
		Name:        strOr(f.Properties, "nombre", strOr(f.Properties, "descripcion", "Corte sin nombre")),
		ClosureType: mapClosureType(str(f.Properties, "tipo_corte")),
		Location:    &point,
		StartAt:     *start,
		EndAt:       parseTime(str(f.Properties, "fecha_fin")),
		IsActive:    true,
	}
	if f.Geometry.Type == "LineString" {
		var coords [][2]float64
		if json.Unmarshal(f.Geometry.Coordinates, &coords) == nil {
			closure.Geometry = geo.LineString(coords)
		}
	}
	return closure, true
}

func parseCount(f feature, index int) (models.TrafficCount, bool) {
	point, ok := pointCoords(f)
	if !ok {
		return models.TrafficCount{}, false
	}
	ts := parseTime(strOr(f.Properties, "timestamp", str(f.Properties, "fecha")))
	if ts == nil {
		return models.TrafficCount{}, false
	}
	return models.TrafficCount{
		ExternalID:    strOr(f.Properties, "id", fmt.Sprintf("traffic_%d", index)),
		LocationName:  strOr(f.Properties, "ubicacion", strOr(f.Properties, "nombre", "Sin ubicación")),
		Location:      point,
		CountType:     mapCountType(str(f.Properties, "tipo_conteo")),
		CountValue:    num(f.Properties, "valor", num(f.Properties, "conteo", 0)),
		Unit:          strOr(f.Properties, "unidad", "vehicles"),
		Timestamp:     *ts,
		PeriodMinutes: int(num(f.Properties, "periodo_minutos", 60)),
	}, true
}

func parseParking(f feature, index int) (models.ParkingSpot, bool) {
	point, ok := pointCoords(f)
	if !ok {
		return models.ParkingSpot{}, false
	}
	return models.ParkingSpot{
		ExternalID:      strOr(f.Properties, "id", fmt.Sprintf("parking_%d", index)),
		Name:            strOr(f.Properties, "nombre", strOr(f.Properties, "direccion", "Estacionamiento sin nombre")),
		Location:        point,
		SpotType:        mapParkingType(str(f.Properties, "tipo")),
		TotalSpaces:     int(num(f.Properties, "capacidad", 1)),
		AvailableSpaces: int(num(f.Properties, "disponibles", 0)),
	}, true
}

func pointCoords(f feature) (geo.Point, bool) {
	if f.Geometry.Type == "LineString" {
		var coords [][2]float64
		if json.Unmarshal(f.Geometry.Coordinates, &coords) == nil && len(coords) > 0 {
			return geo.Point{Lat: coords[0][1], Lon: coords[0][0]}, true
		}
		return geo.Point{}, false
	}
	var coords [2]float64
	if json.Unmarshal(f.Geometry.Coordinates, &coords) != nil {
		return geo.Point{}, false
	}
	if coords[0] == 0 && coords[1] == 0 {
		return geo.Point{}, false
	}
	return geo.Point{Lat: coords[1], Lon: coords[0]}, true
}

func mapClosureType(apiType string) string {
	switch strings.ToLower(apiType) {
	case "parcial":
		return "partial"
	case "alternado":
		return "alternating"
	case "restringido":
		return "restricted"
	default:
		return "total"
	}
}

func mapCountType(apiType string) models.CountType {
	switch strings.ToLower(apiType) {
	case "velocidad":
		return models.CountSpeed
	case "ocupacion":
		return models.CountOccupancy
	default:
		return models.CountVehicle
	}
}

func mapParkingType(apiType string) string {
	switch strings.ToLower(apiType) {
	case "cubierto":
		return "garage"
	case "playon":
		return "lot"
	case "emergencia":
		return "emergency"
	default:
		return "street"
	}
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func str(props map[string]any, key string) string {
	if v, ok := props[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func strOr(props map[string]any, key, fallback string) string {
	if v := str(props, key); v != "" {
		return v
	}
	return fallback
}

func num(props map[string]any, key string, fallback float64) float64 {
	switch v := props[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%f", &f); err == nil {
			return f
		}
	}
	return fallback
}
