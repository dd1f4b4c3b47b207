package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	dispatcherrors "github.com/sirenlab/dispatchd/internal/errors"
	"github.com/sirenlab/dispatchd/internal/geo"
	"github.com/sirenlab/dispatchd/internal/models"
)

type incidentRequest struct {
	Description string   `json:"description"`
	Address     string   `json:"address,omitempty"`
	Lat         *float64 `json:"lat,omitempty"`
	Lon         *float64 `json:"lon,omitempty"`
}

type resolveRequest struct {
	Notes string `json:"notes,omitempty"`
}

// handleIncidents serves the collection: POST creates, GET lists.
func (r *Router) handleIncidents(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost:
		r.handleCreateIncident(w, req)
	case http.MethodGet:
		r.handleListIncidents(w, req)
	default:
		methodNotAllowed(w)
	}
}

func (r *Router) handleCreateIncident(w http.ResponseWriter, req *http.Request) {
	var body incidentRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		r.writeError(w, dispatcherrors.Validation("create_incident",
			fmt.Errorf("invalid JSON body: %w", err)))
		return
	}

	inc, err := r.buildIncident(req, body)
	if err != nil {
		r.writeError(w, err)
		return
	}
	if err := r.store.CreateIncident(req.Context(), inc); err != nil {
		r.writeError(w, err)
		return
	}

	r.logger.Info().Str("public_id", inc.PublicID).Msg("Incident reported")
	writeJSON(w, http.StatusCreated, inc)
}

// buildIncident validates ingress input. Coordinates win over the address;
// an address without a geocoder, or neither, is a geocoding failure.
func (r *Router) buildIncident(req *http.Request, body incidentRequest) (*models.Incident, error) {
	if strings.TrimSpace(body.Description) == "" {
		return nil, dispatcherrors.Validation("create_incident",
			fmt.Errorf("description is required"))
	}

	var location *geo.Point
	switch {
	case body.Lat != nil && body.Lon != nil:
		location = &geo.Point{Lat: *body.Lat, Lon: *body.Lon}
	case strings.TrimSpace(body.Address) != "" && r.geocoder != nil:
		p, err := r.geocoder.Geocode(req.Context(), body.Address)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", dispatcherrors.ErrGeocoding, err)
		}
		location = &p
	default:
		return nil, fmt.Errorf("%w: no coordinates and no resolvable address",
			dispatcherrors.ErrGeocoding)
	}

	inc := &models.Incident{
		Description: strings.TrimSpace(body.Description),
		Address:     strings.TrimSpace(body.Address),
		Location:    location,
		Status:      models.IncidentPending,
	}
	// Until triage runs during planning the incident sits in the lowest band.
	inc.ApplyCode(models.CodeGreen)
	return inc, nil
}

func (r *Router) handleListIncidents(w http.ResponseWriter, req *http.Request) {
	status := models.IncidentStatus(req.URL.Query().Get("status"))
	incidents, err := r.store.ListIncidents(req.Context(), status)
	if err != nil {
		r.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, incidents)
}

// handleIncidentSubroutes dispatches /api/incidents/{id}[/action].
func (r *Router) handleIncidentSubroutes(w http.ResponseWriter, req *http.Request) {
	rest := strings.TrimPrefix(req.URL.Path, "/api/incidents/")
	idPart, action, _ := strings.Cut(strings.Trim(rest, "/"), "/")

	inc, err := r.lookupIncident(req, idPart)
	if err != nil {
		r.writeError(w, err)
		return
	}

	switch action {
	case "":
		if req.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		r.handleGetIncident(w, req, inc)
	case "plan":
		if req.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		r.handlePlan(w, req, inc)
	case "routes":
		if req.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		r.handleRoutes(w, req, inc)
	case "resolve":
		if req.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		r.handleResolve(w, req, inc)
	case "green-wave":
		if req.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		r.handleGreenWaveActivate(w, req, inc)
	case "tracking":
		if req.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		r.handleIncidentTracking(w, req, inc)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	}
}

// lookupIncident accepts both the numeric ID and the public ULID.
func (r *Router) lookupIncident(req *http.Request, idPart string) (*models.Incident, error) {
	if id, err := strconv.ParseInt(idPart, 10, 64); err == nil {
		return r.store.GetIncident(req.Context(), id)
	}
	return r.store.GetIncidentByPublicID(req.Context(), idPart)
}

func (r *Router) handleGetIncident(w http.ResponseWriter, req *http.Request, inc *models.Incident) {
	dispatches, err := r.store.DispatchesForIncident(req.Context(), inc.ID)
	if err != nil {
		r.writeError(w, err)
		return
	}
	routes, err := r.store.RoutesForIncident(req.Context(), inc.ID)
	if err != nil {
		r.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"incident":   inc,
		"dispatches": dispatches,
		"routes":     routes,
	})
}

func (r *Router) handlePlan(w http.ResponseWriter, req *http.Request, inc *models.Incident) {
	result, err := r.planner.Plan(req.Context(), inc.ID)
	if err != nil {
		// A rejected re-plan of a resolved incident still carries the
		// frozen routes; surface them alongside the conflict.
		if result != nil && errors.Is(err, dispatcherrors.ErrConflict) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":  err.Error(),
				"routes": result.Routes,
			})
			return
		}
		r.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (r *Router) handleRoutes(w http.ResponseWriter, req *http.Request, inc *models.Incident) {
	routes, err := r.store.ActiveRoutes(req.Context(), inc.ID)
	if err != nil {
		r.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, routes)
}

func (r *Router) handleResolve(w http.ResponseWriter, req *http.Request, inc *models.Incident) {
	var body resolveRequest
	if req.Body != nil {
		json.NewDecoder(req.Body).Decode(&body)
	}
	if err := r.planner.Resolve(req.Context(), inc.ID, body.Notes); err != nil {
		r.writeError(w, err)
		return
	}
	resolved, err := r.store.GetIncident(req.Context(), inc.ID)
	if err != nil {
		r.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}

// handleGreenWaveActivate re-opens the wave using the currently dispatched
// resources of the incident.
func (r *Router) handleGreenWaveActivate(w http.ResponseWriter, req *http.Request, inc *models.Incident) {
	if inc.Code != models.CodeRed {
		r.writeError(w, dispatcherrors.Validation("activate_green_wave",
			fmt.Errorf("incident %d is not red-code", inc.ID)))
		return
	}

	positions, err := r.dispatchedPositions(req, inc)
	if err != nil {
		r.writeError(w, err)
		return
	}
	wave := r.greenWave.ActivateWave(req.Context(), inc, positions)
	if wave == nil {
		writeJSON(w, http.StatusOK, map[string]any{"windows": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, wave)
}

func (r *Router) dispatchedPositions(req *http.Request, inc *models.Incident) (map[string]geo.Point, error) {
	dispatches, err := r.store.DispatchesForIncident(req.Context(), inc.ID)
	if err != nil {
		return nil, err
	}
	positions := map[string]geo.Point{}
	for _, d := range dispatches {
		if d.VehicleID != nil {
			if v, err := r.store.GetVehicle(req.Context(), *d.VehicleID); err == nil &&
				v.CurrentLocation != nil {
				positions[models.VehicleResourceID(v.ID)] = *v.CurrentLocation
			}
		}
		if d.AgentID != nil {
			if a, err := r.store.GetAgent(req.Context(), *d.AgentID); err == nil &&
				a.CurrentLocation != nil {
				positions[models.AgentResourceID(a.ID)] = *a.CurrentLocation
			}
		}
	}
	return positions, nil
}

func (r *Router) handleIncidentTracking(w http.ResponseWriter, req *http.Request, inc *models.Incident) {
	snaps, err := r.tracker.ForIncident(req.Context(), inc.ID)
	if err != nil {
		r.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}
