package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	plansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatchd_plans_total",
		Help: "Completed dispatch plans by incident code.",
	}, []string{"code"})

	routesPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatchd_routes_persisted_total",
		Help: "Calculated routes persisted by routing provider.",
	}, []string{"provider"})

	triageFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatchd_triage_fallback_total",
		Help: "Cloud triage failures absorbed by the rules layer.",
	})

	resolutionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatchd_resolutions_total",
		Help: "Incidents resolved.",
	})
)
