package i3s

import "github.com/prometheus/client_golang/prometheus"

// providerMetrics counts fetch and decode activity. Counters always exist
// so call sites never nil-check; they are only registered when the caller
// supplies a registerer.
type providerMetrics struct {
	fetches          prometheus.Counter
	fetchErrors      prometheus.Counter
	decodeDispatches prometheus.Counter
	decodePostponed  prometheus.Counter
	nodesLoaded      prometheus.Counter
}

func newProviderMetrics(reg prometheus.Registerer) *providerMetrics {
	m := &providerMetrics{
		fetches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "i3s", Name: "fetches_total",
			Help: "Resources fetched from the scene service.",
		}),
		fetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "i3s", Name: "fetch_errors_total",
			Help: "Fetches that failed with a transport or service error.",
		}),
		decodeDispatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "i3s", Name: "decode_dispatches_total",
			Help: "Geometry decode jobs accepted by the worker pool.",
		}),
		decodePostponed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "i3s", Name: "decode_postponed_total",
			Help: "Decode dispatches refused by a saturated worker pool.",
		}),
		nodesLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "i3s", Name: "nodes_loaded_total",
			Help: "Scene nodes whose metadata finished loading.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.fetches, m.fetchErrors, m.decodeDispatches, m.decodePostponed, m.nodesLoaded)
	}
	return m
}
