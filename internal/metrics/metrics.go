package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	DispatchCalls        *prometheus.CounterVec
	OrdersConfirmed      prometheus.Counter
	ConfirmationRejected *prometheus.CounterVec
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	dispatchCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_dispatch_calls_total",
		Help: "Function-dispatch calls by function name and outcome.",
	}, []string{"function", "outcome"})
	ordersConfirmed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assistant_orders_confirmed_total",
		Help: "Carts promoted into accepted orders.",
	})
	confirmationRejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_confirmation_rejected_total",
		Help: "Confirmation attempts rejected, by reason kind.",
	}, []string{"reason"})

	r.MustRegister(dispatchCalls, ordersConfirmed, confirmationRejected)
	return &Registry{
		reg:                  r,
		DispatchCalls:        dispatchCalls,
		OrdersConfirmed:      ordersConfirmed,
		ConfirmationRejected: confirmationRejected,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
