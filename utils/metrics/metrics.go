// Package metrics define los contadores Prometheus del kernel.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	dispatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "magios_dispatch_total",
		Help: "Envs despachados por core.",
	}, []string{"cpu"})

	halts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "magios_halt_total",
		Help: "Veces que un core se detuvo por falta de envs.",
	}, []string{"cpu"})

	forks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "magios_fork_total",
		Help: "Forks por resultado (ok, error).",
	}, []string{"result"})

	cowFaults = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "magios_cow_fault_total",
		Help: "Page faults copy-on-write reparados.",
	})

	syscalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "magios_syscall_total",
		Help: "Syscalls atendidas por nombre.",
	}, []string{"name"})
)

func init() {
	Registry.MustRegister(dispatches, halts, forks, cowFaults, syscalls)
}

func Dispatch(cpu int) { dispatches.WithLabelValues(strconv.Itoa(cpu)).Inc() }

func Halt(cpu int) { halts.WithLabelValues(strconv.Itoa(cpu)).Inc() }

func Fork(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	forks.WithLabelValues(result).Inc()
}

func COWFault() { cowFaults.Inc() }

func Syscall(name string) { syscalls.WithLabelValues(name).Inc() }

// Handler expone el registro en formato Prometheus.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
