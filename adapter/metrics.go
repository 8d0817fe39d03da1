package adapter

import "github.com/prometheus/client_golang/prometheus"

var (
	commandCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pendingq_admin_commands_total",
		Help: "Total number of admin protocol commands",
	}, []string{"command", "status"})
)

func init() {
	prometheus.MustRegister(commandCounter)
}
