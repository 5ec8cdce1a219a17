package fitting

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	inputsProcessedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riakpipe_fitting_inputs_processed_total",
		Help: "The total number of inputs processed by the workers of each fitting",
	}, []string{"fitting"})

	outputsEmittedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riakpipe_fitting_outputs_emitted_total",
		Help: "The total number of outputs emitted by the workers of each fitting",
	}, []string{"fitting"})

	workersStartedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riakpipe_fitting_workers_started_total",
		Help: "The total number of workers that completed initialization for each fitting",
	}, []string{"fitting"})

	workersDoneCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riakpipe_fitting_workers_done_total",
		Help: "The total number of workers that terminated normally for each fitting",
	}, []string{"fitting"})

	eoiForwardedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riakpipe_fitting_eoi_forwarded_total",
		Help: "The total number of end-of-inputs signals forwarded downstream by each fitting",
	}, []string{"fitting"})
)
