package vnode

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queuedWorkCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riakpipe_vnode_queued_work_total",
		Help: "The total number of inputs enqueued on vnode work queues per fitting",
	}, []string{"fitting"})

	handoffsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riakpipe_vnode_handoffs_total",
		Help: "The total number of partition handoffs performed per fitting",
	}, []string{"fitting"})
)
