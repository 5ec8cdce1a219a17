package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/TimTheToolman/riak-pipe/fitting"
	"github.com/TimTheToolman/riak-pipe/pipe"
	"github.com/TimTheToolman/riak-pipe/sink"
	"github.com/TimTheToolman/riak-pipe/vnode"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"golang.org/x/xerrors"
)

var (
	appName = "riak-pipe-demo"
	appSha  = "populated-at-link-time"
	logger  *logrus.Entry
)

func main() {
	host, _ := os.Hostname()
	rootLogger := logrus.New()
	rootLogger.SetFormatter(new(logrus.JSONFormatter))
	logger = rootLogger.WithFields(logrus.Fields{
		"app":  appName,
		"sha":  appSha,
		"host": host,
	})

	if err := makeApp().Run(os.Args); err != nil {
		logger.WithField("err", err).Error("shutting down due to error")
		_ = os.Stderr.Sync()
		os.Exit(1)
	}
}

func makeApp() *cli.App {
	app := cli.NewApp()
	app.Name = appName
	app.Version = appSha
	app.Flags = []cli.Flag{
		cli.IntFlag{
			Name:   "http-port",
			Value:  8080,
			EnvVar: "HTTP_PORT",
			Usage:  "The port for exposing the metrics and status endpoints",
		},
		cli.IntFlag{
			Name:   "pprof-port",
			Value:  6060,
			EnvVar: "PPROF_PORT",
			Usage:  "The port for exposing pprof endpoints",
		},
		cli.IntFlag{
			Name:   "partitions",
			Value:  4,
			EnvVar: "PARTITIONS",
			Usage:  "The number of partitions to spread each stage's inputs across",
		},
		cli.IntFlag{
			Name:   "num-inputs",
			Value:  64,
			EnvVar: "NUM_INPUTS",
			Usage:  "The number of inputs to feed through the demo pipeline",
		},
		cli.BoolFlag{
			Name:   "trace",
			EnvVar: "TRACE",
			Usage:  "Enable per-input debug logging in workers",
		},
	}
	app.Action = runMain
	return app
}

func runMain(appCtx *cli.Context) error {
	numPartitions := appCtx.Int("partitions")
	if numPartitions <= 0 {
		return xerrors.Errorf("invalid partition count %d", numPartitions)
	}

	if appCtx.Bool("trace") {
		logger.Logger.SetLevel(logrus.DebugLevel)
	}

	fitting.Register("square", squareModule{})
	fitting.Register("tag", tagModule{})

	assignment := vnode.NewAssignment(logger)
	vn, err := vnode.New(vnode.Config{Router: assignment, Logger: logger})
	if err != nil {
		return err
	}
	defer func() { _ = vn.Close() }()
	for p := 0; p < numPartitions; p++ {
		assignment.Assign(fitting.Partition(p), vn)
	}

	resultSink := sink.NewMemory()
	pipeline, err := pipe.Exec(pipe.Config{
		Specs: []fitting.Spec{
			{
				Name:   "square",
				Module: "square",
				Partfun: fitting.PartitionBy(func(output interface{}) fitting.Partition {
					return fitting.Partition(output.(int) % numPartitions)
				}),
			},
			{
				Name:    "tag",
				Module:  "tag",
				Partfun: fitting.Follow,
			},
		},
		Sink:       resultSink,
		Router:     assignment,
		Dispatcher: assignment,
		Options:    fitting.Options{Trace: appCtx.Bool("trace")},
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	go serveHTTP(appCtx.Int("http-port"), pipeline)
	go servePprof(appCtx.Int("pprof-port"))

	numInputs := appCtx.Int("num-inputs")
	logger.WithField("num_inputs", numInputs).Info("feeding inputs through demo pipeline")
	for i := 1; i <= numInputs; i++ {
		if err := pipeline.QueueWork(i); err != nil {
			pipeline.Abort(err)
			return err
		}
	}
	pipeline.EOI()
	<-resultSink.Done()

	logger.WithField("num_results", len(resultSink.Results())).Info("pipeline drained")
	for _, res := range resultSink.Results() {
		logger.WithFields(logrus.Fields{
			"stage":  res.Stage,
			"output": res.Output,
		}).Debug("sink result")
	}
	return nil
}

func serveHTTP(port int, pipeline *pipe.Pipeline) {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		type stageStatus struct {
			Stage      int                 `json:"stage"`
			Name       string              `json:"name"`
			Partitions []fitting.Partition `json:"partitions,omitempty"`
			Gone       bool                `json:"gone,omitempty"`
		}
		var statuses []stageStatus
		for i := 0; i < pipeline.NumStages(); i++ {
			h, _ := pipeline.Handle(i)
			status := stageStatus{Stage: i, Name: h.Name()}
			if parts, err := h.Workers(); err == nil {
				status.Partitions = parts
			} else {
				status.Gone = true
			}
			statuses = append(statuses, status)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(statuses)
	})

	if err := http.ListenAndServe(fmt.Sprintf(":%d", port), router); err != nil {
		logger.WithField("err", err).Error("http server shut down")
	}
}

func servePprof(port int) {
	if err := http.ListenAndServe(fmt.Sprintf(":%d", port), nil); err != nil {
		logger.WithField("err", err).Error("pprof server shut down")
	}
}

// squareModule emits the square of each integer input.
type squareModule struct{}

func (squareModule) Init(fitting.Partition, *fitting.Details) (interface{}, error) {
	return nil, nil
}

func (squareModule) Process(input interface{}, state interface{}, emit fitting.EmitFunc) (interface{}, error) {
	n, ok := input.(int)
	if !ok {
		return state, xerrors.Errorf("expected int input; got %T", input)
	}
	return state, emit(n * n)
}

func (squareModule) Done(interface{}) error { return nil }

// tagModule formats each input as a printable result line.
type tagModule struct{}

func (tagModule) Init(fitting.Partition, *fitting.Details) (interface{}, error) {
	return nil, nil
}

func (tagModule) Process(input interface{}, state interface{}, emit fitting.EmitFunc) (interface{}, error) {
	return state, emit(fmt.Sprintf("square=%v", input))
}

func (tagModule) Done(interface{}) error { return nil }
