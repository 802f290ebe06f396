package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	Run()
}

// StatsUpdater serializes metric updates through a single goroutine and
// publishes them both as expvar values and as a prometheus gauge vector.
type StatsUpdater struct {
	vars       *expvar.Map
	registry   *prometheus.Registry
	gauges     *prometheus.GaugeVec
	updateChan chan *metricsUpdateReq
	done       chan struct{}
}

type metricsUpdateReq struct {
	name  string
	value int
}

// NewStatsUpdater creates a new stats updater instance.
func NewStatsUpdater() *StatsUpdater {
	su := &StatsUpdater{
		vars:       new(expvar.Map).Init(),
		registry:   prometheus.NewRegistry(),
		updateChan: make(chan *metricsUpdateReq, 512),
		done:       make(chan struct{}),
		gauges: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "chatstream",
			Name:      "stat",
			Help:      "Chat stream server counters and gauges.",
		}, []string{"name"}),
	}
	su.registry.MustRegister(su.gauges)
	su.initializeMetrics()

	return su
}

func (su *StatsUpdater) initializeMetrics() {
	startTime := time.Now()
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))
	su.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "chatstream",
		Name:      "uptime_seconds",
		Help:      "Seconds since the server started.",
	}, func() float64 {
		return time.Since(startTime).Seconds()
	}))
}

// ExpvarHandler serves the current values as a flat JSON object.
func (su *StatsUpdater) ExpvarHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	expvarData := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		expvarData[kv.Key] = value
	})

	json.NewEncoder(w).Encode(expvarData)
}

func (su *StatsUpdater) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(su.registry, promhttp.HandlerOpts{})
}

func (su *StatsUpdater) updateMetrics() {
	defer close(su.done)
	for req := range su.updateChan {
		metric := su.vars.Get(req.name)
		if metric == nil {
			panic("metric not found: " + req.name)
		}

		metric.(*expvar.Int).Add(int64(req.value))
		su.gauges.WithLabelValues(req.name).Add(float64(req.value))
	}
}

func (su *StatsUpdater) Incr(name string) {
	su.updateChan <- &metricsUpdateReq{name: name, value: 1}
}

func (su *StatsUpdater) Decr(name string) {
	su.updateChan <- &metricsUpdateReq{name: name, value: -1}
}

func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, new(expvar.Int))
	su.gauges.WithLabelValues(name).Set(0)
}

func (su *StatsUpdater) Run() {
	go su.updateMetrics()
}

// Stop closes the update queue and waits for pending updates to apply.
func (su *StatsUpdater) Stop() {
	close(su.updateChan)
	<-su.done
}
