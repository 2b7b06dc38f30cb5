package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"time"
)

const (
	NumActiveSessions = "NumActiveSessions"
	NumGroups         = "NumGroups"
	MessagesSent      = "MessagesSent"
	DroppedDeliveries = "DroppedDeliveries"
)

// DefaultMetrics are the counters registered by the chat server.
var DefaultMetrics = []string{NumActiveSessions, NumGroups, MessagesSent, DroppedDeliveries}

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	Run()
}

type StatsUpdater struct {
	vars       *expvar.Map
	updateChan chan *metricsUpdateReq
}

type metricsUpdateReq struct {
	name  string
	value int
}

func (su *StatsUpdater) expvarHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	expvarData := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		expvarData[kv.Key] = value
	})

	json.NewEncoder(w).Encode(expvarData)
}

// NewStatsUpdater creates a stats updater serving its counters on
// GET /debug/vars. The map is not published to the global expvar registry,
// so several updaters can coexist in one process.
func NewStatsUpdater(mux *http.ServeMux, metrics ...string) *StatsUpdater {
	su := &StatsUpdater{
		vars:       new(expvar.Map).Init(),
		updateChan: make(chan *metricsUpdateReq, 512),
	}
	mux.Handle("GET /debug/vars", http.HandlerFunc(su.expvarHandler))
	su.initializeMetrics()

	for _, name := range metrics {
		su.RegisterMetric(name)
	}

	return su
}

func (su *StatsUpdater) initializeMetrics() {
	startTime := time.Now()
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))
}

func (su *StatsUpdater) updateMetrics() {
	for req := range su.updateChan {
		metric, ok := su.vars.Get(req.name).(*expvar.Int)
		if !ok {
			continue
		}

		metric.Add(int64(req.value))
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
}

func (su *StatsUpdater) Run() {
	go su.updateMetrics()
}

func (su *StatsUpdater) Stop() {
	close(su.updateChan)
}
