package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"
)

// StatusResponse is the JSON body returned by GET /api/v1/status.
type StatusResponse struct {
	Service  ServiceStatus `json:"service"`
	Agents   []string      `json:"agents"`
	Channels []string      `json:"channels"`
	Feed     FeedStatus    `json:"feed"`
	Gateway  GatewayStatus `json:"gateway"`
	Bus      BusStatus     `json:"bus"`
	Submits  SubmitsStatus `json:"submits"`
}

// ServiceStatus holds process overview info.
type ServiceStatus struct {
	Name          string `json:"name"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// FeedStatus reports the audit feed position.
type FeedStatus struct {
	Seq uint64 `json:"seq"`
}

// GatewayStatus reports connection and push counters.
type GatewayStatus struct {
	Clients       int64 `json:"clients"`
	EventsPushed  int64 `json:"events_pushed"`
	EventsDropped int64 `json:"events_dropped"`
}

// BusStatus reports event bus counters.
type BusStatus struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
}

// SubmitsStatus reports submit outcomes since start.
type SubmitsStatus struct {
	Total    int64 `json:"total"`
	Failures int64 `json:"failures"`
	Faults   int64 `json:"faults"`
	Rejected int64 `json:"rejected"`
}

// RegisterRESTHandlers registers the token-protected status and metrics routes.
func RegisterRESTHandlers(s *Server, deps HandlerDeps, counters *Counters) {
	startTime := time.Now()

	authMiddleware := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			token := r.URL.Query().Get("token")
			if token == "" {
				token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if _, err := s.auth.Authenticate(token); err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}

	s.RegisterHTTPRoute("GET /api/v1/status", authMiddleware(statusHandler(s, deps, startTime, counters)))
	s.RegisterHTTPRoute("GET /metrics", authMiddleware(metricsHandler(s, deps, startTime, counters)))
}

func snapshot(s *Server, deps HandlerDeps, startTime time.Time, counters *Counters) StatusResponse {
	resp := StatusResponse{
		Service: ServiceStatus{
			Name:          "ppid",
			UptimeSeconds: int64(time.Since(startTime).Seconds()),
		},
		Agents:   []string{},
		Channels: deps.Channels,
		Gateway: GatewayStatus{
			Clients:       s.Clients(),
			EventsPushed:  s.pushed.Load(),
			EventsDropped: s.dropped.Load(),
		},
		Submits: SubmitsStatus{
			Total:    counters.Submits.Load(),
			Failures: counters.SubmitFailures.Load(),
			Faults:   counters.SubmitFaults.Load(),
			Rejected: counters.Rejected.Load(),
		},
	}
	if resp.Channels == nil {
		resp.Channels = []string{}
	}
	for _, id := range deps.Router.Agents() {
		resp.Agents = append(resp.Agents, string(id))
	}
	if deps.Feed != nil {
		resp.Feed.Seq = deps.Feed.Seq()
	}
	if deps.Bus != nil {
		resp.Bus.Published, resp.Bus.Dropped = deps.Bus.Stats()
	}
	return resp
}

// statusHandler returns an HTTP handler for GET /api/v1/status.
func statusHandler(s *Server, deps HandlerDeps, startTime time.Time, counters *Counters) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snapshot(s, deps, startTime, counters))
	}
}

// metricsHandler returns GET /metrics in the Prometheus text format.
func metricsHandler(s *Server, deps HandlerDeps, startTime time.Time, counters *Counters) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		st := snapshot(s, deps, startTime, counters)

		metric := func(name, kind, help string, value any) {
			fmt.Fprintf(w, "# HELP %s %s\n", name, help)
			fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
			fmt.Fprintf(w, "%s %v\n", name, value)
		}
		metric("ppi_agents_registered", "gauge", "Number of registered agents.", len(st.Agents))
		metric("ppi_feed_seq", "counter", "Last assigned audit sequence number.", st.Feed.Seq)
		metric("ppi_submits_total", "counter", "Messages submitted through the gateway.", st.Submits.Total)
		metric("ppi_submit_failures_total", "counter", "Submits that returned a failure result.", st.Submits.Failures)
		metric("ppi_submit_faults_total", "counter", "Submits that returned a collaborator fault.", st.Submits.Faults)
		metric("ppi_submit_rejected_total", "counter", "Submits rejected before routing.", st.Submits.Rejected)
		metric("ppi_gateway_clients", "gauge", "Connected websocket clients.", st.Gateway.Clients)
		metric("ppi_gateway_events_pushed_total", "counter", "Event frames queued to clients.", st.Gateway.EventsPushed)
		metric("ppi_gateway_events_dropped_total", "counter", "Event frames dropped for slow clients.", st.Gateway.EventsDropped)
		metric("ppi_bus_published_total", "counter", "Events published on the bus.", st.Bus.Published)
		metric("ppi_bus_dropped_total", "counter", "Bus deliveries dropped.", st.Bus.Dropped)
		metric("ppi_uptime_seconds", "gauge", "Seconds since start.", st.Service.UptimeSeconds)
		metric("go_goroutines", "gauge", "Number of goroutines.", runtime.NumGoroutine())
	}
}
