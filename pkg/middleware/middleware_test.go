package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/embedded"
)

func newRouter(mw ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(mw...)
	r.Get("/debug/clients/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	return r
}

func serve(h http.Handler, method, path string) int {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr.Code
}

func histogramCount(t *testing.T, reg *prometheus.Registry, name, route string) uint64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() = %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			if labelValue(m, "route") == route {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

func TestPrometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newRouter(Prometheus(WithRegistry(reg)))

	serve(h, http.MethodGet, "/debug/clients/1")
	serve(h, http.MethodGet, "/debug/clients/2")
	serve(h, http.MethodGet, "/boom")
	serve(h, http.MethodGet, "/nowhere")

	m := newMetricsForTest(t, reg)
	tests := []struct {
		route, method, status string
		want                  float64
	}{
		{"/debug/clients/{id}", "GET", "200", 2},
		{"/boom", "GET", "500", 1},
		{unmatchedRoute, "GET", "404", 1},
	}
	for _, tt := range tests {
		got := testutil.ToFloat64(m.WithLabelValues(tt.route, tt.method, tt.status))
		if got != tt.want {
			t.Errorf("requests_total{%s,%s,%s} = %v, want %v", tt.route, tt.method, tt.status, got, tt.want)
		}
	}
	if got := histogramCount(t, reg, "kestrel_diag_request_duration_seconds", "/debug/clients/{id}"); got != 2 {
		t.Errorf("duration samples = %d, want 2", got)
	}
}

// newMetricsForTest finds the registered requests_total vector.
func newMetricsForTest(t *testing.T, reg *prometheus.Registry) *prometheus.CounterVec {
	t.Helper()
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kestrel",
		Subsystem: "diag",
		Name:      "requests_total",
		Help:      "Total number of diagnostic HTTP requests",
	}, []string{"route", "method", "status"})
	err := reg.Register(vec)
	are, ok := err.(prometheus.AlreadyRegisteredError)
	if !ok {
		t.Fatalf("Register() = %v, want AlreadyRegisteredError", err)
	}
	return are.ExistingCollector.(*prometheus.CounterVec)
}

func TestPrometheusOptions(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newRouter(Prometheus(
		WithRegistry(reg),
		WithNamespace("test"),
		WithSubsystem("http"),
		WithConstLabels(prometheus.Labels{"instance": "a"}),
		WithBuckets([]float64{1}),
	))
	serve(h, http.MethodGet, "/boom")
	if n := testutil.CollectAndCount(reg, "test_http_requests_total"); n != 1 {
		t.Errorf("test_http_requests_total series = %d, want 1", n)
	}
	if n := testutil.CollectAndCount(reg, "test_http_requests_in_flight"); n != 1 {
		t.Errorf("test_http_requests_in_flight series = %d, want 1", n)
	}
}

type recordedSpan struct {
	trace.Span
	mu     sync.Mutex
	name   string
	attrs  map[attribute.Key]attribute.Value
	status codes.Code
	ended  bool
}

func (s *recordedSpan) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

func (s *recordedSpan) SetAttributes(kv ...attribute.KeyValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range kv {
		s.attrs[a.Key] = a.Value
	}
}

func (s *recordedSpan) SetStatus(code codes.Code, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = code
}

func (s *recordedSpan) End(...trace.SpanEndOption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
}

type recordingTracer struct {
	embedded.Tracer
	mu    sync.Mutex
	spans []*recordedSpan
}

func (t *recordingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	cfg := trace.NewSpanStartConfig(opts...)
	s := &recordedSpan{
		Span:  trace.SpanFromContext(ctx),
		name:  name,
		attrs: map[attribute.Key]attribute.Value{},
	}
	s.SetAttributes(cfg.Attributes()...)
	t.mu.Lock()
	t.spans = append(t.spans, s)
	t.mu.Unlock()
	return trace.ContextWithSpan(ctx, s), s
}

type recordingProvider struct {
	embedded.TracerProvider
	tracer *recordingTracer
}

func (p *recordingProvider) Tracer(string, ...trace.TracerOption) trace.Tracer {
	return p.tracer
}

func TestOpenTelemetry(t *testing.T) {
	tp := &recordingProvider{tracer: &recordingTracer{}}
	h := newRouter(OpenTelemetry(
		WithTracerProvider(tp),
		WithTracerName("test"),
		WithRequestFilter(func(r *http.Request) bool { return r.URL.Path != "/nowhere" }),
	))

	serve(h, http.MethodGet, "/debug/clients/7")
	serve(h, http.MethodGet, "/boom")
	serve(h, http.MethodGet, "/nowhere")

	spans := tp.tracer.spans
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	tests := []struct {
		name   string
		status codes.Code
		code   int64
	}{
		{"GET /debug/clients/{id}", codes.Ok, 200},
		{"GET /boom", codes.Error, 500},
	}
	for i, tt := range tests {
		s := spans[i]
		if s.name != tt.name {
			t.Errorf("span %d name = %q, want %q", i, s.name, tt.name)
		}
		if s.status != tt.status {
			t.Errorf("span %d status = %v, want %v", i, s.status, tt.status)
		}
		if got := s.attrs["http.status_code"].AsInt64(); got != tt.code {
			t.Errorf("span %d http.status_code = %d, want %d", i, got, tt.code)
		}
		if !s.ended {
			t.Errorf("span %d not ended", i)
		}
	}
	if got := spans[0].attrs["http.target"].AsString(); got != "/debug/clients/7" {
		t.Errorf("http.target = %q, want /debug/clients/7", got)
	}
}
