// Package observability records per-request metrics and access logs.
package observability

import (
	"database/sql"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"ieltsadmin/internal/auth"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

type key struct {
	Method string
	Path   string
	Status int
}

type stat struct {
	Count     int64
	LatencyMS float64
}

type Collector struct {
	db  *sql.DB
	log logrus.FieldLogger

	mu           sync.RWMutex
	requestStats map[key]stat
	startedAt    time.Time
}

func NewCollector(db *sql.DB, log logrus.FieldLogger) *Collector {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Collector{
		db:           db,
		log:          log,
		requestStats: make(map[key]stat),
		startedAt:    time.Now(),
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		ctx, userID := auth.WithUserSlot(r.Context())
		r = r.WithContext(ctx)
		next.ServeHTTP(rec, r)

		latencyMS := float64(time.Since(start).Microseconds()) / 1000.0
		path := normalizedPath(r.URL.Path)

		c.mu.Lock()
		k := key{Method: r.Method, Path: path, Status: rec.status}
		s := c.requestStats[k]
		s.Count++
		s.LatencyMS += latencyMS
		c.requestStats[k] = s
		c.mu.Unlock()

		fields := logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       path,
			"status":     rec.status,
			"latency_ms": latencyMS,
			"remote_ip":  strings.TrimSpace(r.RemoteAddr),
		}
		if *userID != 0 {
			fields["user_id"] = *userID
		}
		for name, id := range extractIDs(r.URL.Path) {
			fields[name] = id
		}

		entry := c.log.WithFields(fields)
		switch {
		case rec.status >= 500:
			entry.Error("request")
		case rec.status >= 400:
			entry.Warn("request")
		default:
			entry.Info("request")
		}
	})
}

func (c *Collector) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	statsCopy := make(map[key]stat, len(c.requestStats))
	for k, v := range c.requestStats {
		statsCopy[k] = v
	}
	startedAt := c.startedAt
	c.mu.RUnlock()

	keys := make([]key, 0, len(statsCopy))
	for k := range statsCopy {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Method != keys[j].Method {
			return keys[i].Method < keys[j].Method
		}
		if keys[i].Path != keys[j].Path {
			return keys[i].Path < keys[j].Path
		}
		return keys[i].Status < keys[j].Status
	})

	var sb strings.Builder
	sb.WriteString("# TYPE ielts_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "ielts_uptime_seconds %.0f\n", time.Since(startedAt).Seconds())

	sb.WriteString("# TYPE ielts_http_requests_total counter\n")
	sb.WriteString("# TYPE ielts_http_request_latency_ms_sum counter\n")
	for _, k := range keys {
		s := statsCopy[k]
		labels := fmt.Sprintf("method=%q,path=%q,status=\"%d\"", k.Method, k.Path, k.Status)
		fmt.Fprintf(&sb, "ielts_http_requests_total{%s} %d\n", labels, s.Count)
		fmt.Fprintf(&sb, "ielts_http_request_latency_ms_sum{%s} %.3f\n", labels, s.LatencyMS)
	}

	if c.db != nil {
		dbs := c.db.Stats()
		sb.WriteString("# TYPE ielts_db_open_connections gauge\n")
		fmt.Fprintf(&sb, "ielts_db_open_connections %d\n", dbs.OpenConnections)
		sb.WriteString("# TYPE ielts_db_in_use_connections gauge\n")
		fmt.Fprintf(&sb, "ielts_db_in_use_connections %d\n", dbs.InUse)
		sb.WriteString("# TYPE ielts_db_wait_count counter\n")
		fmt.Fprintf(&sb, "ielts_db_wait_count %d\n", dbs.WaitCount)
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(sb.String()))
}

// normalizedPath folds numeric ids and uuids so metrics stay low-cardinality.
// Blob keys under /media and /uploads collapse to the prefix.
func normalizedPath(path string) string {
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if p == "media" || (p == "uploads" && i+1 < len(parts) && parts[i+1] != "" && !isID(parts[i+1])) {
			return strings.Join(parts[:i+1], "/") + "/*"
		}
		if isID(p) {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

func isID(p string) bool {
	if _, err := strconv.ParseInt(p, 10, 64); err == nil {
		return true
	}
	return len(p) == 36 && strings.Count(p, "-") == 4
}

var idSegments = map[string]string{
	"tracks":   "track_id",
	"exams":    "exam_id",
	"attempts": "attempt_id",
	"students": "student_id",
}

func extractIDs(path string) map[string]int64 {
	out := map[string]int64{}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i < len(parts)-1; i++ {
		name, ok := idSegments[parts[i]]
		if !ok {
			continue
		}
		if id, err := strconv.ParseInt(parts[i+1], 10, 64); err == nil {
			out[name] = id
		}
	}
	return out
}
