package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/sessionauth"
	"github.com/MrEthical07/sessionauth/metrics/export/internaldefs"
)

// Source is what the exporter renders. *sessionauth.Authenticator
// satisfies it.
type Source interface {
	MetricsSnapshot() sessionauth.MetricsSnapshot
	AuditDropped() uint64
}

// Exporter renders sessionauth metrics in the Prometheus text format.
type Exporter struct {
	source Source
}

// New returns an Exporter reading from auth.
func New(auth *sessionauth.Authenticator) *Exporter {
	if auth == nil {
		return &Exporter{}
	}
	return &Exporter{source: auth}
}

// NewFromSource returns an Exporter reading from source.
func NewFromSource(source Source) *Exporter {
	return &Exporter{source: source}
}

// Handler serves Render.
func (e *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(e.Render()))
	})
}

// Render returns the exposition text, or "" when metrics are disabled.
func (e *Exporter) Render() string {
	if e == nil || e.source == nil {
		return ""
	}

	snap := e.source.MetricsSnapshot()
	dropped := e.source.AuditDropped()
	if len(snap.Counters) == 0 && len(snap.Histograms) == 0 && dropped == 0 {
		return ""
	}

	w := writer{}
	w.Grow(4096)
	for _, def := range internaldefs.Counters {
		w.counter(def.Name, def.Help, snap.Counters[def.ID])
	}
	for _, def := range internaldefs.Histograms {
		raw, ok := snap.Histograms[def.ID]
		if !ok {
			continue
		}
		w.histogram(def.Name, def.Help, internaldefs.Cumulative(raw))
	}
	w.counter(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, dropped)
	return w.String()
}

type writer struct {
	strings.Builder
}

func (w *writer) header(name, help, kind string) {
	w.WriteString("# HELP " + name + " " + escapeHelp(help) + "\n")
	w.WriteString("# TYPE " + name + " " + kind + "\n")
}

func (w *writer) sample(name string, v uint64) {
	w.WriteString(name)
	w.WriteByte(' ')
	w.WriteString(strconv.FormatUint(v, 10))
	w.WriteByte('\n')
}

func (w *writer) counter(name, help string, v uint64) {
	w.header(name, help, "counter")
	w.sample(name, v)
}

// The snapshot carries no sum, so _sum is always 0.
func (w *writer) histogram(name, help string, cum [internaldefs.BucketCount]uint64) {
	w.header(name, help, "histogram")
	for i, le := range internaldefs.Bounds {
		w.sample(name+`_bucket{le="`+le+`"}`, cum[i])
	}
	w.sample(name+"_count", cum[len(cum)-1])
	w.sample(name+"_sum", 0)
}

func escapeHelp(help string) string {
	return strings.NewReplacer(`\`, `\\`, "\n", `\n`).Replace(help)
}
