package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/MrEthical07/goVerify/metrics/export/internaldefs"
)

const contentType = "text/plain; version=0.0.4; charset=utf-8"

type metricsSource interface {
	MetricsSnapshot() goVerify.MetricsSnapshot
	AuditDropped() uint64
}

// auditStats is implemented by sources that also track delivered events and
// sink panics. [goVerify.Engine] does.
type auditStats interface {
	AuditDelivered() uint64
	AuditSinkPanics() uint64
}

// PrometheusExporter renders Engine metrics in Prometheus text exposition format.
type PrometheusExporter struct {
	source metricsSource
}

// NewPrometheusExporter creates an exporter that reads from engine.
func NewPrometheusExporter(engine *goVerify.Engine) *PrometheusExporter {
	return &PrometheusExporter{source: engine}
}

// NewPrometheusExporterFromSource creates an exporter from any snapshot source.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler serves Render.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render returns the current metrics. It is empty when the engine has
// metrics disabled and no audit events were dropped.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snap := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snap.Counters) == 0 && len(snap.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var w textWriter
	w.Grow(4096)

	for _, fam := range internaldefs.Families {
		w.header(fam.Name, fam.Help, "counter")
		for _, s := range fam.Series {
			w.sample(fam.Name, fam.LabelKey, s.Label, snap.Counters[s.ID])
		}
	}

	if raw, ok := snap.Histograms[internaldefs.AuthorizeDuration.ID]; ok {
		w.histogram(internaldefs.AuthorizeDuration.Name, internaldefs.AuthorizeDuration.Help, raw)
	}

	w.header("goverify_audit_events_total", "Audit events by dispatch outcome.", "counter")
	w.sample("goverify_audit_events_total", "outcome", "dropped", dropped)
	if stats, ok := p.source.(auditStats); ok {
		w.sample("goverify_audit_events_total", "outcome", "delivered", stats.AuditDelivered())
		w.sample("goverify_audit_events_total", "outcome", "sink_panic", stats.AuditSinkPanics())
	}

	return w.String()
}

type textWriter struct {
	strings.Builder
}

func (w *textWriter) header(name, help, kind string) {
	w.WriteString("# HELP " + name + " " + escapeHelp(help) + "\n")
	w.WriteString("# TYPE " + name + " " + kind + "\n")
}

func (w *textWriter) sample(name, key, value string, v uint64) {
	w.WriteString(name)
	if key != "" {
		w.WriteString("{" + key + "=\"" + escapeLabel(value) + "\"}")
	}
	w.WriteByte(' ')
	w.WriteString(strconv.FormatUint(v, 10))
	w.WriteByte('\n')
}

// histogram writes cumulative buckets. Engine snapshots carry no sum, so
// _sum is always 0.
func (w *textWriter) histogram(name, help string, raw []uint64) {
	w.header(name, help, "histogram")
	cum := internaldefs.Cumulative(internaldefs.Buckets(raw))
	for i, bound := range internaldefs.BucketBounds {
		w.sample(name+"_bucket", "le", internaldefs.FormatBound(bound), cum[i])
	}
	total := cum[len(cum)-1]
	w.sample(name+"_bucket", "le", "+Inf", total)
	w.sample(name+"_sum", "", "", 0)
	w.sample(name+"_count", "", "", total)
}

var (
	helpEscaper  = strings.NewReplacer(`\`, `\\`, "\n", `\n`)
	labelEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, `"`, `\"`)
)

func escapeHelp(s string) string  { return helpEscaper.Replace(s) }
func escapeLabel(s string) string { return labelEscaper.Replace(s) }
