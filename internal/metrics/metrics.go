// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 所有権ガード、エクスポートパイプライン、共有アクションから利用する。
type MetricsCollector interface {
	RecordOwnershipDenial(reason string)
	RecordInvoiceCreated()
	RecordExport(outcome string, duration time.Duration)
	RecordAssetWait(outcome string)
	RecordShareAction(action, outcome string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	ownershipDenials *prometheus.CounterVec
	invoicesCreated  prometheus.Counter
	exports          *prometheus.CounterVec
	exportLatency    prometheus.Histogram
	assetWaits       *prometheus.CounterVec
	shareActions     *prometheus.CounterVec
	httpStatus       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		ownershipDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clearbill_ownership_denials_total",
			Help: "所有権ガードによるアクセス拒否数（理由別）",
		}, []string{"reason"}),
		invoicesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clearbill_invoices_created_total",
			Help: "作成された請求書の合計数",
		}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clearbill_pdf_exports_total",
			Help: "PDFエクスポート数（結果別）",
		}, []string{"outcome"}),
		exportLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "clearbill_pdf_export_duration_seconds",
			Help:    "PDFエクスポートの所要時間（秒）",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}),
		assetWaits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clearbill_export_asset_waits_total",
			Help: "エクスポート時の画像待機結果（loaded, error, timeout）",
		}, []string{"outcome"}),
		shareActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clearbill_share_actions_total",
			Help: "共有アクションの実行数（アクション・結果別）",
		}, []string{"action", "outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clearbill_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.ownershipDenials,
		c.invoicesCreated,
		c.exports,
		c.exportLatency,
		c.assetWaits,
		c.shareActions,
		c.httpStatus,
	)

	return c
}

// RecordOwnershipDenial は所有権ガードの拒否を記録する。
func (c *Collector) RecordOwnershipDenial(reason string) {
	c.ownershipDenials.WithLabelValues(reason).Inc()
}

// RecordInvoiceCreated は請求書作成を記録する。
func (c *Collector) RecordInvoiceCreated() {
	c.invoicesCreated.Inc()
}

// RecordExport はエクスポート結果と所要時間を記録する。
func (c *Collector) RecordExport(outcome string, duration time.Duration) {
	c.exports.WithLabelValues(outcome).Inc()
	c.exportLatency.Observe(duration.Seconds())
}

// RecordAssetWait は画像1件分の待機結果を記録する。
func (c *Collector) RecordAssetWait(outcome string) {
	c.assetWaits.WithLabelValues(outcome).Inc()
}

// RecordShareAction は共有アクションの結果を記録する。
func (c *Collector) RecordShareAction(action, outcome string) {
	c.shareActions.WithLabelValues(action, outcome).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordOwnershipDenial(string)       {}
func (Nop) RecordInvoiceCreated()              {}
func (Nop) RecordExport(string, time.Duration) {}
func (Nop) RecordAssetWait(string)             {}
func (Nop) RecordShareAction(string, string)   {}
func (Nop) RecordHTTPStatus(int)               {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// 収集中のエラーは500にせず、取得できたメトリクスだけを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
