// Package export は描画済みの請求書ビューをA4のPDFに変換する。
//
// 処理順序は 対象要素の複製とテーマ正規化 → 画像のインライン化 → ブラウザへの読み込み →
// 画像の待機 → 2倍スケールでのキャプチャ → A4ページへの配置 で固定されている。
// 元のHTMLは変更しない。
package export

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hitoshi/clearbill/internal/metrics"
	"github.com/hitoshi/clearbill/internal/model"
)

// DefaultSelector はプレビュー画面で請求書を囲む要素のセレクタ。
const DefaultSelector = "#invoice-preview"

// エクスポート結果（メトリクスのラベル）
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Browser はHTML文書を読み込んだページを開く。
type Browser interface {
	Open(ctx context.Context, document string) (Page, error)
}

// Page はブラウザに読み込まれた1つの文書。
type Page interface {
	// ImageWaiters はselector配下の画像ごとの待機関数を返す。
	ImageWaiters(ctx context.Context, selector string) ([]AssetWaiter, error)
	// Capture はselectorの要素をscale倍でPNGにキャプチャする。
	Capture(ctx context.Context, selector string, scale float64) ([]byte, error)
	Close()
}

// Config はPipelineの設定。
type Config struct {
	Selector     string
	ImageTimeout time.Duration
	SettleDelay  time.Duration
	Scale        float64
}

// Request はエクスポート要求。
type Request struct {
	InvoiceNumber string
	// HTML は描画済みのプレビュー画面全体。
	HTML string
	// LightMode がtrueの場合、表示テーマに関係なくライトテーマで出力する。
	LightMode bool
}

// Result はエクスポート結果。
type Result struct {
	Filename string
	PDF      []byte
	Layout   Layout
	Assets   BarrierStats
	Inline   InlineStats
}

// Pipeline はエクスポート処理を順に実行する。
type Pipeline struct {
	browser Browser
	inliner *AssetInliner
	metrics metrics.MetricsCollector
	cfg     Config
}

// NewPipeline はPipelineを生成する。inlinerがnilの場合は画像をインライン化しない。
func NewPipeline(browser Browser, inliner *AssetInliner, collector metrics.MetricsCollector, cfg Config) *Pipeline {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if cfg.Selector == "" {
		cfg.Selector = DefaultSelector
	}
	if cfg.ImageTimeout <= 0 {
		cfg.ImageTimeout = 3 * time.Second
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.Scale <= 0 {
		cfg.Scale = 2
	}
	return &Pipeline{browser: browser, inliner: inliner, metrics: collector, cfg: cfg}
}

// Export は請求書をPDFに変換する。
// 途中のどの段階で失敗しても部分的なファイルは返さず、原因をログに出力したうえで
// EXPORT_FAILEDのAPIErrorを返す。
func (p *Pipeline) Export(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	result, step, err := p.run(ctx, req)
	if err != nil {
		p.metrics.RecordExport(OutcomeFailure, time.Since(start))
		slog.Error("invoice export failed",
			slog.String("invoice_number", req.InvoiceNumber),
			slog.String("step", step),
			slog.String("error", err.Error()),
		)
		return nil, model.NewExportFailedError()
	}

	p.metrics.RecordExport(OutcomeSuccess, time.Since(start))
	slog.Info("invoice exported",
		slog.String("filename", result.Filename),
		slog.Int("bytes", len(result.PDF)),
		slog.Int("images_loaded", result.Assets.Loaded),
		slog.Int("images_errored", result.Assets.Errored),
		slog.Int("images_timed_out", result.Assets.TimedOut),
		slog.Int("images_inlined", result.Inline.Inlined),
		slog.Int("images_blanked", result.Inline.Blanked),
		slog.Duration("duration", time.Since(start)),
	)
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, req Request) (*Result, string, error) {
	doc, err := html.Parse(strings.NewReader(req.HTML))
	if err != nil {
		return nil, "parse", err
	}

	clone, err := CloneSubtree(doc, p.cfg.Selector)
	if err != nil {
		return nil, "clone", err
	}
	if req.LightMode {
		NormalizeTheme(clone, ThemeOverrides)
	}
	var inline InlineStats
	if p.inliner != nil {
		inline = p.inliner.Inline(ctx, clone)
	}

	document, err := BuildDocument(doc, clone)
	if err != nil {
		return nil, "build", err
	}

	page, err := p.browser.Open(ctx, document)
	if err != nil {
		return nil, "open", err
	}
	defer page.Close()

	waiters, err := page.ImageWaiters(ctx, p.cfg.Selector)
	if err != nil {
		return nil, "assets", err
	}
	stats, err := WaitForAssets(ctx, waiters, p.cfg.ImageTimeout, p.cfg.SettleDelay, p.metrics.RecordAssetWait)
	if err != nil {
		return nil, "assets", err
	}

	raster, err := page.Capture(ctx, p.cfg.Selector, p.cfg.Scale)
	if err != nil {
		return nil, "rasterize", err
	}

	pdf, layout, err := ComposePDF(raster)
	if err != nil {
		return nil, "compose", err
	}

	return &Result{
		Filename: Filename(req.InvoiceNumber),
		PDF:      pdf,
		Layout:   layout,
		Assets:   stats,
		Inline:   inline,
	}, "", nil
}

// BuildDocument は元の文書の<head>と、複製した要素だけを本文に持つ文書を組み立てる。
func BuildDocument(doc, subtree *html.Node) (string, error) {
	var buf bytes.Buffer
	buf.WriteString("<!DOCTYPE html><html><head><meta charset=\"UTF-8\">")
	if head := findElement(doc, "head"); head != nil {
		for c := head.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.Data == "script" {
				continue
			}
			if err := html.Render(&buf, c); err != nil {
				return "", fmt.Errorf("failed to render head: %w", err)
			}
		}
	}
	buf.WriteString("</head><body style=\"margin:0;background-color:#ffffff\">")
	if err := html.Render(&buf, subtree); err != nil {
		return "", fmt.Errorf("failed to render subtree: %w", err)
	}
	buf.WriteString("</body></html>")
	return buf.String(), nil
}
