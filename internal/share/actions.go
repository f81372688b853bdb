package share

import (
	"context"
	"errors"
	"net/url"

	"github.com/hitoshi/clearbill/internal/export"
	"github.com/hitoshi/clearbill/internal/model"
)

// Outcome は完了したアクションの結果。どのフィールドが設定されるかはアクションによる。
type Outcome struct {
	Message string
	// Download はdownloadで生成したPDF。
	Download *export.Result
	// RedirectURL はwhatsappで開く作成画面のURL。
	RedirectURL string
	// Link はcopyでクリップボードに書き込んだ共有リンク。
	Link string
}

// Exporter は請求書のPDF変換。
type Exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

// PreviewRenderer は請求書のプレビュー画面をHTMLとして描画する。
type PreviewRenderer interface {
	RenderPreview(inv *model.Invoice) (string, error)
}

// Clipboard は共有リンクの書き込み先。
type Clipboard interface {
	Write(ctx context.Context, text string) error
}

// ResponseClipboard はリンクをHTTPレスポンスでブラウザに渡すClipboard。
// ブラウザ側はレスポンスのlinkをシステムのクリップボードに書き込み、その成否を報告する。
type ResponseClipboard struct {
	Text string
}

// Write は書き込むリンクを保持する。絶対URL以外は受け付けない。
func (c *ResponseClipboard) Write(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u, err := url.Parse(text)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return errors.New("share link must be an absolute URL")
	}
	c.Text = text
	return nil
}

// Actions は3つの共有アクションの実装。
type Actions struct {
	exporter Exporter
	preview  PreviewRenderer
	baseURL  string
}

// NewActions はActionsを生成する。baseURLは共有リンクの組み立てに使う。
func NewActions(exporter Exporter, preview PreviewRenderer, baseURL string) *Actions {
	return &Actions{exporter: exporter, preview: preview, baseURL: baseURL}
}

// Download はプレビュー画面をライトテーマでPDFに変換する。
func (a *Actions) Download(ctx context.Context, inv *model.Invoice) (*Outcome, error) {
	page, err := a.preview.RenderPreview(inv)
	if err != nil {
		return nil, err
	}
	res, err := a.exporter.Export(ctx, export.Request{
		InvoiceNumber: inv.InvoiceNumber,
		HTML:          page,
		LightMode:     true,
	})
	if err != nil {
		return nil, err
	}
	return &Outcome{Download: res}, nil
}

// WhatsApp はメッセージ入力済みの作成画面URLを返す。失敗することはない。
func (a *Actions) WhatsApp(inv *model.Invoice) *Outcome {
	text := WhatsAppMessage(inv, ShareURL(a.baseURL, inv.ID))
	return &Outcome{RedirectURL: WhatsAppURL(text)}
}

// Copy は共有リンクをクリップボードに書き込む。
func (a *Actions) Copy(ctx context.Context, clip Clipboard, inv *model.Invoice) (*Outcome, error) {
	link := ShareURL(a.baseURL, inv.ID)
	if err := clip.Write(ctx, link); err != nil {
		return nil, errors.Join(model.NewClipboardFailedError(), err)
	}
	return &Outcome{Link: link}, nil
}

// Run はアクションを実行する関数を返す。Coordinator.Invokeにそのまま渡せる。
func (a *Actions) Run(action Action, inv *model.Invoice, clip Clipboard) func(ctx context.Context) (*Outcome, error) {
	return func(ctx context.Context) (*Outcome, error) {
		switch action {
		case ActionDownload:
			return a.Download(ctx, inv)
		case ActionWhatsApp:
			return a.WhatsApp(inv), nil
		case ActionCopy:
			return a.Copy(ctx, clip, inv)
		default:
			return nil, model.NewUnknownShareActionError(string(action))
		}
	}
}
