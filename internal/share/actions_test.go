package share

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/clearbill/internal/export"
	"github.com/hitoshi/clearbill/internal/model"
)

const testBaseURL = "https://clearbill.example"

type mockExporter struct {
	exportFn func(ctx context.Context, req export.Request) (*export.Result, error)
}

func (m *mockExporter) Export(ctx context.Context, req export.Request) (*export.Result, error) {
	return m.exportFn(ctx, req)
}

type mockPreview struct {
	renderFn func(inv *model.Invoice) (string, error)
}

func (m *mockPreview) RenderPreview(inv *model.Invoice) (string, error) {
	if m.renderFn != nil {
		return m.renderFn(inv)
	}
	return `<div id="invoice-preview">` + inv.InvoiceNumber + `</div>`, nil
}

type failingClipboard struct{}

func (failingClipboard) Write(ctx context.Context, text string) error {
	return errors.New("clipboard unavailable")
}

func testInvoice() *model.Invoice {
	return &model.Invoice{
		ID:            "3f2a6c1e-8b4d-4e7a-9c0f-1d2e3f4a5b6c",
		UserID:        "user-1",
		InvoiceNumber: "0042",
		ClientName:    "Acme Holdings",
		Total:         decimal.RequireFromString("12500"),
	}
}

func TestActions_Download(t *testing.T) {
	var got export.Request
	exporter := &mockExporter{exportFn: func(ctx context.Context, req export.Request) (*export.Result, error) {
		got = req
		return &export.Result{Filename: export.Filename(req.InvoiceNumber), PDF: []byte("%PDF-1.3")}, nil
	}}
	a := NewActions(exporter, &mockPreview{}, testBaseURL)

	out, err := a.Download(context.Background(), testInvoice())
	if err != nil {
		t.Fatalf("Download returned error: %v", err)
	}
	if !got.LightMode {
		t.Error("download should always export in light mode")
	}
	if got.InvoiceNumber != "0042" {
		t.Errorf("InvoiceNumber = %q, want 0042", got.InvoiceNumber)
	}
	if !strings.Contains(got.HTML, `id="invoice-preview"`) {
		t.Errorf("HTML = %q, want rendered preview", got.HTML)
	}
	if out.Download.Filename != "INV-0042.pdf" {
		t.Errorf("Filename = %q, want INV-0042.pdf", out.Download.Filename)
	}
}

func TestActions_Download_Errors(t *testing.T) {
	t.Run("プレビュー描画失敗", func(t *testing.T) {
		renderErr := errors.New("template error")
		a := NewActions(&mockExporter{exportFn: func(ctx context.Context, req export.Request) (*export.Result, error) {
			t.Error("Export should not be called")
			return nil, nil
		}}, &mockPreview{renderFn: func(inv *model.Invoice) (string, error) { return "", renderErr }}, testBaseURL)

		if _, err := a.Download(context.Background(), testInvoice()); !errors.Is(err, renderErr) {
			t.Errorf("err = %v, want %v", err, renderErr)
		}
	})

	t.Run("エクスポート失敗", func(t *testing.T) {
		a := NewActions(&mockExporter{exportFn: func(ctx context.Context, req export.Request) (*export.Result, error) {
			return nil, model.NewExportFailedError()
		}}, &mockPreview{}, testBaseURL)

		_, err := a.Download(context.Background(), testInvoice())
		if code := apiCode(t, err); code != model.ErrCodeExportFailed {
			t.Errorf("code = %q, want %q", code, model.ErrCodeExportFailed)
		}
	})
}

func TestActions_WhatsApp(t *testing.T) {
	a := NewActions(nil, nil, testBaseURL+"/")

	out := a.WhatsApp(testInvoice())

	u, err := url.Parse(out.RedirectURL)
	if err != nil {
		t.Fatalf("invalid redirect url: %v", err)
	}
	if u.Host != "wa.me" {
		t.Errorf("host = %q, want wa.me", u.Host)
	}
	want := "Invoice 0042 for LKR 12,500.00 to Acme Holdings.\nView here: https://clearbill.example/invoices/3f2a6c1e-8b4d-4e7a-9c0f-1d2e3f4a5b6c/share"
	if got := u.Query().Get("text"); got != want {
		t.Errorf("text = %q, want %q", got, want)
	}
	if strings.Contains(out.RedirectURL, "+") {
		t.Errorf("RedirectURL = %q, spaces should be encoded as %%20", out.RedirectURL)
	}
}

func TestActions_Copy(t *testing.T) {
	a := NewActions(nil, nil, testBaseURL)
	clip := &ResponseClipboard{}

	out, err := a.Copy(context.Background(), clip, testInvoice())
	if err != nil {
		t.Fatalf("Copy returned error: %v", err)
	}
	want := testBaseURL + "/invoices/3f2a6c1e-8b4d-4e7a-9c0f-1d2e3f4a5b6c/share"
	if out.Link != want {
		t.Errorf("Link = %q, want %q", out.Link, want)
	}
	if clip.Text != want {
		t.Errorf("clipboard = %q, want %q", clip.Text, want)
	}
}

func TestActions_Copy_ClipboardFailure(t *testing.T) {
	a := NewActions(nil, nil, testBaseURL)

	_, err := a.Copy(context.Background(), failingClipboard{}, testInvoice())
	if code := apiCode(t, err); code != model.ErrCodeClipboardFailed {
		t.Errorf("code = %q, want %q", code, model.ErrCodeClipboardFailed)
	}
}

func TestResponseClipboard_RejectsRelativeLink(t *testing.T) {
	clip := &ResponseClipboard{}
	if err := clip.Write(context.Background(), "/invoices/1/share"); err == nil {
		t.Error("expected error for relative link")
	}
	if clip.Text != "" {
		t.Errorf("Text = %q, want empty", clip.Text)
	}
}

func TestActions_Run_WithCoordinator(t *testing.T) {
	a := NewActions(nil, nil, testBaseURL)
	c := NewCoordinator(0, nil, nil)
	defer c.Stop()

	out, err := c.Invoke(context.Background(), ActionWhatsApp, a.Run(ActionWhatsApp, testInvoice(), nil))
	if err != nil {
		t.Fatalf("Invoke returned error: %v", err)
	}
	if !strings.HasPrefix(out.RedirectURL, "https://wa.me/?text=") {
		t.Errorf("RedirectURL = %q", out.RedirectURL)
	}
	if out.Message != "WhatsApp opened with your invoice link." {
		t.Errorf("Message = %q", out.Message)
	}
}
