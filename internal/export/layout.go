package export

import (
	"bytes"
	"errors"
	"fmt"
	"image/png"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// A4の寸法（mm）
const (
	A4WidthMM  = 210.0
	A4HeightMM = 297.0
)

const imageName = "invoice"

// Layout は生成したPDFページの配置情報。
type Layout struct {
	PixelWidth    int
	PixelHeight   int
	ImageWidthMM  float64
	ImageHeightMM float64
	PageCount     int
}

// Filename は請求書番号からダウンロード用のファイル名を決める。
// パス区切りと制御文字は "_" に置き換える。
func Filename(invoiceNumber string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == '"':
			return '_'
		case r < 0x20 || r == 0x7f:
			return '_'
		default:
			return r
		}
	}, invoiceNumber)
	return "INV-" + safe + ".pdf"
}

// ImageHeightMM はA4幅に合わせたときの画像の高さ（mm）を返す。
func ImageHeightMM(pixelWidth, pixelHeight int) float64 {
	return float64(pixelHeight) * (A4WidthMM / float64(pixelWidth))
}

// ComposePDF はPNG画像を1枚だけ含むA4縦のPDFを生成する。
// 画像は(0,0)に幅210mmで配置し、高さは縦横比から求める。
func ComposePDF(pngData []byte) ([]byte, Layout, error) {
	cfg, err := png.DecodeConfig(bytes.NewReader(pngData))
	if err != nil {
		return nil, Layout{}, fmt.Errorf("PNGの解析に失敗しました: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, Layout{}, errors.New("captured image is empty")
	}

	layout := Layout{
		PixelWidth:    cfg.Width,
		PixelHeight:   cfg.Height,
		ImageWidthMM:  A4WidthMM,
		ImageHeightMM: ImageHeightMM(cfg.Width, cfg.Height),
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	opt := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader(imageName, opt, bytes.NewReader(pngData))
	pdf.ImageOptions(imageName, 0, 0, layout.ImageWidthMM, layout.ImageHeightMM, false, opt, 0, "")

	layout.PageCount = pdf.PageCount()

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, Layout{}, fmt.Errorf("PDFの生成に失敗しました: %w", err)
	}

	return buf.Bytes(), layout, nil
}
