package share

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/hitoshi/clearbill/internal/model"
)

const whatsAppComposeURL = "https://wa.me/"

var (
	printer = message.NewPrinter(language.English)
	lkr     = currency.MustParseISO("LKR")
)

// FormatLKR は金額をスリランカ・ルピー表記（例: "LKR 12,500.00"）に整形する。
func FormatLKR(amount decimal.Decimal) string {
	return printer.Sprintf("%s %v", lkr, number.Decimal(amount.Round(2).InexactFloat64(), number.Scale(2)))
}

// ShareURL は請求書の共有ページの絶対URLを返す。
func ShareURL(baseURL, invoiceID string) string {
	return strings.TrimRight(baseURL, "/") + "/invoices/" + url.PathEscape(invoiceID) + "/share"
}

// WhatsAppMessage は共有メッセージの本文を組み立てる。
func WhatsAppMessage(inv *model.Invoice, shareURL string) string {
	return fmt.Sprintf("Invoice %s for %s to %s.\nView here: %s",
		inv.InvoiceNumber, FormatLKR(inv.Total), inv.ClientName, shareURL)
}

// WhatsAppURL はメッセージを入力済みにしたWhatsAppの作成画面のURLを返す。
// 空白は "+" ではなく "%20" にエンコードする。
func WhatsAppURL(text string) string {
	return whatsAppComposeURL + "?text=" + strings.ReplaceAll(url.QueryEscape(text), "+", "%20")
}
