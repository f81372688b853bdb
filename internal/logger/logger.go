// Package logger はslogの構造化ロガーを組み立てる。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// 出力フォーマット
const (
	FormatJSON = "json"
	FormatText = "text"
)

// redacted はマスク後の値。
const redacted = "[REDACTED]"

// sensitiveKeys はログに値を出さない属性キー。
var sensitiveKeys = map[string]struct{}{
	"session_id":    {},
	"csrf_token":    {},
	"access_token":  {},
	"refresh_token": {},
	"authorization": {},
	"cookie":        {},
}

// Options はロガーの設定。
type Options struct {
	Format  string // json（デフォルト）または text
	Level   string // debug, info, warn, error
	Service string // 空でなければ全レコードにservice属性を付ける
}

// New は指定オプションでslog.Loggerを生成する。
// textはtintのカラー出力（ローカル開発向け）、それ以外はJSON。
func New(w io.Writer, opts Options) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	level := ParseLevel(opts.Level)

	var h slog.Handler
	if strings.EqualFold(opts.Format, FormatText) {
		h = tint.NewHandler(w, &tint.Options{
			Level:       level,
			TimeFormat:  time.Kitchen,
			ReplaceAttr: redact,
		})
	} else {
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: redact,
		})
	}

	l := slog.New(h)
	if opts.Service != "" {
		l = l.With(slog.String("service", opts.Service))
	}
	return l
}

// redact は秘匿属性の値を置き換える。キーは大文字小文字を区別しない。
func redact(_ []string, a slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, redacted)
	}
	return a
}

// ParseLevel はログレベル文字列をslog.Levelに変換する。不明な値はINFO。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupDefault は設定読み込み前に使うJSONロガーをグローバルに設定する。
func SetupDefault(w io.Writer) {
	SetupDefaultWithOptions(w, Options{})
}

// SetupDefaultWithOptions は指定オプションのロガーをグローバルに設定する。
func SetupDefaultWithOptions(w io.Writer, opts Options) {
	slog.SetDefault(New(w, opts))
}
