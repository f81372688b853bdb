package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

const (
	defaultChromeTimeout = 30 * time.Second
	viewportWidth        = 1024
	viewportHeight       = 1448
)

// ChromedpConfig はヘッドレスChromeの設定。
type ChromedpConfig struct {
	// Timeout は1回のエクスポートでタブを開いておく上限時間。
	Timeout time.Duration
	// RemoteURL が指定された場合は起動済みのChromeに接続する。
	RemoteURL string
	// NoSandbox はDockerでrootとして動かす場合に必要。
	NoSandbox bool
}

// ChromedpBrowser はChrome DevTools Protocolで文書を描画するBrowser。
type ChromedpBrowser struct {
	config      ChromedpConfig
	allocCtx    context.Context
	allocCancel context.CancelFunc
}

// NewChromedpBrowser はChromeのアロケータを初期化する。
// Chrome本体は最初のOpenで起動される。
func NewChromedpBrowser(config ChromedpConfig) *ChromedpBrowser {
	if config.Timeout <= 0 {
		config.Timeout = defaultChromeTimeout
	}

	b := &ChromedpBrowser{config: config}

	if config.RemoteURL != "" {
		b.allocCtx, b.allocCancel = chromedp.NewRemoteAllocator(context.Background(), config.RemoteURL)
		return b
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
		chromedp.Flag("font-render-hinting", "none"),
	)
	if config.NoSandbox {
		opts = append(opts, chromedp.Flag("no-sandbox", true))
	}
	b.allocCtx, b.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)

	return b
}

// Open は新しいタブを開いて文書を読み込む。
// タブはctxの終了、Timeoutの経過、Closeのいずれかで閉じられる。
func (b *ChromedpBrowser) Open(ctx context.Context, document string) (Page, error) {
	tabCtx, cancel := chromedp.NewContext(b.allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			slog.Debug(fmt.Sprintf(format, args...))
		}),
	)
	tabCtx, timeoutCancel := context.WithTimeout(tabCtx, b.config.Timeout)
	stop := context.AfterFunc(ctx, cancel)

	closeTab := func() {
		stop()
		timeoutCancel()
		cancel()
	}

	err := chromedp.Run(tabCtx,
		chromedp.EmulateViewport(viewportWidth, viewportHeight),
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			frameTree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(frameTree.Frame.ID, document).Do(ctx)
		}),
	)
	if err != nil {
		closeTab()
		return nil, fmt.Errorf("failed to load document: %w", err)
	}

	return &chromedpPage{ctx: tabCtx, close: closeTab}, nil
}

// Close はアロケータを解放し、起動したChromeを終了する。
func (b *ChromedpBrowser) Close() error {
	if b.allocCancel != nil {
		b.allocCancel()
	}
	return nil
}

type chromedpPage struct {
	ctx   context.Context
	close func()
}

const countImagesJS = `document.querySelectorAll(%s + " img").length`

// waitImageJS は画像がload/errorのどちらかになるまで待つ。読み込めた場合はtrueを返す。
const waitImageJS = `new Promise((resolve) => {
  const img = document.querySelectorAll(%s + " img")[%d];
  if (!img) { resolve(false); return; }
  if (img.complete) { resolve(img.naturalWidth > 0); return; }
  img.addEventListener("load", () => resolve(true), { once: true });
  img.addEventListener("error", () => resolve(false), { once: true });
})`

func (p *chromedpPage) ImageWaiters(ctx context.Context, selector string) ([]AssetWaiter, error) {
	sel, err := json.Marshal(selector)
	if err != nil {
		return nil, err
	}

	var count int
	if err := p.run(ctx, chromedp.Evaluate(fmt.Sprintf(countImagesJS, sel), &count)); err != nil {
		return nil, fmt.Errorf("failed to count images: %w", err)
	}

	waiters := make([]AssetWaiter, count)
	for i := range count {
		script := fmt.Sprintf(waitImageJS, sel, i)
		waiters[i] = func(ctx context.Context) error {
			var loaded bool
			err := p.run(ctx, chromedp.Evaluate(script, &loaded, func(params *runtime.EvaluateParams) *runtime.EvaluateParams {
				return params.WithAwaitPromise(true)
			}))
			if err != nil {
				return err
			}
			if !loaded {
				return ErrAssetFailed
			}
			return nil
		}
	}
	return waiters, nil
}

func (p *chromedpPage) Capture(ctx context.Context, selector string, scale float64) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.ScreenshotScale(selector, scale, &buf, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("failed to capture %s: %w", selector, err)
	}
	return buf, nil
}

func (p *chromedpPage) Close() {
	p.close()
}

// run はタブのコンテキストで処理を実行し、ctxが終わった時点で待機を打ち切る。
func (p *chromedpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

var _ Browser = (*ChromedpBrowser)(nil)
