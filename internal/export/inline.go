package export

import (
	"context"
	"encoding/base64"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"
	"golang.org/x/net/html"
)

// transparentPixel は取得できなかった画像の代わりに置く1x1の透過GIF。
const transparentPixel = "data:image/gif;base64,R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7"

// ImageFetcher はSSRF対策済みの画像取得インターフェース。
type ImageFetcher interface {
	FetchImage(ctx context.Context, rawURL string, maxSize int64) ([]byte, string, error)
}

// AssetInliner はエクスポート対象の<img>のsrcをdata URIに置き換える。
// ヘッドレスブラウザが外部や内部ネットワークへ直接アクセスしないようにする。
type AssetInliner struct {
	fetcher     ImageFetcher
	maxSize     int64
	concurrency int
}

// InlineStats はインライン化の集計結果。
type InlineStats struct {
	Inlined int
	Blanked int
}

// NewAssetInliner はAssetInlinerを生成する。
func NewAssetInliner(fetcher ImageFetcher, maxSize int64) *AssetInliner {
	return &AssetInliner{fetcher: fetcher, maxSize: maxSize, concurrency: 4}
}

// Inline はroot配下の全ての<img>を処理する。
// data URIはそのまま残し、http(s)のURLは取得して埋め込む。
// 取得に失敗した画像と、それ以外のスキームの画像は透過画像に置き換える。
func (a *AssetInliner) Inline(ctx context.Context, root *html.Node) InlineStats {
	var images []*html.Node
	var collect func(n *html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "img" {
			images = append(images, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(root)

	var inlined, blanked atomic.Int64
	p := pool.New().WithMaxGoroutines(a.concurrency)
	for _, img := range images {
		src := strings.TrimSpace(attr(img, "src"))
		// srcset はブラウザに別のURLを取得させるため常に外す
		removeAttr(img, "srcset")

		if strings.HasPrefix(src, "data:") {
			continue
		}
		lower := strings.ToLower(src)
		if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
			setAttr(img, "src", transparentPixel)
			blanked.Add(1)
			continue
		}

		p.Go(func() {
			body, mediaType, err := a.fetcher.FetchImage(ctx, src, a.maxSize)
			if err != nil {
				slog.Warn("export image could not be inlined",
					slog.String("src", src),
					slog.String("error", err.Error()),
				)
				setAttr(img, "src", transparentPixel)
				blanked.Add(1)
				return
			}
			setAttr(img, "src", "data:"+mediaType+";base64,"+base64.StdEncoding.EncodeToString(body))
			inlined.Add(1)
		})
	}
	p.Wait()

	return InlineStats{Inlined: int(inlined.Load()), Blanked: int(blanked.Load())}
}

func removeAttr(n *html.Node, key string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			continue
		}
		kept = append(kept, a)
	}
	n.Attr = kept
}
