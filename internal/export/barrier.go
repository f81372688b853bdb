package export

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
)

// ErrAssetFailed は画像の読み込みが失敗したことを表す。バリアは失敗も「準備完了」として扱う。
var ErrAssetFailed = errors.New("asset failed to load")

// AssetWaiter は1つの画像が読み込み済み（または失敗）になるまで待つ。
type AssetWaiter func(ctx context.Context) error

// 画像待機の結果（メトリクスのラベル）
const (
	AssetLoaded  = "loaded"
	AssetErrored = "error"
	AssetTimeout = "timeout"
)

// BarrierStats は画像待機の集計結果。
type BarrierStats struct {
	Loaded   int
	Errored  int
	TimedOut int
}

// WaitForAssets は全ての画像の待機を並行に実行し、最後にsettleだけ待つ。
// 各画像の待機はperAssetで打ち切られ、失敗とタイムアウトはどちらもエクスポートを止めない。
// AssetWaiterがctxを無視しても、戻るまでの時間はperAsset+settleを超えない。
// observeがnilでなければ画像ごとの結果を通知する。
func WaitForAssets(ctx context.Context, waiters []AssetWaiter, perAsset, settle time.Duration, observe func(outcome string)) (BarrierStats, error) {
	var loaded, errored, timedOut atomic.Int64

	var wg conc.WaitGroup
	for _, w := range waiters {
		wg.Go(func() {
			outcome := waitOne(ctx, w, perAsset)
			switch outcome {
			case AssetLoaded:
				loaded.Add(1)
			case AssetErrored:
				errored.Add(1)
			default:
				timedOut.Add(1)
			}
			if observe != nil {
				observe(outcome)
			}
		})
	}
	wg.Wait()

	stats := BarrierStats{
		Loaded:   int(loaded.Load()),
		Errored:  int(errored.Load()),
		TimedOut: int(timedOut.Load()),
	}

	if err := ctx.Err(); err != nil {
		return stats, err
	}

	if settle > 0 {
		timer := time.NewTimer(settle)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return stats, ctx.Err()
		}
	}
	return stats, nil
}

func waitOne(ctx context.Context, w AssetWaiter, perAsset time.Duration) string {
	wctx, cancel := context.WithTimeout(ctx, perAsset)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- w(wctx)
	}()

	select {
	case err := <-done:
		switch {
		case err == nil:
			return AssetLoaded
		case errors.Is(err, context.DeadlineExceeded):
			return AssetTimeout
		default:
			return AssetErrored
		}
	case <-wctx.Done():
		return AssetTimeout
	}
}
