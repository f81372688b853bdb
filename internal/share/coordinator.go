// Package share は共有画面の3つのアクション（PDFダウンロード、WhatsApp送信、リンクコピー）を
// 1つの状態機械で排他的に実行する。
package share

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/clearbill/internal/metrics"
	"github.com/hitoshi/clearbill/internal/model"
)

// Action は共有アクションの種類。
type Action string

const (
	ActionDownload Action = "download"
	ActionWhatsApp Action = "whatsapp"
	ActionCopy     Action = "copy"
)

// ParseAction は文字列をActionに変換する。
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionDownload, ActionWhatsApp, ActionCopy:
		return a, nil
	default:
		return "", model.NewUnknownShareActionError(s)
	}
}

// SuccessMessage はアクション完了時に表示するメッセージを返す。
func SuccessMessage(a Action) string {
	switch a {
	case ActionDownload:
		return "PDF is downloading to your device!"
	case ActionWhatsApp:
		return "WhatsApp opened with your invoice link."
	case ActionCopy:
		return "Link copied to clipboard!"
	default:
		return ""
	}
}

// Phase は状態機械のフェーズ。
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseLoading   Phase = "loading"
	PhaseCompleted Phase = "completed"
)

// アクション結果（メトリクスのラベル）
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

// State は共有ビューの現在の状態。
type State struct {
	Phase   Phase  `json:"phase"`
	Action  Action `json:"action,omitempty"`
	Message string `json:"message,omitempty"`
}

// ActionsDisabled は全てのアクションが無効かどうかを返す。
// いずれかのアクションが実行中または完了済みであれば、3つとも無効になる。
func (s State) ActionsDisabled() bool {
	return s.Phase != PhaseIdle
}

// Coordinator は1つの共有ビューの状態を管理する。
// idle → loading(a) → completed(a) の遷移のみを許し、失敗時はidleに戻す。
// completedは終端状態で、指定時間後に画面遷移を実行する。
type Coordinator struct {
	mu            sync.Mutex
	state         State
	redirectDelay time.Duration
	navigate      func()
	timer         *time.Timer
	metrics       metrics.MetricsCollector
}

// NewCoordinator はidle状態のCoordinatorを生成する。
// navigateは完了からredirectDelay経過後に1回だけ呼ばれる。
func NewCoordinator(redirectDelay time.Duration, navigate func(), collector metrics.MetricsCollector) *Coordinator {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if navigate == nil {
		navigate = func() {}
	}
	return &Coordinator{
		state:         State{Phase: PhaseIdle},
		redirectDelay: redirectDelay,
		navigate:      navigate,
		metrics:       collector,
	}
}

// State は現在の状態を返す。
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Invoke はアクションaをfnで実行する。
// 実行中または完了済みのアクションがある場合は状態を変えずにACTIONS_DISABLEDを返す。
// fnが失敗した場合はidleに戻し、fnのエラーをそのまま返す。
func (c *Coordinator) Invoke(ctx context.Context, a Action, fn func(ctx context.Context) (*Outcome, error)) (*Outcome, error) {
	if err := c.Begin(a); err != nil {
		return nil, err
	}
	out, err := fn(ctx)
	return c.Settle(a, out, err)
}

// Begin はidleからloading(a)に遷移する。
// 結果がサーバーの外（ブラウザのクリップボードなど）で決まるアクションは、
// Beginの後に結果を受け取ってSettleを呼ぶ。
func (c *Coordinator) Begin(a Action) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.ActionsDisabled() {
		c.metrics.RecordShareAction(string(a), OutcomeRejected)
		slog.Debug("share action rejected",
			slog.String("action", string(a)),
			slog.String("phase", string(c.state.Phase)),
			slog.String("current_action", string(c.state.Action)),
		)
		return model.NewActionsDisabledError()
	}
	c.state = State{Phase: PhaseLoading, Action: a}
	return nil
}

// Settle は実行中のアクションaの結果を反映する。
// errがnilならcompleted(a)にして画面遷移を予約し、そうでなければidleに戻す。
// loading(a)でない場合は状態を変えずにNO_PENDING_ACTIONを返す。
func (c *Coordinator) Settle(a Action, out *Outcome, err error) (*Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Phase != PhaseLoading || c.state.Action != a {
		return nil, model.NewNoPendingActionError(string(a))
	}

	if err != nil {
		c.state = State{Phase: PhaseIdle}
		c.metrics.RecordShareAction(string(a), OutcomeFailed)
		slog.Warn("share action failed",
			slog.String("action", string(a)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	if out == nil {
		out = &Outcome{}
	}
	out.Message = SuccessMessage(a)
	c.state = State{Phase: PhaseCompleted, Action: a, Message: out.Message}
	c.timer = time.AfterFunc(c.redirectDelay, c.navigate)
	c.metrics.RecordShareAction(string(a), OutcomeCompleted)

	return out, nil
}

// Stop は予約済みの画面遷移を取り消す。
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
}
