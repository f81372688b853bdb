package invoice

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/clearbill/internal/metrics"
	"github.com/hitoshi/clearbill/internal/model"
)

const (
	ownerID    = "user-owner"
	strangerID = "user-stranger"
	invoiceID  = "3f2a6c1e-8b4d-4e7a-9c0f-1d2e3f4a5b6c"
)

// --- モック ---

type mockFinder struct {
	findByIDFn         func(ctx context.Context, id string) (*model.Invoice, error)
	findByIDAndOwnerFn func(ctx context.Context, id, userID string) (*model.Invoice, error)
	calls              int
}

func (m *mockFinder) FindByID(ctx context.Context, id string) (*model.Invoice, error) {
	m.calls++
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockFinder) FindByIDAndOwner(ctx context.Context, id, userID string) (*model.Invoice, error) {
	m.calls++
	if m.findByIDAndOwnerFn != nil {
		return m.findByIDAndOwnerFn(ctx, id, userID)
	}
	return nil, nil
}

// guardMetrics は拒否理由と作成数を記録するMetricsCollector。
type guardMetrics struct {
	metrics.Nop
	denials []string
	created int
}

func (r *guardMetrics) RecordOwnershipDenial(reason string) { r.denials = append(r.denials, reason) }
func (r *guardMetrics) RecordInvoiceCreated()               { r.created++ }

// storedFinder はownerIDの請求書を1件だけ保持するFinderを返す。
func storedFinder() *mockFinder {
	stored := &model.Invoice{ID: invoiceID, UserID: ownerID, InvoiceNumber: "INV-001"}
	return &mockFinder{
		findByIDFn: func(ctx context.Context, id string) (*model.Invoice, error) {
			if id == stored.ID {
				return stored, nil
			}
			return nil, nil
		},
		findByIDAndOwnerFn: func(ctx context.Context, id, userID string) (*model.Invoice, error) {
			if id == stored.ID && userID == stored.UserID {
				return stored, nil
			}
			return nil, nil
		},
	}
}

func apiCode(t *testing.T, err error) string {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T (%v)", err, err)
	}
	return apiErr.Code
}

// --- テスト ---

func TestValidID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"正規UUID", invoiceID, true},
		{"大文字UUID", "3F2A6C1E-8B4D-4E7A-9C0F-1D2E3F4A5B6C", true},
		{"空文字", "", false},
		{"短い文字列", "abc", false},
		{"ハイフンなし", "3f2a6c1e8b4d4e7a9c0f1d2e3f4a5b6c", false},
		{"波括弧付き", "{3f2a6c1e-8b4d-4e7a-9c0f-1d2e3f4a5b6c}", false},
		{"urnプレフィックス", "urn:uuid:3f2a6c1e-8b4d-4e7a-9c0f-1d2e3f4a5b6c", false},
		{"16進以外の文字", "zz2a6c1e-8b4d-4e7a-9c0f-1d2e3f4a5b6c", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidID(tt.id); got != tt.want {
				t.Errorf("ValidID(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestGuard_Resolve_Owner_ReturnsInvoice(t *testing.T) {
	for name, policy := range map[string]Policy{"FetchThenCompare": FetchThenCompare, "Scoped": Scoped} {
		t.Run(name, func(t *testing.T) {
			g := NewGuard(storedFinder(), nil)

			inv, err := g.Resolve(context.Background(), ownerID, invoiceID, policy)
			if err != nil {
				t.Fatalf("Resolve returned error: %v", err)
			}
			if inv.ID != invoiceID {
				t.Errorf("ID = %q, want %q", inv.ID, invoiceID)
			}
			if inv.UserID != ownerID {
				t.Errorf("UserID = %q, want %q", inv.UserID, ownerID)
			}
		})
	}
}

func TestGuard_Resolve_Stranger_FetchThenCompare_Forbidden(t *testing.T) {
	rec := &guardMetrics{}
	g := NewGuard(storedFinder(), rec)

	inv, err := g.Resolve(context.Background(), strangerID, invoiceID, FetchThenCompare)
	if inv != nil {
		t.Errorf("expected nil invoice, got %+v", inv)
	}
	if code := apiCode(t, err); code != model.ErrCodeForbidden {
		t.Errorf("code = %q, want %q", code, model.ErrCodeForbidden)
	}
	if len(rec.denials) != 1 || rec.denials[0] != DenyForbidden {
		t.Errorf("denials = %v, want [%s]", rec.denials, DenyForbidden)
	}
}

func TestGuard_Resolve_Stranger_Scoped_NotFound(t *testing.T) {
	rec := &guardMetrics{}
	g := NewGuard(storedFinder(), rec)

	_, err := g.Resolve(context.Background(), strangerID, invoiceID, Scoped)
	if code := apiCode(t, err); code != model.ErrCodeInvoiceNotFound {
		t.Errorf("code = %q, want %q", code, model.ErrCodeInvoiceNotFound)
	}
	if len(rec.denials) != 1 || rec.denials[0] != DenyNotFound {
		t.Errorf("denials = %v, want [%s]", rec.denials, DenyNotFound)
	}
}

// TestGuard_Resolve_Scoped_StrangerAndMissingAreIndistinguishable は
// 他ユーザーの請求書と存在しない請求書で同じエラーになることを検証する。
func TestGuard_Resolve_Scoped_StrangerAndMissingAreIndistinguishable(t *testing.T) {
	g := NewGuard(storedFinder(), nil)

	_, errStranger := g.Resolve(context.Background(), strangerID, invoiceID, Scoped)
	_, errMissing := g.Resolve(context.Background(), strangerID, "00000000-0000-4000-8000-000000000000", Scoped)

	if apiCode(t, errStranger) != apiCode(t, errMissing) {
		t.Errorf("codes differ: stranger=%v missing=%v", errStranger, errMissing)
	}
}

func TestGuard_Resolve_Missing_NotFound(t *testing.T) {
	for name, policy := range map[string]Policy{"FetchThenCompare": FetchThenCompare, "Scoped": Scoped} {
		t.Run(name, func(t *testing.T) {
			g := NewGuard(storedFinder(), nil)

			_, err := g.Resolve(context.Background(), ownerID, "00000000-0000-4000-8000-000000000000", policy)
			if code := apiCode(t, err); code != model.ErrCodeInvoiceNotFound {
				t.Errorf("code = %q, want %q", code, model.ErrCodeInvoiceNotFound)
			}
		})
	}
}

// TestGuard_Resolve_InvalidID_NoStoreAccess は不正なIDではストアを参照しないことを検証する。
func TestGuard_Resolve_InvalidID_NoStoreAccess(t *testing.T) {
	for name, policy := range map[string]Policy{"FetchThenCompare": FetchThenCompare, "Scoped": Scoped} {
		t.Run(name, func(t *testing.T) {
			finder := storedFinder()
			g := NewGuard(finder, nil)

			_, err := g.Resolve(context.Background(), ownerID, "not-a-uuid", policy)
			if code := apiCode(t, err); code != model.ErrCodeInvalidInvoiceID {
				t.Errorf("code = %q, want %q", code, model.ErrCodeInvalidInvoiceID)
			}
			if finder.calls != 0 {
				t.Errorf("store calls = %d, want 0", finder.calls)
			}
		})
	}
}

// TestGuard_Resolve_EmptyUser_UnauthorizedBeforeIDCheck は未認証判定がID検証より先に行われることを検証する。
func TestGuard_Resolve_EmptyUser_UnauthorizedBeforeIDCheck(t *testing.T) {
	finder := storedFinder()
	g := NewGuard(finder, nil)

	for _, id := range []string{invoiceID, "not-a-uuid"} {
		_, err := g.Resolve(context.Background(), "", id, FetchThenCompare)
		if code := apiCode(t, err); code != model.ErrCodeUnauthorized {
			t.Errorf("id=%q: code = %q, want %q", id, code, model.ErrCodeUnauthorized)
		}
	}
	if finder.calls != 0 {
		t.Errorf("store calls = %d, want 0", finder.calls)
	}
}

func TestGuard_Resolve_StoreError_Wrapped(t *testing.T) {
	storeErr := errors.New("connection refused")
	finder := &mockFinder{
		findByIDFn: func(ctx context.Context, id string) (*model.Invoice, error) {
			return nil, storeErr
		},
		findByIDAndOwnerFn: func(ctx context.Context, id, userID string) (*model.Invoice, error) {
			return nil, storeErr
		},
	}
	g := NewGuard(finder, nil)

	for name, policy := range map[string]Policy{"FetchThenCompare": FetchThenCompare, "Scoped": Scoped} {
		t.Run(name, func(t *testing.T) {
			_, err := g.Resolve(context.Background(), ownerID, invoiceID, policy)
			if !errors.Is(err, storeErr) {
				t.Errorf("err = %v, want wrapped %v", err, storeErr)
			}
			var apiErr *model.APIError
			if errors.As(err, &apiErr) {
				t.Errorf("store failure must not be an APIError, got %v", apiErr)
			}
		})
	}
}

// TestGuard_Resolve_Scoped_UsesOwnerQuery はScopedポリシーが所有者条件付きの検索を使うことを検証する。
func TestGuard_Resolve_Scoped_UsesOwnerQuery(t *testing.T) {
	var byIDCalled, byOwnerCalled bool
	finder := &mockFinder{
		findByIDFn: func(ctx context.Context, id string) (*model.Invoice, error) {
			byIDCalled = true
			return nil, nil
		},
		findByIDAndOwnerFn: func(ctx context.Context, id, userID string) (*model.Invoice, error) {
			byOwnerCalled = true
			if userID != ownerID {
				t.Errorf("userID = %q, want %q", userID, ownerID)
			}
			return &model.Invoice{ID: id, UserID: userID}, nil
		},
	}
	g := NewGuard(finder, nil)

	if _, err := g.Resolve(context.Background(), ownerID, invoiceID, Scoped); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if byIDCalled {
		t.Error("FindByID should not be called for Scoped policy")
	}
	if !byOwnerCalled {
		t.Error("expected FindByIDAndOwner to be called")
	}
}
