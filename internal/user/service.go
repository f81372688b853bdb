// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/clearbill/internal/model"
	"github.com/hitoshi/clearbill/internal/repository"
)

// InvoiceDeleter は請求書の一括削除インターフェース。
type InvoiceDeleter interface {
	DeleteByUserID(ctx context.Context, userID string) error
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo       repository.UserRepository
	sessionRepo    repository.SessionRepository
	invoiceDeleter InvoiceDeleter
	logger         *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	invoiceDeleter InvoiceDeleter,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		userRepo:       userRepo,
		sessionRepo:    sessionRepo,
		invoiceDeleter: invoiceDeleter,
		logger:         logger,
	}
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: invoices → sessions → user（identitiesはCASCADE）
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	s.logger.Info("withdrawal started", slog.String("user_id", userID))

	if s.invoiceDeleter != nil {
		if err := s.invoiceDeleter.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete invoices: %w", err)
		}
	}

	if s.sessionRepo != nil {
		if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete sessions: %w", err)
		}
	}

	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	s.logger.Info("withdrawal completed", slog.String("user_id", userID))
	return nil
}
