// Package model はClearBillのドメインモデルとAPIエラーを定義する。
package model

import "time"

// User はGoogleでサインインした請求書の発行者。
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProfileDiffers はIdPから受け取ったメールアドレスか表示名が保存値と異なればtrueを返す。
func (u *User) ProfileDiffers(email, name string) bool {
	return u.Email != email || u.Name != name
}

// Identity はユーザーとIdPアカウントの対応。
// (Provider, ProviderUserID) の組でユーザーを引く。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はCookieで参照されるサインイン状態。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NewSession はnowからmaxAgeだけ有効なセッションを作る。
func NewSession(id, userID string, now time.Time, maxAge time.Duration) *Session {
	return &Session{
		ID:        id,
		UserID:    userID,
		ExpiresAt: now.Add(maxAge),
		CreatedAt: now,
	}
}

// Expired はnow時点で期限が切れていればtrueを返す。期限ちょうどは期限切れとみなす。
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
