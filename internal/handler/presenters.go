package handler

import (
	"time"

	"github.com/hitoshi/visitdesk/internal/kiosk"
	"github.com/hitoshi/visitdesk/internal/model"
)

type badgeResponse struct {
	ID          string    `json:"id"`
	BadgeNumber string    `json:"badge_number"`
	Assigned    bool      `json:"assigned"`
	CreatedAt   time.Time `json:"created_at"`
}

func toBadgeResponse(b *model.Badge) badgeResponse {
	return badgeResponse{
		ID:          b.ID,
		BadgeNumber: b.BadgeNumber,
		Assigned:    b.Assigned,
		CreatedAt:   b.CreatedAt,
	}
}

func toBadgeResponses(badges []*model.Badge) []badgeResponse {
	out := make([]badgeResponse, len(badges))
	for i, b := range badges {
		out[i] = toBadgeResponse(b)
	}
	return out
}

type employeeResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	JobTitle    string `json:"job_title,omitempty"`
	AzureADID   string `json:"azure_ad_id,omitempty"`
}

func toEmployeeResponses(employees []*model.Employee) []employeeResponse {
	out := make([]employeeResponse, len(employees))
	for i, e := range employees {
		out[i] = employeeResponse{
			ID:          e.ID,
			DisplayName: e.DisplayName,
			Email:       e.Email,
			JobTitle:    e.JobTitle,
			AzureADID:   e.AzureADID,
		}
	}
	return out
}

type visitorResponse struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Company      string     `json:"company"`
	Phone        string     `json:"phone"`
	Email        string     `json:"email"`
	HostName     string     `json:"host_name"`
	HostID       *string    `json:"host_id"`
	BadgeID      *string    `json:"badge_id"`
	BadgeNumber  string     `json:"badge_number,omitempty"`
	Citizenship  bool       `json:"citizenship"`
	Status       string     `json:"status"`
	CheckedInAt  time.Time  `json:"checked_in_at"`
	CheckedOutAt *time.Time `json:"checked_out_at"`
}

// toVisitorResponse は来訪記録をレスポンス型に変換する。
// badgeNumbers にバッジIDがなければ（削除済みなど）バッジ番号は空にする。
func toVisitorResponse(v *model.Visitor, badgeNumbers map[string]string) visitorResponse {
	resp := visitorResponse{
		ID:           v.ID,
		Name:         v.Name,
		Company:      v.Company,
		Phone:        v.Phone,
		Email:        v.Email,
		HostName:     v.HostName,
		HostID:       v.HostID,
		BadgeID:      v.BadgeID,
		Citizenship:  v.Citizenship,
		Status:       string(v.Status),
		CheckedInAt:  v.CheckedInAt,
		CheckedOutAt: v.CheckedOutAt,
	}
	if v.BadgeID != nil {
		resp.BadgeNumber = badgeNumbers[*v.BadgeID]
	}
	return resp
}

type kioskStateResponse struct {
	KioskID       string     `json:"kiosk_id"`
	State         string     `json:"state"`
	Loading       bool       `json:"loading"`
	Form          string     `json:"form"`
	AdminID       string     `json:"admin_id,omitempty"`
	Email         string     `json:"email,omitempty"`
	IdleTimeoutMS int64      `json:"idle_timeout_ms"`
	IdleAt        *time.Time `json:"idle_at,omitempty"`
}

func toKioskStateResponse(s kiosk.Snapshot) kioskStateResponse {
	resp := kioskStateResponse{
		KioskID:       s.KioskID,
		State:         string(s.State),
		Loading:       s.Loading,
		Form:          string(s.Form),
		AdminID:       s.AdminID,
		Email:         s.Email,
		IdleTimeoutMS: s.IdleTimeout.Milliseconds(),
	}
	if !s.IdleAt.IsZero() {
		idleAt := s.IdleAt
		resp.IdleAt = &idleAt
	}
	return resp
}

// credentialsFromAuth は認証結果をキオスクシェルの認証情報に変換する。未認証ならnil。
func credentialsFromAuth(result model.AuthResult) *kiosk.Credentials {
	switch v := result.(type) {
	case model.BackendSession:
		return &kiosk.Credentials{AdminID: v.AdminID, Email: v.Email, SessionID: v.SessionID}
	case model.LocalPinSession:
		return &kiosk.Credentials{AdminID: v.AdminID, Email: v.Email, PinTokenID: v.TokenID, PinExpiry: v.ExpiresAt}
	default:
		return nil
	}
}
