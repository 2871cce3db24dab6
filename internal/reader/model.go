package reader

import (
	"time"

	"soulseer/internal/domain"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusBusy    Status = "busy"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusOnline, StatusOffline, StatusBusy:
		return st, nil
	}
	return "", domain.Validationf("unknown reader status %q", s)
}

// Reader is a reader's public profile as the engine sees it: who they are,
// whether they take sessions right now, and what they charge.
type Reader struct {
	ID          string `db:"id" json:"id"`
	DisplayName string `db:"display_name" json:"display_name"`
	Status      Status `db:"status" json:"status"`
	domain.Rates
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (r *Reader) Accepting() bool {
	return r.Status == StatusOnline
}

type UpsertReaderRequest struct {
	DisplayName string `json:"display_name" binding:"required,max=120"`
	ChatRate    string `json:"chat_rate" binding:"required"`
	VoiceRate   string `json:"voice_rate" binding:"required"`
	VideoRate   string `json:"video_rate" binding:"required"`
}

type SetStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=online offline busy"`
}
