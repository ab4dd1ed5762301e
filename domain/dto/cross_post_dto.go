package dto

import (
	"time"

	"crosspost/domain/model"
)

type CrossPostRequest struct {
	ProductID string   `json:"product_id" binding:"required"`
	Platforms []string `json:"platforms" binding:"required,min=1,dive,required"`
}

type StatusIDResponse struct {
	StatusID string `json:"status_id"`
}

type HistoryResponse struct {
	Items    []*model.PostingStatus `json:"items"`
	Total    int                    `json:"total"`
	Page     int                    `json:"page"`
	PageSize int                    `json:"page_size"`
}

type MarketplaceInfo struct {
	Platform   string    `json:"platform"`
	Connected  bool      `json:"connected"`
	Remaining  int       `json:"remaining_calls"`
	ResetAt    time.Time `json:"reset_at"`
	Idempotent bool      `json:"idempotent"`
}
