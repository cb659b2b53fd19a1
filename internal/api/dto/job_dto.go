package dto

import "github.com/cuongbtq/sheetworks/internal/domain"

type ListJobsRequest struct {
	CreatedBy string `form:"created_by"`
	Type      string `form:"type"`
	Status    string `form:"status"`
	PageSize  int    `form:"page_size"`
	Cursor    string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []domain.Job `json:"jobs"`
	NextCursor string       `json:"next_cursor,omitempty"`
}
