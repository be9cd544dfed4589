package search

import (
	"github.com/hyperjump/diaryrag/internal/config"
	"github.com/hyperjump/diaryrag/internal/models"
)

// ProcessQuery applies the configured defaults to req and validates the result.
func ProcessQuery(req *models.SearchRequest, cfg *config.SearchConfig) (models.Query, error) {
	q := req.ToQuery(cfg.DefaultLimit, cfg.Threshold(), cfg.MaxLimit)
	return q, q.Validate()
}
