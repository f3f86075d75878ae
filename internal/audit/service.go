package audit

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/giftdrive/casework/internal/shared"
)

// MaxExportRows caps a single CSV export.
const MaxExportRows = 10000

// Store is satisfied by Repository.
type Store interface {
	Window(ctx context.Context, filters TimelineFilters, limit, offset int) ([]TimelineRow, int, error)
	All(ctx context.Context, filters TimelineFilters, limit int) ([]TimelineRow, error)
}

// Service coordinates audit trail reads.
type Service struct {
	store Store
}

// NewService builds a Service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Timeline returns one page of the trail and the total match count.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters, page shared.Page) ([]TimelineRow, int, error) {
	if s.store == nil {
		return nil, 0, errors.New("audit: repository not configured")
	}
	rows, total, err := s.store.Window(ctx, filters, page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("audit: timeline: %w", err)
	}
	return rows, total, nil
}

// Export writes every matching row, up to MaxExportRows, as CSV.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]byte, error) {
	if s.store == nil {
		return nil, errors.New("audit: repository not configured")
	}
	rows, err := s.store.All(ctx, filters, MaxExportRows)
	if err != nil {
		return nil, fmt.Errorf("audit: export: %w", err)
	}
	return WriteCSV(rows)
}

// WriteCSV encodes rows with a header line. Meta is flattened to key=value pairs.
func WriteCSV(rows []TimelineRow) ([]byte, error) {
	var buf strings.Builder
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"at", "actor_id", "actor_email", "action", "entity", "entity_id", "meta"}); err != nil {
		return nil, err
	}
	for _, row := range rows {
		actor := ""
		if row.ActorID != nil {
			actor = strconv.FormatInt(*row.ActorID, 10)
		}
		record := []string{
			row.At.UTC().Format(time.RFC3339),
			actor,
			row.ActorEmail,
			row.Action,
			row.Entity,
			row.EntityID,
			flattenMeta(row.Meta),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return []byte(buf.String()), nil
}

func flattenMeta(meta map[string]any) string {
	if len(meta) == 0 {
		return ""
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, meta[k])
	}
	return strings.Join(parts, ";")
}
