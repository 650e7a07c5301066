package repository

import (
	"context"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	"gorm.io/gorm"
)

var _ port.OutputStreamRepository = (*OutputStreamRepo)(nil)

type OutputStreamRepo struct {
	db *gorm.DB
}

func NewOutputStreamRepo(db *gorm.DB) *OutputStreamRepo {
	return &OutputStreamRepo{db: db}
}

func (r *OutputStreamRepo) CreateStream(ctx context.Context, stream *domain.OutputStream) error {
	return conn(ctx, r.db).Create(&OutputStreamModel{UUID: stream.UUID, CreatedAt: stream.CreatedAt}).Error
}

func (r *OutputStreamRepo) FindStream(ctx context.Context, id string) (*domain.OutputStream, error) {
	var m OutputStreamModel
	if err := conn(ctx, r.db).First(&m, "uuid = ?", id).Error; err != nil {
		return nil, notFound(err, domain.ErrStreamNotFound)
	}
	return &domain.OutputStream{UUID: m.UUID, CreatedAt: m.CreatedAt}, nil
}

// AppendLine 写入后回填自增 ID。
func (r *OutputStreamRepo) AppendLine(ctx context.Context, line *domain.OutputStreamLine) error {
	m := &OutputStreamLineModel{
		StreamID:  line.StreamID,
		Stream:    line.Stream,
		Line:      line.Line,
		CreatedAt: line.CreatedAt,
	}
	if err := conn(ctx, r.db).Create(m).Error; err != nil {
		return err
	}
	line.ID = m.ID
	return nil
}

func (r *OutputStreamRepo) ListLines(ctx context.Context, streamID string, afterID int64, limit int) ([]*domain.OutputStreamLine, error) {
	q := conn(ctx, r.db).Where("stream_id = ? AND id > ?", streamID, afterID).Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []OutputStreamLineModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	lines := make([]*domain.OutputStreamLine, 0, len(models))
	for _, m := range models {
		lines = append(lines, &domain.OutputStreamLine{
			ID:        m.ID,
			StreamID:  m.StreamID,
			Stream:    m.Stream,
			Line:      m.Line,
			CreatedAt: m.CreatedAt,
		})
	}
	return lines, nil
}

// retirable 过滤出早于 before 且尚未被压缩的日志。
func retirable(q *gorm.DB, before time.Time) *gorm.DB {
	return q.Where("created_at < ? AND stream <> ?", before, domain.StreamRetired)
}

func (r *OutputStreamRepo) StreamsWithLinesBefore(ctx context.Context, before time.Time, afterStreamID string, limit int) ([]string, error) {
	var ids []string
	err := retirable(conn(ctx, r.db).Model(&OutputStreamLineModel{}), before).
		Where("stream_id > ?", afterStreamID).
		Distinct("stream_id").
		Order("stream_id").
		Limit(limit).
		Pluck("stream_id", &ids).Error
	return ids, err
}

func (r *OutputStreamRepo) SummarizeLinesBefore(ctx context.Context, streamID string, before time.Time) (port.StreamLineSummary, error) {
	var summary port.StreamLineSummary
	base := func() *gorm.DB {
		return retirable(conn(ctx, r.db).Model(&OutputStreamLineModel{}), before).Where("stream_id = ?", streamID)
	}
	if err := base().Count(&summary.Count).Error; err != nil {
		return summary, err
	}
	if summary.Count == 0 {
		return summary, nil
	}
	var first, last OutputStreamLineModel
	if err := base().Order("id").First(&first).Error; err != nil {
		return summary, err
	}
	if err := base().Order("id DESC").First(&last).Error; err != nil {
		return summary, err
	}
	summary.First = first.CreatedAt
	summary.Last = last.CreatedAt
	return summary, nil
}

// RetireLinesBefore 复用最早一行的 ID 写入占位，保证占位行仍位于日志开头。
func (r *OutputStreamRepo) RetireLinesBefore(ctx context.Context, streamID string, before time.Time, placeholder string) (int64, error) {
	var retired int64
	err := conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		var first OutputStreamLineModel
		if err := retirable(tx, before).Where("stream_id = ?", streamID).Order("id").First(&first).Error; err != nil {
			return err
		}
		result := retirable(tx, before).
			Where("stream_id = ? AND id <> ?", streamID, first.ID).
			Delete(&OutputStreamLineModel{})
		if result.Error != nil {
			return result.Error
		}
		retired = result.RowsAffected + 1
		return tx.Model(&OutputStreamLineModel{}).
			Where("id = ?", first.ID).
			Updates(map[string]any{"stream": domain.StreamRetired, "line": placeholder}).Error
	})
	if err != nil {
		return 0, notFound(err, domain.ErrStreamNotFound)
	}
	return retired, nil
}
