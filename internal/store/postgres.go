package store

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/trellis/pkg/database"
	"github.com/Ramsey-B/trellis/pkg/metrics"
	"github.com/Ramsey-B/trellis/pkg/tracing"
)

const updatesTable = "document_updates"

// PostgresLog stores each update as one row in an append-only table.
type PostgresLog struct {
	db     database.DB
	logger ectologger.Logger
}

func NewPostgresLog(db database.DB, logger ectologger.Logger) *PostgresLog {
	return &PostgresLog{
		db:     db,
		logger: logger,
	}
}

func (l *PostgresLog) GetDocument(ctx context.Context, roomID string) ([][]byte, error) {
	ctx, span := tracing.StartSpan(ctx, "PostgresLog.GetDocument")
	defer span.End()

	start := time.Now()

	sb := database.NewSelectBuilder()
	sb.Select("payload").From(updatesTable)
	sb.Where(sb.Equal("room_id", roomID))
	sb.OrderBy("id").Asc()

	query, args := sb.Build()
	var updates [][]byte
	err := l.db.SelectContext(ctx, &updates, query, args...)
	if err != nil {
		l.logger.WithContext(ctx).WithError(err).WithField("room_id", roomID).Error("failed to load document updates")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to load document updates")
	}

	metrics.DocumentLoadDuration.WithLabelValues("postgres").Observe(time.Since(start).Seconds())
	l.logger.WithContext(ctx).WithFields(map[string]any{
		"room_id": roomID,
		"count":   len(updates),
	}).Debugf("Loaded %s", updatesTable)
	return updates, nil
}

func (l *PostgresLog) AppendUpdate(ctx context.Context, roomID string, update []byte) error {
	ctx, span := tracing.StartSpan(ctx, "PostgresLog.AppendUpdate")
	defer span.End()

	start := time.Now()

	ib := database.NewInsertBuilder()
	ib.InsertInto(updatesTable).
		Cols("room_id", "payload").
		Values(roomID, update)

	query, args := ib.Build()
	_, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		metrics.RecordUpdatePersist("postgres", "error", time.Since(start).Seconds())
		l.logger.WithContext(ctx).WithError(err).WithField("room_id", roomID).Error("failed to append document update")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to append document update")
	}

	metrics.RecordUpdatePersist("postgres", "success", time.Since(start).Seconds())
	return nil
}

func (l *PostgresLog) ClearDocument(ctx context.Context, roomID string) error {
	ctx, span := tracing.StartSpan(ctx, "PostgresLog.ClearDocument")
	defer span.End()

	if !IsEphemeral(roomID) {
		return ErrClearNotAllowed
	}

	db := database.NewDeleteBuilder()
	db.DeleteFrom(updatesTable)
	db.Where(db.Equal("room_id", roomID))

	query, args := db.Build()
	_, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		l.logger.WithContext(ctx).WithError(err).WithField("room_id", roomID).Error("failed to clear document updates")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to clear document updates")
	}

	l.logger.WithContext(ctx).WithField("room_id", roomID).Infof("Cleared updates for room %s", roomID)
	return nil
}
