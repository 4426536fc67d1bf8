package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"tracksched/internal/model"
)

func (s *sqliteStore) AppendRequestLog(ctx context.Context, rec *model.RequestLog) error {
	if rec == nil {
		return errors.New("nil request log")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO request_logs(sender, receiver, method, start_at, stop_at, containers, website, created_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		rec.Sender, rec.Receiver, strings.ToUpper(rec.Method),
		rec.Start.UnixMilli(), rec.Stop.UnixMilli(), nullStr(rec.Containers), rec.Website, rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return errors.Wrap(err, "insert request log")
	}
	rec.ID, _ = res.LastInsertId()
	return nil
}

func (s *sqliteStore) ListRequestLogs(ctx context.Context, f RequestLogFilter) ([]model.RequestLog, error) {
	q := `SELECT id, sender, receiver, method, start_at, stop_at, containers, website, created_at
	      FROM request_logs WHERE 1=1`
	var args []any
	if f.Website != "" {
		q += ` AND website = ?`
		args = append(args, f.Website)
	}
	if !f.Since.IsZero() {
		q += ` AND created_at >= ?`
		args = append(args, f.Since.UnixMilli())
	}
	if !f.Until.IsZero() {
		q += ` AND created_at <= ?`
		args = append(args, f.Until.UnixMilli())
	}
	rows, err := s.db.QueryContext(ctx, q+` ORDER BY id`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query request logs")
	}
	defer rows.Close()

	var out []model.RequestLog
	for rows.Next() {
		var (
			r                    model.RequestLog
			start, stop, created int64
			containers           sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Sender, &r.Receiver, &r.Method, &start, &stop, &containers, &r.Website, &created); err != nil {
			return nil, errors.Wrap(err, "scan request log")
		}
		r.Start, r.Stop, r.CreatedAt = fromMillis(start), fromMillis(stop), fromMillis(created)
		r.Containers = containers.String
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "iterate request logs")
}

func (s *sqliteStore) AppendTraceReport(ctx context.Context, rec *model.TraceReport) error {
	if rec == nil {
		return errors.New("nil trace report")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO trace_report_logs(website, units_traced, success, created_at) VALUES(?,?,?,?)`,
		rec.Website, rec.UnitsTraced, rec.Success, rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return errors.Wrap(err, "insert trace report")
	}
	rec.ID, _ = res.LastInsertId()
	return nil
}

// ListTraceReports returns rows with from <= created_at <= to. A zero bound
// is open.
func (s *sqliteStore) ListTraceReports(ctx context.Context, from, to time.Time) ([]model.TraceReport, error) {
	q := `SELECT id, website, units_traced, success, created_at FROM trace_report_logs WHERE 1=1`
	var args []any
	if !from.IsZero() {
		q += ` AND created_at >= ?`
		args = append(args, from.UnixMilli())
	}
	if !to.IsZero() {
		q += ` AND created_at <= ?`
		args = append(args, to.UnixMilli())
	}
	rows, err := s.db.QueryContext(ctx, q+` ORDER BY id`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query trace reports")
	}
	defer rows.Close()

	var out []model.TraceReport
	for rows.Next() {
		var (
			r       model.TraceReport
			created int64
		)
		if err := rows.Scan(&r.ID, &r.Website, &r.UnitsTraced, &r.Success, &created); err != nil {
			return nil, errors.Wrap(err, "scan trace report")
		}
		r.CreatedAt = fromMillis(created)
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "iterate trace reports")
}

func (s *sqliteStore) UpsertWebsite(ctx context.Context, w model.Website) error {
	if strings.TrimSpace(w.Name) == "" {
		return errors.New("website name required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO websites(name, url, category, status) VALUES(?,?,?,?)
		 ON CONFLICT(name) DO UPDATE SET url=excluded.url, category=excluded.category, status=excluded.status`,
		w.Name, nullStr(w.URL), nullStr(w.Category), nullStr(w.Status),
	)
	return errors.Wrap(err, "upsert website")
}

func (s *sqliteStore) ListWebsites(ctx context.Context) ([]model.Website, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, url, category, status FROM websites ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "query websites")
	}
	defer rows.Close()

	var out []model.Website
	for rows.Next() {
		var (
			w                     model.Website
			url, category, status sql.NullString
		)
		if err := rows.Scan(&w.Name, &url, &category, &status); err != nil {
			return nil, errors.Wrap(err, "scan website")
		}
		w.URL, w.Category, w.Status = url.String, category.String, status.String
		out = append(out, w)
	}
	return out, errors.Wrap(rows.Err(), "iterate websites")
}
