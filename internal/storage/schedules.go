package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"tracksched/internal/model"
	"tracksched/internal/schedule"
)

const selectDefinitions = `SELECT d.id, d.name, d.category, d.frequency, d.disable_at,
	d.report_recipients, d.report_format, d.report_type, d.report_range_start, d.report_range_end,
	d.created_at, d.updated_at,
	t.minute, t.hour, t.day_of_week, t.day_of_month, t.enabled
FROM job_definitions d JOIN triggers t ON t.job_id = d.id`

func (s *sqliteStore) CreateSchedule(ctx context.Context, def *model.JobDefinition) error {
	if def == nil {
		return errors.New("nil definition")
	}
	now := s.now()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rp := reportColumns(def.Report)
		res, err := tx.ExecContext(ctx,
			`INSERT INTO job_definitions(name, category, frequency, disable_at,
				report_recipients, report_format, report_type, report_range_start, report_range_end,
				created_at, updated_at)
			 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
			def.Name, string(def.Category), string(def.Frequency), nullTime(def.DisableAt),
			rp[0], rp[1], rp[2], rp[3], rp[4], now.UnixMilli(), now.UnixMilli(),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return errors.Wrapf(ErrDuplicate, "%q", def.Name)
			}
			return errors.Wrap(err, "insert definition")
		}
		id, err := res.LastInsertId()
		if err != nil {
			return errors.Wrap(err, "definition id")
		}
		tr := def.Trigger
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO triggers(job_id, minute, hour, day_of_week, day_of_month, enabled)
			 VALUES(?,?,?,?,?,?)`,
			id, tr.Minute, tr.Hour, tr.DayOfWeek, tr.DayOfMonth, boolInt(def.Enabled),
		); err != nil {
			return errors.Wrap(err, "insert trigger")
		}
		def.ID = id
		return nil
	})
	if err != nil {
		return err
	}
	def.CreatedAt, def.UpdatedAt = fromMillis(now.UnixMilli()), fromMillis(now.UnixMilli())
	return nil
}

func (s *sqliteStore) UpdateSchedule(ctx context.Context, def *model.JobDefinition) error {
	if def == nil {
		return errors.New("nil definition")
	}
	now := s.now()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rp := reportColumns(def.Report)
		res, err := tx.ExecContext(ctx,
			`UPDATE job_definitions SET name=?, category=?, frequency=?, disable_at=?,
				report_recipients=?, report_format=?, report_type=?, report_range_start=?, report_range_end=?,
				updated_at=?
			 WHERE id=?`,
			def.Name, string(def.Category), string(def.Frequency), nullTime(def.DisableAt),
			rp[0], rp[1], rp[2], rp[3], rp[4], now.UnixMilli(), def.ID,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return errors.Wrapf(ErrDuplicate, "%q", def.Name)
			}
			return errors.Wrap(err, "update definition")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.Wrapf(ErrNotFound, "schedule %d", def.ID)
		}
		tr := def.Trigger
		if _, err := tx.ExecContext(ctx,
			`UPDATE triggers SET minute=?, hour=?, day_of_week=?, day_of_month=?, enabled=? WHERE job_id=?`,
			tr.Minute, tr.Hour, tr.DayOfWeek, tr.DayOfMonth, boolInt(def.Enabled), def.ID,
		); err != nil {
			return errors.Wrap(err, "update trigger")
		}
		return nil
	})
	if err != nil {
		return err
	}
	def.UpdatedAt = fromMillis(now.UnixMilli())
	return nil
}

func (s *sqliteStore) DeleteSchedule(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM triggers WHERE job_id=?`, id); err != nil {
			return errors.Wrap(err, "delete trigger")
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM job_definitions WHERE id=?`, id)
		if err != nil {
			return errors.Wrap(err, "delete definition")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.Wrapf(ErrNotFound, "schedule %d", id)
		}
		return nil
	})
}

func (s *sqliteStore) GetSchedule(ctx context.Context, id int64) (model.JobDefinition, error) {
	row := s.db.QueryRowContext(ctx, selectDefinitions+` WHERE d.id = ?`, id)
	def, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.JobDefinition{}, errors.Wrapf(ErrNotFound, "schedule %d", id)
	}
	return def, err
}

func (s *sqliteStore) ListSchedules(ctx context.Context, cats ...schedule.Category) ([]model.JobDefinition, error) {
	q := selectDefinitions
	args := make([]any, 0, len(cats))
	if len(cats) > 0 {
		q += ` WHERE d.category IN (?` + strings.Repeat(`,?`, len(cats)-1) + `)`
		for _, c := range cats {
			args = append(args, string(c))
		}
	}
	return s.queryDefinitions(ctx, q+` ORDER BY d.id`, args...)
}

func (s *sqliteStore) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE triggers SET enabled=? WHERE job_id=?`, boolInt(enabled), id)
	if err != nil {
		return errors.Wrap(err, "set enabled")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(ErrNotFound, "schedule %d", id)
	}
	return nil
}

func (s *sqliteStore) ListExpired(ctx context.Context, now time.Time) ([]model.JobDefinition, error) {
	return s.queryDefinitions(ctx,
		selectDefinitions+` WHERE t.enabled = 1 AND d.disable_at IS NOT NULL AND d.disable_at <= ? ORDER BY d.id`,
		now.UnixMilli())
}

func (s *sqliteStore) DisableExpired(ctx context.Context, id int64, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE triggers SET enabled = 0
		 WHERE job_id = ? AND enabled = 1
		   AND EXISTS (SELECT 1 FROM job_definitions d
		               WHERE d.id = triggers.job_id AND d.disable_at IS NOT NULL AND d.disable_at <= ?)`,
		id, now.UnixMilli())
	if err != nil {
		return false, errors.Wrap(err, "disable expired")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return n > 0, nil
}

func (s *sqliteStore) queryDefinitions(ctx context.Context, q string, args ...any) ([]model.JobDefinition, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query definitions")
	}
	defer rows.Close()

	var out []model.JobDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, errors.Wrap(rows.Err(), "iterate definitions")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDefinition(sc scanner) (model.JobDefinition, error) {
	var (
		def                           model.JobDefinition
		category, frequency           string
		disableAt                     sql.NullInt64
		recipients, format, rtype     sql.NullString
		rangeStart, rangeEnd          sql.NullString
		createdAt, updatedAt, enabled int64
	)
	err := sc.Scan(&def.ID, &def.Name, &category, &frequency, &disableAt,
		&recipients, &format, &rtype, &rangeStart, &rangeEnd,
		&createdAt, &updatedAt,
		&def.Trigger.Minute, &def.Trigger.Hour, &def.Trigger.DayOfWeek, &def.Trigger.DayOfMonth, &enabled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return def, err
		}
		return def, errors.Wrap(err, "scan definition")
	}
	def.Category = schedule.Category(category)
	def.Frequency = schedule.Frequency(frequency)
	def.Enabled = enabled != 0
	def.CreatedAt = fromMillis(createdAt)
	def.UpdatedAt = fromMillis(updatedAt)
	if disableAt.Valid {
		t := fromMillis(disableAt.Int64)
		def.DisableAt = &t
	}
	if format.Valid || rtype.Valid || recipients.Valid {
		def.Report = &model.ReportParams{
			Recipients: model.SplitRecipients(recipients.String),
			Format:     model.ReportFormat(format.String),
			Type:       model.ReportType(rtype.String),
			RangeStart: rangeStart.String,
			RangeEnd:   rangeEnd.String,
		}
	}
	return def, nil
}

func reportColumns(p *model.ReportParams) [5]any {
	if p == nil {
		return [5]any{nil, nil, nil, nil, nil}
	}
	return [5]any{
		nullStr(strings.Join(p.Recipients, ",")),
		nullStr(string(p.Format)),
		nullStr(string(p.Type)),
		nullStr(p.RangeStart),
		nullStr(p.RangeEnd),
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
