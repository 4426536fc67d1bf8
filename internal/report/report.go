// Package report builds the trace report rows sent by Email schedules and
// hands them to a Deliverer. Rendering and transport live outside this
// repository; the default deliverer only logs and publishes an event.
package report

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"tracksched/internal/model"
)

const rowTimeLayout = "2006-01-02 03:04:05 PM"

type Row struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	Category    string `json:"category"`
	CreatedAt   string `json:"created_at"`
	UnitsTraced int    `json:"units_traced"`
	Success     int    `json:"success"`
	Failures    int    `json:"failures"`
}

type Report struct {
	Name       string             `json:"name"`
	Type       model.ReportType   `json:"report_type"`
	Format     model.ReportFormat `json:"format"`
	Subject    string             `json:"subject"`
	Recipients []string           `json:"recipients"`
	From       time.Time          `json:"from"`
	To         time.Time          `json:"to"`
	Rows       []Row              `json:"rows"`
}

type Source interface {
	ListTraceReports(ctx context.Context, from, to time.Time) ([]model.TraceReport, error)
	ListWebsites(ctx context.Context) ([]model.Website, error)
}

// Build reads trace reports created in [from, to]. UnitTraces yields one row
// per run; WebCrawlers sums runs per website.
func Build(ctx context.Context, src Source, typ model.ReportType, from, to time.Time) ([]Row, error) {
	runs, err := src.ListTraceReports(ctx, from, to)
	if err != nil {
		return nil, errors.Wrap(err, "load trace reports")
	}
	sites, err := src.ListWebsites(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load websites")
	}
	byName := make(map[string]model.Website, len(sites))
	for _, w := range sites {
		byName[w.Name] = w
	}

	row := func(r model.TraceReport) Row {
		w := byName[r.Website]
		return Row{
			Name:        r.Website,
			Status:      w.Status,
			Category:    w.Category,
			CreatedAt:   r.CreatedAt.Format(rowTimeLayout),
			UnitsTraced: r.UnitsTraced,
			Success:     r.Success,
			Failures:    r.Failures(),
		}
	}

	switch typ {
	case model.ReportUnitTraces:
		out := make([]Row, 0, len(runs))
		for _, r := range runs {
			out = append(out, row(r))
		}
		return out, nil
	case model.ReportWebCrawlers:
		sums := map[string]*Row{}
		for _, r := range runs {
			cur, ok := sums[r.Website]
			if !ok {
				v := row(r)
				sums[r.Website] = &v
				continue
			}
			cur.UnitsTraced += r.UnitsTraced
			cur.Success += r.Success
			cur.Failures += r.Failures()
			cur.CreatedAt = r.CreatedAt.Format(rowTimeLayout)
		}
		out := make([]Row, 0, len(sums))
		for _, v := range sums {
			out = append(out, *v)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return out, nil
	}
	return nil, errors.Newf("unknown report type %q", typ)
}

// Title is the human name of a report type, e.g. "UnitTraces Report".
func Title(typ model.ReportType) string { return string(typ) + " Report" }

// Subject is the mail subject line.
func Subject(typ model.ReportType, format model.ReportFormat) string {
	return "[tracking] " + Title(typ) + " - " + string(format)
}

// NormalizeFormat maps anything that is not PDF to Excel.
func NormalizeFormat(s string) model.ReportFormat {
	if strings.EqualFold(strings.TrimSpace(s), string(model.FormatPDF)) {
		return model.FormatPDF
	}
	return model.FormatExcel
}

func ParseType(s string) (model.ReportType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unittraces", "unit_traces":
		return model.ReportUnitTraces, nil
	case "webcrawlers", "web_crawlers":
		return model.ReportWebCrawlers, nil
	}
	return "", errors.Newf("unknown report type %q", s)
}
