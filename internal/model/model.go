// Package model holds the records shared by the store, the jobs and the
// HTTP layer.
package model

import (
	"strconv"
	"strings"
	"time"

	"tracksched/internal/schedule"
)

// JobDefinition is a scheduled job together with the trigger it owns.
type JobDefinition struct {
	ID        int64                  `json:"id"`
	Name      string                 `json:"name"`
	Category  schedule.Category      `json:"category"`
	Frequency schedule.Frequency     `json:"frequency"`
	Enabled   bool                   `json:"enabled"`
	DisableAt *time.Time             `json:"disable_at,omitempty"`
	Trigger   schedule.TriggerRecord `json:"trigger"`
	Report    *ReportParams          `json:"report,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// JobKey derives the registry key for a definition name: lower case, spaces
// replaced by underscores ("BCT Imports" -> "bct_imports").
func JobKey(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

type ReportFormat string

const (
	FormatPDF   ReportFormat = "PDF"
	FormatExcel ReportFormat = "Excel"
)

type ReportType string

const (
	ReportUnitTraces  ReportType = "UnitTraces"
	ReportWebCrawlers ReportType = "WebCrawlers"
)

// ReportParams configure an Email job.
type ReportParams struct {
	Recipients []string     `json:"recipients"`
	Format     ReportFormat `json:"format"`
	Type       ReportType   `json:"report_type"`
	RangeStart string       `json:"date_range_start,omitempty"` // YYYY-MM-DD
	RangeEnd   string       `json:"date_range_end,omitempty"`
}

// SplitRecipients parses the comma separated list the schedule form sends.
func SplitRecipients(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RequestLog is one inter-system call reported by a crawler.
type RequestLog struct {
	ID         int64     `json:"id"`
	Sender     string    `json:"sender"`
	Receiver   string    `json:"receiver"`
	Method     string    `json:"method"`
	Start      time.Time `json:"start_time"`
	Stop       time.Time `json:"stop_time"`
	Containers string    `json:"containers,omitempty"`
	Website    string    `json:"website"`
	CreatedAt  time.Time `json:"created_at"`
}

// ContainerCount reads the container column; missing or non-numeric values
// count as zero.
func (r RequestLog) ContainerCount() int {
	n, err := strconv.Atoi(strings.TrimSpace(r.Containers))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// TraceReport is one completed crawler run.
type TraceReport struct {
	ID          int64     `json:"id"`
	Website     string    `json:"website"`
	UnitsTraced int       `json:"units_traced"`
	Success     int       `json:"success"`
	CreatedAt   time.Time `json:"created_at"`
}

func (r TraceReport) Failures() int { return r.UnitsTraced - r.Success }

// Website is a carrier source the crawlers pull from.
type Website struct {
	Name     string `json:"name"`
	URL      string `json:"url,omitempty"`
	Category string `json:"category,omitempty"`
	Status   string `json:"status,omitempty"`
}
