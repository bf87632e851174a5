// Package reports renders effectiveness reports for compliance filing.
// The rendered artifacts carry aggregate rates only; audit entries with
// query hashes never leave the trail.
package reports

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/praktijkzorg/medguard/internal/audit"
)

type Format string

const (
	FormatPDF  Format = "pdf"
	FormatJSON Format = "json"
)

type Report struct {
	Title       string
	Format      Format
	GeneratedAt time.Time
	Data        []byte
	Filename    string
	MimeType    string
}

// Render produces the evidence artifact for a computed report.
func Render(report *audit.EffectivenessReport, format Format) (*Report, error) {
	title := "Privacy Governance Effectiveness Report"
	stamp := report.GeneratedAt.Format("2006-01-02")

	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(report.ToEvidence(), "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshaling evidence: %w", err)
		}
		return &Report{
			Title:       title,
			Format:      FormatJSON,
			GeneratedAt: report.GeneratedAt,
			Data:        data,
			Filename:    fmt.Sprintf("effectiveness-%s.json", stamp),
			MimeType:    "application/json",
		}, nil

	case FormatPDF:
		data, err := renderPDF(title, report)
		if err != nil {
			return nil, err
		}
		return &Report{
			Title:       title,
			Format:      FormatPDF,
			GeneratedAt: report.GeneratedAt,
			Data:        data,
			Filename:    fmt.Sprintf("effectiveness-%s.pdf", stamp),
			MimeType:    "application/pdf",
		}, nil
	}

	return nil, fmt.Errorf("unsupported report format %q", format)
}

func renderPDF(title string, report *audit.EffectivenessReport) ([]byte, error) {
	pdf := NewPDFReport(title)

	pdf.AddSection("Reporting Period")
	pdf.AddParagraph(fmt.Sprintf("From %s to %s.",
		report.PeriodStart.Format("2 January 2006"),
		report.PeriodEnd.Format("2 January 2006")))

	pdf.AddSection("Protection Rates")
	pdf.AddRate("Cloud PII protection", report.CloudPIIProtection, 1.0)
	pdf.AddRate("Patient isolation success", report.IsolationSuccess, 1.0)
	pdf.AddRate("Guardrail block rate", report.GuardrailBlockRate, 0.0)

	pdf.AddSection("Volumes")
	pdf.AddSummaryTable([][2]string{
		{"Cloud queries", fmt.Sprintf("%d", report.TotalCloudQueries)},
		{"Cloud queries containing PII", fmt.Sprintf("%d", report.CloudQueriesWithPII)},
		{"PII instances transformed", fmt.Sprintf("%d", report.TotalPIIInstances)},
		{"Guardrail events", fmt.Sprintf("%d", report.TotalGuardrailEvents)},
		{"Blocked by guardrails", fmt.Sprintf("%d", report.BlockedEvents)},
		{"Isolation checks", fmt.Sprintf("%d", report.TotalIsolationChecks)},
		{"Isolation violations", fmt.Sprintf("%d", report.IsolationViolations)},
	})

	if len(report.EventsByType) > 0 {
		pdf.AddSection("Guardrail Events by Check")
		types := make([]string, 0, len(report.EventsByType))
		for t := range report.EventsByType {
			types = append(types, t)
		}
		sort.Strings(types)

		rows := make([][]string, 0, len(types))
		for _, t := range types {
			rows = append(rows, []string{t, fmt.Sprintf("%d", report.EventsByType[t])})
		}
		pdf.AddTable([]string{"Check", "Events"}, rows)
	}

	return pdf.Output()
}
