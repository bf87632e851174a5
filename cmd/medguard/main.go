// medguard is the offline companion tool: it runs the anonymizer, the
// guardrail passes, and the effectiveness report against a local audit
// directory without a running server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/praktijkzorg/medguard/internal/anonymizer"
	"github.com/praktijkzorg/medguard/internal/audit"
	"github.com/praktijkzorg/medguard/internal/cloudgate"
	"github.com/praktijkzorg/medguard/internal/config"
	"github.com/praktijkzorg/medguard/internal/guardrails"
	"github.com/praktijkzorg/medguard/internal/models"
	"github.com/praktijkzorg/medguard/internal/pii"
	"github.com/praktijkzorg/medguard/internal/reports"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	anonymize := flag.String("anonymize", "", "Anonymize the given text and print the result")
	validateInput := flag.String("validate-input", "", "Run the input guardrail pass over the given text")
	validateOutput := flag.String("validate-output", "", "Run the output guardrail pass over the given text")
	eligibility := flag.String("cloud-eligibility", "", "Decide cloud eligibility for the given text")
	role := flag.String("role", string(models.RoleGP), "Role to evaluate under")
	report := flag.Bool("report", false, "Build the effectiveness report from the local audit log")
	reportDays := flag.Int("report-days", 30, "Report window in days")
	pdfOut := flag.String("pdf", "", "Write the report as PDF to this path instead of JSON to stdout")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("medguard v%s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}

	switch {
	case *anonymize != "":
		runAnonymize(*anonymize)
	case *validateInput != "":
		runValidate(cfg, *validateInput, *role, true)
	case *validateOutput != "":
		runValidate(cfg, *validateOutput, *role, false)
	case *eligibility != "":
		runEligibility(*eligibility, *role)
	case *report:
		runReport(cfg, *reportDays, *pdfOut)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatalf("Failed to encode output: %v", err)
	}
}

func runAnonymize(text string) {
	anon := anonymizer.New(pii.NewDetector())
	printJSON(anon.Anonymize(text))
}

func runValidate(cfg *config.Config, text, roleName string, input bool) {
	role := models.Role(roleName)
	if !role.Valid() {
		fatalf("Unknown role %q", roleName)
	}

	orch := guardrails.New(cfg.Guardrails.Config, pii.NewDetector())
	gctx := guardrails.Context{Role: role, Source: "cli"}

	var result *guardrails.Result
	if input {
		result = orch.ValidateInput(context.Background(), text, gctx)
	} else {
		result = orch.ValidateOutput(context.Background(), text, gctx)
	}
	printJSON(result)

	if !result.Allowed {
		os.Exit(1)
	}
}

func runEligibility(text, roleName string) {
	role := models.Role(roleName)
	if !role.Valid() {
		fatalf("Unknown role %q", roleName)
	}

	detector := pii.NewDetector()
	decider := cloudgate.New(detector)
	if elig := decider.DecidePolicy(role); !elig.Eligible {
		printJSON(elig)
		os.Exit(1)
	}

	anon := anonymizer.New(detector).Anonymize(text)
	elig := decider.Decide(anon)
	printJSON(elig)

	if !elig.Eligible {
		os.Exit(1)
	}
}

func runReport(cfg *config.Config, days int, pdfPath string) {
	sink, err := audit.NewJSONLSink(cfg.Audit.Dir)
	if err != nil {
		fatalf("Failed to open audit log: %v", err)
	}
	defer sink.Close()

	now := time.Now().UTC()
	window := audit.TimeRange{From: now.AddDate(0, 0, -days), To: now}

	rep, err := audit.NewReporter(sink).BuildReport(context.Background(), window)
	if err != nil {
		fatalf("Failed to build report: %v", err)
	}

	if pdfPath != "" {
		rendered, err := reports.Render(rep, reports.FormatPDF)
		if err != nil {
			fatalf("Failed to render report: %v", err)
		}
		if err := os.WriteFile(pdfPath, rendered.Data, 0o644); err != nil {
			fatalf("Failed to write %s: %v", pdfPath, err)
		}
		fmt.Printf("Report written to %s\n", pdfPath)
		return
	}

	printJSON(rep.ToEvidence())
}
