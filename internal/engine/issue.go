package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/miradorstack/mirador-aha/internal/metrics"
	"github.com/miradorstack/mirador-aha/internal/models"
	"github.com/miradorstack/mirador-aha/internal/repo"
)

// IssueCreator opens a ticket. *repo.GitHubClient satisfies it.
type IssueCreator interface {
	CreateIssue(ctx context.Context, req repo.IssueRequest) (repo.Issue, error)
}

// IssueReport is everything rendered into a filed issue.
type IssueReport struct {
	Title     string
	TraceID   string
	TraceURL  string
	Diagnosis models.DiagnosisResult
	Hints     []string
}

// IssueFiler renders diagnoses as Markdown issues. A filer built without a
// creator is inert: every call is skipped without network I/O.
type IssueFiler struct {
	creator IssueCreator
	labels  []string
	logger  *slog.Logger
	now     func() time.Time
}

// NewIssueFiler constructs a filer. Pass a nil creator when the tracker is
// not configured; that is logged once here rather than on every incident.
func NewIssueFiler(logger *slog.Logger, creator IssueCreator, labels []string) *IssueFiler {
	if logger == nil {
		logger = slog.Default()
	}
	if len(labels) == 0 {
		labels = []string{"aha-generated", "bug"}
	}
	if creator == nil {
		logger.Warn("issue tracker not configured; incidents will not be filed")
	}
	return &IssueFiler{creator: creator, labels: labels, logger: logger, now: time.Now}
}

// Enabled reports whether filing can reach a tracker.
func (f *IssueFiler) Enabled() bool {
	return f != nil && f.creator != nil
}

// FileIssue returns the created issue URL, or false when filing was skipped
// or failed. Failures are logged and never retried.
func (f *IssueFiler) FileIssue(ctx context.Context, report IssueReport) (string, bool) {
	if !f.Enabled() {
		metrics.ObserveIssue(metrics.FilingSkipped)
		return "", false
	}

	labels := appendUnique(append([]string(nil), f.labels...), report.Diagnosis.ErrorCategory)
	issue, err := f.creator.CreateIssue(ctx, repo.IssueRequest{
		Title:  report.Title,
		Body:   f.RenderReport(report),
		Labels: labels,
	})
	if err != nil {
		f.logger.Error("issue filing failed", slog.String("trace_id", report.TraceID), slog.Any("error", err))
		metrics.ObserveIssue(metrics.FilingFailed)
		return "", false
	}

	metrics.ObserveIssue(metrics.FilingCreated)
	f.logger.Info("issue filed", slog.String("trace_id", report.TraceID), slog.String("url", issue.HTMLURL))
	return issue.HTMLURL, true
}

// RenderReport builds the Markdown issue body.
func (f *IssueFiler) RenderReport(report IssueReport) string {
	d := report.Diagnosis
	var b strings.Builder
	b.WriteString("# Agent Failure Report\n\n")
	fmt.Fprintf(&b, "**Trace ID:** %s\n", report.TraceID)
	fmt.Fprintf(&b, "**Timestamp:** %s\n", f.now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "**Confidence Score:** %.2f\n\n", d.ConfidenceScore)
	fmt.Fprintf(&b, "## Diagnosis\n%s\n\n", d.Diagnosis)
	fmt.Fprintf(&b, "## Root Cause Analysis\n%s\n\n", d.RootCause)
	fmt.Fprintf(&b, "## Error Category\n`%s`\n\n", d.ErrorCategory)
	fmt.Fprintf(&b, "## Suggested Fix\n%s\n\n", d.SuggestedFix)
	if len(report.Hints) > 0 {
		b.WriteString("## Known Failure Hints\n")
		for _, h := range report.Hints {
			fmt.Fprintf(&b, "- %s\n", h)
		}
		b.WriteString("\n")
	}
	b.WriteString("## Links\n")
	fmt.Fprintf(&b, "- [View Full Trace in LangSmith](%s)\n\n", report.TraceURL)
	b.WriteString("---\n*This issue was automatically created by AHA (Autonomous AI Healing Agent)*\n")
	return b.String()
}
