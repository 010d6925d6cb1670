package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-aha/internal/models"
	"github.com/miradorstack/mirador-aha/internal/repo"
	"github.com/miradorstack/mirador-aha/internal/utils"
)

type fakeCreator struct {
	url  string
	err  error
	reqs []repo.IssueRequest
}

func (f *fakeCreator) CreateIssue(ctx context.Context, req repo.IssueRequest) (repo.Issue, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return repo.Issue{}, f.err
	}
	return repo.Issue{Number: 1, HTMLURL: f.url}, nil
}

func sampleReport() IssueReport {
	return IssueReport{
		Title:    "Agent Failure: JSONDecodeError",
		TraceID:  "T1",
		TraceURL: "https://smith.langchain.com/trace/T1",
		Diagnosis: models.DiagnosisResult{
			Diagnosis:       "Bad JSON",
			ConfidenceScore: 0.876,
			RootCause:       "Fenced output",
			ErrorCategory:   "parsing_error",
			SuggestedFix:    "Strip fences",
		},
	}
}

func TestIssueFilerUnconfiguredIsInert(t *testing.T) {
	filer := NewIssueFiler(utils.DiscardLogger(), nil, nil)
	assert.False(t, filer.Enabled())
	url, ok := filer.FileIssue(context.Background(), sampleReport())
	assert.False(t, ok)
	assert.Empty(t, url)
}

func TestIssueFilerCreatesIssue(t *testing.T) {
	creator := &fakeCreator{url: "https://github.com/acme/aha-incidents/issues/1"}
	filer := NewIssueFiler(utils.DiscardLogger(), creator, []string{"aha-generated", "bug"})

	url, ok := filer.FileIssue(context.Background(), sampleReport())
	require.True(t, ok)
	assert.Equal(t, creator.url, url)

	require.Len(t, creator.reqs, 1)
	req := creator.reqs[0]
	assert.Equal(t, "Agent Failure: JSONDecodeError", req.Title)
	assert.Equal(t, []string{"aha-generated", "bug", "parsing_error"}, req.Labels)
}

func TestIssueFilerDeduplicatesLabels(t *testing.T) {
	creator := &fakeCreator{url: "u"}
	filer := NewIssueFiler(utils.DiscardLogger(), creator, nil)
	report := sampleReport()
	report.Diagnosis.ErrorCategory = "bug"
	_, ok := filer.FileIssue(context.Background(), report)
	require.True(t, ok)
	assert.Equal(t, []string{"aha-generated", "bug"}, creator.reqs[0].Labels)
}

func TestIssueFilerFailureIsSoft(t *testing.T) {
	filer := NewIssueFiler(utils.DiscardLogger(), &fakeCreator{err: errors.New("403 forbidden")}, nil)
	url, ok := filer.FileIssue(context.Background(), sampleReport())
	assert.False(t, ok)
	assert.Empty(t, url)
}

func TestRenderReport(t *testing.T) {
	filer := NewIssueFiler(utils.DiscardLogger(), nil, nil)
	filer.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	report := sampleReport()
	report.Hints = []string{"Strip markdown fences"}
	body := filer.RenderReport(report)

	want := "# Agent Failure Report\n\n" +
		"**Trace ID:** T1\n" +
		"**Timestamp:** 2024-05-01T12:00:00Z\n" +
		"**Confidence Score:** 0.88\n\n" +
		"## Diagnosis\nBad JSON\n\n" +
		"## Root Cause Analysis\nFenced output\n\n" +
		"## Error Category\n`parsing_error`\n\n" +
		"## Suggested Fix\nStrip fences\n\n" +
		"## Known Failure Hints\n- Strip markdown fences\n\n" +
		"## Links\n- [View Full Trace in LangSmith](https://smith.langchain.com/trace/T1)\n\n" +
		"---\n*This issue was automatically created by AHA (Autonomous AI Healing Agent)*\n"
	assert.Equal(t, want, body)

	report.Hints = nil
	assert.NotContains(t, filer.RenderReport(report), "Known Failure Hints")
}
