package validate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"research-platform/internal/fetch/strategy"
	"research-platform/pkg/config"
	pkgerrors "research-platform/pkg/errors"
)

type stubAssessor struct {
	score         float64
	contradiction bool
	err           error
	gotText       string
	gotCrossRefs  []string
}

func (a *stubAssessor) AssessConfidence(ctx context.Context, text string, crossRefs []string) (float64, bool, error) {
	a.gotText = text
	a.gotCrossRefs = crossRefs
	return a.score, a.contradiction, a.err
}

func newValidator(a Assessor, contents *ContentStore) *Validator {
	return NewValidator(config.ValidationConfig{ConfidenceThreshold: 0.7, MaxCrossRefs: 3}, a, contents)
}

func prov() Provenance {
	return Provenance{URL: "https://example.com/a", FetchedAt: time.Now(), Strategy: strategy.KindPlain}
}

const articleHTML = `<!DOCTYPE html>
<html><head><title>t</title><style>body{color:red}</style></head>
<body>
<nav>Home | About</nav>
<script>var tracker = 1;</script>
<article>Go 1.25 adds a new garbage collection mode tuned for small heaps.</article>
<footer>© example.com</footer>
</body></html>`

func TestValidateAccepts(t *testing.T) {
	contents := NewContentStore()
	a := &stubAssessor{score: 0.92}
	v := newValidator(a, contents)

	vc, err := v.Validate(context.Background(), "fetch-1", "task-1", []byte(articleHTML), "text/html", prov())
	require.NoError(t, err)

	assert.True(t, vc.Accepted)
	assert.Empty(t, vc.Reason)
	assert.InDelta(t, 0.92, vc.Confidence, 1e-9)
	// 样板被剥离，正文保留
	assert.Contains(t, a.gotText, "garbage collection")
	assert.NotContains(t, a.gotText, "tracker")
	assert.NotContains(t, a.gotText, "Home | About")
	// 接受后进入内容存储
	require.NotNil(t, contents.Get("fetch-1"))
}

func TestValidateRejectsLowConfidence(t *testing.T) {
	contents := NewContentStore()
	v := newValidator(&stubAssessor{score: 0.4}, contents)

	vc, err := v.Validate(context.Background(), "fetch-1", "task-1", []byte(articleHTML), "text/html", prov())
	require.NoError(t, err)

	assert.False(t, vc.Accepted)
	assert.Equal(t, ReasonLowConfidence, vc.Reason)
	// 被拒内容不进入交叉引用池
	assert.Nil(t, contents.Get("fetch-1"))
}

func TestValidateRejectsContradiction(t *testing.T) {
	contents := NewContentStore()
	v := newValidator(&stubAssessor{score: 0.9, contradiction: true}, contents)

	vc, err := v.Validate(context.Background(), "fetch-1", "task-1", []byte(articleHTML), "text/html", prov())
	require.NoError(t, err)

	assert.False(t, vc.Accepted)
	assert.Equal(t, ReasonContradiction, vc.Reason)
}

func TestValidatePassesCrossRefs(t *testing.T) {
	contents := NewContentStore()
	contents.Put(&ValidatedContent{JobID: "fetch-0", TaskID: "task-1", Text: "earlier finding about GC", Accepted: true})

	a := &stubAssessor{score: 0.8}
	v := newValidator(a, contents)
	_, err := v.Validate(context.Background(), "fetch-1", "task-1", []byte(articleHTML), "text/html", prov())
	require.NoError(t, err)

	require.Len(t, a.gotCrossRefs, 1)
	assert.Contains(t, a.gotCrossRefs[0], "earlier finding")
}

func TestValidateUnparsablePayload(t *testing.T) {
	v := newValidator(&stubAssessor{score: 0.9}, NewContentStore())

	_, err := v.Validate(context.Background(), "fetch-1", "task-1", []byte("   "), "text/plain", prov())
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, ErrUnparsable))
}

func TestValidateAssessorUnavailable(t *testing.T) {
	v := newValidator(&stubAssessor{err: errors.New("connection refused")}, NewContentStore())

	_, err := v.Validate(context.Background(), "fetch-1", "task-1", []byte(articleHTML), "text/html", prov())
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.ErrUnavailable))
}

func TestNormalizePlainText(t *testing.T) {
	n := NewNormalizer()
	text, err := n.Normalize([]byte("  line one\n\nline   two  "), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "line one line two", text)
}

func TestSnippetsExcludeSelfAndTruncate(t *testing.T) {
	contents := NewContentStore()
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'x'
	}
	contents.Put(&ValidatedContent{JobID: "fetch-0", TaskID: "task-1", Text: string(long)})
	contents.Put(&ValidatedContent{JobID: "fetch-1", TaskID: "task-1", Text: "short"})

	snippets := contents.Snippets("task-1", "fetch-1", 5)
	require.Len(t, snippets, 1)
	assert.Len(t, snippets[0], snippetLen)
}
