package ontograph

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/audit"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/ontology"
)

// countingProvider returns a vector derived from the input length and counts
// how many texts it embedded.
type countingProvider struct {
	dims  int
	calls int
}

func (p *countingProvider) Name() string    { return "counting" }
func (p *countingProvider) Dimensions() int { return p.dims }

func (p *countingProvider) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		p.calls++
		v := make([]float32, p.dims)
		v[0] = 1
		v[len(in)%p.dims] += float32(len(in))
		out[i] = v
	}
	return out, nil
}

type approveAll struct{}

func (approveAll) Decide(_ context.Context, p apptype.MatchPrompt) (apptype.Decision, error) {
	if !p.CreateNewAllowed {
		return apptype.Decision{Action: apptype.ActionReject}, nil
	}
	return apptype.Decision{Action: apptype.ActionCreateNew}, nil
}

func (approveAll) ProvideProperty(_ context.Context, p apptype.PropertyRequest) (any, error) {
	if p.DataType == apptype.DataTypeEmail {
		return "privacy@example.com", nil
	}
	return "eu-west-1", nil
}

func (approveAll) Approve(context.Context, apptype.RelationshipPrompt) (apptype.Approval, error) {
	return apptype.Approval{Approve: true}, nil
}

func (approveAll) ConfirmPlan(context.Context, apptype.PlanSummary) (bool, error) {
	return true, nil
}

func newTestService(t *testing.T, name string, p *countingProvider, sink audit.Sink) *Service {
	t.Helper()
	cfg := &Config{
		URL:           "file:" + name + "?mode=memory&cache=shared",
		EmbeddingDims: 4,
	}
	svc, err := NewService(context.Background(), cfg, WithProvider(p), WithAuditSink(sink))
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	_, err = svc.ApplyOntology(context.Background(), ontology.Default())
	require.NoError(t, err)
	return svc
}

func TestServiceRunWritesAuditManifest(t *testing.T) {
	ctx := context.Background()
	auditPath := filepath.Join(t.TempDir(), "audit.jsonl")
	svc := newTestService(t, "svc-run", &countingProvider{dims: 4}, audit.NewFileSink(auditPath))

	m, err := svc.Run(ctx, apptype.SessionRequest{
		Candidates: []apptype.Candidate{
			{TypeName: "Asset", RawName: "CRM"},
			{TypeName: "Vendor", RawName: "MailCo"},
		},
		Relationships: []apptype.ProposedRelationship{
			{SourceCandidateRef: "c1", TargetCandidateRef: "c2", Label: "TRANSFERS_TO"},
		},
	}, approveAll{})
	require.NoError(t, err)
	require.Len(t, m.CreatedEntityIDs, 2)
	require.Len(t, m.CreatedRelationships, 1)

	e, err := svc.GetEntity(ctx, m.CreatedEntityIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", e.Properties["hosting_location"])
	rels, err := svc.RelationshipsOf(ctx, e.ID)
	require.NoError(t, err)
	assert.Len(t, rels, 1)

	f, err := os.Open(auditPath)
	require.NoError(t, err)
	defer f.Close()
	sc := bufio.NewScanner(f)
	require.True(t, sc.Scan())
	var logged apptype.Manifest
	require.NoError(t, json.Unmarshal(sc.Bytes(), &logged))
	assert.Equal(t, m.SessionID, logged.SessionID)
}

func TestServiceReindex(t *testing.T) {
	ctx := context.Background()
	p := &countingProvider{dims: 4}
	svc := newTestService(t, "svc-reindex", p, nil)

	_, err := svc.Run(ctx, apptype.SessionRequest{Candidates: []apptype.Candidate{
		{TypeName: "Asset", RawName: "Warehouse", RawDescription: "hosting_location: us-east-1"},
		{TypeName: "Asset", RawName: "Ledger", RawDescription: "hosting_location: us-east-1"},
		{TypeName: "ProcessingActivity", RawName: "Payroll", RawDescription: "purpose: salaries"},
	}}, approveAll{})
	require.NoError(t, err)

	n, err := svc.Reindex(ctx, "asset")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = svc.Reindex(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = svc.Reindex(ctx, "Robot")
	assert.Error(t, err)
}

func TestServiceOntologyFile(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, "svc-file", &countingProvider{dims: 4}, nil)

	path := filepath.Join(t.TempDir(), "ontology.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
entity_types:
  - name: Team
    properties:
      - name: lead_email
        type: email
        required: true
  - name: Asset
relationship_types:
  - source: Team
    target: Asset
    label: OWNS
`), 0o644))

	res, err := svc.ApplyOntologyFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TypesCreated)
	assert.Equal(t, 1, res.RelationshipTypes)

	rels, err := svc.RelationshipTypes(ctx)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "OWNS", rels[0].Label)
	assert.Equal(t, "none", (&Service{}).ProviderName())
	assert.Equal(t, "counting", svc.ProviderName())
}
