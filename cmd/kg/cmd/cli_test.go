package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgraph/pkg/api"
)

// runCLI executes the root command against args and returns captured stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

// serveData starts a server that answers every request with the given data
// envelope, handing the raw request to capture first. Captures run on the
// server goroutine, so they assert rather than require.
func serveData(t *testing.T, status int, data any, capture func(*http.Request, []byte)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if capture != nil {
			capture(r, body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(api.Response{Data: data})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSearchQuerySendsRequestAndRendersHits(t *testing.T) {
	var gotPath string
	var gotReq api.SearchRequest
	srv := serveData(t, http.StatusOK, api.SearchResponse{
		Query: "cortisol",
		Mode:  "semantic",
		Hits: []api.SearchHit{
			{ID: "c_0123456789ab", Label: "Cortisol", Ontology: "health", Score: 0.91},
			{ID: "c_ba9876543210", Label: "Stress response", Ontology: "health", Score: 0.74},
		},
	}, func(r *http.Request, body []byte) {
		gotPath = r.URL.Path
		assert.NoError(t, json.Unmarshal(body, &gotReq))
	})

	out, err := runCLI(t, "--server", srv.URL, "--ontology", "health",
		"search", "query", "cortisol", "--limit", "5", "--grounding")
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/query/search", gotPath)
	assert.Equal(t, "cortisol", gotReq.Query)
	assert.Equal(t, "health", gotReq.Ontology)
	assert.Equal(t, 5, gotReq.Limit)
	assert.True(t, gotReq.IncludeGrounding)

	assert.Contains(t, out, "c_0123456789ab")
	assert.Contains(t, out, "Cortisol")
	assert.Contains(t, out, "0.910")
}

func TestSearchQueryJSONEmitsRawPayload(t *testing.T) {
	srv := serveData(t, http.StatusOK, api.SearchResponse{
		Query: "q", Mode: "semantic",
		Hits: []api.SearchHit{{ID: "c_0123456789ab", Label: "Thing", Score: 0.5}},
	}, nil)

	out, err := runCLI(t, "--server", srv.URL, "--json", "search", "query", "q")
	require.NoError(t, err)

	var decoded api.SearchResponse
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Len(t, decoded.Hits, 1)
	assert.Equal(t, "c_0123456789ab", decoded.Hits[0].ID)
}

func TestSearchConnectUsesConceptEndpointForIDs(t *testing.T) {
	var gotPath string
	var gotReq api.ConceptRequest
	srv := serveData(t, http.StatusOK, api.ConnectResponse{
		From: "c_0123456789ab",
		To:   "c_ba9876543210",
		Paths: []api.PathView{{
			Nodes: []api.PathNode{{ID: "c_0123456789ab", Label: "A"}, {ID: "c_ba9876543210", Label: "B"}},
			Edges: []api.PathEdge{{From: "c_0123456789ab", To: "c_ba9876543210", Type: "CAUSES", Confidence: 0.8}},
			Hops:  1,
		}},
	}, func(r *http.Request, body []byte) {
		gotPath = r.URL.Path
		assert.NoError(t, json.Unmarshal(body, &gotReq))
	})

	out, err := runCLI(t, "--server", srv.URL,
		"search", "connect", "c_0123456789ab", "c_ba9876543210", "--max-hops", "3")
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/query/concept", gotPath)
	assert.Equal(t, "connect", gotReq.Action)
	assert.Equal(t, "c_0123456789ab", gotReq.ConceptID)
	assert.Equal(t, "c_ba9876543210", gotReq.ToID)
	assert.Equal(t, 3, gotReq.MaxHops)
	assert.Contains(t, out, "A -[CAUSES]- B")
}

func TestSearchConnectResolvesFreeTextBySearch(t *testing.T) {
	var gotPath string
	var gotReq api.ConnectBySearchRequest
	srv := serveData(t, http.StatusOK, api.ConnectBySearchResponse{
		FromMatch: &api.MatchedConcept{ID: "c_0123456789ab", Label: "Cortisol", Score: 0.9},
		ToMatch:   &api.MatchedConcept{ID: "c_ba9876543210", Label: "Sleep", Score: 0.85},
		Paths:     []api.PathView{},
	}, func(r *http.Request, body []byte) {
		gotPath = r.URL.Path
		assert.NoError(t, json.Unmarshal(body, &gotReq))
	})

	out, err := runCLI(t, "--server", srv.URL, "search", "connect", "cortisol", "sleep quality")
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/query/connect-by-search", gotPath)
	assert.Equal(t, "cortisol", gotReq.FromQuery)
	assert.Equal(t, "sleep quality", gotReq.ToQuery)
	assert.Contains(t, out, "Cortisol")
	assert.Contains(t, out, "no path found")
}

func TestIngestTextPrintsAcceptedJob(t *testing.T) {
	var gotReq api.IngestTextRequest
	srv := serveData(t, http.StatusAccepted, api.JobAccepted{
		JobID:        "j_1f2e3d",
		Status:       "awaiting_approval",
		ContentHash:  "sha256:abc",
		ChunkCount:   3,
		CostEstimate: 0.0123,
	}, func(r *http.Request, body []byte) {
		assert.Equal(t, "/api/v1/ingest/text", r.URL.Path)
		assert.NoError(t, json.Unmarshal(body, &gotReq))
	})

	out, err := runCLI(t, "--server", srv.URL, "--ontology", "notes",
		"ingest", "text", "a short note", "--target-words", "500")
	require.NoError(t, err)

	assert.Equal(t, "a short note", gotReq.Content)
	assert.Equal(t, "notes", gotReq.Ontology)
	assert.Equal(t, 500, gotReq.TargetWords)
	assert.False(t, gotReq.AutoApprove)

	assert.Contains(t, out, "job j_1f2e3d")
	assert.Contains(t, out, "awaiting_approval")
	assert.Contains(t, out, "chunks=3")
	assert.Contains(t, out, "kg job approve j_1f2e3d")
}

func TestIngestTextReportsDuplicate(t *testing.T) {
	srv := serveData(t, http.StatusAccepted, api.JobAccepted{
		JobID:         "j_new",
		Status:        "awaiting_approval",
		ContentHash:   "sha256:abc",
		ChunkCount:    1,
		Duplicate:     true,
		ExistingJobID: "j_old",
	}, nil)

	out, err := runCLI(t, "--server", srv.URL, "ingest", "text", "same again", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "re-ingest of existing content (prior job j_old)")
}

func TestIngestFileUploadsMultipart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("# heading\n\nbody text"), 0o644))

	var gotFilename, gotOntology, gotAuto, gotContent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		if assert.NoError(t, err) {
			defer file.Close()
			var buf bytes.Buffer
			_, _ = buf.ReadFrom(file)
			gotFilename = header.Filename
			gotContent = buf.String()
		}
		gotOntology = r.FormValue("ontology")
		gotAuto = r.FormValue("auto_approve")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(api.Response{Data: api.JobAccepted{JobID: "j_f", Status: "approved", ChunkCount: 1}})
	}))
	t.Cleanup(srv.Close)

	out, err := runCLI(t, "--server", srv.URL, "--ontology", "docs",
		"ingest", "file", path, "--auto-approve")
	require.NoError(t, err)

	assert.Equal(t, "notes.md", gotFilename)
	assert.Equal(t, "# heading\n\nbody text", gotContent)
	assert.Equal(t, "docs", gotOntology)
	assert.Equal(t, "true", gotAuto)
	assert.Contains(t, out, "job j_f")
}

func TestJobListBuildsFilterParams(t *testing.T) {
	var gotQuery map[string][]string
	srv := serveData(t, http.StatusOK, []api.JobView{
		{
			JobID:       "j_1",
			Type:        "text",
			Status:      "running",
			Ontology:    "notes",
			Filename:    "a.md",
			Progress:    api.ProgressView{ChunksTotal: 4, ChunksDone: 2, Percent: 50},
			SubmittedAt: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		},
	}, func(r *http.Request, _ []byte) {
		gotQuery = r.URL.Query()
	})

	out, err := runCLI(t, "--server", srv.URL, "--ontology", "notes",
		"job", "list", "--status", "running,awaiting_approval", "--limit", "10")
	require.NoError(t, err)

	assert.Equal(t, []string{"running,awaiting_approval"}, gotQuery["status"])
	assert.Equal(t, []string{"10"}, gotQuery["limit"])
	assert.Equal(t, []string{"notes"}, gotQuery["ontology"])
	assert.Contains(t, out, "j_1")
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "a.md")
}

func TestJobApproveSendsNote(t *testing.T) {
	var gotPath string
	var gotReq api.ApproveJobRequest
	srv := serveData(t, http.StatusOK, api.JobView{JobID: "j_9", Status: "approved"},
		func(r *http.Request, body []byte) {
			gotPath = r.URL.Path
			assert.NoError(t, json.Unmarshal(body, &gotReq))
		})

	out, err := runCLI(t, "--server", srv.URL, "job", "approve", "j_9", "--note", "looks fine")
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/jobs/j_9/approve", gotPath)
	assert.Equal(t, "looks fine", gotReq.Note)
	assert.Contains(t, out, "job j_9 approved")
}

func TestJobDeleteHandlesNoContent(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	out, err := runCLI(t, "--server", srv.URL, "job", "delete", "j_7")
	require.NoError(t, err)

	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/api/v1/jobs/j_7", gotPath)
	assert.Contains(t, out, "job j_7 deleted")
}

func TestServerErrorsCarryKindAndDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(api.Response{Error: &api.ErrorBody{
			Kind:    "conflict",
			Message: "content already ingested",
			Details: map[string]any{"existing_job_id": "j_old"},
		}})
	}))
	t.Cleanup(srv.Close)

	_, err := runCLI(t, "--server", srv.URL, "ingest", "text", "dup")
	require.Error(t, err)
	assert.Equal(t, "conflict: content already ingested (existing_job_id=j_old)", err.Error())
}

func TestVocabListAllRequestsInactive(t *testing.T) {
	var gotQuery map[string][]string
	srv := serveData(t, http.StatusOK, []api.VocabTypeView{
		{Name: "CAUSES", Category: "causal", Direction: "directed", Builtin: true, Active: true, UsageCount: 12},
		{Name: "LEADS_TO", Category: "causal", Direction: "directed", Active: false, MergedInto: "CAUSES"},
	}, func(r *http.Request, _ []byte) {
		gotQuery = r.URL.Query()
	})

	out, err := runCLI(t, "--server", srv.URL, "vocab", "list", "--all")
	require.NoError(t, err)

	assert.Equal(t, []string{"true"}, gotQuery["include_inactive"])
	assert.Contains(t, out, "CAUSES")
	assert.Contains(t, out, "merged into CAUSES")
}

func TestVocabConsolidateRendersDecisions(t *testing.T) {
	var gotReq api.ConsolidateRequest
	srv := serveData(t, http.StatusOK, api.ConsolidationReport{
		DryRun:      true,
		StartActive: 48,
		EndActive:   45,
		Pairs:       6,
		Merged:      3,
		Decisions: []api.ConsolidationDecision{
			{Source: "LEADS_TO", Target: "CAUSES", Similarity: 0.94, Action: "merge"},
			{Source: "PART_OF", Target: "CONTAINS", Similarity: 0.88, Action: "keep", Reason: "distinct direction"},
		},
	}, func(r *http.Request, body []byte) {
		assert.NoError(t, json.Unmarshal(body, &gotReq))
	})

	out, err := runCLI(t, "--server", srv.URL, "vocab", "consolidate", "--dry-run", "--threshold", "0.85")
	require.NoError(t, err)

	assert.True(t, gotReq.DryRun)
	assert.InDelta(t, 0.85, gotReq.Threshold, 1e-9)
	assert.Contains(t, out, "dry run, nothing changed")
	assert.Contains(t, out, "48 -> 45")
	assert.Contains(t, out, "LEADS_TO -> CAUSES")
}

func TestPolarityProjectDisablesDiscovery(t *testing.T) {
	var gotReq api.PolarityAxisRequest
	srv := serveData(t, http.StatusOK, api.PolarityAnalysis{
		Axis: api.AxisView{
			PositivePoleLabel: "Growth", NegativePoleLabel: "Decay",
			Magnitude: 0.82, Quality: "good",
		},
		Projections: []api.ProjectionView{
			{ID: "c_0123456789ab", Label: "Renewal", Position: 0.63, Direction: "positive"},
		},
	}, func(r *http.Request, body []byte) {
		assert.NoError(t, json.Unmarshal(body, &gotReq))
	})

	out, err := runCLI(t, "--server", srv.URL, "polarity", "project",
		"c_aaaaaaaaaaaa", "c_bbbbbbbbbbbb", "c_0123456789ab")
	require.NoError(t, err)

	require.NotNil(t, gotReq.CandidateDiscovery)
	assert.False(t, *gotReq.CandidateDiscovery)
	assert.Equal(t, []string{"c_0123456789ab"}, gotReq.CandidateIDs)
	assert.Contains(t, out, "Growth <-> Decay")
	assert.Contains(t, out, "Renewal")
}

func TestOntologyDeleteRequiresConfirmation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("server should not be called without --yes")
	}))
	t.Cleanup(srv.Close)

	_, err := runCLI(t, "--server", srv.URL, "ontology", "delete", "health")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")
}

func TestOntologyDeleteReportsCounts(t *testing.T) {
	var gotMethod, gotPath string
	srv := serveData(t, http.StatusOK, api.OntologyDeleted{
		Name: "health", Concepts: 42, Sources: 10, Instances: 120, Relationships: 77, Documents: 3,
	}, func(r *http.Request, _ []byte) {
		gotMethod = r.Method
		gotPath = r.URL.Path
	})

	out, err := runCLI(t, "--server", srv.URL, "ontology", "delete", "health", "--yes")
	require.NoError(t, err)

	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/api/v1/ontology/health", gotPath)
	assert.Contains(t, out, "deleted health: 42 concepts")
}

func TestServerFlagDefaultsFromEnvironment(t *testing.T) {
	t.Setenv("KG_SERVER", "http://example.test:9999")
	root := NewRootCmd()
	flag := root.PersistentFlags().Lookup("server")
	require.NotNil(t, flag)
	assert.Equal(t, "http://example.test:9999", flag.DefValue)
}
