package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	chiRouter "github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fuseline/fuseline/internal/domain"
	"github.com/fuseline/fuseline/internal/domain/search/request"
	"github.com/fuseline/fuseline/internal/domain/search/result"
	healthuc "github.com/fuseline/fuseline/internal/usecase/health"
)

type fakeSearcher struct {
	resp    *result.Response
	err     error
	lastReq *request.Request
}

func (f *fakeSearcher) Search(_ context.Context, req *request.Request) (*result.Response, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type stubPinger struct{ err error }

func (s *stubPinger) Ping(_ context.Context) error { return s.err }

func newTestServer(searcher Searcher, pingErr error) *Server {
	health := healthuc.New(&stubPinger{err: pingErr}, nil, nil)
	return NewServer(searcher, health, domain.DefaultWeights(), zap.NewNop())
}

func doSearch(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := chiRouter.NewRouter()
	s.Register(r)

	req := httptest.NewRequest("POST", "/v1/search", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var e errorResponse
	if err := json.NewDecoder(rr.Body).Decode(&e); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return e
}

func TestSearchItems_MalformedBody(t *testing.T) {
	s := newTestServer(&fakeSearcher{}, nil)
	rr := doSearch(t, s, "{not json")

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rr.Code)
	}
	if e := decodeError(t, rr); e.Code != codeBadRequest {
		t.Errorf("code: got %s, want %s", e.Code, codeBadRequest)
	}
}

func TestSearchItems_EmptyQuery(t *testing.T) {
	s := newTestServer(&fakeSearcher{}, nil)
	rr := doSearch(t, s, `{"query": "  "}`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rr.Code)
	}
	if e := decodeError(t, rr); e.Code != codeValidationFailed {
		t.Errorf("code: got %s, want %s", e.Code, codeValidationFailed)
	}
}

func TestSearchItems_RetrievalUnavailable(t *testing.T) {
	s := newTestServer(&fakeSearcher{err: domain.ErrRetrievalUnavailable}, nil)
	rr := doSearch(t, s, `{"query": "q"}`)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d, want 503", rr.Code)
	}
	if e := decodeError(t, rr); e.Code != codeRetrievalUnavailable {
		t.Errorf("code: got %s, want %s", e.Code, codeRetrievalUnavailable)
	}
}

func TestSearchItems_DeadlineExceeded(t *testing.T) {
	for _, sentinel := range []error{domain.ErrDeadlineExceeded, context.DeadlineExceeded} {
		s := newTestServer(&fakeSearcher{err: sentinel}, nil)
		rr := doSearch(t, s, `{"query": "q"}`)

		if rr.Code != http.StatusGatewayTimeout {
			t.Errorf("%v: status got %d, want 504", sentinel, rr.Code)
		}
	}
}

func TestSearchItems_EmbeddingProviderError(t *testing.T) {
	s := newTestServer(&fakeSearcher{err: domain.ErrEmbeddingProviderError}, nil)
	rr := doSearch(t, s, `{"query": "q"}`)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status: got %d, want 502", rr.Code)
	}
}

func TestSearchItems_UnknownErrorIs500WithoutDetails(t *testing.T) {
	s := newTestServer(&fakeSearcher{err: errors.New("secret internals")}, nil)
	rr := doSearch(t, s, `{"query": "q"}`)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status: got %d, want 500", rr.Code)
	}
	e := decodeError(t, rr)
	if e.Message != "internal error" {
		t.Errorf("internal details leaked: %q", e.Message)
	}
}

func TestSearchItems_EmptyResultIs200(t *testing.T) {
	s := newTestServer(&fakeSearcher{resp: &result.Response{
		Results:    []result.Fused{},
		Provenance: result.ProvenanceComputed,
	}}, nil)
	rr := doSearch(t, s, `{"query": "no matches"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}

	var dto searchResponseDTO
	if err := json.NewDecoder(rr.Body).Decode(&dto); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if dto.Results == nil || len(dto.Results) != 0 {
		t.Errorf("expected empty result list, got %v", dto.Results)
	}
	if dto.Provenance != "computed" {
		t.Errorf("provenance: got %q", dto.Provenance)
	}
}

func TestSearchItems_WeightOverridesApplied(t *testing.T) {
	f := &fakeSearcher{resp: &result.Response{Provenance: result.ProvenanceComputed}}
	s := newTestServer(f, nil)
	rr := doSearch(t, s, `{"query": "q", "weights": {"lexical": 0.9}}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	w := f.lastReq.Weights()
	if w[domain.SignalLexical] != 0.9 {
		t.Errorf("lexical weight: got %v, want 0.9", w[domain.SignalLexical])
	}
	if w[domain.SignalVector] != 0.4 {
		t.Errorf("vector weight must keep its default, got %v", w[domain.SignalVector])
	}
}

func TestSearchItems_UnknownWeightSignal(t *testing.T) {
	s := newTestServer(&fakeSearcher{}, nil)
	rr := doSearch(t, s, `{"query": "q", "weights": {"graph": 0.5}}`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rr.Code)
	}
}

func TestHealthCheck_OK(t *testing.T) {
	s := newTestServer(&fakeSearcher{}, nil)
	r := chiRouter.NewRouter()
	s.Register(r)

	req := httptest.NewRequest("GET", "/health", http.NoBody)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var dto healthResponseDTO
	if err := json.NewDecoder(rr.Body).Decode(&dto); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dto.Status != "ok" || dto.Checks["store"] != "ok" {
		t.Errorf("unexpected health payload: %+v", dto)
	}
}

func TestHealthCheck_StoreDown503(t *testing.T) {
	s := newTestServer(&fakeSearcher{}, errors.New("store down"))
	r := chiRouter.NewRouter()
	s.Register(r)

	req := httptest.NewRequest("GET", "/health", http.NoBody)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d, want 503", rr.Code)
	}
}
