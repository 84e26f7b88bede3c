package chi

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docq"
	"github.com/kailas-cloud/docq/internal/domain/path"
	"github.com/kailas-cloud/docq/internal/logger"
	"github.com/kailas-cloud/docq/internal/metrics"
	"github.com/kailas-cloud/docq/internal/version"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultPageSize = 20

// Config holds HTTP surface settings.
type Config struct {
	MaxPageSize int
	APIKeys     []string
	Gatherer    prometheus.Gatherer // nil uses the default registry
}

// Server serves schemaless document queries over HTTP. Every request runs
// in its own session, so nothing is tracked across requests.
type Server struct {
	client *docq.Client
	cfg    Config
	logger *zap.Logger
}

// NewServer creates an HTTP API server.
func NewServer(client *docq.Client, cfg Config, logger *zap.Logger) *Server {
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 100
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{client: client, cfg: cfg, logger: logger}
}

// Handler returns the routed handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(JSONRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(WideEventMiddleware(s.logger))
	r.Use(BearerAuthMiddleware(s.cfg.APIKeys))
	r.Use(metrics.Middleware())

	r.Get("/healthz", s.HealthCheck)
	r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	r.Route("/v1", func(r chi.Router) {
		r.Post("/query", s.Query)
		r.Get("/documents/*", s.GetDocuments)
		r.Post("/documents/*", s.CreateDocument)
		r.Put("/documents/*", s.ReplaceDocument)
		r.Delete("/documents/*", s.DeleteDocument)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "route not found")
	})
	return r
}

// HealthCheck handles GET /healthz.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if err := s.client.Ping(r.Context()); err != nil {
		logger.FromContextOr(r.Context(), s.logger).Warn("health check failed", zap.Error(err))
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":   status,
		"database": s.client.Database(),
		"version":  version.Get(),
	})
}

// GetDocuments handles GET /v1/documents/{path}. A document path returns
// the document; a collection path lists it, honoring limit, skip and
// order_by (prefix with "-" for descending).
func (s *Server) GetDocuments(w http.ResponseWriter, r *http.Request) {
	p := chi.URLParam(r, "*")
	if isDocumentPath(p) {
		doc, err := s.lookup(r, p)
		if err != nil {
			s.handleError(w, r, err)
			return
		}
		if doc == nil {
			writeError(w, http.StatusNotFound, codeNotFound, "document "+p+" not found")
			return
		}
		writeJSON(w, http.StatusOK, doc)
		return
	}
	if !isCollectionPath(p) {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid path "+strconv.Quote(p))
		return
	}

	q := queryRequest{Collection: p}
	var err error
	if q.Limit, err = intParam(r, "limit", min(defaultPageSize, s.cfg.MaxPageSize)); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if q.Skip, err = intParam(r, "skip", 0); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	for _, o := range r.URL.Query()["order_by"] {
		if o == "" {
			continue
		}
		if o[0] == '-' {
			q.OrderBy = append(q.OrderBy, orderRequest{Field: o[1:], Desc: true})
		} else {
			q.OrderBy = append(q.OrderBy, orderRequest{Field: o})
		}
	}
	s.runQuery(w, r, &q)
}

// Query handles POST /v1/query.
func (s *Server) Query(w http.ResponseWriter, r *http.Request) {
	var q queryRequest
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}
	if !isCollectionPath(q.Collection) {
		writeError(w, http.StatusBadRequest, codeBadRequest, "collection must be a collection path")
		return
	}
	s.runQuery(w, r, &q)
}

func (s *Server) runQuery(w http.ResponseWriter, r *http.Request, q *queryRequest) {
	if q.Limit > s.cfg.MaxPageSize {
		writeError(w, http.StatusBadRequest, codeBadRequest,
			"limit exceeds the maximum page size of "+strconv.Itoa(s.cfg.MaxPageSize))
		return
	}
	resp, err := q.execute(r.Context(), s.client.Session(), s.cfg.MaxPageSize)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateDocument handles POST /v1/documents/{collection}. The id is taken
// from the body or generated.
func (s *Server) CreateDocument(w http.ResponseWriter, r *http.Request) {
	coll := chi.URLParam(r, "*")
	if !isCollectionPath(coll) {
		writeError(w, http.StatusBadRequest, codeBadRequest, "documents are created in a collection path")
		return
	}
	doc, ok := s.decodeDocument(w, r)
	if !ok {
		return
	}
	if doc["id"] == nil {
		doc["id"] = docq.NewID()
	}
	id, ok := doc["id"].(string)
	if !ok || id == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "id must be a non-empty string")
		return
	}

	sess := s.client.Session()
	if err := sess.AddTo(coll, doc); err != nil {
		s.handleError(w, r, err)
		return
	}
	if err := sess.SaveChanges(r.Context()); err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id, "path": docq.Path(coll, id)})
}

// ReplaceDocument handles PUT /v1/documents/{path}: the stored document is
// loaded, its fields replaced by the body and the difference written.
func (s *Server) ReplaceDocument(w http.ResponseWriter, r *http.Request) {
	p := chi.URLParam(r, "*")
	if !isDocumentPath(p) {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid document path "+strconv.Quote(p))
		return
	}
	body, ok := s.decodeDocument(w, r)
	if !ok {
		return
	}

	sess := s.client.Session()
	doc, err := docq.FromCollection[docq.Document](sess, path.Parent(p)).
		Where(docq.Field("id").Eq(path.ID(p))).
		FirstOrDefault(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	if doc == nil {
		writeError(w, http.StatusNotFound, codeNotFound, "document "+p+" not found")
		return
	}
	for k := range *doc {
		if k != "id" {
			delete(*doc, k)
		}
	}
	for k, v := range body {
		if k != "id" {
			(*doc)[k] = v
		}
	}
	if err := sess.SaveChanges(r.Context()); err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, *doc)
}

// DeleteDocument handles DELETE /v1/documents/{path}. Child collections of
// the document are kept.
func (s *Server) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	p := chi.URLParam(r, "*")
	if !isDocumentPath(p) {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid document path "+strconv.Quote(p))
		return
	}
	sess := s.client.Session()
	if err := sess.RemoveFrom(path.Parent(p), docq.Document{"id": path.ID(p)}); err != nil {
		s.handleError(w, r, err)
		return
	}
	if err := sess.SaveChanges(r.Context()); err != nil {
		s.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) lookup(r *http.Request, p string) (*docq.Document, error) {
	return docq.FromCollection[docq.Document](s.client.Session(), path.Parent(p)).
		Where(docq.Field("id").Eq(path.ID(p))).
		FirstOrDefault(r.Context())
}

func (s *Server) decodeDocument(w http.ResponseWriter, r *http.Request) (docq.Document, bool) {
	var doc map[string]any
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil || doc == nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "request body must be a JSON object")
		return nil, false
	}
	return normalize(doc).(map[string]any), true
}

func isDocumentPath(p string) bool {
	return path.Validate(p) == nil
}

func isCollectionPath(p string) bool {
	return p != "" && path.Validate(p+"/x") == nil
}

func intParam(r *http.Request, name string, dflt int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return dflt, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

// normalize turns integral JSON numbers into int64 so they compare and
// store like Go integers.
func normalize(v any) any {
	switch x := v.(type) {
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x)
		}
		return x
	case []any:
		for i := range x {
			x[i] = normalize(x[i])
		}
		return x
	case map[string]any:
		for k := range x {
			x[k] = normalize(x[k])
		}
		return x
	default:
		return v
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
