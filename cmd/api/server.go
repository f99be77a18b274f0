package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/WessleyAI/skumatch/engine/batch"
	"github.com/WessleyAI/skumatch/engine/domain"
	"github.com/WessleyAI/skumatch/engine/export"
	"github.com/WessleyAI/skumatch/engine/service"
	"github.com/WessleyAI/skumatch/pkg/mid"
	"github.com/WessleyAI/skumatch/pkg/schema"
)

type server struct {
	svc *service.Service
	log *zap.Logger
	now func() time.Time
}

func newServer(svc *service.Service, log *zap.Logger) *server {
	return &server{svc: svc, log: log, now: time.Now}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/catalog", s.handleUploadCatalog)
	mux.HandleFunc("GET /api/catalog", s.handleCatalogInfo)
	mux.HandleFunc("POST /api/match", s.handleMatch)
	mux.HandleFunc("POST /api/export", s.handleExport)
	mux.Handle("GET /metrics", s.svc.Metrics.Handler())

	cfg := s.svc.Config.Server
	return mid.Chain(mux,
		mid.Recover(s.log),
		mid.RequestID(),
		mid.Logger(s.log),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("skumatch-api"),
		mid.MaxBody(cfg.MaxUploadMB<<20),
	)
}

// --- Handlers ---

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"catalog_ready": s.svc.Store.Ready(),
	})
}

// CatalogResponse is the JSON response for POST /api/catalog.
type CatalogResponse struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	ProductsCount int    `json:"products_count"`
	SnapshotID    string `json:"snapshot_id"`
}

func (s *server) handleUploadCatalog(w http.ResponseWriter, r *http.Request) {
	body, name, err := catalogBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer body.Close()

	info, err := s.svc.IndexCSV(r.Context(), body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CatalogResponse{
		Status:        "success",
		Message:       fmt.Sprintf("indexed %d products from %s", info.ProductsCount, name),
		ProductsCount: info.ProductsCount,
		SnapshotID:    info.ID,
	})
}

// catalogBody returns the CSV stream from a multipart "file" field or, for
// any other content type, the raw body.
func catalogBody(r *http.Request) (io.ReadCloser, string, error) {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt != "multipart/form-data" {
		return r.Body, "request body", nil
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		return nil, "", err
	}
	if !strings.EqualFold(filepath.Ext(hdr.Filename), ".csv") {
		f.Close()
		return nil, "", domain.NewValidationError("file", hdr.Filename, errNotCSV)
	}
	return f, hdr.Filename, nil
}

var errNotCSV = errors.New("catalog must be a .csv file")

func (s *server) handleCatalogInfo(w http.ResponseWriter, _ *http.Request) {
	info, ok := s.svc.Store.Info()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no catalog uploaded", Kind: domain.KindNotReady})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// MatchResponse is the JSON response for POST /api/match.
type MatchResponse struct {
	Status       batch.Status    `json:"status"`
	Message      string          `json:"message"`
	RFQID        string          `json:"rfq_id"`
	SnapshotID   string          `json:"snapshot_id"`
	EnrichedData EnrichedData    `json:"enriched_data"`
	Failures     []batch.Failure `json:"failures"`
	Matched      int             `json:"matched"`
	NoMatch      int             `json:"no_match"`
	Failed       int             `json:"failed"`
}

type EnrichedData struct {
	LineItems []domain.EnrichedLineItem `json:"line_items"`
}

func (s *server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req batch.Request
	if !s.decode(w, r, schema.MatchRequest, &req) {
		return
	}

	res, err := s.svc.Batch.Run(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MatchResponse{
		Status:       res.Status,
		Message:      res.Message,
		RFQID:        res.RFQID,
		SnapshotID:   res.SnapshotID,
		EnrichedData: EnrichedData{LineItems: res.Items},
		Failures:     res.Failures,
		Matched:      res.Matched,
		NoMatch:      res.NoMatch,
		Failed:       res.Failed,
	})
}

func (s *server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req EnrichedData
	if !s.decode(w, r, schema.ExportRequest, &req) {
		return
	}

	name := fmt.Sprintf("enriched_rfq_%s.csv", s.now().UTC().Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	if err := export.WriteCSV(w, req.LineItems); err != nil {
		s.log.Error("export write failed", zap.Error(err), zap.String("request_id", mid.RequestIDFrom(r.Context())))
	}
}

// decode reads the body, checks it against the named schema and unmarshals
// it into v. It writes the error response and returns false on failure.
func (s *server) decode(w http.ResponseWriter, r *http.Request, name string, v any) bool {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, r, err)
		return false
	}
	violations, err := schema.Validate(name, raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body", Kind: domain.KindValidation})
		return false
	}
	if len(violations) > 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body", Kind: domain.KindValidation, Details: violations})
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		s.writeError(w, r, domain.NewValidationError("body", "", err))
		return false
	}
	return true
}

// --- Errors ---

type errorBody struct {
	Error   string           `json:"error"`
	Kind    domain.ErrorKind `json:"kind"`
	Details []string         `json:"details,omitempty"`
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: err.Error(), Kind: domain.KindValidation})
		return
	}
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "multipart field \"file\" is required", Kind: domain.KindValidation})
		return
	}

	kind := domain.KindOf(err)
	status := statusFor(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	if status >= 500 {
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("kind", string(kind)),
			zap.String("request_id", mid.RequestIDFrom(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, status, errorBody{Error: msg, Kind: kind})
}

func statusFor(k domain.ErrorKind) int {
	switch k {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotReady:
		return http.StatusConflict
	case domain.KindEmbedding:
		return http.StatusBadGateway
	case domain.KindSearch:
		return http.StatusServiceUnavailable
	case domain.KindCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
