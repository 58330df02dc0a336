package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kestrel-noc/kestrel/internal/auth"
	"github.com/kestrel-noc/kestrel/internal/bus"
	"github.com/kestrel-noc/kestrel/internal/domain"
	"github.com/kestrel-noc/kestrel/internal/kpi"
	"github.com/kestrel-noc/kestrel/internal/metrics"
	"github.com/kestrel-noc/kestrel/internal/repository"
	"github.com/kestrel-noc/kestrel/internal/storage"
	"github.com/kestrel-noc/kestrel/internal/synthesis"
	"github.com/kestrel-noc/kestrel/internal/workbook"
)

const (
	defaultMaxUploadMB = 32
	detailNoData       = "Missing data to calculate"
)

// Uploader relays workbooks to file storage. *storage.Client implements it.
type Uploader interface {
	Upload(ctx context.Context, token string, f storage.File, info domain.FileInfo) (string, error)
}

// BatchConsumer reports whether queued batches are being consumed.
// *worker.Worker implements it.
type BatchConsumer interface {
	Consuming() bool
}

// Deps are the collaborators the handlers use. Repo, Cache, Bus, Storage and
// Worker may be nil; the routes that need them then answer 503.
type Deps struct {
	Repo      domain.Repository
	Cache     domain.Cache
	Bus       domain.EventBus
	Auth      auth.Validator
	Storage   Uploader
	Worker    BatchConsumer
	Synthesis *synthesis.Service

	// ExtraFields are passed to kpi.WithFields when the catalog is rebuilt.
	ExtraFields []string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	Deps
	maxUpload int64
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, maxUploadMB int64, version string) *Handler {
	if maxUploadMB <= 0 {
		maxUploadMB = defaultMaxUploadMB
	}
	return &Handler{
		Deps:      deps,
		maxUpload: maxUploadMB << 20,
		version:   version,
	}
}

// ============================================================================
// WORKBOOK HANDLERS
// ============================================================================

// uploadedFile is the "file" part of a multipart upload.
type uploadedFile struct {
	name        string
	contentType string
	content     []byte
}

// readUpload parses the multipart body and returns the "file" part.
// It writes the error response itself and returns nil on failure.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) *uploadedFile {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || errors.Is(err, multipart.ErrMessageTooLarge) {
			writeDetail(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("File exceeds %d MB", h.maxUpload>>20))
			return nil
		}
		writeDetail(w, http.StatusBadRequest, "Invalid multipart body: "+err.Error())
		return nil
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Missing file field")
		return nil
	}
	defer file.Close()

	if err := workbook.CheckFilename(header.Filename); err != nil {
		writeDetail(w, http.StatusBadRequest, "File must be an Excel sheet")
		return nil
	}

	if !authorize(w, r, h.Auth) {
		return nil
	}

	content, err := io.ReadAll(file)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Failed to read file: "+err.Error())
		return nil
	}
	metrics.UploadSize.WithLabelValues(routePattern(r)).Observe(float64(len(content)))

	return &uploadedFile{
		name:        header.Filename,
		contentType: header.Header.Get("Content-Type"),
		content:     content,
	}
}

func (h *Handler) openWorkbook(w http.ResponseWriter, f *uploadedFile) *workbook.Workbook {
	wb, err := workbook.OpenBytes(f.content)
	if err != nil {
		slog.Error("failed to open workbook", "file", f.name, "error", err)
		writeDetail(w, http.StatusBadRequest, "File must be an Excel sheet")
		return nil
	}
	return wb
}

// Upload handles POST /upload: the rows of one sheet for one city and date.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	f := h.readUpload(w, r)
	if f == nil {
		return
	}
	wb := h.openWorkbook(w, f)
	if wb == nil {
		return
	}
	defer wb.Close()

	q := r.URL.Query()
	sheet := q.Get("sheet_name")
	if sheet == "" {
		sheet = workbook.DefaultSheet
	}

	slog.Info("workbook received", "file", f.name, "sheets", wb.Sheets())

	records, err := wb.Extract(sheet, q.Get("city"), q.Get("date"))
	if err != nil {
		if errors.Is(err, workbook.ErrSheetNotFound) {
			writeDetail(w, http.StatusBadRequest, err.Error())
			return
		}
		internalError(w, r, "failed to extract rows", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": records})
}

// Info handles POST /info: sheet names plus the cities and dates of the first sheet.
func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	f := h.readUpload(w, r)
	if f == nil {
		return
	}
	wb := h.openWorkbook(w, f)
	if wb == nil {
		return
	}
	defer wb.Close()

	info, err := wb.Info()
	if err != nil {
		internalError(w, r, "failed to summarize workbook", err)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// UploadForCloud handles POST /uploadForCloud: relays the file and its date
// range to the storage service.
func (h *Handler) UploadForCloud(w http.ResponseWriter, r *http.Request) {
	if h.Storage == nil {
		writeDetail(w, http.StatusServiceUnavailable, "storage not available")
		return
	}

	f := h.readUpload(w, r)
	if f == nil {
		return
	}
	wb := h.openWorkbook(w, f)
	if wb == nil {
		return
	}
	defer wb.Close()

	info, err := wb.FileInfo()
	if err != nil {
		if errors.Is(err, workbook.ErrNoDates) {
			writeDetail(w, http.StatusBadRequest, "Workbook has no dated rows")
			return
		}
		internalError(w, r, "failed to read date range", err)
		return
	}

	reply, err := h.Storage.Upload(r.Context(), GetToken(r.Context()), storage.File{
		Name:        f.name,
		ContentType: f.contentType,
		Content:     f.content,
	}, info)
	if err != nil {
		slog.Error("storage upload failed",
			"file", f.name,
			"request_id", GetRequestID(r.Context()),
			"error", err,
		)
		writeDetail(w, http.StatusBadGateway, "Storage service error: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"data": reply})
}

// ============================================================================
// SYNTHESIS HANDLERS
// ============================================================================

// kpiData is the body of POST /getsynthese, the shape /upload returns.
type kpiData struct {
	Data []domain.MetricRecord `json:"data"`
}

// decodeKPIData reads the request body; an empty body yields no records.
func decodeKPIData(r *http.Request) ([]domain.MetricRecord, error) {
	var body kpiData
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	return body.Data, nil
}

// GetSynthese handles POST /getsynthese: evaluates the rule catalog over the
// posted records, stores the synthesis and returns it.
func (h *Handler) GetSynthese(w http.ResponseWriter, r *http.Request) {
	records, err := decodeKPIData(r)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	if len(records) == 0 {
		writeDetail(w, http.StatusBadRequest, detailNoData)
		return
	}

	if !authorize(w, r, h.Auth) {
		return
	}

	q := r.URL.Query()
	syn, err := h.Synthesis.Run(r.Context(), "http", &synthesis.Request{
		City:    q.Get("city"),
		Date:    q.Get("date"),
		TraceID: GetTraceID(r.Context()),
		Records: records,
	})
	if err != nil {
		if errors.Is(err, synthesis.ErrNoRecords) {
			writeDetail(w, http.StatusBadRequest, detailNoData)
			return
		}
		internalError(w, r, "synthesis failed", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"code": http.StatusOK,
		"data": syn,
	})
}

// SubmitBatch handles POST /batches: queues records for the async worker.
func (h *Handler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	if h.Bus == nil {
		writeDetail(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}
	if h.Worker == nil || !h.Worker.Consuming() {
		writeDetail(w, http.StatusServiceUnavailable, "no batch worker is running")
		return
	}

	records, err := decodeKPIData(r)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	if len(records) == 0 {
		writeDetail(w, http.StatusBadRequest, detailNoData)
		return
	}

	q := r.URL.Query()
	req := synthesis.Request{
		City:    q.Get("city"),
		Date:    q.Get("date"),
		TraceID: GetTraceID(r.Context()),
		Records: records,
	}

	if err := bus.PublishJSON(r.Context(), h.Bus, bus.Scope(req.City), domain.TopicBatchSubmitted, req); err != nil {
		internalError(w, r, "failed to queue batch", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "accepted",
		"traceId": req.TraceID,
		"records": len(records),
	})
}

// GetSynthesis retrieves a stored synthesis by ID.
func (h *Handler) GetSynthesis(w http.ResponseWriter, r *http.Request) {
	if h.Repo == nil {
		writeDetail(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	id := chi.URLParam(r, "id")
	syn, err := h.Repo.GetSynthesis(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeDetail(w, http.StatusNotFound, "synthesis not found")
			return
		}
		internalError(w, r, "failed to get synthesis", err)
		return
	}

	writeJSON(w, http.StatusOK, syn)
}

// ListSyntheses handles GET /syntheses?city=&since=&limit=.
func (h *Handler) ListSyntheses(w http.ResponseWriter, r *http.Request) {
	if h.Repo == nil {
		writeDetail(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	q := r.URL.Query()
	filter := domain.SynthesisFilter{City: q.Get("city")}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeDetail(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}

	list, err := h.Repo.ListSyntheses(r.Context(), filter)
	if err != nil {
		internalError(w, r, "failed to list syntheses", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"syntheses": list,
		"count":     len(list),
	})
}

// ============================================================================
// RULE HANDLERS
// ============================================================================

// ruleView is a loaded rule together with the metrics it reads.
type ruleView struct {
	*domain.RuleDefinition
	Fields []string `json:"fields"`
}

// ListRules returns the rules currently loaded in the evaluator.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	catalog := h.Synthesis.Catalog()

	rules := make([]ruleView, 0, catalog.Len())
	for _, rule := range catalog.Rules() {
		rules = append(rules, ruleView{RuleDefinition: rule.Definition, Fields: rule.Fields})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

// GetRule retrieves a loaded rule by name.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	rule, ok := h.Synthesis.Catalog().Lookup(name)
	if !ok {
		writeDetail(w, http.StatusNotFound, "rule not found")
		return
	}

	writeJSON(w, http.StatusOK, ruleView{RuleDefinition: rule.Definition, Fields: rule.Fields})
}

// SaveRule validates a rule against the stored catalog and persists it.
// Call POST /rules/reload to apply it.
func (h *Handler) SaveRule(w http.ResponseWriter, r *http.Request) {
	if h.Repo == nil {
		writeDetail(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	def := domain.RuleDefinition{Enabled: true}
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	if def.Name == "" || def.Expression == "" {
		writeDetail(w, http.StatusBadRequest, "name and expression are required")
		return
	}

	stored, err := h.Repo.ListRuleDefinitions(r.Context())
	if err != nil {
		internalError(w, r, "failed to list rules", err)
		return
	}
	// Disabled rules are compiled too; only an all-disabled store comes back empty.
	if _, err := h.compile(withRule(stored, &def)); err != nil && !errors.Is(err, kpi.ErrEmptyCatalog) {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.Repo.SaveRuleDefinition(r.Context(), &def); err != nil {
		internalError(w, r, "failed to save rule", err)
		return
	}
	saved, err := h.Repo.GetRuleDefinition(r.Context(), def.Name)
	if err != nil {
		internalError(w, r, "failed to read saved rule", err)
		return
	}

	slog.Info("rule saved", "name", saved.Name, "enabled", saved.Enabled)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    saved,
		"message": "Rule saved. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules recompiles the catalog from the repository and swaps it in.
// The running catalog is kept when the stored one does not compile.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if h.Repo == nil {
		writeDetail(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	defs, err := h.Repo.ListRuleDefinitions(r.Context())
	if err != nil {
		internalError(w, r, "failed to load rules from repository", err)
		return
	}

	catalog, err := h.compile(defs)
	if err != nil {
		slog.Error("stored rule catalog is invalid", "error", err)
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.Synthesis.SetCatalog(catalog)

	slog.Info("rules reloaded from repository", "count", catalog.Len())
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   catalog.Len(),
	})
}

func (h *Handler) compile(defs []*domain.RuleDefinition) (*kpi.Catalog, error) {
	return kpi.NewCatalog(defs, kpi.WithFields(h.ExtraFields...))
}

// withRule returns defs with def replacing the definition of the same name,
// or appended when new.
func withRule(defs []*domain.RuleDefinition, def *domain.RuleDefinition) []*domain.RuleDefinition {
	out := make([]*domain.RuleDefinition, 0, len(defs)+1)
	replaced := false
	for _, d := range defs {
		if d.Name == def.Name {
			out = append(out, def)
			replaced = true
			continue
		}
		out = append(out, d)
	}
	if !replaced {
		out = append(out, def)
	}
	return out
}

// ============================================================================
// HEALTH HANDLERS
// ============================================================================

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := make(map[string]string)

	ping := func(name string, fn func(context.Context) error) {
		if err := fn(r.Context()); err != nil {
			status = "degraded"
			checks[name] = err.Error()
			return
		}
		checks[name] = "ok"
	}

	if h.Repo != nil {
		ping("repository", h.Repo.Ping)
	}
	if h.Cache != nil {
		ping("cache", h.Cache.Ping)
	}
	if h.Bus != nil {
		ping("bus", h.Bus.Ping)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.version,
		"rules":   h.Synthesis.Catalog().Len(),
		"checks":  checks,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Synthesis.Catalog() == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"ready": "false"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ready": "true"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeDetail writes the {"detail": msg} error body clients expect.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	slog.Error(msg,
		"path", r.URL.Path,
		"request_id", GetRequestID(r.Context()),
		"error", err,
	)
	writeDetail(w, http.StatusInternalServerError, "Internal Server Error: "+err.Error())
}
