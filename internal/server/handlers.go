package server

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dart/internal/export"
	"github.com/inferloop/dart/internal/ingest"
	"github.com/inferloop/dart/internal/observability/health"
	"github.com/inferloop/dart/internal/runner"
	"github.com/inferloop/dart/internal/suppression"
	"github.com/inferloop/dart/pkg/constants"
	"github.com/inferloop/dart/pkg/errors"
	"github.com/inferloop/dart/pkg/table"
)

// Handlers contains all HTTP handlers for the API
type Handlers struct {
	runner    *runner.Runner
	monitor   *health.HealthMonitor
	profiles  ProfileSource
	exporter  *export.Engine
	config    *Config
	logger    *logrus.Logger
	startTime time.Time
}

// NewHandlers creates a new handlers instance
func NewHandlers(deps Dependencies, config *Config, logger *logrus.Logger) *Handlers {
	return &Handlers{
		runner:    deps.Runner,
		monitor:   deps.Health,
		profiles:  deps.Profiles,
		exporter:  export.NewEngine(logger),
		config:    config,
		logger:    logger,
		startTime: time.Now(),
	}
}

// RedactRequest is the JSON body of POST /api/v1/redact. Config fields
// override the selected profile.
type RedactRequest struct {
	Profile string          `json:"profile,omitempty"`
	Config  json.RawMessage `json:"config,omitempty"`
	ingest.Document
}

// RunResponse describes a run. Columns and rows are omitted when the run
// was loaded without its table.
type RunResponse struct {
	RunID       string              `json:"run_id"`
	Fingerprint string              `json:"fingerprint"`
	Source      string              `json:"source"`
	Profile     string              `json:"profile,omitempty"`
	Cached      bool                `json:"cached"`
	Columns     []string            `json:"columns,omitempty"`
	Rows        [][]*string         `json:"rows,omitempty"`
	Logs        []string            `json:"logs,omitempty"`
	Stats       *suppression.Stats  `json:"stats,omitempty"`
	Artifacts   []string            `json:"artifacts,omitempty"`
	Config      *suppression.Config `json:"config,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	Links       map[string]string   `json:"links,omitempty"`
}

// Redact handles POST /api/v1/redact
func (h *Handlers) Redact(w http.ResponseWriter, r *http.Request) {
	t, cfg, profile, err := h.parseRedactRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	run, err := h.runner.Redact(r.Context(), &runner.Request{
		Table:   t,
		Config:  cfg,
		Source:  "api",
		Profile: profile,
	})
	if err != nil {
		h.logger.WithError(err).WithField("request_id", getRequestID(r)).Warn("Redaction failed")
		writeError(w, r, err)
		return
	}

	w.Header().Set(constants.HeaderRunID, run.ID)
	w.Header().Set(constants.HeaderCache, cacheHeader(run.Cached))

	format := r.URL.Query().Get("format")
	if format == "" || format == constants.FormatJSON {
		writeJSON(w, http.StatusOK, newRunResponse(run, true))
		return
	}
	h.writeTable(w, r, run.Table, format, "redacted")
}

// GetRun handles GET /api/v1/runs/{id}
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runner.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}

	includeRows := r.URL.Query().Get("rows") != "false"
	response := newRunResponse(run, includeRows)
	response.Config = run.Config
	writeJSON(w, http.StatusOK, response)
}

// GetRunLog handles GET /api/v1/runs/{id}/log
func (h *Handlers) GetRunLog(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	column := r.URL.Query().Get("column")

	log, err := h.runner.Log(r.Context(), id, column)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set(constants.HeaderRunID, id)
	format := r.URL.Query().Get("format")
	if format == "" {
		format = constants.FormatJSON
	}
	name := "log"
	if column != "" {
		name = "log_" + column
	}
	h.writeTable(w, r, log, format, name)
}

// ListRuns handles GET /api/v1/runs
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs := h.runner.Recent()
	response := make([]*RunResponse, 0, len(runs))
	for _, run := range runs {
		response = append(response, newRunResponse(run, false))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  response,
		"count": len(response),
	})
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := h.monitor.CheckAll(r.Context())

	code := http.StatusOK
	if status.OverallStatus == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// Live handles GET /health/live
func (h *Handlers) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// Version handles GET /version
func (h *Handlers) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":        constants.AppName,
		"description": constants.AppDescription,
		"version":     h.config.Version,
		"build_time":  h.config.BuildTime,
		"git_commit":  h.config.GitCommit,
		"api_version": constants.APIVersion,
		"formats":     h.exporter.SupportedFormats(),
	})
}

// NotFound handles unmatched routes
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, errorBody(r, errors.ErrorTypeNotFound, "NOT_FOUND", "The requested resource was not found"))
}

// MethodNotAllowed handles routes matched with the wrong method
func (h *Handlers) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, errorBody(r, errors.ErrorTypeNotFound, "METHOD_NOT_ALLOWED", "Method not allowed"))
}

// parseRedactRequest reads the table and resolves the configuration. CSV
// and XLSX bodies take their configuration from query parameters.
func (h *Handlers) parseRedactRequest(r *http.Request) (*table.Table, *suppression.Config, string, error) {
	query := r.URL.Query()
	opts := ingest.DefaultOptions()

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get(constants.HeaderContentType))
	switch mediaType {
	case constants.ContentTypeCSV, constants.ContentTypeXLSX:
		format := constants.FormatCSV
		if mediaType == constants.ContentTypeXLSX {
			format = constants.FormatXLSX
		}
		t, err := ingest.Read(r.Body, format, opts)
		if err != nil {
			return nil, nil, "", err
		}
		profile := query.Get("profile")
		cfg, err := h.profile(profile)
		if err != nil {
			return nil, nil, "", err
		}
		if err := ApplyQuery(cfg, query); err != nil {
			return nil, nil, "", err
		}
		return t, cfg, profile, nil
	}

	var req RedactRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return nil, nil, "", errors.WrapError(err, errors.ErrorTypeData, errors.CodeInvalidFormat, "malformed JSON request")
	}

	profile := req.Profile
	if profile == "" {
		profile = query.Get("profile")
	}
	cfg, err := h.profile(profile)
	if err != nil {
		return nil, nil, "", err
	}
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, cfg); err != nil {
			return nil, nil, "", errors.WrapError(err, errors.ErrorTypeConfiguration, errors.CodeInvalidConfig, "malformed config")
		}
	}

	t, err := req.Document.Table(opts)
	if err != nil {
		return nil, nil, "", err
	}
	return t, cfg, profile, nil
}

func (h *Handlers) profile(name string) (*suppression.Config, error) {
	if h.profiles != nil {
		return h.profiles.Profile(name)
	}
	if name != "" && name != constants.DefaultProfile {
		return nil, errors.NewConfigurationError(errors.CodeUnknownProfile, fmt.Sprintf("unknown profile %q", name))
	}
	return suppression.DefaultConfig(), nil
}

// ApplyQuery overrides cfg with the suppression parameters present in query.
func ApplyQuery(cfg *suppression.Config, query url.Values) error {
	list := func(key string) []string {
		var out []string
		for _, v := range query[key] {
			for _, part := range strings.Split(v, ",") {
				if part = strings.TrimSpace(part); part != "" {
					out = append(out, part)
				}
			}
		}
		return out
	}
	flag := func(key string) (bool, bool, error) {
		v := query.Get(key)
		if v == "" {
			return false, false, nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, false, errors.NewConfigurationError(errors.CodeInvalidConfig,
				fmt.Sprintf("%s must be a boolean", key))
		}
		return b, true, nil
	}

	if v := list("sensitive"); len(v) > 0 {
		cfg.SensitiveColumns = v
	}
	if v := list("frequency"); len(v) > 0 {
		cfg.FrequencyColumns = v
	}
	if query.Has("parent") {
		cfg.ParentOrganization = query.Get("parent")
	}
	if query.Has("child") {
		cfg.ChildOrganization = query.Get("child")
	}
	if query.Has("redact_column") {
		cfg.UserRedactionColumn = query.Get("redact_column")
	}
	if query.Has("redact_value") {
		v := query.Get("redact_value")
		cfg.RedactValue = &v
	}
	if v := query.Get("threshold"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.NewConfigurationError(errors.CodeInvalidThreshold, "threshold must be an integer")
		}
		cfg.MinimumThreshold = n
	}
	if v := query.Get("max_iterations"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.NewConfigurationError(errors.CodeInvalidConfig, "max_iterations must be an integer")
		}
		cfg.MaxIterations = n
	}
	if b, ok, err := flag("redact_zero"); err != nil {
		return err
	} else if ok {
		cfg.RedactZero = b
	}
	if b, ok, err := flag("converge"); err != nil {
		return err
	} else if ok {
		cfg.Converge = b
	}
	return nil
}

func (h *Handlers) writeTable(w http.ResponseWriter, r *http.Request, t *table.Table, format, name string) {
	data, contentType, err := h.exporter.Bytes(r.Context(), format, t, export.Options{})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set(constants.HeaderContentType, contentType)
	if format != constants.FormatJSON {
		w.Header().Set(constants.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s.%s"`, name, format))
	}
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func newRunResponse(run *runner.Run, includeRows bool) *RunResponse {
	response := &RunResponse{
		RunID:       run.ID,
		Fingerprint: run.Fingerprint,
		Source:      run.Source,
		Profile:     run.Profile,
		Cached:      run.Cached,
		Logs:        run.LogColumns(),
		Stats:       run.Stats,
		Artifacts:   run.Artifacts,
		CreatedAt:   run.CreatedAt,
		Links: map[string]string{
			"self": constants.APIPrefix + "/runs/" + run.ID,
			"log":  constants.APIPrefix + "/runs/" + run.ID + "/log",
		},
	}
	if includeRows && run.Table != nil {
		response.Columns = run.Table.Columns
		response.Rows = make([][]*string, 0, run.Table.Len())
		for _, row := range run.Table.Rows {
			values := make([]*string, len(row))
			for i, v := range row {
				if v.Valid {
					s := v.Str
					values[i] = &s
				}
			}
			response.Rows = append(response.Rows, values)
		}
	}
	return response
}

func cacheHeader(cached bool) string {
	if cached {
		return "HIT"
	}
	return "MISS"
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func errorBody(r *http.Request, errType errors.ErrorType, code, message string) *errors.ErrorResponse {
	return &errors.ErrorResponse{
		Error: &errors.AppError{
			Type:    errType,
			Code:    code,
			Message: message,
		},
		RequestID: getRequestID(r),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Path:      r.URL.Path,
	}
}

// writeError answers with the status mapped from the error type.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		writeJSON(w, http.StatusGatewayTimeout, errorBody(r, errors.ErrorTypeInternal, "REQUEST_TIMEOUT", "Request timeout"))
		return
	}

	var appErr *errors.AppError
	if !errors.As(err, &appErr) {
		appErr = errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeInternalError, err.Error())
	}

	writeJSON(w, errors.HTTPStatus(appErr), &errors.ErrorResponse{
		Error:     appErr,
		RequestID: getRequestID(r),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Path:      r.URL.Path,
	})
}
