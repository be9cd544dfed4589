// Package command maps named JSON requests onto retrieval and aggregation,
// converting every failure into a {success:false, message} response.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/diaryrag/internal/aggregate"
	"github.com/hyperjump/diaryrag/internal/config"
	"github.com/hyperjump/diaryrag/internal/embedding"
	"github.com/hyperjump/diaryrag/internal/models"
	"github.com/hyperjump/diaryrag/internal/search"
	"github.com/hyperjump/diaryrag/internal/storage"
)

// Command names.
const (
	Search    = "search"
	Upsert    = "upsert"
	Delete    = "delete"
	Aggregate = "aggregate"
	Flatten   = "flatten"
	Report    = "report"
	Import    = "import"
	Status    = "status"
)

var errBadRequest = errors.New("bad request")

type handlerFunc func(ctx context.Context, raw json.RawMessage) (Response, error)

// Dispatcher routes commands to the retrieval service and the aggregator.
type Dispatcher struct {
	service    *search.Service
	aggregator *aggregate.Aggregator
	cfg        *config.Config
	logger     *zap.Logger
	now        func() time.Time
	handlers   map[string]handlerFunc
}

// NewDispatcher creates a dispatcher. logger may be nil.
func NewDispatcher(svc *search.Service, agg *aggregate.Aggregator, cfg *config.Config, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		service:    svc,
		aggregator: agg,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
	d.handlers = map[string]handlerFunc{
		Search:    d.search,
		Upsert:    d.upsert,
		Delete:    d.deleteDiary,
		Aggregate: d.aggregate,
		Flatten:   d.flatten,
		Report:    d.report,
		Import:    d.importDiaries,
		Status:    d.status,
	}
	return d
}

// Names returns the supported command names, sorted.
func (d *Dispatcher) Names() []string {
	names := make([]string, 0, len(d.handlers))
	for n := range d.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Handle runs the named command with its raw JSON request. It never returns
// an error: failures and panics come back as unsuccessful responses.
func (d *Dispatcher) Handle(ctx context.Context, name string, raw json.RawMessage) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("command panicked", zap.String("command", name), zap.Any("panic", r))
			resp = fail(http.StatusInternalServerError, fmt.Sprintf("unexpected error: %v", r))
		}
	}()

	h, found := d.handlers[name]
	if !found {
		return fail(http.StatusNotFound, fmt.Sprintf("unknown command: %q", name))
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}

	resp, err := h(ctx, raw)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			d.logger.Error("command failed", zap.String("command", name), zap.Error(err))
		} else {
			d.logger.Debug("command rejected", zap.String("command", name), zap.Error(err))
		}
		return fail(status, err.Error())
	}
	return resp
}

// HandleJSON reads {"command": name, ...request} and dispatches it.
func (d *Dispatcher) HandleJSON(ctx context.Context, data []byte) Response {
	var head struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fail(http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
	}
	if head.Command == "" {
		return fail(http.StatusBadRequest, "command is required")
	}
	return d.Handle(ctx, head.Command, data)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, models.ErrInvalidQuery),
		errors.Is(err, models.ErrInvalidDiary),
		errors.Is(err, models.ErrEmptyText),
		errors.Is(err, aggregate.ErrNoQuestions):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrReadOnly):
		return http.StatusConflict
	case errors.Is(err, embedding.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func decode(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", errBadRequest, err)
	}
	return nil
}

func (d *Dispatcher) search(ctx context.Context, raw json.RawMessage) (Response, error) {
	var req models.SearchRequest
	if err := decode(raw, &req); err != nil {
		return Response{}, err
	}
	q, err := search.ProcessQuery(&req, &d.cfg.Search)
	if err != nil {
		return Response{}, err
	}
	res, err := d.service.Search(ctx, q)
	if err != nil {
		return Response{}, err
	}
	return ok("", res), nil
}

func (d *Dispatcher) upsert(ctx context.Context, raw json.RawMessage) (Response, error) {
	var in models.DiaryInput
	if err := decode(raw, &in); err != nil {
		return Response{}, err
	}
	res, err := d.service.Upsert(ctx, in)
	if err != nil {
		return Response{}, err
	}
	return ok("diary embedding stored", res), nil
}

// diaryID accepts a JSON number or a numeric string.
type diaryID struct {
	set   bool
	value int64
}

func (id *diaryID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	s := string(bytes.Trim(data, `"`))
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("diary id %s is not an integer", data)
	}
	id.set, id.value = true, v
	return nil
}

type deletePayload struct {
	DiaryID     int64 `json:"diary_id"`
	DeletedRows int   `json:"deleted_rows"`
}

func (d *Dispatcher) deleteDiary(ctx context.Context, raw json.RawMessage) (Response, error) {
	var req struct {
		ID      diaryID `json:"id"`
		DiaryID diaryID `json:"diary_id"`
	}
	if err := decode(raw, &req); err != nil {
		return Response{}, err
	}
	id := req.ID
	if !id.set {
		id = req.DiaryID
	}
	if !id.set {
		return Response{}, fmt.Errorf("%w: id is required", errBadRequest)
	}
	return d.deleteID(ctx, id.value)
}

// DeleteID removes one diary by id.
func (d *Dispatcher) DeleteID(ctx context.Context, id int64) Response {
	resp, err := d.deleteID(ctx, id)
	if err != nil {
		return fail(statusFor(err), err.Error())
	}
	return resp
}

func (d *Dispatcher) deleteID(ctx context.Context, id int64) (Response, error) {
	deleted, err := d.service.Delete(ctx, id)
	if err != nil {
		return Response{}, err
	}
	p := deletePayload{DiaryID: id}
	msg := "no embedding stored for this diary"
	if deleted {
		p.DeletedRows = 1
		msg = "diary embedding deleted"
	}
	return ok(msg, p), nil
}

type questionsRequest struct {
	Questions []string `json:"questions"`
	Save      bool     `json:"save"`
}

func (d *Dispatcher) runQuestions(ctx context.Context, raw json.RawMessage) (*models.AggregateResult, questionsRequest, error) {
	var req questionsRequest
	if err := decode(raw, &req); err != nil {
		return nil, req, err
	}
	res, err := d.aggregator.Aggregate(ctx, req.Questions)
	return res, req, err
}

// AggregateOutput is the payload of the aggregate command.
type AggregateOutput struct {
	*models.AggregateResult
	SavedTo string `json:"saved_to,omitempty"`
}

func (d *Dispatcher) aggregate(ctx context.Context, raw json.RawMessage) (Response, error) {
	res, req, err := d.runQuestions(ctx, raw)
	if err != nil {
		return Response{}, err
	}
	p := &AggregateOutput{AggregateResult: res}
	if req.Save {
		path, err := aggregate.SaveResults(d.cfg.Aggregate.ResultsDir, res, d.now())
		if err != nil {
			return Response{}, err
		}
		p.SavedTo = path
	}
	return ok("aggregation completed", p), nil
}

func (d *Dispatcher) flatten(ctx context.Context, raw json.RawMessage) (Response, error) {
	res, _, err := d.runQuestions(ctx, raw)
	if err != nil {
		return Response{}, err
	}
	flat := aggregate.Flatten(res.Bundle)
	return ok(fmt.Sprintf("%d diaries converted to string", flat.TotalDiaries), flat), nil
}

func (d *Dispatcher) report(ctx context.Context, raw json.RawMessage) (Response, error) {
	res, _, err := d.runQuestions(ctx, raw)
	if err != nil {
		return Response{}, err
	}
	return ok("", aggregate.FormatReport(res, d.now())), nil
}

// ImportResult summarises a bulk upsert.
type ImportResult struct {
	TotalDiaries int      `json:"total_diaries"`
	Converted    int      `json:"converted"`
	Failed       int      `json:"failed"`
	Errors       []string `json:"errors,omitempty"`
}

// ImportDiaries upserts each diary in turn. A failing diary is counted and
// reported; the rest are still stored.
func (d *Dispatcher) ImportDiaries(ctx context.Context, diaries []models.DiaryInput) (ImportResult, error) {
	res := ImportResult{TotalDiaries: len(diaries)}
	for i, in := range diaries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, err := d.service.Upsert(ctx, in); err != nil {
			if errors.Is(err, embedding.ErrModelUnavailable) {
				return res, err
			}
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("diary %d: %v", i, err))
			d.logger.Warn("import skipped diary", zap.Int("index", i), zap.Error(err))
			continue
		}
		res.Converted++
	}
	return res, nil
}

func (d *Dispatcher) importDiaries(ctx context.Context, raw json.RawMessage) (Response, error) {
	var req struct {
		Diaries []models.DiaryInput `json:"diaries"`
	}
	if err := decode(raw, &req); err != nil {
		return Response{}, err
	}
	if len(req.Diaries) == 0 {
		return Response{}, fmt.Errorf("%w: diaries are required", errBadRequest)
	}
	res, err := d.ImportDiaries(ctx, req.Diaries)
	if err != nil {
		return Response{}, err
	}
	return ok(fmt.Sprintf("%d of %d diaries imported", res.Converted, res.TotalDiaries), res), nil
}

type statusPayload struct {
	Store          storage.Status `json:"store"`
	Backend        string         `json:"backend"`
	Secondary      string         `json:"secondary,omitempty"`
	Provider       string         `json:"embedding_provider"`
	Dimensions     int            `json:"embedding_dimensions"`
	DiskUsageBytes int64          `json:"disk_usage_bytes"`
}

func (d *Dispatcher) status(ctx context.Context, _ json.RawMessage) (Response, error) {
	st, err := storage.Inspect(ctx, d.service.Store())
	if err != nil {
		return Response{}, err
	}
	p := statusPayload{
		Store:      st,
		Backend:    d.cfg.Store.Backend,
		Secondary:  d.cfg.Store.Secondary,
		Provider:   d.cfg.Embedding.Provider,
		Dimensions: d.service.Embedder().Dimensions(),
	}
	if n, err := storage.DiskUsage(d.cfg.Store); err == nil {
		p.DiskUsageBytes = n
	} else {
		d.logger.Warn("disk usage unavailable", zap.Error(err))
	}
	return ok("", p), nil
}
