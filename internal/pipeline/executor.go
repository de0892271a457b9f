// Package pipeline выполняет работу заданий: агрегацию для графиков и выгрузку CSV.
package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/akozadaev/go_crime_analytical_system/internal/jobs"
	"github.com/akozadaev/go_crime_analytical_system/internal/models"
	"github.com/akozadaev/go_crime_analytical_system/internal/normalize"
	"github.com/akozadaev/go_crime_analytical_system/internal/query"
	"github.com/akozadaev/go_crime_analytical_system/internal/shaper"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeCSV  = "text/csv"

	// TimestampLayout задает формат времени происшествия в выгрузке.
	TimestampLayout = "2006-01-02 15:04:05"
)

// ExportHeader содержит заголовок CSV выгрузки.
var ExportHeader = []string{
	"city", "state", "country", "timestamp", "latitude", "longitude",
	"category", "locdesc1", "locdesc2", "locdesc3",
}

// ErrUnknownWork возвращается для работы неизвестного вида.
var ErrUnknownWork = errors.New("unknown work kind")

// Session представляет соединение с хранилищем данных на время одного задания.
type Session interface {
	Aggregate(ctx context.Context, q query.Query) ([]models.Bucket, error)
	CountPeriods(ctx context.Context, preds []query.Predicate) (int, error)
	MaxSeverityRatio(ctx context.Context, preds []query.Predicate) (float64, error)
	ExportIncidents(ctx context.Context, preds []query.Predicate, fn func(models.IncidentRow) error) error
	Close() error
}

// Source выдает сессии хранилища данных.
type Source interface {
	Acquire(ctx context.Context) (Session, error)
}

// Executor реализует jobs.Executor поверх хранилища данных.
type Executor struct {
	source Source
	log    *slog.Logger
}

// NewExecutor создает исполнитель заданий
func NewExecutor(source Source, log *slog.Logger) *Executor {
	return &Executor{source: source, log: log.With(slog.String("component", "pipeline"))}
}

// Execute выполняет работу задания в отдельной сессии хранилища.
func (e *Executor) Execute(ctx context.Context, work jobs.Work) (jobs.Result, error) {
	switch work.Kind {
	case jobs.WorkAggregate, jobs.WorkExport:
	default:
		return jobs.Result{}, fmt.Errorf("%w: %q", ErrUnknownWork, work.Kind)
	}

	sess, err := e.source.Acquire(ctx)
	if err != nil {
		return jobs.Result{}, fmt.Errorf("failed to acquire data store session: %w", err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			e.log.Warn("failed to close data store session", slog.Any("err", err))
		}
	}()

	if work.Kind == jobs.WorkExport {
		return e.export(ctx, sess, work.Filter)
	}
	return e.aggregate(ctx, sess, work.Filter)
}

func (e *Executor) aggregate(ctx context.Context, sess Session, spec models.FilterSpec) (jobs.Result, error) {
	nctx, err := e.normalization(ctx, sess, spec)
	if err != nil {
		return jobs.Result{}, err
	}

	result := models.ChartResult{
		Error: "none",
		Main:  map[string]models.ChartSet{models.AllKey: {}},
	}
	blockKey := fmt.Sprintf("Block %d", spec.BlockID)
	if spec.HasBlock() {
		result.Main[blockKey] = models.ChartSet{}
	}

	var timeline []models.Period
	for _, q := range query.Compose(spec) {
		buckets, err := sess.Aggregate(ctx, q)
		if err != nil {
			return jobs.Result{}, fmt.Errorf("failed to aggregate %s: %w", q.Family, err)
		}
		buckets = nctx.Apply(q.Family, buckets)

		set := result.Main[models.AllKey]
		if q.Scope == query.ScopeBlock {
			set = result.Main[blockKey]
		}

		switch q.Family {
		case models.FamilyMap:
			m := shaper.MapMatrix(buckets)
			result.Matrix = &m
		case models.FamilyDate:
			if q.Scope == query.ScopeCity {
				timeline = shaper.Periods(buckets)
				set[models.KeyValuesDate] = shaper.DateSeries(buckets, nil)
			} else {
				set[models.KeyValuesDate] = shaper.DateSeries(buckets, timeline)
			}
		case models.FamilyTime:
			set[models.KeyValuesTime] = shaper.CyclicHours(buckets)
		case models.FamilyDow:
			set[models.KeyValuesDow] = shaper.CyclicWeekdays(buckets)
		case models.FamilyCategory:
			set[models.KeyValuesType] = shaper.BuildTree(shaper.CategoryTreeName, buckets, len(q.GroupBy), 0)
		case models.FamilyLocation:
			set[models.KeyValuesLocdesc] = shaper.BuildTree(shaper.LocationTreeName, buckets, len(q.GroupBy), 1.0)
		}
	}

	body, err := json.Marshal(result)
	if err != nil {
		return jobs.Result{}, fmt.Errorf("failed to encode result: %w", err)
	}
	return jobs.Result{ContentType: ContentTypeJSON, Body: body}, nil
}

// normalization вычисляет только те общегородские величины, которые нужны семействам задания.
func (e *Executor) normalization(ctx context.Context, sess Session, spec models.FilterSpec) (normalize.Context, error) {
	var ceiling float64
	var periods int
	for _, family := range query.Families(spec.Family) {
		switch family {
		case models.FamilyMap:
			ratio, err := sess.MaxSeverityRatio(ctx, query.CeilingPredicates(spec.CityID))
			if err != nil {
				return normalize.Context{}, fmt.Errorf("failed to compute severity ceiling: %w", err)
			}
			ceiling = normalize.Ceiling(ratio)
		case models.FamilyTime, models.FamilyDow:
			n, err := sess.CountPeriods(ctx, query.PeriodPredicates(spec))
			if err != nil {
				return normalize.Context{}, fmt.Errorf("failed to count periods: %w", err)
			}
			periods = n
		}
	}

	nctx := normalize.NewContext(spec, ceiling, periods)
	for _, family := range query.Families(spec.Family) {
		if family == models.FamilyMap && !nctx.Defined() {
			e.log.Warn("severity ceiling undefined, map scores are zero", slog.Int64("city_id", spec.CityID))
		}
	}
	return nctx, nil
}

func (e *Executor) export(ctx context.Context, sess Session, spec models.FilterSpec) (jobs.Result, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(ExportHeader); err != nil {
		return jobs.Result{}, fmt.Errorf("failed to write csv header: %w", err)
	}

	rows := 0
	err := sess.ExportIncidents(ctx, query.ExportPredicates(spec), func(r models.IncidentRow) error {
		rows++
		return w.Write([]string{
			r.City,
			r.State,
			r.Country,
			r.Timestamp.Format(TimestampLayout),
			strconv.FormatFloat(r.Latitude, 'f', -1, 64),
			strconv.FormatFloat(r.Longitude, 'f', -1, 64),
			r.Category,
			r.Location1,
			r.Location2,
			r.Location3,
		})
	})
	if err != nil {
		return jobs.Result{}, fmt.Errorf("failed to export incidents: %w", err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return jobs.Result{}, fmt.Errorf("failed to write csv: %w", err)
	}
	e.log.Debug("export rendered", slog.Int64("city_id", spec.CityID), slog.Int("rows", rows))
	return jobs.Result{ContentType: ContentTypeCSV, Body: buf.Bytes()}, nil
}
