package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/akozadaev/go_crime_analytical_system/internal/jobs"
	"github.com/akozadaev/go_crime_analytical_system/internal/models"
	"github.com/akozadaev/go_crime_analytical_system/internal/query"
)

type fakeSession struct {
	buckets map[models.Family]map[query.Scope][]models.Bucket
	periods int
	ratio   float64
	rows    []models.IncidentRow
	err     error

	queries  []query.Query
	exported []query.Predicate
	closed   bool
}

func (s *fakeSession) Aggregate(_ context.Context, q query.Query) ([]models.Bucket, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.queries = append(s.queries, q)
	return s.buckets[q.Family][q.Scope], nil
}

func (s *fakeSession) CountPeriods(context.Context, []query.Predicate) (int, error) {
	return s.periods, nil
}

func (s *fakeSession) MaxSeverityRatio(context.Context, []query.Predicate) (float64, error) {
	return s.ratio, nil
}

func (s *fakeSession) ExportIncidents(_ context.Context, preds []query.Predicate, fn func(models.IncidentRow) error) error {
	s.exported = preds
	for _, r := range s.rows {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

type fakeSource struct{ sess *fakeSession }

func (f fakeSource) Acquire(context.Context) (Session, error) { return f.sess, nil }

func newExecutor(sess *fakeSession) *Executor {
	return NewExecutor(fakeSource{sess: sess}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func baseSpec(family models.Family) models.FilterSpec {
	return models.FilterSpec{
		CityID:        1,
		Dates:         models.DateRange{Start: time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2018, 12, 31, 0, 0, 0, 0, time.UTC)},
		Hours:         models.HourRange{Start: 0, End: 23},
		BlockID:       models.NoBlock,
		Family:        family,
		CategoryDepth: 1,
		LocationDepth: 3,
	}
}

type decoded struct {
	Error    string                                `json:"error"`
	Main     map[string]map[string]json.RawMessage `json:"main"`
	Other    []models.BlockSeries                  `json:"other"`
	Timeline []models.Period                       `json:"timeline"`
}

func decode(t *testing.T, res jobs.Result) decoded {
	t.Helper()
	if res.ContentType != ContentTypeJSON {
		t.Fatalf("content type: %s", res.ContentType)
	}
	var d decoded
	if err := json.Unmarshal(res.Body, &d); err != nil {
		t.Fatalf("decode: %v\n%s", err, res.Body)
	}
	return d
}

func TestDowFamilyScenario(t *testing.T) {
	// 12 месяцев, дни 0 и 6 с известными значениями
	sess := &fakeSession{
		periods: 12,
		buckets: map[models.Family]map[query.Scope][]models.Bucket{
			models.FamilyDow: {query.ScopeCity: {{Dow: 0, Value: 1.2}, {Dow: 6, Value: 2.4}}},
		},
	}
	res, err := newExecutor(sess).Execute(context.Background(), jobs.Work{Kind: jobs.WorkAggregate, Filter: baseSpec(models.FamilyDow)})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !sess.closed {
		t.Error("session must be closed after the job")
	}

	d := decode(t, res)
	var points []models.Point
	if err := json.Unmarshal(d.Main[models.AllKey][models.KeyValuesDow], &points); err != nil {
		t.Fatalf("dow series: %v", err)
	}
	if len(points) != 9 {
		t.Fatalf("got %d points, want 9", len(points))
	}
	// 7 × (1/12) × 1 × raw
	want6 := 7.0 / 12 * 2.4
	want0 := 7.0 / 12 * 1.2
	if diff := points[0].Y - want6; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("first point: got %v, want %v", points[0].Y, want6)
	}
	if diff := points[8].Y - want0; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("last point: got %v, want %v", points[8].Y, want0)
	}
	if d.Other != nil || d.Timeline != nil {
		t.Errorf("dow result must not carry the map matrix")
	}
}

func TestZeroPopulationBlockYieldsZeroSeries(t *testing.T) {
	// квартал 42 без населения отсекается условием population > 0 и возвращает пустые корзины
	sess := &fakeSession{periods: 12, buckets: map[models.Family]map[query.Scope][]models.Bucket{
		models.FamilyDate: {query.ScopeCity: {{Year: 2018, Month: 1, Value: 0.5}, {Year: 2018, Month: 2, Value: 0.25}}},
		models.FamilyTime: {query.ScopeCity: {{Hour: 3, Value: 0.1}}},
		models.FamilyDow:  {query.ScopeCity: {{Dow: 3, Value: 0.2}}},
	}}
	ex := newExecutor(sess)

	for _, family := range []models.Family{models.FamilyDate, models.FamilyTime, models.FamilyDow} {
		spec := baseSpec(family)
		spec.BlockID = 42
		res, err := ex.Execute(context.Background(), jobs.Work{Kind: jobs.WorkAggregate, Filter: spec})
		if err != nil {
			t.Fatalf("%s: %v", family, err)
		}
		d := decode(t, res)
		block, ok := d.Main["Block 42"]
		if !ok {
			t.Fatalf("%s: block section missing: %v", family, d.Main)
		}
		for key, raw := range block {
			var pts []struct {
				Y float64 `json:"y"`
			}
			if err := json.Unmarshal(raw, &pts); err != nil {
				t.Fatalf("%s/%s: %v", family, key, err)
			}
			if len(pts) == 0 {
				t.Errorf("%s/%s: block series is empty", family, key)
			}
			for _, p := range pts {
				if p.Y != 0 {
					t.Errorf("%s/%s: expected all-zero block series, got %v", family, key, p.Y)
				}
			}
		}
	}
}

func TestBlockDateSeriesAlignedToCity(t *testing.T) {
	sess := &fakeSession{buckets: map[models.Family]map[query.Scope][]models.Bucket{
		models.FamilyDate: {
			query.ScopeCity:  {{Year: 2018, Month: 1, Value: 1}, {Year: 2018, Month: 3, Value: 1}},
			query.ScopeBlock: {{Year: 2018, Month: 3, Value: 2}},
		},
	}}
	spec := baseSpec(models.FamilyDate)
	spec.BlockID = 7
	res, err := newExecutor(sess).Execute(context.Background(), jobs.Work{Kind: jobs.WorkAggregate, Filter: spec})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	var points []models.LabeledPoint
	if err := json.Unmarshal(decode(t, res).Main["Block 7"][models.KeyValuesDate], &points); err != nil {
		t.Fatalf("block series: %v", err)
	}
	if len(points) != 2 || points[0].X != "1/2018" || points[0].Y != 0 || points[1].Y != 2 {
		t.Errorf("got %+v", points)
	}
}

func TestBundleWithUndefinedCeiling(t *testing.T) {
	sess := &fakeSession{buckets: map[models.Family]map[query.Scope][]models.Bucket{
		models.FamilyMap: {query.ScopeCity: {{BlockID: 3, Year: 2018, Month: 5, Value: 0.4}}},
	}}
	res, err := newExecutor(sess).Execute(context.Background(), jobs.Work{Kind: jobs.WorkAggregate, Filter: baseSpec(models.FamilyBundle)})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	d := decode(t, res)
	if d.Error != "none" {
		t.Errorf("error field: %q", d.Error)
	}
	if len(d.Other) != 1 || d.Other[0].Values[0] != 0 {
		t.Errorf("map values should be zero without a ceiling: %+v", d.Other)
	}
	if _, ok := d.Main[models.AllKey][models.KeyValuesDate]; !ok {
		t.Errorf("bundle must include the date series")
	}
	if len(sess.queries) != 2 {
		t.Errorf("bundle ran %d queries, want 2", len(sess.queries))
	}
}

func TestEmptyResultShapes(t *testing.T) {
	ex := newExecutor(&fakeSession{})
	for _, family := range []models.Family{models.FamilyCategory, models.FamilyLocation, models.FamilyMap} {
		res, err := ex.Execute(context.Background(), jobs.Work{Kind: jobs.WorkAggregate, Filter: baseSpec(family)})
		if err != nil {
			t.Fatalf("%s: %v", family, err)
		}
		body := string(res.Body)
		switch family {
		case models.FamilyCategory:
			if !strings.Contains(body, `"values_type":{"name":"Crime Type for All Data","children":[]}`) {
				t.Errorf("category: %s", body)
			}
		case models.FamilyLocation:
			if !strings.Contains(body, `"values_locdesc":{"name":"Location Description for All Data","children":[]}`) {
				t.Errorf("location: %s", body)
			}
		case models.FamilyMap:
			if !strings.Contains(body, `"other":[],"timeline":[]`) {
				t.Errorf("map: %s", body)
			}
		}
	}
}

func TestAggregateErrorPropagates(t *testing.T) {
	boom := errors.New("connection reset")
	_, err := newExecutor(&fakeSession{err: boom}).Execute(context.Background(), jobs.Work{Kind: jobs.WorkAggregate, Filter: baseSpec(models.FamilyTime)})
	if !errors.Is(err, boom) {
		t.Errorf("got %v, want wrapped %v", err, boom)
	}
}

func TestUnknownWork(t *testing.T) {
	sess := &fakeSession{}
	_, err := newExecutor(sess).Execute(context.Background(), jobs.Work{Kind: "reindex"})
	if !errors.Is(err, ErrUnknownWork) {
		t.Errorf("got %v, want ErrUnknownWork", err)
	}
}

func TestExportCSV(t *testing.T) {
	sess := &fakeSession{rows: []models.IncidentRow{{
		City: "Chicago", State: "IL", Country: "USA",
		Timestamp: time.Date(2018, 3, 4, 21, 15, 0, 0, time.UTC),
		Latitude:  41.8781, Longitude: -87.6298,
		Category:  "THEFT | RETAIL", Location1: "STREET", Location2: "ALLEY", Location3: "NONE",
	}}}
	spec := baseSpec(models.FamilyBundle)
	spec.BlockID = 9

	res, err := newExecutor(sess).Execute(context.Background(), jobs.Work{Kind: jobs.WorkExport, Filter: spec})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.ContentType != ContentTypeCSV {
		t.Errorf("content type: %s", res.ContentType)
	}
	want := "city,state,country,timestamp,latitude,longitude,category,locdesc1,locdesc2,locdesc3\n" +
		"Chicago,IL,USA,2018-03-04 21:15:00,41.8781,-87.6298,THEFT | RETAIL,STREET,ALLEY,NONE\n"
	if string(res.Body) != want {
		t.Errorf("got:\n%s\nwant:\n%s", res.Body, want)
	}
	for _, p := range sess.exported {
		if p.Column() == query.ColBlock || p.Column() == query.ColPopulation {
			t.Errorf("export must not filter on %s", p.Column())
		}
	}
}
