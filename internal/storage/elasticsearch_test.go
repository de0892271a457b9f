package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/akozadaev/go_crime_analytical_system/internal/filter"
	"github.com/akozadaev/go_crime_analytical_system/internal/models"
	"github.com/akozadaev/go_crime_analytical_system/internal/query"
	"github.com/elastic/go-elasticsearch/v8"
)

// fakeES отвечает заготовленными телами по очереди и запоминает запросы.
type fakeES struct {
	mu        sync.Mutex
	responses []string
	requests  []map[string]interface{}
	paths     []string
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, _ := io.ReadAll(r.Body)
	var body map[string]interface{}
	_ = json.Unmarshal(data, &body)
	f.requests = append(f.requests, body)
	f.paths = append(f.paths, r.URL.Path)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	if len(f.responses) == 0 {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"unexpected request"}`)
		return
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	_, _ = io.WriteString(w, resp)
}

func newFakeES(t *testing.T, responses ...string) (*ElasticsearchStorage, *fakeES) {
	t.Helper()
	fake := &fakeES{responses: responses}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return NewElasticsearchStorageWithURL(client, "incidents", srv.URL+"/"), fake
}

func TestFilterClauseTranslation(t *testing.T) {
	preds := []query.Predicate{
		query.Equals{Col: query.ColCity, Value: int64(1)},
		query.Range{Col: query.ColHour, Lo: 22, Hi: 3, Wrap: true},
		query.InSet{Col: query.ColDow, Values: []interface{}{1, 2}},
		query.InSet{Col: query.ColLocation, Values: []interface{}{models.LocationKey{Key1: "A", Key2: "B", Key3: "C"}}},
		query.Range{Col: query.ColPopulation, Lo: 1},
	}
	filter, err := buildFilter(preds)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, _ := json.Marshal(filter)
	got := string(data)

	for _, want := range []string{
		`{"term":{"city_id":1}}`,
		`{"bool":{"minimum_should_match":1,"should":[{"range":{"hour":{"gte":22}}},{"range":{"hour":{"lte":3}}}]}}`,
		`{"terms":{"dow":[1,2]}}`,
		`{"term":{"loc_key3":"C"}}`,
		`{"range":{"population":{"gte":1}}}`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("filter lacks %s\n%s", want, got)
		}
	}
}

func TestFilterClauseUnknownColumn(t *testing.T) {
	if _, err := buildFilter([]query.Predicate{query.Equals{Col: "weather", Value: 1}}); err == nil {
		t.Error("expected an error for an unknown column")
	}
}

func compositePage(afterKey string, buckets ...string) string {
	after := ""
	if afterKey != "" {
		after = `"after_key":` + afterKey + `,`
	}
	return `{"aggregations":{"buckets":{` + after + `"buckets":[` + strings.Join(buckets, ",") + `]}}}`
}

func TestAggregateCityRatio(t *testing.T) {
	es, fake := newFakeES(t, compositePage("",
		`{"key":{"hour":3},"doc_count":40,"avg_population":{"value":100},"blocks":{"value":4}}`,
		`{"key":{"hour":4},"doc_count":10,"avg_population":{"value":null},"blocks":{"value":0}}`,
	))
	sess, _ := es.Acquire(context.Background())

	buckets, err := sess.Aggregate(context.Background(), query.Query{
		Family:  models.FamilyTime,
		Metric:  query.MetricCityRatio,
		GroupBy: []query.Dimension{query.DimHour},
	})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(buckets) != 2 || buckets[0].Hour != 3 || buckets[0].Value != 0.1 {
		t.Errorf("got %+v", buckets)
	}
	if buckets[1].Value != 0 {
		t.Errorf("missing population must yield zero, got %v", buckets[1].Value)
	}
	if fake.paths[0] != "/incidents/_search" {
		t.Errorf("path: %s", fake.paths[0])
	}
}

func TestAggregatePagesThroughComposite(t *testing.T) {
	first := make([]string, pageSize)
	for i := range first {
		first[i] = fmt.Sprintf(`{"key":{"category":"C%04d"},"doc_count":1}`, i)
	}
	es, fake := newFakeES(t,
		compositePage(`{"category":"C0999"}`, first...),
		compositePage("", `{"key":{"category":"Z"},"doc_count":7}`),
	)
	sess, _ := es.Acquire(context.Background())

	buckets, err := sess.Aggregate(context.Background(), query.Query{
		Family:  models.FamilyCategory,
		Metric:  query.MetricCount,
		GroupBy: query.CategoryDimensions(1),
	})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(buckets) != pageSize+1 || buckets[pageSize].Keys[0] != "Z" || buckets[pageSize].Value != 7 {
		t.Fatalf("got %d buckets", len(buckets))
	}

	comp := fake.requests[1]["aggs"].(map[string]interface{})["buckets"].(map[string]interface{})["composite"].(map[string]interface{})
	after, ok := comp["after"].(map[string]interface{})
	if !ok || after["category"] != "C0999" {
		t.Errorf("second page should resume after the last key, got %v", comp["after"])
	}
}

func TestCountPeriodsAndCeiling(t *testing.T) {
	es, _ := newFakeES(t,
		`{"aggregations":{"periods":{"value":12}}}`,
		compositePage("",
			`{"key":{"blockid":1,"year":2018,"month":1,"dow":0,"hour":3},"doc_count":2,"severity":{"value":6},"avg_population":{"value":300}}`,
			`{"key":{"blockid":2,"year":2018,"month":1,"dow":0,"hour":3},"doc_count":1,"severity":{"value":5},"avg_population":{"value":100}}`,
		),
	)
	sess, _ := es.Acquire(context.Background())

	n, err := sess.CountPeriods(context.Background(), query.PeriodPredicates(models.FilterSpec{CityID: 1}))
	if err != nil || n != 12 {
		t.Errorf("periods: %d, %v", n, err)
	}
	ratio, err := sess.MaxSeverityRatio(context.Background(), query.CeilingPredicates(1))
	if err != nil || ratio != 0.05 {
		t.Errorf("ratio: %v, %v", ratio, err)
	}
}

func TestExportUsesSearchAfter(t *testing.T) {
	hit := func(id int) string {
		return fmt.Sprintf(`{"_source":{"incident_id":%d,"city":"chicago","datetime":"2018-03-04T21:15:00Z","location":{"lat":41.9,"lon":-87.6},"loc_key1":"STREET"},"sort":[1520198100000,%d]}`, id, id)
	}
	first := make([]string, pageSize)
	for i := range first {
		first[i] = hit(i + 1)
	}
	es, fake := newFakeES(t,
		`{"hits":{"hits":[`+strings.Join(first, ",")+`]}}`,
		`{"hits":{"hits":[`+hit(pageSize+1)+`]}}`,
	)
	sess, _ := es.Acquire(context.Background())

	count := 0
	var last models.IncidentRow
	err := sess.ExportIncidents(context.Background(), nil, func(r models.IncidentRow) error {
		count++
		last = r
		return nil
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if count != pageSize+1 {
		t.Errorf("rows: %d", count)
	}
	if !last.Timestamp.Equal(time.Date(2018, 3, 4, 21, 15, 0, 0, time.UTC)) || last.Latitude != 41.9 || last.Location1 != "STREET" {
		t.Errorf("last row: %+v", last)
	}
	if _, ok := fake.requests[1]["search_after"]; !ok {
		t.Error("second page must carry search_after")
	}
}

func TestBulkIndexIncidentsReportsItemErrors(t *testing.T) {
	es, fake := newFakeES(t,
		`{"errors":false,"items":[{"index":{"status":201}}]}`,
		`{"errors":true,"items":[{"index":{"status":400,"error":{"type":"mapper_parsing_exception","reason":"bad geo"}}}]}`,
	)
	docs := []models.IncidentDoc{{IncidentID: 1, CityID: 1, Period: "2018-01"}}

	if err := es.BulkIndexIncidents(context.Background(), docs); err != nil {
		t.Fatalf("first bulk: %v", err)
	}
	if fake.paths[0] != "/_bulk" {
		t.Errorf("path: %s", fake.paths[0])
	}
	err := es.BulkIndexIncidents(context.Background(), docs)
	if err == nil || !strings.Contains(err.Error(), "mapper_parsing_exception") {
		t.Errorf("got %v", err)
	}
}

func TestCreateIndexSkipsExisting(t *testing.T) {
	var created bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPut:
			created = true
			_, _ = io.WriteString(w, `{"acknowledged":true}`)
		}
	}))
	defer srv.Close()

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	es := NewElasticsearchStorageWithURL(client, "incidents", srv.URL)
	if err := es.CreateIndex(context.Background(), `{"mappings":{}}`); err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created {
		t.Error("index should have been created")
	}
}

func TestDefaultDateRangeReachesElasticsearch(t *testing.T) {
	spec, err := filter.Parse(url.Values{"cityid": {"1"}, "loadtype": {"dow"}})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	es, fake := newFakeES(t,
		`{"aggregations":{"periods":{"value":3}}}`,
		compositePage("", `{"key":{"dow":2},"doc_count":5,"avg_population":{"value":10},"blocks":{"value":1}}`),
	)
	sess, _ := es.Acquire(context.Background())

	n, err := sess.CountPeriods(context.Background(), query.PeriodPredicates(spec))
	if err != nil || n != 3 {
		t.Fatalf("periods: %d, %v", n, err)
	}
	queries := query.ComposeFamily(spec, models.FamilyDow)
	buckets, err := sess.Aggregate(context.Background(), queries[0])
	if err != nil || len(buckets) != 1 {
		t.Fatalf("aggregate: %+v, %v", buckets, err)
	}
	if len(fake.requests) != 2 {
		t.Fatalf("requests: %d", len(fake.requests))
	}
	data, _ := json.Marshal(fake.requests[0])
	if !strings.Contains(string(data), `"lt":"9999-12-31T23:59:59Z"`) {
		t.Errorf("date range bound: %s", data)
	}
}
