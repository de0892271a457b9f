// Package storage содержит реализации хранилищ для Elasticsearch/OpenSearch и PostgreSQL.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/akozadaev/go_crime_analytical_system/internal/models"
	"github.com/akozadaev/go_crime_analytical_system/internal/pipeline"
	"github.com/akozadaev/go_crime_analytical_system/internal/query"
	"github.com/elastic/go-elasticsearch/v8"
)

// pageSize задает размер страницы composite-агрегации и выгрузки.
const pageSize = 1000

// ElasticsearchStorage предоставляет методы для работы с индексом происшествий.
// Использует прямые HTTP запросы для совместимости с OpenSearch.
type ElasticsearchStorage struct {
	client     *elasticsearch.Client // Официальный клиент Elasticsearch
	index      string                // Имя индекса происшествий
	httpClient *http.Client          // HTTP клиент для прямых запросов
	baseURL    string                // Базовый URL Elasticsearch/OpenSearch
}

// NewElasticsearchStorageWithURL создает новый экземпляр ElasticsearchStorage с указанным URL.
func NewElasticsearchStorageWithURL(client *elasticsearch.Client, index string, baseURL string) *ElasticsearchStorage {
	return &ElasticsearchStorage{
		client:     client,
		index:      index,
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// CreateIndex создает индекс в Elasticsearch/OpenSearch с заданным маппингом.
// Если индекс уже существует, функция возвращает nil без ошибки.
func (es *ElasticsearchStorage) CreateIndex(ctx context.Context, mappingJSON string) error {
	res, err := es.client.Indices.Exists([]string{es.index}, es.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check index existence: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusOK {
		return nil
	}

	res, err = es.client.Indices.Create(
		es.index,
		es.client.Indices.Create.WithBody(strings.NewReader(mappingJSON)),
		es.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("error creating index: %s", string(body))
	}

	return nil
}

// BulkIndexIncidents индексирует пачку происшествий одним запросом Bulk API.
// Идентификатор документа совпадает с id происшествия, повторная загрузка перезаписывает документы.
func (es *ElasticsearchStorage) BulkIndexIncidents(ctx context.Context, docs []models.IncidentDoc) error {
	if len(docs) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	for _, doc := range docs {
		meta := map[string]interface{}{
			"index": map[string]interface{}{
				"_index": es.index,
				"_id":    fmt.Sprintf("%d", doc.IncidentID),
			},
		}
		if err := enc.Encode(meta); err != nil {
			return fmt.Errorf("failed to encode meta: %w", err)
		}
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("failed to encode incident: %w", err)
		}
	}

	var result struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
			Error  struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := es.post(ctx, "/_bulk", "application/x-ndjson", &buf, &result); err != nil {
		return fmt.Errorf("failed to bulk index: %w", err)
	}
	if result.Errors {
		for _, item := range result.Items {
			for _, op := range item {
				if op.Status >= 300 {
					return fmt.Errorf("error bulk indexing: %s: %s", op.Error.Type, op.Error.Reason)
				}
			}
		}
		return fmt.Errorf("error bulk indexing")
	}
	return nil
}

// post отправляет запрос и декодирует ответ в out.
func (es *ElasticsearchStorage) post(ctx context.Context, path, contentType string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, es.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	res, err := es.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("status %d, body: %s", res.StatusCode, string(data))
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (es *ElasticsearchStorage) search(ctx context.Context, body map[string]interface{}, out interface{}) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return fmt.Errorf("failed to encode query: %w", err)
	}
	if err := es.post(ctx, "/"+es.index+"/_search", "application/json", &buf, out); err != nil {
		return fmt.Errorf("failed to search: %w", err)
	}
	return nil
}

// Acquire возвращает сессию поверх индекса. HTTP клиент не держит состояния
// задания, поэтому Close ничего не освобождает.
func (es *ElasticsearchStorage) Acquire(context.Context) (pipeline.Session, error) {
	return esSession{es: es}, nil
}

type esSession struct {
	es *ElasticsearchStorage
}

func (esSession) Close() error { return nil }

var esDimensionField = map[query.Dimension]string{
	query.DimBlock:    "block_id",
	query.DimYear:     "year",
	query.DimMonth:    "month",
	query.DimHour:     "hour",
	query.DimDow:      "dow",
	query.DimViolence: "violence",
	query.DimOffense:  "ppo",
	query.DimCategory: "category",
	query.DimLoc1:     "loc_key1",
	query.DimLoc2:     "loc_key2",
	query.DimLoc3:     "loc_key3",
}

var esColumnField = map[query.Column]string{
	query.ColCity:       "city_id",
	query.ColDate:       "datetime",
	query.ColHour:       "hour",
	query.ColDow:        "dow",
	query.ColCategory:   "category",
	query.ColBlock:      "block_id",
	query.ColPopulation: "population",
}

// buildFilter переводит предикаты в bool-фильтр.
func buildFilter(preds []query.Predicate) (map[string]interface{}, error) {
	filters := make([]map[string]interface{}, 0, len(preds))
	for _, p := range preds {
		clause, err := filterClause(p)
		if err != nil {
			return nil, err
		}
		filters = append(filters, clause)
	}
	return map[string]interface{}{
		"bool": map[string]interface{}{
			"filter": filters,
		},
	}, nil
}

func filterClause(p query.Predicate) (map[string]interface{}, error) {
	if set, ok := p.(query.InSet); ok && set.Col == query.ColLocation {
		should := make([]map[string]interface{}, 0, len(set.Values))
		for _, v := range set.Values {
			key, ok := v.(models.LocationKey)
			if !ok {
				return nil, fmt.Errorf("location set expects models.LocationKey, got %T", v)
			}
			should = append(should, map[string]interface{}{
				"bool": map[string]interface{}{
					"filter": []map[string]interface{}{
						{"term": map[string]interface{}{"loc_key1": key.Key1}},
						{"term": map[string]interface{}{"loc_key2": key.Key2}},
						{"term": map[string]interface{}{"loc_key3": key.Key3}},
					},
				},
			})
		}
		return map[string]interface{}{
			"bool": map[string]interface{}{"should": should, "minimum_should_match": 1},
		}, nil
	}

	field, ok := esColumnField[p.Column()]
	if !ok {
		return nil, fmt.Errorf("unknown column %q", p.Column())
	}

	switch p := p.(type) {
	case query.Equals:
		return map[string]interface{}{"term": map[string]interface{}{field: p.Value}}, nil
	case query.InSet:
		return map[string]interface{}{"terms": map[string]interface{}{field: p.Values}}, nil
	case query.Range:
		hiOp := "lte"
		if p.HiExclusive {
			hiOp = "lt"
		}
		if p.Wrap && p.Lo != nil && p.Hi != nil {
			return map[string]interface{}{
				"bool": map[string]interface{}{
					"should": []map[string]interface{}{
						{"range": map[string]interface{}{field: map[string]interface{}{"gte": p.Lo}}},
						{"range": map[string]interface{}{field: map[string]interface{}{hiOp: p.Hi}}},
					},
					"minimum_should_match": 1,
				},
			}, nil
		}
		bounds := map[string]interface{}{}
		if p.Lo != nil {
			bounds["gte"] = p.Lo
		}
		if p.Hi != nil {
			bounds[hiOp] = p.Hi
		}
		return map[string]interface{}{"range": map[string]interface{}{field: bounds}}, nil
	}
	return nil, fmt.Errorf("unsupported predicate %T", p)
}

func compositeSources(dims []query.Dimension) ([]map[string]interface{}, error) {
	sources := make([]map[string]interface{}, len(dims))
	for i, d := range dims {
		field, ok := esDimensionField[d]
		if !ok {
			return nil, fmt.Errorf("unknown dimension %q", d)
		}
		sources[i] = map[string]interface{}{
			string(d): map[string]interface{}{
				"terms": map[string]interface{}{"field": field, "order": "asc"},
			},
		}
	}
	return sources, nil
}

type nullableValue struct {
	Value *float64 `json:"value"`
}

type compositeBucket struct {
	Key           map[string]json.RawMessage `json:"key"`
	DocCount      float64                    `json:"doc_count"`
	AvgPopulation nullableValue              `json:"avg_population"`
	Blocks        nullableValue              `json:"blocks"`
	Severity      nullableValue              `json:"severity"`
}

type compositeResponse struct {
	Aggregations struct {
		Buckets struct {
			AfterKey map[string]json.RawMessage `json:"after_key"`
			Buckets  []compositeBucket          `json:"buckets"`
		} `json:"buckets"`
	} `json:"aggregations"`
}

// composite обходит все страницы composite-агрегации и передает корзины в fn.
func (es *ElasticsearchStorage) composite(ctx context.Context, preds []query.Predicate, dims []query.Dimension,
	subAggs map[string]interface{}, fn func(compositeBucket) error) error {
	filter, err := buildFilter(preds)
	if err != nil {
		return err
	}
	sources, err := compositeSources(dims)
	if err != nil {
		return err
	}

	var after map[string]json.RawMessage
	for {
		comp := map[string]interface{}{"size": pageSize, "sources": sources}
		if after != nil {
			comp["after"] = after
		}
		body := map[string]interface{}{
			"size":  0,
			"query": filter,
			"aggs": map[string]interface{}{
				"buckets": map[string]interface{}{
					"composite": comp,
					"aggs":      subAggs,
				},
			},
		}

		var res compositeResponse
		if err := es.search(ctx, body, &res); err != nil {
			return err
		}
		page := res.Aggregations.Buckets
		for _, b := range page.Buckets {
			if err := fn(b); err != nil {
				return err
			}
		}
		if len(page.Buckets) < pageSize || page.AfterKey == nil {
			return nil
		}
		after = page.AfterKey
	}
}

var ratioAggs = map[string]interface{}{
	"avg_population": map[string]interface{}{"avg": map[string]interface{}{"field": "population"}},
	"blocks":         map[string]interface{}{"cardinality": map[string]interface{}{"field": "block_id"}},
}

func (s esSession) Aggregate(ctx context.Context, q query.Query) ([]models.Bucket, error) {
	if len(q.GroupBy) == 0 {
		return nil, query.ErrNoDimensions
	}
	buckets := make([]models.Bucket, 0)
	err := s.es.composite(ctx, q.Predicates, q.GroupBy, ratioAggs, func(cb compositeBucket) error {
		b, err := decodeBucket(cb, q.GroupBy)
		if err != nil {
			return err
		}
		b.Value = metricValue(q.Metric, cb)
		buckets = append(buckets, b)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate %s: %w", q.Family, err)
	}
	return buckets, nil
}

func metricValue(m query.Metric, cb compositeBucket) float64 {
	switch m {
	case query.MetricBlockRatio, query.MetricCityRatio:
		if cb.AvgPopulation.Value == nil || *cb.AvgPopulation.Value <= 0 {
			return 0
		}
		denom := *cb.AvgPopulation.Value
		if m == query.MetricCityRatio {
			if cb.Blocks.Value == nil || *cb.Blocks.Value <= 0 {
				return 0
			}
			denom *= *cb.Blocks.Value
		}
		return cb.DocCount / denom
	}
	return cb.DocCount
}

func decodeBucket(cb compositeBucket, dims []query.Dimension) (models.Bucket, error) {
	var b models.Bucket
	for _, d := range dims {
		raw, ok := cb.Key[string(d)]
		if !ok {
			return models.Bucket{}, fmt.Errorf("bucket key lacks %s", d)
		}
		if d.Taxonomy() {
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return models.Bucket{}, fmt.Errorf("failed to decode %s key: %w", d, err)
			}
			b.Keys = append(b.Keys, s)
			continue
		}
		var n int64
		if err := json.Unmarshal(raw, &n); err != nil {
			return models.Bucket{}, fmt.Errorf("failed to decode %s key: %w", d, err)
		}
		switch d {
		case query.DimBlock:
			b.BlockID = n
		case query.DimYear:
			b.Year = int(n)
		case query.DimMonth:
			b.Month = int(n)
		case query.DimHour:
			b.Hour = int(n)
		case query.DimDow:
			b.Dow = int(n)
		}
	}
	return b, nil
}

func (s esSession) CountPeriods(ctx context.Context, preds []query.Predicate) (int, error) {
	filter, err := buildFilter(preds)
	if err != nil {
		return 0, err
	}
	body := map[string]interface{}{
		"size":  0,
		"query": filter,
		"aggs": map[string]interface{}{
			"periods": map[string]interface{}{
				"cardinality": map[string]interface{}{"field": "period", "precision_threshold": 40000},
			},
		},
	}
	var res struct {
		Aggregations struct {
			Periods struct {
				Value float64 `json:"value"`
			} `json:"periods"`
		} `json:"aggregations"`
	}
	if err := s.es.search(ctx, body, &res); err != nil {
		return 0, fmt.Errorf("failed to count periods: %w", err)
	}
	return int(res.Aggregations.Periods.Value), nil
}

func (s esSession) MaxSeverityRatio(ctx context.Context, preds []query.Predicate) (float64, error) {
	aggs := map[string]interface{}{
		"severity":       map[string]interface{}{"sum": map[string]interface{}{"field": "severity"}},
		"avg_population": map[string]interface{}{"avg": map[string]interface{}{"field": "population"}},
	}
	var highest float64
	err := s.es.composite(ctx, preds, query.CeilingDimensions, aggs, func(cb compositeBucket) error {
		if cb.Severity.Value == nil || cb.AvgPopulation.Value == nil || *cb.AvgPopulation.Value <= 0 {
			return nil
		}
		if r := *cb.Severity.Value / *cb.AvgPopulation.Value; r > highest {
			highest = r
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to query severity ceiling: %w", err)
	}
	return highest, nil
}

// ExportIncidents постранично читает документы через search_after.
func (s esSession) ExportIncidents(ctx context.Context, preds []query.Predicate, fn func(models.IncidentRow) error) error {
	filter, err := buildFilter(preds)
	if err != nil {
		return err
	}

	var after []interface{}
	for {
		body := map[string]interface{}{
			"size":  pageSize,
			"query": filter,
			"sort": []map[string]interface{}{
				{"datetime": map[string]interface{}{"order": "asc"}},
				{"incident_id": map[string]interface{}{"order": "asc"}},
			},
		}
		if after != nil {
			body["search_after"] = after
		}

		var res struct {
			Hits struct {
				Hits []struct {
					Source models.IncidentDoc `json:"_source"`
					Sort   []interface{}      `json:"sort"`
				} `json:"hits"`
			} `json:"hits"`
		}
		if err := s.es.search(ctx, body, &res); err != nil {
			return fmt.Errorf("failed to export incidents: %w", err)
		}

		for _, hit := range res.Hits.Hits {
			d := hit.Source
			if err := fn(models.IncidentRow{
				City:      d.City,
				State:     d.State,
				Country:   d.Country,
				Timestamp: d.Datetime,
				Latitude:  d.Location.Lat,
				Longitude: d.Location.Lon,
				Category:  d.Category,
				Location1: d.LocKey1,
				Location2: d.LocKey2,
				Location3: d.LocKey3,
			}); err != nil {
				return err
			}
		}
		hits := res.Hits.Hits
		if len(hits) < pageSize {
			return nil
		}
		after = hits[len(hits)-1].Sort
	}
}
