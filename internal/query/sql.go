package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/akozadaev/go_crime_analytical_system/internal/models"
	"github.com/lib/pq"
)

// SQL содержит параметризованный текст запроса PostgreSQL с аргументами.
type SQL struct {
	Text string
	Args []interface{}
}

const fromIncidents = ` FROM incident` +
	` INNER JOIN block ON incident.blockid = block.id` +
	` INNER JOIN crimetype ON incident.crimetypeid = crimetype.id` +
	` INNER JOIN locdesctype ON incident.locdescid = locdesctype.id`

// fromExport не соединяет block: выгрузка включает происшествия без квартала.
const fromExport = ` FROM incident` +
	` INNER JOIN crimetype ON incident.crimetypeid = crimetype.id` +
	` INNER JOIN locdesctype ON incident.locdescid = locdesctype.id` +
	` INNER JOIN city ON incident.cityid = city.id`

var columnExpr = map[Column]string{
	ColCity:       "incident.cityid",
	ColDate:       "incident.datetime",
	ColHour:       "incident.hour",
	ColDow:        "incident.dow",
	ColCategory:   "crimetype.category",
	ColBlock:      "incident.blockid",
	ColPopulation: "block.population",
}

var dimensionExpr = map[Dimension]string{
	DimBlock:    "incident.blockid",
	DimYear:     "incident.year",
	DimMonth:    "incident.month",
	DimHour:     "incident.hour",
	DimDow:      "incident.dow",
	DimViolence: "crimetype.violence",
	DimOffense:  "crimetype.ppo",
	DimCategory: "crimetype.category",
	DimLoc1:     "locdesctype.key1",
	DimLoc2:     "locdesctype.key2",
	DimLoc3:     "locdesctype.key3",
}

const locationTuple = "(locdesctype.key1, locdesctype.key2, locdesctype.key3)"

var metricExpr = map[Metric]string{
	MetricCount:      "COUNT(*)::float8",
	MetricBlockRatio: "COUNT(*)::float8 / AVG(block.population)",
	MetricCityRatio:  "COUNT(*)::float8 / (AVG(block.population) * COUNT(DISTINCT incident.blockid))",
}

// ErrNoDimensions возвращается для запроса без измерений группировки.
var ErrNoDimensions = errors.New("query has no group-by dimensions")

// builder накапливает условия и нумерует плейсхолдеры.
type builder struct {
	clauses []string
	args    []interface{}
}

func (b *builder) arg(v interface{}) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *builder) where() string {
	if len(b.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.clauses, " AND ")
}

func (b *builder) add(p Predicate) error {
	switch p := p.(type) {
	case Equals:
		col, err := column(p.Col)
		if err != nil {
			return err
		}
		b.clauses = append(b.clauses, col+" = "+b.arg(p.Value))
	case Range:
		col, err := column(p.Col)
		if err != nil {
			return err
		}
		b.clauses = append(b.clauses, b.rangeClause(col, p))
	case InSet:
		if p.Col == ColLocation {
			clause, err := b.tupleClause(p.Values)
			if err != nil {
				return err
			}
			b.clauses = append(b.clauses, clause)
			return nil
		}
		col, err := column(p.Col)
		if err != nil {
			return err
		}
		arr, err := array(p.Values)
		if err != nil {
			return fmt.Errorf("failed to bind %s set: %w", p.Col, err)
		}
		b.clauses = append(b.clauses, col+" = ANY("+b.arg(arr)+")")
	default:
		return fmt.Errorf("unsupported predicate %T", p)
	}
	return nil
}

func (b *builder) rangeClause(col string, r Range) string {
	hiOp := " <= "
	if r.HiExclusive {
		hiOp = " < "
	}
	if r.Wrap && r.Lo != nil && r.Hi != nil {
		return "(" + col + " >= " + b.arg(r.Lo) + " OR " + col + hiOp + b.arg(r.Hi) + ")"
	}
	var parts []string
	if r.Lo != nil {
		parts = append(parts, col+" >= "+b.arg(r.Lo))
	}
	if r.Hi != nil {
		parts = append(parts, col+hiOp+b.arg(r.Hi))
	}
	if len(parts) == 0 {
		return "TRUE"
	}
	return strings.Join(parts, " AND ")
}

func (b *builder) tupleClause(values []interface{}) (string, error) {
	if len(values) == 0 {
		return "FALSE", nil
	}
	tuples := make([]string, 0, len(values))
	for _, v := range values {
		key, ok := v.(models.LocationKey)
		if !ok {
			return "", fmt.Errorf("location set expects models.LocationKey, got %T", v)
		}
		tuples = append(tuples, "("+b.arg(key.Key1)+", "+b.arg(key.Key2)+", "+b.arg(key.Key3)+")")
	}
	return locationTuple + " IN (" + strings.Join(tuples, ", ") + ")", nil
}

func column(c Column) (string, error) {
	expr, ok := columnExpr[c]
	if !ok {
		return "", fmt.Errorf("unknown column %q", c)
	}
	return expr, nil
}

// array приводит множество к типизированному массиву pq.
func array(values []interface{}) (interface{}, error) {
	if len(values) == 0 {
		return pq.Array([]string{}), nil
	}
	switch values[0].(type) {
	case int, int64:
		out := make([]int64, len(values))
		for i, v := range values {
			switch n := v.(type) {
			case int:
				out[i] = int64(n)
			case int64:
				out[i] = n
			default:
				return nil, fmt.Errorf("mixed set element %T", v)
			}
		}
		return pq.Array(out), nil
	case string:
		out := make([]string, len(values))
		for i, v := range values {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("mixed set element %T", v)
			}
			out[i] = s
		}
		return pq.Array(out), nil
	}
	return nil, fmt.Errorf("unsupported set element %T", values[0])
}

func (b *builder) addAll(preds []Predicate) error {
	for _, p := range preds {
		if err := b.add(p); err != nil {
			return err
		}
	}
	return nil
}

func dimensions(dims []Dimension) (string, error) {
	exprs := make([]string, len(dims))
	for i, d := range dims {
		expr, ok := dimensionExpr[d]
		if !ok {
			return "", fmt.Errorf("unknown dimension %q", d)
		}
		exprs[i] = expr
	}
	return strings.Join(exprs, ", "), nil
}

// BuildSQL строит сгруппированный агрегат. Строки упорядочены по измерениям
// группировки, значение агрегата возвращается последней колонкой.
func BuildSQL(q Query) (SQL, error) {
	if len(q.GroupBy) == 0 {
		return SQL{}, ErrNoDimensions
	}
	dims, err := dimensions(q.GroupBy)
	if err != nil {
		return SQL{}, err
	}
	metric, ok := metricExpr[q.Metric]
	if !ok {
		return SQL{}, fmt.Errorf("unknown metric %d", q.Metric)
	}

	var b builder
	if err := b.addAll(q.Predicates); err != nil {
		return SQL{}, err
	}

	text := "SELECT " + dims + ", " + metric + " AS value" + fromIncidents + b.where() +
		" GROUP BY " + dims + " ORDER BY " + dims
	return SQL{Text: text, Args: b.args}, nil
}

// BuildPeriodCountSQL строит подсчет различных периодов (год, месяц).
func BuildPeriodCountSQL(preds []Predicate) (SQL, error) {
	var b builder
	if err := b.addAll(preds); err != nil {
		return SQL{}, err
	}
	text := "SELECT COUNT(*) FROM (SELECT 1" + fromIncidents + b.where() +
		" GROUP BY incident.year, incident.month) AS month_count"
	return SQL{Text: text, Args: b.args}, nil
}

// BuildCeilingSQL строит поиск максимального отношения суммарной тяжести
// к населению по корзинам (квартал, год, месяц, день недели, час).
func BuildCeilingSQL(preds []Predicate) (SQL, error) {
	dims, err := dimensions(CeilingDimensions)
	if err != nil {
		return SQL{}, err
	}
	var b builder
	if err := b.addAll(preds); err != nil {
		return SQL{}, err
	}
	text := "SELECT COALESCE(MAX(ratio), 0) FROM (SELECT SUM(crimetype.severity)::float8 / AVG(block.population) AS ratio" +
		fromIncidents + b.where() + " GROUP BY " + dims + ") AS buckets"
	return SQL{Text: text, Args: b.args}, nil
}

// BuildExportSQL строит выгрузку происшествий по предикатам.
func BuildExportSQL(preds []Predicate) (SQL, error) {
	var b builder
	if err := b.addAll(preds); err != nil {
		return SQL{}, err
	}
	text := "SELECT city.city, COALESCE(city.state, ''), city.country, incident.datetime," +
		" ST_Y(incident.location) AS latitude, ST_X(incident.location) AS longitude," +
		" crimetype.category, locdesctype.key1, locdesctype.key2, locdesctype.key3" +
		fromExport + b.where() +
		" ORDER BY incident.datetime, incident.id"
	return SQL{Text: text, Args: b.args}, nil
}
