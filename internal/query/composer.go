package query

import (
	"time"

	"github.com/akozadaev/go_crime_analytical_system/internal/models"
)

// Dimension обозначает измерение группировки.
type Dimension string

const (
	DimBlock    Dimension = "blockid"
	DimYear     Dimension = "year"
	DimMonth    Dimension = "month"
	DimHour     Dimension = "hour"
	DimDow      Dimension = "dow"
	DimViolence Dimension = "violence"
	DimOffense  Dimension = "ppo"
	DimCategory Dimension = "category"
	DimLoc1     Dimension = "locdesc1"
	DimLoc2     Dimension = "locdesc2"
	DimLoc3     Dimension = "locdesc3"
)

// Taxonomy сообщает, является ли измерение уровнем таксономии (строковым ключом).
func (d Dimension) Taxonomy() bool {
	switch d {
	case DimViolence, DimOffense, DimCategory, DimLoc1, DimLoc2, DimLoc3:
		return true
	}
	return false
}

// Metric определяет агрегируемую величину.
type Metric int

const (
	// MetricCount считает число происшествий.
	MetricCount Metric = iota
	// MetricBlockRatio считает число происшествий на жителя квартала.
	MetricBlockRatio
	// MetricCityRatio считает число происшествий на жителя, усредненное по кварталам.
	MetricCityRatio
)

// Scope определяет, считается ли запрос по городу или по кварталу.
type Scope int

const (
	ScopeCity Scope = iota
	ScopeBlock
)

// Query описывает один сгруппированный агрегат.
type Query struct {
	Family     models.Family
	Scope      Scope
	Metric     Metric
	GroupBy    []Dimension
	Predicates []Predicate
}

var categoryLevels = []Dimension{DimViolence, DimOffense, DimCategory}
var locationLevels = []Dimension{DimLoc1, DimLoc2, DimLoc3}

// CategoryDimensions возвращает уровни группировки категорий для глубины 1..3.
// Последний уровень всегда полная категория.
func CategoryDimensions(depth int) []Dimension {
	switch depth {
	case 2:
		return []Dimension{DimViolence, DimCategory}
	case 3:
		return append([]Dimension(nil), categoryLevels...)
	default:
		return []Dimension{DimCategory}
	}
}

// LocationDimensions возвращает уровни группировки мест для глубины 1..3.
func LocationDimensions(depth int) []Dimension {
	if depth < 1 || depth > len(locationLevels) {
		depth = len(locationLevels)
	}
	return append([]Dimension(nil), locationLevels[:depth]...)
}

// ActivePredicates возвращает все действующие предикаты фильтра, включая
// неявное условие на ненулевое население.
func ActivePredicates(spec models.FilterSpec) []Predicate {
	preds := []Predicate{Equals{Col: ColCity, Value: spec.CityID}}
	preds = append(preds, datePredicate(spec.Dates))
	if !spec.Hours.FullDay() {
		preds = append(preds, Range{
			Col:  ColHour,
			Lo:   spec.Hours.Start,
			Hi:   spec.Hours.End,
			Wrap: spec.Hours.Wraps(),
		})
	}
	if len(spec.Weekdays) > 0 {
		values := make([]interface{}, len(spec.Weekdays))
		for i, d := range spec.Weekdays {
			values[i] = d
		}
		preds = append(preds, InSet{Col: ColDow, Values: values})
	}
	if len(spec.Categories) > 0 {
		values := make([]interface{}, len(spec.Categories))
		for i, c := range spec.Categories {
			values[i] = c
		}
		preds = append(preds, InSet{Col: ColCategory, Values: values})
	}
	if len(spec.Locations) > 0 {
		values := make([]interface{}, len(spec.Locations))
		for i, l := range spec.Locations {
			values[i] = l
		}
		preds = append(preds, InSet{Col: ColLocation, Values: values})
	}
	return append(preds, Range{Col: ColPopulation, Lo: 1})
}

// ExportPredicates возвращает предикаты выгрузки: без квартала и без условия на население.
func ExportPredicates(spec models.FilterSpec) []Predicate {
	return Without(ActivePredicates(spec), ColPopulation)
}

// LatestDate ограничивает верхнюю границу диапазона дат. Годы после 9999
// не кодируются в JSON и в литералы времени PostgreSQL.
var LatestDate = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

func datePredicate(d models.DateRange) Range {
	hi := d.End.AddDate(0, 0, 1)
	if hi.After(LatestDate) {
		hi = LatestDate
	}
	return Range{
		Col:         ColDate,
		Lo:          d.Start,
		Hi:          hi,
		HiExclusive: true,
	}
}

// PeriodPredicates возвращает предикаты для подсчета периодов (год, месяц) в диапазоне дат.
func PeriodPredicates(spec models.FilterSpec) []Predicate {
	return []Predicate{Equals{Col: ColCity, Value: spec.CityID}, datePredicate(spec.Dates)}
}

// CeilingPredicates возвращает предикаты для вычисления потолка тяжести по городу.
func CeilingPredicates(cityID int64) []Predicate {
	return []Predicate{Equals{Col: ColCity, Value: cityID}, Range{Col: ColPopulation, Lo: 1}}
}

// CeilingDimensions задает корзины, по которым ищется максимум интенсивности.
var CeilingDimensions = []Dimension{DimBlock, DimYear, DimMonth, DimDow, DimHour}

// OwnColumn возвращает колонку, по которой группирует семейство и чей предикат
// исключается из его собственного запроса. Семейства date и map группируют по
// периодам внутри диапазона дат и сохраняют предикат даты.
func OwnColumn(family models.Family) Column {
	switch family {
	case models.FamilyTime:
		return ColHour
	case models.FamilyDow:
		return ColDow
	case models.FamilyCategory:
		return ColCategory
	case models.FamilyLocation:
		return ColLocation
	}
	return ""
}

// Families возвращает семейства, вычисляемые для селектора.
func Families(selector models.Family) []models.Family {
	switch selector {
	case models.FamilyMap, models.FamilyDate, models.FamilyTime, models.FamilyDow,
		models.FamilyCategory, models.FamilyLocation:
		return []models.Family{selector}
	}
	return []models.Family{models.FamilyMap, models.FamilyDate}
}

// Compose строит запросы для селектора семейства из фильтра. Городские варианты
// идут перед вариантами по кварталу.
func Compose(spec models.FilterSpec) []Query {
	var queries []Query
	for _, family := range Families(spec.Family) {
		queries = append(queries, ComposeFamily(spec, family)...)
	}
	return queries
}

// ComposeFamily строит городской и, при заданном квартале, квартальный запрос семейства.
func ComposeFamily(spec models.FilterSpec, family models.Family) []Query {
	preds := Without(ActivePredicates(spec), OwnColumn(family))

	base := Query{Family: family, Scope: ScopeCity, Predicates: preds}
	switch family {
	case models.FamilyMap:
		base.Metric = MetricBlockRatio
		base.GroupBy = []Dimension{DimBlock, DimYear, DimMonth}
		return []Query{base}
	case models.FamilyDate:
		base.Metric = MetricCityRatio
		base.GroupBy = []Dimension{DimYear, DimMonth}
	case models.FamilyTime:
		base.Metric = MetricCityRatio
		base.GroupBy = []Dimension{DimHour}
	case models.FamilyDow:
		base.Metric = MetricCityRatio
		base.GroupBy = []Dimension{DimDow}
	case models.FamilyCategory:
		base.Metric = MetricCount
		base.GroupBy = CategoryDimensions(spec.CategoryDepth)
	case models.FamilyLocation:
		base.Metric = MetricCount
		base.GroupBy = LocationDimensions(spec.LocationDepth)
	default:
		return nil
	}

	queries := []Query{base}
	if spec.HasBlock() {
		scoped := base
		scoped.Scope = ScopeBlock
		if scoped.Metric == MetricCityRatio {
			scoped.Metric = MetricBlockRatio
		}
		scoped.GroupBy = append([]Dimension(nil), base.GroupBy...)
		scoped.Predicates = append(append([]Predicate(nil), preds...), Equals{Col: ColBlock, Value: spec.BlockID})
		queries = append(queries, scoped)
	}
	return queries
}
