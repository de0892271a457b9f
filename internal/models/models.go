package models

import (
	"time"
)

// NoBlock обозначает отсутствие фильтра по кварталу.
const NoBlock int64 = -1

// Ключи верхнего уровня в результате агрегации.
const (
	AllKey           = "all"
	KeyValuesDate    = "values_date"
	KeyValuesTime    = "values_time"
	KeyValuesDow     = "values_dow"
	KeyValuesType    = "values_type"
	KeyValuesLocdesc = "values_locdesc"
)

// Family определяет семейство графиков (измерение группировки).
type Family string

const (
	FamilyBundle   Family = ""
	FamilyMap      Family = "map"
	FamilyDate     Family = "date"
	FamilyTime     Family = "time"
	FamilyDow      Family = "dow"
	FamilyCategory Family = "category"
	FamilyLocation Family = "locationDescription"
)

// DateRange представляет включительный диапазон дат.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// HourRange представляет диапазон часов [Start, End]. Если Start > End, диапазон
// переходит через полночь.
type HourRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Wraps сообщает, переходит ли диапазон через полночь.
func (h HourRange) Wraps() bool {
	return h.Start > h.End
}

// Span возвращает количество часов, покрываемых диапазоном.
func (h HourRange) Span() int {
	if h.Wraps() {
		return 24 - h.Start + h.End + 1
	}
	return h.End - h.Start + 1
}

// FullDay сообщает, покрывает ли диапазон все сутки.
func (h HourRange) FullDay() bool {
	return h.Span() >= 24
}

// LocationKey представляет трехуровневый ключ описания места происшествия.
type LocationKey struct {
	Key1 string `json:"key1"`
	Key2 string `json:"key2"`
	Key3 string `json:"key3"`
}

// FilterSpec содержит нормализованные ограничения запроса.
// Пустые множества означают отсутствие фильтра.
type FilterSpec struct {
	CityID        int64         `json:"city_id"`
	Dates         DateRange     `json:"dates"`
	Hours         HourRange     `json:"hours"`
	Weekdays      []int         `json:"weekdays,omitempty"`
	Categories    []string      `json:"categories,omitempty"`
	Locations     []LocationKey `json:"locations,omitempty"`
	BlockID       int64         `json:"block_id"`
	Family        Family        `json:"family"`
	CategoryDepth int           `json:"category_depth"`
	LocationDepth int           `json:"location_depth"`
}

// HasBlock сообщает, задан ли конкретный квартал.
func (f FilterSpec) HasBlock() bool {
	return f.BlockID != NoBlock
}

// Bucket представляет одну строку сгруппированного агрегата.
// Заполняются только поля, соответствующие измерениям группировки.
type Bucket struct {
	BlockID int64    `json:"block_id,omitempty"`
	Year    int      `json:"year,omitempty"`
	Month   int      `json:"month,omitempty"`
	Hour    int      `json:"hour,omitempty"`
	Dow     int      `json:"dow,omitempty"`
	Keys    []string `json:"keys,omitempty"` // путь в таксономии категории или места
	Value   float64  `json:"value"`
}

// Period представляет пару (год, месяц).
type Period struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// Before сообщает, предшествует ли период другому.
func (p Period) Before(o Period) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	return p.Month < o.Month
}

// Point представляет точку циклического ряда (часы, дни недели).
type Point struct {
	X int     `json:"x"`
	Y float64 `json:"y"`
}

// LabeledPoint представляет точку ряда по датам с подписью "{month}/{year}".
type LabeledPoint struct {
	X string  `json:"x"`
	Y float64 `json:"y"`
}

// TreeNode представляет узел дерева категорий или мест.
type TreeNode struct {
	Name     string      `json:"name"`
	Count    float64     `json:"count,omitempty"`
	Alpha    float64     `json:"alpha,omitempty"`
	Children []*TreeNode `json:"children,omitempty"`
}

// Tree представляет корень дерева. Children всегда присутствует в JSON.
type Tree struct {
	Name     string      `json:"name"`
	Children []*TreeNode `json:"children"`
}

// BlockSeries представляет строку матрицы карты: значения квартала по временной шкале.
type BlockSeries struct {
	ID     int64     `json:"id"`
	Values []float64 `json:"values"`
}

// Matrix представляет разреженную таблицу квартал × (год, месяц).
type Matrix struct {
	Other    []BlockSeries `json:"other"`
	Timeline []Period      `json:"timeline"`
}

// ChartSet содержит ряды одного раздела результата ("all" или "Block N").
type ChartSet map[string]interface{}

// ChartResult представляет итоговую структуру задания агрегации.
// Поля Matrix попадают в JSON только для семейства map.
type ChartResult struct {
	Error string              `json:"error"`
	Main  map[string]ChartSet `json:"main"`
	*Matrix
}

// City представляет город в PostgreSQL
type City struct {
	ID      int64  `json:"id"`
	City    string `json:"city"`
	State   string `json:"state,omitempty"`
	Country string `json:"country"`
}

// CityOption представляет город в списке выбора
type CityOption struct {
	ID     int64  `json:"id"`
	String string `json:"string"`
}

// IncidentRow представляет строку выгрузки происшествий.
type IncidentRow struct {
	City      string
	State     string
	Country   string
	Timestamp time.Time
	Latitude  float64
	Longitude float64
	Category  string
	Location1 string
	Location2 string
	Location3 string
}

// IncidentDoc представляет происшествие в индексе Elasticsearch
type IncidentDoc struct {
	IncidentID int64     `json:"incident_id"`
	CityID     int64     `json:"city_id"`
	BlockID    int64     `json:"block_id"`
	Population int64     `json:"population"`
	Datetime   time.Time `json:"datetime"`
	Year       int       `json:"year"`
	Month      int       `json:"month"`
	Period     string    `json:"period"`
	Hour       int       `json:"hour"`
	Dow        int       `json:"dow"`
	Category   string    `json:"category"`
	Violence   string    `json:"violence"`
	Offense    string    `json:"ppo"`
	Severity   float64   `json:"severity"`
	LocKey1    string    `json:"loc_key1"`
	LocKey2    string    `json:"loc_key2"`
	LocKey3    string    `json:"loc_key3"`
	City       string    `json:"city"`
	State      string    `json:"state"`
	Country    string    `json:"country"`
	Location   GeoPoint  `json:"location"`
}

// GeoPoint представляет географические координаты
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}
