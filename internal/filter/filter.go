// Package filter разбирает параметры запроса в нормализованную спецификацию фильтра.
package filter

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/akozadaev/go_crime_analytical_system/internal/models"
)

// Имена параметров запроса.
const (
	ParamCity          = "cityid"
	ParamStartDate     = "sdt"
	ParamEndDate       = "edt"
	ParamStartTime     = "stime"
	ParamEndTime       = "etime"
	ParamWeekdays      = "dotw"
	ParamCategories    = "crimetypes"
	ParamLocation1     = "locdesc1"
	ParamLocation2     = "locdesc2"
	ParamLocation3     = "locdesc3"
	ParamBlock         = "blockid"
	ParamFamily        = "loadtype"
	ParamCategoryDepth = "catdepth"
	ParamLocationDepth = "locdepth"
)

const (
	defaultCategoryDepth = 1
	defaultLocationDepth = 3
	maxTaxonomyDepth     = 3
)

var (
	// MinDate и MaxDate задают диапазон дат по умолчанию.
	MinDate = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)
	MaxDate = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)
)

// ErrValidation возвращается для структурно некорректных параметров.
var ErrValidation = errors.New("invalid filter")

// ValidationError описывает некорректный параметр запроса.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

var familyAliases = map[string]models.Family{
	"":                    models.FamilyBundle,
	"map":                 models.FamilyMap,
	"date":                models.FamilyDate,
	"time":                models.FamilyTime,
	"dow":                 models.FamilyDow,
	"dotw":                models.FamilyDow,
	"category":            models.FamilyCategory,
	"crimeall":            models.FamilyCategory,
	"crimeblock":          models.FamilyCategory,
	"locationdescription": models.FamilyLocation,
	"locdesc":             models.FamilyLocation,
	"locall":              models.FamilyLocation,
	"locblock":            models.FamilyLocation,
}

// ParseFamily возвращает семейство графиков по селектору.
// Неизвестный селектор дает FamilyBundle и ok=false.
func ParseFamily(s string) (models.Family, bool) {
	f, ok := familyAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return models.FamilyBundle, false
	}
	return f, true
}

var dateLayouts = []string{"01/02/2006", "1/2/2006", "2006-01-02"}
var monthLayouts = []string{"01/2006", "1/2006", "2006-01"}

// Parse разбирает параметры запроса в FilterSpec.
// Ошибку возвращают только отсутствующий город и перевернутый диапазон дат,
// прочие некорректные значения заменяются значениями по умолчанию.
func Parse(params url.Values) (models.FilterSpec, error) {
	spec := models.FilterSpec{
		Dates:         models.DateRange{Start: MinDate, End: MaxDate},
		Hours:         models.HourRange{Start: 0, End: 23},
		BlockID:       models.NoBlock,
		CategoryDepth: defaultCategoryDepth,
		LocationDepth: defaultLocationDepth,
	}

	cityID, err := strconv.ParseInt(strings.TrimSpace(params.Get(ParamCity)), 10, 64)
	if err != nil || cityID <= 0 {
		return spec, &ValidationError{Field: ParamCity, Reason: "a positive integer city id is required"}
	}
	spec.CityID = cityID

	if d, ok := parseDate(params.Get(ParamStartDate), false); ok {
		spec.Dates.Start = d
	}
	if d, ok := parseDate(params.Get(ParamEndDate), true); ok {
		spec.Dates.End = d
	}
	if spec.Dates.Start.After(spec.Dates.End) {
		return spec, &ValidationError{Field: ParamStartDate, Reason: "start date is after end date"}
	}

	spec.Hours.Start = parseHour(params.Get(ParamStartTime), 0)
	spec.Hours.End = parseHour(params.Get(ParamEndTime), 23)
	spec.Weekdays = parseWeekdays(params.Get(ParamWeekdays))
	spec.Categories = splitList(params.Get(ParamCategories))
	spec.Locations = parseLocations(params)

	if block, err := strconv.ParseInt(strings.TrimSpace(params.Get(ParamBlock)), 10, 64); err == nil && block >= 0 {
		spec.BlockID = block
	}

	spec.Family, _ = ParseFamily(params.Get(ParamFamily))
	spec.CategoryDepth = parseDepth(params.Get(ParamCategoryDepth), defaultCategoryDepth)
	spec.LocationDepth = parseDepth(params.Get(ParamLocationDepth), defaultLocationDepth)

	return spec, nil
}

// parseDate принимает полную дату или пару месяц/год. Для конца диапазона
// пара месяц/год означает последний день месяца.
func parseDate(raw string, end bool) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	for _, layout := range monthLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			if end {
				t = t.AddDate(0, 1, -1)
			}
			return t, true
		}
	}
	return time.Time{}, false
}

func parseHour(raw string, def int) int {
	h, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || h < 0 || h > 23 {
		return def
	}
	return h
}

func parseDepth(raw string, def int) int {
	d, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || d < 1 || d > maxTaxonomyDepth {
		return def
	}
	return d
}

func parseWeekdays(raw string) []int {
	seen := make(map[int]bool)
	var days []int
	for _, part := range splitList(raw) {
		d, err := strconv.Atoi(part)
		if err != nil || d < 0 || d > 6 || seen[d] {
			continue
		}
		seen[d] = true
		days = append(days, d)
	}
	sort.Ints(days)
	return days
}

// parseLocations собирает кортежи мест из трех параллельных списков.
// Списки делятся по позициям, пустые уровни сохраняются. Фильтр по местам
// не задан, если какого-то параметра нет, все три пусты или длины различаются.
func parseLocations(params url.Values) []models.LocationKey {
	var levels [3][]string
	blank := true
	for i, name := range []string{ParamLocation1, ParamLocation2, ParamLocation3} {
		raw, ok := params[name]
		if !ok || len(raw) == 0 {
			return nil
		}
		if strings.TrimSpace(raw[0]) != "" {
			blank = false
		}
		levels[i] = strings.Split(raw[0], ",")
	}
	if blank {
		return nil
	}
	if len(levels[0]) != len(levels[1]) || len(levels[1]) != len(levels[2]) {
		return nil
	}
	keys := make([]models.LocationKey, len(levels[0]))
	for i := range keys {
		keys[i] = models.LocationKey{
			Key1: strings.TrimSpace(levels[0][i]),
			Key2: strings.TrimSpace(levels[1][i]),
			Key3: strings.TrimSpace(levels[2][i]),
		}
	}
	return keys
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
