// Package normalize приводит сырые агрегаты к сопоставимым показателям тяжести.
package normalize

import (
	"math"

	"github.com/akozadaev/go_crime_analytical_system/internal/models"
)

const (
	HoursPerDay  = 24
	DaysPerWeek  = 7
	HoursPerWeek = HoursPerDay * DaysPerWeek

	// SeverityExponent сжимает нормированные значения карты.
	SeverityExponent = 0.1
)

// HourMultiplier пересчитывает значение, ограниченное по часам, к полным суткам.
func HourMultiplier(h models.HourRange) float64 {
	span := h.Span()
	if span > HoursPerDay {
		span = HoursPerDay
	}
	if span <= 0 {
		return 0
	}
	return float64(HoursPerDay) / float64(span)
}

// DowMultiplier пересчитывает значение, ограниченное по дням недели, к полной неделе.
func DowMultiplier(weekdays []int) float64 {
	if len(weekdays) == 0 {
		return 1
	}
	return float64(DaysPerWeek) / float64(len(weekdays))
}

// MonthCoverage возвращает величину, обратную числу периодов (год, месяц).
func MonthCoverage(periods int) float64 {
	if periods <= 0 {
		return 0
	}
	return 1 / float64(periods)
}

// Ceiling переводит максимальное отношение тяжести к населению в недельную интенсивность.
func Ceiling(maxRatio float64) float64 {
	return finite(maxRatio * HoursPerWeek)
}

// Context содержит общегородские величины, общие для всех семейств одного задания.
type Context struct {
	SeverityCeiling float64
	MonthCoverage   float64
	HourMultiplier  float64
	DowMultiplier   float64
}

// NewContext строит контекст нормализации для фильтра.
func NewContext(spec models.FilterSpec, ceiling float64, periods int) Context {
	return Context{
		SeverityCeiling: finite(ceiling),
		MonthCoverage:   MonthCoverage(periods),
		HourMultiplier:  HourMultiplier(spec.Hours),
		DowMultiplier:   DowMultiplier(spec.Weekdays),
	}
}

// Defined сообщает, можно ли нормировать значения карты.
func (c Context) Defined() bool {
	return c.SeverityCeiling > 0
}

// MapScore нормирует значение ячейки карты потолком тяжести и сжимает его.
// При неопределенном потолке возвращает 0.
func (c Context) MapScore(raw float64) float64 {
	if !c.Defined() {
		return 0
	}
	v := finite(c.HourMultiplier * c.DowMultiplier * raw / c.SeverityCeiling)
	if v <= 0 {
		return 0
	}
	return math.Pow(v, SeverityExponent)
}

// DateRate приводит значение месяца к полной неделе и полным суткам.
func (c Context) DateRate(raw float64) float64 {
	return finite(c.DowMultiplier * c.HourMultiplier * raw)
}

// TimeRate приводит значение часа к суточной интенсивности за месяц.
func (c Context) TimeRate(raw float64) float64 {
	return finite(HoursPerDay * c.DowMultiplier * c.MonthCoverage * raw)
}

// DowRate приводит значение дня недели к недельной интенсивности за месяц.
func (c Context) DowRate(raw float64) float64 {
	return finite(DaysPerWeek * c.MonthCoverage * c.HourMultiplier * raw)
}

// Apply нормирует корзины семейства. Счетные семейства возвращаются без изменений.
func (c Context) Apply(family models.Family, buckets []models.Bucket) []models.Bucket {
	var rate func(float64) float64
	switch family {
	case models.FamilyMap:
		rate = c.MapScore
	case models.FamilyDate:
		rate = c.DateRate
	case models.FamilyTime:
		rate = c.TimeRate
	case models.FamilyDow:
		rate = c.DowRate
	default:
		return buckets
	}
	out := make([]models.Bucket, len(buckets))
	for i, b := range buckets {
		b.Value = rate(b.Value)
		out[i] = b
	}
	return out
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
