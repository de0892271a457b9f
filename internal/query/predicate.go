// Package query составляет набор агрегирующих запросов для семейств графиков.
package query

// Column обозначает логическую колонку, на которую накладывается предикат.
type Column string

const (
	ColCity       Column = "city"
	ColDate       Column = "date"
	ColHour       Column = "hour"
	ColDow        Column = "dow"
	ColCategory   Column = "category"
	ColLocation   Column = "location"
	ColBlock      Column = "block"
	ColPopulation Column = "population"
)

// Predicate представляет одно условие фильтра: Equals, Range или InSet.
type Predicate interface {
	Column() Column
	predicate()
}

// Equals требует равенства колонки значению.
type Equals struct {
	Col   Column
	Value interface{}
}

// Range ограничивает колонку снизу и сверху. Nil-граница не проверяется.
// HiExclusive делает верхнюю границу строгой. Wrap означает циклический диапазон
// (Lo > Hi), который выполняется при col >= Lo ИЛИ col <= Hi.
type Range struct {
	Col         Column
	Lo          interface{}
	Hi          interface{}
	HiExclusive bool
	Wrap        bool
}

// InSet требует принадлежности колонки множеству значений.
// Для ColLocation элементы имеют тип models.LocationKey.
type InSet struct {
	Col    Column
	Values []interface{}
}

func (p Equals) Column() Column { return p.Col }
func (p Range) Column() Column  { return p.Col }
func (p InSet) Column() Column  { return p.Col }

func (Equals) predicate() {}
func (Range) predicate()  {}
func (InSet) predicate()  {}

// Without возвращает предикаты без условий на указанную колонку.
func Without(preds []Predicate, col Column) []Predicate {
	if col == "" {
		return append([]Predicate(nil), preds...)
	}
	out := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		if p.Column() != col {
			out = append(out, p)
		}
	}
	return out
}
