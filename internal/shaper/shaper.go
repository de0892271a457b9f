// Package shaper преобразует плоские корзины агрегатов в структуры для графиков.
package shaper

import (
	"fmt"
	"sort"
	"strings"

	"github.com/akozadaev/go_crime_analytical_system/internal/models"
)

// PathSeparator разделяет уровни в именах узлов дерева.
const PathSeparator = " | "

const (
	CategoryTreeName = "Crime Type for All Data"
	LocationTreeName = "Location Description for All Data"
)

// CyclicHours возвращает 24 значения по часам с точками обертки:
// -1 (копия часа 23), 24 и 25 (копии часов 0 и 1).
func CyclicHours(buckets []models.Bucket) []models.Point {
	values := make([]float64, 24)
	for _, b := range buckets {
		if b.Hour >= 0 && b.Hour < 24 {
			values[b.Hour] += b.Value
		}
	}
	return wrap(values, 2)
}

// CyclicWeekdays возвращает 7 значений по дням недели с точками обертки -1 и 7.
func CyclicWeekdays(buckets []models.Bucket) []models.Point {
	values := make([]float64, 7)
	for _, b := range buckets {
		if b.Dow >= 0 && b.Dow < 7 {
			values[b.Dow] += b.Value
		}
	}
	return wrap(values, 1)
}

func wrap(values []float64, tail int) []models.Point {
	n := len(values)
	points := make([]models.Point, 0, n+1+tail)
	points = append(points, models.Point{X: -1, Y: values[n-1]})
	for i, v := range values {
		points = append(points, models.Point{X: i, Y: v})
	}
	for i := 0; i < tail; i++ {
		points = append(points, models.Point{X: n + i, Y: values[i%n]})
	}
	return points
}

// DateLabel форматирует период как "{month}/{year}".
func DateLabel(p models.Period) string {
	return fmt.Sprintf("%d/%d", p.Month, p.Year)
}

// DateSeries возвращает ряд по периодам в порядке возрастания (год, месяц).
// Периоды из timeline без корзин заполняются нулями.
func DateSeries(buckets []models.Bucket, timeline []models.Period) []models.LabeledPoint {
	values := make(map[models.Period]float64, len(buckets))
	for _, p := range timeline {
		values[p] = 0
	}
	for _, b := range buckets {
		values[models.Period{Year: b.Year, Month: b.Month}] += b.Value
	}

	periods := sortedPeriods(values)
	points := make([]models.LabeledPoint, len(periods))
	for i, p := range periods {
		points[i] = models.LabeledPoint{X: DateLabel(p), Y: values[p]}
	}
	return points
}

// Periods возвращает различные периоды корзин в порядке возрастания.
func Periods(buckets []models.Bucket) []models.Period {
	set := make(map[models.Period]float64, len(buckets))
	for _, b := range buckets {
		set[models.Period{Year: b.Year, Month: b.Month}] = 0
	}
	return sortedPeriods(set)
}

func sortedPeriods(set map[models.Period]float64) []models.Period {
	periods := make([]models.Period, 0, len(set))
	for p := range set {
		periods = append(periods, p)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].Before(periods[j]) })
	return periods
}

type cell struct {
	block  int64
	period models.Period
}

// MapMatrix сводит корзины (квартал, год, месяц) в таблицу. Отсутствующие
// сочетания заполняются 0.0, кварталы упорядочены по возрастанию id.
func MapMatrix(buckets []models.Bucket) models.Matrix {
	cells := make(map[cell]float64, len(buckets))
	blockSet := make(map[int64]struct{})
	for _, b := range buckets {
		cells[cell{block: b.BlockID, period: models.Period{Year: b.Year, Month: b.Month}}] += b.Value
		blockSet[b.BlockID] = struct{}{}
	}

	timeline := Periods(buckets)
	blocks := make([]int64, 0, len(blockSet))
	for id := range blockSet {
		blocks = append(blocks, id)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i] < blocks[j] })

	rows := make([]models.BlockSeries, len(blocks))
	for i, id := range blocks {
		values := make([]float64, len(timeline))
		for j, p := range timeline {
			values[j] = cells[cell{block: id, period: p}]
		}
		rows[i] = models.BlockSeries{ID: id, Values: values}
	}
	return models.Matrix{Other: rows, Timeline: timeline}
}

// Unpivot восстанавливает ненулевые корзины из таблицы карты.
func Unpivot(m models.Matrix) []models.Bucket {
	var out []models.Bucket
	for _, row := range m.Other {
		for j, v := range row.Values {
			if v == 0 || j >= len(m.Timeline) {
				continue
			}
			p := m.Timeline[j]
			out = append(out, models.Bucket{BlockID: row.ID, Year: p.Year, Month: p.Month, Value: v})
		}
	}
	return out
}

// BuildTree строит дерево глубиной depth из корзин с путями Keys.
// Имя узла составляется из префикса пути, соединенного PathSeparator. Дочерние узлы идут в
// порядке первого появления. Листья получают alpha, если оно больше нуля.
func BuildTree(name string, buckets []models.Bucket, depth int, alpha float64) models.Tree {
	if depth < 1 {
		depth = 1
	}
	root := &models.TreeNode{}
	index := make(map[string]*models.TreeNode)

	for _, b := range buckets {
		if len(b.Keys) == 0 {
			continue
		}
		levels := depth
		if len(b.Keys) < levels {
			levels = len(b.Keys)
		}
		parent := root
		for level := 0; level < levels; level++ {
			path := strings.Join(b.Keys[:level+1], PathSeparator)
			node, ok := index[path]
			if !ok {
				node = &models.TreeNode{Name: path}
				index[path] = node
				parent.Children = append(parent.Children, node)
			}
			parent = node
		}
		parent.Count += b.Value
		if alpha > 0 {
			parent.Alpha = alpha
		}
	}

	children := root.Children
	if children == nil {
		children = []*models.TreeNode{}
	}
	return models.Tree{Name: name, Children: children}
}
