package query

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/akozadaev/go_crime_analytical_system/internal/models"
	"github.com/lib/pq"
)

func sampleSpec() models.FilterSpec {
	return models.FilterSpec{
		CityID: 1,
		Dates: models.DateRange{
			Start: time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2018, 12, 31, 0, 0, 0, 0, time.UTC),
		},
		Hours:         models.HourRange{Start: 8, End: 17},
		Weekdays:      []int{1, 2},
		Categories:    []string{"THEFT | RETAIL"},
		Locations:     []models.LocationKey{{Key1: "STREET", Key2: "ALLEY", Key3: "NONE"}},
		BlockID:       models.NoBlock,
		CategoryDepth: 1,
		LocationDepth: 3,
	}
}

func columns(preds []Predicate) []Column {
	out := make([]Column, len(preds))
	for i, p := range preds {
		out[i] = p.Column()
	}
	return out
}

func hasColumn(preds []Predicate, c Column) bool {
	for _, p := range preds {
		if p.Column() == c {
			return true
		}
	}
	return false
}

func TestActivePredicatesSkipsUnrestricted(t *testing.T) {
	spec := models.FilterSpec{
		CityID:  3,
		Dates:   models.DateRange{Start: time.Unix(0, 0).UTC(), End: time.Unix(0, 0).UTC()},
		Hours:   models.HourRange{Start: 0, End: 23},
		BlockID: models.NoBlock,
	}
	got := columns(ActivePredicates(spec))
	want := []Column{ColCity, ColDate, ColPopulation}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFamilyExcludesOwnPredicate(t *testing.T) {
	spec := sampleSpec()
	cases := map[models.Family]Column{
		models.FamilyTime:     ColHour,
		models.FamilyDow:      ColDow,
		models.FamilyCategory: ColCategory,
		models.FamilyLocation: ColLocation,
	}
	all := []Column{ColCity, ColDate, ColHour, ColDow, ColCategory, ColLocation, ColPopulation}
	for family, own := range cases {
		queries := ComposeFamily(spec, family)
		if len(queries) != 1 {
			t.Fatalf("%s: got %d queries, want 1", family, len(queries))
		}
		preds := queries[0].Predicates
		if hasColumn(preds, own) {
			t.Errorf("%s keeps its own %s predicate", family, own)
		}
		for _, c := range all {
			if c != own && !hasColumn(preds, c) {
				t.Errorf("%s dropped unrelated %s predicate", family, c)
			}
		}
	}
}

func TestDateAndMapKeepAllPredicates(t *testing.T) {
	spec := sampleSpec()
	for _, family := range []models.Family{models.FamilyDate, models.FamilyMap} {
		q := ComposeFamily(spec, family)[0]
		if len(q.Predicates) != 7 {
			t.Errorf("%s: got %v", family, columns(q.Predicates))
		}
	}
}

func TestBlockScopedVariants(t *testing.T) {
	spec := sampleSpec()
	spec.BlockID = 42

	for _, family := range []models.Family{models.FamilyDate, models.FamilyTime, models.FamilyDow, models.FamilyCategory, models.FamilyLocation} {
		queries := ComposeFamily(spec, family)
		if len(queries) != 2 {
			t.Fatalf("%s: got %d queries, want 2", family, len(queries))
		}
		city, block := queries[0], queries[1]
		if city.Scope != ScopeCity || block.Scope != ScopeBlock {
			t.Errorf("%s: scopes out of order", family)
		}
		if hasColumn(city.Predicates, ColBlock) {
			t.Errorf("%s: city variant filters on block", family)
		}
		last := block.Predicates[len(block.Predicates)-1]
		if eq, ok := last.(Equals); !ok || eq.Col != ColBlock || eq.Value != int64(42) {
			t.Errorf("%s: block variant lacks block equality, got %#v", family, last)
		}
		if len(block.Predicates) != len(city.Predicates)+1 {
			t.Errorf("%s: block variant should add exactly one predicate", family)
		}
		if city.Metric == MetricCityRatio && block.Metric != MetricBlockRatio {
			t.Errorf("%s: block variant metric %d", family, block.Metric)
		}
	}

	if got := ComposeFamily(spec, models.FamilyMap); len(got) != 1 {
		t.Errorf("map: got %d queries, want 1", len(got))
	}
}

func TestComposeBundleAndUnknown(t *testing.T) {
	spec := sampleSpec()
	spec.Family = models.FamilyBundle
	queries := Compose(spec)
	if len(queries) != 2 || queries[0].Family != models.FamilyMap || queries[1].Family != models.FamilyDate {
		t.Fatalf("bundle: got %+v", queries)
	}
	spec.Family = "bogus"
	if got := Compose(spec); len(got) != 2 {
		t.Errorf("unknown selector should fall back to bundle, got %d queries", len(got))
	}
}

func TestTaxonomyDimensions(t *testing.T) {
	if got := CategoryDimensions(1); !reflect.DeepEqual(got, []Dimension{DimCategory}) {
		t.Errorf("category depth 1: %v", got)
	}
	if got := CategoryDimensions(3); !reflect.DeepEqual(got, []Dimension{DimViolence, DimOffense, DimCategory}) {
		t.Errorf("category depth 3: %v", got)
	}
	if got := LocationDimensions(2); !reflect.DeepEqual(got, []Dimension{DimLoc1, DimLoc2}) {
		t.Errorf("location depth 2: %v", got)
	}
	if got := LocationDimensions(0); len(got) != 3 {
		t.Errorf("location depth default: %v", got)
	}
}

func TestBuildSQLTimeFamily(t *testing.T) {
	spec := sampleSpec()
	spec.Categories = nil
	spec.Locations = nil
	q := ComposeFamily(spec, models.FamilyTime)[0]

	got, err := BuildSQL(q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "SELECT incident.hour, COUNT(*)::float8 / (AVG(block.population) * COUNT(DISTINCT incident.blockid)) AS value" +
		fromIncidents +
		" WHERE incident.cityid = $1 AND incident.datetime >= $2 AND incident.datetime < $3" +
		" AND incident.dow = ANY($4) AND block.population >= $5" +
		" GROUP BY incident.hour ORDER BY incident.hour"
	if got.Text != want {
		t.Errorf("text:\n got %s\nwant %s", got.Text, want)
	}
	if len(got.Args) != 5 {
		t.Fatalf("args: got %d, want 5", len(got.Args))
	}
	if got.Args[0] != int64(1) {
		t.Errorf("city arg: %#v", got.Args[0])
	}
	if end, ok := got.Args[2].(time.Time); !ok || !end.Equal(time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("end date should be exclusive next day, got %#v", got.Args[2])
	}
	if arr, ok := got.Args[3].(*pq.Int64Array); !ok || !reflect.DeepEqual([]int64(*arr), []int64{1, 2}) {
		t.Errorf("weekday arg: %#v", got.Args[3])
	}
}

func TestBuildSQLWrappingHours(t *testing.T) {
	q := Query{
		Metric:     MetricCount,
		GroupBy:    []Dimension{DimDow},
		Predicates: []Predicate{Range{Col: ColHour, Lo: 22, Hi: 2, Wrap: true}},
	}
	got, err := BuildSQL(q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(got.Text, "(incident.hour >= $1 OR incident.hour <= $2)") {
		t.Errorf("wrapping range not rendered as OR: %s", got.Text)
	}
}

func TestBuildSQLLocationTuples(t *testing.T) {
	q := Query{
		Metric:  MetricCount,
		GroupBy: LocationDimensions(3),
		Predicates: []Predicate{InSet{Col: ColLocation, Values: []interface{}{
			models.LocationKey{Key1: "A", Key2: "B", Key3: "C"},
			models.LocationKey{Key1: "D", Key2: "E", Key3: "F"},
		}}},
	}
	got, err := BuildSQL(q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(got.Text, locationTuple+" IN (($1, $2, $3), ($4, $5, $6))") {
		t.Errorf("tuple clause missing: %s", got.Text)
	}
	if !reflect.DeepEqual(got.Args, []interface{}{"A", "B", "C", "D", "E", "F"}) {
		t.Errorf("args: %v", got.Args)
	}
	if !strings.HasSuffix(got.Text, "ORDER BY locdesctype.key1, locdesctype.key2, locdesctype.key3") {
		t.Errorf("rows must be ordered by taxonomy: %s", got.Text)
	}
}

func TestBuildSQLRejectsEmptyGrouping(t *testing.T) {
	if _, err := BuildSQL(Query{}); err != ErrNoDimensions {
		t.Errorf("got %v, want ErrNoDimensions", err)
	}
}

func TestBuildExportSQL(t *testing.T) {
	spec := sampleSpec()
	spec.BlockID = 7
	got, err := BuildExportSQL(ExportPredicates(spec))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(got.Text, "block.population") || strings.Contains(got.Text, "incident.blockid =") {
		t.Errorf("export must not filter on block or population: %s", got.Text)
	}
	if !strings.Contains(got.Text, "crimetype.category = ANY(") {
		t.Errorf("export should filter categories: %s", got.Text)
	}
	if strings.Contains(got.Text, "JOIN block") {
		t.Errorf("export must keep incidents without a block row: %s", got.Text)
	}
	if !strings.Contains(got.Text, "INNER JOIN city ON incident.cityid = city.id") {
		t.Errorf("export needs city columns: %s", got.Text)
	}
}

func TestBuildCeilingSQL(t *testing.T) {
	got, err := BuildCeilingSQL(CeilingPredicates(5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(got.Text, "GROUP BY incident.blockid, incident.year, incident.month, incident.dow, incident.hour") {
		t.Errorf("ceiling grouping: %s", got.Text)
	}
	if !reflect.DeepEqual(got.Args, []interface{}{int64(5), 1}) {
		t.Errorf("args: %v", got.Args)
	}
}

func TestDatePredicateClampsUnboundedEnd(t *testing.T) {
	spec := models.FilterSpec{
		CityID: 1,
		Dates: models.DateRange{
			Start: time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC),
		},
	}
	date := PeriodPredicates(spec)[1].(Range)
	if hi := date.Hi.(time.Time); !hi.Equal(LatestDate) {
		t.Errorf("upper bound: got %v, want %v", hi, LatestDate)
	}
	if _, err := json.Marshal(date); err != nil {
		t.Errorf("date bounds must encode: %v", err)
	}

	spec.Dates.End = time.Date(2018, time.December, 31, 0, 0, 0, 0, time.UTC)
	date = PeriodPredicates(spec)[1].(Range)
	if hi := date.Hi.(time.Time); !hi.Equal(time.Date(2019, time.January, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("inclusive end: got %v", hi)
	}
}
