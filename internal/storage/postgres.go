package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/akozadaev/go_crime_analytical_system/internal/models"
	"github.com/akozadaev/go_crime_analytical_system/internal/pipeline"
	"github.com/akozadaev/go_crime_analytical_system/internal/query"
	_ "github.com/lib/pq"
)

// PostgresStorage предоставляет доступ к таблицам происшествий в PostgreSQL.
type PostgresStorage struct {
	db *sql.DB // Подключение к базе данных PostgreSQL
}

// NewPostgresStorage создает новый экземпляр PostgresStorage и устанавливает подключение к БД.
// DSN должен быть в формате: "host=... port=... user=... password=... dbname=... sslmode=..."
// Пока база поднимается, ping повторяется несколько раз.
func NewPostgresStorage(dsn string) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStorage{db: db}, nil
}

// NewPostgresStorageFromDB оборачивает уже открытое подключение.
func NewPostgresStorageFromDB(db *sql.DB) *PostgresStorage {
	return &PostgresStorage{db: db}
}

// DB возвращает пул подключений для других хранилищ той же базы.
func (ps *PostgresStorage) DB() *sql.DB {
	return ps.db
}

// Close закрывает подключение к базе данных PostgreSQL.
func (ps *PostgresStorage) Close() error {
	return ps.db.Close()
}

// GetCities возвращает список городов, отсортированный по названию.
func (ps *PostgresStorage) GetCities(ctx context.Context) ([]*models.City, error) {
	q := `SELECT id, city, COALESCE(state, ''), country FROM city ORDER BY city, state`

	rows, err := ps.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query cities: %w", err)
	}
	defer rows.Close()

	var cities []*models.City
	for rows.Next() {
		var c models.City
		if err := rows.Scan(&c.ID, &c.City, &c.State, &c.Country); err != nil {
			return nil, fmt.Errorf("failed to scan city: %w", err)
		}
		cities = append(cities, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return cities, nil
}

// Acquire выделяет отдельное подключение на время одного задания.
func (ps *PostgresStorage) Acquire(ctx context.Context) (pipeline.Session, error) {
	conn, err := ps.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return &pgSession{conn: conn}, nil
}

// pgSession выполняет запросы задания на одном подключении.
type pgSession struct {
	conn *sql.Conn
}

func (s *pgSession) Close() error {
	return s.conn.Close()
}

// Aggregate выполняет сгруппированный агрегат и раскладывает измерения по полям корзины.
func (s *pgSession) Aggregate(ctx context.Context, q query.Query) ([]models.Bucket, error) {
	stmt, err := query.BuildSQL(q)
	if err != nil {
		return nil, fmt.Errorf("failed to build aggregate: %w", err)
	}

	rows, err := s.conn.QueryContext(ctx, stmt.Text, stmt.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s aggregate: %w", q.Family, err)
	}
	defer rows.Close()

	buckets := make([]models.Bucket, 0)
	for rows.Next() {
		b, err := scanBucket(rows, q.GroupBy)
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return buckets, nil
}

func scanBucket(rows *sql.Rows, dims []query.Dimension) (models.Bucket, error) {
	var b models.Bucket
	keys := make([]sql.NullString, 0, len(dims))
	targets := make([]interface{}, 0, len(dims)+1)
	for _, d := range dims {
		switch d {
		case query.DimBlock:
			targets = append(targets, &b.BlockID)
		case query.DimYear:
			targets = append(targets, &b.Year)
		case query.DimMonth:
			targets = append(targets, &b.Month)
		case query.DimHour:
			targets = append(targets, &b.Hour)
		case query.DimDow:
			targets = append(targets, &b.Dow)
		default:
			keys = append(keys, sql.NullString{})
			targets = append(targets, &keys[len(keys)-1])
		}
	}
	var value sql.NullFloat64
	targets = append(targets, &value)

	if err := rows.Scan(targets...); err != nil {
		return models.Bucket{}, fmt.Errorf("failed to scan bucket: %w", err)
	}
	if len(keys) > 0 {
		b.Keys = make([]string, len(keys))
		for i, k := range keys {
			b.Keys[i] = k.String
		}
	}
	b.Value = value.Float64
	return b, nil
}

// CountPeriods возвращает число различных периодов (год, месяц) с происшествиями.
func (s *pgSession) CountPeriods(ctx context.Context, preds []query.Predicate) (int, error) {
	stmt, err := query.BuildPeriodCountSQL(preds)
	if err != nil {
		return 0, fmt.Errorf("failed to build period count: %w", err)
	}
	var n int
	if err := s.conn.QueryRowContext(ctx, stmt.Text, stmt.Args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count periods: %w", err)
	}
	return n, nil
}

// MaxSeverityRatio возвращает максимальное отношение суммарной тяжести к населению.
func (s *pgSession) MaxSeverityRatio(ctx context.Context, preds []query.Predicate) (float64, error) {
	stmt, err := query.BuildCeilingSQL(preds)
	if err != nil {
		return 0, fmt.Errorf("failed to build ceiling query: %w", err)
	}
	var ratio float64
	if err := s.conn.QueryRowContext(ctx, stmt.Text, stmt.Args...).Scan(&ratio); err != nil {
		return 0, fmt.Errorf("failed to query severity ceiling: %w", err)
	}
	return ratio, nil
}

// ExportIncidents передает строки выгрузки в fn по одной, не накапливая их в памяти.
func (s *pgSession) ExportIncidents(ctx context.Context, preds []query.Predicate, fn func(models.IncidentRow) error) error {
	stmt, err := query.BuildExportSQL(preds)
	if err != nil {
		return fmt.Errorf("failed to build export query: %w", err)
	}

	rows, err := s.conn.QueryContext(ctx, stmt.Text, stmt.Args...)
	if err != nil {
		return fmt.Errorf("failed to query incidents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r models.IncidentRow
		var loc1, loc2, loc3 sql.NullString
		if err := rows.Scan(
			&r.City,
			&r.State,
			&r.Country,
			&r.Timestamp,
			&r.Latitude,
			&r.Longitude,
			&r.Category,
			&loc1,
			&loc2,
			&loc3,
		); err != nil {
			return fmt.Errorf("failed to scan incident: %w", err)
		}
		r.Location1, r.Location2, r.Location3 = loc1.String, loc2.String, loc3.String
		if err := fn(r); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating rows: %w", err)
	}
	return nil
}

const incidentDocsQuery = `SELECT incident.id, incident.cityid, incident.blockid, COALESCE(block.population, 0),
	incident.datetime, incident.year, incident.month, incident.hour, incident.dow,
	crimetype.category, crimetype.violence, crimetype.ppo, crimetype.severity,
	locdesctype.key1, locdesctype.key2, locdesctype.key3,
	city.city, COALESCE(city.state, ''), city.country,
	ST_Y(incident.location), ST_X(incident.location)
FROM incident
LEFT JOIN block ON incident.blockid = block.id
INNER JOIN crimetype ON incident.crimetypeid = crimetype.id
INNER JOIN locdesctype ON incident.locdescid = locdesctype.id
INNER JOIN city ON incident.cityid = city.id
WHERE incident.id > $1
ORDER BY incident.id
LIMIT $2`

// StreamIncidentDocs читает происшествия пачками по batch строк, упорядоченно по id,
// и передает каждую пачку в fn. Используется индексатором Elasticsearch.
func (ps *PostgresStorage) StreamIncidentDocs(ctx context.Context, batch int, fn func([]models.IncidentDoc) error) (int, error) {
	if batch < 1 {
		batch = 1000
	}
	var lastID int64
	total := 0
	for {
		docs, err := ps.incidentDocs(ctx, lastID, batch)
		if err != nil {
			return total, err
		}
		if len(docs) == 0 {
			return total, nil
		}
		if err := fn(docs); err != nil {
			return total, err
		}
		total += len(docs)
		lastID = docs[len(docs)-1].IncidentID
		if len(docs) < batch {
			return total, nil
		}
	}
}

func (ps *PostgresStorage) incidentDocs(ctx context.Context, afterID int64, limit int) ([]models.IncidentDoc, error) {
	rows, err := ps.db.QueryContext(ctx, incidentDocsQuery, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query incident documents: %w", err)
	}
	defer rows.Close()

	var docs []models.IncidentDoc
	for rows.Next() {
		var d models.IncidentDoc
		var loc1, loc2, loc3 sql.NullString
		if err := rows.Scan(
			&d.IncidentID, &d.CityID, &d.BlockID, &d.Population,
			&d.Datetime, &d.Year, &d.Month, &d.Hour, &d.Dow,
			&d.Category, &d.Violence, &d.Offense, &d.Severity,
			&loc1, &loc2, &loc3,
			&d.City, &d.State, &d.Country,
			&d.Location.Lat, &d.Location.Lon,
		); err != nil {
			return nil, fmt.Errorf("failed to scan incident document: %w", err)
		}
		d.LocKey1, d.LocKey2, d.LocKey3 = loc1.String, loc2.String, loc3.String
		d.Period = fmt.Sprintf("%04d-%02d", d.Year, d.Month)
		docs = append(docs, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return docs, nil
}
