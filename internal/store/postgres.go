package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"env-dashboard/internal/reading"
)

// Schéma se zakládá při startu (idempotentně).
// Index (device_id, reading_date DESC, id DESC) odpovídá pořadí "od nejnovějšího",
// takže dotazy na posledních N i DISTINCT ON běží přímo z indexu.
const schema = `
CREATE TABLE IF NOT EXISTS readings (
	id           BIGSERIAL PRIMARY KEY,
	device_id    INTEGER          NOT NULL,
	temperature  DOUBLE PRECISION NOT NULL,
	pressure     DOUBLE PRECISION NOT NULL,
	humidity     DOUBLE PRECISION NOT NULL,
	reading_date TIMESTAMPTZ      NOT NULL
);
CREATE INDEX IF NOT EXISTS readings_device_date_idx
	ON readings (device_id, reading_date DESC, id DESC);
`

const readingColumns = `id, device_id, temperature, pressure, humidity, reading_date`

// Postgres je úložiště nad PostgreSQL/TimescaleDB.
// Výchozí izolace Postgresu je READ COMMITTED, což přesně odpovídá kontraktu Store.
type Postgres struct {
	pool *pgxpool.Pool // pgxpool je thread-safe, sdílí ho všechny goroutiny
}

// NewPostgres se připojí, ověří spojení (Ping) a založí schéma.
func NewPostgres(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("chyba konfigurace DB: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("DB není dostupná: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("nelze založit schéma: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) Insert(ctx context.Context, r reading.Reading) (reading.Reading, error) {
	if err := r.Validate(0); err != nil {
		return reading.Reading{}, err
	}
	query := `
		INSERT INTO readings (device_id, temperature, pressure, humidity, reading_date)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := p.pool.QueryRow(ctx, query, r.DeviceID, r.Temperature, r.Pressure, r.Humidity, r.ReadingDate).Scan(&r.Seq)
	if err != nil {
		return reading.Reading{}, storageErr("insert", err)
	}
	return r, nil
}

func (p *Postgres) QueryByDevice(ctx context.Context, deviceID int) ([]reading.Reading, error) {
	query := `SELECT ` + readingColumns + ` FROM readings WHERE device_id = $1`
	return p.collect(ctx, "query", query, deviceID)
}

func (p *Postgres) QueryRecent(ctx context.Context, deviceID, count int) ([]reading.Reading, error) {
	if count < 1 {
		count = 1
	}
	query := `
		SELECT ` + readingColumns + `
		FROM readings
		WHERE device_id = $1
		ORDER BY reading_date DESC, id DESC
		LIMIT $2
	`
	return p.collect(ctx, "query recent", query, deviceID, count)
}

func (p *Postgres) QueryWindow(ctx context.Context, deviceID int, from, to time.Time) ([]reading.Reading, error) {
	if to.IsZero() {
		query := `
			SELECT ` + readingColumns + `
			FROM readings
			WHERE device_id = $1 AND reading_date >= $2
			ORDER BY reading_date ASC, id ASC
		`
		return p.collect(ctx, "query window", query, deviceID, from)
	}
	query := `
		SELECT ` + readingColumns + `
		FROM readings
		WHERE device_id = $1 AND reading_date >= $2 AND reading_date < $3
		ORDER BY reading_date ASC, id ASC
	`
	return p.collect(ctx, "query window", query, deviceID, from, to)
}

func (p *Postgres) QueryLatestAll(ctx context.Context) (map[int]reading.Reading, error) {
	// DISTINCT ON vezme z každé skupiny device_id první řádek podle ORDER BY.
	query := `
		SELECT DISTINCT ON (device_id) ` + readingColumns + `
		FROM readings
		ORDER BY device_id, reading_date DESC, id DESC
	`
	rows, err := p.collect(ctx, "query latest", query)
	if err != nil {
		return nil, err
	}
	out := make(map[int]reading.Reading, len(rows))
	for _, r := range rows {
		out[r.DeviceID] = r
	}
	return out, nil
}

func (p *Postgres) DeleteByDevice(ctx context.Context, deviceID int) (bool, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM readings WHERE device_id = $1`, deviceID)
	if err != nil {
		return false, storageErr("delete", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) DeleteAll(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM readings`); err != nil {
		return storageErr("delete all", err)
	}
	return nil
}

// collect provede dotaz a naskenuje řádky. Vždy vrací ne-nil slice (JSON "[]", ne "null").
func (p *Postgres) collect(ctx context.Context, op, query string, args ...any) ([]reading.Reading, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close() // vrací spojení zpět do poolu

	out, err := pgx.CollectRows(rows, scanReading)
	if err != nil {
		return nil, storageErr(op, err)
	}
	if out == nil {
		out = []reading.Reading{}
	}
	return out, nil
}

func scanReading(row pgx.CollectableRow) (reading.Reading, error) {
	var r reading.Reading
	err := row.Scan(&r.Seq, &r.DeviceID, &r.Temperature, &r.Pressure, &r.Humidity, &r.ReadingDate)
	r.ReadingDate = r.ReadingDate.UTC()
	return r, err
}
