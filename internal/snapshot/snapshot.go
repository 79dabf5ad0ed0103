// Package snapshot reads and writes the Parquet snapshot of surviving records
// through an in-memory DuckDB.
package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // register duckdb driver
	"github.com/rotisserie/eris"

	"github.com/sells-group/foodgeo/internal/model"
)

const createTable = `CREATE TABLE products (
	code             VARCHAR NOT NULL,
	product_name     VARCHAR,
	brands           VARCHAR,
	categories       VARCHAR,
	countries        VARCHAR,
	nutriscore_grade VARCHAR,
	stores           VARCHAR,
	energy_100g      DOUBLE,
	sugars_100g      DOUBLE,
	fat_100g         DOUBLE,
	salt_100g        DOUBLE,
	nova_group       DOUBLE,
	latitude         DOUBLE,
	longitude        DOUBLE,
	geo_label        VARCHAR,
	geo_city         VARCHAR,
	h3_cell          VARCHAR,
	sugar_category   VARCHAR,
	is_geocoded      BOOLEAN NOT NULL,
	ingested_at      TIMESTAMP NOT NULL
)`

const columns = `code, product_name, brands, categories, countries, nutriscore_grade, stores,
	energy_100g, sugars_100g, fat_100g, salt_100g, nova_group,
	latitude, longitude, geo_label, geo_city, h3_cell, sugar_category, is_geocoded, ingested_at`

// Write stores records at path as a ZSTD-compressed Parquet file, one row per
// record, and returns the row count. An existing file at path is replaced.
func Write(ctx context.Context, path string, records []model.CleanRecord) (int, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return 0, eris.Wrap(err, "snapshot: open duckdb")
	}
	defer db.Close() //nolint:errcheck

	if _, err := db.ExecContext(ctx, createTable); err != nil {
		return 0, eris.Wrap(err, "snapshot: create table")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "snapshot: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", 20), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO products (%s) VALUES (%s)", columns, placeholders))
	if err != nil {
		return 0, eris.Wrap(err, "snapshot: prepare insert")
	}
	defer stmt.Close() //nolint:errcheck

	for i := range records {
		r := &records[i]
		_, err := stmt.ExecContext(ctx,
			r.Code, r.ProductName.Arg(), r.Brands.Arg(), r.Categories.Arg(), r.Countries.Arg(),
			r.NutriscoreGrade.Arg(), r.Stores.Arg(),
			r.Energy.Arg(), r.Sugars.Arg(), r.Fat.Arg(), r.Salt.Arg(), r.NovaGroup.Arg(),
			r.Latitude.Arg(), r.Longitude.Arg(), optional(r.GeoLabel), optional(r.GeoCity), optional(r.H3Cell),
			r.SugarCategory().Arg(), r.Geocoded(), r.IngestedAt.UTC(),
		)
		if err != nil {
			return 0, eris.Wrapf(err, "snapshot: insert %s", r.Code)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "snapshot: commit")
	}

	copySQL := fmt.Sprintf("COPY (SELECT * FROM products ORDER BY code) TO %s (FORMAT PARQUET, COMPRESSION ZSTD)", quote(path))
	if _, err := db.ExecContext(ctx, copySQL); err != nil {
		return 0, eris.Wrapf(err, "snapshot: write parquet %s", path)
	}
	return len(records), nil
}

// Read loads a snapshot written by Write. A missing file yields no records
// and no error.
func Read(ctx context.Context, path string) ([]model.CleanRecord, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, eris.Wrapf(err, "snapshot: stat %s", path)
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: open duckdb")
	}
	defer db.Close() //nolint:errcheck

	query := fmt.Sprintf("SELECT %s FROM read_parquet(%s) ORDER BY code", columns, quote(path))
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrapf(err, "snapshot: read parquet %s", path)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CleanRecord
	for rows.Next() {
		var (
			r                                   model.CleanRecord
			name, brands, cats, countries, nutr sql.NullString
			stores, label, city, cell, sugarCat sql.NullString
			energy, sugars, fat, salt, nova     sql.NullFloat64
			lat, lon                            sql.NullFloat64
			geocoded                            bool
			ingested                            time.Time
		)
		err := rows.Scan(&r.Code, &name, &brands, &cats, &countries, &nutr, &stores,
			&energy, &sugars, &fat, &salt, &nova,
			&lat, &lon, &label, &city, &cell, &sugarCat, &geocoded, &ingested)
		if err != nil {
			return nil, eris.Wrap(err, "snapshot: scan row")
		}
		r.ProductName, r.Brands, r.Categories = text(name), text(brands), text(cats)
		r.Countries, r.NutriscoreGrade, r.Stores = text(countries), text(nutr), text(stores)
		r.Energy, r.Sugars, r.Fat, r.Salt, r.NovaGroup = num(energy), num(sugars), num(fat), num(salt), num(nova)
		r.Latitude, r.Longitude = num(lat), num(lon)
		r.GeoLabel, r.GeoCity, r.H3Cell = label.String, city.String, cell.String
		r.IngestedAt = ingested.UTC()
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "snapshot: iterate rows")
}

// Merge overlays fresh on prior: a fresh record replaces the prior record
// with the same code. The result is ordered by code.
func Merge(prior, fresh []model.CleanRecord) []model.CleanRecord {
	byCode := make(map[string]model.CleanRecord, len(prior)+len(fresh))
	for _, r := range prior {
		byCode[r.Code] = r
	}
	for _, r := range fresh {
		byCode[r.Code] = r
	}
	out := make([]model.CleanRecord, 0, len(byCode))
	for _, r := range byCode {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func text(s sql.NullString) model.Text {
	return model.Text{Value: s.String, Valid: s.Valid}
}

func num(f sql.NullFloat64) model.Number {
	return model.Number{Value: f.Float64, Valid: f.Valid}
}
