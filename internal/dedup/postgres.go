package dedup

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/casaops/harvester/internal/listing"
)

// Connection pool settings for the aggregate database.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 5 * time.Minute
	DefaultPingTimeout     = 5 * time.Second
)

// Schema creates the aggregate tables. Applied by the operator, not by
// the pipeline.
const Schema = `
CREATE TABLE IF NOT EXISTS listings (
	fingerprint   TEXT PRIMARY KEY,
	title         TEXT NOT NULL,
	price         DOUBLE PRECISION NOT NULL,
	currency      TEXT NOT NULL DEFAULT '',
	area          TEXT NOT NULL DEFAULT '',
	district      TEXT NOT NULL DEFAULT '',
	region        TEXT NOT NULL DEFAULT '',
	property_type TEXT NOT NULL DEFAULT '',
	bedrooms      INTEGER NOT NULL DEFAULT 0,
	bathrooms     INTEGER NOT NULL DEFAULT 0,
	media_urls    JSONB NOT NULL DEFAULT '[]',
	coordinates   JSONB,
	description   TEXT NOT NULL DEFAULT '',
	contact       TEXT NOT NULL DEFAULT '',
	quality_score INTEGER NOT NULL,
	source_url    TEXT NOT NULL,
	site_key      TEXT NOT NULL,
	fetched_at    TIMESTAMPTZ NOT NULL,
	first_seen    TIMESTAMPTZ NOT NULL,
	last_seen     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS price_changes (
	id          BIGSERIAL PRIMARY KEY,
	fingerprint TEXT NOT NULL REFERENCES listings (fingerprint),
	old_price   DOUBLE PRECISION NOT NULL,
	new_price   DOUBLE PRECISION NOT NULL,
	changed_at  TIMESTAMPTZ NOT NULL,
	run_id      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS price_changes_fingerprint_idx
	ON price_changes (fingerprint, changed_at);
`

// NewPostgresConnection opens and verifies a connection to the aggregate
// database.
func NewPostgresConnection(databaseURL string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), DefaultPingTimeout)
	defer cancel()

	if pingErr := db.PingContext(ctx); pingErr != nil {
		return nil, fmt.Errorf("failed to ping database: %w", pingErr)
	}

	return db, nil
}

// PostgresStore is the durable Store backed by the aggregate database.
// Row locking on the fingerprint serializes concurrent merges of the
// same entity.
type PostgresStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewPostgresStore creates a store over an open connection.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// listingRow is the flat database shape of an entry.
type listingRow struct {
	Fingerprint  string          `db:"fingerprint"`
	Title        string          `db:"title"`
	Price        float64         `db:"price"`
	Currency     string          `db:"currency"`
	Area         string          `db:"area"`
	District     string          `db:"district"`
	Region       string          `db:"region"`
	PropertyType string          `db:"property_type"`
	Bedrooms     int             `db:"bedrooms"`
	Bathrooms    int             `db:"bathrooms"`
	MediaURLs    json.RawMessage `db:"media_urls"`
	Coordinates  json.RawMessage `db:"coordinates"`
	Description  string          `db:"description"`
	Contact      string          `db:"contact"`
	QualityScore int             `db:"quality_score"`
	SourceURL    string          `db:"source_url"`
	SiteKey      string          `db:"site_key"`
	FetchedAt    time.Time       `db:"fetched_at"`
	FirstSeen    time.Time       `db:"first_seen"`
	LastSeen     time.Time       `db:"last_seen"`
}

// Merge implements Store.
func (s *PostgresStore) Merge(ctx context.Context, l *listing.NormalizedListing, runID string) (Outcome, error) {
	if l.Fingerprint == "" {
		return "", ErrEmptyFingerprint
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin merge transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()

	var currentPrice float64
	err = tx.GetContext(ctx, &currentPrice,
		`SELECT price FROM listings WHERE fingerprint = $1 FOR UPDATE`, l.Fingerprint)

	outcome := OutcomeUpdated
	switch {
	case errors.Is(err, sql.ErrNoRows):
		outcome = OutcomeInserted
	case err != nil:
		return "", fmt.Errorf("failed to look up fingerprint: %w", err)
	case currentPrice != l.Price:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO price_changes (fingerprint, old_price, new_price, changed_at, run_id)
			 VALUES ($1, $2, $3, $4, $5)`,
			l.Fingerprint, currentPrice, l.Price, now, runID)
		if err != nil {
			return "", fmt.Errorf("failed to record price change: %w", err)
		}
	}

	media, err := json.Marshal(l.MediaURLs)
	if err != nil {
		return "", fmt.Errorf("failed to encode media urls: %w", err)
	}
	var coords []byte
	if l.Coordinates != nil {
		if coords, err = json.Marshal(l.Coordinates); err != nil {
			return "", fmt.Errorf("failed to encode coordinates: %w", err)
		}
	}

	// first_seen is set on insert and never touched again.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO listings (
			fingerprint, title, price, currency, area, district, region,
			property_type, bedrooms, bathrooms, media_urls, coordinates,
			description, contact, quality_score, source_url, site_key,
			fetched_at, first_seen, last_seen
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $19
		)
		ON CONFLICT (fingerprint) DO UPDATE SET
			title = EXCLUDED.title,
			price = EXCLUDED.price,
			currency = EXCLUDED.currency,
			area = EXCLUDED.area,
			district = EXCLUDED.district,
			region = EXCLUDED.region,
			property_type = EXCLUDED.property_type,
			bedrooms = EXCLUDED.bedrooms,
			bathrooms = EXCLUDED.bathrooms,
			media_urls = EXCLUDED.media_urls,
			coordinates = EXCLUDED.coordinates,
			description = EXCLUDED.description,
			contact = EXCLUDED.contact,
			quality_score = EXCLUDED.quality_score,
			source_url = EXCLUDED.source_url,
			site_key = EXCLUDED.site_key,
			fetched_at = EXCLUDED.fetched_at,
			last_seen = EXCLUDED.last_seen`,
		l.Fingerprint, l.Title, l.Price, l.Currency, l.Area, l.District, l.Region,
		l.PropertyType, l.Bedrooms, l.Bathrooms, media, coords,
		l.Description, l.Contact, l.QualityScore, l.SourceURL, l.SiteKey,
		l.FetchedAt, now)
	if err != nil {
		return "", fmt.Errorf("failed to upsert listing: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit merge: %w", err)
	}
	return outcome, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, fingerprint string) (*Entry, error) {
	var row listingRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM listings WHERE fingerprint = $1`, fingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load listing: %w", err)
	}

	entry, err := row.toEntry()
	if err != nil {
		return nil, err
	}

	err = s.db.SelectContext(ctx, &entry.PriceHistory,
		`SELECT old_price, new_price, changed_at, run_id
		 FROM price_changes WHERE fingerprint = $1 ORDER BY changed_at`, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to load price history: %w", err)
	}

	return entry, nil
}

// Count implements Store.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM listings`); err != nil {
		return 0, fmt.Errorf("failed to count listings: %w", err)
	}
	return n, nil
}

func (r *listingRow) toEntry() (*Entry, error) {
	entry := &Entry{
		Fingerprint: r.Fingerprint,
		FirstSeen:   r.FirstSeen,
		LastSeen:    r.LastSeen,
		Listing: listing.NormalizedListing{
			Title:        r.Title,
			Price:        r.Price,
			Currency:     r.Currency,
			Area:         r.Area,
			District:     r.District,
			Region:       r.Region,
			PropertyType: r.PropertyType,
			Bedrooms:     r.Bedrooms,
			Bathrooms:    r.Bathrooms,
			Description:  r.Description,
			Contact:      r.Contact,
			QualityScore: r.QualityScore,
			SourceURL:    r.SourceURL,
			SiteKey:      r.SiteKey,
			Fingerprint:  r.Fingerprint,
			FetchedAt:    r.FetchedAt,
		},
	}

	if len(r.MediaURLs) > 0 {
		if err := json.Unmarshal(r.MediaURLs, &entry.Listing.MediaURLs); err != nil {
			return nil, fmt.Errorf("failed to decode media urls: %w", err)
		}
	}
	if len(r.Coordinates) > 0 {
		if err := json.Unmarshal(r.Coordinates, &entry.Listing.Coordinates); err != nil {
			return nil, fmt.Errorf("failed to decode coordinates: %w", err)
		}
	}

	return entry, nil
}
