package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"car-scraper/models"
	"car-scraper/utils"
)

const (
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
	pingTimeout            = 5 * time.Second
)

const listingColumns = `id, title, price, currency, brand, model, year, mileage, location,
	image_refs, detail_url, description, posted_at, first_seen_at, last_seen_at, active,
	created_at, updated_at`

const listingOrder = `ORDER BY posted_at DESC NULLS LAST, last_seen_at DESC, id`

const runColumns = `id, started_at, completed_at, found, added, updated, deactivated, skipped,
	status, error_detail`

// PostgresStore persists listings and runs in PostgreSQL.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore connects, waits for the database to accept pings and
// migrates the schema.
func NewPostgresStore(ctx context.Context, dsn string, retry *utils.RetryConfig) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)

	if retry == nil {
		retry = &utils.RetryConfig{MaxAttempts: 1}
	}
	err = retry.Do(ctx, "postgres ping", func() error {
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		return db.PingContext(pctx)
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return s, nil
}

// NewPostgresStoreFromDB wraps an existing handle without migrating.
func NewPostgresStoreFromDB(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the tables and indexes if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS listings (
			id            TEXT PRIMARY KEY,
			title         VARCHAR(255)  NOT NULL,
			price         NUMERIC(12,2),
			currency      VARCHAR(3),
			brand         TEXT,
			model         TEXT,
			year          INTEGER,
			mileage       INTEGER CHECK (mileage >= 0),
			location      TEXT,
			image_refs    TEXT[]        NOT NULL DEFAULT '{}',
			detail_url    TEXT          NOT NULL,
			description   VARCHAR(1000) NOT NULL DEFAULT '',
			posted_at     TIMESTAMPTZ,
			first_seen_at TIMESTAMPTZ   NOT NULL,
			last_seen_at  TIMESTAMPTZ   NOT NULL,
			active        BOOLEAN       NOT NULL DEFAULT TRUE,
			created_at    TIMESTAMPTZ   NOT NULL DEFAULT NOW(),
			updated_at    TIMESTAMPTZ   NOT NULL DEFAULT NOW(),
			CHECK (last_seen_at >= first_seen_at)
		);

		CREATE INDEX IF NOT EXISTS idx_listings_active    ON listings(active);
		CREATE INDEX IF NOT EXISTS idx_listings_brand     ON listings(brand);
		CREATE INDEX IF NOT EXISTS idx_listings_price     ON listings(price);
		CREATE INDEX IF NOT EXISTS idx_listings_posted_at ON listings(posted_at);
		CREATE INDEX IF NOT EXISTS idx_listings_last_seen ON listings(last_seen_at);

		CREATE TABLE IF NOT EXISTS scrape_runs (
			id           UUID PRIMARY KEY,
			started_at   TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			found        INTEGER NOT NULL DEFAULT 0,
			added        INTEGER NOT NULL DEFAULT 0,
			updated      INTEGER NOT NULL DEFAULT 0,
			deactivated  INTEGER NOT NULL DEFAULT 0,
			skipped      INTEGER NOT NULL DEFAULT 0,
			status       VARCHAR(16) NOT NULL,
			error_detail TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_scrape_runs_started ON scrape_runs(started_at);
	`)
	return err
}

type listingRow struct {
	ID          string              `db:"id"`
	Title       string              `db:"title"`
	Price       decimal.NullDecimal `db:"price"`
	Currency    sql.NullString      `db:"currency"`
	Brand       sql.NullString      `db:"brand"`
	Model       sql.NullString      `db:"model"`
	Year        sql.NullInt64       `db:"year"`
	Mileage     sql.NullInt64       `db:"mileage"`
	Location    sql.NullString      `db:"location"`
	ImageRefs   pq.StringArray      `db:"image_refs"`
	DetailURL   string              `db:"detail_url"`
	Description string              `db:"description"`
	PostedAt    sql.NullTime        `db:"posted_at"`
	FirstSeenAt time.Time           `db:"first_seen_at"`
	LastSeenAt  time.Time           `db:"last_seen_at"`
	Active      bool                `db:"active"`
	CreatedAt   time.Time           `db:"created_at"`
	UpdatedAt   time.Time           `db:"updated_at"`
}

func (r *listingRow) toModel() *models.Listing {
	l := &models.Listing{
		ID:          r.ID,
		Title:       r.Title,
		Brand:       nullString(r.Brand),
		Model:       nullString(r.Model),
		Year:        nullInt(r.Year),
		Mileage:     nullInt(r.Mileage),
		Location:    nullString(r.Location),
		ImageRefs:   []string(r.ImageRefs),
		DetailURL:   r.DetailURL,
		Description: r.Description,
		FirstSeenAt: r.FirstSeenAt,
		LastSeenAt:  r.LastSeenAt,
		Active:      r.Active,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if l.ImageRefs == nil {
		l.ImageRefs = []string{}
	}
	if r.Price.Valid {
		cur := models.DefaultCurrency
		if r.Currency.Valid && r.Currency.String != "" {
			cur = r.Currency.String
		}
		l.Price = &models.Price{Amount: r.Price.Decimal, Currency: cur}
	}
	if r.PostedAt.Valid {
		t := r.PostedAt.Time
		l.PostedAt = &t
	}
	return l
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

// listingArgs returns the column values in listingColumns order.
func listingArgs(l *models.Listing) []any {
	var price decimal.NullDecimal
	var currency sql.NullString
	if l.Price != nil {
		price = decimal.NewNullDecimal(l.Price.Amount)
		currency = sql.NullString{String: l.Price.Currency, Valid: true}
	}
	refs := l.ImageRefs
	if refs == nil {
		refs = []string{}
	}
	return []any{
		l.ID, l.Title, price, currency,
		optString(l.Brand), optString(l.Model), optInt(l.Year), optInt(l.Mileage), optString(l.Location),
		pq.StringArray(refs), l.DetailURL, l.Description, optTime(l.PostedAt),
		l.FirstSeenAt, l.LastSeenAt, l.Active,
	}
}

func optString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func optInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func optTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (s *PostgresStore) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	var row listingRow
	err := s.db.GetContext(ctx, &row, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get listing %s: %w", id, err)
	}
	return row.toModel(), nil
}

func (s *PostgresStore) InsertListing(ctx context.Context, l *models.Listing) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO listings (id, title, price, currency, brand, model, year, mileage, location,
			image_refs, detail_url, description, posted_at, first_seen_at, last_seen_at, active,
			created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$14,$15)`,
		listingArgs(l)...)
	if err != nil {
		return fmt.Errorf("postgres: insert listing %s: %w", l.ID, err)
	}
	return nil
}

// UpdateListing rewrites every mutable column. first_seen_at and
// created_at are never touched.
func (s *PostgresStore) UpdateListing(ctx context.Context, l *models.Listing) error {
	args := listingArgs(l)
	// drop first_seen_at; the update binds last_seen_at and active only
	args = append(args[:13], args[14:]...)
	res, err := s.db.ExecContext(ctx, `
		UPDATE listings SET
			title = $2, price = $3, currency = $4, brand = $5, model = $6, year = $7,
			mileage = $8, location = $9,
			image_refs = CASE
				WHEN cardinality($10::text[]) > 0 AND cardinality($10::text[]) >= cardinality(image_refs) THEN $10
				ELSE image_refs END,
			detail_url = $11, description = $12,
			posted_at = COALESCE(posted_at, $13), last_seen_at = $14, active = $15, updated_at = $14
		WHERE id = $1`, args...)
	if err != nil {
		return fmt.Errorf("postgres: update listing %s: %w", l.ID, err)
	}
	return requireRows(res)
}

func (s *PostgresStore) DeactivateMissing(ctx context.Context, seen []string, now time.Time) (int, error) {
	if seen == nil {
		seen = []string{}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE listings SET active = FALSE, updated_at = $2
		WHERE active AND NOT (id = ANY($1))`, pq.Array(seen), now)
	if err != nil {
		return 0, fmt.Errorf("postgres: deactivate missing: %w", err)
	}
	return affected(res)
}

// likeEscaper makes user input match literally inside a LIKE pattern;
// backslash is the default escape character.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// buildFilter renders the WHERE clause for q with positional args.
func buildFilter(q models.ListingQuery) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if q.ActiveOnly {
		conds = append(conds, "active")
	}
	if q.Brand != "" {
		add("brand ILIKE $%d", "%"+likeEscaper.Replace(q.Brand)+"%")
	}
	if q.Model != "" {
		add("model ILIKE $%d", "%"+likeEscaper.Replace(q.Model)+"%")
	}
	if q.MinPrice != nil {
		add("price >= $%d", *q.MinPrice)
	}
	if q.MaxPrice != nil {
		add("price <= $%d", *q.MaxPrice)
	}
	if q.MinYear != nil {
		add("year >= $%d", *q.MinYear)
	}
	if q.MaxYear != nil {
		add("year <= $%d", *q.MaxYear)
	}
	if q.SeenSince != nil {
		add("last_seen_at >= $%d", *q.SeenSince)
	}
	if q.AddedSince != nil {
		add("first_seen_at >= $%d", *q.AddedSince)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *PostgresStore) QueryListings(ctx context.Context, q models.ListingQuery) ([]*models.Listing, int, error) {
	q.Normalize()
	where, args := buildFilter(q)

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM listings`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("postgres: count listings: %w", err)
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM listings%s %s LIMIT $%d OFFSET $%d`,
		listingColumns, where, listingOrder, n+1, n+2)
	listings, err := s.selectListings(ctx, query, append(args, q.Limit, q.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	return listings, total, nil
}

func (s *PostgresStore) AllListings(ctx context.Context, activeOnly bool) ([]*models.Listing, error) {
	where := ""
	if activeOnly {
		where = " WHERE active"
	}
	return s.selectListings(ctx, `SELECT `+listingColumns+` FROM listings`+where+` `+listingOrder)
}

func (s *PostgresStore) EnrichmentCandidates(ctx context.Context, maxImages, offset, limit int) ([]*models.Listing, error) {
	return s.selectListings(ctx, `SELECT `+listingColumns+` FROM listings
		WHERE active AND COALESCE(array_length(image_refs, 1), 0) <= $1
		ORDER BY first_seen_at DESC, id
		LIMIT $2 OFFSET $3`, maxImages, limit, offset)
}

func (s *PostgresStore) selectListings(ctx context.Context, query string, args ...any) ([]*models.Listing, error) {
	var rows []listingRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("postgres: select listings: %w", err)
	}
	out := make([]*models.Listing, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (s *PostgresStore) UpdateEnrichment(ctx context.Context, id string, imageRefs []string, postedAt *time.Time, now time.Time) error {
	if imageRefs == nil {
		imageRefs = []string{}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE listings SET image_refs = $2, posted_at = $3, updated_at = $4
		WHERE id = $1`, id, pq.StringArray(imageRefs), optTime(postedAt), now)
	if err != nil {
		return fmt.Errorf("postgres: update enrichment %s: %w", id, err)
	}
	return requireRows(res)
}

func (s *PostgresStore) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM listings WHERE NOT active AND last_seen_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete inactive: %w", err)
	}
	return affected(res)
}

func (s *PostgresStore) CountListings(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM listings`); err != nil {
		return 0, fmt.Errorf("postgres: count listings: %w", err)
	}
	return n, nil
}

type statsRow struct {
	Active         int                 `db:"active"`
	Inactive       int                 `db:"inactive"`
	DistinctBrands int                 `db:"distinct_brands"`
	AvgPrice       decimal.NullDecimal `db:"avg_price"`
	MinPrice       decimal.NullDecimal `db:"min_price"`
	MaxPrice       decimal.NullDecimal `db:"max_price"`
}

func (s *PostgresStore) Stats(ctx context.Context) (*models.ListingStats, error) {
	var row statsRow
	err := s.db.GetContext(ctx, &row, `
		SELECT
			COUNT(*) FILTER (WHERE active)                AS active,
			COUNT(*) FILTER (WHERE NOT active)            AS inactive,
			COUNT(DISTINCT brand) FILTER (WHERE active)   AS distinct_brands,
			ROUND(AVG(price) FILTER (WHERE active), 2)    AS avg_price,
			MIN(price) FILTER (WHERE active)              AS min_price,
			MAX(price) FILTER (WHERE active)              AS max_price
		FROM listings`)
	if err != nil {
		return nil, fmt.Errorf("postgres: stats: %w", err)
	}
	return &models.ListingStats{
		Active:         row.Active,
		Inactive:       row.Inactive,
		DistinctBrands: row.DistinctBrands,
		AvgPrice:       nullDecimal(row.AvgPrice),
		MinPrice:       nullDecimal(row.MinPrice),
		MaxPrice:       nullDecimal(row.MaxPrice),
	}, nil
}

func nullDecimal(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

type runRow struct {
	ID          uuid.UUID      `db:"id"`
	StartedAt   time.Time      `db:"started_at"`
	CompletedAt sql.NullTime   `db:"completed_at"`
	Found       int            `db:"found"`
	Added       int            `db:"added"`
	Updated     int            `db:"updated"`
	Deactivated int            `db:"deactivated"`
	Skipped     int            `db:"skipped"`
	Status      string         `db:"status"`
	ErrorDetail sql.NullString `db:"error_detail"`
}

func (r *runRow) toModel() *models.ScrapeRun {
	run := &models.ScrapeRun{
		ID:          r.ID,
		StartedAt:   r.StartedAt,
		Found:       r.Found,
		Added:       r.Added,
		Updated:     r.Updated,
		Deactivated: r.Deactivated,
		Skipped:     r.Skipped,
		Status:      models.RunStatus(r.Status),
		ErrorDetail: nullString(r.ErrorDetail),
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		run.CompletedAt = &t
	}
	return run
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.ScrapeRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scrape_runs (id, started_at, status) VALUES ($1, $2, $3)`,
		run.ID, run.StartedAt, string(run.Status))
	if err != nil {
		return fmt.Errorf("postgres: create run: %w", err)
	}
	return nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, run *models.ScrapeRun) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scrape_runs SET completed_at = $2, found = $3, added = $4, updated = $5,
			deactivated = $6, skipped = $7, status = $8, error_detail = $9
		WHERE id = $1`,
		run.ID, optTime(run.CompletedAt), run.Found, run.Added, run.Updated,
		run.Deactivated, run.Skipped, string(run.Status), optString(run.ErrorDetail))
	if err != nil {
		return fmt.Errorf("postgres: finish run: %w", err)
	}
	return requireRows(res)
}

func (s *PostgresStore) LatestRun(ctx context.Context) (*models.ScrapeRun, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, `SELECT `+runColumns+` FROM scrape_runs ORDER BY started_at DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: latest run: %w", err)
	}
	return row.toModel(), nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]*models.ScrapeRun, error) {
	if limit < 1 {
		limit = models.DefaultPageLimit
	}
	var rows []runRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+runColumns+` FROM scrape_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", err)
	}
	out := make([]*models.ScrapeRun, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func affected(res sql.Result) (int, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: rows affected: %w", err)
	}
	return int(n), nil
}

func requireRows(res sql.Result) error {
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
