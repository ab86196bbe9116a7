package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/mattn/go-sqlite3"

	"mangacatalog/pkg/models"
)

// SQLite stores records in the tables created by database.Migrate.
type SQLite struct {
	DB *sql.DB
}

func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{DB: db}
}

type scanner interface {
	Scan(dest ...any) error
}

const volumeColumns = `isbn, brand, series_id, series_title, series_confidence, display_name, name,
	normalized_name, category, volume, url, cover_images, description, release_date, publisher,
	format, pages, authors, isbn_10, record_added, record_updated`

func (s *SQLite) GetVolume(ctx context.Context, isbn string) (*models.Volume, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+volumeColumns+` FROM volumes WHERE isbn = ?`, isbn)
	v, err := scanVolume(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, failf("scan volume %s: %w", isbn, err)
	}
	return v, nil
}

func scanVolume(row scanner) (*models.Volume, error) {
	var (
		v           models.Volume
		seriesID    sql.NullString
		seriesTitle sql.NullString
		volume      sql.NullString
		url         sql.NullString
		coversJSON  string
		description sql.NullString
		releaseDate sql.NullString
		publisher   sql.NullString
		format      sql.NullString
		pages       sql.NullInt64
		authors     sql.NullString
		isbn10      sql.NullString
		added       string
		updated     string
	)
	if err := row.Scan(
		&v.ISBN, &v.Brand, &seriesID, &seriesTitle, &v.SeriesConfidence, &v.DisplayName, &v.Name,
		&v.NormalizedName, &v.Category, &volume, &url, &coversJSON, &description, &releaseDate,
		&publisher, &format, &pages, &authors, &isbn10, &added, &updated,
	); err != nil {
		return nil, err
	}
	v.SeriesID = seriesID.String
	v.SeriesTitle = seriesTitle.String
	v.Volume = volume.String
	v.URL = url.String
	v.Description = description.String
	v.ReleaseDate = releaseDate.String
	v.Publisher = publisher.String
	v.Format = format.String
	if pages.Valid {
		v.Pages = int(pages.Int64)
	}
	v.Authors = authors.String
	v.ISBN10 = isbn10.String
	if err := json.Unmarshal([]byte(coversJSON), &v.CoverImages); err != nil {
		return nil, err
	}
	v.RecordAdded = parseTime(added)
	v.RecordUpdated = parseTime(updated)
	return &v, nil
}

func volumeArgs(v *models.Volume) ([]any, error) {
	covers, err := marshalList(v.CoverImages)
	if err != nil {
		return nil, err
	}
	return []any{
		v.ISBN, v.Brand, nullable(v.SeriesID), nullable(v.SeriesTitle), v.SeriesConfidence,
		v.DisplayName, v.Name, v.NormalizedName, v.Category, nullable(v.Volume), nullable(v.URL),
		covers, nullable(v.Description), nullable(v.ReleaseDate), nullable(v.Publisher),
		nullable(v.Format), nullableInt(v.Pages), nullable(v.Authors), nullable(v.ISBN10),
		formatTime(v.RecordAdded), formatTime(v.RecordUpdated),
	}, nil
}

func (s *SQLite) CreateVolume(ctx context.Context, v *models.Volume) error {
	args, err := volumeArgs(v)
	if err != nil {
		return failf("marshal volume %s: %w", v.ISBN, err)
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO volumes (`+volumeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	return insertErr("volume "+v.ISBN, err)
}

func (s *SQLite) UpdateVolume(ctx context.Context, v *models.Volume) error {
	args, err := volumeArgs(v)
	if err != nil {
		return failf("marshal volume %s: %w", v.ISBN, err)
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE volumes SET
		  brand = ?2, series_id = ?3, series_title = ?4, series_confidence = ?5,
		  display_name = ?6, name = ?7, normalized_name = ?8, category = ?9, volume = ?10,
		  url = ?11, cover_images = ?12, description = ?13, release_date = ?14,
		  publisher = ?15, format = ?16, pages = ?17, authors = ?18, isbn_10 = ?19,
		  record_added = ?20, record_updated = ?21
		WHERE isbn = ?1
	`, args...)
	return updateErr("volume "+v.ISBN, res, err)
}

const seriesColumns = `id, title, associated_titles, url, category, description, cover_image,
	genres, themes, latest_chapter, release_status, status, authors, publishers,
	bayesian_rating, rank, recommendations, volumes`

func (s *SQLite) GetSeries(ctx context.Context, id string) (*models.Series, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+seriesColumns+` FROM series WHERE id = ?`, id)
	out, err := scanSeries(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, failf("scan series %s: %w", id, err)
	}
	return out, nil
}

func scanSeries(row scanner) (*models.Series, error) {
	var (
		m               models.Series
		titlesJSON      string
		url             sql.NullString
		description     sql.NullString
		cover           sql.NullString
		genresJSON      string
		themesJSON      string
		latestChapter   sql.NullInt64
		releaseStatus   sql.NullString
		status          sql.NullString
		authorsJSON     string
		publishersJSON  string
		rating          sql.NullFloat64
		rank            sql.NullInt64
		recommendations string
		volumesJSON     string
	)
	if err := row.Scan(
		&m.ID, &m.Title, &titlesJSON, &url, &m.Category, &description, &cover,
		&genresJSON, &themesJSON, &latestChapter, &releaseStatus, &status, &authorsJSON,
		&publishersJSON, &rating, &rank, &recommendations, &volumesJSON,
	); err != nil {
		return nil, err
	}
	m.URL = url.String
	m.Description = description.String
	m.CoverImage = cover.String
	if latestChapter.Valid {
		m.LatestChapter = int(latestChapter.Int64)
	}
	m.ReleaseStatus = releaseStatus.String
	m.Status = status.String
	if rating.Valid {
		m.BayesianRating = rating.Float64
	}
	if rank.Valid {
		m.Rank = int(rank.Int64)
	}

	for _, f := range []struct {
		raw string
		dst any
	}{
		{titlesJSON, &m.AssociatedTitles},
		{genresJSON, &m.Genres},
		{themesJSON, &m.Themes},
		{authorsJSON, &m.Authors},
		{publishersJSON, &m.Publishers},
		{recommendations, &m.Recommendations},
		{volumesJSON, &m.Volumes},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

func seriesArgs(m *models.Series) ([]any, error) {
	lists := []any{m.AssociatedTitles, m.Genres, m.Themes, m.Authors, m.Publishers, m.Recommendations, m.Volumes}
	encoded := make([]string, len(lists))
	for i, l := range lists {
		s, err := marshalList(l)
		if err != nil {
			return nil, err
		}
		encoded[i] = s
	}
	return []any{
		m.ID, m.Title, encoded[0], nullable(m.URL), m.Category, nullable(m.Description),
		nullable(m.CoverImage), encoded[1], encoded[2], nullableInt(m.LatestChapter),
		nullable(m.ReleaseStatus), nullable(m.Status), encoded[3], encoded[4],
		m.BayesianRating, nullableInt(m.Rank), encoded[5], encoded[6],
	}, nil
}

func (s *SQLite) CreateSeries(ctx context.Context, m *models.Series) error {
	args, err := seriesArgs(m)
	if err != nil {
		return failf("marshal series %s: %w", m.ID, err)
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO series (`+seriesColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	return insertErr("series "+m.ID, err)
}

func (s *SQLite) UpdateSeries(ctx context.Context, m *models.Series) error {
	args, err := seriesArgs(m)
	if err != nil {
		return failf("marshal series %s: %w", m.ID, err)
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE series SET
		  title = ?2, associated_titles = ?3, url = ?4, category = ?5, description = ?6,
		  cover_image = ?7, genres = ?8, themes = ?9, latest_chapter = ?10,
		  release_status = ?11, status = ?12, authors = ?13, publishers = ?14,
		  bayesian_rating = ?15, rank = ?16, recommendations = ?17, volumes = ?18
		WHERE id = ?1
	`, args...)
	return updateErr("series "+m.ID, res, err)
}

const shopColumns = `isbn, store, condition, url, price, stock_status, last_stock_update, coupon,
	is_on_sale, exclusive, promotion, promotion_percentage, backorder_details, is_bundle`

func (s *SQLite) GetShop(ctx context.Context, key models.ShopKey) (*models.ShopListing, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+shopColumns+` FROM shops
		WHERE isbn = ? AND store = ? AND condition = ?`, key.ISBN, key.Store, key.Condition)
	out, err := scanShop(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, failf("scan shop %s: %w", key.ItemID(), err)
	}
	return out, nil
}

func scanShop(row scanner) (*models.ShopListing, error) {
	var (
		l         models.ShopListing
		url       sql.NullString
		stock     sql.NullString
		stockAt   sql.NullString
		coupon    sql.NullString
		promotion sql.NullString
		promoPct  sql.NullFloat64
		backorder sql.NullString
	)
	if err := row.Scan(
		&l.ISBN, &l.Store, &l.Condition, &url, &l.Price, &stock, &stockAt, &coupon,
		&l.IsOnSale, &l.Exclusive, &promotion, &promoPct, &backorder, &l.IsBundle,
	); err != nil {
		return nil, err
	}
	l.URL = url.String
	l.StockStatus = stock.String
	l.LastStockUpdate = parseTime(stockAt.String)
	l.Coupon = coupon.String
	l.Promotion = promotion.String
	if promoPct.Valid {
		l.PromotionPercentage = promoPct.Float64
	}
	l.BackorderDetails = backorder.String
	return &l, nil
}

func shopArgs(l *models.ShopListing) []any {
	return []any{
		l.ISBN, l.Store, l.Condition, nullable(l.URL), l.Price, nullable(l.StockStatus),
		nullable(formatTime(l.LastStockUpdate)), nullable(l.Coupon), l.IsOnSale, l.Exclusive,
		nullable(l.Promotion), l.PromotionPercentage, nullable(l.BackorderDetails), l.IsBundle,
	}
}

func (s *SQLite) CreateShop(ctx context.Context, l *models.ShopListing) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO shops (`+shopColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, shopArgs(l)...)
	return insertErr("shop "+l.ItemID(), err)
}

func (s *SQLite) UpdateShop(ctx context.Context, l *models.ShopListing) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE shops SET
		  url = ?4, price = ?5, stock_status = ?6, last_stock_update = ?7, coupon = ?8,
		  is_on_sale = ?9, exclusive = ?10, promotion = ?11, promotion_percentage = ?12,
		  backorder_details = ?13, is_bundle = ?14
		WHERE isbn = ?1 AND store = ?2 AND condition = ?3
	`, shopArgs(l)...)
	return updateErr("shop "+l.ItemID(), res, err)
}

const bundleColumns = `isbn, series_id, shop_isbn, shop_store, shop_condition, cover_image, type,
	start_volume, end_volume, contained, record_added, record_updated`

func (s *SQLite) GetBundle(ctx context.Context, isbn string) (*models.Bundle, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+bundleColumns+` FROM bundles WHERE isbn = ?`, isbn)

	var (
		b             models.Bundle
		seriesID      sql.NullString
		cover         sql.NullString
		bundleType    string
		start         sql.NullString
		end           sql.NullString
		containedJSON string
		added         string
		updated       string
	)
	if err := row.Scan(
		&b.ISBN, &seriesID, &b.Shop.ISBN, &b.Shop.Store, &b.Shop.Condition, &cover, &bundleType,
		&start, &end, &containedJSON, &added, &updated,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, failf("scan bundle %s: %w", isbn, err)
	}
	b.SeriesID = seriesID.String
	b.CoverImage = cover.String
	b.Type = models.BundleType(bundleType)
	b.StartVolume = start.String
	b.EndVolume = end.String
	if err := json.Unmarshal([]byte(containedJSON), &b.Contained); err != nil {
		return nil, failf("decode bundle %s: %w", isbn, err)
	}
	b.RecordAdded = parseTime(added)
	b.RecordUpdated = parseTime(updated)
	return &b, nil
}

func bundleArgs(b *models.Bundle) ([]any, error) {
	contained, err := marshalList(b.Contained)
	if err != nil {
		return nil, err
	}
	return []any{
		b.ISBN, nullable(b.SeriesID), b.Shop.ISBN, b.Shop.Store, b.Shop.Condition,
		nullable(b.CoverImage), string(b.Type), nullable(b.StartVolume), nullable(b.EndVolume),
		contained, formatTime(b.RecordAdded), formatTime(b.RecordUpdated),
	}, nil
}

func (s *SQLite) CreateBundle(ctx context.Context, b *models.Bundle) error {
	args, err := bundleArgs(b)
	if err != nil {
		return failf("marshal bundle %s: %w", b.ISBN, err)
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO bundles (`+bundleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	return insertErr("bundle "+b.ISBN, err)
}

func (s *SQLite) UpdateBundle(ctx context.Context, b *models.Bundle) error {
	args, err := bundleArgs(b)
	if err != nil {
		return failf("marshal bundle %s: %w", b.ISBN, err)
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE bundles SET
		  series_id = ?2, shop_isbn = ?3, shop_store = ?4, shop_condition = ?5,
		  cover_image = ?6, type = ?7, start_volume = ?8, end_volume = ?9,
		  contained = ?10, record_added = ?11, record_updated = ?12
		WHERE isbn = ?1
	`, args...)
	return updateErr("bundle "+b.ISBN, res, err)
}

func (s *SQLite) GetMarket(ctx context.Context, isbn string) (*models.MarketPrice, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT isbn, retail_price, updated_at FROM market WHERE isbn = ?`, isbn)
	var (
		p       models.MarketPrice
		updated string
	)
	if err := row.Scan(&p.ISBN, &p.RetailPrice, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, failf("scan market %s: %w", isbn, err)
	}
	p.UpdatedAt = parseTime(updated)
	return &p, nil
}

func (s *SQLite) CreateMarket(ctx context.Context, p *models.MarketPrice) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO market (isbn, retail_price, updated_at) VALUES (?, ?, ?)`,
		p.ISBN, p.RetailPrice, formatTime(p.UpdatedAt))
	return insertErr("market "+p.ISBN, err)
}

func (s *SQLite) UpdateMarket(ctx context.Context, p *models.MarketPrice) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE market SET retail_price = ?, updated_at = ? WHERE isbn = ?`,
		p.RetailPrice, formatTime(p.UpdatedAt), p.ISBN)
	return updateErr("market "+p.ISBN, res, err)
}

func (s *SQLite) ListVolumes(ctx context.Context) ([]models.Volume, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+volumeColumns+` FROM volumes ORDER BY isbn ASC`)
	if err != nil {
		return nil, failf("list volumes: %w", err)
	}
	defer rows.Close()

	var out []models.Volume
	for rows.Next() {
		v, err := scanVolume(rows)
		if err != nil {
			return nil, failf("list volumes scan: %w", err)
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, failf("rows err: %w", err)
	}
	return out, nil
}

func (s *SQLite) ListSeries(ctx context.Context) ([]models.Series, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+seriesColumns+` FROM series ORDER BY id ASC`)
	if err != nil {
		return nil, failf("list series: %w", err)
	}
	defer rows.Close()

	var out []models.Series
	for rows.Next() {
		m, err := scanSeries(rows)
		if err != nil {
			return nil, failf("list series scan: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, failf("rows err: %w", err)
	}
	return out, nil
}

func (s *SQLite) ListShops(ctx context.Context) ([]models.ShopListing, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+shopColumns+` FROM shops ORDER BY isbn, store, condition`)
	if err != nil {
		return nil, failf("list shops: %w", err)
	}
	defer rows.Close()

	var out []models.ShopListing
	for rows.Next() {
		l, err := scanShop(rows)
		if err != nil {
			return nil, failf("list shops scan: %w", err)
		}
		out = append(out, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, failf("rows err: %w", err)
	}
	return out, nil
}

func (s *SQLite) Close() error {
	return s.DB.Close()
}

func insertErr(what string, err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return failf("%s: %w", what, ErrExists)
	}
	return failf("insert %s: %w", what, err)
}

func updateErr(what string, res sql.Result, err error) error {
	if err != nil {
		return failf("update %s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return failf("update %s: %w", what, err)
	}
	if n == 0 {
		return failf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func marshalList(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return "[]", nil
	}
	return string(b), nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
