package report

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver

	"github.com/adlens/adlens/agent/internal/config"
)

// postgresSource reads rows from a warehouse table or view, e.g. a
// campaign_stats rollup. The configured SQL is wrapped so that paging is
// applied by the database.
type postgresSource struct {
	src config.Source

	once sync.Once
	db   *sqlx.DB
	err  error
}

func newPostgresSource(src config.Source) (*postgresSource, error) {
	if strings.TrimSpace(src.SQL) == "" {
		return nil, fmt.Errorf("report %q: postgres source needs sql", src.ID)
	}
	if len(src.OrderBy) == 0 {
		return nil, fmt.Errorf("report %q: postgres source needs order_by", src.ID)
	}
	return &postgresSource{src: src}, nil
}

// conn opens the pool on first use so that building sources at startup
// does not require the database to be reachable.
func (s *postgresSource) conn(ctx context.Context) (*sqlx.DB, error) {
	s.once.Do(func() {
		dsn := s.src.DSN()
		if dsn == "" {
			s.err = fmt.Errorf("postgres %q: dsn_env %q is empty", s.src.ID, s.src.DSNEnv)
			return
		}
		db, err := sqlx.Open("postgres", dsn)
		if err != nil {
			s.err = fmt.Errorf("open database: %w", err)
			return
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			s.err = fmt.Errorf("ping database: %w", err)
			return
		}
		s.db = db
	})
	return s.db, s.err
}

// Fetch runs the configured SQL for one page. The AWQL query is not sent;
// the SQL is expected to select report-shaped columns.
func (s *postgresSource) Fetch(ctx context.Context, _ Query, p Page) (Batch, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return Batch{}, err
	}

	rows, err := db.QueryxContext(ctx, pagedSQL(s.src.SQL, s.src.OrderBy), p.Limit, p.Offset)
	if err != nil {
		return Batch{}, fmt.Errorf("postgres %q: query: %w", s.src.ID, err)
	}
	defer rows.Close()

	var b Batch
	for rows.Next() {
		rec := make(map[string]any)
		if err := rows.MapScan(rec); err != nil {
			return b, fmt.Errorf("postgres %q: scan: %w", s.src.ID, err)
		}
		b.Read++
		row, err := ParseMap(sqlStrings(rec))
		if err != nil {
			skipRow(s.src.ID, p.Offset+b.Read-1, err)
			b.Skipped++
			continue
		}
		b.Rows = append(b.Rows, row)
	}
	return b, rows.Err()
}

// pagedSQL wraps query so LIMIT/OFFSET bind to $1/$2. The outer ORDER BY
// keeps pages from repeating or skipping rows; orderBy must be a total order.
func pagedSQL(query string, orderBy []string) string {
	query = strings.TrimRight(strings.TrimSpace(query), ";")
	return "SELECT * FROM (" + query + ") AS report_page ORDER BY " + strings.Join(orderBy, ", ") + " LIMIT $1 OFFSET $2"
}

// sqlStrings converts scanned column values to their report text form.
func sqlStrings(rec map[string]any) map[string]string {
	out := make(map[string]string, len(rec))
	for k, v := range rec {
		switch x := v.(type) {
		case nil:
			out[k] = ""
		case []byte:
			out[k] = string(x)
		case string:
			out[k] = x
		case int64:
			out[k] = strconv.FormatInt(x, 10)
		case float64:
			out[k] = strconv.FormatFloat(x, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(x)
		case time.Time:
			out[k] = x.Format("2006-01-02")
		default:
			out[k] = fmt.Sprint(x)
		}
	}
	return out
}
