package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Scan is one stored decode result.
type Scan struct {
	ID           int64     `json:"id"`
	SessionID    string    `json:"session_id"`
	DeviceID     string    `json:"device_id"`
	TaskID       uint64    `json:"task_id"`
	Barcode      string    `json:"barcode,omitempty"`
	Found        bool      `json:"found"`
	VINValid     bool      `json:"vin_valid"`
	VINCanonical string    `json:"vin_canonical,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ListOptions filters List.
type ListOptions struct {
	// Limit caps the number of rows; zero or less returns every row.
	Limit     int
	SessionID string
	FoundOnly bool
}

// Summary aggregates stored results.
type Summary struct {
	Total int64 `json:"total"`
	Found int64 `json:"found"`
	Valid int64 `json:"valid"`
}

// timeLayout keeps a fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const scanColumns = "id, session_id, device_id, task_id, barcode, found, vin_valid, vin_canonical, created_at"

// Record inserts a result. CreatedAt defaults to now.
func (s *Store) Record(ctx context.Context, scan Scan) (Scan, error) {
	if strings.TrimSpace(scan.SessionID) == "" {
		return Scan{}, errors.New("record scan: session id is required")
	}
	if scan.CreatedAt.IsZero() {
		scan.CreatedAt = time.Now()
	}
	scan.CreatedAt = scan.CreatedAt.UTC()

	res, err := s.execWithRetry(ctx,
		`INSERT INTO scans (session_id, device_id, task_id, barcode, found, vin_valid, vin_canonical, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		scan.SessionID,
		scan.DeviceID,
		int64(scan.TaskID),
		nullableString(scan.Barcode),
		boolToInt(scan.Found),
		boolToInt(scan.VINValid),
		nullableString(scan.VINCanonical),
		scan.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return Scan{}, fmt.Errorf("insert scan: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Scan{}, fmt.Errorf("last insert id: %w", err)
	}
	scan.ID = id
	return scan, nil
}

// List returns stored results, newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Scan, error) {
	var (
		where []string
		args  []any
	)
	if opts.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, opts.SessionID)
	}
	if opts.FoundOnly {
		where = append(where, "found = 1")
	}
	query := `SELECT ` + scanColumns + ` FROM scans`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	defer rows.Close()

	var scans []Scan
	for rows.Next() {
		scan, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		scans = append(scans, scan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scans: %w", err)
	}
	return scans, nil
}

// Get fetches one result. It returns nil when no row matches.
func (s *Store) Get(ctx context.Context, id int64) (*Scan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scanColumns+` FROM scans WHERE id = ?`, id)
	scan, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scan: %w", err)
	}
	return &scan, nil
}

// Prune deletes results created before cutoff and reports how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM scans WHERE created_at < ?`, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("prune scans: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// Summarize counts stored results.
func (s *Store) Summarize(ctx context.Context) (Summary, error) {
	var summary Summary
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1), COALESCE(SUM(found), 0), COALESCE(SUM(vin_valid), 0) FROM scans`)
	if err := row.Scan(&summary.Total, &summary.Found, &summary.Valid); err != nil {
		return Summary{}, fmt.Errorf("summarize scans: %w", err)
	}
	return summary, nil
}

func scanRow(scanner interface{ Scan(dest ...any) error }) (Scan, error) {
	var (
		scan      Scan
		taskID    int64
		barcode   sql.NullString
		found     int64
		valid     int64
		canonical sql.NullString
		created   string
	)
	if err := scanner.Scan(&scan.ID, &scan.SessionID, &scan.DeviceID, &taskID, &barcode, &found, &valid, &canonical, &created); err != nil {
		return Scan{}, err
	}
	scan.TaskID = uint64(taskID)
	scan.Barcode = barcode.String
	scan.Found = found != 0
	scan.VINValid = valid != 0
	scan.VINCanonical = canonical.String
	if ts, err := time.Parse(timeLayout, created); err == nil {
		scan.CreatedAt = ts
	}
	return scan, nil
}
