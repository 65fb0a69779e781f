package lead

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a lead lookup finds no matching record.
var ErrNotFound = errors.New("lead not found")

// UpsertOutcome tells the caller whether an upsert created a new row or
// merged into an existing one, so the extraction engine can decide
// whether to emit a creation or a mutation PipelineEvent.
type UpsertOutcome string

const (
	Inserted UpsertOutcome = "inserted"
	Updated  UpsertOutcome = "updated"
)

// execer is satisfied by both *sql.DB and the *sql.Conn handed out by
// store.Store.Tx, letting Repository methods run either standalone or
// as part of a caller-managed write transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Repository is the Lead Store (C5): canonical entity storage with
// content-addressed dedup.
type Repository struct {
	db execer
}

// NewRepository wraps db (typically (*store.Store).DB, or a pinned
// *sql.Conn inside a store.Store.Tx callback).
func NewRepository(db execer) *Repository {
	return &Repository{db: db}
}

// WithConn returns a Repository bound to conn, for use inside a
// store.Store.Tx callback so upserts participate in the caller's
// BEGIN IMMEDIATE transaction.
func (r *Repository) WithConn(conn execer) *Repository {
	return &Repository{db: conn}
}

// Upsert inserts l if no row matches its (county, case_number) pair or
// its record_hash, otherwise merges l into the existing row under
// field-level COALESCE-on-null semantics (lead.Merge). Returns the
// merged/inserted lead and whether it was a fresh insert.
func (r *Repository) Upsert(ctx context.Context, l *Lead) (*Lead, UpsertOutcome, error) {
	l.RecordHash = CanonicalHash(l)
	if l.ID == "" {
		l.ID = DeriveID(l.County, l.RecordHash)
	}

	existing, err := r.findForUpsert(ctx, l)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, "", err
	}

	now := time.Now().UTC()
	if errors.Is(err, ErrNotFound) {
		l.CreatedAt = now
		l.UpdatedAt = now
		if l.Status == "" {
			l.Status = StatusStaged
		}
		l.AttorneyPacketReady = l.EligibleForPacket()
		if err := r.insert(ctx, l); err != nil {
			return nil, "", err
		}
		return l, Inserted, nil
	}

	merged := Merge(existing, l)
	merged.ID = existing.ID
	merged.UpdatedAt = now
	if err := r.update(ctx, merged); err != nil {
		return nil, "", err
	}
	return merged, Updated, nil
}

// findForUpsert looks up an existing row by (county, case_number) when
// both are present, falling back to record_hash.
func (r *Repository) findForUpsert(ctx context.Context, l *Lead) (*Lead, error) {
	if l.County != "" && l.CaseNumber != "" {
		existing, err := r.getByCountyCase(ctx, l.County, l.CaseNumber)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return r.getByRecordHash(ctx, l.RecordHash)
}

func (r *Repository) insert(ctx context.Context, l *Lead) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO leads (
			id, county, case_number, owner_name, property_address,
			winning_bid, total_debt, surplus_amount, overbid_amount, estimated_surplus,
			sale_date, claim_deadline, confidence_score, data_grade,
			source_url, source_hash, parser_name, extracted_at,
			status, attorney_packet_ready, record_hash, updated_at, created_at
		) VALUES (?,?,?,?,?, ?,?,?,?,?, ?,?,?,?, ?,?,?,?, ?,?,?,?,?)`,
		l.ID, l.County, nullStr(l.CaseNumber), nullStr(l.OwnerName), nullStr(l.PropertyAddress),
		l.WinningBid, l.TotalDebt, l.SurplusAmount, l.OverbidAmount, l.EstimatedSurplus,
		formatDate(l.SaleDate), formatDate(l.ClaimDeadline), l.ConfidenceScore, string(l.DataGrade),
		nullStr(l.SourceURL), nullStr(l.SourceHash), nullStr(l.ParserName), formatTime(l.ExtractedAt),
		string(l.Status), boolToInt(l.AttorneyPacketReady), l.RecordHash,
		l.UpdatedAt.Format(time.RFC3339Nano), l.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert lead: %w", err)
	}
	return nil
}

func (r *Repository) update(ctx context.Context, l *Lead) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE leads SET
			case_number = ?, owner_name = ?, property_address = ?,
			winning_bid = ?, total_debt = ?, surplus_amount = ?, overbid_amount = ?, estimated_surplus = ?,
			sale_date = ?, claim_deadline = ?, confidence_score = ?, data_grade = ?,
			source_url = ?, source_hash = ?, parser_name = ?, extracted_at = ?,
			status = ?, attorney_packet_ready = ?, record_hash = ?, updated_at = ?
		WHERE id = ?`,
		nullStr(l.CaseNumber), nullStr(l.OwnerName), nullStr(l.PropertyAddress),
		l.WinningBid, l.TotalDebt, l.SurplusAmount, l.OverbidAmount, l.EstimatedSurplus,
		formatDate(l.SaleDate), formatDate(l.ClaimDeadline), l.ConfidenceScore, string(l.DataGrade),
		nullStr(l.SourceURL), nullStr(l.SourceHash), nullStr(l.ParserName), formatTime(l.ExtractedAt),
		string(l.Status), boolToInt(l.AttorneyPacketReady), l.RecordHash,
		l.UpdatedAt.Format(time.RFC3339Nano),
		l.ID,
	)
	if err != nil {
		return fmt.Errorf("update lead: %w", err)
	}
	return nil
}

// Get returns a lead by id along with its provenance row count.
func (r *Repository) Get(ctx context.Context, id string) (*Lead, error) {
	l, err := r.scanOne(r.db.QueryRowContext(ctx, selectCols+" WHERE id = ?", id))
	if err != nil {
		return nil, err
	}
	n, err := r.provenanceCount(ctx, id)
	if err != nil {
		return nil, err
	}
	l.ProvenanceCount = n
	return l, nil
}

func (r *Repository) getByCountyCase(ctx context.Context, county, caseNumber string) (*Lead, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, selectCols+" WHERE county = ? AND case_number = ?", county, caseNumber))
}

func (r *Repository) getByRecordHash(ctx context.Context, hash string) (*Lead, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, selectCols+" WHERE record_hash = ?", hash))
}

func (r *Repository) provenanceCount(ctx context.Context, leadID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM lead_provenance WHERE lead_id = ?", leadID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count provenance: %w", err)
	}
	return n, nil
}

// AddProvenance records a source document that contributed to leadID.
func (r *Repository) AddProvenance(ctx context.Context, id, leadID, sourceURL, sourceHash, parserName string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO lead_provenance (id, lead_id, source_url, source_hash, parser_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, leadID, sourceURL, sourceHash, parserName, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert lead_provenance: %w", err)
	}
	return nil
}

// ListFilter narrows List results. Zero values are treated as "no filter".
type ListFilter struct {
	County    string
	DataGrade DataGrade
	MinSurplus float64
	Page      int
	PageSize  int
}

// List returns leads matching filter, ordered by surplus_amount descending.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]*Lead, error) {
	if f.PageSize <= 0 {
		f.PageSize = 25
	}
	if f.Page <= 0 {
		f.Page = 1
	}

	q := selectCols + " WHERE 1=1"
	var args []any
	if f.County != "" {
		q += " AND county = ?"
		args = append(args, f.County)
	}
	if f.DataGrade != "" {
		q += " AND data_grade = ?"
		args = append(args, string(f.DataGrade))
	}
	if f.MinSurplus > 0 {
		q += " AND surplus_amount >= ?"
		args = append(args, f.MinSurplus)
	}
	q += " ORDER BY surplus_amount DESC LIMIT ? OFFSET ?"
	args = append(args, f.PageSize, (f.Page-1)*f.PageSize)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	var out []*Lead
	for rows.Next() {
		l, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

const selectCols = `
	SELECT id, county, case_number, owner_name, property_address,
		winning_bid, total_debt, surplus_amount, overbid_amount, estimated_surplus,
		sale_date, claim_deadline, confidence_score, data_grade,
		source_url, source_hash, parser_name, extracted_at,
		status, attorney_packet_ready, record_hash, updated_at, created_at
	FROM leads`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (*Lead, error) {
	var l Lead
	var caseNumber, ownerName, propertyAddress, sourceURL, sourceHash, parserName sql.NullString
	var saleDate, claimDeadline, extractedAt sql.NullString
	var dataGrade, status string
	var attorneyPacketReady int
	var updatedAt, createdAt string

	if err := r.Scan(
		&l.ID, &l.County, &caseNumber, &ownerName, &propertyAddress,
		&l.WinningBid, &l.TotalDebt, &l.SurplusAmount, &l.OverbidAmount, &l.EstimatedSurplus,
		&saleDate, &claimDeadline, &l.ConfidenceScore, &dataGrade,
		&sourceURL, &sourceHash, &parserName, &extractedAt,
		&status, &attorneyPacketReady, &l.RecordHash, &updatedAt, &createdAt,
	); err != nil {
		return nil, fmt.Errorf("scan lead: %w", err)
	}

	l.CaseNumber = caseNumber.String
	l.OwnerName = ownerName.String
	l.PropertyAddress = propertyAddress.String
	l.SourceURL = sourceURL.String
	l.SourceHash = sourceHash.String
	l.ParserName = parserName.String
	l.DataGrade = DataGrade(dataGrade)
	l.Status = Status(status)
	l.AttorneyPacketReady = attorneyPacketReady != 0

	var err error
	if l.SaleDate, err = parseDate(saleDate); err != nil {
		return nil, err
	}
	if l.ClaimDeadline, err = parseDate(claimDeadline); err != nil {
		return nil, err
	}
	if l.ExtractedAt, err = parseTime(extractedAt); err != nil {
		return nil, err
	}
	if l.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if l.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &l, nil
}

func (r *Repository) scanOne(row *sql.Row) (*Lead, error) {
	l, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return l, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format("2006-01-02")
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseDate(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", ns.String)
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", ns.String, err)
	}
	return &t, nil
}

func parseTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil, fmt.Errorf("parse time %q: %w", ns.String, err)
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// SetGrade updates a lead's data_grade in place, used by the lifecycle
// engine's re-scoring and demotion sweeps.
func (r *Repository) SetGrade(ctx context.Context, id string, grade DataGrade) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE leads SET data_grade = ?, updated_at = ? WHERE id = ?",
		string(grade), time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("set grade: %w", err)
	}
	return nil
}

// Quarantine moves a lead's snapshot into the quarantine table and
// deletes it from leads, in a single caller-managed transaction when db
// is bound to a store.Store.Tx connection. reason is a free-form code
// (e.g. "VERTEX_GHOST_ZERO_VALUE").
func (r *Repository) Quarantine(ctx context.Context, id string, reason string) error {
	l, err := r.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load lead for quarantine: %w", err)
	}

	snapshot, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshal lead snapshot: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := r.db.ExecContext(ctx,
		"INSERT INTO quarantine (id, lead_snapshot, quarantine_reason, quarantined_at) VALUES (?, ?, ?, ?)",
		id, string(snapshot), reason, now,
	); err != nil {
		return fmt.Errorf("insert quarantine row: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, "DELETE FROM leads WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete quarantined lead: %w", err)
	}
	return nil
}

// Restore moves a quarantined lead's snapshot back into leads. It emits
// no PipelineEvent itself, and nothing in this repository calls it: no
// HTTP route or CLI command exposes a restore.
func (r *Repository) Restore(ctx context.Context, id string) (*Lead, error) {
	var snapshot string
	err := r.db.QueryRowContext(ctx,
		"SELECT lead_snapshot FROM quarantine WHERE id = ?", id,
	).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load quarantine snapshot: %w", err)
	}

	var l Lead
	if err := json.Unmarshal([]byte(snapshot), &l); err != nil {
		return nil, fmt.Errorf("unmarshal quarantine snapshot: %w", err)
	}

	if err := r.insert(ctx, &l); err != nil {
		return nil, fmt.Errorf("restore lead: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, "DELETE FROM quarantine WHERE id = ?", id); err != nil {
		return nil, fmt.Errorf("delete quarantine row: %w", err)
	}
	return &l, nil
}
