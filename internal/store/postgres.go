package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noxfi/nox-indexer/internal/model"
)

//go:embed schema.sql
var schema string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Decimal fields are stored as NUMERIC for exact precision; the open to
// historical move runs in a single transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Connect creates a connection pool and verifies it with a ping.
func Connect(ctx context.Context, url string, maxConns int) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) PutPosition(ctx context.Context, p *model.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (position_id, owner, is_long, entry_price, margin, size, status, opened_at_version)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8)
		 ON CONFLICT (position_id) DO UPDATE SET
		     is_long           = EXCLUDED.is_long,
		     entry_price       = EXCLUDED.entry_price,
		     margin            = EXCLUDED.margin,
		     size              = EXCLUDED.size,
		     opened_at_version = EXCLUDED.opened_at_version,
		     owner  = CASE WHEN positions.indexed THEN positions.owner  ELSE EXCLUDED.owner  END,
		     status = CASE WHEN positions.indexed THEN positions.status ELSE EXCLUDED.status END`,
		[]byte(p.ID), p.Owner[:], p.IsLong,
		p.EntryPrice, p.Margin, p.Size,
		string(p.Status), int64(p.OpenedAt),
	)
	if err != nil {
		return fmt.Errorf("put position %s: %w", p.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, id model.HexBytes) (*model.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT position_id, owner, is_long,
		        entry_price::TEXT, margin::TEXT, size::TEXT,
		        status, opened_at_version
		 FROM positions WHERE position_id = $1`, []byte(id))

	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", id, err)
	}
	return &p, nil
}

func (s *PostgresStore) AddOpenPosition(ctx context.Context, owner model.OwnerID, p *model.Position) error {
	// A row written by PutPosition alone may be claimed; an indexed row
	// (open or historical) may not.
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO positions (position_id, owner, is_long, entry_price, margin, size, status, indexed, opened_at_version)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, 'Open', TRUE, $7)
		 ON CONFLICT (position_id) DO UPDATE SET
		     owner             = EXCLUDED.owner,
		     is_long           = EXCLUDED.is_long,
		     entry_price       = EXCLUDED.entry_price,
		     margin            = EXCLUDED.margin,
		     size              = EXCLUDED.size,
		     status            = 'Open',
		     indexed           = TRUE,
		     opened_at_version = EXCLUDED.opened_at_version
		 WHERE NOT positions.indexed`,
		[]byte(p.ID), owner[:], p.IsLong,
		p.EntryPrice, p.Margin, p.Size,
		int64(p.OpenedAt),
	)
	if err != nil {
		return fmt.Errorf("add open position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *PostgresStore) MoveToHistorical(ctx context.Context, id model.HexBytes, status model.PositionStatus, pnl, closer string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin move %s: %w", id, err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`UPDATE positions SET status = $2
		 WHERE position_id = $1 AND indexed AND status = 'Open'
		 RETURNING position_id, owner, is_long,
		           entry_price::TEXT, margin::TEXT, size::TEXT,
		           status, opened_at_version`,
		[]byte(id), string(status))

	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("close position %s: %w", id, err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO historical_positions
		     (position_id, owner, is_long, entry_price, margin, size, status, opened_at_version, pnl, closed_by)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8, $9, $10)`,
		[]byte(p.ID), p.Owner[:], p.IsLong,
		p.EntryPrice, p.Margin, p.Size,
		string(p.Status), int64(p.OpenedAt), pnl, closer,
	)
	if err != nil {
		return fmt.Errorf("append history %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit move %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) GetOpenPositions(ctx context.Context, owner model.OwnerID) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT position_id, owner, is_long,
		        entry_price::TEXT, margin::TEXT, size::TEXT,
		        status, opened_at_version
		 FROM positions WHERE owner = $1 AND indexed AND status = 'Open'`, owner[:])
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	positions := []model.Position{}
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) GetHistoricalPositions(ctx context.Context, owner model.OwnerID, cursor, pageSize int) (model.Page, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if cursor < 0 {
		cursor = 0
	}

	rows, err := s.pool.Query(ctx,
		`SELECT position_id, owner, is_long,
		        entry_price::TEXT, margin::TEXT, size::TEXT,
		        status, opened_at_version,
		        pnl, closed_by, closed_at
		 FROM historical_positions WHERE owner = $1
		 ORDER BY seq
		 LIMIT $2 OFFSET $3`, owner[:], pageSize, cursor)
	if err != nil {
		return model.Page{}, err
	}
	defer rows.Close()

	page := model.Page{Items: []model.HistoricalPosition{}}
	for rows.Next() {
		var h model.HistoricalPosition
		var id, ownerBytes []byte
		var status string
		var openedAt int64
		if err := rows.Scan(&id, &ownerBytes, &h.IsLong,
			&h.EntryPrice, &h.Margin, &h.Size,
			&status, &openedAt,
			&h.PnL, &h.ClosedBy, &h.ClosedAt); err != nil {
			return model.Page{}, err
		}
		h.ID = id
		h.Owner, _ = model.OwnerFromBytes(ownerBytes)
		h.Status = model.PositionStatus(status)
		h.OpenedAt = uint64(openedAt)
		page.Items = append(page.Items, h)
	}
	if err := rows.Err(); err != nil {
		return model.Page{}, err
	}

	if len(page.Items) == pageSize {
		next := cursor + pageSize
		page.NextCursor = &next
	}
	return page, nil
}

func (s *PostgresStore) AddUnspentNote(ctx context.Context, n *model.UnspentNote) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO unspent_notes (note_id, note_nonce, receiver_hash, value)
		 VALUES ($1, $2::NUMERIC, $3, $4::NUMERIC)
		 ON CONFLICT (note_id) DO NOTHING`,
		[]byte(n.NoteID), strconv.FormatUint(n.Nonce, 10), []byte(n.ReceiverHash), n.Value,
	)
	if err != nil {
		return fmt.Errorf("add note %s: %w", n.NoteID, err)
	}
	return nil
}

func (s *PostgresStore) RemoveUnspentNote(ctx context.Context, id model.HexBytes) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM unspent_notes WHERE note_id = $1`, []byte(id))
	if err != nil {
		return false, fmt.Errorf("remove note %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) GetUnspentNotes(ctx context.Context, receiverHash model.HexBytes) ([]model.UnspentNote, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT note_id, note_nonce::TEXT, receiver_hash, value::TEXT
		 FROM unspent_notes WHERE receiver_hash = $1`, []byte(receiverHash))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notes := []model.UnspentNote{}
	for rows.Next() {
		var n model.UnspentNote
		var id, receiver []byte
		var nonce string
		if err := rows.Scan(&id, &nonce, &receiver, &n.Value); err != nil {
			return nil, err
		}
		n.NoteID = id
		n.ReceiverHash = receiver
		n.Nonce, _ = strconv.ParseUint(nonce, 10, 64)
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func (s *PostgresStore) SetMetadata(ctx context.Context, owner model.OwnerID, blob []byte) error {
	if len(blob) > model.MaxMetadataSize {
		return ErrMetadataTooLarge
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_metadata (owner, blob, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (owner) DO UPDATE SET blob = EXCLUDED.blob, updated_at = now()`,
		owner[:], blob)
	if err != nil {
		return fmt.Errorf("set metadata %s: %w", owner, err)
	}
	return nil
}

func (s *PostgresStore) GetMetadata(ctx context.Context, owner model.OwnerID) ([]byte, error) {
	var blob []byte
	err := s.pool.QueryRow(ctx, `SELECT blob FROM user_metadata WHERE owner = $1`, owner[:]).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get metadata %s: %w", owner, err)
	}
	return blob, nil
}

func (s *PostgresStore) LoadCursor(ctx context.Context) (uint64, bool, error) {
	var v int64
	err := s.pool.QueryRow(ctx, `SELECT version FROM ledger_cursor WHERE id = 1`).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load cursor: %w", err)
	}
	return uint64(v), true, nil
}

func (s *PostgresStore) SaveCursor(ctx context.Context, version uint64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ledger_cursor (id, version) VALUES (1, $1)
		 ON CONFLICT (id) DO UPDATE SET version = GREATEST(ledger_cursor.version, EXCLUDED.version)`,
		int64(version))
	if err != nil {
		return fmt.Errorf("save cursor %d: %w", version, err)
	}
	return nil
}

// scanPosition reads one positions row in the column order used above.
func scanPosition(row pgx.Row) (model.Position, error) {
	var p model.Position
	var id, owner []byte
	var status string
	var openedAt int64

	if err := row.Scan(&id, &owner, &p.IsLong,
		&p.EntryPrice, &p.Margin, &p.Size,
		&status, &openedAt); err != nil {
		return p, err
	}

	p.ID = id
	p.Owner, _ = model.OwnerFromBytes(owner)
	p.Status = model.PositionStatus(status)
	p.OpenedAt = uint64(openedAt)
	return p, nil
}
