package provider

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Values maps column names to the values of a row being inserted or updated.
type Values map[string]any

// Row is one result row of a query, keyed by column name.
type Row map[string]any

// String returns the column as a string, or nil if it is NULL or missing.
func (r Row) String(col string) *string {
	switch v := r[col].(type) {
	case nil:
		return nil
	case string:
		return &v
	case []byte:
		s := string(v)
		return &s
	case int64:
		s := strconv.FormatInt(v, 10)
		return &s
	case float64:
		s := strconv.FormatFloat(v, 'f', -1, 64)
		return &s
	case bool:
		s := strconv.FormatBool(v)
		return &s
	default:
		s := fmt.Sprint(v)
		return &s
	}
}

// Int64 returns the column as an integer. ok is false for NULL, missing or
// non-numeric values.
func (r Row) Int64(col string) (int64, bool) {
	switch v := r[col].(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	case []byte:
		n, err := strconv.ParseInt(strings.TrimSpace(string(v)), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// Client is a handle on the content surface that tags every mutation with
// an origin. Change events carry the origin back to subscribers, which is
// how a writer recognizes its own echoes.
type Client struct {
	store  *Store
	origin string
}

// Client returns a content client writing as origin.
func (s *Store) Client(origin string) *Client {
	return &Client{store: s, origin: origin}
}

// Origin returns the identity this client writes as.
func (c *Client) Origin() string {
	return c.origin
}

// Query returns the rows of the table addressed by uri. A row URI restricts
// the result to that row. projection nil selects every column. selection is
// an SQL boolean expression using ? placeholders bound to args.
func (c *Client) Query(ctx context.Context, uri URI, projection []string, selection string, args ...any) ([]Row, error) {
	spec, id, hasID, err := c.store.resolve(ctx, c.store.conn, uri)
	if err != nil {
		return nil, err
	}

	if len(projection) == 0 {
		projection = Columns(uri.Table())
		sort.Strings(projection)
	}
	for _, col := range projection {
		if !spec.columns[col] {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, uri.Table(), col)
		}
	}

	where, whereArgs := buildWhere(spec, selection, args, id, hasID)
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s",
		strings.Join(projection, ", "), uri.Table(), where, spec.primaryKey)

	rows, err := c.store.conn.QueryContext(ctx, query, whereArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", uri, err)
	}
	defer rows.Close()

	var result []Row
	for rows.Next() {
		vals := make([]any, len(projection))
		ptrs := make([]any, len(projection))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", uri, err)
		}
		row := make(Row, len(projection))
		for i, col := range projection {
			row[col] = vals[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", uri, err)
	}
	return result, nil
}

// Insert adds a row to the table addressed by uri and returns its id.
func (c *Client) Insert(ctx context.Context, uri URI, values Values) (int64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("insert into %s: no values", uri)
	}

	var newID int64
	err := c.store.withTx(ctx, func(tx *sql.Tx) error {
		spec, _, hasID, err := c.store.resolve(ctx, tx, uri)
		if err != nil {
			return err
		}
		if hasID {
			return fmt.Errorf("%w: insert into row uri %s", ErrInvalidURI, uri)
		}

		cols, vals, err := sortedValues(spec, uri.Table(), values)
		if err != nil {
			return err
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", uri.Table(), strings.Join(cols, ", "), placeholders)

		res, err := tx.ExecContext(ctx, query, vals...)
		if err != nil {
			return fmt.Errorf("failed to insert into %s: %w", uri, err)
		}
		newID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read inserted id: %w", err)
		}
		return c.recordChanges(ctx, tx, uri, []int64{newID})
	})
	if err != nil {
		return 0, err
	}
	c.store.committed()
	return newID, nil
}

// Update sets values on the rows matching uri and selection. Returns the
// number of rows updated.
func (c *Client) Update(ctx context.Context, uri URI, values Values, selection string, args ...any) (int64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("update %s: no values", uri)
	}

	var ids []int64
	err := c.store.withTx(ctx, func(tx *sql.Tx) error {
		spec, id, hasID, err := c.store.resolve(ctx, tx, uri)
		if err != nil {
			return err
		}
		cols, vals, err := sortedValues(spec, uri.Table(), values)
		if err != nil {
			return err
		}
		sets := make([]string, len(cols))
		for i, col := range cols {
			sets[i] = col + " = ?"
		}

		where, whereArgs := buildWhere(spec, selection, args, id, hasID)
		query := fmt.Sprintf("UPDATE %s SET %s%s RETURNING %s",
			uri.Table(), strings.Join(sets, ", "), where, spec.primaryKey)

		ids, err = collectIDs(ctx, tx, query, append(vals, whereArgs...))
		if err != nil {
			return fmt.Errorf("failed to update %s: %w", uri, err)
		}
		return c.recordChanges(ctx, tx, ContentURI(uri.Authority, uri.Table()), ids)
	})
	if err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		c.store.committed()
	}
	return int64(len(ids)), nil
}

// Delete removes the rows matching uri and selection. Returns the number of
// rows deleted. Deleting a task also deletes its properties.
func (c *Client) Delete(ctx context.Context, uri URI, selection string, args ...any) (int64, error) {
	var ids []int64
	err := c.store.withTx(ctx, func(tx *sql.Tx) error {
		spec, id, hasID, err := c.store.resolve(ctx, tx, uri)
		if err != nil {
			return err
		}
		where, whereArgs := buildWhere(spec, selection, args, id, hasID)
		query := fmt.Sprintf("DELETE FROM %s%s RETURNING %s", uri.Table(), where, spec.primaryKey)

		ids, err = collectIDs(ctx, tx, query, whereArgs)
		if err != nil {
			return fmt.Errorf("failed to delete from %s: %w", uri, err)
		}
		return c.recordChanges(ctx, tx, ContentURI(uri.Authority, uri.Table()), ids)
	})
	if err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		c.store.committed()
	}
	return int64(len(ids)), nil
}

// recordChanges appends one change row per affected id.
func (c *Client) recordChanges(ctx context.Context, tx *sql.Tx, table URI, ids []int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO changes (uri, origin, changed_at) VALUES (?, ?, ?)`,
			table.WithID(id).String(), c.origin, now,
		); err != nil {
			return fmt.Errorf("failed to record change: %w", err)
		}
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// resolve validates uri against the contract and the installed authorities.
func (s *Store) resolve(ctx context.Context, q queryer, uri URI) (tableSpec, int64, bool, error) {
	spec, ok := tables[uri.Table()]
	if !ok {
		return tableSpec{}, 0, false, fmt.Errorf("%w: %s", ErrUnknownTable, uri)
	}
	id, hasID, err := uri.rowID()
	if err != nil {
		return tableSpec{}, 0, false, err
	}

	var version string
	err = q.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, authorityKey(uri.Authority)).Scan(&version)
	if err == sql.ErrNoRows {
		return tableSpec{}, 0, false, fmt.Errorf("%w: %s", ErrUnknownAuthority, uri.Authority)
	}
	if err != nil {
		return tableSpec{}, 0, false, fmt.Errorf("failed to check authority %s: %w", uri.Authority, err)
	}
	return spec, id, hasID, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func buildWhere(spec tableSpec, selection string, args []any, id int64, hasID bool) (string, []any) {
	var clauses []string
	whereArgs := append([]any(nil), args...)
	if strings.TrimSpace(selection) != "" {
		clauses = append(clauses, "("+selection+")")
	}
	if hasID {
		clauses = append(clauses, spec.primaryKey+" = ?")
		whereArgs = append(whereArgs, id)
	}
	if len(clauses) == 0 {
		return "", whereArgs
	}
	return " WHERE " + strings.Join(clauses, " AND "), whereArgs
}

func sortedValues(spec tableSpec, table string, values Values) ([]string, []any, error) {
	cols := make([]string, 0, len(values))
	for col := range values {
		if !spec.columns[col] {
			return nil, nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table, col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)
	vals := make([]any, len(cols))
	for i, col := range cols {
		vals[i] = values[col]
	}
	return cols, vals, nil
}

func collectIDs(ctx context.Context, tx *sql.Tx, query string, args []any) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
