package loam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pthm/loam/pkg/compiler"
	"github.com/pthm/loam/pkg/delta"
)

// Response is the result of executing a batch.
type Response struct {
	// Data holds one JSON value per top-level field of the operation.
	Data map[string]json.RawMessage `json:"data"`
	// AffectedRows lists the rows a mutation touched at storage level. It
	// is never part of what a client sees; pass it to Deltas.
	AffectedRows []delta.AffectedRow `json:"-"`
}

// Execute binds args and session to batch and runs its statements in one
// transaction, so the writes, the response and the affected rows observe
// the same snapshot. Any failure rolls the whole batch back.
func (r *Runtime) Execute(ctx context.Context, batch *compiler.Batch, args, session map[string]any) (*Response, error) {
	if batch == nil {
		return nil, errors.New("loam: nil batch")
	}
	bindings, err := batch.Bind(args, session)
	if err != nil {
		return nil, fmt.Errorf("binding %s: %w", batch.Name, err)
	}

	start := time.Now()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting %s: %w", batch.Name, err)
	}
	defer func() { _ = tx.Rollback() }()

	resp := &Response{Data: make(map[string]json.RawMessage)}
	for i, stmt := range batch.Statements {
		if !stmt.IncludeInResponse {
			if _, err := tx.ExecContext(ctx, stmt.SQL, bindings.Args(stmt)...); err != nil {
				return nil, fmt.Errorf("%s statement %d: %w", batch.Name, i, err)
			}
			continue
		}

		var body sql.NullString
		if err := tx.QueryRowContext(ctx, stmt.SQL, bindings.Args(stmt)...).Scan(&body); err != nil {
			return nil, fmt.Errorf("%s statement %d: %w", batch.Name, i, err)
		}
		if stmt.Key == compiler.AffectedRowsKey {
			rows, err := delta.ParseAffectedRows([]byte(body.String))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", batch.Name, err)
			}
			resp.AffectedRows = rows
			continue
		}
		if !body.Valid {
			resp.Data[stmt.Key] = json.RawMessage("null")
			continue
		}
		resp.Data[stmt.Key] = json.RawMessage(body.String)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing %s: %w", batch.Name, err)
	}
	r.logger.Debug("executed batch",
		"operation", batch.Name,
		"statements", len(batch.Statements),
		"affected_rows", len(resp.AffectedRows),
		"duration", time.Since(start))
	return resp, nil
}

// ExecuteNamed runs the named batch of compiled.
func (r *Runtime) ExecuteNamed(ctx context.Context, compiled *compiler.Compiled, name string, args, session map[string]any) (*Response, error) {
	b := compiled.Batch(name)
	if b == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, name)
	}
	return r.Execute(ctx, b, args, session)
}
