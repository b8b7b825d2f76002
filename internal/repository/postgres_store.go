package repository

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-scm-fulfillment/internal/database"
	"github.com/pesio-ai/be-scm-fulfillment/internal/domain"
	"github.com/pesio-ai/be-scm-fulfillment/internal/errors"
)

//go:embed schema.sql
var schemaSQL string

// pgLockNotAvailable is raised by FOR UPDATE NOWAIT on a locked row
const pgLockNotAvailable = "55P03"

// querier is satisfied by both the pool and a transaction
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore persists orders in the scm_* tables
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the tables if they do not exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to apply schema")
	}
	return nil
}

// InTransaction runs fn in a read-committed transaction
func (s *PostgresStore) InTransaction(ctx context.Context, fn func(tx Tx) error) error {
	err := s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
	if err != nil && !isDomainError(err) {
		return errors.Wrap(err, errors.ErrCodeInternal, "transaction failed")
	}
	return err
}

func isDomainError(err error) bool {
	var e *errors.Error
	return errors.As(err, &e)
}

// ── orders ────────────────────────────────────────────────────────────────────

const orderColumns = `
	id, number, kind, counterparty_ref, approval_state, fulfillment_state, version,
	created_by, submitted_by, submitted_at, decided_by, decided_at, rejection_reason,
	cancelled_by, cancelled_at, cancel_reason, dispatched_by, dispatched_at, dispatch_channel,
	completed_at, created_at, updated_at`

// GetOrder retrieves an order by ID with all lines
func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return getOrder(ctx, s.db, id, "")
}

func getOrder(ctx context.Context, q querier, id, suffix string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM scm_orders WHERE id = $1` + suffix

	order, err := scanOrder(q.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("order", id)
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
			return nil, errors.LockContention(id)
		}
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get order")
	}

	lines, err := getLines(ctx, q, order.ID)
	if err != nil {
		return nil, err
	}
	order.Lines = lines
	return order, nil
}

// ListOrders retrieves orders with filtering and pagination, newest first
func (s *PostgresStore) ListOrders(ctx context.Context, filter OrderFilter) ([]*domain.Order, int64, error) {
	query := `SELECT ` + orderColumns + ` FROM scm_orders WHERE 1 = 1`
	countQuery := `SELECT COUNT(*) FROM scm_orders WHERE 1 = 1`

	args := []any{}
	argCount := 1

	add := func(column string, value any) {
		clause := fmt.Sprintf(" AND %s = $%d", column, argCount)
		query += clause
		countQuery += clause
		args = append(args, value)
		argCount++
	}
	if filter.Kind != nil {
		add("kind", string(*filter.Kind))
	}
	if filter.ApprovalState != nil {
		add("approval_state", string(*filter.ApprovalState))
	}
	if filter.FulfillmentState != nil {
		add("fulfillment_state", string(*filter.FulfillmentState))
	}
	if filter.CounterpartyRef != nil {
		add("counterparty_ref", *filter.CounterpartyRef)
	}

	query += " ORDER BY created_at DESC, number DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)
	queryArgs := append(append([]any{}, args...), filter.limit(), filter.Offset)

	var total int64
	if err := s.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count orders")
	}

	rows, err := s.db.Query(ctx, query, queryArgs...)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to list orders")
	}
	orders := make([]*domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan order")
		}
		orders = append(orders, order)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to list orders")
	}

	for _, order := range orders {
		lines, err := getLines(ctx, s.db, order.ID)
		if err != nil {
			return nil, 0, err
		}
		order.Lines = lines
	}
	return orders, total, nil
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	o := &domain.Order{}
	var kind, approval, fulfillment string
	err := row.Scan(
		&o.ID,
		&o.Number,
		&kind,
		&o.CounterpartyRef,
		&approval,
		&fulfillment,
		&o.Version,
		&o.CreatedBy,
		&o.SubmittedBy,
		&o.SubmittedAt,
		&o.DecidedBy,
		&o.DecidedAt,
		&o.RejectionReason,
		&o.CancelledBy,
		&o.CancelledAt,
		&o.CancelReason,
		&o.DispatchedBy,
		&o.DispatchedAt,
		&o.DispatchChannel,
		&o.CompletedAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Kind = domain.OrderKind(kind)
	o.ApprovalState = domain.ApprovalState(approval)
	o.FulfillmentState = domain.FulfillmentState(fulfillment)
	return o, nil
}

func getLines(ctx context.Context, q querier, orderID string) ([]domain.OrderLine, error) {
	query := `
		SELECT id, order_id, line_number, item_ref, description, unit, unit_kind, precision,
		       committed_qty::text, fulfilled_qty::text, rejected_qty::text, unit_value::text
		FROM scm_order_lines
		WHERE order_id = $1
		ORDER BY line_number
	`

	rows, err := q.Query(ctx, query, orderID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get order lines")
	}
	defer rows.Close()

	lines := make([]domain.OrderLine, 0)
	for rows.Next() {
		var line domain.OrderLine
		var unitKind, committed, fulfilled, rejected, unitValue string
		err := rows.Scan(
			&line.ID,
			&line.OrderID,
			&line.LineNumber,
			&line.ItemRef,
			&line.Description,
			&line.Unit,
			&unitKind,
			&line.Precision,
			&committed,
			&fulfilled,
			&rejected,
			&unitValue,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan order line")
		}
		line.UnitKind = domain.UnitKind(unitKind)
		if line.CommittedQty, err = decimal.NewFromString(committed); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "invalid committed quantity")
		}
		if line.FulfilledQty, err = decimal.NewFromString(fulfilled); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "invalid fulfilled quantity")
		}
		if line.RejectedQty, err = decimal.NewFromString(rejected); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "invalid rejected quantity")
		}
		if line.UnitValue, err = decimal.NewFromString(unitValue); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "invalid unit value")
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get order lines")
	}
	return lines, nil
}

// ── events & documents ────────────────────────────────────────────────────────

const eventColumns = `
	id, order_id, line_id, document_id, direction, delta_qty::text, sequence_no,
	actor_ref, occurred_at, rejected_qty::text, quality_remarks`

// ListEvents returns the order's log in sequence order
func (s *PostgresStore) ListEvents(ctx context.Context, orderID string) ([]domain.FulfillmentEvent, error) {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM scm_orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to check order")
	}
	if !exists {
		return nil, errors.NotFound("order", orderID)
	}

	query := `SELECT ` + eventColumns + ` FROM scm_fulfillment_events WHERE order_id = $1 ORDER BY sequence_no`
	return queryEvents(ctx, s.db, query, orderID)
}

// GetDocument returns a document with its events
func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*domain.FulfillmentDocument, error) {
	doc := &domain.FulfillmentDocument{}
	var kind, direction string

	err := s.db.QueryRow(ctx, `
		SELECT id, order_id, number, kind, direction, actor_ref, created_at
		FROM scm_fulfillment_documents
		WHERE id = $1
	`, id).Scan(&doc.ID, &doc.OrderID, &doc.Number, &kind, &direction, &doc.ActorRef, &doc.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("document", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get document")
	}
	doc.Kind = domain.DocumentKind(kind)
	doc.Direction = domain.Direction(direction)

	query := `SELECT ` + eventColumns + ` FROM scm_fulfillment_events WHERE document_id = $1 ORDER BY sequence_no`
	doc.Events, err = queryEvents(ctx, s.db, query, id)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func queryEvents(ctx context.Context, q querier, query string, args ...any) ([]domain.FulfillmentEvent, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get fulfillment events")
	}
	defer rows.Close()

	events := make([]domain.FulfillmentEvent, 0)
	for rows.Next() {
		var ev domain.FulfillmentEvent
		var direction, delta string
		var rejected, remarks *string
		err := rows.Scan(
			&ev.ID,
			&ev.OrderID,
			&ev.LineID,
			&ev.DocumentID,
			&direction,
			&delta,
			&ev.SequenceNo,
			&ev.ActorRef,
			&ev.OccurredAt,
			&rejected,
			&remarks,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan fulfillment event")
		}
		ev.Direction = domain.Direction(direction)
		if ev.DeltaQty, err = decimal.NewFromString(delta); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "invalid delta quantity")
		}
		if rejected != nil {
			quality := &domain.QualityOutcome{}
			if quality.RejectedQty, err = decimal.NewFromString(*rejected); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "invalid rejected quantity")
			}
			if remarks != nil {
				quality.Remarks = *remarks
			}
			ev.Quality = quality
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get fulfillment events")
	}
	return events, nil
}

// ── audit ─────────────────────────────────────────────────────────────────────

// AppendAudit inserts one audit entry
func (s *PostgresStore) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit metadata")
		}
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.PerformedAt.IsZero() {
		entry.PerformedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO scm_order_audit_log
		    (id, order_id, action, performed_by, performed_at,
		     status_before, status_after, fulfillment_before, fulfillment_after,
		     metadata)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7, $8, $9,
		        $10)
	`,
		entry.ID,
		entry.OrderID,
		entry.Action,
		entry.PerformedBy,
		entry.PerformedAt,
		entry.StatusBefore,
		entry.StatusAfter,
		entry.FulfillmentBefore,
		entry.FulfillmentAfter,
		metadataJSON,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append audit entry")
	}
	return nil
}

// ListAudit returns the full audit trail for an order ordered oldest-first
func (s *PostgresStore) ListAudit(ctx context.Context, orderID string) ([]*AuditEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, order_id, action, performed_by, performed_at,
		       status_before, status_after, fulfillment_before, fulfillment_after,
		       metadata
		FROM scm_order_audit_log
		WHERE order_id = $1
		ORDER BY performed_at ASC
	`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	entries := make([]*AuditEntry, 0)
	for rows.Next() {
		entry := &AuditEntry{}
		var metadataJSON []byte
		err := rows.Scan(
			&entry.ID,
			&entry.OrderID,
			&entry.Action,
			&entry.PerformedBy,
			&entry.PerformedAt,
			&entry.StatusBefore,
			&entry.StatusAfter,
			&entry.FulfillmentBefore,
			&entry.FulfillmentAfter,
			&metadataJSON,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
		}
		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit metadata")
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit log")
	}
	return entries, nil
}

// ── transaction ───────────────────────────────────────────────────────────────

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) CreateOrder(ctx context.Context, order *domain.Order) error {
	order.Version = 1
	_, err := t.tx.Exec(ctx, `
		INSERT INTO scm_orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7,
		        $8, $9, $10, $11, $12, $13,
		        $14, $15, $16, $17, $18, $19,
		        $20, $21, $22)
	`, orderArgs(order)...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return errors.InvalidInput("id", fmt.Sprintf("order %q already exists", order.ID))
		}
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create order")
	}

	return t.saveLines(ctx, order)
}

func (t *pgTx) LockOrder(ctx context.Context, id string) (*domain.Order, error) {
	return getOrder(ctx, t.tx, id, " FOR UPDATE NOWAIT")
}

func (t *pgTx) SaveOrder(ctx context.Context, order *domain.Order) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE scm_orders
		SET approval_state = $3,
		    fulfillment_state = $4,
		    version = version + 1,
		    submitted_by = $5,
		    submitted_at = $6,
		    decided_by = $7,
		    decided_at = $8,
		    rejection_reason = $9,
		    cancelled_by = $10,
		    cancelled_at = $11,
		    cancel_reason = $12,
		    dispatched_by = $13,
		    dispatched_at = $14,
		    dispatch_channel = $15,
		    completed_at = $16,
		    updated_at = $17
		WHERE id = $1 AND version = $2
	`,
		order.ID,
		order.Version,
		string(order.ApprovalState),
		string(order.FulfillmentState),
		order.SubmittedBy,
		order.SubmittedAt,
		order.DecidedBy,
		order.DecidedAt,
		order.RejectionReason,
		order.CancelledBy,
		order.CancelledAt,
		order.CancelReason,
		order.DispatchedBy,
		order.DispatchedAt,
		order.DispatchChannel,
		order.CompletedAt,
		order.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update order")
	}
	if tag.RowsAffected() == 0 {
		return errors.LockContention(order.ID)
	}
	order.Version++

	return t.saveLines(ctx, order)
}

func (t *pgTx) saveLines(ctx context.Context, order *domain.Order) error {
	query := `
		INSERT INTO scm_order_lines (id, order_id, line_number, item_ref, description, unit, unit_kind, precision,
		                             committed_qty, fulfilled_qty, rejected_qty, unit_value)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10::numeric, $11::numeric, $12::numeric)
		ON CONFLICT (id) DO UPDATE
		SET fulfilled_qty = EXCLUDED.fulfilled_qty,
		    rejected_qty = EXCLUDED.rejected_qty
	`

	for _, line := range order.Lines {
		_, err := t.tx.Exec(ctx, query,
			line.ID,
			order.ID,
			line.LineNumber,
			line.ItemRef,
			line.Description,
			line.Unit,
			string(line.UnitKind),
			line.Precision,
			line.CommittedQty.String(),
			line.FulfilledQty.String(),
			line.RejectedQty.String(),
			line.UnitValue.String(),
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to save order line")
		}
	}
	return nil
}

func (t *pgTx) AppendEvents(ctx context.Context, orderID string, events []domain.FulfillmentEvent) ([]domain.FulfillmentEvent, error) {
	var last int64
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_no), 0) FROM scm_fulfillment_events WHERE order_id = $1`,
		orderID,
	).Scan(&last)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read event sequence")
	}

	query := `
		INSERT INTO scm_fulfillment_events (id, order_id, line_id, document_id, direction, delta_qty, sequence_no,
		                                    actor_ref, occurred_at, rejected_qty, quality_remarks)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10::numeric, $11)
	`

	out := make([]domain.FulfillmentEvent, len(events))
	for i, ev := range events {
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		ev.OrderID = orderID
		ev.SequenceNo = last + int64(i) + 1

		var rejected, remarks *string
		if ev.Quality != nil {
			r := ev.Quality.RejectedQty.String()
			rejected = &r
			if ev.Quality.Remarks != "" {
				remarks = &ev.Quality.Remarks
			}
		}

		_, err := t.tx.Exec(ctx, query,
			ev.ID,
			ev.OrderID,
			ev.LineID,
			ev.DocumentID,
			string(ev.Direction),
			ev.DeltaQty.String(),
			ev.SequenceNo,
			ev.ActorRef,
			ev.OccurredAt,
			rejected,
			remarks,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to append fulfillment event")
		}
		out[i] = ev
	}
	return out, nil
}

// SaveDocument inserts the document header. Its events are written by
// AppendEvents, so the document must be saved first.
func (t *pgTx) SaveDocument(ctx context.Context, doc *domain.FulfillmentDocument) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO scm_fulfillment_documents (id, order_id, number, kind, direction, actor_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, doc.ID, doc.OrderID, doc.Number, string(doc.Kind), string(doc.Direction), doc.ActorRef, doc.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to save document")
	}
	return nil
}

func (t *pgTx) NextNumber(ctx context.Context, series string) (int64, error) {
	var next int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO scm_number_series (series, last_value)
		VALUES ($1, 1)
		ON CONFLICT (series) DO UPDATE SET last_value = scm_number_series.last_value + 1
		RETURNING last_value
	`, series).Scan(&next)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to allocate number")
	}
	return next, nil
}

func orderArgs(o *domain.Order) []any {
	return []any{
		o.ID,
		o.Number,
		string(o.Kind),
		o.CounterpartyRef,
		string(o.ApprovalState),
		string(o.FulfillmentState),
		o.Version,
		o.CreatedBy,
		o.SubmittedBy,
		o.SubmittedAt,
		o.DecidedBy,
		o.DecidedAt,
		o.RejectionReason,
		o.CancelledBy,
		o.CancelledAt,
		o.CancelReason,
		o.DispatchedBy,
		o.DispatchedAt,
		o.DispatchChannel,
		o.CompletedAt,
		o.CreatedAt,
		o.UpdatedAt,
	}
}
