package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-scm-fulfillment/internal/domain"
	"github.com/pesio-ai/be-scm-fulfillment/internal/errors"
)

// MemoryStore keeps everything in process. Each order has its own row lock;
// transactions stage their writes and publish them on commit.
type MemoryStore struct {
	mu        sync.RWMutex
	orders    map[string]*domain.Order
	events    map[string][]domain.FulfillmentEvent
	documents map[string]*domain.FulfillmentDocument
	audit     map[string][]*AuditEntry
	counters  map[string]int64
	rowLocks  map[string]*sync.Mutex
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:    make(map[string]*domain.Order),
		events:    make(map[string][]domain.FulfillmentEvent),
		documents: make(map[string]*domain.FulfillmentDocument),
		audit:     make(map[string][]*AuditEntry),
		counters:  make(map[string]int64),
		rowLocks:  make(map[string]*sync.Mutex),
	}
}

// InTransaction runs fn against a staging transaction
func (s *MemoryStore) InTransaction(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memoryTx{
		s:       s,
		locked:  make(map[string]*sync.Mutex),
		orders:  make(map[string]*domain.Order),
		created: make(map[string]bool),
		events:  make(map[string][]domain.FulfillmentEvent),
	}
	defer tx.release()

	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "transaction aborted")
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

// GetOrder returns a copy of the stored order
func (s *MemoryStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, errors.NotFound("order", id)
	}
	return order.Clone(), nil
}

// ListOrders returns orders newest first
func (s *MemoryStore) ListOrders(ctx context.Context, filter OrderFilter) ([]*domain.Order, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*domain.Order, 0)
	for _, order := range s.orders {
		if filter.matches(order) {
			matched = append(matched, order)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].Number > matched[j].Number
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	if filter.Offset >= len(matched) {
		return []*domain.Order{}, total, nil
	}
	end := filter.Offset + filter.limit()
	if end > len(matched) {
		end = len(matched)
	}

	page := make([]*domain.Order, 0, end-filter.Offset)
	for _, order := range matched[filter.Offset:end] {
		page = append(page, order.Clone())
	}
	return page, total, nil
}

// ListEvents returns the order's log in sequence order
func (s *MemoryStore) ListEvents(ctx context.Context, orderID string) ([]domain.FulfillmentEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.orders[orderID]; !ok {
		return nil, errors.NotFound("order", orderID)
	}
	out := make([]domain.FulfillmentEvent, len(s.events[orderID]))
	copy(out, s.events[orderID])
	return out, nil
}

// GetDocument returns a document with its events
func (s *MemoryStore) GetDocument(ctx context.Context, id string) (*domain.FulfillmentDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, errors.NotFound("document", id)
	}
	c := *doc
	c.Events = make([]domain.FulfillmentEvent, 0)
	for _, ev := range s.events[doc.OrderID] {
		if ev.DocumentID == id {
			c.Events = append(c.Events, ev)
		}
	}
	return &c, nil
}

// AppendAudit appends one audit entry
func (s *MemoryStore) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	c := *entry
	s.audit[entry.OrderID] = append(s.audit[entry.OrderID], &c)
	return nil
}

// ListAudit returns the audit trail oldest first
func (s *MemoryStore) ListAudit(ctx context.Context, orderID string) ([]*AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*AuditEntry, 0, len(s.audit[orderID]))
	for _, entry := range s.audit[orderID] {
		c := *entry
		entries = append(entries, &c)
	}
	return entries, nil
}

func (s *MemoryStore) rowLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.rowLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.rowLocks[id] = l
	}
	return l
}

// ── transaction ───────────────────────────────────────────────────────────────

type memoryTx struct {
	s         *MemoryStore
	locked    map[string]*sync.Mutex
	orders    map[string]*domain.Order
	created   map[string]bool
	events    map[string][]domain.FulfillmentEvent
	documents []*domain.FulfillmentDocument
}

func (tx *memoryTx) CreateOrder(ctx context.Context, order *domain.Order) error {
	tx.s.mu.RLock()
	_, exists := tx.s.orders[order.ID]
	tx.s.mu.RUnlock()
	if exists || tx.created[order.ID] {
		return errors.InvalidInput("id", fmt.Sprintf("order %q already exists", order.ID))
	}

	order.Version = 1
	tx.orders[order.ID] = order.Clone()
	tx.created[order.ID] = true
	return nil
}

func (tx *memoryTx) LockOrder(ctx context.Context, id string) (*domain.Order, error) {
	if staged, ok := tx.orders[id]; ok {
		return staged.Clone(), nil
	}

	tx.s.mu.RLock()
	_, exists := tx.s.orders[id]
	tx.s.mu.RUnlock()
	if !exists {
		return nil, errors.NotFound("order", id)
	}

	if _, held := tx.locked[id]; !held {
		l := tx.s.rowLock(id)
		if !l.TryLock() {
			return nil, errors.LockContention(id)
		}
		tx.locked[id] = l
	}

	tx.s.mu.RLock()
	order := tx.s.orders[id].Clone()
	tx.s.mu.RUnlock()
	tx.orders[id] = order.Clone()
	return order, nil
}

func (tx *memoryTx) SaveOrder(ctx context.Context, order *domain.Order) error {
	staged, ok := tx.orders[order.ID]
	if !ok {
		return errors.Newf(errors.ErrCodeInternal, "order %q was not locked in this transaction", order.ID)
	}
	if staged.Version != order.Version {
		return errors.LockContention(order.ID)
	}

	order.Version++
	tx.orders[order.ID] = order.Clone()
	return nil
}

func (tx *memoryTx) AppendEvents(ctx context.Context, orderID string, events []domain.FulfillmentEvent) ([]domain.FulfillmentEvent, error) {
	if _, ok := tx.orders[orderID]; !ok {
		return nil, errors.Newf(errors.ErrCodeInternal, "order %q was not locked in this transaction", orderID)
	}

	tx.s.mu.RLock()
	next := int64(len(tx.s.events[orderID]) + len(tx.events[orderID]) + 1)
	tx.s.mu.RUnlock()

	out := make([]domain.FulfillmentEvent, len(events))
	for i, ev := range events {
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		ev.OrderID = orderID
		ev.SequenceNo = next + int64(i)
		out[i] = ev
	}
	tx.events[orderID] = append(tx.events[orderID], out...)
	return out, nil
}

// SaveDocument stores the document header. Its events are read back from the
// order log by document id.
func (tx *memoryTx) SaveDocument(ctx context.Context, doc *domain.FulfillmentDocument) error {
	c := *doc
	c.Events = nil
	tx.documents = append(tx.documents, &c)
	return nil
}

// NextNumber is not rolled back with the transaction; series may have gaps.
func (tx *memoryTx) NextNumber(ctx context.Context, series string) (int64, error) {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()

	tx.s.counters[series]++
	return tx.s.counters[series], nil
}

func (tx *memoryTx) commit() error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()

	for id := range tx.created {
		if _, exists := tx.s.orders[id]; exists {
			return errors.InvalidInput("id", fmt.Sprintf("order %q already exists", id))
		}
	}
	for id, order := range tx.orders {
		tx.s.orders[id] = order
	}
	for id, evs := range tx.events {
		tx.s.events[id] = append(tx.s.events[id], evs...)
	}
	for _, doc := range tx.documents {
		tx.s.documents[doc.ID] = doc
	}
	return nil
}

func (tx *memoryTx) release() {
	for _, l := range tx.locked {
		l.Unlock()
	}
}
