package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
)

type memTable struct {
	order []string
	rows  map[string]Record
}

type subscription struct {
	id     int
	table  string
	filter map[string]any
	fn     func(Event)
}

// Memory is an in-process store for development and tests. It supports
// change subscriptions and snapshot transactions.
type Memory struct {
	mu        sync.RWMutex
	txMu      sync.Mutex
	tables    map[string]*memTable
	subs      []subscription
	nextSub   int
	connected bool
}

func NewMemory() *Memory {
	return &Memory{tables: make(map[string]*memTable)}
}

func (m *Memory) Connect(context.Context) error {
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close(context.Context) error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return nil
}

func (m *Memory) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func (m *Memory) table(name string) *memTable {
	t, ok := m.tables[name]
	if !ok {
		t = &memTable{rows: make(map[string]Record)}
		m.tables[name] = t
	}
	return t
}

func (m *Memory) scan(table string, filter map[string]any) []Record {
	t, ok := m.tables[table]
	if !ok {
		return nil
	}
	var out []Record
	for _, id := range t.order {
		if r := t.rows[id]; matches(r, filter) {
			out = append(out, r.Clone())
		}
	}
	return out
}

func project(r Record, fields []string) Record {
	if len(fields) == 0 {
		return r
	}
	out := make(Record, len(fields))
	for _, f := range fields {
		if v, ok := r[f]; ok {
			out[f] = v
		}
	}
	return out
}

func (m *Memory) FindMany(_ context.Context, table string, opts QueryOptions) (*Page, error) {
	m.mu.RLock()
	recs := m.scan(table, opts.Filter)
	m.mu.RUnlock()

	sortRecords(recs, opts.Sort)
	total := len(recs)

	if opts.Offset > 0 {
		if opts.Offset >= len(recs) {
			recs = nil
		} else {
			recs = recs[opts.Offset:]
		}
	}
	if opts.Limit > 0 && len(recs) > opts.Limit {
		recs = recs[:opts.Limit]
	}
	for i := range recs {
		recs[i] = project(recs[i], opts.Select)
	}
	return &Page{Records: recs, Pagination: newPagination(opts, total)}, nil
}

func (m *Memory) FindByID(_ context.Context, table, id string, opts QueryOptions) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tables[table]
	if !ok {
		return nil, notFound(table)
	}
	r, ok := t.rows[id]
	if !ok || !matches(r, opts.Filter) {
		return nil, notFound(table)
	}
	return project(r.Clone(), opts.Select), nil
}

func (m *Memory) FindOne(_ context.Context, table string, filter map[string]any, opts QueryOptions) (Record, error) {
	m.mu.RLock()
	recs := m.scan(table, mergeFilters(filter, opts.Filter))
	m.mu.RUnlock()

	sortRecords(recs, opts.Sort)
	if len(recs) == 0 {
		return nil, notFound(table)
	}
	return project(recs[0], opts.Select), nil
}

func (m *Memory) Create(ctx context.Context, table string, data Record) (Record, error) {
	recs, err := m.CreateMany(ctx, table, []Record{data})
	if err != nil {
		return nil, err
	}
	return recs[0], nil
}

func (m *Memory) CreateMany(_ context.Context, table string, data []Record) ([]Record, error) {
	now := time.Now().UTC()
	out := make([]Record, 0, len(data))

	m.mu.Lock()
	t := m.table(table)
	for _, d := range data {
		r := d.Clone()
		if r.String("id") == "" {
			r["id"] = uuid.NewString()
		}
		if _, ok := r["created_at"]; !ok {
			r["created_at"] = now
		}
		if _, ok := r["updated_at"]; !ok {
			r["updated_at"] = now
		}
		r = plainRecord(r)
		id := fmt.Sprint(r["id"])
		if _, dup := t.rows[id]; dup {
			m.mu.Unlock()
			return nil, apperrors.Conflict(fmt.Sprintf("duplicate id in %s", table))
		}
		t.rows[id] = r
		t.order = append(t.order, id)
		out = append(out, r.Clone())
	}
	m.mu.Unlock()

	for _, r := range out {
		m.publish(Event{Type: EventInsert, Table: table, Record: r})
	}
	return out, nil
}

func (m *Memory) Update(_ context.Context, table, id string, data Record) (Record, error) {
	m.mu.Lock()
	t, ok := m.tables[table]
	if !ok {
		m.mu.Unlock()
		return nil, notFound(table)
	}
	r, ok := t.rows[id]
	if !ok {
		m.mu.Unlock()
		return nil, notFound(table)
	}
	for k, v := range plainRecord(data) {
		if k == "id" {
			continue
		}
		r[k] = v
	}
	out := r.Clone()
	m.mu.Unlock()

	m.publish(Event{Type: EventUpdate, Table: table, Record: out})
	return out, nil
}

func (m *Memory) Delete(_ context.Context, table, id string) error {
	m.mu.Lock()
	t, ok := m.tables[table]
	if !ok {
		m.mu.Unlock()
		return notFound(table)
	}
	r, ok := t.rows[id]
	if !ok {
		m.mu.Unlock()
		return notFound(table)
	}
	t.remove(id)
	m.mu.Unlock()

	m.publish(Event{Type: EventDelete, Table: table, Record: r})
	return nil
}

func (m *Memory) UpdateMany(ctx context.Context, table string, filter map[string]any, data Record) (int64, error) {
	m.mu.RLock()
	recs := m.scan(table, filter)
	m.mu.RUnlock()

	var n int64
	for _, r := range recs {
		if _, err := m.Update(ctx, table, fmt.Sprint(r["id"]), data); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (m *Memory) DeleteMany(ctx context.Context, table string, filter map[string]any) (int64, error) {
	m.mu.RLock()
	recs := m.scan(table, filter)
	m.mu.RUnlock()

	var n int64
	for _, r := range recs {
		if err := m.Delete(ctx, table, fmt.Sprint(r["id"])); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (m *Memory) Subscribe(_ context.Context, table string, filter map[string]any, fn func(Event)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSub++
	id := m.nextSub
	m.subs = append(m.subs, subscription{id: id, table: table, filter: filter, fn: fn})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.subs {
			if s.id == id {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				return
			}
		}
	}, nil
}

func (m *Memory) publish(ev Event) {
	m.mu.RLock()
	var targets []func(Event)
	for _, s := range m.subs {
		if s.table == ev.Table && matches(ev.Record, s.filter) {
			targets = append(targets, s.fn)
		}
	}
	m.mu.RUnlock()

	for _, fn := range targets {
		fn(ev)
	}
}

// Transaction restores a snapshot of every table when fn fails.
// Transactions are serialised against each other, not against plain calls.
func (m *Memory) Transaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	snapshot := m.snapshot()
	m.mu.RUnlock()

	if err := fn(ctx, m); err != nil {
		m.mu.Lock()
		m.tables = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *Memory) snapshot() map[string]*memTable {
	out := make(map[string]*memTable, len(m.tables))
	for name, t := range m.tables {
		c := &memTable{order: append([]string(nil), t.order...), rows: make(map[string]Record, len(t.rows))}
		for id, r := range t.rows {
			c.rows[id] = r.Clone()
		}
		out[name] = c
	}
	return out
}

func (t *memTable) remove(id string) {
	delete(t.rows, id)
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}

func mergeFilters(filters ...map[string]any) map[string]any {
	out := map[string]any{}
	for _, f := range filters {
		for k, v := range f {
			out[k] = v
		}
	}
	return out
}

func notFound(table string) error {
	return apperrors.NotFound(fmt.Sprintf("record not found in %s", table))
}
