package local

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-alumni/baas"
	"github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

var _ baas.Database = (*Database)(nil)

// Database implements baas.Database over bun. Tables must be registered with
// a bun model before use; the model defines columns and the physical name.
type Database struct {
	db     bun.IDB
	broker *Broker

	mu     sync.RWMutex
	tables map[string]reflect.Type
}

// NewDatabase returns a Database publishing mutations to broker.
func NewDatabase(db bun.IDB, broker *Broker) *Database {
	return &Database{
		db:     db,
		broker: broker,
		tables: map[string]reflect.Type{},
	}
}

// Register binds table to model, a pointer to a bun model struct.
func (d *Database) Register(table string, model any) {
	t := reflect.TypeOf(model)
	if t == nil || t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		panic(fmt.Sprintf("local: model for table %q must be a struct pointer", table))
	}
	d.mu.Lock()
	d.tables[table] = t
	d.mu.Unlock()
}

// Models returns a nil model pointer per registered table.
func (d *Database) Models() map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]any, len(d.tables))
	for name, t := range d.tables {
		out[name] = reflect.Zero(t).Interface()
	}
	return out
}

// From returns the table handle. Unknown tables yield a handle whose
// terminal calls fail with baas.ErrUnknownTable.
func (d *Database) From(table string) baas.Table {
	d.mu.RLock()
	t, ok := d.tables[table]
	d.mu.RUnlock()
	return &tableRef{d: d, name: table, model: t, known: ok}
}

type tableRef struct {
	d     *Database
	name  string
	model reflect.Type
	known bool
}

func (t *tableRef) nilModel() any {
	return reflect.Zero(t.model).Interface()
}

func (t *tableRef) check() error {
	if !t.known {
		return errors.Wrap(baas.ErrUnknownTable, errors.CategoryBadInput, fmt.Sprintf("unknown table %q", t.name))
	}
	return nil
}

func (t *tableRef) Select(columns ...string) baas.Query {
	return &query{table: t, columns: columns}
}

func (t *tableRef) Insert(ctx context.Context, rows any) error {
	if err := t.check(); err != nil {
		return err
	}

	if _, err := t.d.db.NewInsert().Model(rows).Exec(ctx); err != nil {
		return wrapStoreErr(err, "insert", t.name)
	}

	t.publishRows(ctx, baas.ChangeInsert, rows)
	return nil
}

func (t *tableRef) Upsert(ctx context.Context, rows any, onConflict ...string) error {
	if err := t.check(); err != nil {
		return err
	}

	if len(onConflict) == 0 {
		onConflict = []string{"id"}
	}

	_, err := t.d.db.NewInsert().
		Model(rows).
		On(fmt.Sprintf("CONFLICT (%s) DO UPDATE", strings.Join(onConflict, ", "))).
		Exec(ctx)
	if err != nil {
		return wrapStoreErr(err, "upsert", t.name)
	}

	t.publishRows(ctx, baas.ChangeUpdate, rows)
	return nil
}

func (t *tableRef) Update(fields map[string]any) baas.Mutation {
	return &mutation{table: t, kind: baas.ChangeUpdate, fields: fields}
}

func (t *tableRef) Delete() baas.Mutation {
	return &mutation{table: t, kind: baas.ChangeDelete}
}

func (t *tableRef) Count(ctx context.Context, filters ...baas.Filter) (int, error) {
	if err := t.check(); err != nil {
		return 0, err
	}

	q := t.d.db.NewSelect().Model(t.nilModel())
	applySelectFilters(q, filters)

	n, err := q.Count(ctx)
	if err != nil {
		return 0, wrapStoreErr(err, "count", t.name)
	}
	return n, nil
}

func (t *tableRef) publishRows(ctx context.Context, kind baas.ChangeType, rows any) {
	if t.d.broker == nil {
		return
	}

	for _, record := range toRecords(rows) {
		t.d.broker.Publish(ctx, baas.Change{
			Table:  t.name,
			Type:   kind,
			Record: record,
		})
	}
}

type query struct {
	table   *tableRef
	columns []string
	filters []baas.Filter
	orders  []order
	limit   int
}

type order struct {
	column    string
	ascending bool
}

func (q *query) Eq(column string, value any) baas.Query {
	q.filters = append(q.filters, baas.Filter{Column: column, Op: baas.OpEq, Value: value})
	return q
}

func (q *query) In(column string, values ...any) baas.Query {
	q.filters = append(q.filters, baas.Filter{Column: column, Op: baas.OpIn, Value: values})
	return q
}

func (q *query) Order(column string, ascending bool) baas.Query {
	q.orders = append(q.orders, order{column: column, ascending: ascending})
	return q
}

func (q *query) Limit(n int) baas.Query {
	q.limit = n
	return q
}

// Single scans exactly one row into dest.
func (q *query) Single(ctx context.Context, dest any) error {
	if err := q.table.check(); err != nil {
		return err
	}

	count, err := q.table.Count(ctx, q.filters...)
	if err != nil {
		return err
	}

	switch {
	case count == 0:
		return baas.ErrNoRows
	case count > 1:
		return baas.ErrMultipleRows
	}

	sel := q.build(dest).Limit(1)
	if err := sel.Scan(ctx); err != nil {
		return wrapStoreErr(err, "select", q.table.name)
	}
	return nil
}

func (q *query) Execute(ctx context.Context, dest any) error {
	if err := q.table.check(); err != nil {
		return err
	}

	sel := q.build(dest)
	if q.limit > 0 {
		sel = sel.Limit(q.limit)
	}

	if err := sel.Scan(ctx); err != nil {
		return wrapStoreErr(err, "select", q.table.name)
	}
	return nil
}

func (q *query) build(dest any) *bun.SelectQuery {
	sel := q.table.d.db.NewSelect().Model(dest)

	cols := make([]string, 0, len(q.columns))
	for _, c := range q.columns {
		if c = strings.TrimSpace(c); c != "" && c != "*" {
			cols = append(cols, c)
		}
	}
	if len(cols) > 0 {
		sel = sel.Column(cols...)
	}

	applySelectFilters(sel, q.filters)

	for _, o := range q.orders {
		dir := "DESC"
		if o.ascending {
			dir = "ASC"
		}
		sel = sel.OrderExpr("? "+dir, bun.Ident(o.column))
	}

	return sel
}

type mutation struct {
	table   *tableRef
	kind    baas.ChangeType
	fields  map[string]any
	filters []baas.Filter
}

func (m *mutation) Eq(column string, value any) baas.Mutation {
	m.filters = append(m.filters, baas.Filter{Column: column, Op: baas.OpEq, Value: value})
	return m
}

func (m *mutation) Execute(ctx context.Context) (int64, error) {
	if err := m.table.check(); err != nil {
		return 0, err
	}

	if len(m.filters) == 0 {
		return 0, errors.New("refusing unfiltered mutation", errors.CategoryBadInput).
			WithTextCode("BAAS_UNFILTERED_MUTATION").
			WithCode(errors.CodeBadRequest)
	}

	var affected int64
	switch m.kind {
	case baas.ChangeUpdate:
		if len(m.fields) == 0 {
			return 0, nil
		}
		q := m.table.d.db.NewUpdate().Model(m.table.nilModel())
		for _, col := range sortedKeys(m.fields) {
			q = q.Set("? = ?", bun.Ident(col), m.fields[col])
		}
		for _, f := range m.filters {
			q = q.Where(filterExpr(f), bun.Ident(f.Column), filterValue(f))
		}
		res, err := q.Exec(ctx)
		if err != nil {
			return 0, wrapStoreErr(err, "update", m.table.name)
		}
		affected, _ = res.RowsAffected()
	case baas.ChangeDelete:
		q := m.table.d.db.NewDelete().Model(m.table.nilModel())
		for _, f := range m.filters {
			q = q.Where(filterExpr(f), bun.Ident(f.Column), filterValue(f))
		}
		res, err := q.Exec(ctx)
		if err != nil {
			return 0, wrapStoreErr(err, "delete", m.table.name)
		}
		affected, _ = res.RowsAffected()
	}

	if affected > 0 && m.table.d.broker != nil {
		m.table.d.broker.Publish(ctx, baas.Change{
			Table:   m.table.name,
			Type:    m.kind,
			Filters: m.filters,
			Record:  m.record(),
		})
	}

	return affected, nil
}

func (m *mutation) record() map[string]any {
	record := make(map[string]any, len(m.fields)+len(m.filters))
	for k, v := range m.fields {
		record[k] = v
	}
	for _, f := range m.filters {
		if f.Op == baas.OpEq {
			record[f.Column] = f.Value
		}
	}
	return record
}

func applySelectFilters(q *bun.SelectQuery, filters []baas.Filter) {
	for _, f := range filters {
		q.Where(filterExpr(f), bun.Ident(f.Column), filterValue(f))
	}
}

func filterExpr(f baas.Filter) string {
	if f.Op == baas.OpIn {
		return "? IN (?)"
	}
	return "? = ?"
}

func filterValue(f baas.Filter) any {
	if f.Op == baas.OpIn {
		return bun.In(f.Value)
	}
	return f.Value
}

func wrapStoreErr(err error, op, table string) error {
	return errors.Wrap(err, errors.CategoryOperation, fmt.Sprintf("%s on %s failed", op, table)).
		WithTextCode(baas.TextCodeUnavailable)
}

func toRecords(rows any) []map[string]any {
	raw, err := json.Marshal(rows)
	if err != nil {
		return nil
	}

	var many []map[string]any
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}

	var one map[string]any
	if err := json.Unmarshal(raw, &one); err == nil {
		return []map[string]any{one}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
