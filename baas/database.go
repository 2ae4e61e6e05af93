package baas

import (
	"context"
	"time"
)

// Database gives access to platform tables by name.
type Database interface {
	From(table string) Table
}

// Table is the fluent entry point for a single table. All terminal calls are
// blocking and honour ctx.
type Table interface {
	Select(columns ...string) Query
	Insert(ctx context.Context, rows any) error
	// Upsert inserts rows or updates them when onConflict columns collide.
	Upsert(ctx context.Context, rows any, onConflict ...string) error
	Update(fields map[string]any) Mutation
	Delete() Mutation
	Count(ctx context.Context, filters ...Filter) (int, error)
}

// Query builds a filtered select. dest passed to Single must point to a row
// model, dest passed to Execute must point to a slice of row models.
type Query interface {
	Eq(column string, value any) Query
	In(column string, values ...any) Query
	Order(column string, ascending bool) Query
	Limit(n int) Query
	Single(ctx context.Context, dest any) error
	Execute(ctx context.Context, dest any) error
}

// Mutation builds a filtered update or delete. Execute reports affected rows.
type Mutation interface {
	Eq(column string, value any) Mutation
	Execute(ctx context.Context) (int64, error)
}

// FilterOp enumerates supported filter operators.
type FilterOp string

const (
	OpEq FilterOp = "eq"
	OpIn FilterOp = "in"
)

// Filter is a single column predicate.
type Filter struct {
	Column string
	Op     FilterOp
	Value  any
}

// Eq is a helper to build equality filters for Count.
func Eq(column string, value any) Filter {
	return Filter{Column: column, Op: OpEq, Value: value}
}

// ChangeType names realtime change kinds.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// AllChanges is a convenience set for Subscribe.
var AllChanges = []ChangeType{ChangeInsert, ChangeUpdate, ChangeDelete}

// Change is a realtime notification for a table mutation.
type Change struct {
	Table      string         `json:"table"`
	Type       ChangeType     `json:"type"`
	Filters    []Filter       `json:"filters,omitempty"`
	Record     map[string]any `json:"record,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// ChangeHandler receives realtime changes. Handlers run on the realtime
// delivery goroutine and must not block for long.
type ChangeHandler func(change Change)

// Realtime is the platform change notification channel.
type Realtime interface {
	Subscribe(ctx context.Context, table string, types []ChangeType, handler ChangeHandler) (Subscription, error)
}
