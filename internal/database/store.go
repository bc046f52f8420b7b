package database

import "context"

// Record is one row as exchanged with a backend.
type Record map[string]any

func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

type SortField struct {
	Field string
	Desc  bool
}

type QueryOptions struct {
	Filter map[string]any
	Sort   []SortField
	Limit  int
	Offset int
	Select []string
}

type Pagination struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasMore bool `json:"has_more"`
}

type Page struct {
	Records    []Record
	Pagination *Pagination
}

func newPagination(opts QueryOptions, total int) *Pagination {
	if opts.Limit <= 0 {
		return nil
	}
	return &Pagination{
		Page:    opts.Offset/opts.Limit + 1,
		Limit:   opts.Limit,
		Total:   total,
		HasMore: total > opts.Offset+opts.Limit,
	}
}

// Store is the capability every backend adapter provides. Misses are
// reported as apperrors KindNotFound.
type Store interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	IsConnected() bool

	FindMany(ctx context.Context, table string, opts QueryOptions) (*Page, error)
	FindByID(ctx context.Context, table, id string, opts QueryOptions) (Record, error)
	FindOne(ctx context.Context, table string, filter map[string]any, opts QueryOptions) (Record, error)
	Create(ctx context.Context, table string, data Record) (Record, error)
	Update(ctx context.Context, table, id string, data Record) (Record, error)
	Delete(ctx context.Context, table, id string) error

	CreateMany(ctx context.Context, table string, data []Record) ([]Record, error)
	UpdateMany(ctx context.Context, table string, filter map[string]any, data Record) (int64, error)
	DeleteMany(ctx context.Context, table string, filter map[string]any) (int64, error)
}

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

type Event struct {
	Type   EventType
	Table  string
	Record Record
}

// Subscriber is implemented by stores that can push change events.
type Subscriber interface {
	Subscribe(ctx context.Context, table string, filter map[string]any, fn func(Event)) (func(), error)
}

// Transactor is implemented by stores that can run a unit of work atomically.
type Transactor interface {
	Transaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
