package queue

import (
	"time"

	"github.com/hibiken/asynq"
)

type HandlersRegistry struct {
	mux *asynq.ServeMux
}

func NewHandlersRegistry() *HandlersRegistry {
	return &HandlersRegistry{
		mux: asynq.NewServeMux(),
	}
}

func (r *HandlersRegistry) Register(taskType string, handler asynq.Handler) {
	r.mux.Handle(taskType, handler)
}

func (r *HandlersRegistry) Mux() *asynq.ServeMux {
	return r.mux
}

// RetryDelay spaces domain verification retries as a doubling backoff from
// initial, capped at max. Other task types keep asynq's default.
func RetryDelay(initial, max time.Duration) asynq.RetryDelayFunc {
	return func(n int, err error, t *asynq.Task) time.Duration {
		if t.Type() != TypeDomainVerify {
			return asynq.DefaultRetryDelayFunc(n, err, t)
		}
		d := initial
		for i := 0; i < n && d < max; i++ {
			d *= 2
		}
		return min(d, max)
	}
}
