// Package pipeline wires queues and processors for every job type according to the queue
// configuration.
package pipeline

import (
	"math/rand/v2"

	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/SirClappington/tagq/internal/config"
	"github.com/SirClappington/tagq/internal/domain"
	"github.com/SirClappington/tagq/internal/processor"
	"github.com/SirClappington/tagq/internal/queue"
)

type AccountStore interface {
	processor.AccountLoader
	processor.AccountIDFetcher
}

type SearchIndex interface {
	processor.IndexWriter
	processor.Scroller
}

type Deps struct {
	Queues   config.QueueConfig
	Redis    r.UniversalClient
	Broker   *queue.Broker
	Accounts AccountStore
	Index    SearchIndex
	Log      *zap.Logger
	// Rand seeds range shuffling; nil uses a time-seeded source per processor.
	Rand func() *rand.Rand
}

// Queues holds one queue per step type. Indexing is the queue fetch-for-reindex feeds;
// IndexingSource is the queue account-indexing jobs consume, which differ when indexing
// runs inline.
type Queues struct {
	Reindex        queue.Queue[domain.FetchForReindexStep]
	Indexing       queue.Queue[domain.AccountIndexingStep]
	IndexingSource queue.Queue[domain.AccountIndexingStep]
	Export         queue.Queue[domain.FetchFromIndexStep]
	Push           queue.Queue[domain.HttpPushStep]
}

func backend[T domain.Step](name string, d Deps) queue.Queue[T] {
	switch name {
	case config.BackendMemory:
		return queue.NewMemory[T](d.Broker)
	case config.BackendNull, config.BackendInline:
		return queue.NewNull[T]()
	default:
		return queue.NewRedis[T](d.Redis)
	}
}

func NewQueues(d Deps) Queues {
	if d.Broker == nil {
		d.Broker = queue.NewBroker()
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	q := Queues{
		Reindex:        backend[domain.FetchForReindexStep](d.Queues.Backend, d),
		IndexingSource: backend[domain.AccountIndexingStep](d.Queues.IndexingBackend, d),
		Export:         backend[domain.FetchFromIndexStep](d.Queues.Backend, d),
		Push:           backend[domain.HttpPushStep](d.Queues.Backend, d),
	}
	q.Indexing = q.IndexingSource
	if d.Queues.IndexingBackend == config.BackendInline {
		indexing := processor.NewAccountIndexing(d.Accounts, d.Index, d.Log.Named("inline-indexing"))
		q.Indexing = queue.NewInline[domain.AccountIndexingStep](indexing, d.Log)
	}
	return q
}

// NewRegistry registers a binding factory for each job type over qs.
func NewRegistry(d Deps, qs Queues) (*processor.Registry, error) {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	rng := func() *rand.Rand {
		if d.Rand == nil {
			return nil
		}
		return d.Rand()
	}

	reg := processor.NewRegistry()
	factories := map[string]processor.Factory{
		domain.JobTypeAccountIndexing: func() processor.Binding {
			return processor.Bind[domain.AccountIndexingStep](domain.JobTypeAccountIndexing, qs.IndexingSource,
				processor.NewAccountIndexing(d.Accounts, d.Index, log))
		},
		domain.JobTypeFetchForReindex: func() processor.Binding {
			return processor.Bind[domain.FetchForReindexStep](domain.JobTypeFetchForReindex, qs.Reindex,
				processor.NewFetchForReindex(d.Accounts, qs.Reindex, qs.Indexing, rng(), log))
		},
		domain.JobTypeFetchFromIndex: func() processor.Binding {
			return processor.Bind[domain.FetchFromIndexStep](domain.JobTypeFetchFromIndex, qs.Export,
				processor.NewFetchFromIndex(d.Index, qs.Export, qs.Push, log))
		},
		domain.JobTypeHttpPush: func() processor.Binding {
			return processor.Bind[domain.HttpPushStep](domain.JobTypeHttpPush, qs.Push,
				processor.NewHttpPush(d.Accounts, qs.Push, log))
		},
	}
	for jobType, f := range factories {
		if err := reg.Register(jobType, f); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
