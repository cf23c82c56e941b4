// Package search keeps the account index in Postgres and serves sliced scrolls over it.
// Scroll cursors live in Redis and expire with the scroll timeout.
package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"

	"github.com/SirClappington/tagq/internal/domain"
)

var ErrScrollNotFound = errors.New("scroll not found or expired")

type Index struct {
	db  *sql.DB
	rdb r.UniversalClient
}

func New(db *sql.DB, rdb r.UniversalClient) *Index { return &Index{db: db, rdb: rdb} }

func (ix *Index) Index(ctx context.Context, tenant string, docs []domain.AccountDocument) error {
	if len(docs) == 0 {
		return nil
	}
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	for _, d := range docs {
		b, err := json.Marshal(d)
		if err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "encode document %s", d.AccountId)
		}
		if _, err := tx.ExecContext(ctx,
			`insert into account_index (tenant_id, account_id, document)
			 values ($1, $2, $3)
			 on conflict (tenant_id, account_id)
			 do update set document = excluded.document, indexed_at = now()`,
			tenant, d.AccountId, b); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "index document %s/%s", tenant, d.AccountId)
		}
	}
	return errors.Wrap(tx.Commit(), "commit documents")
}

type scrollState struct {
	Tenant     string             `json:"tenant"`
	Query      domain.SearchQuery `json:"query"`
	PageSize   int                `json:"page_size"`
	SliceCount int                `json:"slice_count"`
	SliceID    int                `json:"slice_id"`
	After      string             `json:"after,omitempty"`
}

func scrollKey(id string) string { return "scroll:" + id }

func (ix *Index) StartScroll(ctx context.Context, tenant string, query domain.SearchQuery,
	pageSize, timeoutSeconds, sliceCount, sliceID int) (domain.ScrollPage, error) {
	if sliceCount < 1 {
		sliceCount = 1
	}
	if sliceID < 0 || sliceID >= sliceCount {
		return domain.ScrollPage{}, errors.Errorf("slice %d out of range for %d slices", sliceID, sliceCount)
	}
	st := scrollState{Tenant: tenant, Query: query, PageSize: pageSize, SliceCount: sliceCount, SliceID: sliceID}
	return ix.page(ctx, uuid.NewString(), st, timeoutSeconds)
}

func (ix *Index) ContinueScroll(ctx context.Context, scrollID string, timeoutSeconds int) (domain.ScrollPage, error) {
	raw, err := ix.rdb.Get(ctx, scrollKey(scrollID)).Bytes()
	if errors.Is(err, r.Nil) {
		return domain.ScrollPage{}, errors.Wrap(ErrScrollNotFound, scrollID)
	}
	if err != nil {
		return domain.ScrollPage{}, errors.Wrapf(err, "load scroll %s", scrollID)
	}
	var st scrollState
	if err := json.Unmarshal(raw, &st); err != nil {
		return domain.ScrollPage{}, errors.Wrapf(err, "decode scroll %s", scrollID)
	}
	return ix.page(ctx, scrollID, st, timeoutSeconds)
}

func (ix *Index) TerminateScroll(ctx context.Context, scrollID string) error {
	return errors.Wrapf(ix.rdb.Del(ctx, scrollKey(scrollID)).Err(), "terminate scroll %s", scrollID)
}

// page reads the next page after st.After and stores the advanced cursor.
func (ix *Index) page(ctx context.Context, id string, st scrollState, timeoutSeconds int) (domain.ScrollPage, error) {
	tags := st.Query.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return domain.ScrollPage{}, errors.Wrap(err, "encode query")
	}
	rows, err := ix.db.QueryContext(ctx,
		`select account_id from account_index
		  where tenant_id = $1
		    and account_id collate "C" > $2
		    and document -> 'Tags' @> $3::jsonb
		    and mod(hashtext(account_id)::bigint & 2147483647, $4) = $5
		  order by account_id collate "C"
		  limit $6`,
		st.Tenant, st.After, string(tagsJSON), st.SliceCount, st.SliceID, st.PageSize)
	if err != nil {
		return domain.ScrollPage{}, errors.Wrapf(err, "scroll %s", id)
	}
	defer rows.Close()
	ids := make([]string, 0, st.PageSize)
	for rows.Next() {
		var aid string
		if err := rows.Scan(&aid); err != nil {
			return domain.ScrollPage{}, errors.Wrap(err, "scan account id")
		}
		ids = append(ids, aid)
	}
	if err := rows.Err(); err != nil {
		return domain.ScrollPage{}, errors.Wrap(err, "iterate scroll")
	}

	if len(ids) > 0 {
		st.After = ids[len(ids)-1]
	}
	b, err := json.Marshal(st)
	if err != nil {
		return domain.ScrollPage{}, errors.Wrap(err, "encode scroll")
	}
	ttl := time.Duration(timeoutSeconds) * time.Second
	if err := ix.rdb.Set(ctx, scrollKey(id), b, ttl).Err(); err != nil {
		return domain.ScrollPage{}, errors.Wrapf(err, "store scroll %s", id)
	}
	return domain.ScrollPage{AccountIds: ids, ScrollId: id}, nil
}
