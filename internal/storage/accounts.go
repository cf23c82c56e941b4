package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/SirClappington/tagq/internal/domain"
)

// Account ids are compared with the "C" collation so range queries follow byte order.

func (s *Store) LoadAccount(ctx context.Context, tenant, id string) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`select tenant_id, account_id, tags, fields from accounts where tenant_id = $1 and account_id = $2`,
		tenant, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "account %s/%s", tenant, id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load account %s/%s", tenant, id)
	}
	return &a, nil
}

// LoadAccounts returns the accounts among ids that exist, in no particular order.
func (s *Store) LoadAccounts(ctx context.Context, tenant string, ids []string) ([]domain.Account, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return nil, errors.Wrap(err, "encode ids")
	}
	rows, err := s.db.QueryContext(ctx,
		`select tenant_id, account_id, tags, fields from accounts
		  where tenant_id = $1
		    and account_id in (select jsonb_array_elements_text($2::jsonb))`,
		tenant, string(idsJSON))
	if err != nil {
		return nil, errors.Wrapf(err, "load %d accounts of %s", len(ids), tenant)
	}
	defer rows.Close()

	out := make([]domain.Account, 0, len(ids))
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan account")
		}
		out = append(out, a)
	}
	return out, errors.Wrap(rows.Err(), "iterate accounts")
}

// FetchAccountIDs lists up to batchSize ids of tenant in ascending byte order. Empty bounds
// are open.
func (s *Store) FetchAccountIDs(ctx context.Context, batchSize int, tenant string,
	lower string, lowerInclusive bool, upper string, upperInclusive bool) ([]string, error) {
	var q strings.Builder
	args := []any{tenant}
	q.WriteString(`select account_id from accounts where tenant_id = $1`)
	if lower != "" {
		args = append(args, lower)
		fmt.Fprintf(&q, ` and account_id collate "C" %s $%d`, cmp(">", lowerInclusive), len(args))
	}
	if upper != "" {
		args = append(args, upper)
		fmt.Fprintf(&q, ` and account_id collate "C" %s $%d`, cmp("<", upperInclusive), len(args))
	}
	args = append(args, batchSize)
	fmt.Fprintf(&q, ` order by account_id collate "C" limit $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch account ids of %s", tenant)
	}
	defer rows.Close()
	out := make([]string, 0, batchSize)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan account id")
		}
		out = append(out, id)
	}
	return out, errors.Wrap(rows.Err(), "iterate account ids")
}

func cmp(op string, inclusive bool) string {
	if inclusive {
		return op + "="
	}
	return op
}

func (s *Store) SaveAccounts(ctx context.Context, accounts []domain.Account) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	for _, a := range accounts {
		tags, err := json.Marshal(orEmpty(a.Tags))
		if err != nil {
			_ = tx.Rollback()
			return errors.Wrap(err, "encode tags")
		}
		fields, err := json.Marshal(orEmpty(a.Fields))
		if err != nil {
			_ = tx.Rollback()
			return errors.Wrap(err, "encode fields")
		}
		if _, err := tx.ExecContext(ctx,
			`insert into accounts (tenant_id, account_id, tags, fields)
			 values ($1, $2, $3, $4)
			 on conflict (tenant_id, account_id)
			 do update set tags = excluded.tags, fields = excluded.fields, updated_at = now()`,
			a.TenantId, a.AccountId, tags, fields); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "save account %s/%s", a.TenantId, a.AccountId)
		}
	}
	return errors.Wrap(tx.Commit(), "commit accounts")
}

func orEmpty[M ~map[string]V, V any](m M) M {
	if m == nil {
		return M{}
	}
	return m
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(sc scanner) (domain.Account, error) {
	var (
		a            domain.Account
		tags, fields []byte
	)
	if err := sc.Scan(&a.TenantId, &a.AccountId, &tags, &fields); err != nil {
		return a, err
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &a.Tags); err != nil {
			return a, errors.Wrap(err, "decode tags")
		}
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &a.Fields); err != nil {
			return a, errors.Wrap(err, "decode fields")
		}
	}
	return a, nil
}
