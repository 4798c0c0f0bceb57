package repository

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-crm-batch/model"
)

type index struct {
	model   any
	name    string
	unique  bool
	columns []string
}

var indexes = []index{
	{(*model.Customer)(nil), "customers_user_email_uidx", true, []string{"user_id", "email"}},
	{(*model.Customer)(nil), "customers_user_slug_uidx", true, []string{"user_id", "slug"}},
	{(*model.Customer)(nil), "customers_user_created_idx", false, []string{"user_id", "created_at"}},
	{(*model.Import)(nil), "imports_user_status_idx", false, []string{"user_id", "status"}},
	{(*model.Export)(nil), "exports_user_status_idx", false, []string{"user_id", "status"}},
	{(*model.Export)(nil), "exports_status_expires_idx", false, []string{"status", "expires_at"}},
	{(*model.Activity)(nil), "activity_causer_created_idx", false, []string{"causer_id", "created_at"}},
	{(*model.Activity)(nil), "activity_subject_idx", false, []string{"subject_type", "subject_id"}},
}

// Migrate creates the tables and indexes the repositories rely on. It is
// safe to run repeatedly.
func Migrate(ctx context.Context, db bun.IDB) error {
	models := []any{
		(*model.Customer)(nil),
		(*model.Import)(nil),
		(*model.Export)(nil),
		(*model.Activity)(nil),
		(*model.ArchivedActivity)(nil),
	}
	for _, m := range models {
		if _, err := db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", m, err)
		}
	}
	for _, idx := range indexes {
		q := db.NewCreateIndex().Model(idx.model).Index(idx.name).Column(idx.columns...).IfNotExists()
		if idx.unique {
			q = q.Unique()
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}
