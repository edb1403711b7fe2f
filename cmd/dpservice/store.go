package main

import (
	"context"
	"fmt"

	"github.com/cmcf/autoprocess/pkg/configs/service"
	"github.com/cmcf/autoprocess/pkg/db"
	"github.com/cmcf/autoprocess/pkg/db/memory"
	"github.com/cmcf/autoprocess/pkg/db/postgres"
	"github.com/cmcf/autoprocess/pkg/db/sqlite"
)

func openStore(ctx context.Context, conf *service.StoreConfig) (db.Database, error) {
	switch conf.Type() {
	case service.Memory:
		return memory.New(), nil
	case service.Sqlite:
		return sqlite.Open(ctx, conf.Dsn())
	case service.Postgres:
		return postgres.New(ctx, conf.Dsn())
	}
	return nil, fmt.Errorf("unknown store type: %s", conf.Type())
}
