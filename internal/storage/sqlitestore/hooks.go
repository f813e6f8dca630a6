package sqlitestore

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// sqliteDriverName is the name the hooked driver registers under,
// matching the teacher's own dbConnection.go so query timing shows up
// the same way in logs.
const sqliteDriverName = "sqlite3WithHooks"

var registerOnce sync.Once

// registerHookedDriver registers sqliteDriverName exactly once per
// process; sql.Register panics on a duplicate name, and Open is called
// once per Store but many times across this package's tests.
func registerHookedDriver() {
	registerOnce.Do(func() {
		sql.Register(sqliteDriverName, sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &queryHooks{}))
	})
}

type begunAtKey struct{}

// queryHooks satisfies sqlhooks.Hooks, logging every query and its
// elapsed time at debug level.
type queryHooks struct{}

func (h *queryHooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	cclog.Debugf("sqlitestore: query %s %q", query, args)
	return context.WithValue(ctx, begunAtKey{}, time.Now()), nil
}

func (h *queryHooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	if begin, ok := ctx.Value(begunAtKey{}).(time.Time); ok {
		cclog.Debugf("sqlitestore: took %s", time.Since(begin))
	}
	return ctx, nil
}
