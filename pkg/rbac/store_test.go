package rbac

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/mscandco/gatekeeper/pkg/observability"
)

// setupSQLiteDB creates the grant schema in an in-memory database and seeds
// two roles, three permissions and one override.
func setupSQLiteDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, RunMigrations(ctx, db, nil))

	seed := []string{
		`INSERT INTO roles (id, name) VALUES ('r-artist', 'artist'), ('r-super', 'super_admin')`,
		`INSERT INTO permissions (id, name) VALUES
			('p-wild', '*:*:*'),
			('p-publish', 'release:publish'),
			('p-settings', 'system:settings'),
			('p-logs', 'system:logs')`,
		`INSERT INTO role_permissions (role_id, permission_id) VALUES
			('r-artist', 'p-publish'),
			('r-super', 'p-wild')`,
		`INSERT INTO user_permissions (user_id, permission_id, denied) VALUES
			('u-1', 'p-settings', FALSE),
			('u-1', 'p-logs', TRUE)`,
	}
	for _, stmt := range seed {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}
	return db
}

func TestSQLStore_LookupRoleID(t *testing.T) {
	store := NewSQLStore(setupSQLiteDB(t))
	ctx := context.Background()

	id, res := store.LookupRoleID(ctx, "artist")
	assert.Equal(t, Found, res.Status)
	assert.Equal(t, "r-artist", id)

	_, res = store.LookupRoleID(ctx, "ghost")
	assert.Equal(t, NotFound, res.Status)
	assert.NoError(t, res.Err)
}

func TestSQLStore_PointLookups(t *testing.T) {
	store := NewSQLStore(setupSQLiteDB(t))
	ctx := context.Background()

	assert.Equal(t, Found, store.RoleHasPermission(ctx, "r-artist", "release:publish").Status)
	assert.Equal(t, NotFound, store.RoleHasPermission(ctx, "r-artist", "system:logs").Status)
	assert.Equal(t, Found, store.RoleHasPermission(ctx, "r-super", Wildcard).Status)

	assert.Equal(t, Found, store.UserHasPermission(ctx, "u-1", "system:settings").Status)
	assert.Equal(t, NotFound, store.UserHasPermission(ctx, "u-1", "system:logs").Status, "denied rows are not overrides")
	assert.Equal(t, NotFound, store.UserHasPermission(ctx, "u-2", "system:settings").Status)
}

func TestSQLStore_Lists(t *testing.T) {
	store := NewSQLStore(setupSQLiteDB(t))
	ctx := context.Background()

	perms, err := store.RolePermissions(ctx, "r-artist")
	require.NoError(t, err)
	assert.Equal(t, []Permission{"release:publish"}, perms)

	perms, err = store.UserPermissions(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, []Permission{"system:settings"}, perms)

	perms, err = store.RolePermissions(ctx, "r-none")
	require.NoError(t, err)
	assert.Empty(t, perms)
}

func TestSQLStore_ResolverEndToEnd(t *testing.T) {
	store := NewSQLStore(setupSQLiteDB(t))
	r := NewResolver(nil, NewRoleDirectory(store, nil, nil), store)
	ctx := context.Background()

	assert.Equal(t, Decision{Allowed: true, Source: SourceRoleGrant}, r.Check(ctx, RoleArtist, "release:publish", ""))
	assert.Equal(t, Decision{Allowed: true, Source: SourceUserOverride}, r.Check(ctx, RoleArtist, "system:settings", "u-1"))
	assert.Equal(t, Decision{Allowed: true, Source: SourceWildcardGrant}, r.Check(ctx, RoleSuperAdmin, "anything:at:all", ""))
	assert.Equal(t, Decision{Allowed: false, Source: SourceNone}, r.Check(ctx, RoleArtist, "system:logs", "u-1"))
	// label_admin has no store row, so the catalog answers
	assert.Equal(t, Decision{Allowed: true, Source: SourceCatalog}, r.Check(ctx, RoleLabelAdmin, "release:edit:label", ""))
}

func TestSQLStore_QueryFailures(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	reader := sdkmetric.NewManualReader()
	otelMetrics, err := observability.NewOTelMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)

	store := NewSQLStore(db).WithMetrics(otelMetrics)
	ctx := context.Background()
	boom := errors.New("connection reset by peer")

	mock.ExpectQuery(`SELECT id FROM roles WHERE name = \$1`).WithArgs("artist").WillReturnError(boom)
	_, res := store.LookupRoleID(ctx, "artist")
	assert.Equal(t, Failed, res.Status)
	assert.ErrorIs(t, res.Err, boom)

	mock.ExpectQuery(`FROM role_permissions rp`).WithArgs("r-1", "release:publish").WillReturnError(boom)
	res = store.RoleHasPermission(ctx, "r-1", "release:publish")
	assert.Equal(t, Failed, res.Status)

	mock.ExpectQuery(`FROM user_permissions up`).WithArgs("u-1", "system:settings").WillReturnError(boom)
	res = store.UserHasPermission(ctx, "u-1", "system:settings")
	assert.Equal(t, Failed, res.Status)

	mock.ExpectQuery(`FROM role_permissions rp`).WithArgs("r-1").WillReturnError(boom)
	_, err = store.RolePermissions(ctx, "r-1")
	assert.ErrorIs(t, err, boom)

	mock.ExpectQuery(`FROM user_permissions up`).WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("a:b").RowError(0, boom))
	_, err = store.UserPermissions(ctx, "u-1")
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	var queries int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "gatekeeper.store.queries" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				queries += dp.Value
			}
		}
	}
	assert.Equal(t, int64(5), queries)
}

func TestSQLStore_NotFoundRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLStore(db)
	mock.ExpectQuery(`FROM role_permissions rp`).WithArgs("r-1", "release:publish").
		WillReturnRows(sqlmock.NewRows([]string{"one"}))

	res := store.RoleHasPermission(context.Background(), "r-1", "release:publish")
	assert.Equal(t, NotFound, res.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
