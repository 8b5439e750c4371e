package synctarget

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sundew/internal/repositories/organization"
	"github.com/Ramsey-B/sundew/internal/repositories/serviceintegration"
	"github.com/Ramsey-B/sundew/internal/repositories/synctarget"
	"github.com/Ramsey-B/sundew/pkg/database"
	"github.com/Ramsey-B/sundew/pkg/replicator"
)

var syncTargetColumns = []string{
	"id", "organization_id", "service_integration_id", "connection_url",
	"period_seconds", "page_size", "schema", "table_name",
	"last_synced_at", "created_at", "updated_at", "deleted_at",
}

var integrationColumns = []string{
	"id", "organization_id", "opaque_id", "service_name", "table_name",
	"api_url", "webhook_secret", "backfill_key", "backfill_secret",
	"depends_on_id", "webhook_verified", "last_backfilled_at",
	"created_at", "updated_at", "deleted_at",
}

var organizationColumns = []string{
	"id", "name", "key", "admin_connection_url", "readonly_connection_url",
	"created_at", "updated_at", "deleted_at",
}

func newRunnerFixture(t *testing.T) (*Runner, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	logger := testLogger()
	db := database.NewDatabaseInstance(sqlx.NewDb(mockDB, "sqlmock"), logger)

	runner := NewRunner(
		synctarget.NewRepository(db, logger),
		serviceintegration.NewRepository(db, logger),
		organization.NewRepository(db, logger),
		replicator.NewRegistry(),
		nil,
		database.NewAdvisoryLocker(db, logger, database.LockKeyspaceSyncTarget),
		nil,
		"",
		logger,
	)
	return runner, mock
}

func expectLockAcquired(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("pg_try_advisory_lock").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
}

func expectLockReleased(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("pg_advisory_unlock").
		WillReturnRows(sqlmock.NewRows([]string{"pg_advisory_unlock"}).AddRow(true))
}

func targetRow() *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(syncTargetColumns).AddRow(
		"target-1", "org-1", "svi-1", "postgres://sync:pw@warehouse.example.com/analytics",
		3600, 500, "public", "fake_v1_ab12cd34",
		nil, now, now, nil,
	)
}

func TestRunTarget_TargetVanishedIsNoOp(t *testing.T) {
	runner, mock := newRunnerFixture(t)

	expectLockAcquired(mock)
	mock.ExpectQuery("FROM sync_targets").
		WillReturnRows(sqlmock.NewRows(syncTargetColumns))
	expectLockReleased(mock)

	require.NoError(t, runner.RunTarget(context.Background(), "target-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunTarget_IntegrationVanishedIsNoOp(t *testing.T) {
	runner, mock := newRunnerFixture(t)

	expectLockAcquired(mock)
	mock.ExpectQuery("FROM sync_targets").WillReturnRows(targetRow())
	mock.ExpectQuery("FROM service_integrations").
		WillReturnRows(sqlmock.NewRows(integrationColumns))
	expectLockReleased(mock)

	require.NoError(t, runner.RunTarget(context.Background(), "target-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunTarget_OrganizationVanishedIsNoOp(t *testing.T) {
	runner, mock := newRunnerFixture(t)

	now := time.Now().UTC()
	expectLockAcquired(mock)
	mock.ExpectQuery("FROM sync_targets").WillReturnRows(targetRow())
	mock.ExpectQuery("FROM service_integrations").
		WillReturnRows(sqlmock.NewRows(integrationColumns).AddRow(
			"svi-1", "org-1", "svi_ab12cd34", "fake_v1", "fake_v1_ab12cd34",
			"", "", "", "", nil, false, nil, now, now, nil,
		))
	mock.ExpectQuery("FROM organizations").
		WillReturnRows(sqlmock.NewRows(organizationColumns))
	expectLockReleased(mock)

	require.NoError(t, runner.RunTarget(context.Background(), "target-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunTarget_LockHeldElsewhere(t *testing.T) {
	runner, mock := newRunnerFixture(t)

	mock.ExpectQuery("pg_try_advisory_lock").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	err := runner.RunTarget(context.Background(), "target-1")
	require.ErrorIs(t, err, database.ErrLockNotAcquired)
	require.NoError(t, mock.ExpectationsWereMet())
}
