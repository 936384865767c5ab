package migrate

import (
	"database/sql"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	pgdriver "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/mikeydub/go-activity/service/persist/postgres"
	"github.com/mikeydub/go-activity/util"
)

const coreMigrations = "./db/migrations/core"

// RunCoreDBMigration migrates the activity database to the latest version. A database that is
// already current is not an error.
func RunCoreDBMigration(opts ...postgres.ConnectionOption) error {
	client, err := postgres.NewClient(opts...)
	if err != nil {
		return err
	}
	defer client.Close()

	m, err := RunMigration(client, coreMigrations)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	if m != nil {
		m.Close()
	}
	return nil
}

// RunMigration runs all migrations in the specified directory
func RunMigration(client *sql.DB, file string) (*migrate.Migrate, error) {
	m, err := newMigrateInstance(client, file)
	if err != nil {
		return nil, err
	}

	return m, m.Up()
}

// RunMigrationToVersion runs migrations in the specified directory, up to (and including) the
// specified migration version number
func RunMigrationToVersion(client *sql.DB, file string, toVersion uint) (*migrate.Migrate, error) {
	m, err := newMigrateInstance(client, file)
	if err != nil {
		return nil, err
	}

	return m, m.Migrate(toVersion)
}

// RollbackMigration reverts every migration in the specified directory
func RollbackMigration(client *sql.DB, file string) (*migrate.Migrate, error) {
	m, err := newMigrateInstance(client, file)
	if err != nil {
		return nil, err
	}

	return m, m.Down()
}

func newMigrateInstance(client *sql.DB, file string) (*migrate.Migrate, error) {
	dir, err := util.FindFile(file, 3)
	if err != nil {
		return nil, err
	}

	d, err := pgdriver.WithInstance(client, &pgdriver.Config{})
	if err != nil {
		return nil, err
	}

	return migrate.NewWithDatabaseInstance("file://"+dir, "postgres", d)
}
