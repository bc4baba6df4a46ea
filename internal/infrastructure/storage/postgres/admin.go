package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"labcontrol/pkg/logger"
)

// CreateDatabase creates database name owned by owner, connecting with the
// administrative adminDSN. The owner role is created with password when it
// does not exist. Existing objects are left untouched.
//
// CREATE DATABASE cannot run inside a transaction block, so this bypasses
// tx.Transaction and uses a single plain connection.
func CreateDatabase(ctx context.Context, adminDSN, name, owner, password string) (created bool, err error) {
	conn, err := pgx.Connect(ctx, adminDSN)
	if err != nil {
		return false, fmt.Errorf("connect as admin: %w", err)
	}
	defer func() { _ = conn.Close(context.WithoutCancel(ctx)) }()

	var exists bool
	if err := conn.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)", owner).Scan(&exists); err != nil {
		return false, fmt.Errorf("check role: %w", err)
	}
	if !exists {
		stmt := "CREATE ROLE " + pgx.Identifier{owner}.Sanitize() + " LOGIN"
		if password != "" {
			// Utility statements take no parameters.
			var quoted string
			if err := conn.QueryRow(ctx, "SELECT quote_literal($1)", password).Scan(&quoted); err != nil {
				return false, fmt.Errorf("quote password: %w", err)
			}
			stmt += " PASSWORD " + quoted
		}
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return false, fmt.Errorf("create role %s: %w", owner, err)
		}
		logger.Info(ctx, "database role created", "role", owner)
	}

	if err := conn.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", name).Scan(&exists); err != nil {
		return false, fmt.Errorf("check database: %w", err)
	}
	if exists {
		return false, nil
	}

	stmt := fmt.Sprintf("CREATE DATABASE %s OWNER %s",
		pgx.Identifier{name}.Sanitize(), pgx.Identifier{owner}.Sanitize())
	if _, err := conn.Exec(ctx, stmt); err != nil {
		return false, fmt.Errorf("create database %s: %w", name, err)
	}
	logger.Info(ctx, "database created", "database", name, "owner", owner)
	return true, nil
}
