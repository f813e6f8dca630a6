// Package sqlitestore implements the shadow.Storage contract on top of
// SQLite, following the teacher's own repository package shape:
// jmoiron/sqlx for the connection and scans, Masterminds/squirrel for
// query building, golang-migrate for schema versioning, and
// mattn/go-sqlite3 as the driver.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/nodefabric/shadowd/internal/shadow"
)

// Store implements shadow.Storage against one SQLite database file.
// Safe to share across every Device in a Controller, per spec §5
// ("treats it as a black box ... never under any device lock").
type Store struct {
	db *sqlx.DB
}

// Open connects to the SQLite file at path through the sqlhooks-wrapped
// driver (query logging, same as the teacher's dbConnection.go), matching
// the teacher's single-writer posture (SQLite does not benefit from
// connection pooling; concurrent writers just queue on the file lock).
func Open(path string) (*Store, error) {
	registerHookedDriver()
	db, err := sqlx.Open(sqliteDriverName, fmt.Sprintf("%s?_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

type row struct {
	DataVersion sql.NullInt64 `db:"data_version"`
	Attributes  string        `db:"attributes"`
}

// Load implements shadow.Storage.
func (s *Store) Load(ctx context.Context, node shadow.NodeId, path shadow.ClusterPath) (shadow.ClusterData, bool, error) {
	query, args, err := sq.Select("data_version", "attributes").
		From("shadow_clusters").
		Where(sq.Eq{"node_id": uint64(node), "endpoint": uint16(path.Endpoint), "cluster_id": uint32(path.Cluster)}).
		ToSql()
	if err != nil {
		return shadow.ClusterData{}, false, err
	}

	var r row
	if err := s.db.GetContext(ctx, &r, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return shadow.ClusterData{}, false, nil
		}
		return shadow.ClusterData{}, false, fmt.Errorf("sqlitestore: load %d/%s: %w", node, path, err)
	}

	var attrs map[shadow.AttributeId]shadow.DataValue
	if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil {
		return shadow.ClusterData{}, false, fmt.Errorf("sqlitestore: decode attributes: %w", err)
	}

	cd := shadow.ClusterData{Attributes: attrs}
	if r.DataVersion.Valid {
		v := shadow.DataVersion(r.DataVersion.Int64)
		cd.DataVersion = &v
	}
	return cd, true, nil
}

// Store implements shadow.Storage, upserting every cluster in one
// transaction.
func (s *Store) Store(ctx context.Context, node shadow.NodeId, clusters map[shadow.ClusterPath]shadow.ClusterData) error {
	if len(clusters) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin tx: %w", err)
	}
	defer tx.Rollback()

	for path, cd := range clusters {
		attrsJSON, err := json.Marshal(cd.Attributes)
		if err != nil {
			return fmt.Errorf("sqlitestore: encode attributes: %w", err)
		}

		var dataVersion any
		if cd.DataVersion != nil {
			dataVersion = uint32(*cd.DataVersion)
		}

		query, args, err := sq.Insert("shadow_clusters").
			Columns("node_id", "endpoint", "cluster_id", "data_version", "attributes").
			Values(uint64(node), uint16(path.Endpoint), uint32(path.Cluster), dataVersion, string(attrsJSON)).
			Suffix("ON CONFLICT(node_id, endpoint, cluster_id) DO UPDATE SET data_version = excluded.data_version, attributes = excluded.attributes").
			ToSql()
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("sqlitestore: upsert %d/%s: %w", node, path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlitestore: commit: %w", err)
	}
	return nil
}
