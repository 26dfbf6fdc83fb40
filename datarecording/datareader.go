package datarecording

import (
	"database/sql"
	"fmt"
)

// DataReader reads back recorded tables.
type DataReader interface {
	// ListTables returns the names of the tables in the database.
	ListTables() ([]string, error)

	// Count returns the number of rows of a table matching the optional
	// where clause.
	Count(tableName string, where string, args ...any) (int, error)

	// Close closes the reader
	Close() error
}

type sqliteReader struct {
	*sql.DB
}

// NewReader opens the recording at path.sqlite3.
func NewReader(path string) (DataReader, error) {
	db, err := sql.Open("sqlite3", path+".sqlite3")
	if err != nil {
		return nil, err
	}

	return &sqliteReader{DB: db}, nil
}

// NewReaderWithDB creates a new DataReader with a given database
func NewReaderWithDB(db *sql.DB) DataReader {
	return &sqliteReader{DB: db}
}

func (r *sqliteReader) ListTables() ([]string, error) {
	rows, err := r.Query(
		`SELECT name FROM sqlite_master WHERE type='table' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}

		tables = append(tables, name)
	}

	return tables, rows.Err()
}

func (r *sqliteReader) Count(
	tableName string,
	where string,
	args ...any,
) (int, error) {
	query := "SELECT COUNT(*) FROM " + tableName
	if where != "" {
		query += " WHERE " + where
	}

	var count int
	if err := r.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s: %w", tableName, err)
	}

	return count, nil
}
