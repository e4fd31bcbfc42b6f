package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/exp/slices"
)

// dataset is the snapshot and replication log of a single table, as found in
// the data directory.
//
// The data directory contains one directory per table:
//
//	db_data/
//	  books/
//	    snapshot.sqlite
//	    binlog.sql
type dataset struct {
	Table    string
	Snapshot string
	Log      string
}

var (
	snapshotExtensions = []string{".sqlite", ".sqlite3", ".db"}
	logSuffixes        = []string{".binlog.txt", ".sql"}
)

// discover returns the datasets in the data directory, ordered by table name.
func discover(dir string) ([]dataset, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("unable to read data directory: %w", err)
	}

	var sets []dataset

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		ds, err := discoverTable(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}

		sets = append(sets, ds)
	}

	if len(sets) == 0 {
		return nil, fmt.Errorf("no table directories found in %s", dir)
	}

	return sets, nil
}

func discoverTable(dir string) (dataset, error) {
	ds := dataset{
		Table: filepath.Base(dir),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return dataset{}, err
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		name := e.Name()
		path := filepath.Join(dir, name)

		switch {
		case hasSuffix(name, logSuffixes):
			if ds.Log != "" {
				return dataset{}, fmt.Errorf("table %s has more than one replication log", ds.Table)
			}
			ds.Log = path
		case slices.Contains(snapshotExtensions, filepath.Ext(name)):
			if ds.Snapshot != "" {
				return dataset{}, fmt.Errorf("table %s has more than one snapshot", ds.Table)
			}
			ds.Snapshot = path
		}
	}

	if ds.Snapshot == "" {
		err = errors.Join(err, fmt.Errorf("table %s has no snapshot", ds.Table))
	}
	if ds.Log == "" {
		err = errors.Join(err, fmt.Errorf("table %s has no replication log", ds.Table))
	}

	return ds, err
}

// selectDataset returns the dataset for the named table. If name is empty
// there must be exactly one dataset.
func selectDataset(sets []dataset, name string) (dataset, error) {
	if name == "" {
		if len(sets) != 1 {
			return dataset{}, fmt.Errorf("found %d tables, set REWIND_TABLE to choose one", len(sets))
		}
		return sets[0], nil
	}

	i := slices.IndexFunc(sets, func(ds dataset) bool {
		return ds.Table == name
	})
	if i == -1 {
		return dataset{}, fmt.Errorf("table %s was not found in the data directory", name)
	}

	return sets[i], nil
}

func hasSuffix(name string, suffixes []string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}
