// Package migrations embeds the schema of every SQL storage backend.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed postgres/*.sql
var PostgresFS embed.FS

//go:embed clickhouse/*.sql
var ClickHouseFS embed.FS

// Postgres returns the postgres migration files in lexical order. pgx runs
// multi-statement scripts, so each file is one entry.
func Postgres() ([]string, error) {
	return readAll(PostgresFS, "postgres")
}

// ClickHouse returns individual statements, in file order. The ClickHouse
// driver rejects multi-statement Exec.
func ClickHouse() ([]string, error) {
	files, err := readAll(ClickHouseFS, "clickhouse")
	if err != nil {
		return nil, err
	}
	var stmts []string
	for _, f := range files {
		if err := validateNoSemicolonInStrings(f); err != nil {
			return nil, err
		}
		stmts = append(stmts, SplitStatements(f)...)
	}
	return stmts, nil
}

func readAll(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read embedded %s migrations: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]string, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, dir+"/"+name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		out = append(out, string(data))
	}
	return out, nil
}

// SplitStatements splits on semicolons after dropping blank and -- comment
// lines. Semicolons inside string literals are not supported.
func SplitStatements(input string) []string {
	var kept []string
	for _, line := range strings.Split(input, "\n") {
		t := strings.TrimSpace(line)
		if t == "" || strings.HasPrefix(t, "--") {
			continue
		}
		kept = append(kept, line)
	}
	var stmts []string
	for _, part := range strings.Split(strings.Join(kept, "\n"), ";") {
		if s := strings.TrimSpace(part); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}

func validateNoSemicolonInStrings(sql string) error {
	in := false
	for i := 0; i < len(sql); i++ {
		switch {
		case sql[i] == '\'' && i+1 < len(sql) && sql[i+1] == '\'':
			i++
		case sql[i] == '\'':
			in = !in
		case sql[i] == ';' && in:
			return fmt.Errorf("semicolon inside string literal breaks the statement splitter")
		}
	}
	return nil
}
