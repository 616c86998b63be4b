package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"

	"github.com/ignite/lifecycle-engine/internal/repository/postgres"
	"github.com/ignite/lifecycle-engine/internal/service/sequence"
)

// Usage:
//
//	migrate [dir]                   apply every .sql file in dir (default migrations)
//	migrate --list                  list automation tables
//	migrate --sequences file.yaml   upsert sequence definitions from YAML
func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	dir := "migrations"
	listOnly := false
	seedFile := ""
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		switch a := args[i]; {
		case a == "--list":
			listOnly = true
		case a == "--sequences" && i+1 < len(args):
			i++
			seedFile = args[i]
		default:
			dir = a
		}
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("ping: %v", err)
	}
	log.Println("Connected to database")

	switch {
	case listOnly:
		listTables(db)
	case seedFile != "":
		seedSequences(db, seedFile)
	default:
		applyMigrations(db, dir)
	}
}

func listTables(db *sql.DB) {
	rows, err := db.Query("SELECT tablename FROM pg_tables WHERE schemaname='public' AND tablename LIKE 'automation_%' ORDER BY tablename")
	if err != nil {
		log.Fatal(err)
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			log.Fatal(err)
		}
		fmt.Println(" ", t)
		n++
	}
	fmt.Printf("Total: %d tables\n", n)
}

func seedSequences(db *sql.DB, path string) {
	defs, err := sequence.FileSource{Path: path}.Load(context.Background())
	if err != nil {
		log.Fatalf("load %s: %v", path, err)
	}
	src := postgres.NewSequenceSource(db)
	var okCount, errCount int
	for _, d := range defs {
		fmt.Printf("  %s ... ", d.ID)
		if verr := d.Validate(); verr != nil {
			fmt.Printf("INVALID: %v\n", verr)
			errCount++
			continue
		}
		if err := src.Save(context.Background(), d); err != nil {
			fmt.Printf("ERROR: %v\n", err)
			errCount++
			continue
		}
		fmt.Println("OK")
		okCount++
	}
	log.Printf("Done: %d sequences saved, %d errors", okCount, errCount)
}

func applyMigrations(db *sql.DB, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Fatalf("read migrations dir %s: %v", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	var okCount, errCount int
	for _, f := range files {
		path := filepath.Join(dir, f)
		data, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("read %s: %v", path, err)
		}
		content := string(data)
		if strings.TrimSpace(content) == "" {
			continue
		}
		fmt.Printf("  %s ... ", f)

		tx, err := db.Begin()
		if err != nil {
			fmt.Printf("BEGIN ERROR: %v\n", err)
			errCount++
			continue
		}
		if _, err := tx.Exec(content); err != nil {
			tx.Rollback()
			fmt.Printf("ERROR: %v\n", err)
			errCount++
		} else {
			tx.Commit()
			fmt.Println("OK")
			okCount++
		}
	}
	log.Printf("Done: %d OK, %d errors", okCount, errCount)
	log.Println("Migrations complete")
}
