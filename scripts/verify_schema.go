package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"

	_ "modernc.org/sqlite"
)

func main() {
	dbPath := "./data/webhook_trader.db"
	if len(os.Args) > 1 {
		dbPath = os.Args[1]
	}
	fmt.Printf("Verifying database at: %s\n", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	for _, table := range []string{"strategies", "outcomes", "activity_log", "users"} {
		rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table)
		if err != nil {
			log.Fatalf("Query failed: %v", err)
		}
		if rows.Next() {
			fmt.Printf("✓ %s table exists\n", table)
		} else {
			fmt.Printf("❌ %s table MISSING\n", table)
		}
		rows.Close()
	}

	// The ledger relies on seq being the primary key for its total order.
	var sqlSchema string
	err = db.QueryRow("SELECT sql FROM sqlite_master WHERE type='table' AND name='outcomes'").Scan(&sqlSchema)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	if strings.Contains(sqlSchema, "seq") {
		fmt.Println("✓ outcomes.seq column exists")
	} else {
		fmt.Println("❌ outcomes.seq column MISSING")
	}

	var maxSeq sql.NullInt64
	if err := db.QueryRow("SELECT MAX(seq) FROM outcomes").Scan(&maxSeq); err == nil && maxSeq.Valid {
		var count int64
		_ = db.QueryRow("SELECT COUNT(*) FROM outcomes").Scan(&count)
		if maxSeq.Int64 == count {
			fmt.Printf("✓ ledger sequence is gap-free (%d entries)\n", count)
		} else {
			fmt.Printf("❌ ledger sequence has gaps: max=%d count=%d\n", maxSeq.Int64, count)
		}
	}
}
