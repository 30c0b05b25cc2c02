package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var (
	dataDir = flag.String("data-dir", "/var/lib/flotilla", "Flotilla data directory")
	outPath = flag.String("out", "", "Backup destination (default: <data-dir>/flotilla.db.backup)")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags)
	log.Println("Flotilla Database Backup")

	dbPath := filepath.Join(*dataDir, "flotilla.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Fatalf("Database not found at %s", dbPath)
	}

	dest := *outPath
	if dest == "" {
		dest = dbPath + ".backup"
	}

	// A read-only open takes a shared lock, so the backup can run
	// while the control plane is serving.
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{ReadOnly: true})
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		log.Fatalf("Failed to create backup file: %v", err)
	}

	var written int64
	err = db.View(func(tx *bolt.Tx) error {
		n, err := tx.WriteTo(out)
		written = n
		return err
	})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		log.Fatalf("Backup failed: %v", err)
	}

	log.Printf("✓ Backup complete: %s (%d bytes)", dest, written)
}
