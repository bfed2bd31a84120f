// cmd/digby/main.go
//
// digby - minimal command-line binding over the digby key/value store.
//
// Usage:
//
//	digby -db path/to/file put KEY VALUE
//	digby -db path/to/file get KEY
//	digby -db path/to/file delete KEY
//	digby -db path/to/file create-table NAME
//	digby -db path/to/file put-table NAME KEY VALUE
//	digby -db path/to/file get-table NAME KEY
//
// Out of core scope per spec §1/§6 ("no CLI is in core scope... spec
// their interface only") — this is a thin binding, not a shell.
package main

import (
	"flag"
	"fmt"
	"os"

	"digby"
)

func main() {
	dbPath := flag.String("db", "digby.db", "path to the database file")
	blockSize := flag.Int("block-size", digby.DefaultBlockSize, "block size (must match an existing database's)")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	opts := digby.DefaultOptions()
	opts.BlockSize = *blockSize

	db, err := digby.Open(*dbPath, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "digby: opening %s: %v\n", *dbPath, err)
		os.Exit(1)
	}
	defer db.Close()

	if err := run(db, args[0], args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "digby: %v\n", err)
		os.Exit(1)
	}
}

func run(db *digby.DB, cmd string, args []string) error {
	switch cmd {
	case "put":
		if len(args) != 2 {
			return fmt.Errorf("usage: put KEY VALUE")
		}
		return db.Put([]byte(args[0]), []byte(args[1]))

	case "get":
		if len(args) != 1 {
			return fmt.Errorf("usage: get KEY")
		}
		value, ok, err := db.Get([]byte(args[0]))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("key not found")
		}
		fmt.Println(string(value))
		return nil

	case "delete":
		if len(args) != 1 {
			return fmt.Errorf("usage: delete KEY")
		}
		ok, err := db.Delete([]byte(args[0]))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("key not found")
		}
		return nil

	case "create-table":
		if len(args) != 1 {
			return fmt.Errorf("usage: create-table NAME")
		}
		return db.CreateTable(args[0])

	case "put-table":
		if len(args) != 3 {
			return fmt.Errorf("usage: put-table NAME KEY VALUE")
		}
		return db.PutTable(args[0], []byte(args[1]), []byte(args[2]))

	case "get-table":
		if len(args) != 2 {
			return fmt.Errorf("usage: get-table NAME KEY")
		}
		value, ok, err := db.GetTable(args[0], []byte(args[1]))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("key not found")
		}
		fmt.Println(string(value))
		return nil

	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: digby -db PATH <put|get|delete|create-table|put-table|get-table> ...")
}
