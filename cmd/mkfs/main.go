// Command mkfs wipes and (re)creates a junkfs metadata store and data
// directory, per spec.md §6.
package main

import (
	"log"
	"os"

	"github.com/abbycin/junkfs/internal/meta"
)

func main() {
	if len(os.Args) != 3 {
		log.Fatalf("usage: mkfs <meta_path> <store_path>")
	}

	metaPath, storePath := os.Args[1], os.Args[2]
	if err := meta.Format(metaPath, storePath); err != nil {
		log.Fatalf("mkfs: %v", err)
	}
}
