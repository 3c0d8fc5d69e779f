// Command import-reference loads a reference landmark CSV into the sqlite
// store so articulate-server can serve it with -reference-db.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/banshee-data/articulate/internal/db"
	"github.com/banshee-data/articulate/internal/landmarks"
)

func main() {
	dbPath := flag.String("db", "articulate.db", "path to sqlite DB file")
	csvPath := flag.String("csv", "", "reference landmark CSV (Frame,Landmark,X,Y)")
	name := flag.String("name", "", "animation name (default: CSV base name)")
	list := flag.Bool("list", false, "list stored animations and exit")
	flag.Parse()

	if err := run(context.Background(), *dbPath, *csvPath, *name, *list, os.Stdout); err != nil {
		log.Fatalf("import-reference: %v", err)
	}
}

func run(ctx context.Context, dbPath, csvPath, name string, list bool, out io.Writer) error {
	store, err := db.NewDB(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if !list {
		if csvPath == "" {
			return fmt.Errorf("-csv is required")
		}
		loader := &landmarks.CSVLoader{}
		anim, err := loader.Load(ctx, csvPath)
		if err != nil {
			return err
		}
		if name == "" {
			name = anim.Name()
		}
		if err := store.ImportAnimation(ctx, name, anim); err != nil {
			return err
		}
		s := loader.LastStats
		fmt.Fprintf(out, "imported %q: frames=%d points=%d rows=%d skipped_rows=%d dropped_frames=%d\n",
			name, anim.Len(), anim.Cardinality(), s.Rows, s.SkippedRows, s.DroppedFrames)
	}

	infos, err := store.Animations(ctx)
	if err != nil {
		return err
	}
	for _, a := range infos {
		fmt.Fprintf(out, "%-24s frames=%-5d points=%-4d imported=%s\n",
			a.Name, a.Frames, a.Cardinality, a.Imported.Format("2006-01-02 15:04:05"))
	}
	return nil
}
