// pagevm CLI - builds a page runtime from a type catalog, manages
// snapshots of its global scope and serves it for inspection.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"

	"github.com/chazu/pagevm/catalog"
	"github.com/chazu/pagevm/config"
	"github.com/chazu/pagevm/image"
	"github.com/chazu/pagevm/server"
	"github.com/chazu/pagevm/store"
	"github.com/chazu/pagevm/vm"
)

type options struct {
	configDir   string
	catalogPath string
	dbPath      string
	serve       bool
	verbose     bool
	list        bool
	save        string
	restore     string
	remove      string
}

func main() {
	var opts options
	flag.StringVar(&opts.configDir, "config", "", "Directory containing pagevm.toml (default: search upward from the working directory)")
	flag.StringVar(&opts.catalogPath, "catalog", "", "Type catalog TOML file (overrides [catalog] path)")
	flag.StringVar(&opts.dbPath, "db", "", "Snapshot database (overrides [store] path)")
	flag.BoolVar(&opts.serve, "serve", false, "Serve inspection over Connect and gRPC")
	flag.BoolVar(&opts.verbose, "v", false, "Verbose output")
	flag.BoolVar(&opts.list, "list", false, "List stored snapshots")
	flag.StringVar(&opts.save, "save", "", "Save a snapshot of the global page under this name")
	flag.StringVar(&opts.restore, "restore", "", "Restore the latest snapshot with this name as the global page")
	flag.StringVar(&opts.remove, "delete", "", "Delete the snapshot with this id")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pagevm [options]\n\n")
		fmt.Fprintf(os.Stderr, "Builds the global page described by a type catalog and reports on it.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  pagevm -catalog game.toml              # Print heap and cache stats\n")
		fmt.Fprintf(os.Stderr, "  pagevm -catalog game.toml -save start  # Snapshot the global page\n")
		fmt.Fprintf(os.Stderr, "  pagevm -list                           # List snapshots\n")
		fmt.Fprintf(os.Stderr, "  pagevm -restore start -serve           # Restore and serve for inspection\n")
	}
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg, err := loadConfig(opts.configDir)
	if err != nil {
		return err
	}
	verbosity := 0
	if opts.verbose {
		verbosity = 1
	}
	cfg.ConfigureLogging(verbosity)

	dbPath := cfg.StorePath()
	if opts.dbPath != "" {
		dbPath = opts.dbPath
	}

	var st *store.Store
	openStore := func() (*store.Store, error) {
		if st != nil {
			return st, nil
		}
		st, err = store.Open(dbPath)
		return st, err
	}
	defer func() {
		if st != nil {
			st.Close()
		}
	}()

	if opts.list || opts.remove != "" {
		s, err := openStore()
		if err != nil {
			return err
		}
		if opts.remove != "" {
			id, err := uuid.Parse(opts.remove)
			if err != nil {
				return fmt.Errorf("bad snapshot id %q: %w", opts.remove, err)
			}
			if err := s.Delete(id); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", id)
		}
		if opts.list {
			if err := listSnapshots(s); err != nil {
				return err
			}
		}
		if opts.save == "" && opts.restore == "" && !opts.serve {
			return nil
		}
	}

	catalogPath := cfg.CatalogPath()
	if opts.catalogPath != "" {
		catalogPath = opts.catalogPath
	}
	if catalogPath == "" {
		return errors.New("no type catalog: pass -catalog or set [catalog] path in pagevm.toml")
	}
	cat, err := catalog.Load(catalogPath)
	if err != nil {
		return err
	}

	rt := vm.NewRuntime(cat, nil, cfg.RuntimeOptions()...)
	defer rt.Shutdown()

	globals, err := rt.NewGlobalPage()
	if err != nil {
		return fmt.Errorf("building global page: %w", err)
	}

	if opts.restore != "" {
		s, err := openStore()
		if err != nil {
			return err
		}
		if globals, err = restoreGlobals(rt, s, globals, opts.restore); err != nil {
			return err
		}
		if opts.verbose {
			fmt.Printf("Restored %q\n", opts.restore)
		}
	}

	if opts.save != "" {
		s, err := openStore()
		if err != nil {
			return err
		}
		snap, err := image.Capture(rt, globals)
		if err != nil {
			return err
		}
		id, err := s.Save(opts.save, snap)
		if err != nil {
			return err
		}
		fmt.Printf("Saved %q as %s\n", opts.save, id)
	}

	if opts.serve {
		srv := server.New(rt, server.WithRoot("globals", globals))
		defer srv.Stop()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("pagevm inspection server\n")
		fmt.Printf("  Connect (HTTP): http://%s%s\n", cfg.Server.Addr, server.StatsProcedure)
		fmt.Printf("  gRPC:           grpc://%s\n", cfg.Server.GRPCAddr)
		return srv.ListenAndServe(ctx, cfg.Server.Addr, cfg.Server.GRPCAddr)
	}

	printStats(rt.Stats(), globals)
	return nil
}

func loadConfig(dir string) (*config.Config, error) {
	if dir != "" {
		return config.Load(dir)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfg, err := config.FindAndLoad(wd)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

// restoreGlobals replaces globals with the latest snapshot called name.
func restoreGlobals(rt *vm.Runtime, s *store.Store, globals *vm.Page, name string) (*vm.Page, error) {
	info, err := s.Latest(name)
	if err != nil {
		return nil, fmt.Errorf("snapshot %q: %w", name, err)
	}
	snap, err := s.Load(info.ID)
	if err != nil {
		return nil, err
	}
	restored, err := image.Restore(rt, snap)
	if err != nil {
		return nil, err
	}
	if restored == nil || restored.Kind != vm.GlobalPage {
		rt.DeletePage(restored)
		return nil, fmt.Errorf("snapshot %q does not hold a global page", name)
	}
	rt.DeletePage(globals)
	return restored, nil
}

func listSnapshots(s *store.Store) error {
	infos, err := s.List()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println("No snapshots.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCREATED\tPAGES\tSTRINGS\tBYTES")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\n",
			info.ID, info.Name, info.Created.Format("2006-01-02 15:04:05"), info.Pages, info.Strings, info.Size)
	}
	return w.Flush()
}

func printStats(st vm.Stats, globals *vm.Page) {
	fmt.Printf("Global page: %d slots\n", globals.Len())
	fmt.Printf("Heap:  %d live / %d slots (%d allocs, %d frees, %d growths)\n",
		st.Heap.Live, st.Heap.Capacity, st.Heap.Allocs, st.Heap.Frees, st.Heap.Growths)
	fmt.Printf("Cache: %d cached pages (%d hits, %d misses, %d drops)\n",
		st.Cache.Cached, st.Cache.Hits, st.Cache.Misses, st.Cache.Drops)
}
