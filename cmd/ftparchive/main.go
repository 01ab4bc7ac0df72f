// Command ftparchive generates repository index files from a tree of
// package archives.
//
//	ftparchive packages <dir> [override [pathprefix]]  > Packages
//	ftparchive sources  <dir> [override [pathprefix]]  > Sources
//	ftparchive contents <dir>                          > Contents
//	ftparchive release  <dir>                          > Release
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aptutil/aptcore/ftparchive"
	"github.com/aptutil/aptcore/pkg/config"
)

func main() {
	cfg := config.New()
	fs := flag.NewFlagSet("ftparchive", flag.ExitOnError)
	fs.Func("o", "set a configuration option (key=value)", func(v string) error {
		eq := strings.IndexByte(v, '=')
		if eq == -1 {
			return fmt.Errorf("option %q is not key=value", v)
		}
		cfg.Set(v[:eq], v[eq+1:])
		return nil
	})
	dbPath := fs.String("db", "", "cache database file")
	quiet := fs.Int("q", 0, "quietness level")
	fs.Parse(os.Args[1:])

	level := slog.LevelInfo
	if *quiet > 0 {
		level = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	args := fs.Args()
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "ftparchive: need a command and a directory")
		os.Exit(2)
	}
	cmd, dir := args[0], args[1]

	var db *ftparchive.CacheDB
	if *dbPath != "" {
		var err error
		db, err = ftparchive.OpenCache(*dbPath, cfg.FindB("APT::FTPArchive::DB::Rebuild", false))
		if err != nil {
			fatal(err)
		}
		defer db.Close()
	}

	over := ftparchive.NewOverride()
	pathPrefix := ""
	if len(args) > 2 && args[2] != "" {
		if err := over.ReadOverride(args[2]); err != nil {
			fatal(err)
		}
	}
	if len(args) > 3 {
		pathPrefix = args[3]
	}

	switch cmd {
	case "packages":
		w := ftparchive.NewPackagesWriter(os.Stdout, db, over)
		w.PathPrefix = pathPrefix
		files, err := ftparchive.WalkFiles(dir, []string{"*.deb", "*.udeb", "*.ddeb"})
		if err != nil {
			fatal(err)
		}
		for _, f := range files {
			if err := w.DoPackage(f); err != nil {
				slog.Warn("skipping archive", "path", f, "reason", err)
			}
		}
		slog.Info("packages done",
			"packages", w.Stats.Packages, "hits", w.Stats.Hits, "misses", w.Stats.Misses)
	case "sources":
		w := ftparchive.NewSourcesWriter(os.Stdout, db, over)
		w.PathPrefix = pathPrefix
		files, err := ftparchive.WalkFiles(dir, []string{"*.dsc"})
		if err != nil {
			fatal(err)
		}
		for _, f := range files {
			if err := w.DoPackage(f); err != nil {
				slog.Warn("skipping source", "path", f, "reason", err)
			}
		}
		slog.Info("sources done",
			"packages", w.Stats.Packages, "hits", w.Stats.Hits, "misses", w.Stats.Misses)
	case "contents":
		cw := ftparchive.NewContentsWriter()
		pw := ftparchive.NewPackagesWriter(nopWriter{}, db, over)
		pw.Contents = cw
		files, err := ftparchive.WalkFiles(dir, []string{"*.deb", "*.udeb"})
		if err != nil {
			fatal(err)
		}
		for _, f := range files {
			if err := pw.DoPackage(f); err != nil {
				slog.Warn("skipping archive", "path", f, "reason", err)
			}
		}
		if err := cw.Finish(os.Stdout); err != nil {
			fatal(err)
		}
	case "release":
		w := ftparchive.NewReleaseWriter(os.Stdout, cfg)
		if err := w.Scan(dir); err != nil {
			fatal(err)
		}
		if err := w.Finish(); err != nil {
			fatal(err)
		}
		if cfg.FindB("APT::FTPArchive::DoByHash", false) {
			if err := w.LinkByHash(dir); err != nil {
				fatal(err)
			}
		}
	default:
		fmt.Fprintf(os.Stderr, "ftparchive: unknown command %q\n", cmd)
		os.Exit(2)
	}
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "ftparchive: %v\n", err)
	os.Exit(1)
}
