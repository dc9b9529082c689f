package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/laj3/laj3/internal/fswatch"
	"github.com/laj3/laj3/internal/hashcache"
	"github.com/laj3/laj3/internal/manifest"
	"github.com/spf13/cobra"
)

var errWatchNeedsOutput = errors.New("--watch needs --output")

type dictOptions struct {
	root      string
	recursive bool
	output    string
	relative  bool
	include   []string
	cache     string
	watch     bool
	debounce  time.Duration
}

func (a *app) dictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dict ROOT",
		Short: "Build a manifest of a file or directory",
		Long: `Build a manifest mapping each file below ROOT to the sha256 of its content.
The manifest is printed to stdout unless --output is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := bindFlags(a.v, cmd.Flags(), map[string]string{
				"dict.recursive": "recursive",
				"dict.relative":  "relative",
				"dict.include":   "include",
				"dict.cache":     "cache",
				"dict.debounce":  "debounce",
			})
			if err != nil {
				return err
			}

			output, _ := cmd.Flags().GetString("output")
			watch, _ := cmd.Flags().GetBool("watch")
			opts := dictOptions{
				root:      args[0],
				recursive: a.v.GetBool("dict.recursive"),
				output:    output,
				relative:  a.v.GetBool("dict.relative"),
				include:   a.v.GetStringSlice("dict.include"),
				cache:     a.v.GetString("dict.cache"),
				watch:     watch,
				debounce:  a.v.GetDuration("dict.debounce"),
			}
			return runDict(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().BoolP("recursive", "r", false, "descend into subdirectories")
	cmd.Flags().StringP("output", "o", "", "write the manifest to this file")
	cmd.Flags().Bool("relative", false, "key entries relative to ROOT")
	cmd.Flags().StringSlice("include", nil, "only include paths matching these globs (e.g. **/*.go)")
	cmd.Flags().String("cache", "", "sqlite file caching digests of unchanged files")
	cmd.Flags().Bool("watch", false, "rebuild the manifest whenever ROOT changes")
	cmd.Flags().Duration("debounce", fswatch.DefaultDebounce, "quiet period before a rebuild in --watch mode")
	return cmd
}

func runDict(ctx context.Context, out io.Writer, opts dictOptions) error {
	if opts.watch && opts.output == "" {
		return errWatchNeedsOutput
	}
	if err := manifest.ValidatePatterns(opts.include); err != nil {
		return err
	}

	builderOpts := []manifest.BuilderOption{manifest.WithIgnoreFile(ownFileRules(opts)...)}
	if opts.relative {
		builderOpts = append(builderOpts, manifest.WithRelativeKeys())
	}
	if len(opts.include) > 0 {
		builderOpts = append(builderOpts, manifest.WithInclude(opts.include...))
	}
	if opts.cache != "" {
		cache, err := hashcache.Open(opts.cache, hashcache.DefaultMemoryEntries)
		if err != nil {
			return err
		}
		defer cache.Close()
		builderOpts = append(builderOpts, manifest.WithDigestCache(cache))
	}

	if err := buildManifest(ctx, out, opts, builderOpts); err != nil {
		return err
	}
	if !opts.watch {
		return nil
	}

	return watchManifest(ctx, out, opts, builderOpts)
}

// ownFileRules anchors the manifest, its lock and the digest cache when they
// live below the scanned root, so a build never lists its own output.
func ownFileRules(opts dictOptions) []string {
	root, err := filepath.Abs(opts.root)
	if err != nil {
		return nil
	}

	var own []string
	if opts.output != "" {
		own = append(own, opts.output, manifest.LockPath(opts.output))
	}
	if opts.cache != "" {
		own = append(own, opts.cache, opts.cache+"-wal", opts.cache+"-shm", opts.cache+"-journal")
	}

	var rules []string
	for _, path := range own {
		abs, err := filepath.Abs(path)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil || !filepath.IsLocal(rel) {
			continue
		}
		rules = append(rules, "/"+filepath.ToSlash(rel))
	}
	return rules
}

func buildManifest(ctx context.Context, out io.Writer, opts dictOptions, builderOpts []manifest.BuilderOption) error {
	start := time.Now()
	b := manifest.NewBuilder(builderOpts...)
	m, err := b.Build(ctx, opts.root, opts.recursive)
	if err != nil {
		return err
	}

	if opts.output == "" {
		data, err := manifest.Marshal(m)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}

	if err := manifest.Save(opts.output, m); err != nil {
		return err
	}

	stats := b.Stats()
	var size int64
	if info, err := os.Stat(opts.output); err == nil {
		size = info.Size()
	}
	fmt.Fprintf(out, "%s %s %s\n",
		green.Render("✓"),
		bold.Render(opts.output),
		gray.Render(fmt.Sprintf("(%d files, %d hashed, %d cached, %s, %s)",
			len(m), stats.Hashed, stats.Cached, humanize.Bytes(uint64(size)), time.Since(start).Round(time.Millisecond))),
	)
	return nil
}

func watchManifest(ctx context.Context, out io.Writer, opts dictOptions, builderOpts []manifest.BuilderOption) error {
	dir := opts.root
	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		dir = filepath.Dir(dir)
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	outputAbs, err := filepath.Abs(opts.output)
	if err != nil {
		return err
	}

	skip := func(path string) bool {
		if strings.HasPrefix(path, outputAbs) {
			return true
		}
		base := filepath.Base(path)
		return strings.Contains(base, ".laj3.tmp.") ||
			(opts.cache != "" && strings.HasPrefix(base, filepath.Base(opts.cache)))
	}

	w := fswatch.New(dir, fswatch.WithDebounce(opts.debounce), fswatch.WithFilter(skip))
	fmt.Fprintln(out, cyan.Render("watching"), dir)

	return w.Run(ctx, func(ctx context.Context, paths []string) error {
		slog.Debug("rebuilding manifest", "changed", len(paths))
		if err := buildManifest(ctx, out, opts, builderOpts); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("rebuild manifest", "root", opts.root, "error", err)
		}
		return nil
	})
}
