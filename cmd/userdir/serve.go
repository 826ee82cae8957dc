package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Sashemishi/userdir/internal/live"
	"github.com/Sashemishi/userdir/internal/remote"
	"github.com/Sashemishi/userdir/internal/stream"
	"github.com/Sashemishi/userdir/internal/syncer"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the directory daemon with a live WebSocket result feed",
	Long: `Run the long-lived directory daemon.

The daemon starts the debounced query stream over the local store and
broadcasts every delivered result snapshot to WebSocket clients. One
refresh against the remote source is triggered at startup, concurrently
with the first emission, so clients see currently-stored data
immediately even before the refresh completes. Further refreshes run on
a fixed interval; with a snapshot source, the file is also watched and
each change triggers a refresh.

WebSocket messages:
- records: the current filtered result set
- sync:    a refresh completed (success or failure, plus last sync time)

Example usage:
  userdir serve --url https://example.com/users.json
  userdir serve --snapshot ./users.json --watch --port 9000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		refreshInterval, _ := cmd.Flags().GetDuration("refresh-interval")
		debounce, _ := cmd.Flags().GetDuration("debounce")
		watch, _ := cmd.Flags().GetBool("watch")
		filter, _ := cmd.Flags().GetString("filter")
		logFile, _ := cmd.Flags().GetString("log-file")

		var out io.Writer = os.Stderr
		if logFile != "" {
			out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
				Filename:   logFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
			})
		}
		logger := log.New(out, "[serve] ", log.LstdFlags)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		source, err := newSource()
		if err != nil {
			return err
		}

		sync := syncer.New(st, source, log.New(out, "[syncer] ", log.LstdFlags))

		str := stream.New(st, &stream.Config{
			DebounceInterval: debounce,
			Logger:           log.New(out, "[stream] ", log.LstdFlags),
		})
		if filter != "" {
			str.SetFilter(filter)
		}
		if err := str.Start(); err != nil {
			return err
		}
		defer str.Stop()

		server := live.NewServer(&live.Config{
			Port:   port,
			Logger: log.New(out, "[live] ", log.LstdFlags),
		})
		if err := server.Start(); err != nil {
			return err
		}
		defer func() {
			if err := server.Stop(); err != nil {
				logger.Printf("Error stopping live server: %v", err)
			}
		}()

		// Bridge stream deliveries onto the WebSocket feed. Each
		// delivery carries the filter that produced it, so the
		// broadcast stays consistent even if the filter has moved on.
		results, unsubscribe := str.Subscribe()
		defer unsubscribe()
		go func() {
			for res := range results {
				server.BroadcastRecords(res.Filter, res.Records)
			}
		}()

		refresh := func() {
			sync.Refresh(ctx)
			last, _ := sync.LastSync()
			server.BroadcastSync(sync.LastError(), last)
		}

		// Initial refresh runs concurrently; the stream already serves
		// whatever is committed locally.
		go refresh()

		if refreshInterval > 0 {
			go func() {
				ticker := time.NewTicker(refreshInterval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						refresh()
					}
				}
			}()
		}

		if watch {
			fs, ok := source.(*remote.FileSource)
			if !ok {
				return fmt.Errorf("--watch requires a --snapshot source")
			}
			if err := watchSnapshot(ctx, fs.Path(), logger, refresh); err != nil {
				return err
			}
		}

		fmt.Printf("Live server started on http://localhost:%d\n", port)
		fmt.Printf("WebSocket endpoint: ws://localhost:%d/ws\n", port)
		fmt.Println("\nPress Ctrl+C to stop...")

		<-ctx.Done()
		logger.Println("Shutdown signal received")
		return nil
	},
}

// watchSnapshot watches the snapshot file and invokes refresh on each
// write. Watching the parent directory survives editors that replace
// the file instead of writing in place.
func watchSnapshot(ctx context.Context, path string, logger *log.Logger, refresh func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to resolve snapshot path: %w", err)
	}

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch snapshot directory: %w", err)
	}

	logger.Printf("Watching snapshot: %s", abs)

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				if evAbs, err := filepath.Abs(event.Name); err != nil || evAbs != abs {
					continue
				}
				logger.Printf("Snapshot changed: %s %s", event.Op, event.Name)
				refresh()

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Printf("Watcher error: %v", err)
			}
		}
	}()

	return nil
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8080, "Port for the live WebSocket server")
	serveCmd.Flags().Duration("refresh-interval", 5*time.Minute, "How often to refresh from the remote source (0 disables)")
	serveCmd.Flags().Duration("debounce", 200*time.Millisecond, "Filter debounce interval for the query stream")
	serveCmd.Flags().Bool("watch", false, "Watch the snapshot file and refresh on change (requires --snapshot)")
	serveCmd.Flags().String("filter", "", "Initial filter text for the query stream")
	serveCmd.Flags().String("log-file", "", "Also write logs to this file (rotated)")

	rootCmd.AddCommand(serveCmd)
}
