package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/bina/bimsync/internal/events"
	"github.com/bina/bimsync/internal/history"
	"github.com/bina/bimsync/internal/logging"
	"github.com/bina/bimsync/internal/metrics"
	"github.com/bina/bimsync/internal/storage"
	"github.com/bina/bimsync/internal/syncer"
	"github.com/bina/bimsync/internal/tui"
	"github.com/bina/bimsync/pkg/client"
	"github.com/bina/bimsync/pkg/models"
)

// Exit codes of sync.
const (
	exitOK      = 0
	exitFailed  = 1
	exitPartial = 2
)

func cmdSync(args []string) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	dir := fs.String("dir", "", "Download folder (default: the folder set with 'bimsync path')")
	projectID := fs.Int("project", 0, "Project to sync (default: the selected project)")
	plain := fs.Bool("plain", false, "Print line progress instead of the interactive view")
	fs.Parse(args)

	e := setup()
	e.requireAuth()
	pid := e.projectID(*projectID)
	root := e.downloadRoot(*dir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bcast := events.NewBroadcaster()
	syn := syncer.New(e.api, e.downloader(), syncer.WithEvents(bcast))
	run := func(ctx context.Context) *models.SyncResult {
		return syn.Run(ctx, pid, e.state.AccessToken, root)
	}

	var result *models.SyncResult
	sub := bcast.Subscribe()
	if !*plain && term.IsTerminal(int(os.Stdout.Fd())) {
		if e.cfg.LogFile == "" {
			// Log lines on stderr would tear the progress view.
			logging.SetLevel("fatal")
		}
		var err error
		result, err = tui.Run(ctx, "Syncing "+projectLabel(pid, e.state.ProjectName), sub, run)
		bcast.Unsubscribe(sub)
		logging.SetLevel(e.cfg.LogLevel)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: progress view failed: %v\n", err)
			fmt.Println(tui.RenderResult(result))
		}
	} else {
		done := make(chan struct{})
		go func() {
			printProgress(os.Stdout, sub)
			close(done)
		}()
		result = run(ctx)
		bcast.Unsubscribe(sub)
		<-done
		fmt.Println(tui.RenderResult(result))
	}

	e.afterRun(ctx, result)
	if result.Err != nil {
		e.authFailed(result.Err)
	}
	logging.Sync()
	os.Exit(exitCode(result))
}

// exitCode maps a run to the process status: 0 when everything present was
// downloaded, 2 for a partial run and 1 when nothing could be downloaded.
func exitCode(r *models.SyncResult) int {
	switch {
	case r.Err != nil:
		return exitFailed
	case r.NothingToSync:
		return exitOK
	}
	switch r.Classify() {
	case models.AggregateAllSucceeded:
		return exitOK
	case models.AggregateAllFailed:
		return exitFailed
	default:
		return exitPartial
	}
}

// printProgress writes one line per finished item until sub is closed.
func printProgress(w io.Writer, sub <-chan events.Event) {
	for ev := range sub {
		switch ev.Type {
		case events.EventResolved:
			fmt.Fprintf(w, "Found %d discipline items\n", ev.Total)
		case events.EventItem:
			status := ev.ItemStatus()
			if !status.Terminal() {
				continue
			}
			line := fmt.Sprintf("[%d/%d] %-9s %s: %s", ev.Index+1, ev.Total, status, ev.Label, ev.FileName)
			if status != models.StatusSucceeded && ev.Detail != "" {
				line += " (" + ev.Detail + ")"
			}
			fmt.Fprintln(w, line)
		}
	}
}

// downloadRoot resolves the sync folder and remembers an explicit choice.
func (e *env) downloadRoot(dir string) string {
	if dir == "" {
		dir = e.state.LastDownloadPath
	}
	if dir == "" {
		fatalf("Error: no download folder. Use -dir or run 'bimsync path <dir>'.")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		fatalf("Error: %v", err)
	}
	if abs != e.state.LastDownloadPath {
		e.state.LastDownloadPath = abs
		e.save()
	}
	return abs
}

// afterRun records the run in the history and mirrors its files. Neither
// step changes the result.
func (e *env) afterRun(ctx context.Context, result *models.SyncResult) {
	if h, err := history.Open(e.cfg.HistoryPath); err != nil {
		logging.Warn("run history unavailable", logging.Err(err))
	} else {
		if _, err := h.Record(result); err != nil {
			logging.Warn("failed to record run", logging.String("run_id", result.RunID), logging.Err(err))
		}
		h.Close()
	}

	if e.cfg.Mirror.Type == "" || result.Succeeded == 0 {
		return
	}
	backend, err := storage.NewBackend(ctx, e.cfg.Mirror)
	if err != nil {
		logging.Warn("mirror unavailable", logging.String("type", e.cfg.Mirror.Type), logging.Err(err))
		return
	}
	defer backend.Close()

	report := storage.NewMirror(backend, mirrorPrefix(e.cfg.Mirror.Type, e.cfg.Mirror.S3.Prefix)).Publish(ctx, result)
	if report.Failed > 0 {
		fmt.Fprintf(os.Stderr, "Warning: %d of %d files could not be mirrored\n", report.Failed, report.Failed+report.Published)
	}
}

// mirrorPrefix is the key prefix; local mirrors write directly under
// their root.
func mirrorPrefix(mirrorType, s3Prefix string) string {
	if mirrorType == "s3" {
		return s3Prefix
	}
	return ""
}

func cmdWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	dir := fs.String("dir", "", "Download folder (default: the folder set with 'bimsync path')")
	projectID := fs.Int("project", 0, "Project to sync (default: the selected project)")
	interval := fs.Duration("interval", 0, "Interval between runs (default: watch_interval)")
	addr := fs.String("addr", "", "Listen address of /metrics and /events (default: metrics_addr)")
	fs.Parse(args)

	e := setup()
	e.requireAuth()
	pid := e.projectID(*projectID)
	root := e.downloadRoot(*dir)
	if *interval <= 0 {
		*interval = e.cfg.WatchInterval
	}
	if *addr == "" {
		*addr = e.cfg.MetricsAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bcast := events.NewBroadcaster()
	syn := syncer.New(e.api, e.downloader(), syncer.WithEvents(bcast))

	srv := &http.Server{
		Addr:              *addr,
		Handler:           watchMux(bcast),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("metrics server failed", logging.String("addr", *addr), logging.Err(err))
		}
	}()

	logging.Info("watch started",
		logging.Int("project_id", pid),
		logging.String("download_root", root),
		logging.Duration("interval", *interval),
		logging.String("addr", *addr),
	)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		e.watchPass(ctx, syn, pid, root)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			logging.Info("watch stopping")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			srv.Shutdown(shutdownCtx)
			cancel()
			logging.Sync()
			return
		}
	}
}

// watchPass runs one sync with the freshest stored session, so a login in
// another terminal is picked up without restarting the watch.
func (e *env) watchPass(ctx context.Context, syn *syncer.Syncer, pid int, root string) {
	if st, err := e.store.Load(); err == nil {
		e.state = st
	}
	if !e.state.IsAuthenticated(time.Now()) {
		logging.Warn("session expired, skipping run; run 'bimsync login'")
		return
	}

	result := syn.Run(ctx, pid, e.state.AccessToken, root)
	e.afterRun(ctx, result)
	if client.IsKind(result.Err, client.KindUnauthorized) {
		logging.Warn("server rejected the session; run 'bimsync login'")
	}
}

func watchMux(b *events.Broadcaster) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/events", events.Handler(b))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

func cmdTail(args []string) {
	fs := flag.NewFlagSet("tail", flag.ExitOnError)
	url := fs.String("url", "", "Event stream URL (default: /events on metrics_addr)")
	fs.Parse(args)

	e := setup()
	if *url == "" {
		*url = eventsURL(e.cfg.MetricsAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Following %s (Ctrl+C to stop)\n", *url)
	sub := events.NewStream(*url).Subscribe(ctx)
	tail := make(chan events.Event)
	go func() {
		defer close(tail)
		for ev := range sub {
			switch ev.Type {
			case events.EventRunStarted:
				fmt.Printf("Run %s started for project %d\n", ev.RunID, ev.ProjectID)
			case events.EventListingFailed:
				fmt.Printf("Run %s: failed to fetch file list: %s\n", ev.RunID, ev.Detail)
			case events.EventRunFinished:
				fmt.Printf("Run %s finished: %s\n", ev.RunID, ev.Detail)
			default:
				tail <- ev
			}
		}
	}()
	printProgress(os.Stdout, tail)
}

// eventsURL is the /events URL of a watch listening on addr.
func eventsURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr + "/events"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port) + "/events"
}

func cmdHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("n", 10, "Number of runs to show (0 for all)")
	fs.Parse(args)

	e := setup()
	h, err := history.Open(e.cfg.HistoryPath)
	if err != nil {
		fatalf("Error: %v", err)
	}
	defer h.Close()

	if fs.NArg() > 0 {
		entry, ok, err := h.Get(fs.Arg(0))
		if err != nil {
			fatalf("Error: %v", err)
		}
		if !ok {
			fatalf("Error: no run %s", fs.Arg(0))
		}
		printEntry(os.Stdout, entry)
		return
	}

	entries, err := h.Recent(*limit)
	if err != nil {
		fatalf("Error: %v", err)
	}
	if len(entries) == 0 {
		fmt.Println("No runs recorded")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tRUN\tPROJECT\tOUTCOME\tOK\tFAILED\tMISSING")
	for _, en := range entries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%d\t%d\n",
			en.StartedAt.Local().Format("2006-01-02 15:04"),
			en.RunID, en.ProjectID, en.Outcome,
			en.Succeeded, en.Failed, en.Skipped)
	}
	w.Flush()
}

func printEntry(w io.Writer, en history.Entry) {
	fmt.Fprintf(w, "Run:      %s\n", en.RunID)
	fmt.Fprintf(w, "Project:  %d\n", en.ProjectID)
	fmt.Fprintf(w, "Folder:   %s\n", en.Root)
	fmt.Fprintf(w, "Started:  %s\n", en.StartedAt.Local().Format(time.RFC1123))
	fmt.Fprintf(w, "Duration: %s\n", en.FinishedAt.Sub(en.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(w, "Result:   %s\n", en.Headline)
	fmt.Fprintf(w, "          %s\n", en.Summary)
	for _, it := range en.Items {
		line := fmt.Sprintf("  %-9s %s: %s", it.Status, it.Label, it.FileName)
		if it.Detail != "" {
			line += " (" + it.Detail + ")"
		}
		fmt.Fprintln(w, line)
	}
}
