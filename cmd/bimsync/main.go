// bimsync synchronizes BIM discipline files from the BINA cloud to a local
// folder and uploads clash-detection reports.
//
// Sub-commands:
//
//	bimsync login [-email e] [-project id]   Sign in and store the session
//	bimsync logout                           Clear the stored session
//	bimsync projects                         List accessible projects
//	bimsync use <project-id>                 Select the sync project
//	bimsync path <dir>                       Set the default download folder
//	bimsync status                           Show session status
//	bimsync sync [-dir d] [-project id]      Run one sync pass
//	bimsync watch [-dir d] [-interval 15m]   Sync periodically, serve /metrics and /events
//	bimsync tail [-url u]                    Follow the progress of a running watch
//	bimsync history [-n 10] [run-id]         Show recorded runs
//	bimsync upload -category c <file>        Upload a clash report
//	bimsync config                           Show configuration variables
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bina/bimsync/internal/config"
	"github.com/bina/bimsync/internal/logging"
	"github.com/bina/bimsync/internal/session"
	"github.com/bina/bimsync/pkg/client"
	"github.com/bina/bimsync/pkg/transfer"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "login":
		cmdLogin(args)
	case "logout":
		cmdLogout(args)
	case "projects":
		cmdProjects(args)
	case "use":
		cmdUse(args)
	case "path":
		cmdPath(args)
	case "status":
		cmdStatus(args)
	case "sync":
		cmdSync(args)
	case "watch":
		cmdWatch(args)
	case "tail":
		cmdTail(args)
	case "history":
		cmdHistory(args)
	case "upload":
		cmdUpload(args)
	case "config":
		cmdConfig(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`bimsync - BIM discipline file sync

Usage: bimsync <command> [flags] [args]

Commands:
  login              Sign in with email and password
  logout             Clear the stored session
  projects           List accessible projects
  use <project-id>   Select the project to sync
  path <dir>         Set the default download folder
  status             Show session status
  sync               Download the latest discipline files
  watch              Sync periodically and serve /metrics and /events
  tail               Follow the progress of a running watch
  history [run-id]   Show recorded sync runs
  upload <file>      Upload a clash-detection report
  config             Show configuration variables
  help               Show this help message

Configuration is read from $BIMSYNC_CONFIG or config.yaml in the user
config directory, overridden by BIMSYNC_* environment variables.

Examples:
  bimsync login -email jane@example.com
  bimsync use 42
  bimsync sync -dir ~/Models
  bimsync upload -category STRUCTURE_VS_MEP report.html
  bimsync watch -interval 30m`)
}

// env is the state shared by every command.
type env struct {
	cfg   *config.Config
	store *session.Store
	state session.State
	api   *client.Client
}

func setup() *env {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		fatalf("Error: %v", err)
	}
	if err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		OutputPath: cfg.LogFile,
	}); err != nil {
		fatalf("Error initializing logger: %v", err)
	}

	store := session.NewStore(cfg.StatePath)
	state, err := store.Load()
	if err != nil && !errors.Is(err, session.ErrNoState) {
		logging.Warn("session state unreadable, using defaults",
			logging.String("path", store.Path()),
			logging.Err(err),
		)
	}

	return &env{
		cfg:   cfg,
		store: store,
		state: state,
		api: client.New(client.Config{
			BaseURL:          cfg.ServerURL,
			Timeout:          cfg.APITimeout,
			UploadTimeout:    cfg.TransferTimeout,
			UserAgent:        cfg.UserAgent,
			SkipProxyWarning: cfg.SkipProxyWarning,
		}),
	}
}

func (e *env) downloader() *transfer.Downloader {
	return transfer.New(transfer.Config{
		Timeout:          e.cfg.TransferTimeout,
		UserAgent:        e.cfg.UserAgent,
		SkipProxyWarning: e.cfg.SkipProxyWarning,
	})
}

func (e *env) save() {
	if err := e.store.Save(e.state); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to save session: %v\n", err)
	}
}

// requireAuth exits unless the stored token is present and unexpired.
func (e *env) requireAuth() {
	if !e.state.IsAuthenticated(time.Now()) {
		fatalf("Error: not logged in or session expired. Run 'bimsync login'.")
	}
}

// projectID returns override when set, else the selected project.
func (e *env) projectID(override int) int {
	if override > 0 {
		return override
	}
	if e.state.ProjectID <= 0 {
		fatalf("Error: no project selected. Run 'bimsync projects' and 'bimsync use <project-id>'.")
	}
	return e.state.ProjectID
}

// authFailed reports an expired session and exits when err is an
// unauthorized response.
func (e *env) authFailed(err error) {
	if client.IsKind(err, client.KindUnauthorized) {
		fatalf("Error: session expired. Run 'bimsync login'.")
	}
}

func fatalf(format string, args ...any) {
	logging.Sync()
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func cmdConfig(args []string) {
	fmt.Printf("Config file: %s\n\n", config.DefaultPath())
	fmt.Println(config.Describe())
}
