package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/bina/bimsync/pkg/client"
	"github.com/bina/bimsync/pkg/models"
)

func cmdLogin(args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "Account email (prompted when empty)")
	projectID := fs.Int("project", 0, "Project to select after sign-in")
	fs.Parse(args)

	e := setup()
	ctx := context.Background()

	reader := bufio.NewReader(os.Stdin)
	if *email == "" {
		fmt.Print("Email: ")
		line, _ := reader.ReadString('\n')
		*email = strings.TrimSpace(line)
	}
	if *email == "" {
		fatalf("Error: email is required")
	}

	fmt.Print("Password: ")
	password, err := readPassword(reader)
	fmt.Println()
	if err != nil {
		fatalf("Error reading password: %v", err)
	}

	resp, err := e.api.Login(ctx, *email, password)
	if err != nil {
		if client.IsKind(err, client.KindInvalidCredentials) {
			fatalf("Login failed. Please check your credentials.")
		}
		fatalf("Error: %v", err)
	}
	e.state.ApplyLogin(*email, resp, time.Now())

	projects, err := e.api.FetchUserProjects(ctx, e.state.AccessToken)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not list projects: %v\n", err)
	}
	switch {
	case *projectID > 0:
		p, ok := findProject(projects, *projectID)
		if !ok && err == nil {
			fatalf("Error: project %d is not accessible to %s", *projectID, *email)
		}
		e.state.SelectProject(*projectID, p.Name)
	case e.state.ProjectID == 0 && len(projects) == 1:
		e.state.SelectProject(projects[0].ID, projects[0].Name)
	}
	e.save()

	fmt.Printf("Logged in as %s\n", e.state.UserName)
	if e.state.ProjectID > 0 {
		fmt.Printf("Project: %s\n", projectLabel(e.state.ProjectID, e.state.ProjectName))
	} else {
		fmt.Println("No project selected. Run 'bimsync projects' and 'bimsync use <project-id>'.")
	}
}

// readPassword reads without echo from a terminal and falls back to a
// plain line when stdin is piped.
func readPassword(reader *bufio.Reader) (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		b, err := term.ReadPassword(int(syscall.Stdin))
		return string(b), err
	}
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func cmdLogout(args []string) {
	fs := flag.NewFlagSet("logout", flag.ExitOnError)
	fs.Parse(args)

	e := setup()
	e.state.ClearSession()
	e.save()
	fmt.Println("Logged out.")
}

func cmdProjects(args []string) {
	fs := flag.NewFlagSet("projects", flag.ExitOnError)
	fs.Parse(args)

	e := setup()
	e.requireAuth()

	projects, err := e.api.FetchUserProjects(context.Background(), e.state.AccessToken)
	if err != nil {
		e.authFailed(err)
		fatalf("Error: %v", err)
	}
	if len(projects) == 0 {
		fmt.Println("No projects available")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tID\tNAME\tDESCRIPTION")
	for _, p := range projects {
		mark := ""
		if p.ID == e.state.ProjectID {
			mark = "*"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", mark, p.ID, p.Name, p.Description)
	}
	w.Flush()
}

func cmdUse(args []string) {
	fs := flag.NewFlagSet("use", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		fatalf("Usage: bimsync use <project-id>")
	}
	id, err := strconv.Atoi(fs.Arg(0))
	if err != nil || id <= 0 {
		fatalf("Error: invalid project id %q", fs.Arg(0))
	}

	e := setup()
	e.requireAuth()

	projects, err := e.api.FetchUserProjects(context.Background(), e.state.AccessToken)
	if err != nil {
		e.authFailed(err)
		fatalf("Error: %v", err)
	}
	p, ok := findProject(projects, id)
	if !ok {
		fatalf("Error: project %d is not accessible", id)
	}

	e.state.SelectProject(p.ID, p.Name)
	e.save()
	fmt.Printf("Selected project %s\n", projectLabel(p.ID, p.Name))
}

func cmdPath(args []string) {
	fs := flag.NewFlagSet("path", flag.ExitOnError)
	fs.Parse(args)

	e := setup()
	if fs.NArg() == 0 {
		if e.state.LastDownloadPath == "" {
			fmt.Println("No download folder set")
			return
		}
		fmt.Println(e.state.LastDownloadPath)
		return
	}

	dir, err := filepath.Abs(fs.Arg(0))
	if err != nil {
		fatalf("Error: %v", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		fatalf("Error: cannot create %s: %v", dir, err)
	}
	e.state.LastDownloadPath = dir
	e.save()
	fmt.Printf("Download folder set to %s\n", dir)
}

func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	fs.Parse(args)

	e := setup()
	st := e.state
	now := time.Now()

	fmt.Printf("Server:    %s\n", e.cfg.ServerURL)
	fmt.Printf("State:     %s\n", e.store.Path())
	if st.UserName == "" {
		fmt.Println("User:      (not logged in)")
	} else {
		fmt.Printf("User:      %s\n", st.UserName)
	}

	switch {
	case st.AccessToken == "":
		fmt.Println("Token:     none")
	case st.IsAuthenticated(now):
		if st.TokenExpiry.IsZero() {
			fmt.Println("Token:     valid")
		} else {
			fmt.Printf("Token:     valid until %s\n", st.TokenExpiry.Local().Format(time.RFC1123))
		}
	default:
		fmt.Println("Token:     expired")
	}

	if st.ProjectID > 0 {
		fmt.Printf("Project:   %s\n", projectLabel(st.ProjectID, st.ProjectName))
	} else {
		fmt.Println("Project:   (none)")
	}
	if st.LastDownloadPath != "" {
		fmt.Printf("Folder:    %s\n", st.LastDownloadPath)
	} else {
		fmt.Println("Folder:    (none)")
	}
	fmt.Printf("Ready:     %t\n", st.IsLoggedIn() && st.IsAuthenticated(now))
}

func findProject(projects []models.ProjectRef, id int) (models.ProjectRef, bool) {
	for _, p := range projects {
		if p.ID == id {
			return p, true
		}
	}
	return models.ProjectRef{ID: id}, false
}

func projectLabel(id int, name string) string {
	if name == "" {
		return strconv.Itoa(id)
	}
	return fmt.Sprintf("%s (%d)", name, id)
}
