package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/bina/bimsync/pkg/client"
	"github.com/bina/bimsync/pkg/models"
)

func cmdUpload(args []string) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	category := fs.String("category", "", "Clash category (see -list-categories)")
	name := fs.String("name", "", "Report name (default: the file name)")
	description := fs.String("description", "", "Report description")
	projectID := fs.Int("project", 0, "Project to upload to (default: the selected project)")
	listCategories := fs.Bool("list-categories", false, "List clash categories and exit")
	fs.Parse(args)

	if *listCategories {
		printCategories(os.Stdout)
		return
	}
	if fs.NArg() != 1 {
		fatalf("Usage: bimsync upload -category <category> [-name n] [-description d] <report.html>")
	}
	cat, err := models.ParseClashCategory(*category)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		printCategories(os.Stderr)
		os.Exit(1)
	}

	e := setup()
	e.requireAuth()
	pid := e.projectID(*projectID)

	result := e.api.UploadReport(context.Background(), pid, e.state.AccessToken, client.ReportUpload{
		FilePath:    fs.Arg(0),
		Category:    cat,
		Name:        *name,
		Description: *description,
	})
	if !result.Success {
		fatalf("Error: %s", result.Message)
	}

	msg := result.Message
	if msg == "" {
		msg = "Report uploaded."
	}
	fmt.Println(msg)
	if result.Data != nil && result.Data.ID != "" {
		fmt.Printf("Report ID: %s\n", result.Data.ID)
	}
}

func printCategories(w io.Writer) {
	fmt.Fprintln(w, "Clash categories:")
	for _, info := range models.ClashCategories() {
		fmt.Fprintf(w, "  %-26s %s\n", info.Category, info.DisplayName)
	}
}
