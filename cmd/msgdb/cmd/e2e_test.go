package cmd

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wesm/msgdb/internal/testutil"
	testemail "github.com/wesm/msgdb/internal/testutil/email"
)

// runCLI executes the global root command with args and returns what it
// printed to stdout. Package-level flag state is restored afterwards.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	prevCfg, prevLogger, prevCfgFile, prevVerbose := cfg, logger, cfgFile, verbose
	prevSearchLimit, prevSearchJSON, prevSearchSave := searchLimit, searchJSON, searchSave
	prevThreaded, prevFlat := viewThreaded, viewFlat
	prevPurgeDays, prevHeaders := purgeDays, showHeadersOnly
	t.Cleanup(func() {
		cfg, logger, cfgFile, verbose = prevCfg, prevLogger, prevCfgFile, prevVerbose
		searchLimit, searchJSON, searchSave = prevSearchLimit, prevSearchJSON, prevSearchSave
		viewThreaded, viewFlat = prevThreaded, prevFlat
		purgeDays, showHeadersOnly = prevPurgeDays, prevHeaders
	})

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	oldStdout := os.Stdout
	os.Stdout = w
	out := make(chan string, 1)
	go func() {
		b, _ := io.ReadAll(r)
		out <- string(b)
	}()

	rootCmd.SetOut(io.Discard)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	runErr := rootCmd.ExecuteContext(context.Background())

	_ = w.Close()
	os.Stdout = oldStdout
	return <-out, runErr
}

func TestCLI_ImportViewSearchPurge(t *testing.T) {
	home := t.TempDir()
	t.Setenv("MSGDB_HOME", home)

	mailDir := t.TempDir()
	parent := testutil.WriteFile(t, mailDir, "parent.eml", testemail.NewMessage().
		From("Alice <alice@example.com>").
		Subject("Quarterly report").
		MessageID("<report@example.com>").
		Body("the numbers look good").
		Bytes())
	reply := testutil.WriteFile(t, mailDir, "reply.eml", testemail.NewMessage().
		From("Bob <bob@example.com>").
		Subject("Re: Quarterly report").
		Date("Tue, 02 Jan 2024 09:30:00 +0000").
		MessageID("<reply@example.com>").
		InReplyTo("<report@example.com>").
		Body("thanks for sending").
		Bytes())

	out, err := runCLI(t, "import", parent, reply)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	testutil.AssertContainsAll(t, out, []string{"Imported 2 messages (0 duplicates)"})

	out, err = runCLI(t, "view", "Inbox", "--threaded")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	testutil.AssertContainsAll(t, out, []string{"Inbox (2 messages)", "* Quarterly report", "  * Re: Quarterly report"})

	out, err = runCLI(t, "show", "--headers", "2")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	testutil.AssertContainsAll(t, out, []string{"Subject:  Re: Quarterly report", "Parent:   1", "Indexes:  Inbox"})

	out, err = runCLI(t, "search", "numbers")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	testutil.AssertContainsAll(t, out, []string{"Quarterly report", "Showing 1 of 1 results"})
	if strings.Contains(out, "Re: Quarterly report") {
		t.Errorf("search matched the reply:\n%s", out)
	}

	out, err = runCLI(t, "trash", "1")
	if err != nil {
		t.Fatalf("trash: %v", err)
	}
	testutil.AssertContainsAll(t, out, []string{"Trashed 1 message(s)"})

	out, err = runCLI(t, "purge", "--days", "0")
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	testutil.AssertContainsAll(t, out, []string{"Purged 1 messages"})

	if _, err := runCLI(t, "show", "1"); err == nil {
		t.Error("show of a purged message succeeded")
	}
}

func TestCLI_ImportArchives(t *testing.T) {
	t.Setenv("MSGDB_HOME", t.TempDir())
	mailDir := t.TempDir()

	archive := testutil.WriteFile(t, mailDir, "takeout.mbox", testemail.Mbox(
		time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		testemail.NewMessage().Subject("Archived one").MessageID("<a1@example.com>").Bytes(),
		testemail.NewMessage().Subject("Archived two").MessageID("<a2@example.com>").Bytes(),
	))

	// Apple Mail flags 17: read and flagged.
	raw := testemail.NewMessage().Subject("From Apple Mail").MessageID("<apple@example.com>").Bytes()
	emlx := testutil.WriteFile(t, mailDir, "1.emlx", testemail.EMLX(raw, 17))

	out, err := runCLI(t, "import", archive, emlx)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	testutil.AssertContainsAll(t, out, []string{"Imported 3 messages (0 duplicates)"})

	out, err = runCLI(t, "search", "is:flagged")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	testutil.AssertContainsAll(t, out, []string{"From Apple Mail", "Showing 1 of 1 results"})
}

func TestCLI_InitCreatesDatabaseFiles(t *testing.T) {
	home := t.TempDir()
	t.Setenv("MSGDB_HOME", home)

	out, err := runCLI(t, "init")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	testutil.AssertContainsAll(t, out, []string{"Database: "+home, "Indexes: 8"})
	testutil.MustExist(t, filepath.Join(home, "messages.db"))
	testutil.MustExist(t, filepath.Join(home, "indexes.db"))
	testutil.MustExist(t, filepath.Join(home, "lexicon.db"))
	testutil.MustNotExist(t, filepath.Join(home, "config.toml"))
}

func TestCLI_ViewRejectsConflictingModels(t *testing.T) {
	t.Setenv("MSGDB_HOME", t.TempDir())
	if _, err := runCLI(t, "view", "Inbox", "--threaded", "--flat"); err == nil {
		t.Fatal("expected an error for --threaded with --flat")
	}
}
