package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mspsdc/helpdesk/internal/config"
	"github.com/mspsdc/helpdesk/internal/exchangelog"
)

func TestDBMigrateCmd_SQLite(t *testing.T) {
	path := writeConfig(t, "")

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"db", "migrate", "-c", path})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("db migrate failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Migrated 1 tables") {
		t.Errorf("output = %q, want migrated table count", buf.String())
	}
}

func TestDBStatsCmd(t *testing.T) {
	path := writeConfig(t, "")
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	exchanges, closeDB, err := openExchangeLog(cfg.Database)
	if err != nil {
		t.Fatalf("openExchangeLog: %v", err)
	}
	at := time.Date(2026, 10, 17, 9, 0, 0, 0, time.Local)
	exchanges.Record(context.Background(), exchangelog.Entry{
		UserID:      "919800000001",
		Query:       "How do I apply?",
		Response:    "Visit the portal.",
		Channel:     "web",
		Backend:     "demo",
		RequestedAt: at,
		RespondedAt: at.Add(2 * time.Second),
	})
	closeDB()

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"db", "stats", "-c", path})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("db stats failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Exchanges:       1") {
		t.Errorf("output = %q, want one exchange", out)
	}
	if !strings.Contains(out, "2.00s") {
		t.Errorf("output = %q, want 2.00s average latency", out)
	}
}
