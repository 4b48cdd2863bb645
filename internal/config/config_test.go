package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const fullYAML = `
server:
  port: 9090

database:
  driver: mysql
  host: 10.0.0.5
  port: 3307
  user: helpdesk
  database: helpdesk_logs

primary:
  url: http://rag.internal:5000/query/
  timeout_sec: 20
  async_timeout_sec: 300

local:
  enabled: true
  base_url: http://gpu-box:11434
  model: llama3.1
  history_turns: 8

mode:
  enhanced: true

sessions:
  max_turns: 30
  store: redis
  redis:
    addr: redis:6379
    db: 2

delivery:
  notice_interval_sec: 45
  max_notices: 2
  max_wait_sec: 400

whatsapp:
  enabled: true
  access_token: EAAG
  app_secret: s3cret
  verify_token: verify-me
  phone_number_id: "1234567890"
  display_number: "919811294652"

report:
  enabled: true
  smtp_host: smtp.gmail.com
  from: chatbot.feedback@example.org
  to: [ops@example.org]
  cc: [cto@example.org, ceo@example.org]
`

func TestParse_FullConfig(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9090)
	}
	if cfg.Database.Driver != "mysql" {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, "mysql")
	}
	if cfg.Database.Port != 3307 {
		t.Errorf("Database.Port = %d, want %d", cfg.Database.Port, 3307)
	}
	if cfg.Primary.URL != "http://rag.internal:5000/query/" {
		t.Errorf("Primary.URL = %q", cfg.Primary.URL)
	}
	if cfg.Primary.AsyncTimeoutSec != 300 {
		t.Errorf("Primary.AsyncTimeoutSec = %d, want 300", cfg.Primary.AsyncTimeoutSec)
	}
	if cfg.Local.Model != "llama3.1" {
		t.Errorf("Local.Model = %q, want %q", cfg.Local.Model, "llama3.1")
	}
	if cfg.Local.HistoryTurns != 8 {
		t.Errorf("Local.HistoryTurns = %d, want 8", cfg.Local.HistoryTurns)
	}
	if !cfg.Mode.Enhanced {
		t.Error("Mode.Enhanced = false, want true")
	}
	if cfg.Sessions.Store != "redis" || cfg.Sessions.Redis.DB != 2 {
		t.Errorf("Sessions = %+v, want redis store on db 2", cfg.Sessions)
	}
	if cfg.Delivery.MaxNotices != 2 {
		t.Errorf("Delivery.MaxNotices = %d, want 2", cfg.Delivery.MaxNotices)
	}
	if cfg.WhatsApp.DisplayNumber != "919811294652" {
		t.Errorf("WhatsApp.DisplayNumber = %q", cfg.WhatsApp.DisplayNumber)
	}
	if len(cfg.Report.Cc) != 2 {
		t.Errorf("len(Report.Cc) = %d, want 2", len(cfg.Report.Cc))
	}
}

func TestParse_Empty_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want 8000 (default)", cfg.Server.Port)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.Path != "rag_response_logging.db" {
		t.Errorf("Database = %+v, want sqlite at rag_response_logging.db", cfg.Database)
	}
	if cfg.Primary.URL != "http://127.0.0.1:5000/query/" {
		t.Errorf("Primary.URL = %q (default)", cfg.Primary.URL)
	}
	if cfg.Primary.TimeoutSec != 30 || cfg.Primary.AsyncTimeoutSec != 600 {
		t.Errorf("Primary timeouts = %d/%d, want 30/600", cfg.Primary.TimeoutSec, cfg.Primary.AsyncTimeoutSec)
	}
	if cfg.Local.BaseURL != "http://127.0.0.1:11434" || cfg.Local.Model != "llama3" {
		t.Errorf("Local = %+v, want default ollama llama3", cfg.Local)
	}
	if cfg.Local.FreshnessSec != 30 || cfg.Local.ProbeTimeoutSec != 5 {
		t.Errorf("Local freshness/probe = %d/%d, want 30/5", cfg.Local.FreshnessSec, cfg.Local.ProbeTimeoutSec)
	}
	if cfg.Local.HistoryTurns != 5 {
		t.Errorf("Local.HistoryTurns = %d, want 5", cfg.Local.HistoryTurns)
	}
	if cfg.Mode.Enhanced {
		t.Error("Mode.Enhanced should default to false")
	}
	if cfg.Sessions.MaxTurns != 20 || cfg.Sessions.Store != "memory" {
		t.Errorf("Sessions = %+v, want 20 turns in memory", cfg.Sessions)
	}
	if cfg.Delivery.MaxNotices != 3 || cfg.Delivery.NoticeIntervalSec != 60 {
		t.Errorf("Delivery = %+v, want 3 notices every 60s", cfg.Delivery)
	}
	if cfg.Delivery.MaxWaitSec <= cfg.Primary.AsyncTimeoutSec {
		t.Errorf("Delivery.MaxWaitSec = %d, must exceed %d", cfg.Delivery.MaxWaitSec, cfg.Primary.AsyncTimeoutSec)
	}
	if cfg.Report.Cron != "0 0 * * *" {
		t.Errorf("Report.Cron = %q, want midnight", cfg.Report.Cron)
	}
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown driver",
			yaml: "database:\n  driver: oracle\n",
			want: `database.driver "oracle" is not supported`,
		},
		{
			name: "mysql without database",
			yaml: "database:\n  driver: mysql\n",
			want: "database.database is required for mysql",
		},
		{
			name: "unknown session store",
			yaml: "sessions:\n  store: etcd\n",
			want: `sessions.store "etcd" is not supported`,
		},
		{
			name: "max wait too short",
			yaml: "primary:\n  async_timeout_sec: 100\ndelivery:\n  max_wait_sec: 90\n",
			want: "delivery.max_wait_sec must exceed primary.async_timeout_sec",
		},
		{
			name: "whatsapp without token",
			yaml: "whatsapp:\n  enabled: true\n  app_secret: x\n  phone_number_id: \"1\"\n",
			want: "whatsapp.access_token is required",
		},
		{
			name: "slack without tokens",
			yaml: "slack:\n  enabled: true\n",
			want: "slack.app_token and slack.bot_token are required",
		},
		{
			name: "report without recipients",
			yaml: "report:\n  enabled: true\n  smtp_host: smtp\n  from: a@b.c\n",
			want: "report.to needs at least one recipient",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.want)
			}
		})
	}
}

func TestParse_MultipleErrorsJoined(t *testing.T) {
	_, err := Parse([]byte("database:\n  driver: oracle\nsessions:\n  store: etcd\n"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "; ") {
		t.Errorf("error = %q, want both problems joined", err.Error())
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("server: [unclosed"))
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(err.Error(), "config: parse") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "config: parse")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "config: read") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "config: read")
	}
}

func TestLoad_EnvironmentOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "helpdesk.yaml")
	if err := os.WriteFile(path, []byte("local:\n  model: llama3\nmode:\n  enhanced: false\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Chdir(dir)
	t.Setenv("OLLAMA_MODEL", "llama3.1")
	t.Setenv("USE_ENHANCED_MODE", "true")
	t.Setenv("LLM_SERVICE_URL", "http://custom-llm:5000/query/")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Local.Model != "llama3.1" {
		t.Errorf("Local.Model = %q, want %q", cfg.Local.Model, "llama3.1")
	}
	if !cfg.Mode.Enhanced {
		t.Error("Mode.Enhanced = false, want true from environment")
	}
	if cfg.Primary.URL != "http://custom-llm:5000/query/" {
		t.Errorf("Primary.URL = %q", cfg.Primary.URL)
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "helpdesk.yaml")
	if err := os.WriteFile(path, []byte(""), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("OLLAMA_BASE_URL=http://custom-ollama:11434\n"), 0644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Chdir(dir)
	t.Setenv("OLLAMA_BASE_URL", "")
	os.Unsetenv("OLLAMA_BASE_URL")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Local.BaseURL != "http://custom-ollama:11434" {
		t.Errorf("Local.BaseURL = %q, want value from .env", cfg.Local.BaseURL)
	}
}

func TestSeconds(t *testing.T) {
	if got := Seconds(30).Seconds(); got != 30 {
		t.Errorf("Seconds(30) = %v, want 30s", got)
	}
}
