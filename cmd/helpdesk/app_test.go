package main

import (
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/mspsdc/helpdesk/internal/assistant"
	"github.com/mspsdc/helpdesk/internal/classify"
	"github.com/mspsdc/helpdesk/internal/config"
	"github.com/mspsdc/helpdesk/internal/fallback"
)

func loadTestConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	cfg, err := config.Load(writeConfig(t, extra))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func TestNewApp_MemorySessions(t *testing.T) {
	cfg := loadTestConfig(t, "primary:\n  url: http://127.0.0.1:1/query/\n")

	a, err := newApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	if a.rdb != nil {
		t.Error("memory store should not open a redis client")
	}
	if a.backends.local != nil {
		t.Error("local tier should be off by default")
	}
	if a.backends.mode.Enhanced() {
		t.Error("mode should default to demo")
	}

	// Demo mode never touches the primary, so this answers offline.
	reply, err := a.svc.HandleSync(context.Background(), assistant.Inbound{
		Channel: "console",
		UserID:  "tester",
		Text:    "What courses do you offer?",
	})
	if err != nil {
		t.Fatalf("HandleSync: %v", err)
	}
	if reply.Text == "" {
		t.Error("expected a non-empty demo answer")
	}

	stats, err := a.exchanges.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Exchanges != 1 {
		t.Errorf("Exchanges = %d, want 1 recorded", stats.Exchanges)
	}
}

func TestNewApp_RedisSessions(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := loadTestConfig(t, "sessions:\n  store: redis\n  redis:\n    addr: "+mr.Addr()+"\n")

	a, err := newApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	if a.rdb == nil {
		t.Fatal("expected a redis client")
	}
	if _, err := a.svc.HandleSync(context.Background(), assistant.Inbound{
		Channel: "console",
		UserID:  "tester",
		Text:    "hello",
	}); err != nil {
		t.Fatalf("HandleSync: %v", err)
	}
	if keys := mr.Keys(); len(keys) != 1 || !strings.HasPrefix(keys[0], "helpdesk:session:") {
		t.Errorf("redis keys = %v, want one session document", keys)
	}
}

func TestNewApp_RedisUnreachable(t *testing.T) {
	cfg := loadTestConfig(t, "sessions:\n  store: redis\n  redis:\n    addr: 127.0.0.1:1\n")

	_, err := newApp(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected error for unreachable redis")
	}
	if !strings.Contains(err.Error(), "connect to redis") {
		t.Errorf("error = %q, want redis connect error", err.Error())
	}
}

func TestNewBackends_LocalEnabled(t *testing.T) {
	cfg := loadTestConfig(t, "local:\n  enabled: true\n  base_url: http://127.0.0.1:1\n  model: llama3\nmode:\n  enhanced: true\n")

	b, err := newBackends(cfg)
	if err != nil {
		t.Fatalf("newBackends: %v", err)
	}
	if b.local == nil || b.availability == nil {
		t.Fatal("expected local client and availability cache")
	}
	if b.local.Model() != "llama3" {
		t.Errorf("Model = %q, want llama3", b.local.Model())
	}

	s := b.status.Status(context.Background())
	if s.AnyLLM() {
		t.Errorf("status = %+v, want nothing reachable", s)
	}
	if s.ActiveService != fallback.ServiceDemo {
		t.Errorf("ActiveService = %q, want %q", s.ActiveService, fallback.ServiceDemo)
	}
	if !s.EnhancedMode {
		t.Error("EnhancedMode should follow config")
	}
}

func TestNewClassifier(t *testing.T) {
	c, err := newClassifier(config.ClassifierConfig{})
	if err != nil {
		t.Fatalf("newClassifier: %v", err)
	}
	if _, ok := c.(classify.Keyword); !ok {
		t.Errorf("classifier = %T, want classify.Keyword when disabled", c)
	}

	c, err = newClassifier(config.ClassifierConfig{Enabled: true, APIKey: "sk-test", Model: "claude-3-haiku-20240307"})
	if err != nil {
		t.Fatalf("newClassifier: %v", err)
	}
	if _, ok := c.(*classify.Anthropic); !ok {
		t.Errorf("classifier = %T, want *classify.Anthropic when enabled", c)
	}
}

func TestCreateAdapters(t *testing.T) {
	cfg := loadTestConfig(t, "")
	adapters, err := createAdapters(cfg)
	if err != nil {
		t.Fatalf("createAdapters: %v", err)
	}
	if len(adapters) != 0 {
		t.Errorf("len = %d, want no adapters when none enabled", len(adapters))
	}

	cfg = loadTestConfig(t, "slack:\n  enabled: true\n  app_token: xapp-1\n  bot_token: xoxb-1\n  help_channel: C01\n"+
		"discord:\n  enabled: true\n  bot_token: discord-token\n  help_channel: \"123\"\n")
	adapters, err = createAdapters(cfg)
	if err != nil {
		t.Fatalf("createAdapters: %v", err)
	}
	if len(adapters) != 2 {
		t.Errorf("len = %d, want slack and discord", len(adapters))
	}
}

func TestNewWebServer_MountsWebhook(t *testing.T) {
	cfg := loadTestConfig(t, "whatsapp:\n  enabled: true\n  access_token: EAAG\n  app_secret: s3cret\n  verify_token: verify-me\n  phone_number_id: \"1234567890\"\n")
	a, err := newApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	server, err := newWebServer(context.Background(), a)
	if err != nil {
		t.Fatalf("newWebServer: %v", err)
	}
	if server.Handler() == nil {
		t.Error("expected an HTTP handler")
	}
}

func TestNewReportScheduler_Disabled(t *testing.T) {
	cfg := loadTestConfig(t, "")
	a, err := newApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	s, err := newReportScheduler(a)
	if err != nil {
		t.Fatalf("newReportScheduler: %v", err)
	}
	if s != nil {
		t.Error("expected no scheduler when report is disabled")
	}
}
