package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.ListenAddr != DefaultHost {
		t.Errorf("expected host %s, got %s", DefaultHost, cfg.Server.ListenAddr)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("expected port %d, got %d", DefaultPort, cfg.Server.Port)
	}
	if cfg.Server.Workers != DefaultWorkers {
		t.Errorf("expected %d workers, got %d", DefaultWorkers, cfg.Server.Workers)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level info, got %s", cfg.Logging.Level)
	}
	if !cfg.Metrics.Enabled {
		t.Error("expected metrics enabled by default")
	}
	if len(cfg.Upstreams) != 0 || len(cfg.Routes) != 0 {
		t.Error("expected no upstreams/routes in the bare default config")
	}
}

func TestLoadConfig_WithoutFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "missing.json"), nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("expected default port %d, got %d", DefaultPort, cfg.Server.Port)
	}
}

func TestLoadConfig_WithEnvironmentVariables(t *testing.T) {
	os.Setenv("TITAN_SERVER_PORT", "8181")
	os.Setenv("TITAN_LOGGING_LEVEL", "debug")
	defer os.Unsetenv("TITAN_SERVER_PORT")
	defer os.Unsetenv("TITAN_LOGGING_LEVEL")

	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "missing.json"), nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 8181 {
		t.Errorf("expected port 8181 from env var, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug from env var, got %s", cfg.Logging.Level)
	}
}

func TestLoadConfig_FromJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"server": {"listen_addr": "127.0.0.1", "port": 9999},
		"upstreams": [{"name": "api", "policy": "round_robin", "backends": [{"host": "localhost", "port": 9000}]}],
		"routes": [{"path": "/api/*", "upstream": "api", "middleware": ["proxy"]}]
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Server.Port)
	}
	if len(cfg.Upstreams) != 1 || cfg.Upstreams[0].Name != "api" {
		t.Fatalf("expected one upstream named api, got %+v", cfg.Upstreams)
	}
	if len(cfg.Routes) != 1 || cfg.Routes[0].UpstreamName != "api" {
		t.Fatalf("expected one route referencing api, got %+v", cfg.Routes)
	}
}

func validBaseConfig() *Config {
	cfg := DefaultConfig()
	cfg.Upstreams = []UpstreamConfig{
		{
			Name:   "api",
			Policy: "round_robin",
			Backends: []BackendConfig{
				{Host: "localhost", Port: 9000, Weight: 1},
			},
		},
	}
	cfg.Routes = []RouteConfig{
		{PathPattern: "/api/*", UpstreamName: "api", MiddlewareIDs: []string{"proxy"}},
	}
	return cfg
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(*Config)
		valid  bool
	}{
		{name: "default config is valid", modify: func(c *Config) {}, valid: true},
		{name: "bad port", modify: func(c *Config) { c.Server.Port = 0 }, valid: false},
		{
			name:   "route references unknown upstream",
			modify: func(c *Config) { c.Routes[0].UpstreamName = "ghost" },
			valid:  false,
		},
		{
			name:   "invalid method",
			modify: func(c *Config) { c.Routes[0].Method = "FETCH" },
			valid:  false,
		},
		{
			name:   "invalid policy",
			modify: func(c *Config) { c.Upstreams[0].Policy = "quantum" },
			valid:  false,
		},
		{
			name:   "upstream with no backends",
			modify: func(c *Config) { c.Upstreams[0].Backends = nil },
			valid:  false,
		},
		{
			name:   "unknown middleware id",
			modify: func(c *Config) { c.Routes[0].MiddlewareIDs = []string{"does_not_exist"} },
			valid:  false,
		},
		{
			name: "chain length exceeds max",
			modify: func(c *Config) {
				ids := make([]string, maxChainLength+1)
				for i := range ids {
					ids[i] = "proxy"
				}
				c.Routes[0].MiddlewareIDs = ids
			},
			valid: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validBaseConfig()
			tc.modify(cfg)
			err := Validate(cfg)
			if tc.valid && err != nil {
				t.Errorf("expected valid, got error: %v", err)
			}
			if !tc.valid && err == nil {
				t.Error("expected an error, got nil")
			}
		})
	}
}

func TestBuild_ProducesRouterAndUpstreams(t *testing.T) {
	cfg := validBaseConfig()
	snap, err := Build(cfg, nil, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if snap.Router == nil {
		t.Fatal("expected a built router")
	}
	if _, ok := snap.Upstreams["api"]; !ok {
		t.Fatal("expected upstream 'api' to be built")
	}
	m := snap.Router.Match("GET", "/api/anything")
	if !m.Found || m.Route.UpstreamName != "api" {
		t.Fatalf("expected route match against api, got %+v", m)
	}
}

func TestManager_RCU_ReaderSeesConsistentSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeConfig := func(upstream string) {
		body := `{"upstreams":[{"name":"` + upstream + `","policy":"round_robin","backends":[{"host":"localhost","port":9000}]}],
			"routes":[{"path":"/a","upstream":"` + upstream + `","middleware":["proxy"]}]}`
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	writeConfig("u1")
	mgr := NewManager(nil)
	if err := mgr.Load(path); err != nil {
		t.Fatalf("initial load failed: %v", err)
	}

	snapA := mgr.Get()
	matchA := snapA.Router.Match("GET", "/a")
	if matchA.Route.UpstreamName != "u1" {
		t.Fatalf("expected u1, got %s", matchA.Route.UpstreamName)
	}

	writeConfig("u2")
	if err := mgr.Reload(); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	// snapA, held locally, still resolves against u1 (spec §8 "Config RCU").
	matchAAfterReload := snapA.Router.Match("GET", "/a")
	if matchAAfterReload.Route.UpstreamName != "u1" {
		t.Fatalf("expected snapshot A to still see u1, got %s", matchAAfterReload.Route.UpstreamName)
	}

	snapB := mgr.Get()
	matchB := snapB.Router.Match("GET", "/a")
	if matchB.Route.UpstreamName != "u2" {
		t.Fatalf("expected new snapshot to see u2, got %s", matchB.Route.UpstreamName)
	}
}

func TestManager_Reload_FailedLoadKeepsLiveSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"upstreams":[{"name":"u1","policy":"round_robin","backends":[{"host":"localhost","port":9000}]}],
		"routes":[{"path":"/a","upstream":"u1","middleware":["proxy"]}]}`), 0o644); err != nil {
		t.Fatal(err)
	}

	mgr := NewManager(nil)
	if err := mgr.Load(path); err != nil {
		t.Fatalf("initial load failed: %v", err)
	}
	live := mgr.Get()

	// route now references a non-existent upstream: invalid.
	if err := os.WriteFile(path, []byte(`{"routes":[{"path":"/a","upstream":"ghost"}]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Reload(); err == nil {
		t.Fatal("expected reload to fail validation")
	}

	if mgr.Get() != live {
		t.Fatal("a failed reload must not replace the live snapshot")
	}
}
