package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/assetdesk/internal/devserver"
	"github.com/mesh-intelligence/assetdesk/internal/paths"
	"github.com/mesh-intelligence/assetdesk/internal/schema"
	"github.com/mesh-intelligence/assetdesk/internal/sqlite"
	"github.com/mesh-intelligence/assetdesk/pkg/types"
)

// testEnv is a dev server plus an isolated config directory.
type testEnv struct {
	t         *testing.T
	configDir string
	apiURL    string
	stdin     string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping server test in short mode")
	}
	dir := t.TempDir()
	reg := schema.MustDefault()
	b := sqlite.NewBackend(reg)
	require.NoError(t, b.Attach(filepath.Join(dir, "data")))
	t.Cleanup(func() { b.Detach() })

	srv, err := devserver.New(types.ServerConfig{
		Listen:    "127.0.0.1:0",
		DataDir:   filepath.Join(dir, "data"),
		JWTSecret: "cli-secret",
		TokenTTL:  time.Hour,
	}, reg, b)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(srv.Hub().Close)

	return &testEnv{t: t, configDir: filepath.Join(dir, "config"), apiURL: ts.URL + "/api"}
}

type result struct {
	Stdout string
	Stderr string
	Code   int
}

func (e *testEnv) run(args ...string) result {
	e.t.Helper()
	root := NewRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(e.stdin))
	full := append([]string{"--config-dir", e.configDir, "--api-url", e.apiURL}, args...)
	code := run(root, full, &stderr)
	return result{Stdout: stdout.String(), Stderr: stderr.String(), Code: code}
}

func (e *testEnv) mustRun(args ...string) string {
	e.t.Helper()
	r := e.run(args...)
	require.Equal(e.t, exitSuccess, r.Code, "%v\nstdout: %s\nstderr: %s", args, r.Stdout, r.Stderr)
	return r.Stdout
}

func (e *testEnv) login() {
	e.t.Helper()
	out := e.mustRun("login", "--email", sqlite.AdminEmail)
	require.Contains(e.t, out, "Signed in as Admin User <admin@example.com>")
}

// createdID extracts the id from "Created <label>: <id>".
func createdID(t *testing.T, out string) string {
	t.Helper()
	_, id, ok := strings.Cut(strings.TrimSpace(out), ": ")
	require.True(t, ok, out)
	return id
}

func TestVersion(t *testing.T) {
	e := newTestEnv(t)
	out := e.mustRun("version")
	assert.Contains(t, out, "assetdesk v"+Version)
	assert.Contains(t, out, modulePath)
}

func TestLoadConfig_WritesDefaultFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "config")
	cfg, err := loadConfig(&rootFlags{configDir: dir})
	require.NoError(t, err)

	info, err := os.Stat(paths.ConfigFile(dir))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	c := cfg.Console()
	assert.Equal(t, types.DefaultAPIURL, c.APIURL)
	assert.Equal(t, types.DefaultTimeout, c.Timeout)
	assert.Equal(t, types.DefaultBasePath, c.BasePath)
	assert.Empty(t, c.Token)
	require.NoError(t, c.Validate())

	srv, err := cfg.Server(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)
	assert.Equal(t, types.DefaultListen, srv.Listen)
	assert.Equal(t, types.DefaultTokenTTL, srv.TokenTTL)
	assert.NotEmpty(t, srv.JWTSecret, "a secret is generated on first run")
	require.NoError(t, srv.Validate())

	again, err := loadConfig(&rootFlags{configDir: dir})
	require.NoError(t, err)
	srv2, err := again.Server("x")
	require.NoError(t, err)
	assert.Equal(t, srv.JWTSecret, srv2.JWTSecret, "an existing file is not rewritten")
}

func TestLoadConfig_EnvAndFlagOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ASSETDESK_TIMEOUT", "5s")
	t.Setenv("ASSETDESK_API_URL", "http://env.example/api")

	cfg, err := loadConfig(&rootFlags{configDir: dir})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Console().Timeout)
	assert.Equal(t, "http://env.example/api", cfg.Console().APIURL)

	cfg, err = loadConfig(&rootFlags{configDir: dir, apiURL: "http://flag.example/api"})
	require.NoError(t, err)
	assert.Equal(t, "http://flag.example/api", cfg.Console().APIURL)
}

func TestSaveToken_KeepsTheRestOfTheFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := loadConfig(&rootFlags{configDir: dir})
	require.NoError(t, err)
	secret := cfg.v.GetString(cfgKeyJWTSecret)

	require.NoError(t, cfg.SaveToken("abc.def.ghi"))
	assert.Equal(t, "abc.def.ghi", cfg.Console().Token)

	data, err := os.ReadFile(paths.ConfigFile(dir))
	require.NoError(t, err)
	assert.Contains(t, string(data), "# assetdesk configuration")
	assert.Contains(t, string(data), `token: "abc.def.ghi"`)

	reloaded, err := loadConfig(&rootFlags{configDir: dir})
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", reloaded.Console().Token)
	assert.Equal(t, secret, reloaded.v.GetString(cfgKeyJWTSecret))
}

func TestSaveToken_AddsMissingKey(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(paths.ConfigFile(dir), []byte("api_url: http://x.example/api\n"), 0o600))
	cfg, err := loadConfig(&rootFlags{configDir: dir})
	require.NoError(t, err)

	require.NoError(t, cfg.SaveToken("t1"))
	reloaded, err := loadConfig(&rootFlags{configDir: dir})
	require.NoError(t, err)
	assert.Equal(t, "t1", reloaded.Console().Token)
	assert.Equal(t, "http://x.example/api", reloaded.Console().APIURL)
}

func TestLoginWhoamiLogout(t *testing.T) {
	e := newTestEnv(t)

	r := e.run("whoami")
	assert.Equal(t, exitUserError, r.Code)
	assert.Contains(t, r.Stderr, "assetdesk login --email")

	r = e.run("login", "--email", "nobody@example.com")
	assert.Equal(t, exitUserError, r.Code)
	r = e.run("login")
	assert.Equal(t, exitUserError, r.Code)

	e.login()
	out := e.mustRun("whoami")
	assert.Contains(t, out, "Admin User <admin@example.com>")
	assert.Contains(t, out, "Role: Administrator")
	assert.Contains(t, out, "Session expires:")
	assert.Contains(t, out, "machine:  view,create,edit,delete")

	var acct types.Account
	require.NoError(t, json.Unmarshal([]byte(e.mustRun("whoami", "--json")), &acct))
	assert.Equal(t, sqlite.AdminEmail, acct.Email)

	assert.Contains(t, e.mustRun("logout"), "Signed out")
	r = e.run("whoami")
	assert.Equal(t, exitUserError, r.Code)
}

func TestKinds(t *testing.T) {
	e := newTestEnv(t)
	out := e.mustRun("kinds")
	assert.Contains(t, out, "machines")
	assert.Contains(t, out, "task_statuses")
	assert.Contains(t, out, "name,make,machine_type,status,facility")
}

func TestRecordLifecycle(t *testing.T) {
	e := newTestEnv(t)
	e.login()

	id := createdID(t, e.mustRun("create", "facilities", "--set", "name=North"))
	require.NotEmpty(t, id)

	out := e.mustRun("list", "facilities")
	assert.Contains(t, out, id)
	assert.Contains(t, out, "North")

	out = e.mustRun("show", "facilities", id)
	assert.Contains(t, out, "ID: "+id)
	assert.Contains(t, out, "Name: North")
	assert.Contains(t, out, "Address: -")

	out = e.mustRun("edit", "facilities", id, "--set", "address=1 Mill Road")
	assert.Equal(t, "Updated facility: "+id+"\n", out)

	var fac types.Facility
	require.NoError(t, json.Unmarshal([]byte(e.mustRun("show", "facilities", id, "--json")), &fac))
	assert.Equal(t, "1 Mill Road", fac.Address)

	e.stdin = "n\n"
	out = e.mustRun("delete", "facilities", id)
	assert.Contains(t, out, `Delete facility "North"? [y/N]`)
	assert.Contains(t, out, "Cancelled")

	e.stdin = ""
	out = e.mustRun("delete", "facilities", id, "--yes")
	assert.Contains(t, out, "Deleted facility: "+id)

	r := e.run("show", "facilities", id)
	assert.Equal(t, exitUserError, r.Code)
	assert.Contains(t, r.Stderr, "not found")
}

func TestCreate_ReferencesAndJSON(t *testing.T) {
	e := newTestEnv(t)
	e.login()

	var machineTypes []types.Category
	require.NoError(t, json.Unmarshal([]byte(e.mustRun("list", "machine_types", "--json")), &machineTypes))
	var statuses []types.Category
	require.NoError(t, json.Unmarshal([]byte(e.mustRun("list", "machine_statuses", "--json")), &statuses))
	require.NotEmpty(t, machineTypes)
	require.NotEmpty(t, statuses)

	var m types.Machine
	out := e.mustRun("create", "machines", "--json",
		"--set", "name=Lathe 1",
		"--set", "machine_type="+machineTypes[0].ID,
		"--set", "status="+statuses[0].ID)
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	assert.Equal(t, "Lathe 1", m.Name)
	assert.Equal(t, machineTypes[0].Name, m.MachineType.Name)

	out = e.mustRun("show", "machines", m.ID)
	assert.Contains(t, out, "Machine Type: "+machineTypes[0].Name)
}

func TestCreate_ValidationErrors(t *testing.T) {
	e := newTestEnv(t)
	e.login()

	r := e.run("create", "machines", "--set", "name=Lathe", "--set", "machine_type=0190c6a4-2b6e-7c3a-9f2e-1d2c3b4a5f99")
	assert.Equal(t, exitUserError, r.Code)
	assert.Contains(t, r.Stderr, "machine_type: Must be a known Machine Type")
	assert.Contains(t, r.Stderr, "status: ")
	assert.NotContains(t, r.Stderr, "assetdesk:", "field errors are printed once")

	r = e.run("create", "machines", "--set", "bogus=1")
	assert.Equal(t, exitUserError, r.Code)
	assert.Contains(t, r.Stderr, "unknown field")

	r = e.run("create", "machines", "--set", "novalue")
	assert.Equal(t, exitUserError, r.Code)

	r = e.run("edit", "machines", "some-id")
	assert.Equal(t, exitUserError, r.Code)
}

func TestCreate_ServerRejection(t *testing.T) {
	e := newTestEnv(t)
	e.login()

	var roles []types.Role
	require.NoError(t, json.Unmarshal([]byte(e.mustRun("list", "roles", "--json")), &roles))
	require.NotEmpty(t, roles)

	r := e.run("create", "users",
		"--set", "first_name=Copy",
		"--set", "last_name=Admin",
		"--set", "email="+sqlite.AdminEmail,
		"--set", "role="+roles[0].ID)
	assert.Equal(t, exitUserError, r.Code)
	assert.Contains(t, r.Stderr, "email: Email is already in use")
}

func TestUnknownKindAndCommand(t *testing.T) {
	e := newTestEnv(t)
	e.login()

	r := e.run("list", "widgets")
	assert.Equal(t, exitUserError, r.Code)
	assert.Contains(t, r.Stderr, "valid: machines")

	r = e.run("frobnicate")
	assert.Equal(t, exitUserError, r.Code)
}

func TestOpen(t *testing.T) {
	e := newTestEnv(t)
	e.login()

	out := e.mustRun("open", "/facilities")
	assert.Contains(t, out, "Path: /facilities")
	assert.Contains(t, out, "Mode: idle")
	assert.Contains(t, out, "Records: 0")

	out = e.mustRun("open", "/tasks/new")
	assert.Contains(t, out, "Mode: creating")
	assert.Contains(t, out, "Archived: false")

	id := createdID(t, e.mustRun("create", "facilities", "--set", "name=South"))
	out = e.mustRun("open", "/facilities/"+id)
	assert.Contains(t, out, "Mode: viewing")
	assert.Contains(t, out, "Name: South")

	out = e.mustRun("open", "/facilities/"+id+"/edit", "--json")
	var st map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "editing", st["mode"])
	assert.Equal(t, "South", st["draft"].(map[string]any)["name"])

	out = e.mustRun("open", "/facilities/0190c6a4-2b6e-7c3a-9f2e-1d2c3b4a5f99")
	assert.Contains(t, out, "was not found")

	r := e.run("open", "/nowhere/at/all/really")
	assert.Equal(t, exitUserError, r.Code)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", types.ValidationErrors{"name": "Name is required"}, exitUserError},
		{"unauthorized", fmt.Errorf("wrapped: %w", types.ErrUnauthorized), exitUserError},
		{"api rejection", &types.APIError{Status: 409}, exitUserError},
		{"usage", fmt.Errorf("%w: bad", errUsage), exitUserError},
		{"transport", &types.APIError{Err: errors.New("connection refused")}, exitSysError},
		{"other", errors.New("disk full"), exitSysError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}
