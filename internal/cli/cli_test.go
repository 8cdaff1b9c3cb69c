package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"hospos/app"
	"hospos/hal"
	"hospos/internal/config"
	"hospos/kernel"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "hospos", cmd.Use)

	for _, name := range []string{"run", "state", "version"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestRunCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	run, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)

	for _, name := range []string{"headless", "loop", "ticks", "hz", "step-budget", "storage", "raw-term", "check-in-every"} {
		assert.NotNil(t, run.Flags().Lookup(name), name)
	}
	assert.Equal(t, "true", run.Flags().Lookup("headless").DefValue)
}

type result struct {
	out, log string
	err      error
}

func execute(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	t.Setenv(config.EnvStorage, "")
	t.Setenv(config.EnvLogLevel, "")

	var out, log bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&log)
	err := cmd.Execute()
	return result{out: out.String(), log: log.String(), err: err}
}

func TestVersion(t *testing.T) {
	r := execute(t, "", "version")
	require.NoError(t, r.err)
	assert.True(t, strings.HasPrefix(r.out, "hospos "), r.out)
	assert.Contains(t, r.out, "commit")
}

func TestRunHeadlessUntilQuit(t *testing.T) {
	r := execute(t, "cq", "run", "--hz", "500")
	require.NoError(t, r.err, r.log)

	assert.Contains(t, r.out, strings.TrimSuffix(kernel.Banner, "\n"))
	assert.Contains(t, r.out, "Reception: patient 100001 checked in, queue #1")
	assert.Contains(t, r.out, "RECEPTION: state saved")
	assert.Contains(t, r.log, "hospos run summary")
	assert.Contains(t, r.log, "RECEPTION=")
}

func TestRunTicksThenDrain(t *testing.T) {
	r := execute(t, "", "run", "--hz", "500", "--ticks", "5")
	require.NoError(t, r.err, r.log)

	for _, name := range []string{"DOCTOR", "MEDICATION", "CASHIER", "RECEPTION", "WAREHOUSE"} {
		assert.Contains(t, r.out, name+": state saved")
	}
}

func TestRunKernelLoop(t *testing.T) {
	r := execute(t, "q", "run", "--loop", "--no-report")
	require.NoError(t, r.err, r.log)
	assert.Contains(t, r.out, "Reception: shutting down")
	assert.NotContains(t, r.log, "hospos run summary")
}

func TestRunRejectsInvalidSettings(t *testing.T) {
	r := execute(t, "", "run", "--step-budget=-1")
	require.Error(t, r.err)
	assert.True(t, errors.Is(r.err, config.ErrInvalid))
}

func TestRunRestoresSavedState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hospos.yaml")
	cfg := config.Default()
	cfg.Host.StoragePath = filepath.Join(dir, "state.db")
	cfg.Host.Hz = 500
	require.NoError(t, cfg.Save(path))

	first := execute(t, "cq", "run", "--config", path, "--no-report")
	require.NoError(t, first.err, first.log)
	assert.Contains(t, first.out, "patient 100001 checked in, queue #1")

	second := execute(t, "cq", "run", "--config", path, "--no-report")
	require.NoError(t, second.err, second.log)
	assert.Contains(t, second.out, "patient 100002 checked in, queue #2")
	assert.Contains(t, second.log, "state restored")

	_, err := os.Stat(cfg.Host.StoragePath)
	assert.NoError(t, err)
}

func TestRenderReport(t *testing.T) {
	r := app.Report{
		Status: kernel.Status{Ticks: 250, Uptime: 2, MemTotal: 1024},
		Saved:  map[string]uint32{"WAREHOUSE": 3, "CASHIER": 1},
		Alerts: []string{"Code blue at reception"},
	}
	out := renderReport(r, errors.New("kernel panic: task 3"))

	assert.Contains(t, out, "250 (2s)")
	assert.Contains(t, out, "CASHIER=1 WAREHOUSE=3")
	assert.Contains(t, out, "Code blue at reception")
	assert.Contains(t, out, "Halted: kernel panic: task 3")
}

func TestStateImportSeedsModules(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "state.db")
	seed := filepath.Join(dir, "seed")
	require.NoError(t, os.MkdirAll(seed, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(seed, "warehouse.yaml"),
		[]byte("inventory:\n  WHEELCHAIR: 0\n  MEDSTOCK: 50\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(seed, "notes.yaml"), []byte("x: 1\n"), 0o644))

	r := execute(t, "", "state", "import", seed, "--storage", db)
	require.NoError(t, r.err)
	assert.Equal(t, "imported 1 modules\n", r.out)

	r = execute(t, "", "state", "list", "--storage", db)
	require.NoError(t, r.err)
	assert.Equal(t, "WAREHOUSE\n", r.out)

	r = execute(t, "eq", "run", "--storage", db, "--hz", "500", "--no-report")
	require.NoError(t, r.err, r.log)
	assert.Contains(t, r.out, "Warehouse: WHEELCHAIR requested by RECEPTION is out of stock")

	out := filepath.Join(dir, "out")
	r = execute(t, "", "state", "export", out, "--storage", db)
	require.NoError(t, r.err)
	assert.Equal(t, "exported 5 modules\n", r.out)
	_, err := os.Stat(filepath.Join(out, "CASHIER.yaml"))
	assert.NoError(t, err)

	r = execute(t, "", "state", "reset", "cashier", "--storage", db)
	require.NoError(t, r.err)
	r = execute(t, "", "state", "list", "--storage", db)
	require.NoError(t, r.err)
	assert.NotContains(t, r.out, "CASHIER")
}

func TestStateImportRejectsBadYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "CASHIER.yaml"), []byte("a: [1\n"), 0o644))

	st, err := hal.OpenStorage(hal.MemoryStorage)
	require.NoError(t, err)
	defer st.Close()

	_, err = importState(st, dir)
	assert.ErrorContains(t, err, "parse")
}
