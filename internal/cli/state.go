package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"hospos/hal"
	"hospos/internal/config"
	"hospos/kernel/ipc"
)

const stateExt = ".yaml"

// NewStateCommand groups the commands that work on saved module state.
func NewStateCommand(rootOpts *RootOptions) *cobra.Command {
	var storage string
	open := func(cmd *cobra.Command) (*hal.SQLStorage, error) {
		path := storage
		if !cmd.Flags().Changed("storage") {
			cfg, err := config.Load(rootOpts.Config)
			if err != nil {
				return nil, err
			}
			path = cfg.Host.StoragePath
		}
		if path == "" {
			return nil, errors.New("no storage file: set --storage or host.storage_path")
		}
		return hal.OpenStorage(path)
	}

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect and seed saved module state",
	}
	cmd.PersistentFlags().StringVar(&storage, "storage", "", "SQLite file for saved module state")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List modules with saved state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := open(cmd)
			if err != nil {
				return err
			}
			defer st.Close()
			names, err := st.Names()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "import <dir>",
		Short: "Load NAME.yaml files from a directory as module state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := open(cmd)
			if err != nil {
				return err
			}
			defer st.Close()
			n, err := importState(st, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d modules\n", n)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "export <dir>",
		Short: "Write each module's saved state to NAME.yaml",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := open(cmd)
			if err != nil {
				return err
			}
			defer st.Close()
			n, err := exportState(st, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d modules\n", n)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset <module>...",
		Short: "Delete saved state so modules start fresh",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := open(cmd)
			if err != nil {
				return err
			}
			defer st.Close()
			for _, name := range args {
				name = strings.ToUpper(name)
				if err := st.Delete(name); err != nil && !errors.Is(err, hal.ErrNotFound) {
					return fmt.Errorf("delete %s: %w", name, err)
				}
			}
			return nil
		},
	})

	return cmd
}

func moduleName(name string) bool {
	for _, m := range ipc.Modules() {
		if m != ipc.ModuleKernel && m.String() == name {
			return true
		}
	}
	return false
}

// importState saves every NAME.yaml directly under dir. Files that do not
// name a module are skipped.
func importState(st hal.Storage, dir string) (int, error) {
	dir = filepath.Clean(dir)
	info, err := os.Stat(dir)
	if err != nil {
		return 0, fmt.Errorf("stat src %q: %w", dir, err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("src %q is not a directory", dir)
	}

	var files []string
	walkErr := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		if entry.IsDir() {
			return fs.SkipDir
		}
		if entry.Type().IsRegular() && filepath.Ext(path) == stateExt {
			files = append(files, path)
		}
		return nil
	})
	if walkErr != nil {
		return 0, fmt.Errorf("walk src %q: %w", dir, walkErr)
	}
	sort.Strings(files)

	n := 0
	for _, path := range files {
		name := strings.ToUpper(strings.TrimSuffix(filepath.Base(path), stateExt))
		if !moduleName(name) {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return n, fmt.Errorf("read %q: %w", path, err)
		}
		var doc yaml.Node
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return n, fmt.Errorf("parse %q: %w", path, err)
		}
		if err := st.Save(name, data); err != nil {
			return n, fmt.Errorf("save %s: %w", name, err)
		}
		n++
	}
	return n, nil
}

func exportState(st *hal.SQLStorage, dir string) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create %q: %w", dir, err)
	}
	names, err := st.Names()
	if err != nil {
		return 0, err
	}
	for i, name := range names {
		data, err := st.Load(name)
		if err != nil {
			return i, fmt.Errorf("load %s: %w", name, err)
		}
		path := filepath.Join(dir, name+stateExt)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return i, fmt.Errorf("write %q: %w", path, err)
		}
	}
	return len(names), nil
}
