// vortexdockctl is the local operator CLI for administering a
// vortexdockd instance's store directly: it is not a wire client and
// does not go through the dispatch protocol, mirroring the original
// system's offline admin tool.
package main

import (
	"archive/zip"
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/vortexdock/pkg/auth"
	"github.com/cuemby/vortexdock/pkg/config"
	"github.com/cuemby/vortexdock/pkg/store"
	"github.com/cuemby/vortexdock/pkg/types"
)

var (
	Version   = "dev"
	configPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "vortexdockctl",
	Short:   "Administer a VortexDock dispatch server's store",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "vortexdock.yaml", "Path to the YAML config file")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(setPasswordCmd)
	rootCmd.AddCommand(resetHeartbeatsCmd)
	rootCmd.AddCommand(resetProcessingCmd)
	rootCmd.AddCommand(resetFailedCmd)
}

func openStore() (store.Store, config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, cfg, fmt.Errorf("load config: %w", err)
	}

	var s store.Store
	switch cfg.Database.Backend {
	case "mysql":
		s, err = store.NewMySQL(cfg.Database.DSN)
	case "sqlite", "":
		if err := os.MkdirAll(cfg.Server.DataDir, 0o755); err != nil {
			return nil, cfg, fmt.Errorf("create data dir: %w", err)
		}
		s, err = store.NewSQLite(filepath.Join(cfg.Server.DataDir, "vortexdock.db"))
	default:
		return nil, cfg, fmt.Errorf("unknown database backend %q", cfg.Database.Backend)
	}
	if err != nil {
		return nil, cfg, err
	}
	if err := s.Init(); err != nil {
		s.Close()
		return nil, cfg, err
	}
	return s, cfg, nil
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks and their progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		tasks, err := s.ListTasks()
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			fmt.Println("no tasks found")
			return nil
		}

		fmt.Printf("%-20s %-12s %-28s %-10s %s\n", "ID", "STATUS", "PROGRESS", "RATE/MIN", "CREATED")
		for _, t := range tasks {
			progress, err := s.TaskProgress(t.ID)
			if err != nil {
				return fmt.Errorf("progress for %s: %w", t.ID, err)
			}
			bar := progressBar(progress.Completed, progress.Total, 20)
			rate := float64(progress.RecentCompleted) / 5.0
			fmt.Printf("%-20s %-12s %-28s %-10.1f %s\n",
				t.ID, t.Status, bar, rate, t.CreatedAt.Format(time.RFC3339))
		}
		return nil
	},
}

func progressBar(completed, total, width int) string {
	if total == 0 {
		return "[" + strings.Repeat(" ", width) + "] 0%"
	}
	frac := float64(completed) / float64(total)
	filled := int(frac * float64(width))
	if filled > width {
		filled = width
	}
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", width-filled)
	return fmt.Sprintf("[%s] %d%%", bar, int(frac*100))
}

var createCmd = &cobra.Command{
	Use:   "create NAME --zip PATH",
	Short: "Create a task from an archive containing receptor.pdbqt, parameter.txt, and ligands/*.pdbqt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		zipPath, _ := cmd.Flags().GetString("zip")
		if zipPath == "" {
			return fmt.Errorf("--zip is required")
		}
		if err := store.ValidateTaskID(name); err != nil {
			return err
		}

		s, cfg, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		params, ligands, err := extractTaskArchive(zipPath, filepath.Join(cfg.Server.DataDir, "tasks", name))
		if err != nil {
			return fmt.Errorf("extract archive: %w", err)
		}

		items := make([]*types.WorkItem, 0, len(ligands))
		for _, lf := range ligands {
			items = append(items, &types.WorkItem{
				LigandID:   strings.TrimSuffix(filepath.Base(lf), filepath.Ext(lf)),
				LigandFile: filepath.Base(lf),
			})
		}

		task := &types.Task{ID: name, Params: params}
		if err := s.CreateTask(task, items); err != nil {
			return err
		}

		fmt.Printf("created task %s with %d ligands\n", name, len(items))
		return nil
	},
}

func init() {
	createCmd.Flags().String("zip", "", "Path to the task archive (required)")
	_ = createCmd.MarkFlagRequired("zip")
}

// extractTaskArchive unpacks zipPath into destDir/{receptor.pdbqt,
// ligands/*.pdbqt} and parses parameter.txt's key=value lines into
// DockingParams, mirroring the original admin tool's archive layout.
func extractTaskArchive(zipPath, destDir string) (types.DockingParams, []string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return types.DockingParams{}, nil, err
	}
	defer r.Close()

	ligandsDir := filepath.Join(destDir, "ligands")
	if err := os.MkdirAll(ligandsDir, 0o755); err != nil {
		return types.DockingParams{}, nil, err
	}

	var paramsRaw map[string]string
	var ligandPaths []string
	receptorFound := false

	for _, f := range r.File {
		base := filepath.Base(f.Name)
		switch {
		case base == "receptor.pdbqt":
			if err := extractZipEntry(f, filepath.Join(destDir, "receptor.pdbqt")); err != nil {
				return types.DockingParams{}, nil, err
			}
			receptorFound = true
		case base == "parameter.txt":
			raw, err := readZipEntry(f)
			if err != nil {
				return types.DockingParams{}, nil, err
			}
			paramsRaw = parseParameterFile(raw)
		case strings.Contains(f.Name, "ligands/") && strings.HasSuffix(base, ".pdbqt"):
			dst := filepath.Join(ligandsDir, base)
			if err := extractZipEntry(f, dst); err != nil {
				return types.DockingParams{}, nil, err
			}
			ligandPaths = append(ligandPaths, dst)
		}
	}

	if !receptorFound {
		return types.DockingParams{}, nil, fmt.Errorf("archive missing receptor.pdbqt")
	}
	if paramsRaw == nil {
		return types.DockingParams{}, nil, fmt.Errorf("archive missing parameter.txt")
	}
	if len(ligandPaths) == 0 {
		return types.DockingParams{}, nil, fmt.Errorf("archive contains no ligands/*.pdbqt files")
	}

	return parseDockingParams(paramsRaw), ligandPaths, nil
}

func extractZipEntry(f *zip.File, dst string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

func readZipEntry(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	return string(data), err
}

func parseParameterFile(raw string) map[string]string {
	params := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		params[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return params
}

func parseDockingParams(raw map[string]string) types.DockingParams {
	return types.DockingParams{
		CenterX:     parseFloatDefault(raw["center_x"], 0),
		CenterY:     parseFloatDefault(raw["center_y"], 0),
		CenterZ:     parseFloatDefault(raw["center_z"], 0),
		SizeX:       parseFloatDefault(raw["size_x"], 0),
		SizeY:       parseFloatDefault(raw["size_y"], 0),
		SizeZ:       parseFloatDefault(raw["size_z"], 0),
		NumModes:    parseIntDefault(raw["num_modes"], 9),
		EnergyRange: parseFloatDefault(raw["energy_range"], 3),
		CPU:         parseIntDefault(raw["cpu"], 1),
	}
}

func parseFloatDefault(s string, def float64) float64 {
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return v
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

var removeCmd = &cobra.Command{
	Use:   "rm TASK_ID",
	Short: "Delete a task, its ligand table, and its on-disk directories",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		taskID := args[0]
		s, cfg, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.DeleteTask(taskID); err != nil {
			return err
		}
		_ = os.RemoveAll(filepath.Join(cfg.Server.DataDir, "tasks", taskID))
		_ = os.RemoveAll(filepath.Join(cfg.Server.DataDir, "results", taskID))

		fmt.Printf("deleted task %s\n", taskID)
		return nil
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause TASK_ID",
	Short: "Toggle a task between pending and paused",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		taskID := args[0]
		s, _, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		progress, err := s.TaskProgress(taskID)
		if err != nil {
			return err
		}
		paused := progress.Task.Status != types.TaskPaused
		newStatus, err := s.SetTaskPaused(taskID, paused)
		if err != nil {
			return err
		}
		fmt.Printf("task %s is now %s\n", taskID, newStatus)
		return nil
	},
}

var setPasswordCmd = &cobra.Command{
	Use:   "set-password PASSWORD",
	Short: "Rotate the dispatch server's shared password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		if err := auth.SetPassword(s, args[0]); err != nil {
			return err
		}
		fmt.Println("server password set")
		return nil
	},
}

var resetHeartbeatsCmd = &cobra.Command{
	Use:   "reset-heartbeats",
	Short: "Clear the node heartbeat table",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.ResetHeartbeats(); err != nil {
			return err
		}
		fmt.Println("node heartbeat table reset")
		return nil
	},
}

var resetProcessingCmd = &cobra.Command{
	Use:   "reset-processing",
	Short: "Reset all processing work items back to pending",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.ResetProcessingToPending(); err != nil {
			return err
		}
		fmt.Println("processing work items reset to pending")
		return nil
	},
}

var resetFailedCmd = &cobra.Command{
	Use:   "reset-failed",
	Short: "Reset all permanently failed work items back to pending",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.ResetFailedToPending(); err != nil {
			return err
		}
		fmt.Println("failed work items reset to pending")
		return nil
	},
}
