// File: cmd/toggle.go
package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/humanrelay/internal/hotkey"
)

func newToggleCmd() *cobra.Command {
	toggleCmd := &cobra.Command{
		Use:   "toggle",
		Short: "Pause or resume a running relay",
		Long: `Sends the toggle signal to the relay whose pid file is configured in
hotkey.pid_file. The relay pauses at its next step boundary.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationLenient: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			return sendToggle(cfg.Hotkey.PIDFile, cmd.OutOrStdout())
		},
	}
	toggleCmd.Flags().String("pid-file", "", "pid file written by the running relay")
	return toggleCmd
}

func sendToggle(pidFile string, out io.Writer) error {
	if hotkey.ToggleSignal == nil {
		return errors.New("toggle signals are not supported on this platform; type the pause key in the relay console")
	}
	if pidFile == "" {
		return errors.New("hotkey.pid_file is not configured")
	}
	pid, err := readPIDFile(pidFile)
	if err != nil {
		return err
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find relay process %d: %w", pid, err)
	}
	if err := proc.Signal(hotkey.ToggleSignal); err != nil {
		return fmt.Errorf("signal relay process %d: %w", pid, err)
	}
	fmt.Fprintf(out, "toggle sent to relay (pid %d)\n", pid)
	return nil
}

func readPIDFile(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %s does not hold a process id", path)
	}
	return pid, nil
}
