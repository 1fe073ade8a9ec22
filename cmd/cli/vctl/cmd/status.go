package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/verdant-os/verdantd/pkg/control"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status [instance]",
	Short: "Show the status of supervised instances",
	Long:  `Display the state, pid, restart count and resource usage of all instances, or of a single instance by name.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := newClient()

	var statuses []control.InstanceStatus
	if len(args) == 1 {
		status, err := client.StatusOf(ctx, args[0])
		if err != nil {
			return err
		}
		statuses = []control.InstanceStatus{*status}
	} else {
		all, err := client.Status(ctx)
		if err != nil {
			return err
		}
		statuses = all
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(statuses, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	if len(statuses) == 0 {
		fmt.Println("No instances loaded")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Name", "State", "PID", "Restarts", "Uptime", "CPU%", "RSS", "Detail")

	for _, status := range statuses {
		table.Append(
			status.Name,
			string(status.State),
			formatPid(status.Pid),
			strconv.Itoa(status.RestartCount),
			formatUptime(status.StartedAt),
			formatCPU(status.CPUPercent),
			formatBytes(status.MemoryRSS),
			statusDetail(status),
		)
	}

	table.Render()
	return nil
}

func formatPid(pid int) string {
	if pid <= 0 {
		return "-"
	}
	return strconv.Itoa(pid)
}

func formatUptime(startedAt *time.Time) string {
	if startedAt == nil {
		return "-"
	}
	uptime := time.Since(*startedAt).Round(time.Second)
	if uptime < 0 {
		uptime = 0
	}
	return uptime.String()
}

func formatCPU(percent float64) string {
	if percent == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f", percent)
}

func formatBytes(bytes uint64) string {
	switch {
	case bytes == 0:
		return "-"
	case bytes >= 1<<30:
		return fmt.Sprintf("%.1fG", float64(bytes)/(1<<30))
	case bytes >= 1<<20:
		return fmt.Sprintf("%.1fM", float64(bytes)/(1<<20))
	case bytes >= 1<<10:
		return fmt.Sprintf("%.1fK", float64(bytes)/(1<<10))
	default:
		return strconv.FormatUint(bytes, 10)
	}
}

// statusDetail summarizes why an instance is in its current state
func statusDetail(status control.InstanceStatus) string {
	if status.FailureReason != "" {
		return status.FailureReason
	}
	if status.LastExit != nil && !status.LastExit.Success() {
		if status.LastExit.Signaled {
			return fmt.Sprintf("killed by signal %s", status.LastExit.Signal)
		}
		return fmt.Sprintf("exit code %d", status.LastExit.Code)
	}
	return status.Description
}
