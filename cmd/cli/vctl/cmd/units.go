package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var listTag string

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List loaded instances",
	Long:  `List all loaded service instances in start order, optionally filtered by tag.`,
	Args:  cobra.NoArgs,
	RunE:  runList,
}

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start <instance>",
	Short: "Start a stopped instance",
	Args:  cobra.ExactArgs(1),
	RunE:  runStart,
}

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop <instance>",
	Short: "Stop a running instance",
	Long:  `Stop a running instance. A stopped instance is not restarted regardless of its restart policy until started again.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runStop,
}

func init() {
	listCmd.Flags().StringVar(&listTag, "tag", "", "only list instances carrying this tag")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	statuses, err := newClient().Units(ctx, listTag)
	if err != nil {
		return err
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
		if listTag != "" {
			fmt.Printf("No instances with tag %q\n", listTag)
		} else {
			fmt.Println("No instances loaded")
		}
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Name", "State", "Priority", "Tags", "Description")

	for _, status := range statuses {
		table.Append(
			status.Name,
			string(status.State),
			strconv.Itoa(status.Priority),
			strings.Join(status.Tags, ","),
			status.Description,
		)
	}

	table.Render()
	return nil
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	status, err := newClient().Start(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("%s: %s\n", status.Name, status.State)
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	status, err := newClient().Stop(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("%s: %s\n", status.Name, status.State)
	return nil
}
