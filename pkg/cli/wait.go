package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/wisptrack/poltergeist/internal/state"
	"github.com/wisptrack/poltergeist/pkg/logger"
	"github.com/wisptrack/poltergeist/pkg/types"
	"github.com/spf13/cobra"
)

func newWaitCmd() *cobra.Command {
	var timeout int
	var targets []string
	var status string
	var pollInterval int

	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Wait for targets to reach a specific state",
		Long: `Wait for one or more targets to reach a specific build status.
This command is useful in CI/CD pipelines to wait for builds to complete.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targetName := ""
			if len(args) > 0 {
				targetName = args[0]
			}

			return runWait(targetName, targets, status, timeout, pollInterval)
		},
	}

	cmd.Flags().IntVarP(&timeout, "timeout", "t", 300, "timeout in seconds")
	cmd.Flags().StringSliceVar(&targets, "targets", nil, "specific targets to wait for (comma-separated)")
	cmd.Flags().StringVarP(&status, "status", "s", "success", "status to wait for (success, failure, idle, building)")
	cmd.Flags().IntVar(&pollInterval, "poll-interval", 2, "polling interval in seconds")

	return cmd
}

// WaitResult represents the result of waiting for a target.
type WaitResult struct {
	Target   string
	Status   types.BuildState
	Duration time.Duration
	Success  bool
	TimedOut bool
	Error    error
}

var validBuildStates = []types.BuildState{
	types.BuildStateIdle,
	types.BuildStateBuilding,
	types.BuildStateSuccess,
	types.BuildStateFailure,
}

// runWait waits for targets to reach the specified status.
func runWait(targetName string, targets []string, status string, timeoutSec int, pollIntervalSec int) error {
	targetStatus := types.BuildState(status)

	valid := false
	for _, validStatus := range validBuildStates {
		if targetStatus == validStatus {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid status %q. Valid statuses: idle, building, success, failure", status)
	}

	var targetNames []string
	if targetName != "" {
		targetNames = []string{targetName}
	} else if len(targets) > 0 {
		targetNames = targets
	} else {
		cfg, err := loadConfig(getConfigPath())
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		for _, rawTarget := range cfg.Targets {
			target, err := types.ParseTarget(rawTarget)
			if err != nil {
				continue
			}
			targetNames = append(targetNames, target.GetName())
		}

		if len(targetNames) == 0 {
			return fmt.Errorf("no targets found to wait for")
		}
	}

	printInfo(fmt.Sprintf("Waiting for %d target(s) to reach status '%s'", len(targetNames), status))
	if timeoutSec > 0 {
		printInfo(fmt.Sprintf("Timeout: %d seconds", timeoutSec))
	}

	sm := state.NewManager(state.Config{ProjectRoot: projectRoot}, logger.CreateLogger("", "error"))

	ctx := context.Background()
	if timeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
		defer cancel()
	}

	results, err := waitForTargets(ctx, sm, targetNames, targetStatus, time.Duration(pollIntervalSec)*time.Second)
	if err != nil {
		return err
	}

	return displayWaitResults(results)
}

// waitForTargets waits for the specified targets to reach the target status.
func waitForTargets(ctx context.Context, sm *state.Manager, targetNames []string, targetStatus types.BuildState, pollInterval time.Duration) ([]WaitResult, error) {
	startTime := time.Now()
	results := make([]WaitResult, len(targetNames))

	for i, name := range targetNames {
		results[i] = WaitResult{Target: name}
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	completed := make(map[string]bool)

	for {
		select {
		case <-ctx.Done():
			for i := range results {
				if !completed[results[i].Target] {
					results[i].TimedOut = true
					results[i].Duration = time.Since(startTime)
				}
			}
			return results, nil

		case <-ticker.C:
			allCompleted := true

			for i, targetName := range targetNames {
				if completed[targetName] {
					continue
				}

				persisted, err := sm.ReadState(targetName)
				if err != nil {
					results[i].Error = err
					results[i].Duration = time.Since(startTime)
					completed[targetName] = true
					continue
				}

				var current types.BuildState
				if persisted != nil && persisted.LastBuild != nil {
					current = persisted.LastBuild.Status
				}
				results[i].Status = current

				if current == targetStatus {
					results[i].Success = true
					results[i].Duration = time.Since(startTime)
					completed[targetName] = true
					printSuccess(fmt.Sprintf("Target '%s' reached status '%s'", targetName, targetStatus))
				} else {
					allCompleted = false

					if int(time.Since(startTime).Seconds())%10 == 0 {
						printInfo(fmt.Sprintf("Target '%s' status: %s (waiting for %s)", targetName, current, targetStatus))
					}
				}
			}

			if allCompleted {
				return results, nil
			}
		}
	}
}

// displayWaitResults displays the final results of waiting.
func displayWaitResults(results []WaitResult) error {
	fmt.Println()
	printInfo("Wait Results:")
	fmt.Println()

	successCount := 0
	timeoutCount := 0
	errorCount := 0

	for _, result := range results {
		status := "UNKNOWN"
		switch {
		case result.Error != nil:
			status = fmt.Sprintf("ERROR: %v", result.Error)
			errorCount++
		case result.TimedOut:
			status = fmt.Sprintf("TIMEOUT (last status: %s)", result.Status)
			timeoutCount++
		case result.Success:
			status = "SUCCESS"
			successCount++
		default:
			status = fmt.Sprintf("INCOMPLETE (status: %s)", result.Status)
		}

		fmt.Printf("  %-20s %-30s %v\n", result.Target, status, result.Duration.Round(time.Second))
	}

	fmt.Println()
	printInfo(fmt.Sprintf("Summary: %d succeeded, %d timed out, %d errors", successCount, timeoutCount, errorCount))

	if successCount != len(results) {
		return fmt.Errorf("not all targets reached the desired status")
	}

	return nil
}
