package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon health",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	health, err := CheckHealth()
	if err != nil && health == nil {
		fmt.Printf("Daemon:      unreachable at %s\n", apiAddr)
		return err
	}

	state := "healthy"
	if !health.OK {
		state = "degraded"
	}
	fmt.Printf("Daemon:      %s\n", state)
	fmt.Printf("API:         %s\n", apiAddr)
	fmt.Printf("Database:    %s\n", health.DB)
	fmt.Printf("Version:     %s\n", health.Version)
	fmt.Printf("Active jobs: %d\n", health.ActiveJobs)
	fmt.Printf("Time:        %s\n", health.Time)

	if !health.OK {
		return fmt.Errorf("daemon reports unhealthy state")
	}
	return nil
}
