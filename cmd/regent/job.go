package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect and manage jobs",
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE:  runJobList,
}

var jobShowCmd = &cobra.Command{
	Use:   "show [job-id]",
	Short: "Show job details",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobShow,
}

var jobDeleteCmd = &cobra.Command{
	Use:   "delete [job-id]",
	Short: "Delete a finished job or cancel a running one",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobDelete,
}

var (
	jobStatus string
	jobLimit  int
	jobOffset int
)

func init() {
	jobCmd.AddCommand(jobListCmd, jobShowCmd, jobDeleteCmd)

	jobListCmd.Flags().StringVar(&jobStatus, "status", "", "Filter by status (pending, running, completed, failed)")
	jobListCmd.Flags().IntVar(&jobLimit, "limit", 10, "Maximum number of jobs to list")
	jobListCmd.Flags().IntVar(&jobOffset, "offset", 0, "Number of jobs to skip")
}

type jobRecord struct {
	ID         string    `json:"id"`
	Query      string    `json:"query"`
	Status     string    `json:"status"`
	Result     string    `json:"result"`
	Error      string    `json:"error"`
	Iterations int       `json:"iterations"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func runJobList(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("/tasks?limit=%d&offset=%d", jobLimit, jobOffset)
	if jobStatus != "" {
		url += "&status=" + jobStatus
	}

	resp, err := apiGet(url)
	if err != nil {
		return err
	}

	var out struct {
		Jobs  []jobRecord `json:"jobs"`
		Count int         `json:"count"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return err
	}

	if out.Count == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tITER\tCREATED\tQUERY")
	for _, j := range out.Jobs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			truncateID(j.ID),
			j.Status,
			j.Iterations,
			j.CreatedAt.Local().Format("2006-01-02 15:04"),
			truncate(j.Query, 48),
		)
	}
	w.Flush()
	return nil
}

func runJobShow(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/tasks/" + args[0])
	if err != nil {
		return err
	}

	var job jobRecord
	if err := json.Unmarshal(resp, &job); err != nil {
		return err
	}

	fmt.Printf("ID:         %s\n", job.ID)
	fmt.Printf("Query:      %s\n", job.Query)
	fmt.Printf("Status:     %s\n", job.Status)
	fmt.Printf("Iterations: %d\n", job.Iterations)
	fmt.Printf("Created:    %s\n", job.CreatedAt.Local().Format(time.RFC1123))
	fmt.Printf("Updated:    %s\n", job.UpdatedAt.Local().Format(time.RFC1123))

	if job.Error != "" {
		fmt.Printf("\nError: %s\n", job.Error)
	}
	if job.Result != "" {
		fmt.Printf("\n%s\n", job.Result)
	}
	return nil
}

func runJobDelete(cmd *cobra.Command, args []string) error {
	resp, err := apiDelete("/tasks/" + args[0])
	if err != nil {
		return err
	}

	var result struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}

	switch result.Status {
	case "cancelling":
		fmt.Printf("Cancellation requested for job %s\n", args[0])
	default:
		fmt.Printf("Deleted job %s\n", args[0])
	}
	return nil
}

// --- Helpers ---

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
