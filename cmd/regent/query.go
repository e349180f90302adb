package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Submit a question and print the answer",
	Long: `Submits a question to the daemon. By default the command blocks until the
job finishes and prints the answer. With --async it returns the job id
immediately; add --wait to poll until the job settles.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

var (
	queryAsync   bool
	queryMaxIter int
	queryWait    bool
)

func init() {
	queryCmd.Flags().BoolVar(&queryAsync, "async", false, "Submit without waiting and print the job id")
	queryCmd.Flags().IntVar(&queryMaxIter, "max-iterations", 0, "Plan/reflect iteration budget (0 uses the server default)")
	queryCmd.Flags().BoolVar(&queryWait, "wait", false, "With --async, poll until the job finishes")
}

// queryResult matches the server's query response.
type queryResult struct {
	TaskID        string  `json:"task_id"`
	Status        string  `json:"status"`
	Response      string  `json:"response"`
	Error         string  `json:"error"`
	Iterations    int     `json:"iterations"`
	ExecutionTime float64 `json:"execution_time"`
}

func runQuery(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")

	body := map[string]interface{}{
		"query": question,
	}
	if queryMaxIter > 0 {
		body["max_iterations"] = queryMaxIter
	}
	if queryAsync {
		body["async_execution"] = true
	}

	resp, err := apiPost("/query", body, !queryAsync)
	if err != nil {
		return err
	}

	var result queryResult
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}

	if queryAsync {
		fmt.Printf("Submitted job: %s\n", result.TaskID)
		if !queryWait {
			fmt.Printf("Track it with: regent job show %s\n", result.TaskID)
			return nil
		}
		return waitForJob(result.TaskID)
	}

	printJobHeader(result.TaskID, result.Status, result.Iterations, result.ExecutionTime)
	if result.Error != "" {
		return fmt.Errorf("job failed: %s", result.Error)
	}
	fmt.Println()
	fmt.Println(result.Response)
	return nil
}

// waitForJob polls the job until it settles, then prints the outcome.
func waitForJob(id string) error {
	fmt.Print("Waiting")
	start := time.Now()
	for {
		time.Sleep(2 * time.Second)
		fmt.Print(".")

		resp, err := apiGet("/tasks/" + id)
		if err != nil {
			fmt.Println()
			return err
		}

		var job struct {
			Status     string `json:"status"`
			Result     string `json:"result"`
			Error      string `json:"error"`
			Iterations int    `json:"iterations"`
		}
		if err := json.Unmarshal(resp, &job); err != nil {
			fmt.Println()
			return err
		}

		if job.Status != "completed" && job.Status != "failed" {
			continue
		}

		fmt.Println()
		printJobHeader(id, job.Status, job.Iterations, time.Since(start).Seconds())
		if job.Error != "" {
			return fmt.Errorf("job failed: %s", job.Error)
		}
		fmt.Println()
		fmt.Println(job.Result)
		return nil
	}
}

func printJobHeader(id, status string, iterations int, seconds float64) {
	fmt.Printf("Job:        %s\n", truncateID(id))
	fmt.Printf("Status:     %s\n", status)
	fmt.Printf("Iterations: %d\n", iterations)
	fmt.Printf("Time:       %.2fs\n", seconds)
}
