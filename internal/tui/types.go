package tui

// JobItem is a summary of a job for the list view
type JobItem struct {
	ID         string
	Query      string
	Status     string
	Iterations int
	CreatedAt  string
}

// JobDetail is the full job record
type JobDetail struct {
	ID         string
	Query      string
	Status     string
	Result     string
	Error      string
	Iterations int
	CreatedAt  string
	UpdatedAt  string
}
