package domain

import "time"

const (
	StatusPass  = "pass"
	StatusFail  = "fail"
	StatusError = "error"
)

type TestCaseResult struct {
	Input         string  `json:"input"`
	Expected      string  `json:"expected"`
	Output        string  `json:"output,omitempty"`
	Passed        bool    `json:"passed"`
	ExecutionTime float64 `json:"execution_time"`
	Error         string  `json:"error,omitempty"`
}

// RunResult is what the judge returns for a run or a submit.
type RunResult struct {
	OverallStatus   string           `json:"overall_status"`
	Passed          bool             `json:"passed"`
	TestCaseResults []TestCaseResult `json:"test_case_results"`
	ExecutionTime   float64          `json:"execution_time"`
	MemoryUsage     float64          `json:"memory_usage"`
	ErrorMessage    string           `json:"error_message,omitempty"`
}

// ExecutionOutcome is the room-visible part of a run. Result is set only when Shared.
type ExecutionOutcome struct {
	ParticipantID ParticipantID
	Passed        bool
	SampleOnly    bool
	Shared        bool
	Result        *RunResult
}

type Submission struct {
	ID              int64
	RoomCode        string
	ProblemID       int64
	ParticipantID   ParticipantID
	Code            string
	Language        string
	Passed          bool
	OverallStatus   string
	ExecutionTime   float64
	MemoryUsage     float64
	ErrorMessage    string
	TestCaseResults []TestCaseResult
	CreatedAt       time.Time
}

type Problem struct {
	ID           int64
	Title        string
	Description  string
	Difficulty   string
	SampleInput  string
	SampleOutput string
}

// ExecutionRequest is what the judge receives for a run or a submit.
type ExecutionRequest struct {
	ProblemID     int64
	ParticipantID ParticipantID
	Code          string
	Language      string
	SampleOnly    bool
}
