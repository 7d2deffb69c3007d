// Package wire converts domain values into their realtime and HTTP wire shapes.
package wire

import (
	"github.com/cwrk-planet/coderoom/internal/domain"
	"github.com/cwrk-planet/coderoom/pkg/protocol"
)

func ChatFromDomain(m domain.ChatMessage) protocol.ChatPayload {
	return protocol.ChatPayload{
		Room:          m.RoomCode,
		ParticipantID: string(m.SenderID),
		Message:       m.Text,
		Order:         m.Order,
		TSUnix:        m.CreatedAt.Unix(),
	}
}

func RunResultFromDomain(r *domain.RunResult) *protocol.RunResultItem {
	if r == nil {
		return nil
	}
	return &protocol.RunResultItem{
		OverallStatus:   r.OverallStatus,
		Passed:          r.Passed,
		TestCaseResults: testCasesFromDomain(r.TestCaseResults),
		ExecutionTime:   r.ExecutionTime,
		MemoryUsage:     r.MemoryUsage,
		ErrorMessage:    r.ErrorMessage,
	}
}

func SubmissionFromDomain(s domain.Submission) protocol.SubmissionItem {
	return protocol.SubmissionItem{
		ID:              s.ID,
		Room:            s.RoomCode,
		ProblemID:       s.ProblemID,
		ParticipantID:   string(s.ParticipantID),
		Code:            s.Code,
		Language:        s.Language,
		Passed:          s.Passed,
		OverallStatus:   s.OverallStatus,
		ExecutionTime:   s.ExecutionTime,
		MemoryUsage:     s.MemoryUsage,
		ErrorMessage:    s.ErrorMessage,
		TestCaseResults: testCasesFromDomain(s.TestCaseResults),
		CreatedAtUnix:   s.CreatedAt.Unix(),
	}
}

func testCasesFromDomain(in []domain.TestCaseResult) []protocol.TestCaseItem {
	out := make([]protocol.TestCaseItem, 0, len(in))
	for _, tc := range in {
		out = append(out, protocol.TestCaseItem{
			Input:         tc.Input,
			Expected:      tc.Expected,
			Output:        tc.Output,
			Passed:        tc.Passed,
			ExecutionTime: tc.ExecutionTime,
			Error:         tc.Error,
		})
	}
	return out
}
