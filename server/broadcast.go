package server

import (
	"context"
	"time"

	"github.com/mmazurovsky/jobs-alerts-sub001/bus"
)

// executionNotice is the console-visible summary of a pipeline run.
type executionNotice struct {
	ExecutionID string    `json:"execution_id"`
	SearchID    string    `json:"search_id"`
	Phase       string    `json:"phase"`
	PostingsNew int       `json:"postings_new,omitempty"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// broadcast queues a frame on every connected console client.
func (s *Server) broadcast(frame consoleFrame) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for client := range s.clients {
		client.sendFrame(frame)
	}
}

// Send delivers one outbound chat event to console clients. This makes
// the server a drop-in development transport behind the dispatcher.
func (s *Server) Send(ctx context.Context, event bus.OutboundEvent) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.broadcast(consoleFrame{Type: "outbound", Outbound: &event})
	return nil
}

// ExecutionStarted implements the pipeline broadcast hook.
func (s *Server) ExecutionStarted(executionID, searchID string) {
	s.broadcast(consoleFrame{Type: "execution", Execution: &executionNotice{
		ExecutionID: executionID,
		SearchID:    searchID,
		Phase:       "started",
		At:          time.Now(),
	}})
}

func (s *Server) ExecutionCompleted(executionID, searchID string, postingsNew int) {
	s.broadcast(consoleFrame{Type: "execution", Execution: &executionNotice{
		ExecutionID: executionID,
		SearchID:    searchID,
		Phase:       "completed",
		PostingsNew: postingsNew,
		At:          time.Now(),
	}})
}

func (s *Server) ExecutionFailed(executionID, searchID, errorMsg string) {
	s.broadcast(consoleFrame{Type: "execution", Execution: &executionNotice{
		ExecutionID: executionID,
		SearchID:    searchID,
		Phase:       "failed",
		Error:       errorMsg,
		At:          time.Now(),
	}})
}
