package session

import (
	"sync"
	"sync/atomic"

	"github.com/rbright/voicebridge/internal/conversation"
)

// State is the shared session snapshot. Flags are atomic so the capture
// callback can read them without taking the controller lock.
type State struct {
	connected atomic.Bool
	recording atomic.Bool

	mu  sync.RWMutex
	log *conversation.Log
}

// NewState returns a disconnected, idle session with an empty log.
func NewState() *State {
	return &State{log: conversation.NewLog()}
}

func (s *State) Connected() bool { return s.connected.Load() }
func (s *State) Recording() bool { return s.recording.Load() }

// Log returns the current conversation log.
func (s *State) Log() *conversation.Log {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.log
}

// ResetLog replaces the conversation log with a fresh one.
func (s *State) ResetLog() *conversation.Log {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = conversation.NewLog()
	return s.log
}
