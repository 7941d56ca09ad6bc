package main

import (
	"fmt"
	"sync"
	"time"
)

// spinner shows progress on the terminal while a long step runs.
type spinner struct {
	frames []string
	delay  time.Duration
	stop   chan struct{}
	done   chan struct{}
	msg    string
	mu     sync.Mutex
}

func newSpinner(msg string) *spinner {
	return &spinner{
		frames: []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		delay:  80 * time.Millisecond,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		msg:    msg,
	}
}

func (s *spinner) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.delay)
		defer ticker.Stop()
		for i := 0; ; i++ {
			s.mu.Lock()
			fmt.Printf("\r%s %s", s.frames[i%len(s.frames)], s.msg)
			s.mu.Unlock()
			select {
			case <-s.stop:
				return
			case <-ticker.C:
			}
		}
	}()
}

// StopWithSymbol stops the animation and leaves symbol in front of the message.
func (s *spinner) StopWithSymbol(symbol string) {
	s.mu.Lock()
	select {
	case <-s.stop:
		// already stopped
		s.mu.Unlock()
		return
	default:
		close(s.stop)
	}
	s.mu.Unlock()
	<-s.done

	// Clear line and print final state
	fmt.Printf("\r\033[K%s %s\n", symbol, s.msg)
}
