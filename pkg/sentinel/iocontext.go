/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package sentinel

import (
	"fmt"
	"sync"
	"time"
)

const (
	// maxCompletionsPerPoll bounds one drain so a flood of traffic cannot
	// keep poll from returning.
	maxCompletionsPerPoll = 1024

	// defaultQueueDepth lets the socket loops read a full drain ahead.
	defaultQueueDepth = maxCompletionsPerPoll
)

// completion is the handler half of an asynchronous operation. It always runs
// on the goroutine that calls poll.
type completion func()

// ioContext is the completion queue a Detector owns. Operations run on their
// own goroutines and post a completion; poll runs whatever has been posted.
type ioContext struct {
	queue chan completion
	done  chan struct{}

	mu     sync.Mutex
	closed bool
	ops    sync.WaitGroup
}

func newIOContext(depth int) *ioContext {
	if depth <= 0 {
		depth = defaultQueueDepth
	}

	return &ioContext{
		queue: make(chan completion, depth),
		done:  make(chan struct{}),
	}
}

// start runs op on its own goroutine. op is expected to block on I/O and
// post a completion for each result. It reports false once the context is closed.
func (c *ioContext) start(op func()) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}

	c.ops.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.ops.Done()

		op()
	}()

	return true
}

// post queues fn for the next poll. It blocks while the queue is full and
// gives up, returning false, when the context is closed.
func (c *ioContext) post(fn completion) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case <-c.done:
		return false
	case c.queue <- fn:
		return true
	}
}

// sleep waits for d and reports false if the context closed first.
func (c *ioContext) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-c.done:
		return false
	case <-t.C:
		return true
	}
}

// poll runs every completion that is ready without waiting for more. It
// returns the number of handlers run.
func (c *ioContext) poll() (int, error) {
	select {
	case <-c.done:
		return 0, errContextClosed
	default:
	}

	var firstErr error

	for n := 0; n < maxCompletionsPerPoll; n++ {
		select {
		case fn := <-c.queue:
			if err := runCompletion(fn); err != nil && firstErr == nil {
				firstErr = err
			}
		default:
			return n, firstErr
		}
	}

	return maxCompletionsPerPoll, firstErr
}

func runCompletion(fn completion) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errCompletionPanic, r)
		}
	}()

	fn()

	return nil
}

// close stops accepting work. Pending completions are discarded.
func (c *ioContext) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	close(c.done)
}

// wait blocks until every started operation has returned. Call after close
// and after the sockets the operations block on have been closed.
func (c *ioContext) wait() {
	c.ops.Wait()
}
