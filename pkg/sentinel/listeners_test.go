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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryDelayDoublesUpToCap(t *testing.T) {
	var delay retryDelay

	got := make([]time.Duration, 0, 10)
	for i := 0; i < 10; i++ {
		got = append(got, delay.next())
	}

	assert.Equal(t, minRetryDelay, got[0])
	assert.Equal(t, 2*minRetryDelay, got[1])
	assert.Equal(t, maxRetryDelay, got[len(got)-1])

	delay.reset()
	assert.Equal(t, minRetryDelay, delay.next())
}

func TestIOContextSleepStopsOnClose(t *testing.T) {
	ctx := newIOContext(1)

	assert.True(t, ctx.sleep(time.Millisecond))

	ctx.close()

	start := time.Now()
	assert.False(t, ctx.sleep(time.Hour))
	require.Less(t, time.Since(start), testWait)
}

func TestReceiveLoopReadsAheadOfPoll(t *testing.T) {
	d, binder, _ := newFakeDetector(t, 9000, "0.0.0.0")

	binder.packet.send("10.0.0.1:1")
	binder.packet.send("10.0.0.2:2")
	binder.packet.send("10.0.0.3:3")

	waitQueued(t, d, 3)
	assert.Equal(t, listenerArmed, d.udp.state.load())

	require.True(t, d.Process())
	assert.Len(t, d.NewAttempts(), 3)
	assert.Equal(t, listenerArmed, d.udp.state.load())
}
