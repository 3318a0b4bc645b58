// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package peer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConn_BacklogGrowsPastThreshold(t *testing.T) {
	c := &conn{wake: make(chan struct{}, 1)}

	var crossed []int
	for i := range 10 {
		if n := c.enqueue([]byte{byte(i)}, 4); n > 0 {
			crossed = append(crossed, n)
		}
	}
	assert.Equal(t, []int{4}, crossed, "lag is reported once per backlog")
	assert.Len(t, c.wake, 1, "wake signals coalesce")

	batch := c.take()
	require.Len(t, batch, 10, "nothing is dropped")
	for i, msg := range batch {
		assert.Equal(t, []byte{byte(i)}, msg)
	}
	assert.Empty(t, c.take())

	for i := range 4 {
		n := c.enqueue([]byte{byte(i)}, 4)
		if i == 3 {
			assert.Equal(t, 4, n, "reported again after the backlog drained")
		} else {
			assert.Zero(t, n)
		}
	}
}
