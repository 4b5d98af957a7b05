package agent

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStderrTail_KeepsEverythingUnderCap(t *testing.T) {
	tl := newStderrTail(64)
	fmt.Fprint(tl, "warning: slow\n")
	fmt.Fprint(tl, "error: boom\n")

	assert.Equal(t, "warning: slow\nerror: boom\n", tl.String())
	assert.Zero(t, tl.Dropped())
}

func TestStderrTail_DropsOldest(t *testing.T) {
	tl := newStderrTail(8)
	n, err := tl.Write([]byte("0123456789"))
	assert.NoError(t, err)
	assert.Equal(t, 10, n)
	_, _ = tl.Write([]byte("ab"))

	assert.Equal(t, "456789ab", tl.String())
	assert.Equal(t, int64(4), tl.Dropped())
}
