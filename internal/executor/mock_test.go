package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockRecordsCalls(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	require.NoError(t, m.Run(ctx, "systemctl", "enable", "nginx"))
	_, err := m.Output(ctx, "uname", "-a")
	require.NoError(t, err)

	calls := m.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, Call{Method: "Run", Name: "systemctl", Args: []string{"enable", "nginx"}}, calls[0])
	assert.Equal(t, "Output", calls[1].Method)
	assert.Equal(t, []string{"systemctl enable nginx", "uname -a"}, m.Lines())
}

func TestMockFailAndOutput(t *testing.T) {
	m := NewMock()
	ctx := context.Background()
	boom := errors.New("boom")
	m.Fail("systemctl restart", boom)
	m.SetOutput("lsb_release -cs", []byte("jammy\n"))

	assert.ErrorIs(t, m.Run(ctx, "systemctl", "restart", "sshd"), boom)
	assert.NoError(t, m.Run(ctx, "systemctl", "enable", "sshd"))

	out, err := m.Output(ctx, "lsb_release", "-cs")
	require.NoError(t, err)
	assert.Equal(t, "jammy\n", string(out))

	m.Reset()
	assert.Empty(t, m.Calls())
	assert.NoError(t, m.Run(ctx, "systemctl", "restart", "sshd"))
}

func TestMockHonoursCancelledContext(t *testing.T) {
	m := NewMock()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Run(ctx, "true"), context.Canceled)
}

func TestDryRunRecordsWithoutExecuting(t *testing.T) {
	d := NewDryRun(nil, nil)
	ctx := context.Background()
	require.NoError(t, d.Run(ctx, "rm", "-rf", "/definitely/not"))
	out, err := d.Output(ctx, "uname", "-a")
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Equal(t, []string{"rm -rf /definitely/not", "uname -a"}, d.Lines())
}
