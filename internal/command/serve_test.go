package command

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/liveeval/internal/config"
)

func TestServeCommand_StopsWithContext(t *testing.T) {
	t.Parallel()

	dir := writeFiles(t, map[string]string{"main.js": "const x = 1;\n"})
	cmd := NewServeCommand(config.NewConfig(), nil)
	cmd.listen = "127.0.0.1:0"

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	var stdout, stderr bytes.Buffer
	require.NoError(t, cmd.Execute(ctx, []string{dir}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "Serving playground on http://127.0.0.1:0")
}

func TestServeCommand_BadAddress(t *testing.T) {
	t.Parallel()

	cmd := NewServeCommand(config.NewConfig(), nil)
	cmd.listen = "not-an-address"
	var stdout, stderr bytes.Buffer
	assert.Error(t, cmd.Execute(context.Background(), nil, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "server error")
}
