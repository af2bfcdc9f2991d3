package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/pkg/version"
)

func runVersion(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newVersionCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return buf.String()
}

func TestVersionCmd(t *testing.T) {
	out := runVersion(t)
	assert.Contains(t, out, "amanrag "+version.Version)
	assert.Contains(t, out, "commit")

	assert.Equal(t, version.Version, strings.TrimSpace(runVersion(t, "--short")))

	var info version.BuildInfo
	require.NoError(t, json.Unmarshal([]byte(runVersion(t, "--json")), &info))
	assert.Equal(t, version.GetInfo(), info)
}
