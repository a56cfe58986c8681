package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phobos.org.uk/xbridge/internal/server"
	"phobos.org.uk/xbridge/internal/xagent"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

// execute runs the command tree with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestParseOptions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pairs   []string
		want    xagent.Options
		wantErr string
	}{
		{
			name:  "scalars",
			pairs: []string{"model=gpt-4", "max_retry_times=3", "quiet=true", "temperature=0.5"},
			want: xagent.Options{
				{Key: "model", Value: "gpt-4"},
				{Key: "max_retry_times", Value: 3},
				{Key: "quiet", Value: true},
				{Key: "temperature", Value: 0.5},
			},
		},
		{
			name:  "empty value",
			pairs: []string{"note="},
			want:  xagent.Options{{Key: "note", Value: ""}},
		},
		{
			name:  "value containing equals",
			pairs: []string{"query=a=b"},
			want:  xagent.Options{{Key: "query", Value: "a=b"}},
		},
		{
			name:  "later value wins in place",
			pairs: []string{"a=1", "b=2", "a=3"},
			want:  xagent.Options{{Key: "a", Value: 3}, {Key: "b", Value: 2}},
		},
		{
			name:  "list kept verbatim",
			pairs: []string{"tools=[a, b]"},
			want:  xagent.Options{{Key: "tools", Value: "[a, b]"}},
		},
		{
			name:    "missing equals",
			pairs:   []string{"model"},
			wantErr: `invalid option "model"`,
		},
		{
			name:    "empty key",
			pairs:   []string{"=x"},
			wantErr: "expected key=value",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseOptions(tt.pairs)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVersionAtLeast(t *testing.T) {
	t.Parallel()

	tests := []struct {
		version string
		want    bool
	}{
		{"3.10", true},
		{"3.12", true},
		{"4.0", true},
		{"3.9", false},
		{"2.7", false},
		{"3", false},
		{"three.ten", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, versionAtLeast(tt.version, 3, 10), tt.version)
	}
}

func TestHashTokenCommand(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "hash-token", "s3cret")
	require.NoError(t, err)

	hash := strings.TrimSpace(out)
	assert.True(t, server.VerifyToken("s3cret", hash))
	assert.False(t, server.VerifyToken("other", hash))
}

func TestCapabilitiesCommand(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "capabilities")
	require.NoError(t, err)
	assert.Equal(t, strings.Join(xagent.Capabilities(), "\n")+"\n", out)
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "xa-cli test\n", out)
}

func TestRunCommand_RequiresTask(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "run")
	require.ErrorContains(t, err, "requires at least 1 arg")
}

func TestRunCommand_BadOption(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "run", "--opt", "broken", "hello")
	require.ErrorContains(t, err, "expected key=value")
}
