package main

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loicricci/albee-poc-sub001/migrations"
	"github.com/loicricci/albee-poc-sub001/pkg/logging"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		args    []string
		cmd     string
		n       int
		wantErr bool
	}{
		{nil, "up", 0, false},
		{[]string{"up"}, "up", 0, false},
		{[]string{"version"}, "version", 0, false},
		{[]string{"down", "2"}, "down", 2, false},
		{[]string{"force", "5"}, "force", 5, false},
		{[]string{"down"}, "", 0, true},
		{[]string{"down", "0"}, "", 0, true},
		{[]string{"force", "x"}, "", 0, true},
		{[]string{"drop"}, "", 0, true},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			cmd, n, err := parseArgs(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.cmd, cmd)
			assert.Equal(t, tt.n, n)
		})
	}
}

func TestRunRequiresDatabaseURL(t *testing.T) {
	err := run(nil, "", logging.Discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(migrations.FS, "*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(migrations.FS, "*.down.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)
	require.Len(t, downs, len(ups))
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		assert.Contains(t, downs, down)
	}
}
