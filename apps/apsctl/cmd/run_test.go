package cmd

import (
	"fmt"
	"testing"

	"github.com/quatton/apsflow/pkg/qsdk/qerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePairs(t *testing.T) {
	got, err := parsePairs("input", []string{"inputFile=./a=b.rvt", "params=data:application/json,{}"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"inputFile": "./a=b.rvt",
		"params":    "data:application/json,{}",
	}, got)

	for _, bad := range [][]string{{"noequals"}, {"=x"}, {"a="}, {"a=1", "a=2"}} {
		_, err := parsePairs("input", bad)
		assert.True(t, qerr.IsCode(err, qerr.CodeConfiguration), "%v", bad)
	}
}

func TestIsConflict(t *testing.T) {
	conflict := qerr.New(qerr.CodeTransport, &qerr.HTTPError{Method: "POST", URL: "/appbundles", StatusCode: 409})
	assert.True(t, isConflict(conflict))
	assert.True(t, isConflict(fmt.Errorf("creating bundle: %w", conflict)))

	assert.False(t, isConflict(qerr.New(qerr.CodeTransport, &qerr.HTTPError{StatusCode: 400})))
	assert.False(t, isConflict(nil))
}

func TestRunCmd_DownloadsOutputsByDefault(t *testing.T) {
	f := runCmd.Flags().Lookup("download")
	require.NotNil(t, f)
	assert.Equal(t, "true", f.DefValue)
}
