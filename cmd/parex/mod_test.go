package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/parex/core/store/kv"
)

func TestApp_Run(t *testing.T) {
	db := filepath.Join(t.TempDir(), "state.db")

	buffer := new(bytes.Buffer)

	app := makeApp()
	app.Writer = buffer

	err := app.Run([]string{"parex", "--workers", "2", "--db", db, "testdata/block.yml"})
	require.NoError(t, err)

	output := buffer.String()
	require.Contains(t, output, "tx 0: success")
	require.Contains(t, output, "event greeting: hello")
	require.Contains(t, output, "event hits: 3")
	require.Contains(t, output, "gas used: 5")

	// The final state is persisted, so it serves as the base of the next run.
	database, err := kv.New(db)
	require.NoError(t, err)

	defer database.Close()

	reader := kv.NewReader(database, []byte(stateBucket))

	value, err := reader.Get([]byte("name"))
	require.NoError(t, err)
	require.Equal(t, []byte("world"), value)
}

func TestApp_Run_Sequential(t *testing.T) {
	buffer := new(bytes.Buffer)

	app := makeApp()
	app.Writer = buffer

	err := app.Run([]string{"parex", "--sequential", "testdata/block.yml"})
	require.NoError(t, err)

	require.Contains(t, buffer.String(), "gas used: 5")
}

func TestApp_Run_BadInput(t *testing.T) {
	app := makeApp()

	err := app.Run([]string{"parex"})
	require.EqualError(t, err, "expected the path of the block file")

	err = app.Run([]string{"parex", "unknown.yml"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to read block file")
}
