package refdata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPopulation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "pop.csv")
	require.NoError(t, os.WriteFile(path, []byte(
		"Country,Name,Year,Sex,Frmat,Pop1,Pop2\n"+
			"2450,United States of America,2005,1,0,146000000,2000000\n"+
			"2450,United States of America,2005,2,0,150000000,1900000\n"+
			"2450,United States of America,2006,1,0,,\n"+ // blank population is skipped
			"1430,Egypt,2005,1,0,36000000,900000\n"), 0o644))

	table, err := LoadPopulation(path)
	require.NoError(t, err)
	assert.Equal(t, 3, table.Len())

	pop, ok := table.Lookup("2450", "2005", "1")
	require.True(t, ok)
	assert.Equal(t, 146000000.0, pop)

	pop, ok = table.Lookup("2450", "2005", "2")
	require.True(t, ok)
	assert.Equal(t, 150000000.0, pop)

	_, ok = table.Lookup("2450", "2006", "1")
	assert.False(t, ok)

	_, ok = table.Lookup("2450", "2005", "9")
	assert.False(t, ok)
}

func TestLoadPopulation_MissingColumns(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "pop.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b,c\n1,2,3\n"), 0o644))

	_, err := LoadPopulation(path)
	assert.Error(t, err)
}
