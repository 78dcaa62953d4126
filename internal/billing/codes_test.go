package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTable_Embedded(t *testing.T) {
	table, err := LoadTable(nil)
	require.NoError(t, err)
	assert.True(t, table.Validate("90834"))
	assert.False(t, table.Validate("00000"))
}

func TestLookup_MatchesKeywords(t *testing.T) {
	table, err := LoadTable(nil)
	require.NoError(t, err)

	codes := table.Lookup("Individual therapy session, 45 minutes, discussed PHQ-9 results")
	cpts := make([]string, len(codes))
	for i, c := range codes {
		cpts[i] = c.CPT
	}
	assert.Contains(t, cpts, "90834")
	assert.Contains(t, cpts, "96127")
}

func TestLookup_NoMatch(t *testing.T) {
	table, err := LoadTable(nil)
	require.NoError(t, err)
	assert.Empty(t, table.Lookup("dermatology consult"))
}

func TestLoadTable_Invalid(t *testing.T) {
	_, err := LoadTable([]byte("codes: ["))
	assert.Error(t, err)

	_, err = LoadTable([]byte("codes: []"))
	assert.Error(t, err)
}
