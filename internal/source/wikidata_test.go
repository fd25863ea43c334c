package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const berlinEntityJSON = `{
	"entities": {
		"Q64": {
			"labels": {"en": {"language": "en", "value": "Berlin"}},
			"claims": {
				"P17": [{"mainsnak": {"datavalue": {"type": "wikibase-entityid", "value": {"id": "Q183"}}}}],
				"P1082": [{
					"mainsnak": {"datavalue": {"type": "quantity", "value": {"amount": "+3677472", "unit": "1"}}},
					"qualifiers": {
						"P585": [{"datavalue": {"type": "time", "value": {"time": "+2019-05-31T00:00:00Z", "precision": 11}}}]
					}
				}],
				"P2044": [{"mainsnak": {"datavalue": {"type": "quantity", "value": {"amount": "+34", "unit": "Q11573"}}}}],
				"P610": [{
					"mainsnak": {"datavalue": {"type": "wikibase-entityid", "value": {"id": "Q697698"}}},
					"qualifiers": {
						"P2044": [{"datavalue": {"type": "quantity", "value": {"amount": "+122", "unit": "Q11573"}}}]
					}
				}]
			}
		}
	}
}`

func TestParseCityClaims(t *testing.T) {
	claims, err := parseCityClaims([]byte(berlinEntityJSON), "Q64")
	require.NoError(t, err)

	assert.Equal(t, "Q183", claims.CountryEntity)
	require.NotNil(t, claims.Population)
	assert.Equal(t, int64(3677472), *claims.Population)
	require.NotNil(t, claims.PopulationDate)
	assert.Equal(t, "2019-05-31", *claims.PopulationDate)
	require.NotNil(t, claims.BaseElevation)
	assert.Equal(t, "34 metre", *claims.BaseElevation)
	require.NotNil(t, claims.PeakElevation)
	assert.Equal(t, "122 metre", *claims.PeakElevation)
}

func TestParseCityClaims_SparseRecord(t *testing.T) {
	payload := `{"entities": {"Q999": {"claims": {}}}}`
	claims, err := parseCityClaims([]byte(payload), "Q999")
	require.NoError(t, err)

	assert.Empty(t, claims.CountryEntity)
	assert.Nil(t, claims.Population)
	assert.Nil(t, claims.BaseElevation)
	assert.Nil(t, claims.PeakElevation)
}

func TestParseCityClaims_WrongEntity(t *testing.T) {
	_, err := parseCityClaims([]byte(`{"entities": {"Q1": {}}}`), "Q2")
	assert.Error(t, err)
}
