package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/rotisserie/eris"

	"github.com/citylens/citysync/internal/etl"
	"github.com/citylens/citysync/internal/normalize"
)

// Wikidata property ids used for city facts.
const (
	propCountry      = "P17"
	propPopulation   = "P1082"
	propElevation    = "P2044"
	propHighestPoint = "P610"
	propPointInTime  = "P585"
)

type wikidataEnvelope struct {
	Entities map[string]wikidataEntity `json:"entities"`
}

type wikidataEntity struct {
	Labels map[string]struct {
		Value string `json:"value"`
	} `json:"labels"`
	Claims map[string][]wikidataClaim `json:"claims"`
}

type wikidataClaim struct {
	MainSnak   wikidataSnak              `json:"mainsnak"`
	Qualifiers map[string][]wikidataSnak `json:"qualifiers"`
}

type wikidataSnak struct {
	DataValue struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	} `json:"datavalue"`
}

func (s wikidataSnak) quantityAmount() (string, bool) {
	var v struct {
		Amount string `json:"amount"`
	}
	if err := json.Unmarshal(s.DataValue.Value, &v); err != nil || v.Amount == "" {
		return "", false
	}
	return v.Amount, true
}

func (s wikidataSnak) timeValue() (string, int, bool) {
	var v struct {
		Time      string `json:"time"`
		Precision int    `json:"precision"`
	}
	if err := json.Unmarshal(s.DataValue.Value, &v); err != nil || v.Time == "" {
		return "", 0, false
	}
	return v.Time, v.Precision, true
}

func (s wikidataSnak) entityID() (string, bool) {
	var v struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(s.DataValue.Value, &v); err != nil || v.ID == "" {
		return "", false
	}
	return v.ID, true
}

// cityClaims is the subset of a city's linked-data record the pipeline keeps.
// Every field is optional; absence is an extraction gap, not an error.
type cityClaims struct {
	CountryEntity  string
	Population     *int64
	PopulationDate *string
	BaseElevation  *string
	PeakElevation  *string
}

// parseCityClaims decodes an EntityData payload for the given entity id and
// extracts the claims of interest best-effort.
func parseCityClaims(body []byte, entity string) (*cityClaims, error) {
	var envelope wikidataEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, eris.Wrapf(err, "source: decode entity data for %s", entity)
	}
	ent, ok := envelope.Entities[entity]
	if !ok {
		return nil, eris.Errorf("source: entity %s missing from payload", entity)
	}

	claims := &cityClaims{}

	if cs := ent.Claims[propCountry]; len(cs) > 0 {
		if id, ok := cs[0].MainSnak.entityID(); ok {
			claims.CountryEntity = id
		}
	}

	if cs := ent.Claims[propPopulation]; len(cs) > 0 {
		if amount, ok := cs[0].MainSnak.quantityAmount(); ok {
			if n, ok := normalize.ParseNumber(amount); ok {
				claims.Population = &n
			}
		}
		if qs := cs[0].Qualifiers[propPointInTime]; len(qs) > 0 {
			if value, precision, ok := qs[0].timeValue(); ok {
				if date, ok := normalize.ParseWikidataTime(value, precision); ok {
					claims.PopulationDate = &date
				}
			}
		}
	}

	if cs := ent.Claims[propElevation]; len(cs) > 0 {
		if amount, ok := cs[0].MainSnak.quantityAmount(); ok {
			if n, ok := normalize.ParseNumber(amount); ok {
				v := fmt.Sprintf("%d metre", n)
				claims.BaseElevation = &v
			}
		}
	}

	// The peak elevation hangs off the highest-point statement as a
	// qualifier, not as a claim of its own.
	if cs := ent.Claims[propHighestPoint]; len(cs) > 0 {
		if qs := cs[0].Qualifiers[propElevation]; len(qs) > 0 {
			if amount, ok := qs[0].quantityAmount(); ok {
				if n, ok := normalize.ParseNumber(amount); ok {
					v := fmt.Sprintf("%d metre", n)
					claims.PeakElevation = &v
				}
			}
		}
	}

	return claims, nil
}

// entityLabel fetches the English label of a Wikidata entity. Country labels
// repeat across cities, so the lookup goes through the response cache.
func entityLabel(ctx context.Context, session *etl.Session, entity string) (string, error) {
	labelURL := fmt.Sprintf("%s/%s.json", session.Cfg.Wikidata.BaseURL, url.PathEscape(entity))
	body, _, err := session.Cache.GetOrFetch(ctx, labelURL, func(ctx context.Context) ([]byte, error) {
		return session.Client.GetJSON(ctx, labelURL, nil)
	})
	if err != nil {
		return "", err
	}

	var envelope wikidataEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", eris.Wrapf(err, "source: decode entity data for %s", entity)
	}
	ent, ok := envelope.Entities[entity]
	if !ok {
		return "", eris.Errorf("source: entity %s missing from payload", entity)
	}
	label, ok := ent.Labels["en"]
	if !ok {
		return "", eris.Errorf("source: entity %s has no english label", entity)
	}
	return label.Value, nil
}
