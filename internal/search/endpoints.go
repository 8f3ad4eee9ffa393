package search

import (
	"net/url"
	"strconv"
	"time"
)

const (
	autocompletePath = "/v4/data/autocompletes"
	organizationPath = "/v4/data/searches/organizations"
	profilePathFmt   = "/organization/%s"

	collectionOrganizations = "organizations"
	collectionLocations     = "locations"
	autocompleteLimit       = 25

	rankField     = "rank_org_company"
	foundedField  = "founded_on"
	locationField = "location_identifiers"
)

type identifier struct {
	UUID      string `json:"uuid"`
	Permalink string `json:"permalink"`
	Value     string `json:"value"`
}

type autocompleteResponse struct {
	Count    int `json:"count"`
	Entities []struct {
		Identifier identifier `json:"identifier"`
	} `json:"entities"`
}

type organizationResponse struct {
	Count    int `json:"count"`
	Entities []struct {
		UUID       string `json:"uuid"`
		Properties struct {
			Identifier identifier `json:"identifier"`
			Rank       int        `json:"rank_org_company"`
		} `json:"properties"`
	} `json:"entities"`
}

type predicate struct {
	Type       string `json:"type"`
	FieldID    string `json:"field_id"`
	OperatorID string `json:"operator_id"`
	Values     []any  `json:"values"`
}

type order struct {
	FieldID string `json:"field_id"`
	Sort    string `json:"sort"`
}

type organizationQuery struct {
	FieldIDs     []string    `json:"field_ids"`
	Order        []order     `json:"order"`
	Query        []predicate `json:"query"`
	CollectionID string      `json:"collection_id"`
	Limit        int         `json:"limit"`
	AfterID      string      `json:"after_id,omitempty"`
}

func autocompleteParams(keyword, collection string) url.Values {
	return url.Values{
		"query":          {keyword},
		"collection_ids": {collection},
		"limit":          {strconv.Itoa(autocompleteLimit)},
	}
}

// newOrganizationQuery builds one page request. A zero since selects the rank
// range predicate; otherwise only organizations founded on or after since match.
func newOrganizationQuery(locationID string, state CrawlState, since time.Time, pageSize int) organizationQuery {
	q := organizationQuery{
		FieldIDs:     []string{"identifier", rankField, locationField, foundedField},
		Order:        []order{{FieldID: rankField, Sort: "asc"}},
		CollectionID: collectionOrganizations,
		Limit:        pageSize,
		AfterID:      state.Cursor,
		Query: []predicate{{
			Type:       "predicate",
			FieldID:    locationField,
			OperatorID: "includes",
			Values:     []any{locationID},
		}},
	}
	if since.IsZero() {
		q.Query = append(q.Query, predicate{
			Type:       "predicate",
			FieldID:    rankField,
			OperatorID: "between",
			Values:     []any{state.MinRank, state.MaxRank},
		})
	} else {
		q.Query = append(q.Query, predicate{
			Type:       "predicate",
			FieldID:    foundedField,
			OperatorID: "gte",
			Values:     []any{since.Format(time.DateOnly)},
		})
	}
	return q
}
