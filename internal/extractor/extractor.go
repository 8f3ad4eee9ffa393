// Package extractor turns a fetched profile page into a crawler.ProfileRecord.
//
// Profile pages embed their application state in JSON script blocks. The
// block carrying the primary entity state is HTML-escaped with the &q; marker
// standing in for double quotes. Inside it, HttpState maps request keys to
// cached responses; the key beginning with "GET/" holds the entity under
// "data". Everything below that root is read through lookup helpers that
// resolve missing paths to empty values.
package extractor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/JakeFAU/company-profile-crawler/internal/crawler"
	"github.com/JakeFAU/company-profile-crawler/internal/document"
)

const (
	scriptXPath     = "//script[@type='application/ld+json' or @type='application/json']"
	primaryMarker   = "&q;"
	stateKey        = "HttpState"
	getKeyPrefix    = "GET/"
	listSeparator   = "; "
	defaultProfiles = "https://www.crunchbase.com/organization/"
)

// Extractor maps profile pages into records.
type Extractor struct {
	profileBaseURL string
}

// New builds an Extractor. profileBaseURL prefixes permalinks in the
// crunchbase url field; empty uses the public organization URL.
func New(profileBaseURL string) *Extractor {
	if profileBaseURL == "" {
		profileBaseURL = defaultProfiles
	}
	if !strings.HasSuffix(profileBaseURL, "/") {
		profileBaseURL += "/"
	}
	return &Extractor{profileBaseURL: profileBaseURL}
}

// Extract locates the primary state blob in body and maps it. ok is false
// when the page carries no usable profile; that is not an error.
func (e *Extractor) Extract(body []byte) (crawler.ProfileRecord, bool, error) {
	blocks, err := document.ExtractByXPath(body, scriptXPath)
	if err != nil {
		return crawler.ProfileRecord{}, false, fmt.Errorf("locate state blocks: %w", err)
	}
	for _, block := range blocks {
		if !strings.Contains(block, primaryMarker) {
			continue
		}
		raw, ok, err := primaryData([]byte(strings.ReplaceAll(block, primaryMarker, `"`)))
		if err != nil {
			return crawler.ProfileRecord{}, false, err
		}
		if !ok {
			continue
		}
		root, err := decode(raw)
		if err != nil {
			return crawler.ProfileRecord{}, false, err
		}
		record := e.Map(root)
		record.Raw = raw
		return record, true, nil
	}
	return crawler.ProfileRecord{}, false, nil
}

// primaryData returns the "data" member of the GET/ entry in HttpState.
// When several GET/ entries exist the first, in key order, with an entity
// identifier wins.
func primaryData(blob []byte) (json.RawMessage, bool, error) {
	var state struct {
		HTTPState map[string]json.RawMessage `json:"HttpState"`
	}
	if err := json.Unmarshal(blob, &state); err != nil {
		return nil, false, fmt.Errorf("decode %s blob: %w", stateKey, err)
	}
	keys := make([]string, 0, len(state.HTTPState))
	for key := range state.HTTPState {
		if strings.HasPrefix(key, getKeyPrefix) {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil, false, nil
	}
	sort.Strings(keys)

	var fallback json.RawMessage
	for _, key := range keys {
		var entry struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(state.HTTPState[key], &entry); err != nil || len(entry.Data) == 0 {
			continue
		}
		if fallback == nil {
			fallback = entry.Data
		}
		root, err := decode(entry.Data)
		if err != nil {
			continue
		}
		if text(root, "properties", "identifier", "uuid") != "" {
			return entry.Data, true, nil
		}
	}
	if fallback == nil {
		return nil, false, nil
	}
	return fallback, true, nil
}

func decode(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("decode entity data: %w", err)
	}
	return root, nil
}

// Map converts the entity root into a record. It never fails; absent paths
// produce empty fields.
func (e *Extractor) Map(root any) crawler.ProfileRecord {
	cards := lookup(root, "cards")
	overview := lookup(cards, "overview_fields")
	overview2 := lookup(cards, "overview_fields2")
	locations := lookup(cards, "overview_image_description", "location_identifiers")
	fundingTotal := lookup(cards, "funding_rounds_headline", "funding_total")

	permalink := text(root, "properties", "identifier", "permalink")
	profileURL := ""
	if permalink != "" {
		profileURL = e.profileBaseURL + permalink
	}

	return crawler.ProfileRecord{
		ID:                text(root, "properties", "identifier", "uuid"),
		Permalink:         permalink,
		Name:              text(root, "properties", "title"),
		LegalName:         text(overview, "legal_name"),
		City:              findByValue(locations, "location_type", "city", "value"),
		Region:            findByValue(locations, "location_type", "region", "value"),
		Country:           findByValue(locations, "location_type", "country", "value"),
		Description:       text(root, "properties", "short_description"),
		Website:           text(overview2, "website", "value"),
		Email:             text(overview2, "contact_email"),
		LinkedIn:          text(overview2, "linkedin", "value"),
		Phone:             text(overview2, "phone_number"),
		Founded:           text(overview, "founded_on", "value"),
		OperatingStatus:   text(overview, "operating_status"),
		FundingStatus:     text(overview, "funding_stage"),
		FundingType:       text(overview, "last_funding_type"),
		CrunchbaseURL:     profileURL,
		Rank:              text(root, "properties", "rank_org_company"),
		Employees:         joinItems(lookup(cards, "current_employees_featured_order_field"), formatEmployee),
		NumberOfEmployees: EmployeeRange(text(overview, "num_employees_enum")),
		FundingTotal:      text(fundingTotal, "value"),
		Currency:          text(fundingTotal, "currency"),
		FundingRounds:     joinItems(lookup(cards, "funding_rounds_list"), formatFundingRound),
		Investors:         joinItems(lookup(cards, "investors_list"), formatInvestor),
		News:              joinItems(lookup(cards, "press_reference_list"), formatNews),
	}
}

// current_employees_featured_order_field[]: "<person_identifier.value> (<title>)"
func formatEmployee(item any) string {
	return withParenthetical(text(item, "person_identifier", "value"), text(item, "title"))
}

// funding_rounds_list[]: "<announced_on> <identifier.value>: <money_raised.value> <money_raised.currency>"
func formatFundingRound(item any) string {
	head := joinNonEmpty(" ", text(item, "announced_on"), text(item, "identifier", "value"))
	money := joinNonEmpty(" ", CompactNumber(text(item, "money_raised", "value")), text(item, "money_raised", "currency"))
	if money == "" {
		return head
	}
	return head + ": " + money
}

// investors_list[]: "<investor_identifier.value> (<funding_round_identifier.value>)"
func formatInvestor(item any) string {
	return withParenthetical(text(item, "investor_identifier", "value"), text(item, "funding_round_identifier", "value"))
}

// press_reference_list[]: "<posted_on> <title> (<url.value>)"
func formatNews(item any) string {
	return withParenthetical(joinNonEmpty(" ", text(item, "posted_on"), text(item, "title")), text(item, "url", "value"))
}

func withParenthetical(main, extra string) string {
	if extra == "" {
		return main
	}
	if main == "" {
		return "(" + extra + ")"
	}
	return main + " (" + extra + ")"
}
