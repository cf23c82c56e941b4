package domain

import (
	"sort"
	"time"
)

type Account struct {
	TenantId  string             `json:"TenantId"`
	AccountId string             `json:"AccountId"`
	Tags      map[string]float64 `json:"Tags,omitempty"`
	Fields    map[string]string  `json:"Fields,omitempty"`
}

// AccountDocument is the shape an account takes in the search index.
type AccountDocument struct {
	TenantId   string             `json:"TenantId"`
	AccountId  string             `json:"AccountId"`
	Tags       []string           `json:"Tags"`
	TagWeights map[string]float64 `json:"TagWeights,omitempty"`
	Fields     map[string]string  `json:"Fields,omitempty"`
	IndexedAt  time.Time          `json:"IndexedAt"`
}

func NewAccountDocument(a Account, now time.Time) AccountDocument {
	tags := make([]string, 0, len(a.Tags))
	for t := range a.Tags {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return AccountDocument{
		TenantId:   a.TenantId,
		AccountId:  a.AccountId,
		Tags:       tags,
		TagWeights: a.Tags,
		Fields:     a.Fields,
		IndexedAt:  now.UTC(),
	}
}

// SearchQuery selects accounts carrying every one of Tags. An empty query matches all accounts.
type SearchQuery struct {
	Tags []string `json:"Tags,omitempty"`
}

// ScrollPage is one page of a scrolled search. ScrollId resumes the scroll.
type ScrollPage struct {
	AccountIds []string
	ScrollId   string
}
