package models

import (
	"sort"
	"time"
)

// Sentinel values stored in place of a field when its extraction fails
const (
	FailedExtraction = "Failed to extract data"
	NoDataExtracted  = "No data extracted"
)

// Query is a single field extraction instruction
type Query struct {
	Field       string `json:"field" mapstructure:"field" yaml:"field"`
	Instruction string `json:"instruction" mapstructure:"instruction" yaml:"instruction"`
}

// QuerySpec lists the fields to extract, in the order they are queried
type QuerySpec []Query

// Fields returns the field names in query order
func (q QuerySpec) Fields() []string {
	fields := make([]string, 0, len(q))
	for _, query := range q {
		fields = append(fields, query.Field)
	}
	return fields
}

// DefaultQuerySpec returns the queries used when none are configured
func DefaultQuerySpec() QuerySpec {
	return QuerySpec{
		{Field: "summary", Instruction: "Extract the summary of the business of 3-4 paragraphs, covering what the company does, who it serves and how it differentiates itself."},
		{Field: "services with pricing", Instruction: "List the services provided by the company with their pricing. If pricing is not stated, list the services only."},
		{Field: "leadership", Instruction: "Provide the names and roles of all leadership members."},
		{Field: "contact_info", Instruction: "Extract contact information."},
		{Field: "headquarters", Instruction: "Extract all headquarters locations of the company."},
		{Field: "clients", Instruction: "List the top 10 current clients or customers of the company."},
		{Field: "social_media", Instruction: "Provide the company's social media handles."},
		{Field: "established_year", Instruction: "Extract the year the company was established."},
		{Field: "AI ENHANCEMENT", Instruction: "Get AI enhancement for the company."},
	}
}

// ExtractionResult maps a field name to its extracted text or a sentinel value
type ExtractionResult map[string]string

// Failed returns the sorted names of the fields holding a sentinel value
func (r ExtractionResult) Failed() []string {
	var failed []string
	for field, value := range r {
		if value == FailedExtraction || value == NoDataExtracted {
			failed = append(failed, field)
		}
	}
	sort.Strings(failed)
	return failed
}

// Profile is the stored outcome of one pipeline run against a seed URL
type Profile struct {
	ID             string           `json:"id"`
	SeedURL        string           `json:"seed_url"`
	Slug           string           `json:"slug"`
	Fields         ExtractionResult `json:"fields"`
	RelevantLinks  []string         `json:"relevant_links"`
	LinksFound     int              `json:"links_found"`
	CandidateCount int              `json:"candidate_count"`
	FailedFields   []string         `json:"failed_fields,omitempty"`
	ProcessingTime float64          `json:"processing_time_seconds"`
	ArchiveKey     string           `json:"archive_key,omitempty"` // Key of the exported JSON document
	Cached         bool             `json:"cached"`
	CreatedAt      time.Time        `json:"created_at"`
}

// ErrorResponse is the body returned by the API on failure
type ErrorResponse struct {
	Error    string `json:"error"`
	Response int    `json:"response"`
}

// ListResponse is a page of stored profiles
type ListResponse struct {
	Profiles []*Profile `json:"profiles"`
	Total    int        `json:"total"`
	Limit    int        `json:"limit"`
	Offset   int        `json:"offset"`
}
