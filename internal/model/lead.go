package model

import "time"

// AcquireSource records where an acquisition's candidates came from.
type AcquireSource string

const (
	SourceAPI   AcquireSource = "api"
	SourceCache AcquireSource = "cache"
	SourceMixed AcquireSource = "mixed"
)

// Query is the normalized search triple a customer submits.
type Query struct {
	Name   string `json:"name"`
	Title  string `json:"title"`
	Region string `json:"region"`
}

// Candidate is one person record from the contact-data provider.
// Provider IDs are unique within the provider and stable across fetches.
type Candidate struct {
	ID           string `json:"id"`
	FullName     string `json:"full_name"`
	Title        string `json:"title,omitempty"`
	City         string `json:"city,omitempty"`
	Region       string `json:"region,omitempty"`
	Company      string `json:"company,omitempty"`
	CompanyPhone string `json:"company_phone,omitempty"`
}

// CacheEntry is the candidate set previously fetched for a fingerprint.
// Merges only ever grow the set; entries age out by ExpiresAt.
type CacheEntry struct {
	Fingerprint Fingerprint `json:"fingerprint"`
	Candidates  []Candidate `json:"candidates"`
	CapturedAt  time.Time   `json:"captured_at"`
	ExpiresAt   time.Time   `json:"expires_at"`
}

// AssignmentRecord marks a candidate as sold to a customer. Append-only:
// the same candidate may appear again for a different customer once the
// previous record has aged past the exclusion window.
type AssignmentRecord struct {
	ID          string      `json:"id"`
	Fingerprint Fingerprint `json:"fingerprint"`
	CandidateID string      `json:"candidate_id"`
	CustomerID  string      `json:"customer_id"`
	AssignedAt  time.Time   `json:"assigned_at"`
}

// Acquisition is the outcome of one coverage-selector run.
type Acquisition struct {
	Records      []Candidate   `json:"records"`
	Source       AcquireSource `json:"source"`
	CoverageRate float64       `json:"coverage_rate"`
	FromCache    int           `json:"from_cache"`
	FromAPI      int           `json:"from_api"`
	Partial      bool          `json:"partial,omitempty"`
}

// AgeRange bounds an optional post-verification age filter, inclusive.
type AgeRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Contains reports whether age falls inside the range.
func (r AgeRange) Contains(age int) bool {
	return age >= r.Min && age <= r.Max
}

// PendingReveal is an in-flight phone-reveal request awaiting the
// provider's callback. At most one live entry exists per candidate ID;
// it is consumed exactly once, by a callback or by the expiry sweep.
type PendingReveal struct {
	CorrelationID string    `json:"correlation_id"`
	TaskID        string    `json:"task_id"`
	CandidateID   string    `json:"candidate_id"`
	Candidate     Candidate `json:"candidate"`
	AgeFilter     *AgeRange `json:"age_filter,omitempty"`
	RegisteredAt  time.Time `json:"registered_at"`
}

// PhoneState tracks per-result phone acquisition progress.
//
//	pending  -> received | no_phone
//	received -> verified (or stays received as the unverified final state)
//
// no_phone and verified are terminal. Only the correlator moves a result
// out of pending; only the verifier moves it to verified.
type PhoneState string

const (
	PhonePending  PhoneState = "pending"
	PhoneReceived PhoneState = "received"
	PhoneNone     PhoneState = "no_phone"
	PhoneVerified PhoneState = "verified"
)

// CanTransition reports whether the phone-state machine allows s -> next.
func (s PhoneState) CanTransition(next PhoneState) bool {
	switch s {
	case PhonePending:
		return next == PhoneReceived || next == PhoneNone
	case PhoneReceived:
		return next == PhoneVerified
	default:
		return false
	}
}

// SearchResult is the mutable per-candidate outcome delivered to the
// customer. Deleted outright when a post-filter rejects the candidate.
//
// NoResponse marks a still-pending result whose reveal request the
// provider never answered inside the expiry horizon. The result stays
// in the pending phone state (no callback ever moved it out) and is
// shown as "no response from provider" rather than as an error.
type SearchResult struct {
	TaskID      string     `json:"task_id"`
	CandidateID string     `json:"candidate_id"`
	Candidate   Candidate  `json:"candidate"`
	Phone       string     `json:"phone,omitempty"`
	PhoneType   string     `json:"phone_type,omitempty"`
	PhoneState  PhoneState `json:"phone_state"`
	Score       float64    `json:"score,omitempty"`
	Age         int        `json:"age,omitempty"`
	Carrier     string     `json:"carrier,omitempty"`
	Accepted    bool       `json:"accepted"`
	NoResponse  bool       `json:"no_response,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
