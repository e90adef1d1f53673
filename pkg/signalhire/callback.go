package signalhire

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// PhoneEntry is one revealed phone number with its provider-tagged type
// ("mobile", "personal", "work"...).
type PhoneEntry struct {
	Number string `json:"number"`
	Type   string `json:"type,omitempty"`
}

// CallbackMatch is the canonical form of one revealed candidate. Every
// callback shape normalizes to a list of these before any pipeline
// logic runs.
type CallbackMatch struct {
	PersonUID string       `json:"uid"`
	Phones    []PhoneEntry `json:"phones"`
}

// ParseCallback normalizes the three payload shapes SignalHire delivers
// to the reveal webhook:
//
//  1. a batch: {"matches": [{...}, {...}]}
//  2. a wrapped single match: {"match": {...}}
//  3. a bare match object: {"uid": ..., "phones": [...]}
func ParseCallback(body []byte) ([]CallbackMatch, error) {
	var batch struct {
		Matches []CallbackMatch `json:"matches"`
	}
	if err := json.Unmarshal(body, &batch); err == nil && len(batch.Matches) > 0 {
		return batch.Matches, nil
	}

	var wrapped struct {
		Match *CallbackMatch `json:"match"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Match != nil && wrapped.Match.PersonUID != "" {
		return []CallbackMatch{*wrapped.Match}, nil
	}

	var bare CallbackMatch
	if err := json.Unmarshal(body, &bare); err != nil {
		return nil, eris.Wrap(err, "signalhire: parse callback")
	}
	if bare.PersonUID == "" {
		return nil, eris.New("signalhire: callback has no recognizable match")
	}
	return []CallbackMatch{bare}, nil
}
