package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewFingerprintStable(t *testing.T) {
	q := Query{Name: "Jane Smith", Title: "VP Sales", Region: "Texas"}
	assert.Equal(t, NewFingerprint(q), NewFingerprint(q))
}

func TestNewFingerprintNormalizes(t *testing.T) {
	a := NewFingerprint(Query{Name: "Jane  Smith", Title: "VP SALES", Region: " texas "})
	b := NewFingerprint(Query{Name: "jane smith", Title: "vp sales", Region: "Texas"})
	assert.Equal(t, a, b)
}

func TestNewFingerprintDistinguishesFields(t *testing.T) {
	// "a|b"+"c" must not collide with "a"+"b|c" style shuffles.
	a := NewFingerprint(Query{Name: "jane", Title: "smith", Region: ""})
	b := NewFingerprint(Query{Name: "jane", Title: "", Region: "smith"})
	assert.NotEqual(t, a, b)
}

func TestPhoneStateTransitions(t *testing.T) {
	tests := []struct {
		from, to PhoneState
		ok       bool
	}{
		{PhonePending, PhoneReceived, true},
		{PhonePending, PhoneNone, true},
		{PhonePending, PhoneVerified, false},
		{PhoneReceived, PhoneVerified, true},
		{PhoneReceived, PhoneNone, false},
		{PhoneNone, PhoneReceived, false},
		{PhoneVerified, PhoneReceived, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestAgeRangeContains(t *testing.T) {
	r := AgeRange{Min: 30, Max: 50}
	assert.True(t, r.Contains(30))
	assert.True(t, r.Contains(50))
	assert.False(t, r.Contains(29))
	assert.False(t, r.Contains(51))
}
