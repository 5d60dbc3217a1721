package auth

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestTokenRecord_Valid(t *testing.T) {
	now := testNow

	tests := []struct {
		name   string
		record TokenRecord
		want   bool
	}{
		{name: "empty", record: TokenRecord{}, want: false},
		{name: "no access token", record: TokenRecord{ExpiresOn: now.Add(time.Hour)}, want: false},
		{name: "expires in an hour", record: TokenRecord{AccessToken: "t", ExpiresOn: now.Add(time.Hour)}, want: true},
		{name: "exactly at margin", record: TokenRecord{AccessToken: "t", ExpiresOn: now.Add(ConnectionMargin)}, want: false},
		{name: "inside margin", record: TokenRecord{AccessToken: "t", ExpiresOn: now.Add(30 * time.Second)}, want: false},
		{name: "already expired", record: TokenRecord{AccessToken: "t", ExpiresOn: now.Add(-time.Minute)}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.record.Valid(now))
		})
	}
}

func TestTokenRecord_ValidProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)
	margin := int64(ConnectionMargin / time.Second)

	properties.Property("valid exactly when expiry is beyond the margin", prop.ForAll(
		func(offset int64) bool {
			record := TokenRecord{AccessToken: "t", ExpiresOn: testNow.Add(time.Duration(offset) * time.Second)}
			return record.Valid(testNow) == (offset > margin)
		},
		gen.Int64Range(-7200, 7200),
	))

	properties.Property("an empty token is never valid", prop.ForAll(
		func(offset int64) bool {
			record := TokenRecord{ExpiresOn: testNow.Add(time.Duration(offset) * time.Second)}
			return !record.Valid(testNow)
		},
		gen.Int64Range(-7200, 7200),
	))

	properties.TestingRun(t)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "FallbackToDeviceCode", StateFallbackToDeviceCode.String())
	assert.Equal(t, "State(42)", State(42).String())

	text, err := StateSignOut.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "SignOut", string(text))
}
