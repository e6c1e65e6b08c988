package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuditReport_Consistent(t *testing.T) {
	r := &AuditReport{Checked: 10, ScheduleDrift: 3, ImplausibleSpeed: 1}
	assert.True(t, r.Consistent(), "quality signals do not break consistency")

	r.ArrDelayMismatch = 1
	assert.False(t, r.Consistent())
}

func TestAuditReport_UnnormalizedIsInconsistent(t *testing.T) {
	r := &AuditReport{Checked: 10, Unnormalized: 1}
	assert.False(t, r.Consistent(), "a raw clock without an instant cannot be verified")
}

func TestAuditReport_CountsCoverKeys(t *testing.T) {
	counts := (&AuditReport{DuplicateKeys: 4}).Counts()
	assert.Len(t, counts, len(AuditCountKeys()))
	for _, k := range AuditCountKeys() {
		_, ok := counts[k]
		assert.True(t, ok, "missing key %s", k)
	}
	assert.Equal(t, int64(4), counts["duplicate_keys"])
}
