package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receiv3/pkg/domain"
	dErrors "receiv3/pkg/domain-errors"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusFunded, true},
		{StatusPending, StatusRepaid, true},
		{StatusFunded, StatusDisbursed, true},
		{StatusDisbursed, StatusDefaulted, true},
		{StatusDisbursed, StatusPending, false},
		{StatusFunded, StatusFunded, false},
		{StatusRepaid, StatusDefaulted, false},
		{StatusDefaulted, StatusRepaid, false},
		{StatusPending, Status(9), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanAdvanceTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("disbursed")
	require.NoError(t, err)
	assert.Equal(t, StatusDisbursed, s)

	s, err = ParseStatus("3")
	require.NoError(t, err)
	assert.Equal(t, StatusRepaid, s)

	_, err = ParseStatus("7")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	assert.Equal(t, "Status(7)", Status(7).String())
}

func TestIsFundable(t *testing.T) {
	inv := &Invoice{Status: StatusPending}
	assert.False(t, inv.IsFundable())

	inv.ShipmentVerified = true
	assert.True(t, inv.IsFundable())

	inv.Status = StatusDefaulted
	assert.False(t, inv.IsFundable())

	now := time.Now()
	inv.Status = StatusPending
	inv.BurnedAt = &now
	assert.False(t, inv.IsFundable())
}

func TestMintRequestValidate(t *testing.T) {
	issue := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	valid := func() MintRequest {
		return MintRequest{
			Exporter:        domain.MustAddress("0x00000000000000000000000000000000000000e1"),
			Number:          "INV-2024-001",
			Amount:          domain.Units(10_000),
			AdvanceAmount:   domain.Units(8_000),
			InterestRateBps: 1000,
			IssueDate:       issue,
			DueDate:         issue.Add(90 * 24 * time.Hour),
			BuyerCountry:    "Germany",
		}
	}
	r := valid()
	require.NoError(t, r.Validate())

	mutations := map[string]func(*MintRequest){
		"zero exporter":        func(r *MintRequest) { r.Exporter = domain.ZeroAddress },
		"empty number":         func(r *MintRequest) { r.Number = "" },
		"zero amount":          func(r *MintRequest) { r.Amount = 0 },
		"zero advance":         func(r *MintRequest) { r.AdvanceAmount = 0 },
		"advance above amount": func(r *MintRequest) { r.AdvanceAmount = r.Amount + 1 },
		"rate above 100%":      func(r *MintRequest) { r.InterestRateBps = 10_001 },
		"due before issue":     func(r *MintRequest) { r.DueDate = r.IssueDate },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			r := valid()
			mutate(&r)
			assert.True(t, dErrors.HasCode(r.Validate(), dErrors.CodeValidation))
		})
	}
}
