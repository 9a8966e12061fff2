package literals

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	text := "Your exam on 2026-03-31 (09:00-12:00, FR-75) or 28/04/2026 from 14h00 – 17h00 in FR-2A. " +
		"Again 2026-03-31."

	facts := Extract(text)
	assert.Equal(t, []string{"2026-03-31", "28/04/2026"}, facts.Dates)
	assert.Equal(t, []string{"09:00-12:00", "14h00 – 17h00"}, facts.Ranges)
	assert.Equal(t, []string{"FR-75", "FR-2A"}, facts.Regions)
	assert.False(t, facts.Empty())
}

func TestDates_WrittenOut(t *testing.T) {
	text := "Your exam is on March 31, 2026, or 5 mai 2026, or 2026-04-28. We reply within 2 days of 2026 requests."

	assert.Equal(t, []string{"March 31, 2026", "5 mai 2026", "2026-04-28"}, Dates(text))
	assert.Empty(t, Dates("See you on April 2nd or in may."), "a month without a year is not a date")
}

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"2026-03-31", "2026-03-31", true},
		{"31/03/2026", "2026-03-31", true},
		{" 01/05/2026 ", "2026-05-01", true},
		{"31/02/2026", "", false},
		{"5 mai 2026", "2026-05-05", true},
		{"1er Mai 2026", "2026-05-01", true},
		{"31st March 2026", "2026-03-31", true},
		{"March 31, 2026", "2026-03-31", true},
		{"Sept. 3 2026", "2026-09-03", true},
		{"28 février 2026", "2026-02-28", true},
		{"30 février 2026", "", false},
		{"31 smarch 2026", "", false},
		{"2026-13-01", "", false},
		{"tomorrow", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := NormalizeDate(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAmounts(t *testing.T) {
	text := "The fee is 20€, or 20 € for you, was €35 then 20,00 € and 12.5 EUR and 40 euros."
	assert.Equal(t, []string{"20€", "20 €", "€35", "20,00 €", "12.5 EUR", "40 euros"}, Amounts(text))

	normalized := make([]string, 0)
	for _, a := range Amounts(text) {
		normalized = append(normalized, NormalizeAmount(a))
	}
	assert.Equal(t, []string{"20€", "20€", "35€", "20€", "12.50€", "40€"}, normalized)
}

func TestAmounts_IgnoresBareNumbersAndDates(t *testing.T) {
	assert.Empty(t, Amounts("Option 2 on 2026-03-31 at 09:00-12:00, 3 documents"))
}

func TestCheckPreservation(t *testing.T) {
	source := "Sessions: 2026-03-31 (09:00-12:00) and 2026-04-28 in FR-75."

	t.Run("rewrite keeps every literal", func(t *testing.T) {
		p := CheckPreservation(source, "We can offer 2026-04-28 or 2026-03-31, 09:00-12:00, FR-75.")
		assert.True(t, p.OK())
	})

	t.Run("rewrite drops a date", func(t *testing.T) {
		p := CheckPreservation(source, "We can offer 2026-03-31 (09:00-12:00) in FR-75.")
		assert.Equal(t, []string{"2026-04-28"}, p.Missing)
		assert.False(t, p.OK())
	})

	t.Run("rewrite reformats a date", func(t *testing.T) {
		p := CheckPreservation(source, "We can offer 31/03/2026 or 2026-04-28, 09:00-12:00, FR-75.")
		assert.Equal(t, []string{"2026-03-31"}, p.Missing)
		assert.Equal(t, []string{"31/03/2026"}, p.Introduced)
	})

	t.Run("rewrite adds a written-out date", func(t *testing.T) {
		p := CheckPreservation(source, "We can offer 2026-03-31 (09:00-12:00) or 2026-04-28 in FR-75, or 5 May 2026.")
		assert.Empty(t, p.Missing)
		assert.Equal(t, []string{"5 May 2026"}, p.Introduced)
		assert.False(t, p.OK())
	})

	t.Run("rewrite invents a region", func(t *testing.T) {
		p := CheckPreservation(source, "2026-03-31 09:00-12:00 2026-04-28 FR-75 or FR-69")
		assert.Empty(t, p.Missing)
		assert.Equal(t, []string{"FR-69"}, p.Introduced)
	})
}
