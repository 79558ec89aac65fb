package listing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/casaops/harvester/internal/listing"
)

func TestComputeFingerprint_Deterministic(t *testing.T) {
	t.Parallel()

	first := listing.ComputeFingerprint("Modern Villa", 450_000, "Rawai, Phuket", "https://a.example.com/p/1")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first,
			listing.ComputeFingerprint("Modern Villa", 450_000, "Rawai, Phuket", "https://a.example.com/p/1"))
	}
}

func TestComputeFingerprint_CanonicalizesCaseAndWhitespace(t *testing.T) {
	t.Parallel()

	a := listing.ComputeFingerprint("Modern Villa", 450_000, "Rawai, Phuket", "https://a.example.com/p/1")
	b := listing.ComputeFingerprint("  MODERN VILLA ", 450_000, "rawai, phuket", " https://a.example.com/p/1 ")
	assert.Equal(t, a, b)
}

func TestComputeFingerprint_DistinguishesIdentityFields(t *testing.T) {
	t.Parallel()

	base := listing.ComputeFingerprint("Modern Villa", 450_000, "Rawai, Phuket", "https://a.example.com/p/1")

	assert.NotEqual(t, base,
		listing.ComputeFingerprint("Other Villa", 450_000, "Rawai, Phuket", "https://a.example.com/p/1"))
	assert.NotEqual(t, base,
		listing.ComputeFingerprint("Modern Villa", 460_000, "Rawai, Phuket", "https://a.example.com/p/1"))
	assert.NotEqual(t, base,
		listing.ComputeFingerprint("Modern Villa", 450_000, "Kata, Phuket", "https://a.example.com/p/1"))
	assert.NotEqual(t, base,
		listing.ComputeFingerprint("Modern Villa", 450_000, "Rawai, Phuket", "https://b.example.com/p/1"))
}

func TestLocation_SkipsEmptyLevels(t *testing.T) {
	t.Parallel()

	full := &listing.NormalizedListing{Area: "Rawai", District: "Mueang", Region: "Phuket"}
	assert.Equal(t, "Rawai, Mueang, Phuket", full.Location())

	partial := &listing.NormalizedListing{Area: "Rawai", Region: "Phuket"}
	assert.Equal(t, "Rawai, Phuket", partial.Location())

	empty := &listing.NormalizedListing{}
	assert.Empty(t, empty.Location())
}
