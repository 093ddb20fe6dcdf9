package session

import (
	"crypto/rand"
	"io"
	"math/big"
	"strings"
)

var idAdjectives = []string{
	"amber", "azure", "bold", "brave", "bright", "calm", "clear", "cool",
	"coral", "crisp", "dawn", "deep", "early", "fair", "fast", "fresh",
	"glad", "gold", "grand", "green", "high", "iron", "keen", "kind",
	"light", "lime", "long", "mild", "mint", "north", "opal", "pale",
	"pine", "plain", "prime", "pure", "quiet", "rare", "red", "rose",
	"ruby", "sage", "silk", "soft", "south", "steel", "still", "swift",
	"tall", "teal", "true", "warm", "west", "wide", "wild", "young",
}

var idNouns = []string{
	"arch", "bay", "beam", "birch", "bloom", "brook", "cape", "cedar",
	"cliff", "cloud", "coast", "cove", "crane", "creek", "delta", "dune",
	"elm", "ember", "fern", "field", "finch", "flint", "fox", "gale",
	"glen", "grove", "harbor", "hawk", "hill", "ivy", "jade", "lake",
	"lark", "maple", "mesa", "moss", "oak", "orbit", "otter", "owl",
	"pond", "prism", "quail", "raven", "reef", "ridge", "river", "shore",
	"sky", "spark", "spruce", "star", "stone", "tide", "vale", "wave",
}

// WordIDs returns a generator of "adjective-adjective-noun" session IDs
// drawing randomness from src. A nil src uses crypto/rand.
func WordIDs(src io.Reader) func() string {
	if src == nil {
		src = rand.Reader
	}
	return func() string {
		return strings.Join([]string{
			pick(src, idAdjectives),
			pick(src, idAdjectives),
			pick(src, idNouns),
		}, "-")
	}
}

func pick(src io.Reader, words []string) string {
	n, err := rand.Int(src, big.NewInt(int64(len(words))))
	if err != nil {
		return words[0]
	}
	return words[n.Int64()]
}
