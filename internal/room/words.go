package room

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

var adjectives = []string{
	"tiny", "happy", "sleepy", "fluffy", "sparkly", "cheery", "silly", "jolly", "cozy", "shiny",
	"golden", "silver", "crimson", "emerald", "purple", "quiet", "bright", "gentle", "brave", "calm",
	"swift", "silent", "bouncy", "fuzzy", "plucky", "merry", "peppy", "misty", "sunny", "snowy",
}

var places = []string{
	"attic", "garden", "porch", "hallway", "kitchen", "nursery", "garage", "balcony", "cellar", "study",
	"pantry", "terrace", "doorway", "stairs", "yard", "shed", "loft", "den", "gate", "window",
}

var animals = []string{
	"kitten", "puppy", "bunny", "panda", "koala", "fox", "otter", "hedgehog", "squirrel", "hamster",
	"owl", "duckling", "fawn", "foal", "lamb", "raccoon", "beaver", "seahorse", "dolphin", "narwhal",
	"penguin", "flamingo", "pelican", "sparrow", "robin", "toucan", "parrot", "canary", "badger", "lynx",
}

var extras = []string{
	"lantern", "puddle", "pebble", "comet", "orbit", "nebula", "canyon", "ridge", "ember", "maple",
	"willow", "breeze", "meadow", "biscuit", "muffin", "pixel", "sprout", "glimmer", "echo", "twig",
}

// Generate creates a random, memorable room id of the form
// adjective-place-animal-extra (e.g. "sleepy-porch-otter-comet").
// inUse may be nil; when set, ids it reports as taken are skipped.
func Generate(inUse func(string) bool) string {
	for {
		id := fmt.Sprintf("%s-%s-%s-%s",
			pick(adjectives), pick(places), pick(animals), pick(extras))
		if inUse == nil || !inUse(id) {
			return id
		}
	}
}

// pick returns a cryptographically random element of words.
func pick(words []string) string {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(words))))
	if err != nil {
		panic(fmt.Sprintf("room: random source failed: %v", err))
	}
	return words[n.Int64()]
}
