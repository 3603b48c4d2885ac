package rotor

import "strings"

const (
	keyDN = "j2h56ogodh3se"
	keyDT = "=dziaq."
	keyDF = `|os=5v7!"-234`
)

// FixedKey is the baked-in key used for rot-wrapped blobs.
func FixedKey() string {
	return strings.Repeat(keyDN, 4) +
		strings.Repeat(keyDT+keyDN+keyDF, 5) +
		"!" + "#" +
		strings.Repeat(keyDT, 7) +
		strings.Repeat(keyDF, 2) +
		"*" + "&" + "'"
}

// NewFixed builds the rotor stack for the baked-in key.
func NewFixed() (*Rotor, error) {
	return New(FixedKey())
}
