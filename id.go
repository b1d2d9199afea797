package leafdb

import "crypto/rand"

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
const idLength = 20

// NewID returns a 20-character alphanumeric document id drawn from a
// cryptographic RNG (spec §6 "Document ids when auto-generated").
func NewID() string {
	buf := make([]byte, idLength)
	if _, err := rand.Read(buf); err != nil {
		panic("leafdb: crypto/rand unavailable: " + err.Error())
	}
	out := make([]byte, idLength)
	for i, b := range buf {
		out[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(out)
}
