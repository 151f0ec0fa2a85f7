package amqp

import (
	"crypto/rand"
	"fmt"
)

func getName(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, randomSuffix())
}

// randomSuffix returns a short random hex string, used to disambiguate
// generated names without requiring an external ID generator.
func randomSuffix() string {
	seed := make([]byte, 4)
	_, _ = rand.Read(seed)
	return fmt.Sprintf("%x", seed)
}
