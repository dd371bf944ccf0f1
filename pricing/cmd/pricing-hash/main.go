// Command pricing-hash reads a client secret from stdin and prints the bcrypt
// hash to put in AUTH_SECRET_HASH.
//
//	printf '%s' "$SECRET" | go run ./pricing/cmd/pricing-hash
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/SWLivingstone/margin-calculator/pricing/internal/auth"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	secret, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && secret == "" {
		logger.Fatal().Err(err).Msg("failed to read secret from stdin")
	}
	secret = strings.TrimRight(secret, "\r\n")
	if secret == "" {
		logger.Fatal().Msg("secret is empty")
	}

	hash, err := auth.HashSecret(secret)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to hash secret")
	}
	fmt.Println(hash)
}
