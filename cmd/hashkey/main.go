// Command hashkey prints a bcrypt hash of an editor key for
// PREVIEW_EDITOR_KEY_HASH. The key is read from stdin.
package main

import (
	"bufio"
	"fmt"
	"os"

	"preview/api/internal/auth"
	"preview/api/internal/logging"
)

func main() {
	logger := logging.New("info", "console")

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		logger.Fatal().Err(err).Msg("read editor key")
	}
	hash, err := auth.HashEditorKey(line)
	if err != nil {
		logger.Fatal().Err(err).Msg("hash editor key")
	}
	fmt.Println(hash)
}
