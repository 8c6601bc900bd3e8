package frontier

import (
	"bufio"
	"errors"
	"log/slog"
	"os"
	"strings"
)

var (
	ErrNoSeeds = errors.New("no seeds loaded")
)

// LoadSeeds pushes every URL of a newline delimited file. Blank lines and
// lines starting with "#" are ignored.
func LoadSeeds(path string, f *Frontier) error {
	slog.Info("loading seeds", "path", path)
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	var urls []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}

	if err := scanner.Err(); err != nil {
		return err
	}

	if len(urls) == 0 {
		return ErrNoSeeds
	}

	admitted := PushAll(f, urls, "seeds file "+path)
	slog.Info("loaded seeds", "count", len(urls), "admitted", admitted)
	return nil
}

// PushAll pushes urls with a shared provenance and returns how many were admitted.
func PushAll(f *Frontier, urls []string, source string) int {
	admitted := 0
	for _, u := range urls {
		if f.PushURL(u, source) {
			admitted++
		}
	}
	return admitted
}
