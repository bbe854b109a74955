// Package inventory loads the router list to back up.
package inventory

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rs/zerolog"
)

// Router is one backup target. Identity is the address; the display
// name is used to build artifact filenames.
type Router struct {
	Address string `csv:"address"`
	Name    string `csv:"name"`
}

// Load reads the router list from a CSV file, one `address,name` pair
// per line with no header row. Malformed lines are logged and skipped;
// a single bad line never aborts the run.
func Load(path string, log zerolog.Logger) ([]Router, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open inventory %s: %w", path, err)
	}
	defer f.Close()

	routers, err := Parse(f, log)
	if err != nil {
		return nil, fmt.Errorf("parse inventory %s: %w", path, err)
	}
	return routers, nil
}

// Parse decodes the router list from r. Duplicate display names are
// rejected so that artifact names stay unique within a run.
func Parse(r io.Reader, log zerolog.Logger) ([]Router, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	// The file has no header; supply one so csvutil can map fields.
	dec, err := csvutil.NewDecoder(cr, "address", "name")
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("inventory is empty")
		}
		return nil, err
	}

	var routers []Router
	seen := make(map[string]struct{})
	for line := 1; ; line++ {
		var router Router
		if err := dec.Decode(&router); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			log.Warn().Int("line", line).Err(err).Msg("skipping malformed inventory line")
			continue
		}

		router.Address = strings.TrimSpace(router.Address)
		router.Name = strings.TrimSpace(router.Name)
		if router.Address == "" || router.Name == "" {
			log.Warn().Int("line", line).Msg("skipping inventory line with empty address or name")
			continue
		}
		if _, dup := seen[router.Name]; dup {
			log.Warn().Int("line", line).Str("router", router.Name).
				Msg("skipping router with duplicate name, artifact names would collide")
			continue
		}
		seen[router.Name] = struct{}{}
		routers = append(routers, router)
	}

	if len(routers) == 0 {
		return nil, errors.New("inventory contains no usable routers")
	}
	return routers, nil
}
