package detector

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/hervehildenbrand/bgp-t1-peerings/pkg/models"
)

// LoadSkipList reads deny-list entries from a CSV file.
// Expected format: asn,filename (e.g., "3356,rrc25.bview.20260114.0000.gz").
// A header row and malformed rows are skipped.
func LoadSkipList(path string) ([]SkipEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening skip list")
	}
	defer file.Close()

	return ParseSkipList(bufio.NewReader(file))
}

// ParseSkipList reads deny-list entries from CSV rows.
func ParseSkipList(r io.Reader) ([]SkipEntry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.Comment = '#'

	var entries []SkipEntry
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "reading skip list")
		}
		if len(record) < 2 {
			continue
		}
		asn, err := strconv.ParseUint(strings.TrimSpace(record[0]), 10, 32)
		if err != nil {
			// Header or junk
			continue
		}
		name := strings.TrimSpace(record[1])
		if name == "" {
			continue
		}
		entries = append(entries, SkipEntry{ASN: models.ASN(asn), Filename: filepath.Base(name)})
	}
	return entries, nil
}
