package cli

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"termscan/internal/db"

	"github.com/spf13/cobra"
)

// maxImportLine bounds one record. Crossref works carrying full
// reference lists run to megabytes.
const maxImportLine = 8 << 20

// importChunkSize is how many rows go into one insert transaction.
const importChunkSize = 500

var importJournals []string

var importCmd = &cobra.Command{
	Use:   "import <file.jsonl[.gz]>",
	Short: "Load article records into the backlog",
	Long: "Streams newline-delimited JSON into the articles table. Each line is one record: " +
		"either flat {doi, title, abstract, journal, pub_year} or a Crossref work " +
		"(title/container-title arrays, published.date-parts). Records whose DOI is already " +
		"known are skipped.",
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringArrayVar(&importJournals, "journal", nil, "only import records from this journal (repeatable)")
	rootCmd.AddCommand(importCmd)
}

// importRecord accepts both the flat shape and raw Crossref works.
// encoding/json matches keys case-insensitively, so Crossref's "DOI"
// lands on the doi tag.
type importRecord struct {
	DOI            flexString `json:"doi"`
	Title          flexString `json:"title"`
	Abstract       string     `json:"abstract"`
	Journal        flexString `json:"journal"`
	ContainerTitle flexString `json:"container-title"`
	PubYear        int        `json:"pub_year"`
	Published      struct {
		DateParts [][]int `json:"date-parts"`
	} `json:"published"`
}

func (r *importRecord) journal() string {
	if r.Journal != "" {
		return string(r.Journal)
	}
	return string(r.ContainerTitle)
}

func (r *importRecord) year() int {
	if r.PubYear != 0 {
		return r.PubYear
	}
	if len(r.Published.DateParts) > 0 && len(r.Published.DateParts[0]) > 0 {
		return r.Published.DateParts[0][0]
	}
	return 0
}

// flexString decodes either a bare JSON string or a Crossref-style
// array of strings, keeping the first element.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		var arr []string
		if err := json.Unmarshal(data, &arr); err != nil {
			return err
		}
		if len(arr) > 0 {
			*f = flexString(arr[0])
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexString(s)
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	path := args[0]
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("open gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	allowlist := make(map[string]bool, len(importJournals))
	for _, j := range importJournals {
		allowlist[j] = true
	}

	var (
		chunk      []db.Article
		lineNo     int
		accepted   int
		inserted   int
		filtered   int
		malformed  int
		noMetadata int
	)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		n, err := store.InsertArticles(cmd.Context(), chunk)
		if err != nil {
			return err
		}
		inserted += n
		chunk = chunk[:0]
		return nil
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxImportLine)
	for sc.Scan() {
		lineNo++
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec importRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			malformed++
			slog.Warn("skipping malformed record", "line", lineNo, "err", err)
			continue
		}
		if rec.Title == "" && rec.Abstract == "" {
			noMetadata++
			continue
		}
		journal := rec.journal()
		if len(allowlist) > 0 && !allowlist[journal] {
			filtered++
			continue
		}

		accepted++
		chunk = append(chunk, db.Article{
			DOI:      string(rec.DOI),
			Title:    string(rec.Title),
			Abstract: rec.Abstract,
			Journal:  journal,
			PubYear:  rec.year(),
		})
		if len(chunk) >= importChunkSize {
			if err := flush(); err != nil {
				return err
			}
			slog.Debug("importing articles", "lines", lineNo, "inserted", inserted)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read import file: %w", err)
	}
	if err := flush(); err != nil {
		return err
	}

	fmt.Printf("Imported %d of %d records from %s\n", inserted, lineNo, path)
	if dupes := accepted - inserted; dupes > 0 {
		fmt.Printf("  Duplicates: %d (DOI already known)\n", dupes)
	}
	if filtered > 0 {
		fmt.Printf("  Filtered:   %d (journal not in allowlist)\n", filtered)
	}
	if noMetadata > 0 {
		fmt.Printf("  Skipped:    %d (no title or abstract)\n", noMetadata)
	}
	if malformed > 0 {
		fmt.Printf("  Malformed:  %d\n", malformed)
	}
	return nil
}
