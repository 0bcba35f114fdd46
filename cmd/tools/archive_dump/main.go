package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/soltixdb/historian/internal/archive"
	"github.com/soltixdb/historian/internal/compression"
	"github.com/soltixdb/historian/internal/logging"
	"github.com/soltixdb/historian/internal/models"
	"github.com/soltixdb/historian/internal/records"
)

func main() {
	// Command line flags
	archivePath := flag.String("archive", "./data/archive.d", "Archive file (active, historic or offloaded .snappy)")
	intercomPath := flag.String("intercom", "", "Intercom file of the writer (optional, enables rollover tracking)")
	idList := flag.String("ids", "", "Comma separated historian ids (default: every id in the file)")
	start := flag.String("start", "", "Start time, RFC 3339 (default: beginning of the archive)")
	end := flag.String("end", "", "End time, RFC 3339 (default: end of the archive)")
	timeSorted := flag.Bool("sorted", false, "Merge ids into one time-ordered sequence")
	descending := flag.Bool("desc", false, "Newest points first")
	output := flag.String("output", "", "Output CSV file (default: stdout)")
	summary := flag.Bool("summary", false, "Print the allocation table summary instead of points")

	flag.Parse()

	logger := logging.NewWithWriter(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}, zerolog.WarnLevel)

	path := *archivePath
	if compression.ForFile(path).Algorithm() != compression.None {
		restored, cleanup, err := decompressArchive(path)
		if err != nil {
			log.Fatalf("Error decompressing %s: %v\n", path, err)
		}
		defer cleanup()
		path = restored
	}

	var intercom records.IntercomStore
	if *intercomPath != "" {
		f, err := records.OpenIntercomFile(*intercomPath, true)
		if err != nil {
			log.Fatalf("Error opening intercom file: %v\n", err)
		}
		defer f.Close()
		intercom = f
	}

	opts := archive.DefaultOptions(path)
	opts.ConserveMemory = false
	reader, err := archive.NewArchiveReader(opts, intercom, nil, logger)
	if err != nil {
		log.Fatalf("Error creating reader: %v\n", err)
	}
	if err := reader.Open(); err != nil {
		log.Fatalf("Error opening archive: %v\n", err)
	}
	defer reader.Close()

	if *summary {
		if err := printSummary(reader); err != nil {
			log.Fatalf("Error reading summary: %v\n", err)
		}
		return
	}

	q, err := buildQuery(reader, *idList, *start, *end)
	if err != nil {
		log.Fatalf("Error: %v\n", err)
	}
	q.TimeSorted = *timeSorted
	q.Descending = *descending

	out := os.Stdout
	if *output != "" {
		if err := os.MkdirAll(filepath.Dir(*output), 0o755); err != nil {
			log.Fatalf("Error creating output directory: %v\n", err)
		}
		f, err := os.Create(*output)
		if err != nil {
			log.Fatalf("Error creating output file: %v\n", err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}

	n, err := exportToCSV(reader, q, out)
	if err != nil {
		log.Fatalf("Error exporting points: %v\n", err)
	}
	fmt.Fprintf(os.Stderr, "Exported %d data points\n", n)
}

// decompressArchive restores an offloaded archive into a temporary directory.
// The restored file keeps its historic name so its time range is recognized.
func decompressArchive(path string) (string, func(), error) {
	dir, err := os.MkdirTemp("", "archive_dump")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	c := compression.ForFile(path)
	restored := filepath.Join(dir, strings.TrimSuffix(filepath.Base(path), c.Extension()))
	if err := compression.DecompressFile(path, restored); err != nil {
		cleanup()
		return "", nil, err
	}
	return restored, cleanup, nil
}

func buildQuery(reader *archive.ArchiveReader, idList, start, end string) (archive.Query, error) {
	q := archive.Query{Start: models.MinTimeTag, End: models.MaxTimeTag}

	if idList == "" {
		q.IDs = reader.File().Table().HistorianIDs()
		if len(q.IDs) == 0 {
			return q, fmt.Errorf("archive holds no data; pass -ids to read historic files")
		}
	} else {
		for _, s := range strings.Split(idList, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
			if err != nil {
				return q, fmt.Errorf("invalid historian id %q", s)
			}
			q.IDs = append(q.IDs, int32(id))
		}
	}

	if start != "" {
		t, err := time.Parse(time.RFC3339Nano, start)
		if err != nil {
			return q, fmt.Errorf("invalid start time %q", start)
		}
		q.Start = models.NewTimeTag(t)
	}
	if end != "" {
		t, err := time.Parse(time.RFC3339Nano, end)
		if err != nil {
			return q, fmt.Errorf("invalid end time %q", end)
		}
		q.End = models.NewTimeTag(t)
	}
	return q, nil
}

func exportToCSV(reader *archive.ArchiveReader, q archive.Query, out *os.File) (int, error) {
	dr, err := reader.ReadData(context.Background(), q)
	if err != nil {
		return 0, err
	}
	defer dr.Close()

	writer := csv.NewWriter(out)
	defer writer.Flush()

	if err := writer.Write([]string{"historian_id", "time", "value", "quality"}); err != nil {
		return 0, err
	}

	n := 0
	for dr.Next() {
		p := dr.Point()
		row := []string{
			strconv.FormatInt(int64(p.HistorianID), 10),
			p.Time.Time().Format(time.RFC3339Nano),
			strconv.FormatFloat(float64(p.Value), 'g', -1, 32),
			p.Quality.String(),
		}
		if err := writer.Write(row); err != nil {
			return n, err
		}
		n++
	}
	if err := dr.Err(); err != nil {
		return n, err
	}
	writer.Flush()
	return n, writer.Error()
}

func printSummary(reader *archive.ArchiveReader) error {
	af := reader.File()
	st, err := af.Statistics()
	if err != nil {
		return err
	}

	fmt.Printf("=== Archive %s ===\n", st.FileName)
	fmt.Printf("  Type:            %s\n", st.FileType)
	fmt.Printf("  File start:      %s\n", st.FileStart)
	fmt.Printf("  File end:        %s\n", st.FileEnd)
	fmt.Printf("  Block size:      %d KB\n", st.BlockSizeKB)
	fmt.Printf("  Blocks used:     %d / %d (%.1f%%)\n", st.BlocksUsed, st.BlockCount, st.Usage)
	fmt.Printf("  Points received: %d\n", st.PointsReceived)
	fmt.Printf("  Points archived: %d\n", st.PointsArchived)
	if st.CompressionRatio > 0 {
		fmt.Printf("  Compression:     %.2f:1\n", st.CompressionRatio)
	}
	fmt.Printf("  Historian ids:   %v\n", af.Table().HistorianIDs())

	if af.FileType() == archive.FileTypeActive {
		files, err := af.HistoricFiles(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("  Historic files:  %d\n", len(files))
		for _, f := range files {
			fmt.Printf("    %s  %s .. %s\n", filepath.Base(f.Path), f.Start, f.End)
		}
	}
	return nil
}
