// =============================================================================
// Billing Summary - File Manager Utilities
// =============================================================================
//
// This package handles the files a run leaves behind:
//   - Output and archive directory management
//   - Output file naming with placeholders
//   - The plain-text run summary and error log
//   - Archive retention cleanup
//
// =============================================================================

package utils

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const rule = "================================================================================\n"

// =============================================================================
// FILE MANAGER STRUCTURE
// =============================================================================

// FileManager owns the output and archive directories.
type FileManager struct {
	// OutputDir receives exports, summaries and error logs.
	OutputDir string

	// ArchiveDir receives a copy of every export. Empty disables archiving.
	ArchiveDir string

	// UseTimestampSubdirs archives into YYYY/MM/DD subdirectories.
	UseTimestampSubdirs bool
}

// NewFileManager creates a new FileManager instance.
func NewFileManager(outputDir, archiveDir string) *FileManager {
	return &FileManager{
		OutputDir:           outputDir,
		ArchiveDir:          archiveDir,
		UseTimestampSubdirs: true,
	}
}

// EnsureDirectories creates the configured directories.
func (fm *FileManager) EnsureDirectories() error {
	for _, dir := range []string{fm.OutputDir, fm.ArchiveDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// WriteOutput writes data to fileName inside the output directory.
func (fm *FileManager) WriteOutput(fileName string, data []byte) (string, error) {
	outputPath := filepath.Join(fm.OutputDir, fileName)
	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return outputPath, nil
}

// ArchiveOutputFile copies an export into the archive directory. It returns
// "" when archiving is disabled.
func (fm *FileManager) ArchiveOutputFile(filePath string) (string, error) {
	if fm.ArchiveDir == "" {
		return "", nil
	}

	archivePath := fm.getArchivePath(fm.ArchiveDir, filePath)
	if err := os.MkdirAll(filepath.Dir(archivePath), 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}
	if err := copyFile(filePath, archivePath); err != nil {
		return "", fmt.Errorf("failed to copy file to archive: %w", err)
	}
	return archivePath, nil
}

func (fm *FileManager) getArchivePath(archiveDir, filePath string) string {
	fileName := filepath.Base(filePath)

	if fm.UseTimestampSubdirs {
		now := time.Now()
		return filepath.Join(
			archiveDir,
			fmt.Sprintf("%d", now.Year()),
			fmt.Sprintf("%02d", now.Month()),
			fmt.Sprintf("%02d", now.Day()),
			fileName,
		)
	}
	return filepath.Join(archiveDir, fileName)
}

// =============================================================================
// OUTPUT FILE NAMING
// =============================================================================

// GenerateOutputFileName expands a file name format.
//
// SUPPORTED PLACEHOLDERS:
//   - {uuid}      : A random UUID
//   - {timestamp} : Current timestamp (YYYYMMDD_HHMMSS)
//   - {date}      : Current date (YYYYMMDD)
//   - {time}      : Current time (HHMMSS)
//   - {key}       : Any key passed in params, e.g. {kind} or {run}
//
// A missing ".xml" extension is added.
func GenerateOutputFileName(format string, params map[string]string) string {
	now := time.Now()

	replacements := map[string]string{
		"{uuid}":      uuid.New().String(),
		"{timestamp}": now.Format("20060102_150405"),
		"{date}":      now.Format("20060102"),
		"{time}":      now.Format("150405"),
	}
	for key, value := range params {
		replacements["{"+key+"}"] = value
	}

	result := format
	for placeholder, value := range replacements {
		result = strings.ReplaceAll(result, placeholder, value)
	}

	if !strings.HasSuffix(strings.ToLower(result), ".xml") {
		result += ".xml"
	}
	return result
}

// =============================================================================
// ERROR LOGGING
// =============================================================================

// ErrorLogEntry is one failure recorded during a run.
type ErrorLogEntry struct {
	Timestamp    time.Time
	RunID        string
	Source       string
	ErrorType    string
	ErrorMessage string

	// Page and Skip locate a failed page fetch; zero when not applicable.
	Page int
	Skip int
}

// WriteErrorLog writes entries to a timestamped file in outputDir. It writes
// nothing and returns "" for no entries.
func WriteErrorLog(entries []ErrorLogEntry, outputDir string) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}

	logPath := filepath.Join(outputDir, fmt.Sprintf("error_log_%s.txt", time.Now().Format("20060102_150405")))
	file, err := os.Create(logPath)
	if err != nil {
		return "", fmt.Errorf("failed to create error log: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	fmt.Fprintf(writer, "Billing Summary - Error Log\nGenerated: %s\nTotal Errors: %d\n%s\n",
		time.Now().Format("2006-01-02 15:04:05"), len(entries), rule)

	for i, entry := range entries {
		fmt.Fprintf(writer, "Error #%d\n", i+1)
		fmt.Fprintf(writer, "  Timestamp:  %s\n", entry.Timestamp.Format("2006-01-02 15:04:05"))
		if entry.RunID != "" {
			fmt.Fprintf(writer, "  Run:        %s\n", entry.RunID)
		}
		fmt.Fprintf(writer, "  Source:     %s\n", entry.Source)
		fmt.Fprintf(writer, "  Error Type: %s\n", entry.ErrorType)
		fmt.Fprintf(writer, "  Message:    %s\n", entry.ErrorMessage)
		if entry.Page > 0 {
			fmt.Fprintf(writer, "  Page:       %d (skip %d)\n", entry.Page, entry.Skip)
		}
		writer.WriteString("\n")
	}
	writer.WriteString(rule + "End of Error Log\n")

	if err := writer.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush error log: %w", err)
	}
	return logPath, nil
}

// =============================================================================
// RUN SUMMARY
// =============================================================================

// RunSummary describes one summarize or reconcile run.
type RunSummary struct {
	Kind      string
	RunID     string
	Source    string
	StartTime time.Time
	EndTime   time.Time

	Pages   int
	Records int
	Results int

	// Totals are preformatted amounts keyed by label, written in Labels order.
	Totals map[string]string
	Labels []string

	// Enrichment counters; all zero when enrichment did not run.
	TextLookups  int
	TextCacheHit int
	TextDegraded int

	Unmatched int
	Warnings  int
	Skipped   []SkippedLine

	OutputFile string
}

// SkippedLine is a skipped-record diagnostic.
type SkippedLine struct {
	Index  int
	Reason string
}

// WriteSummaryLog writes a human-readable run summary to outputDir.
func WriteSummaryLog(summary RunSummary, outputDir string) (string, error) {
	name := fmt.Sprintf("%s_summary_%s.txt", summary.Kind, summary.StartTime.Format("20060102_150405"))
	summaryPath := filepath.Join(outputDir, name)

	file, err := os.Create(summaryPath)
	if err != nil {
		return "", fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if err := writeSummary(writer, summary); err != nil {
		return "", err
	}
	if err := writer.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush summary file: %w", err)
	}
	return summaryPath, nil
}

func writeSummary(w io.Writer, s RunSummary) error {
	b := &strings.Builder{}

	fmt.Fprintf(b, "Billing Summary - %s Run\n%s\n", s.Kind, rule)
	fmt.Fprintf(b, "Run Information:\n")
	fmt.Fprintf(b, "  Run:            %s\n", s.RunID)
	fmt.Fprintf(b, "  Source:         %s\n", s.Source)
	fmt.Fprintf(b, "  Start Time:     %s\n", s.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(b, "  End Time:       %s\n", s.EndTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(b, "  Duration:       %s\n\n", s.EndTime.Sub(s.StartTime).String())

	fmt.Fprintf(b, "Statistics:\n")
	fmt.Fprintf(b, "  Pages:          %d\n", s.Pages)
	fmt.Fprintf(b, "  Records:        %d\n", s.Records)
	fmt.Fprintf(b, "  Results:        %d\n", s.Results)
	fmt.Fprintf(b, "  Skipped:        %d\n", len(s.Skipped))
	if s.Unmatched > 0 {
		fmt.Fprintf(b, "  Unmatched:      %d\n", s.Unmatched)
	}
	if s.Warnings > 0 {
		fmt.Fprintf(b, "  Warnings:       %d\n", s.Warnings)
	}
	if s.TextLookups > 0 || s.TextCacheHit > 0 || s.TextDegraded > 0 {
		fmt.Fprintf(b, "  Text Lookups:   %d\n", s.TextLookups)
		fmt.Fprintf(b, "  Text Cache Hit: %d\n", s.TextCacheHit)
		fmt.Fprintf(b, "  Text Degraded:  %d\n", s.TextDegraded)
	}
	b.WriteString("\n")

	if len(s.Labels) > 0 {
		fmt.Fprintf(b, "Totals:\n")
		for _, label := range s.Labels {
			fmt.Fprintf(b, "  %-15s %s\n", label+":", s.Totals[label])
		}
		b.WriteString("\n")
	}

	if s.OutputFile != "" {
		fmt.Fprintf(b, "Output: %s\n\n", s.OutputFile)
	}

	if len(s.Skipped) > 0 {
		b.WriteString("Skipped Records:\n")
		b.WriteString("--------------------------------------------------------------------------------\n")
		for _, sk := range s.Skipped {
			fmt.Fprintf(b, "  #%-6d %s\n", sk.Index, sk.Reason)
		}
		b.WriteString("\n")
	}

	b.WriteString(rule + "End of Summary\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}
	return destFile.Sync()
}

// CleanOldArchives removes archived files older than maxAge.
func CleanOldArchives(archiveDir string, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	err := filepath.Walk(archiveDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("failed to clean archives: %w", err)
	}
	return removed, nil
}
