package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/quaydock/lighter"
	"github.com/quaydock/lighter/transfer"
)

// Formatter formats results for output.
type Formatter interface {
	FormatList(w io.Writer, prefix string, result *lighter.ListResult) error
	FormatStat(w io.Writer, info *lighter.ObjectInfo) error
	FormatUpload(w io.Writer, result *transfer.Result) error
	FormatBulk(w io.Writer, verb string, result lighter.BulkResult) error
	FormatError(w io.Writer, err error) error
	FormatProfileList(w io.Writer, profiles []Profile, defaultName string, showSecrets bool) error
	FormatProfileShow(w io.Writer, profile Profile, isDefault, showSecrets bool) error
}

// NewFormatter returns the appropriate formatter based on flags.
func NewFormatter(jsonOutput, quiet bool) Formatter {
	if jsonOutput {
		return &JSONFormatter{}
	}
	return &HumanFormatter{Quiet: quiet}
}

// HumanFormatter outputs human-readable text.
type HumanFormatter struct {
	Quiet bool
}

// FormatList formats one listing page as a table.
func (f *HumanFormatter) FormatList(w io.Writer, prefix string, result *lighter.ListResult) error {
	if len(result.Objects) == 0 {
		_, _ = fmt.Fprintln(w, "No objects found")
		return nil
	}

	maxNameLen := 4 // "NAME"
	for i := range result.Objects {
		if len(result.Objects[i].Name) > maxNameLen {
			maxNameLen = len(result.Objects[i].Name)
		}
	}
	if maxNameLen > 60 {
		maxNameLen = 60
	}

	_, _ = fmt.Fprintf(w, "%-*s  %10s  %s\n", maxNameLen, "NAME", "SIZE", "MODIFIED")
	_, _ = fmt.Fprintf(w, "%s  %s  %s\n", strings.Repeat("-", maxNameLen), strings.Repeat("-", 10), strings.Repeat("-", 19))

	var files int
	var total int64
	for i := range result.Objects {
		entry := &result.Objects[i]
		name := entry.Name
		if len(name) > maxNameLen {
			name = name[:maxNameLen-3] + "..."
		}
		if entry.IsDir {
			_, _ = fmt.Fprintf(w, "%-*s  %10s\n", maxNameLen, name, "DIR")
			continue
		}
		files++
		total += entry.Size
		modified := ""
		if !entry.LastModified.IsZero() {
			modified = entry.LastModified.Format("2006-01-02 15:04:05")
		}
		_, _ = fmt.Fprintf(w, "%-*s  %10s  %s\n", maxNameLen, name, formatSize(entry.Size), modified)
	}

	if !f.Quiet {
		dirs := len(result.Objects) - files
		_, _ = fmt.Fprintf(w, "\n%d file(s), %d folder(s) in %q (%s total)\n", files, dirs, prefix, formatSize(total))
	}

	if result.IsTruncated && result.ContinuationToken != "" {
		_, _ = fmt.Fprintf(w, "Next page: use --token %q\n", result.ContinuationToken)
	}

	return nil
}

// FormatStat formats object metadata as human-readable text.
func (f *HumanFormatter) FormatStat(w io.Writer, info *lighter.ObjectInfo) error {
	_, _ = fmt.Fprintf(w, "Key:          %s\n", info.Key)
	_, _ = fmt.Fprintf(w, "Size:         %s (%d bytes)\n", formatSize(info.Size), info.Size)
	_, _ = fmt.Fprintf(w, "Content-Type: %s\n", info.ContentType)
	if !info.LastModified.IsZero() {
		_, _ = fmt.Fprintf(w, "Modified:     %s\n", info.LastModified.Format("2006-01-02 15:04:05"))
	}
	if info.ETag != "" {
		_, _ = fmt.Fprintf(w, "ETag:         %s\n", info.ETag)
	}
	return nil
}

// FormatUpload formats a finished transfer as human-readable text.
func (f *HumanFormatter) FormatUpload(w io.Writer, result *transfer.Result) error {
	if f.Quiet {
		return nil
	}
	_, _ = fmt.Fprintf(w, "Uploaded: %s (%s in %s)\n", result.Key, formatSize(result.BytesSent), result.Elapsed.Round(10_000_000))
	if result.Multipart {
		_, _ = fmt.Fprintf(w, "  Parts: %d (%s strategy)\n", result.Parts, result.Strategy)
	}
	if result.Resumed {
		_, _ = fmt.Fprintln(w, "  Resumed from an earlier attempt")
	}
	if result.Downgraded {
		_, _ = fmt.Fprintln(w, "  Direct upload failed; finished through the relay")
	}
	if result.ETag != "" {
		_, _ = fmt.Fprintf(w, "  ETag: %s\n", result.ETag)
	}
	return nil
}

// FormatBulk formats a partial-failure bulk outcome as human-readable text.
func (f *HumanFormatter) FormatBulk(w io.Writer, verb string, result lighter.BulkResult) error {
	if result.Failed == 0 {
		if !f.Quiet {
			_, _ = fmt.Fprintf(w, "%s: %d item(s)\n", verb, result.Completed)
		}
		return nil
	}
	_, _ = fmt.Fprintf(w, "%s: %d item(s), %d failed\n", verb, result.Completed, result.Failed)
	for _, msg := range result.ErrorMessages(0) {
		_, _ = fmt.Fprintf(w, "  Error: %s\n", msg)
	}
	return nil
}

// FormatError formats an error as human-readable text.
func (f *HumanFormatter) FormatError(w io.Writer, err error) error {
	_, _ = fmt.Fprintf(w, "Error: %v\n", err)
	return nil
}

// JSONFormatter outputs JSON.
type JSONFormatter struct{}

// FormatList formats one listing page as JSON.
func (f *JSONFormatter) FormatList(w io.Writer, prefix string, result *lighter.ListResult) error {
	output := struct {
		Prefix string `json:"prefix"`
		*lighter.ListResult
	}{
		Prefix:     prefix,
		ListResult: result,
	}
	return writeJSON(w, output)
}

// FormatStat formats object metadata as JSON.
func (f *JSONFormatter) FormatStat(w io.Writer, info *lighter.ObjectInfo) error {
	return writeJSON(w, info)
}

// FormatUpload formats a finished transfer as JSON.
func (f *JSONFormatter) FormatUpload(w io.Writer, result *transfer.Result) error {
	output := struct {
		Key        string `json:"key"`
		Multipart  bool   `json:"multipart"`
		Parts      int    `json:"parts"`
		ETag       string `json:"etag,omitempty"`
		Strategy   string `json:"strategy,omitempty"`
		Resumed    bool   `json:"resumed"`
		Downgraded bool   `json:"downgraded"`
		BytesSent  int64  `json:"bytes_sent"`
		ElapsedMS  int64  `json:"elapsed_ms"`
	}{
		Key:        result.Key,
		Multipart:  result.Multipart,
		Parts:      result.Parts,
		ETag:       result.ETag,
		Strategy:   string(result.Strategy),
		Resumed:    result.Resumed,
		Downgraded: result.Downgraded,
		BytesSent:  result.BytesSent,
		ElapsedMS:  result.Elapsed.Milliseconds(),
	}
	return writeJSON(w, output)
}

// FormatBulk formats a partial-failure bulk outcome as JSON.
func (f *JSONFormatter) FormatBulk(w io.Writer, verb string, result lighter.BulkResult) error {
	output := struct {
		Operation string   `json:"operation"`
		Completed int      `json:"completed"`
		Failed    int      `json:"failed"`
		Errors    []string `json:"errors,omitempty"`
	}{
		Operation: verb,
		Completed: result.Completed,
		Failed:    result.Failed,
		Errors:    result.ErrorMessages(0),
	}
	return writeJSON(w, output)
}

// FormatError formats an error as JSON.
func (f *JSONFormatter) FormatError(w io.Writer, err error) error {
	output := struct {
		Error string `json:"error"`
	}{
		Error: err.Error(),
	}
	return writeJSON(w, output)
}

// writeJSON writes a value as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatSize formats bytes as human-readable size.
func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/TB)
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// FormatProfileList formats a list of profiles as human-readable text.
func (f *HumanFormatter) FormatProfileList(w io.Writer, profiles []Profile, defaultName string, showSecrets bool) error {
	maxNameLen := 4     // "NAME"
	maxEndpointLen := 8 // "ENDPOINT"
	for i := range profiles {
		if len(profiles[i].Name) > maxNameLen {
			maxNameLen = len(profiles[i].Name)
		}
		if len(profiles[i].Endpoint) > maxEndpointLen {
			maxEndpointLen = len(profiles[i].Endpoint)
		}
	}
	if maxNameLen > 20 {
		maxNameLen = 20
	}
	if maxEndpointLen > 50 {
		maxEndpointLen = 50
	}

	_, _ = fmt.Fprintf(w, "  %-*s  %-6s  %-*s  %s\n", maxNameLen, "NAME", "KIND", maxEndpointLen, "ENDPOINT", "ACCESS ID")
	_, _ = fmt.Fprintf(w, "  %s  %s  %s  %s\n", strings.Repeat("-", maxNameLen), strings.Repeat("-", 6), strings.Repeat("-", maxEndpointLen), strings.Repeat("-", 20))

	for i := range profiles {
		p := &profiles[i]
		marker := " "
		if p.Name == defaultName {
			marker = "*"
		}
		access := maskSecret(p.AccessID, showSecrets)
		_, _ = fmt.Fprintf(w, "%s %-*s  %-6s  %-*s  %s\n", marker, maxNameLen, p.Name, p.Kind, maxEndpointLen, p.Endpoint, access)
	}

	if defaultName != "" {
		_, _ = fmt.Fprintf(w, "\n* default profile\n")
	}
	return nil
}

// FormatProfileShow formats a single profile as human-readable text.
func (f *HumanFormatter) FormatProfileShow(w io.Writer, profile Profile, isDefault, showSecrets bool) error {
	_, _ = fmt.Fprintf(w, "Name:      %s\n", profile.Name)
	_, _ = fmt.Fprintf(w, "Kind:      %s\n", profile.Kind)
	_, _ = fmt.Fprintf(w, "Endpoint:  %s\n", profile.Endpoint)
	if profile.Region != "" {
		_, _ = fmt.Fprintf(w, "Region:    %s\n", profile.Region)
	}
	if profile.Bucket != "" {
		_, _ = fmt.Fprintf(w, "Bucket:    %s\n", profile.Bucket)
	}
	if profile.BasePath != "" {
		_, _ = fmt.Fprintf(w, "Base path: %s\n", profile.BasePath)
	}
	if profile.AccessID != "" {
		_, _ = fmt.Fprintf(w, "Access ID: %s\n", maskSecret(profile.AccessID, showSecrets))
	}
	if profile.Secret != "" {
		_, _ = fmt.Fprintf(w, "Secret:    %s\n", maskSecret(profile.Secret, showSecrets))
	}
	_, _ = fmt.Fprintf(w, "Default:   %t\n", isDefault)
	return nil
}

// FormatProfileList formats profiles as JSON.
func (f *JSONFormatter) FormatProfileList(w io.Writer, profiles []Profile, defaultName string, showSecrets bool) error {
	type jsonProfile struct {
		Name     string `json:"name"`
		Kind     string `json:"kind"`
		Endpoint string `json:"endpoint"`
		Region   string `json:"region,omitempty"`
		Bucket   string `json:"bucket,omitempty"`
		BasePath string `json:"base_path,omitempty"`
		AccessID string `json:"access_id,omitempty"`
		Secret   string `json:"secret,omitempty"`
		Default  bool   `json:"default"`
	}

	output := make([]jsonProfile, len(profiles))
	for i := range profiles {
		p := &profiles[i]
		output[i] = jsonProfile{
			Name:     p.Name,
			Kind:     p.Kind,
			Endpoint: p.Endpoint,
			Region:   p.Region,
			Bucket:   p.Bucket,
			BasePath: p.BasePath,
			AccessID: maskSecret(p.AccessID, showSecrets),
			Secret:   maskSecret(p.Secret, showSecrets),
			Default:  p.Name == defaultName,
		}
	}
	return writeJSON(w, output)
}

// FormatProfileShow formats a single profile as JSON.
func (f *JSONFormatter) FormatProfileShow(w io.Writer, profile Profile, isDefault, showSecrets bool) error {
	profile.AccessID = maskSecret(profile.AccessID, showSecrets)
	profile.Secret = maskSecret(profile.Secret, showSecrets)
	output := struct {
		Profile
		IsDefault bool `json:"is_default"`
	}{
		Profile:   profile,
		IsDefault: isDefault,
	}
	return writeJSON(w, output)
}

// maskSecret hides all but the first four characters of a credential.
func maskSecret(s string, show bool) string {
	if show || s == "" {
		return s
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + strings.Repeat("*", len(s)-4)
}
