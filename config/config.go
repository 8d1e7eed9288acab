package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/msg-to-json/filter"
	"github.com/dhcgn/msg-to-json/normalize"
	"github.com/dhcgn/msg-to-json/output"
	"github.com/dhcgn/msg-to-json/scanner"
)

// Config captures all command-line options required to run a conversion.
type Config struct {
	InputDir        string
	OutputPath      string
	AttachmentsDir  string
	Extension       string
	Recursive       bool
	Format          output.Format
	SortOrder       output.Order
	PolicyPath      string
	AttachmentIndex string
	MboxPath        string
	LogLevel        string
	LogDir          string
	NoProgress      bool
	Confirm         bool
	IncludeHeader   []string
	IncludeBody     []string
	ExcludeHeader   []string
	ExcludeBody     []string
	Policy          normalize.Policy
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	flags.StringP("output", "o", "parsed_messages.json", "Output JSON file")
	flags.StringP("attachments-dir", "a", "Attachments", "Directory to store attachments")
	flags.StringP("ext", "e", ".msg", "File extension to convert")
	flags.BoolP("recursive", "r", false, "Recursively scan subdirectories")
	flags.String("format", "json", "Output format: json or jsonl")
	flags.StringP("sort-date", "s", "none", "Sort by date after parsing: none, asc or desc")
	flags.BoolP("strip-tags", "x", false, "Strip HTML tags from message bodies")
	flags.Int("to-limit", 0, "Max number of To recipients per record (0 for unlimited)")
	flags.Bool("no-address-cleanup", false, "Keep raw recipient strings instead of bare addresses")
	flags.Bool("no-encoding-repair", false, "Disable invalid and double encoded text repair")
	flags.String("policy", "", "YAML file with normalization policy overrides")
	flags.String("attachment-index", "", "Write a JSON Lines index of extracted attachments to this file")
	flags.String("mbox", "", "Also export converted messages to this mbox file")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Also write logs to a timestamped file in this directory")
	flags.Bool("no-progress", false, "Disable the progress bar")
	flags.Bool("confirm", false, "Ask for confirmation before processing")
	RegisterFilterFlags(cmd)

	return nil
}

// RegisterFilterFlags attaches the regex filter flags shared by all commands.
func RegisterFilterFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringArray("include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
}

// LoadConfig converts the parsed Cobra flags and the input directory argument
// into a Config struct with validation.
func LoadConfig(cmd *cobra.Command, args []string) (Config, error) {
	flags := cmd.Flags()

	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return Config{}, fmt.Errorf("expected exactly one input directory")
	}

	outputPath, err := flags.GetString("output")
	if err != nil {
		return Config{}, err
	}
	attachmentsDir, err := flags.GetString("attachments-dir")
	if err != nil {
		return Config{}, err
	}
	ext, err := flags.GetString("ext")
	if err != nil {
		return Config{}, err
	}
	recursive, err := flags.GetBool("recursive")
	if err != nil {
		return Config{}, err
	}
	formatFlag, err := flags.GetString("format")
	if err != nil {
		return Config{}, err
	}
	sortFlag, err := flags.GetString("sort-date")
	if err != nil {
		return Config{}, err
	}
	stripTags, err := flags.GetBool("strip-tags")
	if err != nil {
		return Config{}, err
	}
	toLimit, err := flags.GetInt("to-limit")
	if err != nil {
		return Config{}, err
	}
	noAddressCleanup, err := flags.GetBool("no-address-cleanup")
	if err != nil {
		return Config{}, err
	}
	noEncodingRepair, err := flags.GetBool("no-encoding-repair")
	if err != nil {
		return Config{}, err
	}
	policyPath, err := flags.GetString("policy")
	if err != nil {
		return Config{}, err
	}
	attachmentIndex, err := flags.GetString("attachment-index")
	if err != nil {
		return Config{}, err
	}
	mboxPath, err := flags.GetString("mbox")
	if err != nil {
		return Config{}, err
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return Config{}, err
	}
	logDir, err := flags.GetString("log-dir")
	if err != nil {
		return Config{}, err
	}
	noProgress, err := flags.GetBool("no-progress")
	if err != nil {
		return Config{}, err
	}
	confirm, err := flags.GetBool("confirm")
	if err != nil {
		return Config{}, err
	}
	filters, err := LoadFilterFlags(cmd)
	if err != nil {
		return Config{}, err
	}

	format, err := output.ParseFormat(formatFlag)
	if err != nil {
		return Config{}, err
	}
	order, err := output.ParseOrder(sortFlag)
	if err != nil {
		return Config{}, err
	}

	policy := normalize.DefaultPolicy()
	if policyPath != "" {
		if policy, err = normalize.LoadPolicy(policyPath); err != nil {
			return Config{}, err
		}
	}
	if stripTags {
		policy.StripTags = true
	}
	if flags.Changed("to-limit") {
		policy.RecipientLimit = toLimit
	}
	if noAddressCleanup {
		policy.AddressCleanup = false
	}
	if noEncodingRepair {
		policy.RepairEncoding = false
	}

	logLevel = strings.ToLower(logLevel)
	if logLevel == "warning" {
		logLevel = "warn"
	}

	cfg := Config{
		InputDir:        filepath.Clean(args[0]),
		OutputPath:      outputPath,
		AttachmentsDir:  attachmentsDir,
		Extension:       scanner.NormalizeExtension(ext),
		Recursive:       recursive,
		Format:          format,
		SortOrder:       order,
		PolicyPath:      policyPath,
		AttachmentIndex: attachmentIndex,
		MboxPath:        mboxPath,
		LogLevel:        logLevel,
		LogDir:          logDir,
		NoProgress:      noProgress,
		Confirm:         confirm,
		IncludeHeader:   filters.IncludeHeader,
		IncludeBody:     filters.IncludeBody,
		ExcludeHeader:   filters.ExcludeHeader,
		ExcludeBody:     filters.ExcludeBody,
		Policy:          policy,
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if cfg.InputDir, err = filepath.Abs(cfg.InputDir); err != nil {
		return Config{}, fmt.Errorf("resolve input directory: %w", err)
	}
	if cfg.OutputPath, err = filepath.Abs(cfg.OutputPath); err != nil {
		return Config{}, fmt.Errorf("resolve --output: %w", err)
	}
	if cfg.AttachmentsDir, err = filepath.Abs(cfg.AttachmentsDir); err != nil {
		return Config{}, fmt.Errorf("resolve --attachments-dir: %w", err)
	}

	return cfg, nil
}

// LoadFilterFlags reads the flags added by RegisterFilterFlags.
func LoadFilterFlags(cmd *cobra.Command) (filter.Options, error) {
	flags := cmd.Flags()

	includeHeader, err := flags.GetStringArray("include-header")
	if err != nil {
		return filter.Options{}, err
	}
	includeBody, err := flags.GetStringArray("include-body")
	if err != nil {
		return filter.Options{}, err
	}
	excludeHeader, err := flags.GetStringArray("exclude-header")
	if err != nil {
		return filter.Options{}, err
	}
	excludeBody, err := flags.GetStringArray("exclude-body")
	if err != nil {
		return filter.Options{}, err
	}

	f := filter.Options{
		IncludeHeader: includeHeader,
		IncludeBody:   includeBody,
		ExcludeHeader: excludeHeader,
		ExcludeBody:   excludeBody,
	}
	includeActive := len(f.IncludeHeader) > 0 || len(f.IncludeBody) > 0
	excludeActive := len(f.ExcludeHeader) > 0 || len(f.ExcludeBody) > 0
	if includeActive && excludeActive {
		return filter.Options{}, fmt.Errorf("include and exclude flags are mutually exclusive")
	}
	return f, nil
}

// FilterOptions returns the regex filter settings.
func (c Config) FilterOptions() filter.Options {
	return filter.Options{
		IncludeHeader: c.IncludeHeader,
		IncludeBody:   c.IncludeBody,
		ExcludeHeader: c.ExcludeHeader,
		ExcludeBody:   c.ExcludeBody,
	}
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.OutputPath) == "" {
		return fmt.Errorf("--output must not be empty")
	}
	if strings.TrimSpace(cfg.AttachmentsDir) == "" {
		return fmt.Errorf("--attachments-dir must not be empty")
	}
	if cfg.Extension == "" || cfg.Extension == "." {
		return fmt.Errorf("--ext must not be empty")
	}
	if cfg.Policy.RecipientLimit < 0 {
		return fmt.Errorf("--to-limit must not be negative")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}
