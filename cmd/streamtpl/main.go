package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/streamtpl/streamtpl/internal/ageutil"
	"github.com/streamtpl/streamtpl/internal/audit"
	"github.com/streamtpl/streamtpl/internal/color"
	"github.com/streamtpl/streamtpl/internal/compile"
	"github.com/streamtpl/streamtpl/internal/config"
	"github.com/streamtpl/streamtpl/internal/document"
	"github.com/streamtpl/streamtpl/internal/manifest"
	"github.com/streamtpl/streamtpl/internal/prompt"
	"github.com/streamtpl/streamtpl/internal/stream"
	"github.com/streamtpl/streamtpl/internal/template"
	"github.com/streamtpl/streamtpl/internal/vars"
)

var (
	configFile string
	verbose    bool
)

func main() {
	color.Init()
	root := buildRoot()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "streamtpl",
		Short: "Render stream templates into agent configuration",
		Long: `streamtpl expands handlebars-style stream templates against typed
variables and emits the structured configuration document an agent
consumes, for a single template or a whole package.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to config file (default ~/.config/streamtpl/config.yml)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "show per-stream progress")

	root.AddCommand(
		renderCmd(),
		compileCmd(),
		validateCmd(),
		inspectCmd(),
		encryptCmd(),
		decryptCmd(),
		logCmd(),
	)

	return root
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func keyFromConfig() (*ageutil.Key, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	key := cfg.Key()
	if key == nil {
		return nil, fmt.Errorf("no age key configured; set age.identity_file or age.passphrase in the config, or set STREAMTPL_AGE_IDENTITY / STREAMTPL_AGE_PASSPHRASE")
	}
	return key, nil
}

// logOutcome records one command invocation in the audit log.
func logOutcome(command, target string, streams int, err error) {
	e := audit.Entry{Command: command, Target: target, Streams: streams, Outcome: "success"}
	if err != nil {
		e.Outcome = "failure"
		e.Error = err.Error()
	}
	audit.Log(e)
}

// outputFlags are shared by the commands that emit a document.
type outputFlags struct {
	varsFiles   []string
	sets        []string
	format      string
	outPath     string
	interactive bool
}

func addOutputFlags(cmd *cobra.Command, f *outputFlags) {
	cmd.Flags().StringArrayVarP(&f.varsFiles, "vars", "f", nil, "variables file, repeatable; later files win")
	cmd.Flags().StringArrayVar(&f.sets, "set", nil, "set a variable as name=value, repeatable")
	cmd.Flags().StringVar(&f.format, "format", "", "output format: yaml or json (default from config)")
	cmd.Flags().StringVarP(&f.outPath, "out", "o", "", "write the document to a file instead of stdout")
	cmd.Flags().BoolVarP(&f.interactive, "interactive", "i", false, "prompt for missing variables")
}

// emit encodes the document and writes it to the chosen destination.
func emit(cfg config.Config, doc document.Mapping, flags outputFlags) error {
	format := flags.format
	if format == "" {
		format = cfg.Format
	}
	data, err := encodeDocument(doc, format)
	if err != nil {
		return err
	}
	if flags.outPath != "" {
		if err := writeFileAtomic(flags.outPath, data); err != nil {
			return fmt.Errorf("write %s: %w", flags.outPath, err)
		}
		if verbose {
			fmt.Fprintf(os.Stderr, "wrote %s (%d bytes)\n", flags.outPath, len(data))
		}
		return nil
	}
	_, err = os.Stdout.Write(data)
	return err
}

func encodeDocument(doc document.Mapping, format string) ([]byte, error) {
	switch format {
	case "", "yaml":
		return yaml.Marshal(doc)
	case "json":
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	default:
		return nil, fmt.Errorf("unknown format %q (want yaml or json)", format)
	}
}

// writeFileAtomic writes data through a temp file in the target
// directory so a failed write never leaves a partial document behind.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".streamtpl-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// --- render ------------------------------------------------------------------

func renderCmd() *cobra.Command {
	var flags outputFlags

	cmd := &cobra.Command{
		Use:   "render <template>",
		Short: "Render a single stream template",
		Example: `  streamtpl render streams/access.yml.hbs --vars vars.yml
  streamtpl render streams/access.yml.hbs --set password=hunter2 --format json
  streamtpl render streams/access.yml.hbs -i --out stream.yml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			templatePath := args[0]
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			values, err := vars.LoadAll(flags.varsFiles, flags.sets, cfg.Key())
			if err != nil {
				return err
			}

			data, err := os.ReadFile(templatePath)
			if err != nil {
				return fmt.Errorf("read template: %w", err)
			}

			if flags.interactive {
				values, err = promptTemplateVars(string(data), values)
				if err != nil {
					return err
				}
			}

			doc, err := stream.Render(values, string(data))
			logOutcome("render", templatePath, 1, err)
			if err != nil {
				return err
			}
			return emit(cfg, doc, flags)
		},
	}

	addOutputFlags(cmd, &flags)
	return cmd
}

// promptTemplateVars asks for every name the template references that
// values does not cover yet.
func promptTemplateVars(src string, values vars.Mapping) (vars.Mapping, error) {
	tmpl, err := template.Parse(src)
	if err != nil {
		return nil, err
	}
	var specs []manifest.VarSpec
	for _, name := range tmpl.Variables() {
		if _, ok := values[name]; !ok {
			specs = append(specs, manifest.VarSpec{Name: name})
		}
	}
	asked, err := prompt.Collect(prompt.Terminal{}, specs)
	if err != nil {
		return nil, err
	}
	return vars.Merge(values, asked), nil
}

// --- compile -----------------------------------------------------------------

func compileCmd() *cobra.Command {
	var flags outputFlags
	var streamName string

	cmd := &cobra.Command{
		Use:   "compile <package-dir>",
		Short: "Render every stream in a package into one document",
		Example: `  streamtpl compile ./nginx --vars vars.yml
  streamtpl compile ./nginx --stream access
  streamtpl compile ./nginx -i --out agent.yml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			values, err := vars.LoadAll(flags.varsFiles, flags.sets, cfg.Key())
			if err != nil {
				return err
			}

			pkg, err := manifest.Load(dir)
			if err != nil {
				logOutcome("compile", dir, 0, err)
				return err
			}
			if streamName != "" && pkg.Stream(streamName) == nil {
				return fmt.Errorf("package %q has no stream %q", pkg.Name, streamName)
			}

			if flags.interactive {
				asked, err := prompt.Collect(prompt.Terminal{}, missingSpecs(pkg, streamName, values))
				if err != nil {
					return err
				}
				values = vars.Merge(values, asked)
			}

			comp := compile.New(verbose)
			var doc document.Mapping
			streams := len(pkg.Streams)
			if streamName != "" {
				streams = 1
				doc, err = comp.CompileStream(pkg, streamName, values)
			} else {
				doc, err = comp.CompileAll(pkg, values)
			}
			logOutcome("compile", dir, streams, err)
			if err != nil {
				return err
			}
			return emit(cfg, doc, flags)
		},
	}

	addOutputFlags(cmd, &flags)
	cmd.Flags().StringVar(&streamName, "stream", "", "compile only the named stream")
	return cmd
}

// missingSpecs gathers the declared variables the selected streams still
// need, deduplicated by name in manifest order.
func missingSpecs(pkg *manifest.Package, streamName string, values vars.Mapping) []manifest.VarSpec {
	seen := make(map[string]bool)
	var specs []manifest.VarSpec
	for i := range pkg.Streams {
		s := &pkg.Streams[i]
		if streamName != "" && s.Name != streamName {
			continue
		}
		for _, spec := range s.Missing(values) {
			if !seen[spec.Name] {
				seen[spec.Name] = true
				specs = append(specs, spec)
			}
		}
	}
	return specs
}

// --- validate ----------------------------------------------------------------

func validateCmd() *cobra.Command {
	var varsFiles []string
	var sets []string

	cmd := &cobra.Command{
		Use:   "validate <template>...",
		Short: "Check templates for syntax and document errors",
		Long: `validate parses each template. With --vars or --set it also renders
against the given variables, surfacing document errors the parse alone
cannot catch.`,
		Example: `  streamtpl validate streams/*.hbs
  streamtpl validate streams/access.yml.hbs --vars vars.yml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			withRender := len(varsFiles) > 0 || len(sets) > 0
			var values vars.Mapping
			if withRender {
				values, err = vars.LoadAll(varsFiles, sets, cfg.Key())
				if err != nil {
					return err
				}
			}

			failed := 0
			for _, path := range args {
				err := validateTemplate(path, values, withRender)
				logOutcome("validate", path, 0, err)
				if err != nil {
					failed++
					fmt.Printf("%s %s: %v\n", color.BoldRed("error"), path, err)
					continue
				}
				fmt.Printf("%s %s\n", color.Green("ok   "), path)
			}
			if failed > 0 {
				fmt.Fprintln(os.Stderr, color.BoldRed(fmt.Sprintf("\n%d of %d templates failed", failed, len(args))))
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&varsFiles, "vars", "f", nil, "variables file, repeatable; later files win")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "set a variable as name=value, repeatable")
	return cmd
}

func validateTemplate(path string, values vars.Mapping, withRender bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if withRender {
		_, err := stream.Render(values, string(data))
		return err
	}
	_, err = template.Parse(string(data))
	return err
}

// --- inspect -----------------------------------------------------------------

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <package-dir|template>",
		Short: "Show a package's streams and variables, or a template's variables",
		Example: `  streamtpl inspect ./nginx
  streamtpl inspect streams/access.yml.hbs`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := os.Stat(args[0])
			if err != nil {
				return err
			}
			if !info.IsDir() {
				return inspectTemplate(args[0])
			}

			pkg, err := manifest.Load(args[0])
			if err != nil {
				return err
			}

			header := pkg.Name
			if pkg.Version != "" {
				header += " " + pkg.Version
			}
			if pkg.Title != "" {
				header += " (" + pkg.Title + ")"
			}
			fmt.Println(color.Bold(header))

			for i := range pkg.Streams {
				s := &pkg.Streams[i]
				line := color.Cyan(s.Name)
				if s.Input != "" {
					line += fmt.Sprintf(" (input: %s)", s.Input)
				}
				fmt.Println("\n" + line)
				fmt.Printf("  template: %s\n", s.Template)
				if len(s.Vars) == 0 {
					continue
				}
				fmt.Println("  vars:")
				for _, spec := range s.Vars {
					fmt.Printf("    %s\n", describeVar(spec))
				}
			}
			return nil
		},
	}
}

// inspectTemplate lists the variable names a single template references.
func inspectTemplate(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tmpl, err := template.Parse(string(data))
	if err != nil {
		return err
	}
	names := tmpl.Variables()
	if len(names) == 0 {
		fmt.Println("(no variables)")
		return nil
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

// describeVar renders one variable spec as a single summary line.
func describeVar(spec manifest.VarSpec) string {
	kind, err := spec.Kind()
	typeName := spec.Type
	if err == nil {
		typeName = kind.String()
	}
	line := fmt.Sprintf("%-14s %-9s", spec.Name, typeName)
	if spec.Required {
		line += " " + color.Yellow("required")
	}
	if def, ok, err := spec.DefaultVar(); err == nil && ok {
		line += " default: " + formatDefault(def)
	}
	if len(spec.Options) > 0 {
		line += " options: " + strings.Join(spec.Options, ", ")
	}
	if spec.Description != "" {
		line += " " + color.Dim(spec.Description)
	}
	return strings.TrimRight(line, " ")
}

func formatDefault(v vars.Variable) string {
	switch v.Kind {
	case vars.KindBool:
		return strconv.FormatBool(v.Bool)
	case vars.KindInteger:
		return strconv.FormatInt(v.Int, 10)
	case vars.KindList:
		return "[" + strings.Join(v.List, ", ") + "]"
	case vars.KindPassword:
		return "(hidden)"
	case vars.KindYAML:
		return strings.Join(strings.Fields(v.Str), " ")
	default:
		if v.Str == "" {
			return `""`
		}
		return v.Str
	}
}

// --- encrypt / decrypt -------------------------------------------------------

func encryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt <file>",
		Short: "Encrypt a variables file with the configured age key (writes <file>.age)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := keyFromConfig()
			if err != nil {
				return err
			}
			src := args[0]
			dst := ageutil.EncryptedPath(src)
			fmt.Printf("encrypting %s -> %s\n", src, dst)
			return key.EncryptFile(src, dst)
		},
	}
}

func decryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decrypt <file.age>",
		Short: "Decrypt an age-encrypted file (writes without the .age extension)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := keyFromConfig()
			if err != nil {
				return err
			}
			src := args[0]
			dst, ok := strings.CutSuffix(src, ".age")
			if !ok {
				return fmt.Errorf("expected a .age file, got %q", src)
			}
			fmt.Printf("decrypting %s -> %s\n", src, dst)
			return key.DecryptFile(src, dst)
		},
	}
}

// --- log ---------------------------------------------------------------------

func logCmd() *cobra.Command {
	var commandFilter string
	var limit int

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the audit log",
		Example: `  streamtpl log
  streamtpl log --command compile
  streamtpl log --limit 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := audit.Read(commandFilter, limit)
			if err != nil {
				return fmt.Errorf("read audit log: %w", err)
			}
			if len(entries) == 0 {
				fmt.Println("(no log entries)")
				return nil
			}

			fmt.Println(color.Bold(fmt.Sprintf("%-20s  %-9s  %-8s  %s",
				"TIME", "COMMAND", "OUTCOME", "TARGET")))
			fmt.Println(color.Dim(strings.Repeat("-", 72)))
			for _, e := range entries {
				ts := e.Time.Local().Format(time.DateTime)
				outcome := fmt.Sprintf("%-8s", e.Outcome)
				switch e.Outcome {
				case "success":
					outcome = color.Green(outcome)
				case "failure":
					outcome = color.BoldRed(outcome)
				}
				target := e.Target
				if e.Streams > 1 {
					target += fmt.Sprintf(" (%d streams)", e.Streams)
				}
				if e.Error != "" {
					target += " " + color.Dim(e.Error)
				}
				fmt.Printf("%-20s  %-9s  %s  %s\n", ts, e.Command, outcome, target)
			}
			fmt.Printf("\nlog: %s\n", audit.LogPath())
			return nil
		},
	}

	cmd.Flags().StringVar(&commandFilter, "command", "", "filter log by command name")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of entries to show")
	return cmd
}
