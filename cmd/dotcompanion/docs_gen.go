package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	cobraDoc "github.com/spf13/cobra/doc"

	"github.com/dotsetgreg/dotcompanion/pkg/config"
	"github.com/dotsetgreg/dotcompanion/pkg/tools"
)

// docSet maps a path relative to the docs root to its generated content.
type docSet map[string][]byte

func newDocsCommand(rootFactory func() *cobra.Command) *cobra.Command {
	docsRoot := &cobra.Command{
		Use:    "docs",
		Short:  "Internal docs maintenance commands",
		Hidden: true,
	}

	var (
		outputDir string
		checkOnly bool
	)

	gen := &cobra.Command{
		Use:   "generate",
		Short: "Generate reference docs from command/config/tool source",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(outputDir) == "" {
				return fmt.Errorf("--output must not be empty")
			}
			docs, err := buildReferenceDocs(rootFactory())
			if err != nil {
				return err
			}
			if checkOnly {
				return docs.check(outputDir)
			}
			return docs.write(outputDir)
		},
	}
	gen.Flags().StringVar(&outputDir, "output", "docs", "Docs directory root")
	gen.Flags().BoolVar(&checkOnly, "check", false, "Fail if generated docs are out of date")

	docsRoot.AddCommand(gen)
	return docsRoot
}

func buildReferenceDocs(root *cobra.Command) (docSet, error) {
	docs := docSet{}
	if err := addCommandDocs(docs, root); err != nil {
		return nil, err
	}
	docs[filepath.Join("reference", "config.md")] = []byte(buildConfigReferenceMarkdown())
	docs[filepath.Join("reference", "tools.md")] = []byte(buildToolsReferenceMarkdown())
	return docs, nil
}

// addCommandDocs renders one markdown page and one man page per visible
// command, named the way cobra's tree generators name them.
func addCommandDocs(docs docSet, cmd *cobra.Command) error {
	cmd.DisableAutoGenTag = true
	for _, child := range cmd.Commands() {
		if !child.IsAvailableCommand() || child.IsAdditionalHelpTopicCommand() {
			continue
		}
		if err := addCommandDocs(docs, child); err != nil {
			return err
		}
	}

	base := strings.ReplaceAll(cmd.CommandPath(), " ", "_")
	var md bytes.Buffer
	fmt.Fprintf(&md, "# %s\n\n", strings.ReplaceAll(base, "_", " "))
	if err := cobraDoc.GenMarkdownCustom(cmd, &md, func(name string) string { return name }); err != nil {
		return fmt.Errorf("generate markdown for %s: %w", cmd.CommandPath(), err)
	}
	docs[filepath.Join("reference", "cli", base+".md")] = md.Bytes()

	var man bytes.Buffer
	header := &cobraDoc.GenManHeader{
		Title:   strings.ToUpper(appName),
		Section: "1",
		Source:  appName,
	}
	if err := cobraDoc.GenMan(cmd, header, &man); err != nil {
		return fmt.Errorf("generate man page for %s: %w", cmd.CommandPath(), err)
	}
	manName := strings.ReplaceAll(cmd.CommandPath(), " ", "-") + ".1"
	docs[filepath.Join("reference", "man", manName)] = man.Bytes()
	return nil
}

func (d docSet) paths() []string {
	paths := make([]string, 0, len(d))
	for p := range d {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (d docSet) write(outDir string) error {
	for _, dir := range []string{filepath.Join("reference", "cli"), filepath.Join("reference", "man")} {
		if err := os.RemoveAll(filepath.Join(outDir, dir)); err != nil {
			return fmt.Errorf("clear %s: %w", dir, err)
		}
	}
	for _, rel := range d.paths() {
		path := filepath.Join(outDir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create parent dir for %s: %w", rel, err)
		}
		if err := os.WriteFile(path, d[rel], 0o644); err != nil {
			return fmt.Errorf("write %s: %w", rel, err)
		}
	}
	return nil
}

// check reports the first generated file that is missing, stale, or has no
// generated counterpart under the cli and man directories.
func (d docSet) check(outDir string) error {
	for _, rel := range d.paths() {
		current, err := os.ReadFile(filepath.Join(outDir, rel))
		if err != nil {
			return fmt.Errorf("docs out of date: missing %s", rel)
		}
		if !bytes.Equal(current, d[rel]) {
			return fmt.Errorf("docs out of date: %s changed; run `%s docs generate`", rel, appName)
		}
	}
	for _, dir := range []string{filepath.Join("reference", "cli"), filepath.Join("reference", "man")} {
		entries, err := os.ReadDir(filepath.Join(outDir, dir))
		if err != nil {
			return fmt.Errorf("docs out of date: missing %s", dir)
		}
		for _, e := range entries {
			rel := filepath.Join(dir, e.Name())
			if _, ok := d[rel]; !ok {
				return fmt.Errorf("docs out of date: stale file %s", rel)
			}
		}
	}
	return nil
}

type configFieldRow struct {
	Path    string
	Type    string
	Env     string
	Default string
}

// buildConfigReferenceMarkdown walks Config and DefaultConfig side by side,
// one row per leaf field.
func buildConfigReferenceMarkdown() string {
	var rows []configFieldRow
	collectConfigRows(reflect.ValueOf(config.DefaultConfig()).Elem(), "", &rows)
	sort.Slice(rows, func(i, j int) bool { return rows[i].Path < rows[j].Path })

	var b strings.Builder
	b.WriteString("# Config Reference\n\n")
	b.WriteString("Generated from `pkg/config/config.go` and `config.DefaultConfig()`.\n")
	b.WriteString("Environment variables override the JSON file; `.env` in the working directory is loaded first.\n\n")
	b.WriteString("| Key | Type | Env Var | Default |\n")
	b.WriteString("| --- | --- | --- | --- |\n")
	for _, row := range rows {
		fmt.Fprintf(&b, "| `%s` | `%s` | `%s` | `%s` |\n",
			escapePipes(row.Path), escapePipes(row.Type), escapePipes(valueOr(row.Env, "-")), escapePipes(valueOr(row.Default, "-")))
	}
	return b.String()
}

func collectConfigRows(v reflect.Value, prefix string, rows *[]configFieldRow) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		key := strings.Split(f.Tag.Get("json"), ",")[0]
		if key == "" || key == "-" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		if f.Type.Kind() == reflect.Struct {
			collectConfigRows(v.Field(i), key, rows)
			continue
		}
		*rows = append(*rows, configFieldRow{
			Path:    key,
			Type:    friendlyType(f.Type),
			Env:     f.Tag.Get("env"),
			Default: defaultString(v.Field(i)),
		})
	}
}

func defaultString(v reflect.Value) string {
	switch v.Kind() {
	case reflect.String:
		if v.String() == "" {
			return ""
		}
		return fmt.Sprintf("%q", v.String())
	case reflect.Slice, reflect.Map:
		if v.Len() == 0 {
			return ""
		}
		if v.Kind() == reflect.Map {
			keys := make([]string, 0, v.Len())
			for _, k := range v.MapKeys() {
				keys = append(keys, fmt.Sprintf("%s=%v", k, v.MapIndex(k)))
			}
			sort.Strings(keys)
			return strings.Join(keys, ",")
		}
		parts := make([]string, v.Len())
		for i := range parts {
			parts[i] = fmt.Sprint(v.Index(i))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(v.Interface())
	}
}

func friendlyType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "int"
	case reflect.Float32, reflect.Float64:
		return "float"
	case reflect.Slice:
		return "array<" + friendlyType(t.Elem()) + ">"
	case reflect.Map:
		return "map<" + friendlyType(t.Key()) + "," + friendlyType(t.Elem()) + ">"
	default:
		return t.Kind().String()
	}
}

func buildToolsReferenceMarkdown() string {
	registry := tools.NewToolRegistry()
	tools.RegisterBuiltins(registry, tools.BuiltinOptions{})

	var b strings.Builder
	b.WriteString("# Tool Reference\n\n")
	b.WriteString("Generated from runtime tool registration and tool descriptions.\n")
	b.WriteString("Tools are listed in the order the decider prompt presents them.\n\n")
	b.WriteString("| Tool | Description |\n")
	b.WriteString("| --- | --- |\n")
	for _, line := range registry.GetSummaries() {
		name, desc := parseToolSummary(line)
		if name == "" {
			continue
		}
		fmt.Fprintf(&b, "| `%s` | %s |\n", escapePipes(name), escapePipes(desc))
	}

	b.WriteString("\n## Notes\n\n")
	b.WriteString("- `memory.recall_results` caps short-term recall hits.\n")
	b.WriteString("- `memory.long_term_search_limit` caps long-term keyword matches.\n")
	b.WriteString("- `register_face` and `end_conversation` take effect after the reply is spoken.\n")
	return b.String()
}

func parseToolSummary(line string) (string, string) {
	name, desc, ok := strings.Cut(strings.TrimPrefix(strings.TrimSpace(line), "- "), ": ")
	if !ok {
		return "", ""
	}
	return strings.TrimSpace(name), strings.TrimSpace(desc)
}

func escapePipes(v string) string {
	return strings.ReplaceAll(v, "|", "\\|")
}
