package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/banshee-data/csistudio/internal/api"
	"github.com/banshee-data/csistudio/internal/config"
	"github.com/banshee-data/csistudio/internal/csi/filter"
)

var filtersFlags struct {
	dir    string
	asJSON bool
}

var filtersCmd = &cobra.Command{
	Use:   "filters",
	Short: "List the filter plugins and their parameters",
	Long: `Load every plugin in the filter directory plus the builtin filters,
apply their defaults and configured presets, and print them in execution
order. Plugins that fail to load are listed with their error.`,
	Args: cobra.NoArgs,
	RunE: runFilters,
}

func init() {
	fs := filtersCmd.Flags()
	fs.StringVar(&filtersFlags.dir, "filters", config.DefaultFilterDir, "filter plugin directory")
	fs.BoolVar(&filtersFlags.asJSON, "json", false, "print JSON instead of a table")
	filtersCmd.Long += "\n\nBuiltin filters: " + builtinFilterNames()
	rootCmd.AddCommand(filtersCmd)
}

func runFilters(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("filters") {
		cfg.FilterDir = &filtersFlags.dir
	}
	p := loadPipeline(cfg.GetFilterDir(), cfg.Filters, nil)
	defer p.Close()
	return printFilters(cmd.OutOrStdout(), api.DescribeFilters(p), filtersFlags.asJSON)
}

func printFilters(w io.Writer, infos []api.FilterInfo, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tNAME\tACTIVE\tPRIORITY\tPARAMETERS")
	for _, f := range infos {
		if !f.Prepared {
			fmt.Fprintf(tw, "%s\t%s\t-\t-\t%s\n", f.File, strings.TrimSpace(f.Name), f.Error)
			continue
		}
		params := make([]string, 0, len(f.Params))
		for _, p := range f.Params {
			params = append(params, fmt.Sprintf("%s=%v", p.ID, p.Value))
		}
		fmt.Fprintf(tw, "%s\t%s\t%v\t%d\t%s\n", f.File, f.Name, f.Active, f.Priority, strings.Join(params, " "))
	}
	return tw.Flush()
}

func builtinFilterNames() string {
	names := filter.BuiltinNames()
	for i, n := range names {
		names[i] = filter.BuiltinPrefix + n
	}
	return strings.Join(names, ", ")
}
