package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brianly1003/sw/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Show or change project configuration",
	Long: `With no arguments, prints the fully merged configuration (defaults,
global file, project file). With a key, prints that key's merged value.
With a key and a value, writes the key into the project's .sw.toml.
List values are comma-separated on write.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := buildRuntime(ctx, nil)
		if err != nil {
			return err
		}

		switch len(args) {
		case 0:
			flat := flattenSettings("", rt.cfg.Settings())
			keys := make([]string, 0, len(flat))
			for k := range flat {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("%s = %v\n", k, flat[k])
			}
			return nil

		case 1:
			flat := flattenSettings("", rt.cfg.Settings())
			value, ok := flat[args[0]]
			if !ok {
				return fmt.Errorf("unknown key %q (known keys: %s)",
					args[0], strings.Join(config.KnownKeys(), ", "))
			}
			fmt.Printf("%v\n", value)
			return nil

		default:
			if err := rt.orch.SetConfig(args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("Set %s = %s in %s\n",
				args[0], args[1], config.ProjectConfigName)
			return nil
		}
	},
}

// flattenSettings turns viper's nested settings tree into dotted keys.
func flattenSettings(prefix string, tree map[string]interface{}) map[string]interface{} {
	flat := make(map[string]interface{})
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]interface{}); ok {
			for nk, nv := range flattenSettings(key, nested) {
				flat[nk] = nv
			}
			continue
		}
		flat[key] = v
	}
	return flat
}
