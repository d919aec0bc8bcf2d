package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abramin/kernelscan/internal/backend"
)

var (
	backendsToolkit string
	backendsGencode string
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "Show the code generation backends and their settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		selected, err := backend.ParseKind(GetConfig().Backend)
		if err != nil {
			return err
		}
		for _, k := range backend.Kinds() {
			p := k.Profile()
			marker := " "
			if k == selected {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, k)
			fmt.Printf("    device qualifier: %q\n", p.DeviceFunctionQualifier)
			fmt.Printf("    global qualifier: %q\n", p.GlobalAddressSpaceQualifier)
			fmt.Printf("    header template:  %s\n", p.HeaderPath)
			fmt.Printf("    kernel template:  %s\n", p.KernelPath)

			argv, err := k.CompileCommand(backend.CompileOptions{
				ToolkitDir: backendsToolkit,
				Gencode:    backendsGencode,
				Source:     "generated.cu",
				Output:     "code_file.ptx",
			})
			switch {
			case errors.Is(err, backend.ErrNoOfflineCompiler):
				fmt.Printf("    compiler:         none (built by the driver at load time)\n")
			case err != nil:
				return err
			default:
				fmt.Printf("    compiler:         %s\n", strings.Join(argv, " "))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(backendsCmd)
	backendsCmd.Flags().StringVar(&backendsToolkit, "toolkit-dir", "", "directory holding nvcc")
	backendsCmd.Flags().StringVar(&backendsGencode, "gencode", "", "extra -gencode flags")
}
