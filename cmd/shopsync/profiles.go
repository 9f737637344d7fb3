package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shopsync/shopsync/internal/profile"
	"github.com/shopsync/shopsync/internal/ui"
)

var (
	copyProfileList  bool
	copyProfileForce bool
	copyProfilePath  string
)

var copyProfileCmd = &cobra.Command{
	Use:   "copy-profile [name...]",
	Short: "Copy bundled sync profiles into the working directory",
	Long: `Copy one or more bundled profiles as a starting point for editing.

Names are given without the .yaml suffix; --list shows what ships with
the binary. Existing files are left alone unless --force is set.`,
	Run: func(cmd *cobra.Command, args []string) {
		names, err := profile.DefaultProfiles()
		if err != nil {
			fail(1, "%v", err)
		}

		if copyProfileList {
			for _, name := range names {
				fmt.Println(strings.TrimSuffix(name, ".yaml"))
			}
			return
		}
		if len(args) == 0 {
			fail(1, "no profile names given, try --list")
		}

		if copyProfilePath != "" {
			if err := os.MkdirAll(copyProfilePath, 0o755); err != nil {
				fail(2, "creating %s: %v", copyProfilePath, err)
			}
		}

		for _, arg := range args {
			name := strings.TrimSuffix(arg, ".yaml") + ".yaml"
			raw, err := profile.DefaultProfile(name)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					fail(1, "no bundled profile %q, try --list", arg)
				}
				fail(1, "%v", err)
			}

			dest := filepath.Join(copyProfilePath, name)
			if !copyProfileForce {
				if _, err := os.Stat(dest); err == nil {
					fail(1, "%s already exists, use --force to overwrite", dest)
				}
			}
			if err := os.WriteFile(dest, raw, 0o644); err != nil {
				fail(2, "writing %s: %v", dest, err)
			}
			fmt.Printf("%s Copied %s\n", ui.RenderPass("✓"), dest)
		}
	},
}

func init() {
	copyProfileCmd.Flags().BoolVar(&copyProfileList, "list", false, "List bundled profile names")
	copyProfileCmd.Flags().BoolVar(&copyProfileForce, "force", false, "Overwrite existing files")
	copyProfileCmd.Flags().StringVar(&copyProfilePath, "path", "", "Destination directory (default current directory)")
	rootCmd.AddCommand(copyProfileCmd)
}
