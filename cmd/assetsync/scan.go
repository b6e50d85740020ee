package main

import (
	"encoding/json"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dshills/assetsync/internal/logging"
	"github.com/dshills/assetsync/internal/project/fstree"
	"github.com/dshills/assetsync/internal/project/scanner"
	"github.com/dshills/assetsync/internal/project/vfs"
	"github.com/dshills/assetsync/internal/resource/declaration"
)

var scanCmd = &cobra.Command{
	Use:   "scan <dir>",
	Short: "Print the file tree of a directory as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	root, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	fs := vfs.NewOSFS()
	s := scanner.New(
		scanner.WithVFS(fs),
		scanner.WithExtractor(declaration.MetaKey, declaration.Extractor(fs)),
		scanner.WithLogger(logging.Named("scanner")))

	paths, err := s.Scan(cmd.Context(), root, nil)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(fstree.NewTree(root, paths))
}
