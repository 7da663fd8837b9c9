package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"dexmirror/internal/address"
)

func runDerive(cmd *cobra.Command, _ []string) error {
	programFlag, _ := cmd.Flags().GetString("program")
	seedFlags, _ := cmd.Flags().GetStringArray("seed")

	program, err := address.Parse(programFlag)
	if err != nil {
		return fmt.Errorf("program: %w", err)
	}
	seeds, err := parseSeeds(seedFlags)
	if err != nil {
		return err
	}

	addr, bump, err := address.FindProgramAddress(seeds, program)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %d\n", addr, bump)
	return err
}

// parseSeeds reads each seed as utf8, as hex when prefixed with "hex:", or as
// the 32 address bytes when prefixed with "addr:".
func parseSeeds(inputs []string) ([][]byte, error) {
	seeds := make([][]byte, 0, len(inputs))
	for _, input := range inputs {
		if raw, ok := strings.CutPrefix(input, "hex:"); ok {
			b, err := hex.DecodeString(raw)
			if err != nil {
				return nil, fmt.Errorf("seed %q: %w", input, err)
			}
			seeds = append(seeds, b)
			continue
		}
		if raw, ok := strings.CutPrefix(input, "addr:"); ok {
			a, err := address.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("seed %q: %w", input, err)
			}
			seeds = append(seeds, a.Bytes())
			continue
		}
		seeds = append(seeds, []byte(input))
	}
	return seeds, nil
}
