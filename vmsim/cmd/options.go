package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// An option is taken from the flag when given, then from the environment,
// then from the default.

func stringOption(cmd *cobra.Command, flag, env, def string) string {
	if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
		return f.Value.String()
	}

	if v, ok := os.LookupEnv(env); ok {
		return v
	}

	return def
}

func intOption(cmd *cobra.Command, flag, env string, def int) (int, error) {
	s := stringOption(cmd, flag, env, strconv.Itoa(def))

	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("option %s: %w", flag, err)
	}

	if n < 0 {
		return 0, fmt.Errorf("option %s must not be negative", flag)
	}

	return n, nil
}

func boolOption(cmd *cobra.Command, flag, env string, def bool) (bool, error) {
	s := stringOption(cmd, flag, env, strconv.FormatBool(def))

	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("option %s: %w", flag, err)
	}

	return b, nil
}
