package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create backend indices",
	Args:  cobra.NoArgs,
	RunE:  runSetup,
}

var teardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "Wipe the cache namespace",
	Long:  "Wipe the cache namespace. With --all, delete every object and collection in the backend too.",
	Args:  cobra.NoArgs,
	RunE:  runTeardown,
}

func init() {
	teardownCmd.Flags().Bool("all", false, "also delete all backend data")
	rootCmd.AddCommand(setupCmd, teardownCmd)
}

func runSetup(cmd *cobra.Command, args []string) (err error) {
	// openStore runs Setup.
	s, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	fmt.Fprintf(os.Stderr, "Namespace %s ready.\n", s.Namespace())
	return nil
}

func runTeardown(cmd *cobra.Command, args []string) (err error) {
	all, _ := cmd.Flags().GetBool("all")

	s, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := s.Teardown(cmd.Context(), all); err != nil {
		return fmt.Errorf("teardown failed: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Namespace %s torn down.\n", s.Namespace())
	return nil
}
